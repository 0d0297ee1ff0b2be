// Package types holds the domain records shared by every follower
// component: the gateway client's decoded responses, the shape handed to
// the consumer callback, and the reconciler's bookkeeping entry.
package types

import (
	"encoding/base64"
	"math"
	"strings"
	"sync"
	"time"
)

// MetachainShardID is the sentinel shard id for the metachain, an
// all-ones 32-bit value.
const MetachainShardID uint32 = math.MaxUint32

// OKAcknowledgement is the base64 plaintext of the "@ok" success marker
// SCRs carry; it never alters the reconciler counter.
const OKAcknowledgement = "@6f6b"

// ShardTransaction is a transaction record as surfaced by the gateway,
// along with the fields the core derives from it lazily.
type ShardTransaction struct {
	Hash                    string
	Sender                  string
	Receiver                string
	Value                   string
	Nonce                   uint64
	SourceShard             uint32
	DestinationShard        uint32
	Status                  string
	Data                    string // base64-encoded, optional
	OriginalTransactionHash string
	GasPrice                string
	GasLimit                uint64
	PreviousTransactionHash string

	derived onceDerived
}

type onceDerived struct {
	once     sync.Once
	text     string
	function string
	args     []string
	decodeOK bool
}

// DecodedData returns the base64-decoded payload as text, and whether the
// transaction carries any data at all. Decode failures are treated as "no
// data" rather than propagated, matching the core's tolerance for
// malformed gateway records.
func (tx *ShardTransaction) DecodedData() (string, bool) {
	tx.deriveOnce()
	return tx.derived.text, tx.derived.decodeOK
}

// FunctionName returns the substring of the decoded data before the first
// '@', i.e. the smart-contract function identifier. Returns "" if the
// transaction carries no data.
func (tx *ShardTransaction) FunctionName() string {
	tx.deriveOnce()
	return tx.derived.function
}

// Arguments returns the '@'-separated segments following the function
// name. Returns nil if the transaction carries no data.
func (tx *ShardTransaction) Arguments() []string {
	tx.deriveOnce()
	return tx.derived.args
}

// IsOKAcknowledgement reports whether this transaction's data decodes to
// exactly the "@ok" success marker.
func (tx *ShardTransaction) IsOKAcknowledgement() bool {
	text, ok := tx.DecodedData()
	return ok && text == OKAcknowledgement
}

func (tx *ShardTransaction) deriveOnce() {
	tx.derived.once.Do(func() {
		if strings.TrimSpace(tx.Data) == "" {
			return
		}
		raw, err := base64.StdEncoding.DecodeString(tx.Data)
		if err != nil {
			return
		}
		text := string(raw)
		tx.derived.text = text
		tx.derived.decodeOK = true
		parts := strings.Split(text, "@")
		tx.derived.function = parts[0]
		if len(parts) > 1 {
			tx.derived.args = parts[1:]
		}
	})
}

// Block is the gateway's per-shard, per-nonce unit of delivery: a block
// hash and the transactions flattened out of its mini-blocks, in gateway
// order.
type Block struct {
	Hash         string
	Transactions []ShardTransaction
}

// CrossShardEntry is the reconciler's bookkeeping record for one logical
// transaction in flight across shards. Seed is captured by value at
// creation and never replaced by a later SCR referencing the same hash.
type CrossShardEntry struct {
	Seed    ShardTransaction
	Counter int64
	Created time.Time
}

// Statistics is the progress record computed once per delivered or
// empty-but-notified block.
type Statistics struct {
	SecondsElapsed  float64
	ProcessedNonces uint64
	NoncesPerSecond float64
	NoncesLeft      uint64
	SecondsLeft     float64
}
