// Package gateway is a thin REST client over the chain's HTTP gateway: a
// struct holding a base URL and an *http.Client, one method per logical
// call, everything wrapped in the gateway's "data" envelope.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/nhbchain/shardfollower/internal/types"
	"github.com/nhbchain/shardfollower/observability/metrics"
)

// DefaultBaseURL matches the public mainnet gateway the core was written
// against.
const DefaultBaseURL = "https://gateway.elrond.com"

// API is the surface the shard cursor loop and orchestrator depend on,
// letting tests substitute a fake in place of the real HTTP client.
type API interface {
	GetShardIDs(ctx context.Context) ([]uint32, error)
	GetTipNonce(ctx context.Context, shardID uint32) (uint64, error)
	GetBlockByNonce(ctx context.Context, shardID uint32, nonce uint64) (*types.Block, bool, error)
}

// Client fetches block-by-nonce, network config, and shard status from the
// gateway HTTP API and normalizes responses into domain records.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client. Timeouts,
// transport, and cancellation policy are the transport layer's concern,
// not the gateway client's.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithRateLimit bounds outbound requests per second. This matters most
// during a bounded look-behind replay, where the shard loop can otherwise
// issue a burst of by-nonce requests in quick succession.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(cl *Client) {
		if requestsPerSecond > 0 {
			cl.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
		}
	}
}

var _ API = (*Client)(nil)

// New constructs a gateway client against baseURL (falls back to
// DefaultBaseURL when empty).
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type networkConfigEnvelope struct {
	Data struct {
		Config struct {
			NumShardsWithoutMeta uint32 `json:"erd_num_shards_without_meta"`
		} `json:"config"`
	} `json:"data"`
}

// GetShardIDs reads network/config and returns [0, 1, ..., N-1, metachain].
func (c *Client) GetShardIDs(ctx context.Context) ([]uint32, error) {
	var env networkConfigEnvelope
	if err := c.getJSON(ctx, "network/config", &env); err != nil {
		metrics.Registry().RecordGatewayError("network/config")
		return nil, fmt.Errorf("gateway: get shard ids: %w", err)
	}
	n := env.Data.Config.NumShardsWithoutMeta
	ids := make([]uint32, 0, n+1)
	for i := uint32(0); i < n; i++ {
		ids = append(ids, i)
	}
	ids = append(ids, types.MetachainShardID)
	return ids, nil
}

type networkStatusEnvelope struct {
	Data struct {
		Status struct {
			Nonce uint64 `json:"erd_nonce"`
		} `json:"status"`
	} `json:"data"`
}

// GetTipNonce reads network/status/{shardId} and returns the live tip.
func (c *Client) GetTipNonce(ctx context.Context, shardID uint32) (uint64, error) {
	path := fmt.Sprintf("network/status/%s", shardPathSegment(shardID))
	var env networkStatusEnvelope
	if err := c.getJSON(ctx, path, &env); err != nil {
		metrics.Registry().RecordGatewayError("network/status")
		return 0, fmt.Errorf("gateway: get tip nonce: %w", err)
	}
	return env.Data.Status.Nonce, nil
}

type blockByNonceEnvelope struct {
	Data struct {
		Block *struct {
			Hash       string `json:"hash"`
			MiniBlocks []struct {
				Transactions []gatewayTransaction `json:"transactions"`
			} `json:"miniBlocks"`
		} `json:"block"`
	} `json:"data"`
}

type gatewayTransaction struct {
	Hash                    string `json:"hash"`
	Nonce                   uint64 `json:"nonce"`
	Sender                  string `json:"sender"`
	Receiver                string `json:"receiver"`
	Value                   string `json:"value"`
	Data                    string `json:"data"`
	Status                  string `json:"status"`
	SourceShard             uint32 `json:"sourceShard"`
	DestinationShard        uint32 `json:"destinationShard"`
	OriginalTransactionHash string `json:"originalTransactionHash"`
	GasPrice                string `json:"gasPrice"`
	GasLimit                uint64 `json:"gasLimit"`
}

// GetBlockByNonce reads block/{shardId}/by-nonce/{nonce}?withTxs=true.
//
// Any transport or decode failure, and the absence of a block object in
// the response, both surface as (nil, false, nil): "not yet available",
// never an error. This is deliberate: the gateway is eventually consistent
// near the tip, and transient failures at tip+k are the normal case,
// automatically retried by the caller on its next sweep.
//
// The metachain id is queried through the same by-nonce path as the
// execution shards; no special-casing is applied to it.
func (c *Client) GetBlockByNonce(ctx context.Context, shardID uint32, nonce uint64) (*types.Block, bool, error) {
	path := fmt.Sprintf("block/%s/by-nonce/%d?withTxs=true", shardPathSegment(shardID), nonce)
	var env blockByNonceEnvelope
	if err := c.getJSON(ctx, path, &env); err != nil {
		metrics.Registry().RecordGatewayError("block/by-nonce")
		return nil, false, nil
	}
	if env.Data.Block == nil {
		return nil, false, nil
	}
	block := &types.Block{Hash: env.Data.Block.Hash}
	for _, mb := range env.Data.Block.MiniBlocks {
		for _, gtx := range mb.Transactions {
			block.Transactions = append(block.Transactions, types.ShardTransaction{
				Hash:                    gtx.Hash,
				Sender:                  gtx.Sender,
				Receiver:                gtx.Receiver,
				Value:                   gtx.Value,
				Nonce:                   gtx.Nonce,
				SourceShard:             gtx.SourceShard,
				DestinationShard:        gtx.DestinationShard,
				Status:                  gtx.Status,
				Data:                    gtx.Data,
				OriginalTransactionHash: gtx.OriginalTransactionHash,
				GasPrice:                gtx.GasPrice,
				GasLimit:                gtx.GasLimit,
			})
		}
	}
	return block, true, nil
}

func shardPathSegment(shardID uint32) string {
	return strconv.FormatUint(uint64(shardID), 10)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	url := c.baseURL + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("gateway %s: status=%d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
