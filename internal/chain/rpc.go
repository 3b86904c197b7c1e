package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcjson"

	"github.com/bardlex/snapminer/internal/pow"
	"github.com/bardlex/snapminer/pkg/circuit"
	"github.com/bardlex/snapminer/pkg/errors"
	"github.com/bardlex/snapminer/pkg/retry"
)

// maxReplySize bounds how much of a reply body is read.
const maxReplySize = 32 << 20

// RPCClient talks to the node's JSON-RPC interface over HTTP POST. Every call
// is a single request bound to its context. Reads go through a circuit
// breaker and retry; block submission goes straight to the node, once.
type RPCClient struct {
	url            string
	user           string
	password       string
	httpClient     *http.Client
	nextID         atomic.Uint64
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// RPCConfig locates the node. Basic auth is sent only when User or Password
// is set.
type RPCConfig struct {
	Addr     string
	User     string
	Password string
	// OnBreakerChange is told about every circuit state transition.
	OnBreakerChange func(name string, from, to circuit.State)
}

// NewRPCClient creates the client. No connection is made until the first call.
func NewRPCClient(cfg RPCConfig) (*RPCClient, error) {
	if cfg.Addr == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "rpc_client_creation", "node address is empty")
	}

	cbConfig := circuit.DefaultConfig()
	cbConfig.IsFailure = func(err error) bool { return !IsNodeRejection(err) }
	cbConfig.OnStateChange = cfg.OnBreakerChange

	return &RPCClient{
		url:      "http://" + cfg.Addr,
		user:     cfg.User,
		password: cfg.Password,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.NodeConfig(),
	}, nil
}

// Close drops idle connections to the node.
func (c *RPCClient) Close() {
	c.httpClient.CloseIdleConnections()
}

// IsNodeRejection reports whether err is an error reply from the node, as
// opposed to a failure to reach it.
func IsNodeRejection(err error) bool {
	var rpcErr *btcjson.RPCError
	return stderrors.As(err, &rpcErr)
}

// call sends exactly one request and waits for the reply or ctx, whichever
// comes first. Nothing is resent on failure.
func (c *RPCClient) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	req, err := btcjson.NewRequest(btcjson.RpcVersion1, id, method, params)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, method, "failed to encode params")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, method, "failed to encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, method, "failed to build request").
			WithContext("url", c.url)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.user != "" || c.password != "" {
		httpReq.SetBasicAuth(c.user, c.password)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, method, "node request did not complete")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, method, "node request failed")
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxReplySize))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, method, "failed to read node reply")
	}

	var resp btcjson.Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		if httpResp.StatusCode != http.StatusOK {
			return nil, errors.New(errors.ErrorTypeNetwork, method,
				fmt.Sprintf("node replied %s", httpResp.Status))
		}
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, method, "failed to decode node reply")
	}
	if resp.Error != nil {
		se := errors.Wrap(resp.Error, errors.ErrorTypeNode, method, "node returned an error")
		se.Retryable = false
		return nil, se
	}
	return resp.Result, nil
}

// guarded runs a read call under the breaker with retry, decoding into T.
func guarded[T any](ctx context.Context, c *RPCClient, method string, params ...any) (T, error) {
	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (T, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (T, error) {
			var out T
			raw, err := c.call(ctx, method, params...)
			if err != nil {
				return out, err
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return out, errors.Wrap(err, errors.ErrorTypeValidation, method, "failed to decode result")
			}
			return out, nil
		})
	})
}

// GetMempool returns the node's pending transactions.
func (c *RPCClient) GetMempool(ctx context.Context) ([]MempoolTx, error) {
	return guarded[[]MempoolTx](ctx, c, MethodGetMempool)
}

// GetChainTip returns the current tip.
func (c *RPCClient) GetChainTip(ctx context.Context) (*ChainTip, error) {
	tip, err := guarded[ChainTip](ctx, c, MethodGetChainTip)
	if err != nil {
		return nil, err
	}
	return &tip, nil
}

// FetchPendingWork combines the tip and the mempool into the next block's inputs.
func (c *RPCClient) FetchPendingWork(ctx context.Context) (PendingSet, error) {
	tip, err := c.GetChainTip(ctx)
	if err != nil {
		return PendingSet{}, err
	}
	mempool, err := c.GetMempool(ctx)
	if err != nil {
		return PendingSet{}, err
	}
	return tip.toPending(mempool)
}

// FetchRawDifficulty returns the node's current base target.
func (c *RPCClient) FetchRawDifficulty(ctx context.Context) (pow.RawDifficulty, error) {
	s, err := guarded[string](ctx, c, MethodGetBlockDifficulty)
	if err != nil {
		return pow.RawDifficulty{}, err
	}
	return pow.ParseRawDifficulty(s)
}

// SubmitBlock hands a solved block to the node. The returned error is a
// transport failure only; a node that refuses the block yields
// SubmitResult{Accepted: false}.
func (c *RPCClient) SubmitBlock(ctx context.Context, block *CandidateBlock) (SubmitResult, error) {
	data, err := block.Bytes()
	if err != nil {
		return SubmitResult{}, err
	}

	start := time.Now()
	raw, err := c.call(ctx, MethodSubmitBlock, hex.EncodeToString(data))
	if err != nil {
		if IsNodeRejection(err) {
			return SubmitResult{Accepted: false, Reason: rejectionReason(err)}, nil
		}
		return SubmitResult{}, errors.Wrap(err, errors.ErrorTypeNetwork, "submit_block", "block submission failed").
			WithContext("height", block.Height).
			WithContext("elapsed_ms", time.Since(start).Milliseconds())
	}

	var result SubmitResult
	if len(raw) == 0 || string(raw) == "null" {
		// a bare null reply means the block was taken
		return SubmitResult{Accepted: true}, nil
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return SubmitResult{}, errors.Wrap(err, errors.ErrorTypeValidation, "submit_block", "failed to decode result")
	}
	return result, nil
}

func rejectionReason(err error) string {
	var rpcErr *btcjson.RPCError
	if stderrors.As(err, &rpcErr) {
		return rpcErr.Message
	}
	return err.Error()
}

// Ping checks that the node answers.
func (c *RPCClient) Ping(ctx context.Context) error {
	return c.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			_, err := c.call(ctx, MethodPing)
			return err
		})
	})
}

// BreakerStats exposes the read-path circuit breaker.
func (c *RPCClient) BreakerStats() circuit.Stats {
	return c.circuitBreaker.GetStats()
}
