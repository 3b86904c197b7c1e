package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/snapminer/internal/config"
	"github.com/bardlex/snapminer/pkg/errors"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcReply struct {
	result any
	code   int // non-zero sends a JSON-RPC error
	msg    string
}

// fakeNode is a minimal JSON-RPC node. Handlers are keyed by method.
type fakeNode struct {
	mu       sync.Mutex
	replies  map[string]rpcReply
	calls    map[string]int
	lastArgs map[string][]json.RawMessage
	block    chan struct{}
	server   *httptest.Server
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	n := &fakeNode{
		replies:  make(map[string]rpcReply),
		calls:    make(map[string]int),
		lastArgs: make(map[string][]json.RawMessage),
	}
	n.server = httptest.NewServer(http.HandlerFunc(n.handle))
	t.Cleanup(n.server.Close)
	return n
}

func (n *fakeNode) set(method string, reply rpcReply) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.replies[method] = reply
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) handle(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	n.lastArgs[req.Method] = req.Params
	reply, ok := n.replies[req.Method]
	block := n.block
	n.mu.Unlock()

	if block != nil {
		<-block
	}

	resp := map[string]any{"id": req.ID, "result": reply.result, "error": nil}
	if !ok {
		resp["result"] = nil
		resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
	} else if reply.code != 0 {
		resp["result"] = nil
		resp["error"] = map[string]any{"code": reply.code, "message": reply.msg}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, n *fakeNode) *RPCClient {
	t.Helper()
	client, err := NewRPCClient(RPCConfig{Addr: strings.TrimPrefix(n.server.URL, "http://")})
	if err != nil {
		t.Fatalf("NewRPCClient: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestNewRPCClient(t *testing.T) {
	client, err := NewRPCClient(RPCConfig{Addr: "127.0.0.1:3003", User: "u", Password: "p"})
	if err != nil {
		t.Fatalf("NewRPCClient() unexpected error: %v", err)
	}
	client.Close()
}

func TestNewRPCClient_EmptyAddr(t *testing.T) {
	if _, err := NewRPCClient(RPCConfig{}); !errors.IsType(err, errors.ErrorTypeConfig) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestRPCClient_DefaultConfigReachesNode(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	var (
		mu      sync.Mutex
		sawAuth bool
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, ok := r.BasicAuth()
		mu.Lock()
		sawAuth = ok
		mu.Unlock()
		_, _ = w.Write([]byte(`{"result":"pong","error":null,"id":1}`))
	}))
	defer server.Close()

	client, err := NewRPCClient(RPCConfig{
		Addr:     strings.TrimPrefix(server.URL, "http://"),
		User:     cfg.NodeRPCUser,
		Password: cfg.NodeRPCPassword,
	})
	if err != nil {
		t.Fatalf("NewRPCClient: %v", err)
	}
	defer client.Close()

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping with default credentials: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if sawAuth {
		t.Error("basic auth sent although no credentials are configured")
	}
}

func TestRPCClient_SendsBasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "miner" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"result":"pong","error":null,"id":1}`))
	}))
	defer server.Close()

	addr := strings.TrimPrefix(server.URL, "http://")
	good, _ := NewRPCClient(RPCConfig{Addr: addr, User: "miner", Password: "secret"})
	defer good.Close()
	if err := good.Ping(context.Background()); err != nil {
		t.Errorf("Ping with credentials: %v", err)
	}

	bad, _ := NewRPCClient(RPCConfig{Addr: addr})
	defer bad.Close()
	bad.retryConfig.MaxAttempts = 1
	err := bad.Ping(context.Background())
	if err == nil || IsNodeRejection(err) {
		t.Errorf("unauthorized reply: err = %v, want transport error", err)
	}
}

func TestFetchPendingWork(t *testing.T) {
	node := newFakeNode(t)
	tipHash := chainhash.DoubleHashH([]byte("tip"))
	node.set(MethodGetChainTip, rpcReply{result: ChainTip{Height: 41, Hash: tipHash.String(), Reward: 50}})
	node.set(MethodGetMempool, rpcReply{result: []MempoolTx{
		{Hex: hex.EncodeToString([]byte("tx-a")), Fee: 1},
		{TxID: chainhash.DoubleHashH([]byte("x")).String(), Hex: "beef", Fee: 2},
	}})
	client := newTestClient(t, node)

	pending, err := client.FetchPendingWork(context.Background())
	if err != nil {
		t.Fatalf("FetchPendingWork: %v", err)
	}

	if pending.Height != 42 {
		t.Errorf("Height = %d, want 42", pending.Height)
	}
	if pending.PrevHash != tipHash {
		t.Errorf("PrevHash = %s, want %s", pending.PrevHash, tipHash)
	}
	if len(pending.Transactions) != 2 {
		t.Fatalf("got %d transactions", len(pending.Transactions))
	}
	if pending.Transactions[0].ID != chainhash.DoubleHashH([]byte("tx-a")) {
		t.Error("missing txid should be derived from the raw bytes")
	}
	if pending.Transactions[1].ID != chainhash.DoubleHashH([]byte("x")) {
		t.Error("explicit txid should be kept")
	}
}

func TestFetchPendingWork_BadMempool(t *testing.T) {
	node := newFakeNode(t)
	node.set(MethodGetChainTip, rpcReply{result: ChainTip{Height: 1}})
	node.set(MethodGetMempool, rpcReply{result: []MempoolTx{{Hex: "not-hex"}}})
	client := newTestClient(t, node)

	if _, err := client.FetchPendingWork(context.Background()); !errors.IsType(err, errors.ErrorTypeValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestFetchRawDifficulty(t *testing.T) {
	node := newFakeNode(t)
	node.set(MethodGetBlockDifficulty, rpcReply{result: "00000fff"})
	client := newTestClient(t, node)

	raw, err := client.FetchRawDifficulty(context.Background())
	if err != nil {
		t.Fatalf("FetchRawDifficulty: %v", err)
	}
	if raw[31] != 0xff || raw[30] != 0x0f || raw[0] != 0 {
		t.Errorf("unexpected difficulty %s", raw)
	}
}

func TestNodeErrorIsNotRetried(t *testing.T) {
	node := newFakeNode(t)
	node.set(MethodGetBlockDifficulty, rpcReply{code: -5, msg: "no blocks yet"})
	client := newTestClient(t, node)

	_, err := client.FetchRawDifficulty(context.Background())
	if !errors.IsType(err, errors.ErrorTypeNode) {
		t.Fatalf("expected node error, got %v", err)
	}
	if !IsNodeRejection(err) {
		t.Error("expected the RPC error to be reachable")
	}
	if got := node.count(MethodGetBlockDifficulty); got != 1 {
		t.Errorf("node error retried: %d calls", got)
	}
}

func TestSubmitBlock(t *testing.T) {
	block := testBlock(t)
	want, _ := block.Bytes()

	tests := []struct {
		name  string
		reply rpcReply
		want  SubmitResult
	}{
		{"accepted", rpcReply{result: SubmitResult{Accepted: true}}, SubmitResult{Accepted: true}},
		{"null is accepted", rpcReply{result: nil}, SubmitResult{Accepted: true}},
		{"rejected in result", rpcReply{result: SubmitResult{Reason: "stale"}}, SubmitResult{Reason: "stale"}},
		{"rejected as rpc error", rpcReply{code: -25, msg: "chain advanced"}, SubmitResult{Reason: "chain advanced"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := newFakeNode(t)
			node.set(MethodSubmitBlock, tt.reply)
			client := newTestClient(t, node)

			got, err := client.SubmitBlock(context.Background(), block)
			if err != nil {
				t.Fatalf("SubmitBlock: %v", err)
			}
			if got != tt.want {
				t.Errorf("SubmitBlock() = %+v, want %+v", got, tt.want)
			}

			node.mu.Lock()
			args := node.lastArgs[MethodSubmitBlock]
			node.mu.Unlock()
			var sent string
			if len(args) != 1 || json.Unmarshal(args[0], &sent) != nil || sent != hex.EncodeToString(want) {
				t.Error("submitted payload is not the serialized block")
			}
		})
	}
}

func TestSubmitBlock_TimeoutIsTransportError(t *testing.T) {
	node := newFakeNode(t)
	node.set(MethodSubmitBlock, rpcReply{result: SubmitResult{Accepted: true}})
	release := make(chan struct{})
	node.block = release
	client := newTestClient(t, node)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.SubmitBlock(ctx, testBlock(t))
	if err == nil {
		t.Fatal("expected transport error")
	}
	if IsNodeRejection(err) {
		t.Error("timeout must not look like a rejection")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("submit did not honour the context deadline")
	}
}

func TestSubmitBlock_Malformed(t *testing.T) {
	node := newFakeNode(t)
	client := newTestClient(t, node)

	block := testBlock(t)
	block.Height = -1
	if _, err := client.SubmitBlock(context.Background(), block); err == nil {
		t.Error("expected error for malformed block")
	}
	if node.count(MethodSubmitBlock) != 0 {
		t.Error("malformed block reached the node")
	}
}

func TestPing(t *testing.T) {
	node := newFakeNode(t)
	node.set(MethodPing, rpcReply{result: "pong"})
	client := newTestClient(t, node)

	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestSubmitBlock_SentOnceWhenConnectionDrops(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Method == MethodSubmitBlock {
			mu.Lock()
			calls++
			mu.Unlock()
		}
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	defer server.Close()

	client, err := NewRPCClient(RPCConfig{Addr: strings.TrimPrefix(server.URL, "http://")})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := client.SubmitBlock(ctx, testBlock(t)); err == nil {
		t.Fatal("expected transport error")
	} else if IsNodeRejection(err) {
		t.Errorf("dropped connection reported as rejection: %v", err)
	}

	// nothing may be resent after the call has returned
	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("node saw %d submissions, want 1", calls)
	}
}
