// Package solanatest provides an in-process fake of the Solana JSON-RPC API
// for tests. Transactions are verified and executed against an in-memory
// account set, with the system, compute budget and registered programs.
package solanatest

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/counter-client/pkg/solana"
	compute_budget "github.com/code-payments/counter-client/pkg/solana/computebudget"
)

// NativeLoaderKey owns the builtin programs.
var NativeLoaderKey = mustDecode("NativeLoader1111111111111111111111111111111")

// LoaderKey owns programs deployed with Deploy.
var LoaderKey = mustDecode("BPFLoaderUpgradeab1e11111111111111111111111")

type landedTransaction struct {
	slot uint64
	raw  []byte
	exec *execution

	// Number of status queries observed, which drives the commitment
	// progression processed → confirmed → finalized.
	polls int
}

// Option configures a Chain.
type Option func(*Chain)

// WithNeverConfirm keeps every landed transaction at processed commitment.
func WithNeverConfirm() Option {
	return func(c *Chain) {
		c.neverConfirm = true
	}
}

// WithoutTransactionHistory makes getTransaction report every signature as
// unknown.
func WithoutTransactionHistory() Option {
	return func(c *Chain) {
		c.noHistory = true
	}
}

// WithStall delays every request for method by d before serving it, as an
// overloaded node would. Stalled requests are abandoned when the client gives
// up or the chain is closed.
func WithStall(method string, d time.Duration) Option {
	return func(c *Chain) {
		c.stalls[method] = d
	}
}

// Chain is a fake validator serving JSON-RPC over HTTP.
type Chain struct {
	log    *logrus.Entry
	server *httptest.Server

	// Read-only once New returns.
	stalls map[string]time.Duration

	closeOnce sync.Once
	closed    chan struct{}

	mu           sync.Mutex
	slot         uint64
	blockhash    solana.Blockhash
	blockhashes  map[solana.Blockhash]struct{}
	accounts     map[string]*Account
	programs     map[string]builtin
	transactions map[string]*landedTransaction
	calls        map[string]int
	neverConfirm bool
	noHistory    bool
}

// New starts a Chain. Callers must Close it.
func New(opts ...Option) *Chain {
	c := &Chain{
		log:          logrus.StandardLogger().WithField("type", "solana/solanatest"),
		slot:         1,
		blockhashes:  make(map[solana.Blockhash]struct{}),
		accounts:     make(map[string]*Account),
		programs:     make(map[string]builtin),
		transactions: make(map[string]*landedTransaction),
		calls:        make(map[string]int),
		stalls:       make(map[string]time.Duration),
		closed:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	c.advance()
	c.register(systemProgramKey(), builtin{run: systemProgram, native: true}, NativeLoaderKey)
	c.register(compute_budget.ProgramKey, builtin{run: computeBudgetProgram, native: true}, NativeLoaderKey)

	c.server = httptest.NewServer(http.HandlerFunc(c.serveHTTP))
	return c
}

// URL is the JSON-RPC endpoint of the chain.
func (c *Chain) URL() string {
	return c.server.URL
}

// Close stops the server.
func (c *Chain) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.server.Close()
	})
}

// Deploy registers an executable program at address.
func (c *Chain) Deploy(address ed25519.PublicKey, p Program) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.register(address, builtin{run: p}, LoaderKey)
}

func (c *Chain) register(address ed25519.PublicKey, b builtin, loader ed25519.PublicKey) {
	id := base58.Encode(address)
	c.programs[id] = b
	c.accounts[id] = &Account{
		Lamports:   1,
		Owner:      loader,
		Executable: true,
	}
}

// Fund credits lamports to a system owned account, creating it if needed.
func (c *Chain) Fund(address ed25519.PublicKey, lamports uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := base58.Encode(address)
	a, ok := c.accounts[id]
	if !ok {
		a = &Account{Owner: systemProgramKey()}
		c.accounts[id] = a
	}
	a.Lamports += lamports
}

// SetAccount overwrites the state of an account.
func (c *Chain) SetAccount(address ed25519.PublicKey, a Account) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accounts[base58.Encode(address)] = a.clone()
}

// Account returns a copy of the state of an account.
func (c *Chain) Account(address ed25519.PublicKey) (Account, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.accounts[base58.Encode(address)]
	if !ok {
		return Account{}, false
	}
	return *a.clone(), true
}

// Calls returns the number of requests made for method.
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.calls[method]
}

// TotalCalls returns the number of requests made for any method.
func (c *Chain) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total int
	for _, n := range c.calls {
		total += n
	}
	return total
}

// advance moves the chain to the next slot with a fresh blockhash.
//
// Must be called with c.mu held.
func (c *Chain) advance() {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic(err)
	}

	c.slot++
	c.blockhash = sha256.Sum256(seed[:])
	c.blockhashes[c.blockhash] = struct{}{}
}

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (c *Chain) serveHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.write(w, nil, nil, &rpcError{Code: -32700, Message: "Parse error"})
		return
	}

	if d, ok := c.stalls[req.Method]; ok {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		case <-c.closed:
			return
		}
	}

	c.mu.Lock()
	c.calls[req.Method]++
	result, rpcErr := c.dispatch(req)
	c.mu.Unlock()

	log := c.log.WithField("method", req.Method)
	if rpcErr != nil {
		log.WithField("code", rpcErr.Code).Debug(rpcErr.Message)
	} else {
		log.Trace("served request")
	}

	c.write(w, req.ID, result, rpcErr)
}

// write emits a response holding only the members a strict JSON-RPC 2.0
// decoder accepts.
func (c *Chain) write(w http.ResponseWriter, id json.RawMessage, result interface{}, rpcErr *rpcError) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}

	resp := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
	}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		c.log.WithError(err).Warn("failed to write response")
	}
}

func mustDecode(s string) ed25519.PublicKey {
	b, err := base58.Decode(s)
	if err != nil || len(b) != ed25519.PublicKeySize {
		panic("invalid key: " + s)
	}
	return b
}
