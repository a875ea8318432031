// FILE: mock.go
// Package mock is an in-memory chainclient.Client used by tests and
// local/dry-run operation, the way the teacher's PaperBroker simulates a
// broker with no external calls: no network, no signing, fills recorded
// in memory.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/offermesh/router/internal/chainclient"
)

// Client is a deterministic, in-memory chainclient.Client.
type Client struct {
	mu      sync.Mutex
	objects map[chainclient.ObjectID]map[string]any
	events  []chainclient.RawEvent
	calls   []string // recorded MoveCall targets, for assertions in tests
}

func New() *Client {
	return &Client{objects: make(map[chainclient.ObjectID]map[string]any)}
}

// SeedEvents lets a test pre-load the poll queue.
func (c *Client) SeedEvents(events ...chainclient.RawEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
}

func (c *Client) Subscribe(ctx context.Context, packageID string) (<-chan chainclient.RawEvent, error) {
	return nil, errors.New("mock client does not support push subscription; use PollEvents")
}

func (c *Client) PollEvents(ctx context.Context, packageID, cursor string, limit int) ([]chainclient.RawEvent, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 || limit > len(c.events) {
		limit = len(c.events)
	}
	batch := c.events[:limit]
	c.events = c.events[limit:]
	return batch, uuid.NewString(), nil
}

func (c *Client) GetObject(ctx context.Context, id chainclient.ObjectID) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[id]
	if !ok {
		return nil, fmt.Errorf("object %s not found", id)
	}
	return obj, nil
}

func (c *Client) PutObject(id chainclient.ObjectID, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[id] = fields
}

func (c *Client) NewTxBuilder() chainclient.TxBuilder {
	return &txBuilder{}
}

func (c *Client) SignAndSubmit(ctx context.Context, tx chainclient.TxBuilder) (*chainclient.SubmitResult, error) {
	b, ok := tx.(*txBuilder)
	if !ok {
		return nil, errors.New("mock client received a TxBuilder it did not construct")
	}
	c.mu.Lock()
	c.calls = append(c.calls, b.calls...)
	c.mu.Unlock()

	digest := crypto.Keccak256Hash([]byte(fmt.Sprintf("%v", b.calls)))
	return &chainclient.SubmitResult{
		Digest:  digest.Hex(),
		Success: true,
		GasUsed: uint64(1_000_000 * len(b.calls)),
	}, nil
}

// Calls returns every MoveCall target submitted so far, for test assertions.
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

// txBuilder is the in-memory accumulator backing one settlement
// transaction. It never touches the network; MoveCall just records the
// target and synthesizes one output handle per call.
type txBuilder struct {
	next  int
	calls []string
	gas   uint64
}

func (b *txBuilder) handle(label string) chainclient.ObjectHandle {
	h := chainclient.ObjectHandle{Index: b.next, Label: label}
	b.next++
	return h
}

func (b *txBuilder) ObjectRef(id chainclient.ObjectID) chainclient.ObjectHandle {
	return b.handle("objref:" + id.Hex())
}
func (b *txBuilder) IntArg(v int64) chainclient.ObjectHandle {
	return b.handle(fmt.Sprintf("int:%d", v))
}
func (b *txBuilder) AddressArg(addr string) chainclient.ObjectHandle {
	return b.handle("addr:" + addr)
}
func (b *txBuilder) BytesArg(v []byte) chainclient.ObjectHandle {
	return b.handle(fmt.Sprintf("bytes:%d", len(v)))
}

func (b *txBuilder) MoveCall(target string, args []chainclient.ObjectHandle) ([]chainclient.ObjectHandle, error) {
	b.calls = append(b.calls, target)
	// Every protocol call in this system returns at most one output coin;
	// synthesize exactly that for the composer to chain onto.
	return []chainclient.ObjectHandle{b.handle("out:" + target)}, nil
}

func (b *txBuilder) SplitCoin(coin chainclient.ObjectHandle, amount int64) (chainclient.ObjectHandle, chainclient.ObjectHandle, error) {
	split := b.handle(fmt.Sprintf("split:%d", amount))
	remainder := b.handle("remainder")
	return split, remainder, nil
}

func (b *txBuilder) MergeCoins(into chainclient.ObjectHandle, extras []chainclient.ObjectHandle) (chainclient.ObjectHandle, error) {
	return into, nil
}

func (b *txBuilder) TransferObjects(objects []chainclient.ObjectHandle, recipient string) {}

func (b *txBuilder) SetGasBudget(budget uint64) { b.gas = budget }
