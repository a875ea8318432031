// FILE: chainclient.go
// Package chainclient defines the boundary this module consumes from the
// blockchain client, per spec.md §6: event subscription/paged queries,
// object lookups, transaction builder primitives, and signed submission.
// No concrete chain SDK lives here — the protocol's on-chain contracts are
// explicitly out of scope (spec.md §1) — only the interfaces and a handle
// type generic enough for any chain's object model.
package chainclient

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ObjectID identifies any on-chain object (an offer, an intent, a coin, a
// clock) as a 32-byte value. Borrowed shape from go-ethereum's
// common.Hash: it is exactly the "fixed-width 32-byte identity" spec.md §6
// asks for, with ready-made hex encoding/decoding.
type ObjectID = common.Hash

// ObjectHandle is a transaction-local reference to an object produced or
// consumed within the transaction being built (e.g. the output of a coin
// split, or of a venue's BuildFragment). It does not necessarily refer to
// an object that exists on-chain yet.
type ObjectHandle struct {
	Index int    // position within the in-progress transaction
	Label string // debug label, e.g. "split#2" or "amm-out"
}

// RawEvent is the untyped envelope every chain event arrives in before
// the cache's decoder maps it onto a typed event. TypeTag carries the
// fully-qualified Move type (e.g. "...::offer::OfferCreated"); Fields is
// the decoded JSON payload.
type RawEvent struct {
	TypeTag   string
	Fields    map[string]any
	Cursor    string
	Timestamp time.Time
}

// EventSource is the subscription/poll boundary the cache's ingestion
// worker drives. Subscribe may not be supported by every deployment (some
// RPC providers only offer polling); callers fall back to PollEvents when
// Subscribe returns any error.
type EventSource interface {
	// Subscribe delivers events on the returned channel filtered by the
	// protocol's package id, until ctx is cancelled or the channel is
	// closed on a terminal transport error.
	Subscribe(ctx context.Context, packageID string) (<-chan RawEvent, error)

	// PollEvents returns events after cursor, up to limit, and the new
	// cursor to resume from. An empty result with no error means "caught
	// up", not an error.
	PollEvents(ctx context.Context, packageID, cursor string, limit int) ([]RawEvent, string, error)
}

// ObjectReader resolves dynamic-field lookups the composer needs (e.g.
// locating the coin object to split, or the clock object for
// time-sensitive calls).
type ObjectReader interface {
	GetObject(ctx context.Context, id ObjectID) (map[string]any, error)
}

// TxBuilder accumulates the primitives of one atomic settlement
// transaction: object references, scalar/byte-vector arguments, move-call
// emission, coin splitting/merging, transfers, and a gas budget. A single
// TxBuilder backs exactly one RoutingDecision's composition.
type TxBuilder interface {
	ObjectRef(id ObjectID) ObjectHandle
	IntArg(v int64) ObjectHandle
	AddressArg(addr string) ObjectHandle
	BytesArg(b []byte) ObjectHandle

	// MoveCall emits a call to target (module::function) with the given
	// argument handles and returns handles to its return values, in
	// declaration order.
	MoveCall(target string, args []ObjectHandle) ([]ObjectHandle, error)

	// SplitCoin splits amount off of coin, returning a handle to the new
	// coin and a handle to the (now-reduced) remainder.
	SplitCoin(coin ObjectHandle, amount int64) (split, remainder ObjectHandle, err error)

	// MergeCoins merges extras into into, returning into's handle.
	MergeCoins(into ObjectHandle, extras []ObjectHandle) (ObjectHandle, error)

	TransferObjects(objects []ObjectHandle, recipient string)

	SetGasBudget(budget uint64)
}

// SubmitResult is what the client reports back after a signed
// transaction is submitted.
type SubmitResult struct {
	Digest        string
	Success       bool
	GasUsed       uint64
	CreatedObject []ObjectID
	Error         string
}

// Submitter signs (via the executor keypair it was constructed with) and
// submits a built transaction.
type Submitter interface {
	SignAndSubmit(ctx context.Context, tx TxBuilder) (*SubmitResult, error)
}

// Client is the full boundary the engine is constructed with.
type Client interface {
	EventSource
	ObjectReader
	Submitter

	// NewTxBuilder starts a fresh transaction for one settlement.
	NewTxBuilder() TxBuilder
}
