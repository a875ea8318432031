// FILE: venue.go
// Package venue defines the uniform adapter contract every external venue
// (AMM, CLOB, ...) implements, shaped after the teacher's Broker interface
// (GetNowPrice/PlaceMarketQuote/GetRecentCandles) but for one-shot quoting
// and settlement-fragment emission instead of order placement.
package venue

import (
	"context"

	"github.com/offermesh/router/internal/chainclient"
	"github.com/offermesh/router/internal/model"
)

// LegParams is what the composer hands an adapter to build its settlement
// fragment: the committed fill/pay amounts and the quote metadata the
// adapter itself produced during routing.
type LegParams struct {
	Pair       model.AssetPair
	FillAmount int64
	PayAmount  int64
	Metadata   model.QuoteMetadata
	// PayHandle is the transaction-local handle to the coin/object the
	// adapter should consume as payment (already split by the composer).
	PayHandle chainclient.ObjectHandle
}

// Fragment is what BuildFragment returns: a handle to the asset the
// adapter produced inside the transaction, plus a human-readable
// description for logs/metrics.
type Fragment struct {
	OutputHandle chainclient.ObjectHandle
	Description  string
}

// Adapter is the uniform interface every venue (native book included)
// implements. Adapters degrade to (zero, false) / (nil, false) on any
// error — network fault, missing pool, insufficient depth — and never
// raise; a missing SDK dependency must look exactly like "no liquidity"
// to the router (spec.md §4.2).
type Adapter interface {
	Name() string

	// GetPrice is a cheap quote used during route search. ok is false
	// when this venue has no liquidity for the pair at this size.
	GetPrice(ctx context.Context, pair model.AssetPair, receiveAmount int64) (scaledPrice int64, ok bool)

	// GetDetailedQuote is a richer quote carrying the opaque metadata
	// the composer will later need to emit a settlement fragment.
	GetDetailedQuote(ctx context.Context, pair model.AssetPair, receiveAmount int64) (*model.VenueQuote, bool)

	// BuildFragment emits venue-specific settlement instructions into
	// the transaction builder and returns a handle to the produced
	// asset. Adapters never sign or submit.
	BuildFragment(ctx context.Context, tx chainclient.TxBuilder, params LegParams) (*Fragment, error)
}
