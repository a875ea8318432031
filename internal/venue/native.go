// FILE: native.go
// Native is the protocol's own order book exposed through the same
// Adapter contract external venues implement, so the composer's
// composite-split path (spec.md §4.5) can treat every leg uniformly.
package venue

import (
	"context"
	"fmt"

	"github.com/offermesh/router/internal/chainclient"
	"github.com/offermesh/router/internal/model"
)

// OfferSource is the subset of cache.Cache the native adapter needs. It is
// declared here, not imported from the cache package, so venue has no
// dependency on cache (cache depends on nothing in venue either — the
// router wires them together).
type OfferSource interface {
	Offer(id [32]byte) (*model.Offer, bool)
}

// Native wraps the liquidity cache's own offer book as a venue.Adapter.
// Unlike external adapters it is not stateless — it reads live cache
// state. It never panics: its quote methods always report no quote, and
// BuildFragment returns an error for an offer the cache does not hold.
type Native struct {
	source OfferSource
}

func NewNative(source OfferSource) *Native { return &Native{source: source} }

func (n *Native) Name() string { return model.VenueNative.String() }

// GetPrice is unused for native legs — the router walks ActiveOffers
// directly (spec.md §4.4.1) — and is implemented only for interface
// completeness: it always returns (0, false).
func (n *Native) GetPrice(ctx context.Context, pair model.AssetPair, receiveAmount int64) (int64, bool) {
	return 0, false
}

func (n *Native) GetDetailedQuote(ctx context.Context, pair model.AssetPair, receiveAmount int64) (*model.VenueQuote, bool) {
	return nil, false
}

// BuildFragment emits the on-chain fill call for a committed native leg.
// params.Metadata.Payload must carry the 32-byte offer id (as produced by
// the router when it constructs native legs).
func (n *Native) BuildFragment(ctx context.Context, tx chainclient.TxBuilder, params LegParams) (*Fragment, error) {
	if len(params.Metadata.Payload) != 32 {
		return nil, fmt.Errorf("native leg metadata must carry a 32-byte offer id, got %d bytes", len(params.Metadata.Payload))
	}
	var offerID chainclient.ObjectID
	copy(offerID[:], params.Metadata.Payload)

	offer, ok := n.source.Offer(offerID)
	if !ok {
		return nil, fmt.Errorf("native leg references unknown offer %s", offerID.Hex())
	}

	target := "protocol::offer::fill_partial"
	fullFill := offer.FillPolicy == model.FillPolicyFullOnly || params.FillAmount == offer.RemainingAmount
	if fullFill {
		target = "protocol::offer::fill_full"
	}

	offerRef := tx.ObjectRef(offerID)
	fillArg := tx.IntArg(params.FillAmount)
	payArg := params.PayHandle

	outs, err := tx.MoveCall(target, []chainclient.ObjectHandle{offerRef, fillArg, payArg})
	if err != nil {
		return nil, err
	}
	if len(outs) == 0 {
		return nil, fmt.Errorf("%s returned no output handle", target)
	}
	return &Fragment{OutputHandle: outs[0], Description: fmt.Sprintf("%s(offer=%s, fill=%d)", target, offerID.Hex(), params.FillAmount)}, nil
}
