package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/offermesh/router/internal/chainclient"
	"github.com/offermesh/router/internal/model"
	"github.com/offermesh/router/internal/pricing"
	"github.com/offermesh/router/internal/venue"
)

const S = model.PriceScale

// fixedQuoteVenue implements venue.Adapter, quoting any requested amount
// at one fixed effective price (the router rescales pay via the
// quoted effective price, matching a real adapter's linear-at-depth
// approximation for the residual, per spec.md §4.4.3/§9).
type fixedQuoteVenue struct {
	name  string
	price int64 // effective price to quote at
}

func (v *fixedQuoteVenue) Name() string { return v.name }

func (v *fixedQuoteVenue) GetPrice(ctx context.Context, p model.AssetPair, amt int64) (int64, bool) {
	return v.price, true
}

func (v *fixedQuoteVenue) GetDetailedQuote(ctx context.Context, p model.AssetPair, amt int64) (*model.VenueQuote, bool) {
	pay, err := pricing.Payment(amt, v.price)
	if err != nil {
		return nil, false
	}
	return &model.VenueQuote{
		Venue:          v.name,
		ReceiveAmount:  amt,
		PayAmount:      pay,
		EffectivePrice: v.price,
		Metadata:       model.QuoteMetadata{Kind: model.VenueAMM, Venue: v.name},
	}, true
}

func (v *fixedQuoteVenue) BuildFragment(ctx context.Context, tx chainclient.TxBuilder, params venue.LegParams) (*venue.Fragment, error) {
	return nil, nil
}

type fakeOffers struct {
	offers []*model.Offer
}

func (f *fakeOffers) ActiveOffers(pair model.AssetPair, nowMs int64) []*model.Offer {
	var out []*model.Offer
	for _, o := range f.offers {
		if o.OfferAsset != pair.Offer || o.WantAsset != pair.Want {
			continue
		}
		if !o.Status.IsActive() || o.Expired(nowMs) || o.RemainingAmount <= 0 {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	// caller (router) expects pre-sorted input exactly like cache.ActiveOffers
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].MinPrice < out[i].MinPrice ||
				(out[j].MinPrice == out[i].MinPrice && out[j].RemainingAmount > out[i].RemainingAmount) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func mkOffer(id byte, remaining, minPrice, maxPrice, minFill int64, policy model.FillPolicy, expiryMs int64) *model.Offer {
	var oid [32]byte
	oid[31] = id
	return &model.Offer{
		OfferID:         oid,
		OfferAsset:      "A",
		WantAsset:       "B",
		InitialAmount:   remaining,
		RemainingAmount: remaining,
		MinPrice:        minPrice,
		MaxPrice:        maxPrice,
		MinFillAmount:   minFill,
		FillPolicy:      policy,
		ExpiryMs:        expiryMs,
		Status:          model.OfferCreated,
	}
}

var farFuture int64 = 9_999_999_999_999

func pair() model.AssetPair { return model.AssetPair{Offer: "A", Want: "B"} }

func TestScenario1SingleNativeFullFill(t *testing.T) {
	offers := &fakeOffers{offers: []*model.Offer{
		mkOffer(1, 100*S, int64(1.5*float64(S)), int64(1.5*float64(S)), 1*S, model.FillPolicyPartial, farFuture),
	}}
	r := New(offers, nil)
	decision, err := r.Route(context.Background(), pair(), 10*S, DefaultPolicy())
	require.NoError(t, err)
	require.NotNil(t, decision)
	require.False(t, decision.IsSplit)
	require.Len(t, decision.Legs, 1)
	require.Equal(t, int64(10)*S, decision.TotalReceiveAmount)
	require.Equal(t, int64(15)*S, decision.TotalPayAmount)
	require.Equal(t, int64(1.5*float64(S)), decision.Legs[0].EffectivePrice)
}

func TestScenario3FullOnlySkippedOnPartialNeed(t *testing.T) {
	offers := &fakeOffers{offers: []*model.Offer{
		mkOffer(1, 20*S, int64(1.5*float64(S)), int64(1.5*float64(S)), 20*S, model.FillPolicyFullOnly, farFuture),
	}}
	r := New(offers, nil)
	decision, err := r.Route(context.Background(), pair(), 5*S, DefaultPolicy())
	require.NoError(t, err)
	require.Nil(t, decision, "full-only offer must be skipped when need < available")
}

func TestScenario4DustAvoidance(t *testing.T) {
	offers := &fakeOffers{offers: []*model.Offer{
		mkOffer(1, 10*S, S, S, 4*S, model.FillPolicyPartial, farFuture),
	}}
	r := New(offers, nil)
	decision, err := r.Route(context.Background(), pair(), 7*S, DefaultPolicy())
	require.NoError(t, err)
	require.NotNil(t, decision)
	require.Len(t, decision.Legs, 1)
	require.Equal(t, int64(10)*S, decision.Legs[0].FillAmount, "must take the full offer rather than leave 3 < minFill=4 as dust")
}

func TestScenario5ExpiredOfferFiltered(t *testing.T) {
	offers := &fakeOffers{offers: []*model.Offer{
		mkOffer(1, 100*S, S/2, S/2, S, model.FillPolicyPartial, 1), // cheapest but expired
	}}
	r := New(offers, nil)
	decision, err := r.Route(context.Background(), pair(), 10*S, DefaultPolicy())
	require.NoError(t, err)
	require.Nil(t, decision, "expired offer must never be selected, even if cheapest")
}

func TestScenario2SplitAcrossNativeAndExternal(t *testing.T) {
	offers := &fakeOffers{offers: []*model.Offer{
		mkOffer(1, 30*S, int64(1.90*float64(S)), int64(1.90*float64(S)), 1, model.FillPolicyPartial, farFuture),
		mkOffer(2, 30*S, int64(2.00*float64(S)), int64(2.00*float64(S)), 1, model.FillPolicyPartial, farFuture),
	}}
	ext := &fixedQuoteVenue{name: "extswap", price: int64(2.01 * float64(S))}
	r := New(offers, []venue.Adapter{ext})

	decision, err := r.Route(context.Background(), pair(), 100*S, DefaultPolicy())
	require.NoError(t, err)
	require.NotNil(t, decision)
	require.True(t, decision.IsSplit)
	require.Len(t, decision.Legs, 3)
	require.Equal(t, int64(100)*S, decision.TotalReceiveAmount)

	externalOnlyCost := int64(2.01 * float64(S) * 100)
	require.Less(t, decision.TotalPayAmount, externalOnlyCost)
	require.True(t, decision.BlendedPrice >= S && decision.BlendedPrice <= int64(2.5*float64(S)))
}

func TestNoLiquidityReturnsNilNotError(t *testing.T) {
	r := New(&fakeOffers{}, nil)
	decision, err := r.Route(context.Background(), pair(), 10*S, DefaultPolicy())
	require.NoError(t, err)
	require.Nil(t, decision)
}

func TestRouterFeasibilityInvariant(t *testing.T) {
	offers := &fakeOffers{offers: []*model.Offer{
		mkOffer(1, 30*S, int64(1.2*float64(S)), int64(1.2*float64(S)), 1, model.FillPolicyPartial, farFuture),
		mkOffer(2, 40*S, int64(1.3*float64(S)), int64(1.3*float64(S)), 1, model.FillPolicyPartial, farFuture),
	}}
	r := New(offers, nil)
	decision, err := r.Route(context.Background(), pair(), 50*S, DefaultPolicy())
	require.NoError(t, err)
	require.NotNil(t, decision)

	var sumFill, sumPay int64
	for _, l := range decision.Legs {
		sumFill += l.FillAmount
		sumPay += l.PayAmount
	}
	require.Equal(t, decision.TotalReceiveAmount, sumFill)
	require.Equal(t, decision.TotalPayAmount, sumPay)
	require.GreaterOrEqual(t, sumFill, int64(50)*S)
}
