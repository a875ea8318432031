// FILE: router.go
// Package router implements the single-pair route search of spec.md §4.4:
// native-leg construction, external-leg quoting fanned out in parallel,
// candidate assembly (all-native / single-external / split), and ranking.
// Grounded on the smart-order-routing shape in the retrieved pack
// (DimaJoyti-ai-agentic-crypto-browser's internal/hft smart order
// router) but rebuilt around this protocol's exact fill/dust/policy
// rules, which that reference does not have.
package router

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/offermesh/router/internal/model"
	"github.com/offermesh/router/internal/pricing"
	"github.com/offermesh/router/internal/venue"
)

// OfferSource is the read-only view the router needs of the liquidity
// cache.
type OfferSource interface {
	ActiveOffers(pair model.AssetPair, nowMs int64) []*model.Offer
}

// Policy is the set of knobs spec.md §4.4 allows a caller to tune per
// search.
type Policy struct {
	MaxNativeLegs    int   // default 5
	MinLegAmount     int64 // minimum size of the external residual leg in a split candidate
	EnableSplits     bool  // default true
	NativeBiasBps    int64 // tie-break preference for the native book, basis points
	QuoteDeadline    time.Duration // default 250ms
}

func DefaultPolicy() Policy {
	return Policy{
		MaxNativeLegs: 5,
		MinLegAmount:  1,
		EnableSplits:  true,
		NativeBiasBps: 0,
		QuoteDeadline: 250 * time.Millisecond,
	}
}

// Router searches the cache plus a fixed set of external venues for the
// cheapest way to fill one pair/amount.
type Router struct {
	offers OfferSource
	venues []venue.Adapter
	now    func() time.Time
}

func New(offers OfferSource, venues []venue.Adapter) *Router {
	return &Router{offers: offers, venues: venues, now: time.Now}
}

// candidate is an internal working structure; only the winning one is
// converted to a model.RoutingDecision.
type candidate struct {
	legs      []model.RoutingLeg
	totalFill int64
	totalPay  int64
	isNative  bool // every leg is native; used for the bias tie-break
}

// Route runs one search. A (nil, nil) return means "no candidate meets
// the target" — a regular, non-error outcome per spec.md §4.4's failure
// semantics, not an error.
func (r *Router) Route(ctx context.Context, pair model.AssetPair, receiveAmount int64, policy Policy) (*model.RoutingDecision, error) {
	if receiveAmount <= 0 {
		return nil, model.NewError(model.KindInvalidAmount, "receiveAmount must be positive", nil)
	}
	if policy.MaxNativeLegs <= 0 {
		policy.MaxNativeLegs = 5
	}
	if policy.QuoteDeadline <= 0 {
		policy.QuoteDeadline = 250 * time.Millisecond
	}

	nowMs := r.now().UnixMilli()
	nativeLegs, lastMinFill := r.walkNativeLegs(pair, receiveAmount, nowMs, policy)
	quotes := r.fanOutExternalQuotes(ctx, pair, receiveAmount, policy)

	var candidates []candidate

	if c, ok := allNativeCandidate(nativeLegs, receiveAmount, lastMinFill); ok {
		candidates = append(candidates, c)
	}
	for _, q := range quotes {
		candidates = append(candidates, singleExternalCandidate(q, receiveAmount))
	}
	if policy.EnableSplits {
		for _, q := range quotes {
			if c, ok := splitCandidate(nativeLegs, q, receiveAmount, policy); ok {
				candidates = append(candidates, c)
			}
		}
	}

	winner, ok := rank(candidates, policy)
	if !ok {
		return nil, nil
	}
	return toDecision(pair, winner), nil
}

// walkNativeLegs implements spec.md §4.4.1: walk ActiveOffers in sorted
// order until the target is covered or MaxNativeLegs is reached.
func (r *Router) walkNativeLegs(pair model.AssetPair, receiveAmount int64, nowMs int64, policy Policy) ([]model.RoutingLeg, int64) {
	offers := r.offers.ActiveOffers(pair, nowMs)
	var legs []model.RoutingLeg
	var covered int64
	var lastMinFill int64

	for _, o := range offers {
		if len(legs) >= policy.MaxNativeLegs {
			break
		}
		if covered >= receiveAmount {
			break
		}
		need := receiveAmount - covered
		available := o.RemainingAmount

		var fill int64
		switch {
		case need >= available:
			fill = available
		case o.FillPolicy == model.FillPolicyFullOnly:
			continue // cannot partial; skip this offer entirely
		case pricing.WouldLeaveDust(available, need, o.MinFillAmount):
			fill = available // take the full remaining balance rather than leave dust
		case need < o.MinFillAmount:
			continue
		default:
			fill = need
		}
		if fill <= 0 {
			continue
		}

		pay, err := pricing.Payment(fill, o.MaxPrice)
		if err != nil {
			continue
		}
		eff, err := pricing.EffectivePrice(fill, pay)
		if err != nil {
			continue
		}

		id := o.OfferID
		legs = append(legs, model.RoutingLeg{
			Venue:          model.VenueNative.String(),
			FillAmount:     fill,
			PayAmount:      pay,
			EffectivePrice: eff,
			OfferID:        &id,
			Metadata: model.QuoteMetadata{
				Kind:    model.VenueNative,
				Venue:   model.VenueNative.String(),
				Payload: id[:],
			},
		})
		covered += fill
		lastMinFill = o.MinFillAmount
	}
	return legs, lastMinFill
}

// fanOutExternalQuotes implements spec.md §4.4.2: parallel
// GetDetailedQuote across every configured venue, bounded by a per-search
// deadline. Any non-result (error, timeout, nil) is a permanent miss for
// this search — it never blocks the other venues or the caller beyond
// the deadline.
func (r *Router) fanOutExternalQuotes(ctx context.Context, pair model.AssetPair, receiveAmount int64, policy Policy) []*model.VenueQuote {
	if len(r.venues) == 0 {
		return nil
	}
	deadlineCtx, cancel := context.WithTimeout(ctx, policy.QuoteDeadline)
	defer cancel()

	results := make([]*model.VenueQuote, len(r.venues))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(deadlineCtx)
	for i, v := range r.venues {
		i, v := i, v
		g.Go(func() error {
			q, ok := v.GetDetailedQuote(gctx, pair, receiveAmount)
			if ok {
				mu.Lock()
				results[i] = q
				mu.Unlock()
			}
			return nil // a venue miss is never a search-ending error
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait() // errors are impossible by construction above
		close(done)
	}()
	// Stop waiting at the deadline; a venue still running then is not waited for.
	select {
	case <-done:
	case <-deadlineCtx.Done():
	}
	mu.Lock()
	defer mu.Unlock()
	out := make([]*model.VenueQuote, 0, len(results))
	for _, q := range results {
		if q != nil {
			out = append(out, q)
		}
	}
	return out
}

// allNativeCandidate is admissible only if the walked legs cover the
// target exactly or within a small positive overfill bounded by the last
// leg's minFillAmount (spec.md §4.4.3.1).
func allNativeCandidate(legs []model.RoutingLeg, receiveAmount int64, lastLegMinFill int64) (candidate, bool) {
	if len(legs) == 0 {
		return candidate{}, false
	}
	var totalFill, totalPay int64
	for _, l := range legs {
		totalFill += l.FillAmount
		totalPay += l.PayAmount
	}
	if totalFill < receiveAmount {
		return candidate{}, false
	}
	overfill := totalFill - receiveAmount
	if overfill > 0 && overfill > lastLegMinFill {
		return candidate{}, false
	}
	return candidate{legs: legs, totalFill: totalFill, totalPay: totalPay, isNative: true}, true
}

func singleExternalCandidate(q *model.VenueQuote, receiveAmount int64) candidate {
	leg := model.RoutingLeg{
		Venue:          q.Venue,
		FillAmount:     receiveAmount,
		PayAmount:      scalePay(q, receiveAmount),
		EffectivePrice: q.EffectivePrice,
		Metadata:       q.Metadata,
	}
	return candidate{legs: []model.RoutingLeg{leg}, totalFill: receiveAmount, totalPay: leg.PayAmount}
}

// scalePay re-derives the pay amount for exactly receiveAmount at the
// quoted effective price, since the quote itself may have been sized for
// a different (but identical, in the no-split single-external case)
// amount.
func scalePay(q *model.VenueQuote, receiveAmount int64) int64 {
	if q.ReceiveAmount == receiveAmount {
		return q.PayAmount
	}
	pay, err := pricing.Payment(receiveAmount, q.EffectivePrice)
	if err != nil {
		return q.PayAmount
	}
	return pay
}

// splitCandidate implements spec.md §4.4.3.3: keep the prefix of native
// legs priced strictly below the external quote, and let the external
// venue absorb the residual. The residual is priced at the same quoted
// effective price — the spec-permitted approximation documented in
// spec.md §9 rather than a requote at the actual residual size.
func splitCandidate(nativeLegs []model.RoutingLeg, q *model.VenueQuote, receiveAmount int64, policy Policy) (candidate, bool) {
	var prefix []model.RoutingLeg
	var prefixFill, prefixPay int64
	for _, l := range nativeLegs {
		if l.EffectivePrice >= q.EffectivePrice {
			break
		}
		prefix = append(prefix, l)
		prefixFill += l.FillAmount
		prefixPay += l.PayAmount
	}
	residual := receiveAmount - prefixFill
	if residual < policy.MinLegAmount {
		return candidate{}, false
	}
	// The last native leg in the prefix may overfill past what's needed;
	// such a prefix is rejected rather than clamped.
	if prefixFill > receiveAmount {
		return candidate{}, false
	}

	residualPay, err := pricing.Payment(residual, q.EffectivePrice)
	if err != nil {
		return candidate{}, false
	}
	residualLeg := model.RoutingLeg{
		Venue:          q.Venue,
		FillAmount:     residual,
		PayAmount:      residualPay,
		EffectivePrice: q.EffectivePrice,
		Metadata:       q.Metadata,
	}

	legs := append(append([]model.RoutingLeg{}, prefix...), residualLeg)
	return candidate{legs: legs, totalFill: prefixFill + residual, totalPay: prefixPay + residualPay}, true
}

// rank implements spec.md §4.4.3's ranking: total pay ascending, fewer
// legs, then native-biased preference on near-equal totals.
func rank(candidates []candidate, policy Policy) (candidate, bool) {
	if len(candidates) == 0 {
		return candidate{}, false
	}
	feasible := append([]candidate(nil), candidates...)

	sort.SliceStable(feasible, func(i, j int) bool {
		pi, pj := feasible[i].totalPay, feasible[j].totalPay
		// Apply the native bias as a tolerance band before comparing pay.
		if policy.NativeBiasBps > 0 {
			if feasible[i].isNative {
				pi = pi * (10_000 - policy.NativeBiasBps) / 10_000
			}
			if feasible[j].isNative {
				pj = pj * (10_000 - policy.NativeBiasBps) / 10_000
			}
		}
		if pi != pj {
			return pi < pj
		}
		if len(feasible[i].legs) != len(feasible[j].legs) {
			return len(feasible[i].legs) < len(feasible[j].legs)
		}
		return feasible[i].isNative && !feasible[j].isNative
	})
	return feasible[0], true
}

func toDecision(pair model.AssetPair, c candidate) *model.RoutingDecision {
	blended, err := pricing.PriceFromFillPay(c.totalFill, c.totalPay)
	if err != nil {
		blended = 0
	}
	return &model.RoutingDecision{
		Pair:               pair,
		TotalReceiveAmount: c.totalFill,
		TotalPayAmount:     c.totalPay,
		BlendedPrice:       blended,
		Legs:               c.legs,
		IsSplit:            len(c.legs) > 1,
		ComputedAt:         time.Now().UTC(),
	}
}
