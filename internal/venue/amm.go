// FILE: amm.go
// AMM is a constant-product external venue adapter, the integer-priced
// analogue of the bonding-curve quote math in the AMM reference from the
// retrieved pack (reserveOut*reserveIn invariant, fee in basis points).
// It is stateless across requests aside from a bounded-TTL cache of each
// pool's reserves, collapsed across concurrent refreshes with
// singleflight the way a busy quoting path would otherwise thunder the
// upstream pool-state RPC.
package venue

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/offermesh/router/internal/chainclient"
	"github.com/offermesh/router/internal/model"
	"github.com/offermesh/router/internal/pricing"
)

// PoolReader fetches a pool's current reserves from the external venue.
// Implementations are the only place network/SDK calls happen; any error
// here degrades to "no liquidity" for the router, never a raised error
// (spec.md §4.2).
type PoolReader interface {
	// ReserveIn/ReserveOut are in the smallest unit of pair.Offer /
	// pair.Want respectively. ok is false on any fault: missing pool,
	// network error, or a disabled/unconfigured SDK.
	GetReserves(ctx context.Context, pair model.AssetPair) (reserveIn, reserveOut int64, ok bool)
}

type poolSnapshot struct {
	reserveIn, reserveOut int64
	fetchedAt             time.Time
}

// AMM is a constant-product venue: receive = reserveOut*(1-fee) capped by
// the x*y=k invariant, quoted from cached reserves with a bounded TTL.
type AMM struct {
	name      string
	reader    PoolReader
	feeBps    int64 // e.g. 30 == 0.30%
	slipBps   int64 // slippage tolerance: sets the fragment's min-out; recorded in the quote payload but not applied to the quoted price
	ttl       time.Duration
	group     singleflight.Group
	mu        sync.Mutex
	snapshots map[model.AssetPair]poolSnapshot
}

func NewAMM(name string, reader PoolReader, feeBps, slippageBps int64, ttl time.Duration) *AMM {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &AMM{
		name:      name,
		reader:    reader,
		feeBps:    feeBps,
		slipBps:   slippageBps,
		ttl:       ttl,
		snapshots: make(map[model.AssetPair]poolSnapshot),
	}
}

func (a *AMM) Name() string { return a.name }

func (a *AMM) reserves(ctx context.Context, pair model.AssetPair) (int64, int64, bool) {
	a.mu.Lock()
	snap, ok := a.snapshots[pair]
	fresh := ok && time.Since(snap.fetchedAt) < a.ttl
	a.mu.Unlock()
	if fresh {
		return snap.reserveIn, snap.reserveOut, true
	}

	key := fmt.Sprintf("%s/%s", pair.Offer, pair.Want)
	v, err, _ := a.group.Do(key, func() (interface{}, error) {
		in, out, ok := a.reader.GetReserves(ctx, pair)
		if !ok {
			return nil, fmt.Errorf("no reserves for %s", key)
		}
		snap := poolSnapshot{reserveIn: in, reserveOut: out, fetchedAt: time.Now()}
		a.mu.Lock()
		a.snapshots[pair] = snap
		a.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return 0, 0, false
	}
	snap = v.(poolSnapshot)
	return snap.reserveIn, snap.reserveOut, true
}

// quoteOut returns the pay amount (in reserveIn's asset) required to draw
// receiveAmount out of a constant-product pool with reserves
// (reserveIn, reserveOut) and the adapter's fee, or ok=false if the pool
// cannot supply that much (receiveAmount >= reserveOut) or inputs are
// invalid. This is an external venue's own quote math, not the on-chain
// settlement kernel (internal/pricing), so math/big's arbitrary
// precision is simpler and just as correct as a hand-rolled 128-bit
// multiply here — reserveIn*receiveAmount*10000 can exceed 128 bits at
// the asset-amount extremes this adapter must still not silently wrap on.
func (a *AMM) quoteOut(reserveIn, reserveOut, receiveAmount int64) (payAmount int64, ok bool) {
	if reserveIn <= 0 || reserveOut <= 0 || receiveAmount <= 0 || receiveAmount >= reserveOut {
		return 0, false
	}
	// pay = reserveIn*receiveAmount*10000 / ((reserveOut-receiveAmount)*(10000-feeBps)), rounded up.
	remainingOut := reserveOut - receiveAmount
	denom := remainingOut * (10_000 - a.feeBps)
	if denom <= 0 {
		return 0, false
	}
	num := new(big.Int).Mul(big.NewInt(reserveIn), big.NewInt(receiveAmount))
	num.Mul(num, big.NewInt(10_000))
	q, r := new(big.Int).QuoRem(num, big.NewInt(denom), new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1)) // ceil: the taker never under-pays
	}
	if !q.IsInt64() {
		return 0, false
	}
	return q.Int64(), true
}

func (a *AMM) GetPrice(ctx context.Context, pair model.AssetPair, receiveAmount int64) (int64, bool) {
	q, ok := a.GetDetailedQuote(ctx, pair, receiveAmount)
	if !ok {
		return 0, false
	}
	return q.EffectivePrice, true
}

func (a *AMM) GetDetailedQuote(ctx context.Context, pair model.AssetPair, receiveAmount int64) (*model.VenueQuote, bool) {
	reserveIn, reserveOut, ok := a.reserves(ctx, pair)
	if !ok {
		return nil, false
	}
	pay, ok := a.quoteOut(reserveIn, reserveOut, receiveAmount)
	if !ok {
		return nil, false
	}
	eff, err := pricing.EffectivePrice(receiveAmount, pay)
	if err != nil {
		return nil, false
	}
	return &model.VenueQuote{
		Venue:          a.name,
		ReceiveAmount:  receiveAmount,
		PayAmount:      pay,
		EffectivePrice: eff,
		Metadata: model.QuoteMetadata{
			Kind:    model.VenueAMM,
			Venue:   a.name,
			Payload: encodeAMMPayload(reserveIn, reserveOut, a.slipBps),
		},
	}, true
}

// BuildFragment emits the on-chain swap call against this pool. The
// min-out parameter is FillAmount reduced by the adapter's slippage
// tolerance; the quote itself does not include that tolerance.
func (a *AMM) BuildFragment(ctx context.Context, tx chainclient.TxBuilder, params LegParams) (*Fragment, error) {
	minOut := params.FillAmount * (10_000 - a.slipBps) / 10_000
	poolArg := tx.BytesArg(params.Metadata.Payload)
	payArg := params.PayHandle
	minOutArg := tx.IntArg(minOut)

	outs, err := tx.MoveCall(fmt.Sprintf("%s::pool::swap", a.name), []chainclient.ObjectHandle{poolArg, payArg, minOutArg})
	if err != nil {
		return nil, err
	}
	if len(outs) == 0 {
		return nil, fmt.Errorf("amm swap returned no output handle")
	}
	return &Fragment{OutputHandle: outs[0], Description: fmt.Sprintf("%s swap min_out=%d", a.name, minOut)}, nil
}

func encodeAMMPayload(reserveIn, reserveOut, slipBps int64) []byte {
	return []byte(fmt.Sprintf("%d:%d:%d", reserveIn, reserveOut, slipBps))
}
