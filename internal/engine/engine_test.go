package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/offermesh/router/internal/chainclient"
	"github.com/offermesh/router/internal/model"
	"github.com/offermesh/router/internal/router"
)

const S = model.PriceScale

func intentID(n byte) [32]byte {
	var id [32]byte
	id[31] = n
	return id
}

type fakeIntents struct {
	mu      sync.Mutex
	intents []*model.Intent
}

func (f *fakeIntents) PendingIntents(nowMs int64) []*model.Intent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Intent, len(f.intents))
	copy(out, f.intents)
	return out
}

// slowRoute blocks on a channel so tests can observe an intent still
// in-flight when a second tick fires.
type slowRoute struct {
	calls   int32
	release chan struct{}
	decide  *model.RoutingDecision
	err     error
}

func (s *slowRoute) Route(ctx context.Context, pair model.AssetPair, receiveAmount int64, policy router.Policy) (*model.RoutingDecision, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.release != nil {
		<-s.release
	}
	return s.decide, s.err
}

type fakeShim struct{}

func (fakeShim) IsOpaque(intent *model.Intent) bool { return intent.Opaque() }
func (fakeShim) Decrypt(ctx context.Context, intent *model.Intent) (model.DecryptedParams, error) {
	return model.DecryptedParams{ReceiveAmount: 10 * S, MinPrice: S, MaxPrice: 2 * S}, nil
}

type fakeComposer struct {
	calls      int32
	lastOpaque int32 // 0/1, set by whichever of IntentBoundFill/CompositeSplitForIntent last ran
}

func (f *fakeComposer) DirectFill(ctx context.Context, decision *model.RoutingDecision, fundingCoin chainclient.ObjectID, recipient string) (chainclient.TxBuilder, error) {
	atomic.AddInt32(&f.calls, 1)
	return &noopTx{}, nil
}
func (f *fakeComposer) IntentBoundFill(ctx context.Context, decision *model.RoutingDecision, intentID, executorCapID chainclient.ObjectID, opaque bool, fundingCoin chainclient.ObjectID, recipient string) (chainclient.TxBuilder, error) {
	atomic.AddInt32(&f.calls, 1)
	f.setOpaque(opaque)
	return &noopTx{}, nil
}
func (f *fakeComposer) CompositeSplitForIntent(ctx context.Context, decision *model.RoutingDecision, intentID, executorCapID chainclient.ObjectID, opaque bool, fundingCoin chainclient.ObjectID, recipient string) (chainclient.TxBuilder, error) {
	atomic.AddInt32(&f.calls, 1)
	f.setOpaque(opaque)
	return &noopTx{}, nil
}

func (f *fakeComposer) setOpaque(opaque bool) {
	v := int32(0)
	if opaque {
		v = 1
	}
	atomic.StoreInt32(&f.lastOpaque, v)
}

// noopTx satisfies chainclient.TxBuilder with no-ops; the mock client's
// SignAndSubmit type-asserts its own txBuilder, so exercising submission
// here goes through mock.Client directly instead.
type noopTx struct{}

func (noopTx) ObjectRef(id chainclient.ObjectID) chainclient.ObjectHandle { return chainclient.ObjectHandle{} }
func (noopTx) IntArg(v int64) chainclient.ObjectHandle                    { return chainclient.ObjectHandle{} }
func (noopTx) AddressArg(addr string) chainclient.ObjectHandle            { return chainclient.ObjectHandle{} }
func (noopTx) BytesArg(v []byte) chainclient.ObjectHandle                 { return chainclient.ObjectHandle{} }
func (noopTx) MoveCall(target string, args []chainclient.ObjectHandle) ([]chainclient.ObjectHandle, error) {
	return []chainclient.ObjectHandle{{}}, nil
}
func (noopTx) SplitCoin(coin chainclient.ObjectHandle, amount int64) (chainclient.ObjectHandle, chainclient.ObjectHandle, error) {
	return chainclient.ObjectHandle{}, chainclient.ObjectHandle{}, nil
}
func (noopTx) MergeCoins(into chainclient.ObjectHandle, extras []chainclient.ObjectHandle) (chainclient.ObjectHandle, error) {
	return into, nil
}
func (noopTx) TransferObjects(objects []chainclient.ObjectHandle, recipient string) {}
func (noopTx) SetGasBudget(budget uint64)                                          {}

type fakeSubmitter struct {
	calls int32
}

func (f *fakeSubmitter) SignAndSubmit(ctx context.Context, tx chainclient.TxBuilder) (*chainclient.SubmitResult, error) {
	atomic.AddInt32(&f.calls, 1)
	return &chainclient.SubmitResult{Success: true, GasUsed: 1000}, nil
}

func mkIntent(n byte, expiryMs int64) *model.Intent {
	return &model.Intent{
		IntentID:      intentID(n),
		ReceiveAsset:  "B",
		PayAsset:      "A",
		ReceiveAmount: 10 * S,
		MaxPayAmount:  0,
		MinPrice:      S,
		MaxPrice:      2 * S,
		ExpiryMs:      expiryMs,
		Status:        model.IntentPending,
	}
}

var farFuture = int64(9_999_999_999_999)

func TestInFlightIntentNotReprocessedConcurrently(t *testing.T) {
	intent := mkIntent(1, farFuture)
	source := &fakeIntents{intents: []*model.Intent{intent}}
	route := &slowRoute{
		release: make(chan struct{}),
		decide: &model.RoutingDecision{
			TotalReceiveAmount: 10 * S, TotalPayAmount: 15 * S, BlendedPrice: int64(1.5 * float64(S)),
			Legs: []model.RoutingLeg{{Venue: "native", FillAmount: 10 * S, PayAmount: 15 * S}},
		},
	}
	comp := &fakeComposer{}
	sub := &fakeSubmitter{}
	e := New(source, route, fakeShim{}, comp, sub, Config{PollInterval: time.Hour, MaxConcurrent: 4})

	nowMs := time.Now().UnixMilli()
	require.True(t, e.claim(intent, nowMs), "first claim must succeed")
	require.False(t, e.claim(intent, nowMs), "second concurrent claim on the same intent must be rejected")

	e.release(intent.IntentID)
	require.True(t, e.claim(intent, nowMs), "claim must succeed again once released")
}

func TestRecentlyExecutedIntentSkippedWithinTTL(t *testing.T) {
	intent := mkIntent(2, farFuture)
	e := New(&fakeIntents{}, &slowRoute{}, fakeShim{}, &fakeComposer{}, &fakeSubmitter{}, Config{RecentExecutionTTL: time.Minute})

	nowMs := time.Now().UnixMilli()
	require.True(t, e.claim(intent, nowMs))
	e.release(intent.IntentID)
	e.markExecuted(intent.IntentID)

	require.False(t, e.claim(intent, nowMs), "must skip an intent executed within the TTL window")
}

func TestExpiredIntentSkippedAsNonError(t *testing.T) {
	intent := mkIntent(3, 1) // already expired
	e := New(&fakeIntents{}, &slowRoute{}, fakeShim{}, &fakeComposer{}, &fakeSubmitter{}, Config{})
	require.False(t, e.claim(intent, time.Now().UnixMilli()))
}

func TestProcessIntentEndToEndSuccess(t *testing.T) {
	intent := mkIntent(4, farFuture)
	decision := &model.RoutingDecision{
		TotalReceiveAmount: 10 * S, TotalPayAmount: 15 * S, BlendedPrice: int64(1.5 * float64(S)),
		Legs: []model.RoutingLeg{{Venue: "native", FillAmount: 10 * S, PayAmount: 15 * S}},
	}
	route := &slowRoute{decide: decision}
	comp := &fakeComposer{}
	sub := &fakeSubmitter{}
	e := New(&fakeIntents{}, route, fakeShim{}, comp, sub, Config{})

	e.processIntent(context.Background(), intent)
	require.Equal(t, int32(1), atomic.LoadInt32(&comp.calls))
	require.Equal(t, int32(1), atomic.LoadInt32(&sub.calls))
}

// TestProcessIntentOpaqueIntentEndToEnd covers spec.md §8 scenario 6: an
// opaque intent (zero-sentinel amount/bounds) is decrypted, routed using
// the recovered bounds, composed with opaque=true, submitted, and marked
// recently-executed so a later tick skips it.
func TestProcessIntentOpaqueIntentEndToEnd(t *testing.T) {
	intent := &model.Intent{
		IntentID:     intentID(6),
		ReceiveAsset: "B",
		PayAsset:     "A",
		// ReceiveAmount/MinPrice/MaxPrice left at the zero sentinel: opaque.
		ExpiryMs:         farFuture,
		Status:           model.IntentPending,
		EncryptedPayload: []byte("sealed"),
	}
	decision := &model.RoutingDecision{
		TotalReceiveAmount: 10 * S, TotalPayAmount: 15 * S, BlendedPrice: int64(1.5 * float64(S)),
		Legs: []model.RoutingLeg{{Venue: "native", FillAmount: 10 * S, PayAmount: 15 * S}},
	}
	route := &slowRoute{decide: decision}
	comp := &fakeComposer{}
	sub := &fakeSubmitter{}
	e := New(&fakeIntents{}, route, fakeShim{}, comp, sub, Config{RecentExecutionTTL: time.Minute})

	nowMs := time.Now().UnixMilli()
	require.True(t, e.claim(intent, nowMs))
	e.processIntent(context.Background(), intent)
	e.release(intent.IntentID)

	require.Equal(t, int32(1), atomic.LoadInt32(&comp.calls))
	require.Equal(t, int32(1), atomic.LoadInt32(&comp.lastOpaque), "opaque intent must compose with opaque=true")
	require.Equal(t, int32(1), atomic.LoadInt32(&sub.calls))
	require.False(t, e.claim(intent, nowMs), "a just-executed intent must be skipped on the next tick within the TTL")
}

func TestProcessIntentRejectsOutOfBoundsPrice(t *testing.T) {
	intent := mkIntent(5, farFuture)
	decision := &model.RoutingDecision{
		TotalReceiveAmount: 10 * S, TotalPayAmount: 30 * S, BlendedPrice: 3 * S, // above intent.MaxPrice=2S
		Legs: []model.RoutingLeg{{Venue: "native", FillAmount: 10 * S, PayAmount: 30 * S}},
	}
	route := &slowRoute{decide: decision}
	comp := &fakeComposer{}
	sub := &fakeSubmitter{}
	e := New(&fakeIntents{}, route, fakeShim{}, comp, sub, Config{})

	e.processIntent(context.Background(), intent)
	require.Equal(t, int32(0), atomic.LoadInt32(&comp.calls), "an out-of-bounds route must never reach the composer")
}
