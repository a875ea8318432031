// FILE: engine.go
// Package engine is the long-running tick loop of spec.md §4.6: gather
// pending intents, dedup against in-flight and recently-executed work,
// route, validate, compose, sign, submit, record the outcome. Cadence
// and state-mutation shape follow the teacher's runLive/Trader.step:
// a ticker-driven loop, one mutex guarding the in-flight and
// recently-executed maps for every intent, and metrics updated alongside every state transition rather than in a
// separate pass.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/offermesh/router/internal/chainclient"
	"github.com/offermesh/router/internal/composer"
	"github.com/offermesh/router/internal/metrics"
	"github.com/offermesh/router/internal/model"
	"github.com/offermesh/router/internal/router"
)

// IntentSource is the read-only view the engine needs of the liquidity
// cache.
type IntentSource interface {
	PendingIntents(nowMs int64) []*model.Intent
}

// Routable is the subset of router.Router the engine depends on, so
// tests can substitute a fixed decision without building a real book.
type Routable interface {
	Route(ctx context.Context, pair model.AssetPair, receiveAmount int64, policy router.Policy) (*model.RoutingDecision, error)
}

// ConfidentialityShim resolves opaque intents. Matches
// internal/confidential.Shim without importing it, keeping the engine
// free to run against a stub in tests.
type ConfidentialityShim interface {
	IsOpaque(intent *model.Intent) bool
	Decrypt(ctx context.Context, intent *model.Intent) (model.DecryptedParams, error)
}

// Composable is the subset of *composer.Composer the engine drives.
type Composable interface {
	DirectFill(ctx context.Context, decision *model.RoutingDecision, fundingCoin chainclient.ObjectID, recipient string) (chainclient.TxBuilder, error)
	IntentBoundFill(ctx context.Context, decision *model.RoutingDecision, intentID, executorCapID chainclient.ObjectID, opaque bool, fundingCoin chainclient.ObjectID, recipient string) (chainclient.TxBuilder, error)
	CompositeSplitForIntent(ctx context.Context, decision *model.RoutingDecision, intentID, executorCapID chainclient.ObjectID, opaque bool, fundingCoin chainclient.ObjectID, recipient string) (chainclient.TxBuilder, error)
}

var _ Composable = (*composer.Composer)(nil)

// Config tunes the tick loop per spec.md §4.6.
type Config struct {
	PollInterval       time.Duration // default 2s
	RecentExecutionTTL time.Duration // default 60s
	MaxConcurrent      int           // default 8, bounded worker pool per tick
	ExecutorCapID      chainclient.ObjectID
	FundingCoin        chainclient.ObjectID
	Recipient          string

	// Policy is threaded into every Route call this engine makes. The
	// zero value is replaced with router.DefaultPolicy() in New.
	Policy router.Policy
}

func defaultConfig(cfg Config) Config {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.RecentExecutionTTL <= 0 {
		cfg.RecentExecutionTTL = 60 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.Policy == (router.Policy{}) {
		cfg.Policy = router.DefaultPolicy()
	}
	return cfg
}

// Engine drives intents from the cache through the router, composer, and
// chain client, one tick at a time.
type Engine struct {
	cfg      Config
	intents  IntentSource
	route    Routable
	shim     ConfidentialityShim
	compose  Composable
	submit   chainclient.Submitter
	now      func() time.Time

	mu               sync.Mutex
	inFlight         map[[32]byte]bool
	recentlyExecuted map[[32]byte]time.Time

	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(intents IntentSource, route Routable, shim ConfidentialityShim, compose Composable, submit chainclient.Submitter, cfg Config) *Engine {
	return &Engine{
		cfg:              defaultConfig(cfg),
		intents:          intents,
		route:            route,
		shim:             shim,
		compose:          compose,
		submit:           submit,
		now:              time.Now,
		inFlight:         make(map[[32]byte]bool),
		recentlyExecuted: make(map[[32]byte]time.Time),
	}
}

// Start runs the tick loop in a background goroutine until Stop is
// called or ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.startedAt = e.now()
	metrics.StartedAt.Set(float64(e.startedAt.Unix()))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx)
	}()
}

func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick implements spec.md §4.6 steps 1-3: gather, filter, and process
// every eligible pending intent, bounded to MaxConcurrent in flight at
// once.
func (e *Engine) tick(ctx context.Context) {
	nowMs := e.now().UnixMilli()
	pending := e.intents.PendingIntents(nowMs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrent)

	for _, intent := range pending {
		intent := intent
		if !e.claim(intent, nowMs) {
			continue
		}
		g.Go(func() error {
			defer e.release(intent.IntentID)
			e.processIntent(gctx, intent)
			return nil
		})
	}
	_ = g.Wait()
	e.pruneRecentlyExecuted()
}

// claim returns true if this intent may be processed now: not already
// in flight, not within the recent-execution TTL, and not expired.
// Expired intents are a non-error skip per spec.md §4.6 step 2.
func (e *Engine) claim(intent *model.Intent, nowMs int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if intent.Expired(nowMs) {
		metrics.IntentsSkipped.WithLabelValues("expired").Inc()
		return false
	}
	if e.inFlight[intent.IntentID] {
		metrics.IntentsSkipped.WithLabelValues("in_flight").Inc()
		return false
	}
	if last, ok := e.recentlyExecuted[intent.IntentID]; ok && time.Since(last) < e.cfg.RecentExecutionTTL {
		metrics.IntentsSkipped.WithLabelValues("recently_executed").Inc()
		return false
	}
	e.inFlight[intent.IntentID] = true
	return true
}

func (e *Engine) release(id [32]byte) {
	e.mu.Lock()
	delete(e.inFlight, id)
	e.mu.Unlock()
}

func (e *Engine) markExecuted(id [32]byte) {
	e.mu.Lock()
	e.recentlyExecuted[id] = time.Now()
	e.mu.Unlock()
}

func (e *Engine) pruneRecentlyExecuted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	cutoff := time.Now().Add(-e.cfg.RecentExecutionTTL)
	for id, t := range e.recentlyExecuted {
		if t.Before(cutoff) {
			delete(e.recentlyExecuted, id)
		}
	}
}

func (e *Engine) pairLabel(intent *model.Intent) string {
	return intent.PayAsset + "/" + intent.ReceiveAsset
}

// processIntent runs spec.md §4.6 step 3's inner body for one intent:
// decrypt-if-opaque, route, validate, compose, submit, record.
func (e *Engine) processIntent(ctx context.Context, intent *model.Intent) {
	pair := model.AssetPair{Offer: intent.PayAsset, Want: intent.ReceiveAsset}
	metrics.IntentsProcessed.WithLabelValues(e.pairLabel(intent)).Inc()

	receiveAmount, minPrice, maxPrice, maxPay, opaque := intent.ReceiveAmount, intent.MinPrice, intent.MaxPrice, intent.MaxPayAmount, false
	if e.shim.IsOpaque(intent) {
		opaque = true
		params, err := e.shim.Decrypt(ctx, intent)
		if err != nil {
			log.Printf("engine: decrypt intent %x failed, skipping: %v", intent.IntentID, err)
			metrics.IntentsSkipped.WithLabelValues("confidentiality_miss").Inc()
			return
		}
		receiveAmount, minPrice, maxPrice = params.ReceiveAmount, params.MinPrice, params.MaxPrice
	}

	decision, err := e.route.Route(ctx, pair, receiveAmount, e.cfg.Policy)
	if err != nil {
		e.fail(intent, "route_error", err)
		return
	}
	if decision == nil {
		e.skip(intent, "no_route", fmt.Errorf("no liquidity for %s", e.pairLabel(intent)))
		return
	}

	if err := validateDecision(decision, minPrice, maxPrice, maxPay); err != nil {
		e.skip(intent, "constraint_violation", err)
		return
	}

	tx, err := e.composeFor(ctx, decision, intent, opaque)
	if err != nil {
		e.fail(intent, "compose_error", err)
		return
	}

	result, err := e.submit.SignAndSubmit(ctx, tx)
	if err != nil {
		e.fail(intent, "submission_failed", err)
		return
	}
	if !result.Success {
		e.fail(intent, "submission_failed", fmt.Errorf("submission reported failure: %s", result.Error))
		return
	}

	e.markExecuted(intent.IntentID)
	metrics.IntentsExecuted.WithLabelValues(e.pairLabel(intent)).Inc()
	metrics.TotalGasUsed.Add(float64(result.GasUsed))
}

func (e *Engine) composeFor(ctx context.Context, decision *model.RoutingDecision, intent *model.Intent, opaque bool) (chainclient.TxBuilder, error) {
	if len(decision.Legs) == 1 {
		return e.compose.IntentBoundFill(ctx, decision, intent.IntentID, e.cfg.ExecutorCapID, opaque, e.cfg.FundingCoin, e.cfg.Recipient)
	}
	return e.compose.CompositeSplitForIntent(ctx, decision, intent.IntentID, e.cfg.ExecutorCapID, opaque, e.cfg.FundingCoin, e.cfg.Recipient)
}

func (e *Engine) fail(intent *model.Intent, reason string, err error) {
	log.Printf("engine: intent %x failed (%s): %v", intent.IntentID, reason, err)
	metrics.IntentsFailed.WithLabelValues(e.pairLabel(intent), reason).Inc()
}

// skip records a regular, non-error outcome per spec.md §7: no liquidity
// or an out-of-bounds route is not a failure, it is a skip that may
// resolve on a later tick once the book or quotes change.
func (e *Engine) skip(intent *model.Intent, reason string, err error) {
	log.Printf("engine: intent %x skipped (%s): %v", intent.IntentID, reason, err)
	metrics.IntentsSkipped.WithLabelValues(reason).Inc()
}

// validateDecision rejects a route that would violate the intent's
// bounds, per spec.md §4.6 step 3.
func validateDecision(decision *model.RoutingDecision, minPrice, maxPrice, maxPayAmount int64) error {
	if decision.BlendedPrice < minPrice || decision.BlendedPrice > maxPrice {
		return model.NewError(model.KindRouteConstraintViolation,
			fmt.Sprintf("blended price %d outside [%d, %d]", decision.BlendedPrice, minPrice, maxPrice), nil)
	}
	if maxPayAmount > 0 && decision.TotalPayAmount > maxPayAmount {
		return model.NewError(model.KindRouteConstraintViolation,
			fmt.Sprintf("total pay %d exceeds maxPayAmount %d", decision.TotalPayAmount, maxPayAmount), nil)
	}
	return nil
}

// Quote runs only the routing step, for the UI collaborator to display
// prices without executing anything (spec.md §4.6 Quoting mode).
func (e *Engine) Quote(ctx context.Context, pair model.AssetPair, receiveAmount int64) (*model.RoutingDecision, error) {
	return e.route.Route(ctx, pair, receiveAmount, e.cfg.Policy)
}
