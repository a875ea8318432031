// FILE: cache.go
// Package cache is the event-driven liquidity cache: offers and intents
// keyed by id, a pair-indexed view over active offers, and an ingestion
// worker that is the sole writer. Readers take point-in-time snapshots
// under RLock the way teacher's Trader takes its lock to read/update
// in-memory state but releases it around anything that leaves the
// process (trader.go) — here, the "leaves the process" part is the
// ingestion worker's subscribe/poll call, not a query.
package cache

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/offermesh/router/internal/chainclient"
	"github.com/offermesh/router/internal/model"
)

// Cache is the authoritative in-memory store for one process lifetime.
// Per spec.md §3, restart repopulates from chain history; nothing here is
// persisted.
type Cache struct {
	mu      sync.RWMutex
	offers  map[[32]byte]*model.Offer
	intents map[[32]byte]*model.Intent
	pairIdx map[model.AssetPair][][32]byte // offerAsset/wantAsset -> offer ids

	client    chainclient.EventSource
	packageID string
	pollEvery time.Duration
	batchSize int

	backoffBase time.Duration
	backoffMax  time.Duration

	cursor string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures the ingestion worker.
type Config struct {
	PackageID     string
	PollInterval  time.Duration // default 5s, per spec.md §6
	BatchSize     int           // default 500
	BackoffBase   time.Duration // default 500ms
	BackoffMax    time.Duration // default 30s
}

func New(client chainclient.EventSource, cfg Config) *Cache {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	return &Cache{
		offers:    make(map[[32]byte]*model.Offer),
		intents:   make(map[[32]byte]*model.Intent),
		pairIdx:   make(map[model.AssetPair][][32]byte),
		client:    client,
		packageID: cfg.PackageID,
		pollEvery: cfg.PollInterval,
		batchSize: cfg.BatchSize,

		backoffBase: cfg.BackoffBase,
		backoffMax:  cfg.BackoffMax,
	}
}

// Start establishes the subscription-or-poll ingestion loop. It is the
// sole writer to the cache for the lifetime of the process (spec.md §5).
func (c *Cache) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop tears down the ingestion loop and waits for it to exit.
func (c *Cache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Cache) run(ctx context.Context) {
	defer c.wg.Done()

	if ch, err := c.client.Subscribe(ctx, c.packageID); err == nil {
		c.consumeSubscription(ctx, ch)
		return
	}
	c.poll(ctx)
}

// consumeSubscription drains a push subscription until it closes or ctx is
// done, then falls back to polling with exponential backoff, per
// spec.md §4.3's "Transient subscription errors trigger fallback to
// polling".
func (c *Cache) consumeSubscription(ctx context.Context, ch <-chan chainclient.RawEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				log.Printf("cache: subscription closed, falling back to polling")
				c.poll(ctx)
				return
			}
			c.Apply(ev)
		}
	}
}

func (c *Cache) poll(ctx context.Context) {
	backoff := c.backoffBase

	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, cursor, err := c.client.PollEvents(ctx, c.packageID, c.cursor, c.batchSize)
			if err != nil {
				log.Printf("cache: poll error, backing off %s: %v", backoff, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > c.backoffMax {
					backoff = c.backoffMax
				}
				continue
			}
			backoff = c.backoffBase
			c.cursor = cursor
			for _, ev := range batch {
				c.Apply(ev)
			}
		}
	}
}

// Apply decodes and applies one raw event. Unknown event types are
// ignored; malformed payloads are logged and skipped — the cache never
// panics on bad input (spec.md §4.3, §7 EventMalformed).
func (c *Cache) Apply(raw chainclient.RawEvent) {
	ev, err := decode(raw)
	if err != nil {
		log.Printf("cache: skipping malformed event %s: %v", raw.TypeTag, err)
		return
	}
	if ev == nil {
		return // unknown type tag, ignored per spec
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ev.apply(c)
}

// --- writer-side helpers (must hold c.mu for writing) ---

func (c *Cache) upsertOfferLocked(o *model.Offer) {
	if existing, ok := c.offers[o.OfferID]; ok {
		// Creation for a known id is idempotent; never resurrect a
		// terminal offer or move remainingAmount backwards.
		_ = existing
		return
	}
	c.offers[o.OfferID] = o
	pair := model.AssetPair{Offer: o.OfferAsset, Want: o.WantAsset}
	c.pairIdx[pair] = append(c.pairIdx[pair], o.OfferID)
}

func (c *Cache) mutateOfferLocked(id [32]byte, f func(o *model.Offer) bool) {
	o, ok := c.offers[id]
	if !ok {
		return // event for an offer we never saw created; skip, not fatal
	}
	f(o)
	o.LastUpdatedAt = time.Now().UTC()
}

func (c *Cache) upsertIntentLocked(i *model.Intent) {
	if _, ok := c.intents[i.IntentID]; ok {
		return
	}
	c.intents[i.IntentID] = i
}

func (c *Cache) mutateIntentLocked(id [32]byte, f func(i *model.Intent)) {
	i, ok := c.intents[id]
	if !ok {
		return
	}
	f(i)
}

// --- queries ---

// ActiveOffers returns offers for the given pair with status in
// {Created, PartiallyFilled}, unexpired, with remainingAmount > 0, sorted
// by minPrice ascending then remainingAmount descending (spec.md §4.3).
func (c *Cache) ActiveOffers(pair model.AssetPair, nowMs int64) []*model.Offer {
	c.mu.RLock()
	ids := c.pairIdx[pair]
	out := make([]*model.Offer, 0, len(ids))
	for _, id := range ids {
		o := c.offers[id]
		if o == nil {
			continue
		}
		if !o.Status.IsActive() {
			continue
		}
		if o.Expired(nowMs) {
			continue
		}
		if o.RemainingAmount <= 0 {
			continue
		}
		// Snapshot the offer so a concurrent mutation after this point
		// cannot be observed as a regression by the caller (spec.md §4.3
		// consistency contract).
		cp := *o
		out = append(out, &cp)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].MinPrice != out[j].MinPrice {
			return out[i].MinPrice < out[j].MinPrice
		}
		return out[i].RemainingAmount > out[j].RemainingAmount
	})
	return out
}

// PendingIntents returns intents in Pending status that have not expired.
func (c *Cache) PendingIntents(nowMs int64) []*model.Intent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*model.Intent, 0)
	for _, i := range c.intents {
		if i.Status != model.IntentPending {
			continue
		}
		if i.Expired(nowMs) {
			continue
		}
		cp := *i
		out = append(out, &cp)
	}
	return out
}

// Offer looks up one offer by id.
func (c *Cache) Offer(id [32]byte) (*model.Offer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.offers[id]
	if !ok {
		return nil, false
	}
	cp := *o
	return &cp, true
}

// Intent looks up one intent by id.
func (c *Cache) Intent(id [32]byte) (*model.Intent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.intents[id]
	if !ok {
		return nil, false
	}
	cp := *i
	return &cp, true
}
