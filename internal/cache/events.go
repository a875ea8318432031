// FILE: events.go
// Package cache — event schema decoding. Type tags are matched by suffix
// (spec.md §6: "each event carries a type tag ending in one of the
// documented names"), since the fully-qualified Move type also carries the
// deploying package's address, which the cache doesn't need to care about.
package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/offermesh/router/internal/chainclient"
	"github.com/offermesh/router/internal/model"
)

// event is applied while c.mu is held for writing.
type event interface {
	apply(c *Cache)
}

// decode maps a RawEvent onto a typed event. Unknown type tags return
// (nil, nil) — ignored, not an error. Malformed payloads (a required
// field present but the wrong shape) return an error so the caller logs
// and skips per spec.md §7 EventMalformed.
func decode(raw chainclient.RawEvent) (event, error) {
	switch {
	case hasSuffix(raw.TypeTag, "OfferCreated", "OfferCreatedV2"):
		return decodeOfferCreated(raw.Fields)
	case hasSuffix(raw.TypeTag, "OfferFilled"):
		return decodeOfferFilled(raw.Fields)
	case hasSuffix(raw.TypeTag, "OfferWithdrawn"):
		return decodeOfferTerminal(raw.Fields, model.OfferWithdrawn)
	case hasSuffix(raw.TypeTag, "OfferExpired"):
		return decodeOfferTerminal(raw.Fields, model.OfferExpired)
	case hasSuffix(raw.TypeTag, "EncryptedIntentSubmitted"):
		return decodeOpaqueIntentSubmitted(raw.Fields)
	case hasSuffix(raw.TypeTag, "IntentSubmitted", "IntentSubmittedV2"):
		return decodeIntentSubmitted(raw.Fields)
	case hasSuffix(raw.TypeTag, "IntentExecuted"):
		return decodeIntentTerminal(raw.Fields, model.IntentExecuted)
	case hasSuffix(raw.TypeTag, "IntentCancelled"):
		return decodeIntentTerminal(raw.Fields, model.IntentCancelled)
	case hasSuffix(raw.TypeTag, "IntentExpired"):
		return decodeIntentTerminal(raw.Fields, model.IntentExpired)
	default:
		return nil, nil
	}
}

func hasSuffix(tag string, suffixes ...string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(tag, s) {
			return true
		}
	}
	return false
}

// --- field helpers ---

func fieldString(f map[string]any, key string) (string, error) {
	v, ok := f[key]
	if !ok {
		return "", fmt.Errorf("missing field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q: expected string, got %T", key, v)
	}
	return s, nil
}

func fieldInt64(f map[string]any, key string, def int64) (int64, error) {
	v, ok := f[key]
	if !ok {
		return def, nil // missing optional fields fall back to documented defaults
	}
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case int64:
		return t, nil
	case string:
		var n int64
		if _, err := fmt.Sscanf(t, "%d", &n); err != nil {
			return 0, fmt.Errorf("field %q: not an integer: %q", key, t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("field %q: unsupported type %T", key, v)
	}
}

func fieldHash(f map[string]any, key string) ([32]byte, error) {
	s, err := fieldString(f, key)
	if err != nil {
		return [32]byte{}, err
	}
	return common.HexToHash(s), nil
}

func fieldFillPolicy(f map[string]any, key string) (model.FillPolicy, error) {
	n, err := fieldInt64(f, key, int64(model.FillPolicyFullOnly))
	if err != nil {
		return 0, err
	}
	switch n {
	case 0:
		return model.FillPolicyFullOnly, nil
	case 1:
		return model.FillPolicyPartial, nil
	case 2:
		return model.FillPolicyPartialGated, nil
	default:
		return 0, fmt.Errorf("field %q: unknown fill_policy %d", key, n)
	}
}

// --- offer events ---

type offerCreatedEvent struct{ o *model.Offer }

func decodeOfferCreated(f map[string]any) (event, error) {
	id, err := fieldHash(f, "offer_id")
	if err != nil {
		return nil, err
	}
	maker, err := fieldString(f, "maker")
	if err != nil {
		return nil, err
	}
	offerAsset, err := fieldString(f, "offer_asset")
	if err != nil {
		return nil, err
	}
	wantAsset, err := fieldString(f, "want_asset")
	if err != nil {
		return nil, err
	}
	amount, err := fieldInt64(f, "initial_amount", 0)
	if err != nil {
		return nil, err
	}
	minPrice, err := fieldInt64(f, "min_price", 0)
	if err != nil {
		return nil, err
	}
	maxPrice, err := fieldInt64(f, "max_price", minPrice)
	if err != nil {
		return nil, err
	}
	policy, err := fieldFillPolicy(f, "fill_policy")
	if err != nil {
		return nil, err
	}
	minFill, err := fieldInt64(f, "min_fill_amount", amount)
	if err != nil {
		return nil, err
	}
	expiry, err := fieldInt64(f, "expiry_ms", 0)
	if err != nil {
		return nil, err
	}

	return &offerCreatedEvent{o: &model.Offer{
		OfferID:         id,
		Maker:           maker,
		OfferAsset:      offerAsset,
		WantAsset:       wantAsset,
		InitialAmount:   amount,
		RemainingAmount: amount,
		MinPrice:        minPrice,
		MaxPrice:        maxPrice,
		FillPolicy:      policy,
		MinFillAmount:   minFill,
		ExpiryMs:        expiry,
		Status:          model.OfferCreated,
		LastUpdatedAt:   time.Now().UTC(),
	}}, nil
}

func (e *offerCreatedEvent) apply(c *Cache) { c.upsertOfferLocked(e.o) }

type offerFilledEvent struct {
	id         [32]byte
	fillAmount int64
}

func decodeOfferFilled(f map[string]any) (event, error) {
	id, err := fieldHash(f, "offer_id")
	if err != nil {
		return nil, err
	}
	amount, err := fieldInt64(f, "fill_amount", 0)
	if err != nil {
		return nil, err
	}
	return &offerFilledEvent{id: id, fillAmount: amount}, nil
}

func (e *offerFilledEvent) apply(c *Cache) {
	c.mutateOfferLocked(e.id, func(o *model.Offer) bool {
		if o.Status.IsTerminal() {
			return false // monotone: a terminal offer never un-terminates
		}
		remaining := o.RemainingAmount - e.fillAmount
		if remaining < 0 {
			remaining = 0 // never let remainingAmount go negative on replay/out-of-order delivery
		}
		o.RemainingAmount = remaining
		o.TotalFilled += e.fillAmount
		o.FillCount++
		if remaining == 0 {
			o.Status = model.OfferFilled
		} else {
			o.Status = model.OfferPartiallyFilled
		}
		return true
	})
}

func decodeOfferTerminal(f map[string]any, status model.OfferStatus) (event, error) {
	id, err := fieldHash(f, "offer_id")
	if err != nil {
		return nil, err
	}
	return &offerTerminalEvent{id: id, status: status}, nil
}

type offerTerminalEvent struct {
	id     [32]byte
	status model.OfferStatus
}

func (e *offerTerminalEvent) apply(c *Cache) {
	c.mutateOfferLocked(e.id, func(o *model.Offer) bool {
		if o.Status.IsTerminal() {
			return false
		}
		o.Status = e.status
		return true
	})
}

// --- intent events ---

type intentSubmittedEvent struct{ i *model.Intent }

func decodeIntentSubmitted(f map[string]any) (event, error) {
	id, err := fieldHash(f, "intent_id")
	if err != nil {
		return nil, err
	}
	creator, err := fieldString(f, "creator")
	if err != nil {
		return nil, err
	}
	receiveAsset, err := fieldString(f, "receive_asset")
	if err != nil {
		return nil, err
	}
	payAsset, err := fieldString(f, "pay_asset")
	if err != nil {
		return nil, err
	}
	receiveAmount, err := fieldInt64(f, "receive_amount", 0)
	if err != nil {
		return nil, err
	}
	maxPay, err := fieldInt64(f, "max_pay_amount", 0)
	if err != nil {
		return nil, err
	}
	minPrice, err := fieldInt64(f, "min_price", 0)
	if err != nil {
		return nil, err
	}
	maxPrice, err := fieldInt64(f, "max_price", 0)
	if err != nil {
		return nil, err
	}
	expiry, err := fieldInt64(f, "expiry_ms", 0)
	if err != nil {
		return nil, err
	}

	return &intentSubmittedEvent{i: &model.Intent{
		IntentID:      id,
		Creator:       creator,
		ReceiveAsset:  receiveAsset,
		PayAsset:      payAsset,
		ReceiveAmount: receiveAmount,
		MaxPayAmount:  maxPay,
		MinPrice:      minPrice,
		MaxPrice:      maxPrice,
		ExpiryMs:      expiry,
		Status:        model.IntentPending,
	}}, nil
}

func decodeOpaqueIntentSubmitted(f map[string]any) (event, error) {
	id, err := fieldHash(f, "intent_id")
	if err != nil {
		return nil, err
	}
	creator, err := fieldString(f, "creator")
	if err != nil {
		return nil, err
	}
	receiveAsset, _ := fieldString(f, "receive_asset")
	payAsset, _ := fieldString(f, "pay_asset")
	expiry, err := fieldInt64(f, "expiry_ms", 0)
	if err != nil {
		return nil, err
	}
	// Sentinel: receive_amount = min_price = max_price = 0 marks opaque.
	return &intentSubmittedEvent{i: &model.Intent{
		IntentID:     id,
		Creator:      creator,
		ReceiveAsset: receiveAsset,
		PayAsset:     payAsset,
		ExpiryMs:     expiry,
		Status:       model.IntentPending,
	}}, nil
}

func (e *intentSubmittedEvent) apply(c *Cache) { c.upsertIntentLocked(e.i) }

func decodeIntentTerminal(f map[string]any, status model.IntentStatus) (event, error) {
	id, err := fieldHash(f, "intent_id")
	if err != nil {
		return nil, err
	}
	return &intentTerminalEvent{id: id, status: status}, nil
}

type intentTerminalEvent struct {
	id     [32]byte
	status model.IntentStatus
}

func (e *intentTerminalEvent) apply(c *Cache) {
	c.mutateIntentLocked(e.id, func(i *model.Intent) {
		if i.Status != model.IntentPending {
			return // terminal once set; Pending is the only non-terminal state
		}
		i.Status = e.status
	})
}
