// FILE: composer.go
// Package composer assembles a single atomic settlement transaction from a
// RoutingDecision, per spec.md §4.5. It is venue-aware only through the
// venue.Adapter contract; everything else — splitting the funding coin,
// chaining handles, merging outputs, setting the gas budget — is plumbing
// the composer itself owns. Grounded on the teacher's step()/trader.go
// style of acquiring state, doing the minimum synchronous work, and
// never attempting per-step recovery once a chain call is in flight: if
// any step fails on-chain the whole transaction reverts (spec.md §4.5
// Atomicity), so the composer does not special-case partial failure
// either.
package composer

import (
	"context"
	"fmt"

	"github.com/offermesh/router/internal/chainclient"
	"github.com/offermesh/router/internal/model"
	"github.com/offermesh/router/internal/venue"
)

// GasBudgets configures the ceilings spec.md §4.5/§6 attach to direct
// versus composite routes.
type GasBudgets struct {
	Direct    uint64 // default 50_000_000
	Composite uint64 // default 100_000_000
}

func DefaultGasBudgets() GasBudgets {
	return GasBudgets{Direct: 50_000_000, Composite: 100_000_000}
}

// AdapterRegistry resolves the venue.Adapter responsible for one leg by
// the tag the router recorded in its quote metadata.
type AdapterRegistry interface {
	Adapter(venue model.VenueKind, name string) (venue.Adapter, bool)
}

// Composer builds transactions; it never signs or submits — that is the
// engine's job via chainclient.Submitter, keeping key custody out of this
// package entirely (spec.md §1 Non-goals: no private-key custody here).
type Composer struct {
	client   chainclient.Client
	adapters AdapterRegistry
	gas      GasBudgets
	clockID  chainclient.ObjectID
}

func New(client chainclient.Client, adapters AdapterRegistry, gas GasBudgets, clockID chainclient.ObjectID) *Composer {
	return &Composer{client: client, adapters: adapters, gas: gas, clockID: clockID}
}

// DirectFill composes a single native-leg fill with no intent bound to
// the executor: split an exact payment coin, call fill_full/fill_partial,
// transfer outputs to the recipient.
func (c *Composer) DirectFill(ctx context.Context, decision *model.RoutingDecision, fundingCoin chainclient.ObjectID, recipient string) (chainclient.TxBuilder, error) {
	if len(decision.Legs) != 1 || decision.Legs[0].Venue != model.VenueNative.String() {
		return nil, fmt.Errorf("DirectFill requires exactly one native leg, got %d legs", len(decision.Legs))
	}
	leg := decision.Legs[0]

	tx := c.client.NewTxBuilder()
	tx.SetGasBudget(c.gas.Direct)

	fundingRef := tx.ObjectRef(fundingCoin)
	payCoin, _, err := tx.SplitCoin(fundingRef, leg.PayAmount)
	if err != nil {
		return nil, fmt.Errorf("split funding coin: %w", err)
	}

	adapter, ok := c.adapters.Adapter(model.VenueNative, leg.Venue)
	if !ok {
		return nil, fmt.Errorf("no native adapter registered")
	}
	frag, err := adapter.BuildFragment(ctx, tx, venue.LegParams{
		Pair:       decision.Pair,
		FillAmount: leg.FillAmount,
		PayAmount:  leg.PayAmount,
		Metadata:   leg.Metadata,
		PayHandle:  payCoin,
	})
	if err != nil {
		return nil, fmt.Errorf("build native fragment: %w", err)
	}

	tx.TransferObjects([]chainclient.ObjectHandle{frag.OutputHandle}, recipient)
	return tx, nil
}

// IntentBoundFill composes a single native-leg fill executed on behalf of
// a specific intent: calls execute_against_offer_v2 with the leg's
// effectivePrice as the explicit execution price, or the encrypted
// variant for opaque intents. The encrypted variant receives the same
// arguments as the plain one; no decrypted intent parameters are passed
// to it. This package never talks to the confidentiality collaborator.
func (c *Composer) IntentBoundFill(ctx context.Context, decision *model.RoutingDecision, intentID chainclient.ObjectID, executorCapID chainclient.ObjectID, opaque bool, fundingCoin chainclient.ObjectID, recipient string) (chainclient.TxBuilder, error) {
	if len(decision.Legs) != 1 || decision.Legs[0].Venue != model.VenueNative.String() {
		return nil, fmt.Errorf("IntentBoundFill requires exactly one native leg, got %d legs", len(decision.Legs))
	}
	leg := decision.Legs[0]
	if leg.OfferID == nil {
		return nil, fmt.Errorf("native leg missing offer id")
	}

	tx := c.client.NewTxBuilder()
	tx.SetGasBudget(c.gas.Direct)

	offerRef := tx.ObjectRef(*leg.OfferID)
	intentRef := tx.ObjectRef(intentID)
	capRef := tx.ObjectRef(executorCapID)
	clockRef := tx.ObjectRef(c.clockID)
	fundingRef := tx.ObjectRef(fundingCoin)
	payCoin, _, err := tx.SplitCoin(fundingRef, leg.PayAmount)
	if err != nil {
		return nil, fmt.Errorf("split funding coin: %w", err)
	}
	priceArg := tx.IntArg(leg.EffectivePrice)

	target := "protocol::intent::execute_against_offer_v2"
	if opaque {
		target = "protocol::intent::execute_encrypted_against_offer_v2"
	}
	outs, err := tx.MoveCall(target, []chainclient.ObjectHandle{
		offerRef, intentRef, capRef, payCoin, priceArg, clockRef,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", target, err)
	}
	if len(outs) > 0 {
		tx.TransferObjects(outs, recipient)
	}
	return tx, nil
}

// CompositeSplit composes a multi-leg route: in order, split the
// required payAmount from the running funding handle (the last leg takes
// the remainder), hand the split to the leg's adapter, accumulate output
// handles, then merge same-asset outputs and transfer to the recipient.
func (c *Composer) CompositeSplit(ctx context.Context, decision *model.RoutingDecision, fundingCoin chainclient.ObjectID, recipient string) (chainclient.TxBuilder, error) {
	if len(decision.Legs) < 2 {
		return nil, fmt.Errorf("CompositeSplit requires at least two legs, got %d", len(decision.Legs))
	}

	tx := c.client.NewTxBuilder()
	tx.SetGasBudget(c.gas.Composite)

	funding := tx.ObjectRef(fundingCoin)
	var outputs []chainclient.ObjectHandle

	for i, leg := range decision.Legs {
		last := i == len(decision.Legs)-1

		var payHandle chainclient.ObjectHandle
		if last {
			payHandle = funding // the last leg takes the remainder
		} else {
			split, remainder, err := tx.SplitCoin(funding, leg.PayAmount)
			if err != nil {
				return nil, fmt.Errorf("split leg %d: %w", i, err)
			}
			payHandle = split
			funding = remainder
		}

		kind := model.VenueNative
		if leg.Venue != model.VenueNative.String() {
			kind = leg.Metadata.Kind
		}
		adapter, ok := c.adapters.Adapter(kind, leg.Venue)
		if !ok {
			return nil, fmt.Errorf("no adapter registered for leg %d (venue=%s)", i, leg.Venue)
		}

		frag, err := adapter.BuildFragment(ctx, tx, venue.LegParams{
			Pair:       decision.Pair,
			FillAmount: leg.FillAmount,
			PayAmount:  leg.PayAmount,
			Metadata:   leg.Metadata,
			PayHandle:  payHandle,
		})
		if err != nil {
			return nil, fmt.Errorf("build fragment for leg %d (venue=%s): %w", i, leg.Venue, err)
		}
		outputs = append(outputs, frag.OutputHandle)
	}

	merged := outputs[0]
	if len(outputs) > 1 {
		var err error
		merged, err = tx.MergeCoins(outputs[0], outputs[1:])
		if err != nil {
			return nil, fmt.Errorf("merge outputs: %w", err)
		}
	}
	tx.TransferObjects([]chainclient.ObjectHandle{merged}, recipient)
	return tx, nil
}

// CompositeSplitForIntent runs the same leg-by-leg split/build/merge
// sequence as CompositeSplit, but finishes by settling the merged output
// against the bound intent instead of transferring it straight to the
// recipient — the multi-leg counterpart of IntentBoundFill, for when an
// intent's route spans more than one leg.
func (c *Composer) CompositeSplitForIntent(ctx context.Context, decision *model.RoutingDecision, intentID, executorCapID chainclient.ObjectID, opaque bool, fundingCoin chainclient.ObjectID, recipient string) (chainclient.TxBuilder, error) {
	if len(decision.Legs) < 2 {
		return nil, fmt.Errorf("CompositeSplitForIntent requires at least two legs, got %d", len(decision.Legs))
	}

	tx := c.client.NewTxBuilder()
	tx.SetGasBudget(c.gas.Composite)

	funding := tx.ObjectRef(fundingCoin)
	var outputs []chainclient.ObjectHandle

	for i, leg := range decision.Legs {
		last := i == len(decision.Legs)-1

		var payHandle chainclient.ObjectHandle
		if last {
			payHandle = funding
		} else {
			split, remainder, err := tx.SplitCoin(funding, leg.PayAmount)
			if err != nil {
				return nil, fmt.Errorf("split leg %d: %w", i, err)
			}
			payHandle = split
			funding = remainder
		}

		kind := model.VenueNative
		if leg.Venue != model.VenueNative.String() {
			kind = leg.Metadata.Kind
		}
		adapter, ok := c.adapters.Adapter(kind, leg.Venue)
		if !ok {
			return nil, fmt.Errorf("no adapter registered for leg %d (venue=%s)", i, leg.Venue)
		}

		frag, err := adapter.BuildFragment(ctx, tx, venue.LegParams{
			Pair:       decision.Pair,
			FillAmount: leg.FillAmount,
			PayAmount:  leg.PayAmount,
			Metadata:   leg.Metadata,
			PayHandle:  payHandle,
		})
		if err != nil {
			return nil, fmt.Errorf("build fragment for leg %d (venue=%s): %w", i, leg.Venue, err)
		}
		outputs = append(outputs, frag.OutputHandle)
	}

	merged := outputs[0]
	if len(outputs) > 1 {
		var err error
		merged, err = tx.MergeCoins(outputs[0], outputs[1:])
		if err != nil {
			return nil, fmt.Errorf("merge outputs: %w", err)
		}
	}

	intentRef := tx.ObjectRef(intentID)
	capRef := tx.ObjectRef(executorCapID)
	clockRef := tx.ObjectRef(c.clockID)
	target := "protocol::intent::settle_composite_v2"
	if opaque {
		target = "protocol::intent::settle_composite_encrypted_v2"
	}
	outs, err := tx.MoveCall(target, []chainclient.ObjectHandle{intentRef, capRef, merged, clockRef})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", target, err)
	}
	if len(outs) > 0 {
		tx.TransferObjects(outs, recipient)
	}
	return tx, nil
}
