// Package model holds the protocol's shared data types: offers, intents,
// venue quotes, routing legs/decisions, events and the error taxonomy.
// Nothing here performs I/O; it is the vocabulary every other package
// shares.
package model

import "time"

// PriceScale is S from the spec: prices are want-asset-per-offer-asset,
// scaled by this factor. 1e9.
const PriceScale int64 = 1_000_000_000

// FillPolicy controls whether an offer may be partially filled.
type FillPolicy int

const (
	FillPolicyFullOnly FillPolicy = iota
	FillPolicyPartial
	FillPolicyPartialGated
)

func (p FillPolicy) String() string {
	switch p {
	case FillPolicyFullOnly:
		return "FullOnly"
	case FillPolicyPartial:
		return "Partial"
	case FillPolicyPartialGated:
		return "PartialGated"
	default:
		return "Unknown"
	}
}

// OfferStatus is the lifecycle state of an Offer.
type OfferStatus int

const (
	OfferCreated OfferStatus = iota
	OfferPartiallyFilled
	OfferFilled
	OfferExpired
	OfferWithdrawn
)

func (s OfferStatus) String() string {
	switch s {
	case OfferCreated:
		return "Created"
	case OfferPartiallyFilled:
		return "PartiallyFilled"
	case OfferFilled:
		return "Filled"
	case OfferExpired:
		return "Expired"
	case OfferWithdrawn:
		return "Withdrawn"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether status can never change again.
func (s OfferStatus) IsTerminal() bool {
	return s == OfferFilled || s == OfferExpired || s == OfferWithdrawn
}

// IsActive reports whether an offer in this status may still be queried
// as available liquidity (expiry/remaining checks are separate).
func (s OfferStatus) IsActive() bool {
	return s == OfferCreated || s == OfferPartiallyFilled
}

// IntentStatus is the lifecycle state of an Intent.
type IntentStatus int

const (
	IntentPending IntentStatus = iota
	IntentExecuted
	IntentCancelled
	IntentExpired
)

func (s IntentStatus) String() string {
	switch s {
	case IntentPending:
		return "Pending"
	case IntentExecuted:
		return "Executed"
	case IntentCancelled:
		return "Cancelled"
	case IntentExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// AssetPair identifies a directed trading pair: receive per pay.
type AssetPair struct {
	Offer string // offerAsset / payAsset depending on context
	Want  string // wantAsset / receiveAsset depending on context
}

// Offer is a maker's escrowed supply of one asset at a bounded price band.
type Offer struct {
	OfferID         [32]byte
	Maker           string
	OfferAsset      string
	WantAsset       string
	InitialAmount   int64
	RemainingAmount int64
	MinPrice        int64 // scaled by PriceScale
	MaxPrice        int64 // scaled by PriceScale
	FillPolicy      FillPolicy
	MinFillAmount   int64
	ExpiryMs        int64
	Status          OfferStatus
	TotalFilled     int64
	FillCount       int64
	LastUpdatedAt   time.Time
}

// Expired reports whether the offer's expiry has passed as of now (ms).
func (o *Offer) Expired(nowMs int64) bool {
	return o.ExpiryMs <= nowMs
}

// Intent is a taker's bounded-price demand.
type Intent struct {
	IntentID      [32]byte
	Creator       string
	ReceiveAsset  string
	PayAsset      string
	ReceiveAmount int64
	MaxPayAmount  int64
	MinPrice      int64
	MaxPrice      int64
	ExpiryMs      int64
	Status        IntentStatus

	// EncryptedPayload carries the sealed parameters for an opaque intent
	// (spec.md §4.7); empty for ordinary intents.
	EncryptedPayload []byte
}

// Opaque reports whether the intent's real parameters are hidden behind
// the confidentiality collaborator, per spec.md's zero sentinel.
func (i *Intent) Opaque() bool {
	return i.ReceiveAmount == 0 && i.MinPrice == 0 && i.MaxPrice == 0
}

func (i *Intent) Expired(nowMs int64) bool {
	return i.ExpiryMs <= nowMs
}

// DecryptedParams are an opaque intent's real parameters once recovered
// from the confidentiality collaborator.
type DecryptedParams struct {
	ReceiveAmount int64
	MinPrice      int64
	MaxPrice      int64
}

// VenueKind tags the variant carried by VenueQuote/RoutingLeg metadata, per
// spec.md §9's "tagged variant over known venue kinds plus an opaque byte
// payload".
type VenueKind int

const (
	VenueNative VenueKind = iota
	VenueAMM
	VenueCLOB
)

func (k VenueKind) String() string {
	switch k {
	case VenueNative:
		return "native"
	case VenueAMM:
		return "amm"
	case VenueCLOB:
		return "clob"
	default:
		return "unknown"
	}
}

// QuoteMetadata is the opaque payload a venue adapter attaches to a quote;
// the router never interprets it, only the adapter that produced it does
// (in BuildFragment).
type QuoteMetadata struct {
	Kind    VenueKind
	Venue   string
	Payload []byte // adapter-specific encoding (pool handle, direction flag, sqrt-price, ...)
}

// VenueQuote is what an adapter returns from GetDetailedQuote.
type VenueQuote struct {
	Venue          string
	ReceiveAmount  int64
	PayAmount      int64
	EffectivePrice int64 // ceil(PayAmount * S / ReceiveAmount)
	Metadata       QuoteMetadata
}

// RoutingLeg is one venue's contribution to a route.
type RoutingLeg struct {
	Venue          string
	FillAmount     int64
	PayAmount      int64
	EffectivePrice int64
	OfferID        *[32]byte // set when Venue == "native"
	Metadata       QuoteMetadata
}

// RoutingDecision is the router's output for one search.
type RoutingDecision struct {
	Pair              AssetPair
	TotalReceiveAmount int64
	TotalPayAmount     int64
	BlendedPrice       int64
	Legs               []RoutingLeg
	IsSplit            bool
	ComputedAt         time.Time
}
