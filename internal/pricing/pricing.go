// FILE: pricing.go
// Package pricing is the bit-exact integer price/fill/payment kernel.
//
// Every function here is pure and deterministic: no I/O, no floats, no
// wall-clock. The on-chain settlement contract performs the same integer
// ceiling/floor math, so drift here means submitted transactions abort —
// this package is the one place in the module where "close enough" is a
// bug, not an approximation.
package pricing

import (
	"math/bits"

	"github.com/offermesh/router/internal/model"
)

// Scale is the protocol's fixed-point factor S = 1e9.
const Scale = model.PriceScale

// mulDivCeil returns ceil(a*b/d) using a 128-bit intermediate product so
// a*b never overflows int64. a, b, d must be non-negative; d must be > 0.
func mulDivCeil(a, b, d int64) int64 {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	q, r := bits.Div64(hi, lo, uint64(d))
	if r != 0 {
		q++
	}
	return int64(q)
}

// mulDivFloor returns floor(a*b/d) using a 128-bit intermediate product.
func mulDivFloor(a, b, d int64) int64 {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	q, _ := bits.Div64(hi, lo, uint64(d))
	return int64(q)
}

// Payment returns ceil(fill*price/S): the taker never under-pays.
func Payment(fill, price int64) (int64, error) {
	if fill <= 0 || price <= 0 {
		return 0, model.NewError(model.KindInvalidAmount, "fill and price must be positive", nil)
	}
	return mulDivCeil(fill, price, Scale), nil
}

// PriceFromFillPay returns floor(pay*S/fill).
func PriceFromFillPay(fill, pay int64) (int64, error) {
	if fill <= 0 {
		return 0, model.NewError(model.KindInvalidAmount, "fill must be positive", nil)
	}
	if pay < 0 {
		return 0, model.NewError(model.KindInvalidAmount, "pay must be non-negative", nil)
	}
	return mulDivFloor(pay, Scale, fill), nil
}

// FillForBudget returns floor(budget*S/price): the taker never
// over-receives.
func FillForBudget(budget, price int64) (int64, error) {
	if price <= 0 {
		return 0, model.NewError(model.KindInvalidAmount, "price must be positive", nil)
	}
	if budget < 0 {
		return 0, model.NewError(model.KindInvalidAmount, "budget must be non-negative", nil)
	}
	return mulDivFloor(budget, Scale, price), nil
}

// EffectivePrice returns ceil(pay*S/fill), the per-leg price a router
// records after committing a fill — same rounding direction as Payment so
// the two stay consistent for a given (fill, pay) pair.
func EffectivePrice(fill, pay int64) (int64, error) {
	if fill <= 0 {
		return 0, model.NewError(model.KindInvalidAmount, "fill must be positive", nil)
	}
	if pay < 0 {
		return 0, model.NewError(model.KindInvalidAmount, "pay must be non-negative", nil)
	}
	return mulDivCeil(pay, Scale, fill), nil
}

// WouldLeaveDust reports whether taking `fill` out of `remaining` would
// leave a remainder smaller than minFill — the literal condition
// 0 < remaining-fill < minFill. Equal remainders (fill == remaining) are
// false; fill > remaining is false by definition (callers must clamp
// before calling).
func WouldLeaveDust(remaining, fill, minFill int64) bool {
	leftover := remaining - fill
	return leftover > 0 && leftover < minFill
}

// InBounds reports whether price lies in the inclusive [minPrice, maxPrice]
// band.
func InBounds(price, minPrice, maxPrice int64) bool {
	return price >= minPrice && price <= maxPrice
}

// RangesOverlap reports whether [aMin, aMax] and [bMin, bMax] intersect.
func RangesOverlap(aMin, aMax, bMin, bMax int64) bool {
	return aMin <= bMax && bMin <= aMax
}
