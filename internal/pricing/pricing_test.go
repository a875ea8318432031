package pricing

import (
	"math/bits"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/offermesh/router/internal/model"
)

func TestPaymentCeilingRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 5000; i++ {
		fill := int64(1 + rng.Intn(1_000_000_000))
		price := int64(1 + rng.Intn(1_000_000_000))

		pay, err := Payment(fill, price)
		require.NoError(t, err)

		hi, lo := bits.Mul64(uint64(fill), uint64(price))
		// fill*price <= pay*S
		payS_hi, payS_lo := bits.Mul64(uint64(pay), uint64(Scale))
		require.False(t, less128(payS_hi, payS_lo, hi, lo), "payment*S must be >= fill*price")

		// fill*price > (pay-1)*S, when pay > 0
		if pay > 0 {
			prevHi, prevLo := bits.Mul64(uint64(pay-1), uint64(Scale))
			require.True(t, less128(prevHi, prevLo, hi, lo), "(payment-1)*S must be < fill*price")
		}

		got, err := FillForBudget(pay, price)
		require.NoError(t, err)
		require.LessOrEqual(t, got, fill, "fillForBudget(payment(fill,price), price) must not exceed fill")
	}
}

// less128 reports whether (ahi,alo) < (bhi,blo) as 128-bit unsigned values.
func less128(ahi, alo, bhi, blo uint64) bool {
	if ahi != bhi {
		return ahi < bhi
	}
	return alo < blo
}

func TestPaymentRejectsZeroDenominators(t *testing.T) {
	_, err := Payment(0, 10)
	require.Error(t, err)
	var rerr *model.RouterError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, model.KindInvalidAmount, rerr.Kind)

	_, err = Payment(10, 0)
	require.Error(t, err)

	_, err = PriceFromFillPay(0, 10)
	require.Error(t, err)

	_, err = FillForBudget(10, 0)
	require.Error(t, err)
}

func TestPriceFromFillPayFloor(t *testing.T) {
	p, err := PriceFromFillPay(3, 10)
	require.NoError(t, err)
	require.Equal(t, int64(10)*Scale/3, p)
}

func TestWouldLeaveDust(t *testing.T) {
	cases := []struct {
		remaining, fill, minFill int64
		want                     bool
	}{
		{10, 7, 4, true},   // leaves 3 < 4
		{10, 6, 4, false},  // leaves 4, not < 4
		{10, 10, 4, false}, // leaves 0, equal remaining==fill
		{10, 5, 0, false},  // minFill 0: nothing can be dust
		{10, 11, 4, false}, // fill > remaining: not a valid clamp, defined false
	}
	for _, c := range cases {
		require.Equal(t, c.want, WouldLeaveDust(c.remaining, c.fill, c.minFill), "remaining=%d fill=%d minFill=%d", c.remaining, c.fill, c.minFill)
	}
}

func TestInBoundsAndOverlap(t *testing.T) {
	require.True(t, InBounds(150, 100, 200))
	require.True(t, InBounds(100, 100, 200))
	require.True(t, InBounds(200, 100, 200))
	require.False(t, InBounds(99, 100, 200))
	require.False(t, InBounds(201, 100, 200))

	require.True(t, RangesOverlap(100, 200, 150, 300))
	require.True(t, RangesOverlap(100, 200, 200, 300))
	require.False(t, RangesOverlap(100, 200, 201, 300))
}

func TestScenario1SingleNativeFullFill(t *testing.T) {
	fill := int64(10) * Scale
	price := int64(1.5 * float64(Scale))
	pay, err := Payment(fill, price)
	require.NoError(t, err)
	require.Equal(t, int64(15)*Scale, pay)

	eff, err := EffectivePrice(fill, pay)
	require.NoError(t, err)
	require.Equal(t, price, eff)
}
