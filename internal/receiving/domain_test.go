package receiving

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeLineAmountsPercentDiscount(t *testing.T) {
	line := ComputeLineAmounts(Line{Qty: 10, UnitCost: d("120"), DiscountPct: d("15")})
	require.True(t, line.Gross.Equal(d("1200")), line.Gross.String())
	require.True(t, line.Discount.Equal(d("180")), line.Discount.String())
	require.True(t, line.Net.Equal(d("1020")), line.Net.String())
}

func TestComputeLineAmountsFixedDiscount(t *testing.T) {
	line := ComputeLineAmounts(Line{Qty: 4, UnitCost: d("250"), DiscountAmt: d("100")})
	require.True(t, line.Gross.Equal(d("1000")))
	require.True(t, line.Discount.Equal(d("100")))
	require.True(t, line.Net.Equal(d("900")))
}

func TestComputeLineAmountsDiscountClampedToGross(t *testing.T) {
	line := ComputeLineAmounts(Line{Qty: 1, UnitCost: d("50"), DiscountAmt: d("80")})
	require.True(t, line.Discount.Equal(d("50")))
	require.True(t, line.Net.IsZero())
}

func TestComputeLineAmountsNegativeDiscountIgnored(t *testing.T) {
	line := ComputeLineAmounts(Line{Qty: 2, UnitCost: d("30"), DiscountAmt: d("-10")})
	require.True(t, line.Discount.IsZero())
	require.True(t, line.Net.Equal(d("60")))
}

func TestComputeTotals(t *testing.T) {
	receipt := Receipt{
		Discount: d("50"),
		Shipping: d("120"),
		Other:    d("30"),
		Rounding: d("-0.45"),
	}
	lines := []Line{
		ComputeLineAmounts(Line{Qty: 10, UnitCost: d("100")}),
		ComputeLineAmounts(Line{Qty: 5, UnitCost: d("80"), DiscountPct: d("10")}),
	}
	subtotal, grand := ComputeTotals(receipt, lines)
	require.True(t, subtotal.Equal(d("1360")), subtotal.String())
	require.True(t, grand.Equal(d("1459.55")), grand.String())
}
