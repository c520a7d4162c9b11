package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSplitEvenly(t *testing.T) {
	cases := []struct {
		name  string
		total string
		units int64
		scale int32
		want  []pricedQty
	}{
		{name: "exact", total: "900", units: 3, want: []pricedQty{{Quantity: 3, UnitPrice: decimal.NewFromInt(300)}}},
		{name: "remainder to first units", total: "1001", units: 3, want: []pricedQty{
			{Quantity: 2, UnitPrice: decimal.NewFromInt(334)},
			{Quantity: 1, UnitPrice: decimal.NewFromInt(333)},
		}},
		{name: "cents", total: "10.00", units: 3, scale: 2, want: []pricedQty{
			{Quantity: 1, UnitPrice: decimal.RequireFromString("3.34")},
			{Quantity: 2, UnitPrice: decimal.RequireFromString("3.33")},
		}},
		{name: "zero", total: "0", units: 4, want: []pricedQty{{Quantity: 4, UnitPrice: decimal.Zero}}},
		{name: "fractional total widens scale", total: "30.75", units: 2, want: []pricedQty{
			{Quantity: 1, UnitPrice: decimal.RequireFromString("15.38")},
			{Quantity: 1, UnitPrice: decimal.RequireFromString("15.37")},
		}},
		{name: "sub precision residual on first unit", total: "1.00001", units: 3, want: []pricedQty{
			{Quantity: 1, UnitPrice: decimal.RequireFromString("0.33341")},
			{Quantity: 2, UnitPrice: decimal.RequireFromString("0.3333")},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitEvenly(decimal.RequireFromString(tc.total), tc.units, tc.scale)
			require.Len(t, got, len(tc.want))
			sum := decimal.Zero
			for i := range got {
				require.Equal(t, tc.want[i].Quantity, got[i].Quantity)
				require.Truef(t, tc.want[i].UnitPrice.Equal(got[i].UnitPrice), "part %d: want %s got %s", i, tc.want[i].UnitPrice, got[i].UnitPrice)
				sum = sum.Add(got[i].UnitPrice.Mul(decimal.NewFromInt(got[i].Quantity)))
			}
			require.True(t, sum.Equal(decimal.RequireFromString(tc.total)))
		})
	}
	require.Nil(t, splitEvenly(decimal.NewFromInt(10), 0, 0))
}

func TestCommissionRateByPaymentMethod(t *testing.T) {
	client := ConsignmentClient{CommissionCashRate: decimal.NewFromInt(10), CommissionCardRate: decimal.NewFromInt(12)}
	for _, method := range []PaymentMethod{PaymentCash, PaymentBank} {
		rate, err := commissionRate(client, method)
		require.NoError(t, err)
		require.True(t, rate.Equal(decimal.NewFromInt(10)))
	}
	for _, method := range []PaymentMethod{PaymentCard, PaymentPayPay, PaymentFelica, PaymentSquare} {
		rate, err := commissionRate(client, method)
		require.NoError(t, err)
		require.True(t, rate.Equal(decimal.NewFromInt(12)))
	}
	_, err := commissionRate(client, "gift_card")
	require.ErrorIs(t, err, ErrUnsupportedPaymentMethod)

	require.True(t, commissionUnitPrice(decimal.NewFromInt(999), decimal.NewFromInt(15), 0).Equal(decimal.NewFromInt(150)))
}
