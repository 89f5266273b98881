package delivery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalcAmount(t *testing.T) {
	require.Equal(t, 80.0, CalcAmount(100, 20, DiscountFlat))
	require.Equal(t, 80.0, CalcAmount(100, 20, DiscountPercentage))
	require.Equal(t, 0.0, CalcAmount(50, 100, DiscountFlat))
	require.Equal(t, 100.0, CalcAmount(100, 0, DiscountPercentage))
	require.Equal(t, 0.0, CalcAmount(100, 100, DiscountPercentage))
	require.Equal(t, 87.5, CalcAmount(125, 30, DiscountPercentage))
}

func TestDeriveInvoiceNumber(t *testing.T) {
	require.Equal(t, "PO20251223-LNBNE", DeriveInvoiceNumber("PO20251223-LNBNE-01"))
	require.Equal(t, "PO20251223-LNBNE", DeriveInvoiceNumber("PO20251223-LNBNE"))
	require.Equal(t, "ST20250814-DOCK", DeriveInvoiceNumber("ST20250814-DOCK-12"))
	require.Equal(t, "", DeriveInvoiceNumber(""))
}

func TestValidateBilling(t *testing.T) {
	require.NoError(t, ValidateBilling(Billing{Price: 100, Discount: 20, DiscountType: DiscountFlat}))
	require.NoError(t, ValidateBilling(Billing{Price: 100, Discount: 100, DiscountType: DiscountPercentage}))

	err := ValidateBilling(Billing{Price: -1, Discount: 120, DiscountType: DiscountPercentage})
	require.ErrorIs(t, err, ErrValidation)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Fields, "price")
	require.Contains(t, vErr.Fields, "discount")

	err = ValidateBilling(Billing{Price: 10, DiscountType: "bogus"})
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Fields, "discount_type")
}
