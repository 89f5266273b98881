package delivery

import (
	"fmt"
	"math"
	"regexp"
)

var copySuffix = regexp.MustCompile(`-\d+$`)

// DeriveInvoiceNumber proposes an invoice number from the origin record's
// number by stripping the trailing copy suffix ("-01", "-02"). A number
// without such a suffix is returned unchanged. Operators may override the
// proposal when saving billing.
func DeriveInvoiceNumber(originNumber string) string {
	return copySuffix.ReplaceAllString(originNumber, "")
}

// CalcAmount computes the billed amount from price, discount and discount
// type. The result is clamped at zero and rounded to two decimals. Inputs
// must already be validated; see ValidateBilling.
func CalcAmount(price, discount float64, discountType DiscountType) float64 {
	var amount float64
	switch discountType {
	case DiscountPercentage:
		amount = price - price*discount/100
	default:
		amount = price - discount
	}
	if amount < 0 {
		return 0
	}
	return math.Round(amount*100) / 100
}

// ValidateBilling collects every violation of the billing inputs.
func ValidateBilling(b Billing) error {
	fields := make(map[string]string)
	if b.Price < 0 {
		fields["price"] = "must not be negative"
	}
	if b.Discount < 0 {
		fields["discount"] = "must not be negative"
	}
	switch b.DiscountType {
	case DiscountFlat:
	case DiscountPercentage:
		if b.Discount > 100 {
			fields["discount"] = "percentage discount must not exceed 100"
		}
	default:
		fields["discount_type"] = fmt.Sprintf("must be %q or %q", DiscountFlat, DiscountPercentage)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
