package billing

import (
	"github.com/shopspring/decimal"

	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/apperr"
)

// Totals is the derived monetary state of a report.
type Totals struct {
	Subtotal      decimal.Decimal
	Tax           decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
	PaidAmount    decimal.Decimal
	PendingAmount decimal.Decimal
}

const moneyPlaces = 2

// Round2 rounds half away from zero to cents.
func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(moneyPlaces) }

// LineTotal is quantity times unit price, rounded per line.
func LineTotal(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return Round2(quantity.Mul(unitPrice))
}

// ComputeTotals derives every amount from the service lines, the flat
// discount, the sum of payments and the clinic tax rate. It never mutates
// its inputs.
func ComputeTotals(services []BillingService, discount, paid, taxRate decimal.Decimal) (Totals, error) {
	if discount.IsNegative() {
		return Totals{}, apperr.Validationf("discount must not be negative")
	}
	if paid.IsNegative() {
		return Totals{}, apperr.Validationf("paid amount must not be negative")
	}
	subtotal := decimal.Zero
	for i, s := range services {
		if s.Quantity.IsNegative() {
			return Totals{}, apperr.Validationf("service %d: quantity must not be negative", i+1)
		}
		if s.UnitPrice.IsNegative() {
			return Totals{}, apperr.Validationf("service %d: unit price must not be negative", i+1)
		}
		subtotal = subtotal.Add(LineTotal(s.Quantity, s.UnitPrice))
	}
	subtotal = Round2(subtotal)
	tax := Round2(subtotal.Mul(taxRate))
	discount = Round2(discount)
	gross := subtotal.Add(tax)
	if discount.GreaterThan(gross) {
		return Totals{}, apperr.WithHint(
			apperr.Validationf("discount %s exceeds subtotal plus tax %s", discount.StringFixed(moneyPlaces), gross.StringFixed(moneyPlaces)),
			"lower the discount or add services first")
	}
	total := gross.Sub(discount)
	paid = Round2(paid)
	pending := total.Sub(paid)
	if pending.IsNegative() {
		pending = decimal.Zero
	}
	return Totals{
		Subtotal:      subtotal,
		Tax:           tax,
		Discount:      discount,
		Total:         total,
		PaidAmount:    paid,
		PendingAmount: pending,
	}, nil
}

func sumPayments(payments []BillingPayment) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range payments {
		sum = sum.Add(p.Amount)
	}
	return sum
}

// recalculate refreshes line totals and every derived amount on r.
func recalculate(r *BillingReport, taxRate decimal.Decimal) error {
	t, err := ComputeTotals(r.Services, r.Discount, sumPayments(r.Payments), taxRate)
	if err != nil {
		return err
	}
	for i := range r.Services {
		r.Services[i].Total = LineTotal(r.Services[i].Quantity, r.Services[i].UnitPrice)
	}
	r.Subtotal = t.Subtotal
	r.Tax = t.Tax
	r.Discount = t.Discount
	r.Total = t.Total
	r.PaidAmount = t.PaidAmount
	r.PendingAmount = t.PendingAmount
	return nil
}

// SuggestQuickPayments offers the full pending balance, half of it when the
// balance is above halfThreshold, and a fixed increment when it is smaller
// than the balance.
func SuggestQuickPayments(pending, halfThreshold, increment decimal.Decimal) []QuickPaymentOption {
	if !pending.IsPositive() {
		return []QuickPaymentOption{}
	}
	opts := []QuickPaymentOption{{Label: "pay_all", Amount: pending}}
	if pending.GreaterThan(halfThreshold) {
		opts = append(opts, QuickPaymentOption{Label: "half", Amount: Round2(pending.Div(decimal.NewFromInt(2)))})
	}
	if increment.IsPositive() && increment.LessThan(pending) {
		opts = append(opts, QuickPaymentOption{Label: "increment", Amount: increment})
	}
	return opts
}
