package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Recalculate recomputes all derived money fields on the order from its
// items and the order-level discount. Every stored amount is rounded to two
// decimal places. The order discount is allocated across lines pro-rata by
// each line's base net of its own line discount, so tax applies to what the
// customer actually pays; the last line absorbs the rounding remainder so
// the allocations sum exactly to the order discount.
func (o *Order) Recalculate() {
	subtotal := decimal.Zero
	lineDiscounts := decimal.Zero
	bases := make([]decimal.Decimal, len(o.Items))
	for i := range o.Items {
		it := &o.Items[i]
		gross := it.UnitPrice.Mul(it.Quantity).Round(2)
		base := gross.Sub(it.LineDiscount)
		if base.IsNegative() {
			base = decimal.Zero
		}
		bases[i] = base
		subtotal = subtotal.Add(gross)
		lineDiscounts = lineDiscounts.Add(it.LineDiscount)
	}

	orderDiscount := o.OrderDiscount.Round(2)
	netSubtotal := subtotal.Sub(lineDiscounts)
	if orderDiscount.GreaterThan(netSubtotal) {
		orderDiscount = netSubtotal
	}
	if orderDiscount.IsNegative() {
		orderDiscount = decimal.Zero
	}

	allocs := allocateProRata(orderDiscount, bases)

	taxTotal := decimal.Zero
	for i := range o.Items {
		it := &o.Items[i]
		taxable := bases[i].Sub(allocs[i])
		if taxable.IsNegative() {
			taxable = decimal.Zero
		}
		it.TaxAmount = taxable.Mul(it.TaxRate).Div(hundred).Round(2)
		it.LineTotal = taxable.Add(it.TaxAmount)
		taxTotal = taxTotal.Add(it.TaxAmount)
	}

	o.Subtotal = subtotal
	o.DiscountTotal = lineDiscounts.Add(orderDiscount)
	o.TaxTotal = taxTotal
	grand := subtotal.Sub(o.DiscountTotal).Add(taxTotal)
	if grand.IsNegative() {
		grand = decimal.Zero
	}
	o.GrandTotal = grand
}

// allocateProRata splits total across weights, rounding each share to two
// decimals; the final positive weight takes whatever remains.
func allocateProRata(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(weights))
	if total.IsZero() || len(weights) == 0 {
		return out
	}
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w)
	}
	if !sum.IsPositive() {
		return out
	}
	last := -1
	for i, w := range weights {
		if w.IsPositive() {
			last = i
		}
	}
	assigned := decimal.Zero
	for i, w := range weights {
		if i == last {
			out[i] = total.Sub(assigned)
			break
		}
		share := total.Mul(w).Div(sum).Round(2)
		out[i] = share
		assigned = assigned.Add(share)
	}
	return out
}

// TenderedTotal sums the order's tender payments.
func (o *Order) TenderedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, p := range o.Payments {
		if p.Kind == PaymentKindTender {
			total = total.Add(p.Amount)
		}
	}
	return total
}
