package costing

import (
	"github.com/shopspring/decimal"

	"github.com/abcprintco/estimator/internal/options"
)

// MarkupType selects how a vendor cost is turned into a sell price.
type MarkupType string

const (
	// MarkupPercent adds markupValue percent on top of the cost.
	MarkupPercent MarkupType = "percent"
	// MarkupMultiplier multiplies the cost by markupValue.
	MarkupMultiplier MarkupType = "multiplier"
)

// NormalizeMarkupType maps unknown markup types to percent, the estimator's
// historical default.
func NormalizeMarkupType(t MarkupType) MarkupType {
	if t == MarkupMultiplier {
		return MarkupMultiplier
	}
	return MarkupPercent
}

var oneHundred = decimal.NewFromInt(100)

// SellPrice computes the customer-facing price for a vendor cost.
//
/// Negative inputs are clamped to zero rather than rejected: a typo must not
// block estimate creation, the operator sees the wrong price and fixes it.
// The result is rounded half-up to 2 decimal places, the precision at which
// prices are persisted and displayed.
func SellPrice(cost decimal.Decimal, markupType MarkupType, markupValue decimal.Decimal) decimal.Decimal {
	if cost.IsNegative() {
		cost = decimal.Zero
	}
	if markupValue.IsNegative() {
		markupValue = decimal.Zero
	}

	var sell decimal.Decimal
	switch NormalizeMarkupType(markupType) {
	case MarkupMultiplier:
		sell = cost.Mul(markupValue)
	default:
		sell = cost.Add(cost.Mul(markupValue).Div(oneHundred))
	}
	return sell.Round(2)
}

// LineItem is one purchased row of an estimate. Cost and sell price are
// snapshotted when the line is added and never recomputed; edits happen by
// removing and re-adding the line.
//
// The JSON field names are the estimate blob's wire format and must stay
// stable across releases.
type LineItem struct {
	TemplateID        int64           `json:"template_id"`
	CustomProductName string          `json:"custom_product_name,omitempty"`
	Quantity          int64           `json:"qty"`
	Vendor            string          `json:"vendor"`
	Options           options.Map     `json:"options,omitempty"`
	Turnaround        string          `json:"turnaround,omitempty"`
	CostSnapshot      decimal.Decimal `json:"cost_snapshot"`
	MarkupType        MarkupType      `json:"markup_type"`
	MarkupValue       decimal.Decimal `json:"markup_value"`
	SellPrice         decimal.Decimal `json:"sell_price"`
	PriceMatrixRowID  *int64          `json:"price_matrix_row_id,omitempty"`
	CostLastVerified  string          `json:"cost_last_verified,omitempty"`
}

// Profit is the line's contribution to estimate profit: (sell - cost) * qty.
func (li LineItem) Profit() decimal.Decimal {
	return li.SellPrice.Sub(li.CostSnapshot).Mul(decimal.NewFromInt(li.Quantity))
}

// EstimateTotals aggregates line items into the estimate total and the
// commission owed on it. Both values are rounded half-up to 2 places at
// output; a negative commission percent is clamped to zero.
func EstimateTotals(items []LineItem, commissionPercent decimal.Decimal) (total, commissionAmount decimal.Decimal) {
	if commissionPercent.IsNegative() {
		commissionPercent = decimal.Zero
	}

	total = decimal.Zero
	for _, item := range items {
		total = total.Add(item.SellPrice.Mul(decimal.NewFromInt(item.Quantity)))
	}
	total = total.Round(2)
	commissionAmount = total.Mul(commissionPercent).Div(oneHundred).Round(2)
	return total, commissionAmount
}
