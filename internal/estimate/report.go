package estimate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// PayoutFilter narrows the payout report. Dates match against the estimate's
// creation date (YYYY-MM-DD); empty fields mean no filtering.
type PayoutFilter struct {
	PrinterTech string
	Designer    string
	DateStart   string
	DateEnd     string
}

// PayoutRow is one completed job's staff payouts. Payouts come off profit
// (sell minus cost), not revenue.
type PayoutRow struct {
	EstimateID     int64           `json:"estimate_id"`
	InvoiceNumber  string          `json:"invoice_number"`
	Title          string          `json:"title"`
	Profit         decimal.Decimal `json:"profit"`
	PrinterTech    string          `json:"printer_tech"`
	PrinterPct     decimal.Decimal `json:"printer_pct"`
	PrinterPayout  decimal.Decimal `json:"printer_payout"`
	Designer       string          `json:"designer"`
	DesignerPct    decimal.Decimal `json:"designer_pct"`
	DesignerPayout decimal.Decimal `json:"designer_payout"`
}

type PayoutReport struct {
	Rows                []PayoutRow     `json:"rows"`
	TotalProfit         decimal.Decimal `json:"total_profit"`
	TotalPrinterPayout  decimal.Decimal `json:"total_printer_payout"`
	TotalDesignerPayout decimal.Decimal `json:"total_designer_payout"`
}

// PayoutReport computes what completed jobs owe the printer tech and the
// designer for a period.
func (s *Store) PayoutReport(filter PayoutFilter) (*PayoutReport, error) {
	rows, err := s.db.Query(`
		SELECT `+estimateColumns+`
		FROM estimates
		WHERE status = ?
		  AND (? = '' OR printer_tech = ?)
		  AND (? = '' OR designer = ?)
		  AND (? = '' OR date(created_at) >= date(?))
		  AND (? = '' OR date(created_at) <= date(?))
		ORDER BY id ASC
	`, StatusCompleted,
		filter.PrinterTech, filter.PrinterTech,
		filter.Designer, filter.Designer,
		filter.DateStart, filter.DateStart,
		filter.DateEnd, filter.DateEnd,
	)
	if err != nil {
		return nil, fmt.Errorf("query completed estimates: %w", err)
	}
	defer rows.Close()

	report := &PayoutReport{
		Rows:                make([]PayoutRow, 0),
		TotalProfit:         decimal.Zero,
		TotalPrinterPayout:  decimal.Zero,
		TotalDesignerPayout: decimal.Zero,
	}
	for rows.Next() {
		e, err := s.scanEstimate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan completed estimate: %w", err)
		}

		profit := decimal.Zero
		for _, item := range e.LineItems {
			profit = profit.Add(item.Profit())
		}
		profit = profit.Round(2)

		row := PayoutRow{
			EstimateID:     e.ID,
			InvoiceNumber:  e.InvoiceNumber,
			Title:          e.Title,
			Profit:         profit,
			PrinterTech:    e.PrinterTech,
			PrinterPct:     e.PrinterPct,
			PrinterPayout:  profit.Mul(e.PrinterPct).Div(decimal.NewFromInt(100)).Round(2),
			Designer:       e.Designer,
			DesignerPct:    e.DesignerPct,
			DesignerPayout: profit.Mul(e.DesignerPct).Div(decimal.NewFromInt(100)).Round(2),
		}
		report.Rows = append(report.Rows, row)
		report.TotalProfit = report.TotalProfit.Add(row.Profit)
		report.TotalPrinterPayout = report.TotalPrinterPayout.Add(row.PrinterPayout)
		report.TotalDesignerPayout = report.TotalDesignerPayout.Add(row.DesignerPayout)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completed estimates: %w", err)
	}

	return report, nil
}

// LearningRow aggregates custom (non-template) line items so recurring
// one-offs can be promoted into proper product templates.
type LearningRow struct {
	ProductName    string          `json:"product_name"`
	TimesQuoted    int             `json:"times_quoted"`
	LastEstimateID int64           `json:"last_estimate_id"`
	LastCost       decimal.Decimal `json:"last_cost"`
	LastSellPrice  decimal.Decimal `json:"last_sell_price"`
}

// LearningLog scans every estimate's line items for custom products and
// groups them by name, most quoted first.
func (s *Store) LearningLog() ([]LearningRow, error) {
	rows, err := s.db.Query(`SELECT id, line_items_json FROM estimates ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query estimates: %w", err)
	}
	defer rows.Close()

	byName := make(map[string]*LearningRow)
	for rows.Next() {
		var id int64
		var itemsJSON string
		if err := rows.Scan(&id, &itemsJSON); err != nil {
			return nil, fmt.Errorf("scan estimate: %w", err)
		}
		for _, item := range unmarshalLineItems(itemsJSON) {
			name := strings.TrimSpace(item.CustomProductName)
			if item.TemplateID != 0 || name == "" {
				continue
			}
			key := strings.ToLower(name)
			entry, ok := byName[key]
			if !ok {
				entry = &LearningRow{ProductName: name}
				byName[key] = entry
			}
			entry.TimesQuoted++
			entry.LastEstimateID = id
			entry.LastCost = item.CostSnapshot
			entry.LastSellPrice = item.SellPrice
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate estimates: %w", err)
	}

	log := make([]LearningRow, 0, len(byName))
	for _, entry := range byName {
		log = append(log, *entry)
	}
	sort.Slice(log, func(i, j int) bool {
		if log[i].TimesQuoted != log[j].TimesQuoted {
			return log[i].TimesQuoted > log[j].TimesQuoted
		}
		return log[i].ProductName < log[j].ProductName
	})
	return log, nil
}
