package estimate

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/abcprintco/estimator/internal/costing"
)

var invoicePattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// ValidInvoiceNumber reports whether an invoice number matches the shop's
// tttt-yy numbering (e.g. 1005-24).
func ValidInvoiceNumber(invoice string) bool {
	return invoicePattern.MatchString(invoice)
}

// ImportResult summarizes one CSV import run. Errors holds per-row messages
// for rows that were ignored or skipped; the import never aborts on a bad
// row.
type ImportResult struct {
	Imported          int      `json:"imported"`
	SkippedDuplicates int      `json:"skipped_duplicates"`
	Errors            []string `json:"errors"`
}

// ImportCSV reads estimates from one of two accepted layouts:
//
//	A) legacy physical log book export: Invoice No, Company, Item,
//	   Quantity, Amount, Date (header aliases tolerated)
//	B) simple format: Title, Invoice, Due Date
//
// The layout is detected from the header row. Rows with a malformed or
// already-known invoice number are reported and skipped; everything else
// becomes a draft estimate flagged as imported.
func (s *Store) ImportCSV(r io.Reader, user string) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: CSV header missing", ErrInvalidRequest)
	}

	headerMap := buildHeaderMap(header)
	invoiceIdx := columnIndex(headerMap, "invoice no", "invoice")
	companyIdx := columnIndex(headerMap, "company", "client")
	itemIdx := columnIndex(headerMap, "item", "job", "description")
	qtyIdx := columnIndex(headerMap, "quantity", "qty")
	amountIdx := columnIndex(headerMap, "amount", "total")
	dateIdx := columnIndex(headerMap, "date", "order date")

	isLegacy := invoiceIdx >= 0 && companyIdx >= 0 && itemIdx >= 0

	result := &ImportResult{Errors: []string{}}
	rowIndex := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			rowIndex++
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d unreadable: %v", rowIndex, err))
			continue
		}
		rowIndex++

		if isLegacy {
			s.importLegacyRow(row, rowIndex, invoiceIdx, companyIdx, itemIdx, qtyIdx, amountIdx, dateIdx, user, result)
			continue
		}
		s.importSimpleRow(row, rowIndex, user, result)
	}

	return result, nil
}

func (s *Store) importLegacyRow(row []string, rowIndex, invoiceIdx, companyIdx, itemIdx, qtyIdx, amountIdx, dateIdx int, user string, result *ImportResult) {
	invoice := strings.ToUpper(cell(row, invoiceIdx))
	company := cell(row, companyIdx)
	item := cell(row, itemIdx)
	qtyRaw := cell(row, qtyIdx)
	amountRaw := cell(row, amountIdx)
	dueDate := normalizeDueDate(cell(row, dateIdx))

	if invoice == "" {
		return
	}
	if !ValidInvoiceNumber(invoice) {
		result.Errors = append(result.Errors, fmt.Sprintf("Row %d ignored (Invalid Invoice: %s). Must be tttt-yy (e.g., 1005-24).", rowIndex, invoice))
		return
	}
	exists, err := s.invoiceExists(invoice)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Row %d failed: %v", rowIndex, err))
		return
	}
	if exists {
		result.SkippedDuplicates++
		result.Errors = append(result.Errors, fmt.Sprintf("Row %d skipped (Duplicate Invoice: %s).", rowIndex, invoice))
		return
	}

	title := strings.Trim(company+" - "+item, " -")
	if title == "" {
		title = invoice
	}

	// The log book's Amount column is the line total, so it lands as the
	// sell price of a single-quantity line; the original quantity is kept
	// in the product name.
	name := item
	if qty, err := strconv.Atoi(strings.TrimSpace(qtyRaw)); err == nil && qty > 1 {
		name = fmt.Sprintf("%s (qty %d)", item, qty)
	}
	amount, err := decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(amountRaw), "$"))
	if err != nil {
		amount = decimal.Zero
	}

	e := Estimate{
		InvoiceNumber:  invoice,
		Title:          title,
		ClientName:     company,
		JobDescription: item,
		OrderDate:      dueDate,
		DueDate:        dueDate,
		Status:         StatusEstimate,
		IsImported:     true,
		LineItems: []costing.LineItem{{
			CustomProductName: name,
			Quantity:          1,
			MarkupType:        costing.MarkupPercent,
			SellPrice:         amount.Round(2),
		}},
	}
	if _, err := s.Create(e, user); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Row %d failed: %v", rowIndex, err))
		return
	}
	result.Imported++
}

func (s *Store) importSimpleRow(row []string, rowIndex int, user string, result *ImportResult) {
	title := cell(row, 0)
	invoice := strings.ToUpper(cell(row, 1))
	dueDate := normalizeDueDate(cell(row, 2))

	// Tolerate a simple-format file whose first data row is itself a header.
	if rowIndex == 2 && strings.Contains(strings.ToLower(invoice), "invoice") {
		return
	}
	if invoice == "" && title == "" && dueDate == "" {
		return
	}
	if !ValidInvoiceNumber(invoice) {
		result.Errors = append(result.Errors, fmt.Sprintf("Row %d ignored (Invalid Invoice: %s). Must be tttt-yy (e.g., 1005-24).", rowIndex, invoice))
		return
	}
	exists, err := s.invoiceExists(invoice)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Row %d failed: %v", rowIndex, err))
		return
	}
	if exists {
		result.SkippedDuplicates++
		result.Errors = append(result.Errors, fmt.Sprintf("Row %d skipped (Duplicate Invoice: %s).", rowIndex, invoice))
		return
	}

	if title == "" {
		title = invoice
	}
	e := Estimate{
		InvoiceNumber: invoice,
		Title:         title,
		DueDate:       dueDate,
		Status:        StatusEstimate,
		IsImported:    true,
	}
	if _, err := s.Create(e, user); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Row %d failed: %v", rowIndex, err))
		return
	}
	result.Imported++
}

func (s *Store) invoiceExists(invoice string) (bool, error) {
	if invoice == "" {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS (SELECT 1 FROM estimates WHERE invoice_number = ?)`, invoice).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check invoice: %w", err)
	}
	return exists, nil
}

// PurgeImported deletes every estimate created by a CSV import, along with
// its history. Hand-entered estimates are never touched.
func (s *Store) PurgeImported() (int64, error) {
	if _, err := s.db.Exec(`
		DELETE FROM estimate_history
		WHERE estimate_id IN (SELECT id FROM estimates WHERE is_imported = 1)
	`); err != nil {
		return 0, fmt.Errorf("purge imported history: %w", err)
	}

	result, err := s.db.Exec(`DELETE FROM estimates WHERE is_imported = 1`)
	if err != nil {
		return 0, fmt.Errorf("purge imported estimates: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge imported estimates: %w", err)
	}
	return deleted, nil
}

var mdyPattern = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
var isoPattern = regexp.MustCompile(`^(\d{4})-\d{2}-\d{2}$`)

// normalizeDueDate converts M/D/YYYY log-book dates to YYYY-MM-DD. Dates
// from before the logbook cut-over are dropped so old jobs don't show up as
// overdue.
func normalizeDueDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if m := isoPattern.FindStringSubmatch(raw); m != nil {
		if year, _ := strconv.Atoi(m[1]); year < 2026 {
			return ""
		}
		return raw
	}
	if m := mdyPattern.FindStringSubmatch(raw); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if year < 2026 {
			return ""
		}
		return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	}
	return raw
}

func buildHeaderMap(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for idx, name := range header {
		key := strings.Join(strings.Fields(strings.ToLower(name)), " ")
		if key != "" {
			m[key] = idx
		}
	}
	return m
}

func columnIndex(m map[string]int, keys ...string) int {
	for _, key := range keys {
		if idx, ok := m[key]; ok {
			return idx
		}
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
