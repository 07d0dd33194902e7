package estimate

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/abcprintco/estimator/internal/costing"
	"github.com/abcprintco/estimator/internal/matrix"
	"github.com/abcprintco/estimator/internal/options"
)

var (
	ErrNotFound       = errors.New("estimate not found")
	ErrInvalidRequest = errors.New("invalid request")
)

// Workflow statuses, in the order a job normally moves through them.
const (
	StatusEstimate   = "estimate"
	StatusPending    = "pending"
	StatusProduction = "production"
	StatusCompleted  = "completed"
)

// Urgency buckets derived from the due date.
const (
	UrgencyNormal  = "normal"
	UrgencyWarning = "warning"
	UrgencyUrgent  = "urgent"
)

func validStatus(status string) bool {
	switch status {
	case StatusEstimate, StatusPending, StatusProduction, StatusCompleted:
		return true
	}
	return false
}

// Estimate is one job jacket: client and scheduling fields, workflow status,
// staff percentages, and the line items blob. Total and CommissionAmount are
// derived from the line items on every write, never edited directly.
type Estimate struct {
	ID               int64              `json:"id"`
	InvoiceNumber    string             `json:"invoice_number"`
	Title            string             `json:"title"`
	ClientName       string             `json:"client_name"`
	ClientEmail      string             `json:"client_email"`
	ClientPhone      string             `json:"client_phone"`
	JobDescription   string             `json:"job_description"`
	OrderDate        string             `json:"order_date"`
	DueDate          string             `json:"due_date"`
	ApprovalDate     string             `json:"approval_date"`
	IsRush           bool               `json:"is_rush"`
	Status           string             `json:"status"`
	CommissionPct    decimal.Decimal    `json:"commission_pct"`
	PrinterPct       decimal.Decimal    `json:"printer_pct"`
	DesignerPct      decimal.Decimal    `json:"designer_pct"`
	PrinterTech      string             `json:"printer_tech"`
	Designer         string             `json:"designer"`
	LineItems        []costing.LineItem `json:"line_items"`
	Total            decimal.Decimal    `json:"total"`
	CommissionAmount decimal.Decimal    `json:"commission_amount"`
	Urgency          string             `json:"urgency"`
	IsImported       bool               `json:"is_imported"`
	CreatedAt        string             `json:"created_at"`
	UpdatedAt        string             `json:"updated_at"`
}

// Summary is the list/search row shape.
type Summary struct {
	ID            int64           `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	Title         string          `json:"title"`
	ClientName    string          `json:"client_name"`
	Status        string          `json:"status"`
	DueDate       string          `json:"due_date"`
	IsRush        bool            `json:"is_rush"`
	Urgency       string          `json:"urgency"`
	Total         decimal.Decimal `json:"total"`
	CreatedAt     string          `json:"created_at"`
}

// HistoryEntry is one append-only audit line for an estimate.
type HistoryEntry struct {
	At   string `json:"at"`
	User string `json:"user"`
	Note string `json:"note"`
}

type Store struct {
	db     *sql.DB
	matrix *matrix.Store
	now    func() time.Time
}

func NewStore(db *sql.DB, matrixStore *matrix.Store) *Store {
	return &Store{db: db, matrix: matrixStore, now: time.Now}
}

// ComputeUrgency classifies a due date: overdue is urgent, due within a day
// is a warning, rush jobs are always urgent.
func ComputeUrgency(dueDate string, rush bool, now time.Time) string {
	if rush {
		return UrgencyUrgent
	}
	dueDate = strings.TrimSpace(dueDate)
	if dueDate == "" {
		return UrgencyNormal
	}
	due, err := time.ParseInLocation("2006-01-02", dueDate, now.Location())
	if err != nil {
		return UrgencyNormal
	}
	endOfDay := due.Add(24*time.Hour - time.Second)
	remaining := endOfDay.Sub(now)
	if remaining < 0 {
		return UrgencyUrgent
	}
	if remaining <= 24*time.Hour {
		return UrgencyWarning
	}
	return UrgencyNormal
}

func normalizeEstimate(e *Estimate) {
	e.InvoiceNumber = strings.ToUpper(strings.TrimSpace(e.InvoiceNumber))
	if !validStatus(e.Status) {
		e.Status = StatusEstimate
	}
	for _, pct := range []*decimal.Decimal{&e.CommissionPct, &e.PrinterPct, &e.DesignerPct} {
		if pct.IsNegative() {
			*pct = decimal.Zero
		}
	}
	if e.LineItems == nil {
		e.LineItems = []costing.LineItem{}
	}
	e.Total, e.CommissionAmount = costing.EstimateTotals(e.LineItems, e.CommissionPct)
}

// searchExcerpt flattens the searchable fields into one plain-text line, the
// way the logbook's quick search expects to match against.
func searchExcerpt(e *Estimate) string {
	parts := make([]string, 0, len(e.LineItems)*3+2)
	if e.ClientName != "" {
		parts = append(parts, e.ClientName)
	}
	if e.JobDescription != "" {
		parts = append(parts, e.JobDescription)
	}
	for _, item := range e.LineItems {
		if item.CustomProductName != "" {
			parts = append(parts, item.CustomProductName)
		}
		if item.Vendor != "" {
			parts = append(parts, item.Vendor)
		}
		for _, value := range item.Options {
			parts = append(parts, value...)
		}
	}

	summary := strings.Join(parts, " ")
	summary = strings.Join(strings.Fields(summary), " ")
	if len(summary) > 3500 {
		summary = summary[:3500]
	}

	return strings.TrimSpace(fmt.Sprintf("Invoice: %s | Status: %s | Due: %s | %s", e.InvoiceNumber, e.Status, e.DueDate, summary))
}

func marshalLineItems(items []costing.LineItem) (string, error) {
	if items == nil {
		items = []costing.LineItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode line items: %w", err)
	}
	return string(data), nil
}

func unmarshalLineItems(data string) []costing.LineItem {
	var items []costing.LineItem
	if err := json.Unmarshal([]byte(data), &items); err != nil || items == nil {
		return []costing.LineItem{}
	}
	return items
}

func (s *Store) Create(e Estimate, user string) (int64, error) {
	normalizeEstimate(&e)

	itemsJSON, err := marshalLineItems(e.LineItems)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Exec(`
		INSERT INTO estimates (
			invoice_number, title, client_name, client_email, client_phone,
			job_description, order_date, due_date, approval_date, is_rush,
			status, commission_pct, printer_pct, designer_pct, printer_tech,
			designer, line_items_json, estimate_total, commission_amount,
			search_excerpt, is_imported
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.InvoiceNumber, e.Title, e.ClientName, e.ClientEmail, e.ClientPhone,
		e.JobDescription, e.OrderDate, e.DueDate, e.ApprovalDate, e.IsRush,
		e.Status, e.CommissionPct.String(), e.PrinterPct.String(), e.DesignerPct.String(), e.PrinterTech,
		e.Designer, itemsJSON, e.Total.String(), e.CommissionAmount.String(),
		searchExcerpt(&e), e.IsImported,
	)
	if err != nil {
		return 0, fmt.Errorf("insert estimate: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert estimate: %w", err)
	}

	if err := s.AddNote(id, user, "Created"); err != nil {
		return 0, err
	}
	return id, nil
}

const estimateColumns = `
	id, invoice_number, title, client_name, client_email, client_phone,
	job_description, order_date, due_date, approval_date, is_rush, status,
	commission_pct, printer_pct, designer_pct, printer_tech, designer,
	line_items_json, estimate_total, commission_amount, is_imported,
	created_at, updated_at`

func (s *Store) scanEstimate(scanner interface{ Scan(...any) error }) (*Estimate, error) {
	var e Estimate
	var commissionPct, printerPct, designerPct, itemsJSON, total, commissionAmount string
	err := scanner.Scan(
		&e.ID, &e.InvoiceNumber, &e.Title, &e.ClientName, &e.ClientEmail, &e.ClientPhone,
		&e.JobDescription, &e.OrderDate, &e.DueDate, &e.ApprovalDate, &e.IsRush, &e.Status,
		&commissionPct, &printerPct, &designerPct, &e.PrinterTech, &e.Designer,
		&itemsJSON, &total, &commissionAmount, &e.IsImported,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, col := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{commissionPct, &e.CommissionPct},
		{printerPct, &e.PrinterPct},
		{designerPct, &e.DesignerPct},
		{total, &e.Total},
		{commissionAmount, &e.CommissionAmount},
	} {
		parsed, err := decimal.NewFromString(col.raw)
		if err != nil {
			return nil, fmt.Errorf("parse stored decimal %q: %w", col.raw, err)
		}
		*col.dst = parsed
	}

	e.LineItems = unmarshalLineItems(itemsJSON)
	e.Urgency = ComputeUrgency(e.DueDate, e.IsRush, s.now())
	return &e, nil
}

func (s *Store) Get(id int64) (*Estimate, error) {
	e, err := s.scanEstimate(s.db.QueryRow(`SELECT `+estimateColumns+` FROM estimates WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query estimate: %w", err)
	}
	return e, nil
}

// trackedChanges mirrors the audit trail the shop relies on: who moved a
// due date, who flipped rush, who touched the invoice number.
func trackedChanges(old, updated *Estimate) []string {
	type field struct {
		name     string
		from, to string
	}
	fields := []field{
		{"invoice_number", old.InvoiceNumber, updated.InvoiceNumber},
		{"order_date", old.OrderDate, updated.OrderDate},
		{"approval_date", old.ApprovalDate, updated.ApprovalDate},
		{"due_date", old.DueDate, updated.DueDate},
		{"rush", fmt.Sprintf("%t", old.IsRush), fmt.Sprintf("%t", updated.IsRush)},
		{"status", old.Status, updated.Status},
	}

	var notes []string
	for _, f := range fields {
		if f.from != f.to {
			from := f.from
			if from == "" {
				from = "(empty)"
			}
			to := f.to
			if to == "" {
				to = "(empty)"
			}
			notes = append(notes, fmt.Sprintf("%s: %s -> %s", f.name, from, to))
		}
	}
	return notes
}

// Update replaces an estimate's editable fields. Line items are not editable
// here; use AddLineItem/RemoveLineItem so cost snapshots stay intact.
func (s *Store) Update(id int64, e Estimate, user string) error {
	old, err := s.Get(id)
	if err != nil {
		return err
	}

	e.LineItems = old.LineItems
	normalizeEstimate(&e)

	itemsJSON, err := marshalLineItems(e.LineItems)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		UPDATE estimates
		SET invoice_number = ?, title = ?, client_name = ?, client_email = ?,
		    client_phone = ?, job_description = ?, order_date = ?, due_date = ?,
		    approval_date = ?, is_rush = ?, status = ?, commission_pct = ?,
		    printer_pct = ?, designer_pct = ?, printer_tech = ?, designer = ?,
		    line_items_json = ?, estimate_total = ?, commission_amount = ?,
		    search_excerpt = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`,
		e.InvoiceNumber, e.Title, e.ClientName, e.ClientEmail,
		e.ClientPhone, e.JobDescription, e.OrderDate, e.DueDate,
		e.ApprovalDate, e.IsRush, e.Status, e.CommissionPct.String(),
		e.PrinterPct.String(), e.DesignerPct.String(), e.PrinterTech, e.Designer,
		itemsJSON, e.Total.String(), e.CommissionAmount.String(),
		searchExcerpt(&e), id,
	)
	if err != nil {
		return fmt.Errorf("update estimate: %w", err)
	}

	for _, note := range trackedChanges(old, &e) {
		if err := s.AddNote(id, user, note); err != nil {
			return err
		}
	}
	return nil
}

// List returns estimates newest first, optionally filtered by a search term
// over invoice number, client, title, and the search excerpt.
func (s *Store) List(query string) ([]Summary, error) {
	query = strings.TrimSpace(query)
	like := "%" + query + "%"
	rows, err := s.db.Query(`
		SELECT id, invoice_number, title, client_name, status, due_date, is_rush, estimate_total, created_at
		FROM estimates
		WHERE (? = '' OR invoice_number LIKE ? OR client_name LIKE ? OR title LIKE ? OR search_excerpt LIKE ?)
		ORDER BY datetime(created_at) DESC, id DESC
		LIMIT 50
	`, query, like, like, like, like)
	if err != nil {
		return nil, fmt.Errorf("query estimates: %w", err)
	}
	defer rows.Close()

	now := s.now()
	summaries := make([]Summary, 0)
	for rows.Next() {
		var item Summary
		var total string
		if err := rows.Scan(&item.ID, &item.InvoiceNumber, &item.Title, &item.ClientName, &item.Status, &item.DueDate, &item.IsRush, &total, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan estimate: %w", err)
		}
		item.Total, err = decimal.NewFromString(total)
		if err != nil {
			return nil, fmt.Errorf("parse stored total %q: %w", total, err)
		}
		item.Urgency = ComputeUrgency(item.DueDate, item.IsRush, now)
		summaries = append(summaries, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate estimates: %w", err)
	}

	return summaries, nil
}

// SetStatus moves an estimate through the workflow and records the change.
func (s *Store) SetStatus(id int64, status, user string) error {
	if !validStatus(status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}

	e, err := s.Get(id)
	if err != nil {
		return err
	}
	if e.Status == status {
		return nil
	}

	old := e.Status
	e.Status = status
	_, err = s.db.Exec(`
		UPDATE estimates
		SET status = ?, search_excerpt = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, searchExcerpt(e), id)
	if err != nil {
		return fmt.Errorf("update estimate status: %w", err)
	}

	return s.AddNote(id, user, fmt.Sprintf("Quick status change: %s -> %s", old, status))
}

// LineItemInput is an operator's "add to estimate" action. When ManualCost
// is nil the cost comes from the price matrix; a no-match propagates so the
// operator can re-submit with a manual cost.
type LineItemInput struct {
	TemplateID        int64              `json:"template_id"`
	CustomProductName string             `json:"custom_product_name"`
	Quantity          int64              `json:"qty"`
	Vendor            string             `json:"vendor"`
	Options           options.Map        `json:"options"`
	Turnaround        string             `json:"turnaround"`
	ManualCost        *decimal.Decimal   `json:"manual_cost,omitempty"`
	MarkupType        costing.MarkupType `json:"markup_type"`
	MarkupValue       decimal.Decimal    `json:"markup_value"`
}

// AddLineItem resolves (or accepts) a cost, snapshots cost and sell price,
// appends the line, and recomputes the estimate's totals. Line items are
// immutable once added; edits are a remove plus a re-add.
func (s *Store) AddLineItem(id int64, input LineItemInput, user string) (*costing.LineItem, error) {
	if input.Quantity < 1 {
		return nil, fmt.Errorf("%w: qty must be at least 1", ErrInvalidRequest)
	}
	if input.TemplateID == 0 && strings.TrimSpace(input.CustomProductName) == "" {
		return nil, fmt.Errorf("%w: template or custom product name is required", ErrInvalidRequest)
	}

	e, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	item := costing.LineItem{
		TemplateID:        input.TemplateID,
		CustomProductName: strings.TrimSpace(input.CustomProductName),
		Quantity:          input.Quantity,
		Vendor:            input.Vendor,
		MarkupType:        costing.NormalizeMarkupType(input.MarkupType),
		MarkupValue:       input.MarkupValue,
	}

	if input.ManualCost != nil {
		cost := *input.ManualCost
		if cost.IsNegative() {
			cost = decimal.Zero
		}
		canonical, turnaround, _ := options.Canonicalize(input.Options, input.Turnaround)
		item.Options = canonical
		item.Turnaround = turnaround
		item.CostSnapshot = cost
	} else {
		result, err := s.matrix.Resolve(input.TemplateID, input.Vendor, input.Quantity, input.Options, input.Turnaround)
		if err != nil {
			return nil, err
		}
		rowID := result.RowID
		item.Options = result.Options
		item.Turnaround = result.Turnaround
		item.CostSnapshot = result.Cost
		item.CostLastVerified = result.LastVerified
		item.PriceMatrixRowID = &rowID
	}

	item.SellPrice = costing.SellPrice(item.CostSnapshot, item.MarkupType, item.MarkupValue)

	e.LineItems = append(e.LineItems, item)
	if err := s.persistLineItems(e); err != nil {
		return nil, err
	}

	label := item.CustomProductName
	if label == "" {
		label = fmt.Sprintf("template %d", item.TemplateID)
	}
	if err := s.AddNote(id, user, fmt.Sprintf("Added line item: %s x%d @ %s", label, item.Quantity, item.SellPrice)); err != nil {
		return nil, err
	}
	return &item, nil
}

// RemoveLineItem deletes one line by position and recomputes totals.
func (s *Store) RemoveLineItem(id int64, index int, user string) error {
	e, err := s.Get(id)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(e.LineItems) {
		return fmt.Errorf("%w: line item index %d out of range", ErrInvalidRequest, index)
	}

	e.LineItems = append(e.LineItems[:index], e.LineItems[index+1:]...)
	if err := s.persistLineItems(e); err != nil {
		return err
	}
	return s.AddNote(id, user, fmt.Sprintf("Removed line item %d", index+1))
}

func (s *Store) persistLineItems(e *Estimate) error {
	e.Total, e.CommissionAmount = costing.EstimateTotals(e.LineItems, e.CommissionPct)

	itemsJSON, err := marshalLineItems(e.LineItems)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		UPDATE estimates
		SET line_items_json = ?, estimate_total = ?, commission_amount = ?,
		    search_excerpt = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, itemsJSON, e.Total.String(), e.CommissionAmount.String(), searchExcerpt(e), e.ID)
	if err != nil {
		return fmt.Errorf("update estimate line items: %w", err)
	}
	return nil
}

// Duplicate copies a job jacket into a fresh estimate, resetting the
// workflow status. Cost snapshots are carried over unchanged; re-pricing is
// a deliberate remove/re-add per line.
func (s *Store) Duplicate(id int64, user string) (int64, error) {
	e, err := s.Get(id)
	if err != nil {
		return 0, err
	}

	copyOf := *e
	copyOf.Title = e.Title + " (Copy)"
	copyOf.Status = StatusEstimate
	copyOf.IsImported = false

	newID, err := s.Create(copyOf, user)
	if err != nil {
		return 0, err
	}
	if err := s.AddNote(newID, user, fmt.Sprintf("Duplicated from #%d", id)); err != nil {
		return 0, err
	}
	return newID, nil
}

// AddNote appends an audit line. Notes are append-only; there is no edit or
// delete.
func (s *Store) AddNote(id int64, user, note string) error {
	if user == "" {
		user = "Unknown"
	}
	_, err := s.db.Exec(`
		INSERT INTO estimate_history (estimate_id, user, note)
		VALUES (?, ?, ?)
	`, id, user, note)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// History returns an estimate's audit trail, oldest first.
func (s *Store) History(id int64) ([]HistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT created_at, user, note
		FROM estimate_history
		WHERE estimate_id = ?
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		var entry HistoryEntry
		if err := rows.Scan(&entry.At, &entry.User, &entry.Note); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return entries, nil
}
