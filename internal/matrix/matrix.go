package matrix

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/abcprintco/estimator/internal/options"
)

// ErrNoMatch reports that no matrix row covers the requested combination.
// It is a legitimate lookup outcome, not a failure: the operator enters the
// cost manually.
var ErrNoMatch = errors.New("no matrix match")

// ErrInvalidRequest wraps caller-side validation failures. They are rejected
// before any store access.
var ErrInvalidRequest = errors.New("invalid request")

// Row is one recorded vendor cost for a quantity bracket and option
// combination. A nil QtyMax means the bracket is open-ended ("QtyMin and
// above").
type Row struct {
	ID           int64           `json:"id"`
	TemplateID   int64           `json:"template_id"`
	Vendor       string          `json:"vendor"`
	QtyMin       int64           `json:"qty_min"`
	QtyMax       *int64          `json:"qty_max,omitempty"`
	OptionsHash  string          `json:"options_hash"`
	Options      options.Map     `json:"options"`
	Turnaround   string          `json:"turnaround"`
	Cost         decimal.Decimal `json:"cost"`
	LastVerified string          `json:"last_verified,omitempty"`
	SourceNote   string          `json:"source_note,omitempty"`
}

// CostResult is a successful lookup: the matched row's cost plus the
// canonical options echoed back for display.
type CostResult struct {
	RowID        int64           `json:"row_id"`
	Cost         decimal.Decimal `json:"cost"`
	LastVerified string          `json:"last_verified,omitempty"`
	Options      options.Map     `json:"options"`
	Turnaround   string          `json:"turnaround,omitempty"`
}

// UpsertResult carries the persisted row id and any data-quality warnings
// detected while saving (overlapping brackets with a different cost).
type UpsertResult struct {
	ID       int64    `json:"id"`
	Warnings []string `json:"warnings,omitempty"`
}

// Store is the durable price matrix table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const rowColumns = `id, template_id, vendor, qty_min, qty_max, options_hash, options_json, turnaround, cost, COALESCE(last_verified, ''), COALESCE(source_note, '')`

func scanRow(scanner interface{ Scan(...any) error }) (*Row, error) {
	var row Row
	var qtyMax sql.NullInt64
	var optionsJSON, cost string
	if err := scanner.Scan(
		&row.ID,
		&row.TemplateID,
		&row.Vendor,
		&row.QtyMin,
		&qtyMax,
		&row.OptionsHash,
		&optionsJSON,
		&row.Turnaround,
		&cost,
		&row.LastVerified,
		&row.SourceNote,
	); err != nil {
		return nil, err
	}

	if qtyMax.Valid {
		v := qtyMax.Int64
		row.QtyMax = &v
	}
	row.Options = options.ParseJSON(optionsJSON)

	parsed, err := decimal.NewFromString(cost)
	if err != nil {
		return nil, fmt.Errorf("parse stored cost %q: %w", cost, err)
	}
	row.Cost = parsed

	return &row, nil
}

// FindExact returns the row whose bracket is pinned to exactly qty
// (qty_min == qty and qty_max == qty or open). Among several matches the
// tightest wins: a finite qty_max beats an open-ended one. A nil row with a
// nil error means no match.
func (s *Store) FindExact(templateID int64, vendor, fingerprint, turnaround string, qty int64) (*Row, error) {
	row, err := scanRow(s.db.QueryRow(`
		SELECT `+rowColumns+`
		FROM price_matrix
		WHERE template_id = ?
		  AND vendor = ?
		  AND options_hash = ?
		  AND turnaround = ?
		  AND qty_min = ?
		  AND (qty_max = ? OR qty_max IS NULL)
		ORDER BY (qty_max IS NULL) ASC, qty_max ASC
		LIMIT 1
	`, templateID, vendor, fingerprint, turnaround, qty, qty))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query exact matrix row: %w", err)
	}
	return row, nil
}

// FindBracket returns the row whose bracket contains qty. Tie-break: the
// largest qty_min wins (tightest lower bound), then the smallest finite
// qty_max, with open-ended brackets last. A nil row with a nil error means
// no match.
func (s *Store) FindBracket(templateID int64, vendor, fingerprint, turnaround string, qty int64) (*Row, error) {
	row, err := scanRow(s.db.QueryRow(`
		SELECT `+rowColumns+`
		FROM price_matrix
		WHERE template_id = ?
		  AND vendor = ?
		  AND options_hash = ?
		  AND turnaround = ?
		  AND qty_min <= ?
		  AND (qty_max >= ? OR qty_max IS NULL)
		ORDER BY qty_min DESC, (qty_max IS NULL) ASC, qty_max ASC
		LIMIT 1
	`, templateID, vendor, fingerprint, turnaround, qty, qty))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query bracket matrix row: %w", err)
	}
	return row, nil
}

// Resolve looks up the recorded cost for a requested quantity and option
// combination: validate, canonicalize, exact bracket first, containing
// bracket second. A row pinned to one quantity is a deliberately verified
// price point and must win over a wider range that merely contains it.
func (s *Store) Resolve(templateID int64, vendor string, qty int64, rawOptions options.Map, turnaroundHint string) (*CostResult, error) {
	if templateID == 0 {
		return nil, fmt.Errorf("%w: template id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(vendor) == "" {
		return nil, fmt.Errorf("%w: vendor is required", ErrInvalidRequest)
	}
	if qty < 1 {
		return nil, fmt.Errorf("%w: qty must be at least 1", ErrInvalidRequest)
	}

	canonical, turnaround, fingerprint := options.Canonicalize(rawOptions, turnaroundHint)

	row, err := s.FindExact(templateID, vendor, fingerprint, turnaround, qty)
	if err != nil {
		return nil, err
	}
	if row == nil {
		row, err = s.FindBracket(templateID, vendor, fingerprint, turnaround, qty)
		if err != nil {
			return nil, err
		}
	}
	if row == nil {
		return nil, ErrNoMatch
	}

	return &CostResult{
		RowID:        row.ID,
		Cost:         row.Cost,
		LastVerified: row.LastVerified,
		Options:      canonical,
		Turnaround:   turnaround,
	}, nil
}

// Upsert inserts a new row or fully replaces an existing one. The options
// fingerprint is always recomputed from the submitted options; a
// caller-supplied hash is ignored. Returns the row id plus warnings for any
// overlapping bracket in the same group that records a different cost.
func (s *Store) Upsert(row Row) (UpsertResult, error) {
	if row.TemplateID == 0 {
		return UpsertResult{}, fmt.Errorf("%w: template id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(row.Vendor) == "" {
		return UpsertResult{}, fmt.Errorf("%w: vendor is required", ErrInvalidRequest)
	}
	if row.QtyMin < 1 {
		return UpsertResult{}, fmt.Errorf("%w: qty_min must be at least 1", ErrInvalidRequest)
	}
	if row.QtyMax != nil && *row.QtyMax < row.QtyMin {
		return UpsertResult{}, fmt.Errorf("%w: qty_max must be >= qty_min", ErrInvalidRequest)
	}
	if row.Cost.IsNegative() {
		return UpsertResult{}, fmt.Errorf("%w: cost must not be negative", ErrInvalidRequest)
	}

	canonical, turnaround, fingerprint := options.Canonicalize(row.Options, row.Turnaround)
	optionsJSON, err := json.Marshal(canonical)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("encode options snapshot: %w", err)
	}

	var qtyMax sql.NullInt64
	if row.QtyMax != nil {
		qtyMax = sql.NullInt64{Int64: *row.QtyMax, Valid: true}
	}
	var lastVerified sql.NullString
	if row.LastVerified != "" {
		lastVerified = sql.NullString{String: row.LastVerified, Valid: true}
	}
	var sourceNote sql.NullString
	if row.SourceNote != "" {
		sourceNote = sql.NullString{String: row.SourceNote, Valid: true}
	}

	id := row.ID
	updated := false
	if id != 0 {
		result, err := s.db.Exec(`
			UPDATE price_matrix
			SET template_id = ?, vendor = ?, qty_min = ?, qty_max = ?,
			    options_hash = ?, options_json = ?, turnaround = ?,
			    cost = ?, last_verified = ?, source_note = ?
			WHERE id = ?
		`, row.TemplateID, row.Vendor, row.QtyMin, qtyMax, fingerprint, string(optionsJSON), turnaround, row.Cost.String(), lastVerified, sourceNote, id)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("update matrix row: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return UpsertResult{}, fmt.Errorf("update matrix row: %w", err)
		}
		updated = affected > 0
	}

	if !updated {
		result, err := s.db.Exec(`
			INSERT INTO price_matrix (template_id, vendor, qty_min, qty_max, options_hash, options_json, turnaround, cost, last_verified, source_note)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, row.TemplateID, row.Vendor, row.QtyMin, qtyMax, fingerprint, string(optionsJSON), turnaround, row.Cost.String(), lastVerified, sourceNote)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("insert matrix row: %w", err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return UpsertResult{}, fmt.Errorf("insert matrix row: %w", err)
		}
	}

	warnings, err := s.overlapWarnings(id, row.TemplateID, row.Vendor, fingerprint, turnaround, row.QtyMin, row.QtyMax, row.Cost)
	if err != nil {
		return UpsertResult{}, err
	}

	return UpsertResult{ID: id, Warnings: warnings}, nil
}

// overlapWarnings flags brackets in the same (template, vendor, options,
// turnaround) group that overlap the saved bracket with a different cost.
// Overlaps are reported, not rejected: the lookup tie-break stays
// deterministic and the operator is expected to clean the data up.
func (s *Store) overlapWarnings(id, templateID int64, vendor, fingerprint, turnaround string, qtyMin int64, qtyMax *int64, cost decimal.Decimal) ([]string, error) {
	query := `
		SELECT id, qty_min, qty_max, cost
		FROM price_matrix
		WHERE template_id = ? AND vendor = ? AND options_hash = ? AND turnaround = ?
		  AND id != ?
		  AND (qty_max >= ? OR qty_max IS NULL)
	`
	args := []any{templateID, vendor, fingerprint, turnaround, id, qtyMin}
	if qtyMax != nil {
		query += ` AND qty_min <= ?`
		args = append(args, *qtyMax)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query overlapping matrix rows: %w", err)
	}
	defer rows.Close()

	var warnings []string
	for rows.Next() {
		var otherID, otherMin int64
		var otherMax sql.NullInt64
		var otherCost string
		if err := rows.Scan(&otherID, &otherMin, &otherMax, &otherCost); err != nil {
			return nil, fmt.Errorf("scan overlapping matrix row: %w", err)
		}
		parsed, err := decimal.NewFromString(otherCost)
		if err != nil {
			return nil, fmt.Errorf("parse stored cost %q: %w", otherCost, err)
		}
		if parsed.Equal(cost) {
			continue
		}
		rangeLabel := fmt.Sprintf("%d+", otherMin)
		if otherMax.Valid {
			rangeLabel = fmt.Sprintf("%d-%d", otherMin, otherMax.Int64)
		}
		warnings = append(warnings, fmt.Sprintf("overlaps row %d (qty %s, cost %s)", otherID, rangeLabel, parsed))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overlapping matrix rows: %w", err)
	}

	return warnings, nil
}

// ListFilter narrows List for the admin matrix screen.
type ListFilter struct {
	TemplateID int64
	Vendor     string
	Search     string // substring match over options JSON and source note
}

// List returns the newest matrix rows first, capped at 200, the way the
// admin screen pages them.
func (s *Store) List(filter ListFilter) ([]Row, error) {
	query := `SELECT ` + rowColumns + ` FROM price_matrix WHERE 1=1`
	var args []any

	if filter.TemplateID != 0 {
		query += ` AND template_id = ?`
		args = append(args, filter.TemplateID)
	}
	if filter.Vendor != "" {
		query += ` AND vendor = ?`
		args = append(args, filter.Vendor)
	}
	if filter.Search != "" {
		query += ` AND (options_json LIKE ? OR COALESCE(source_note, '') LIKE ?)`
		like := "%" + filter.Search + "%"
		args = append(args, like, like)
	}
	query += ` ORDER BY id DESC LIMIT 200`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query matrix rows: %w", err)
	}
	defer rows.Close()

	results := make([]Row, 0)
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan matrix row: %w", err)
		}
		results = append(results, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matrix rows: %w", err)
	}

	return results, nil
}
