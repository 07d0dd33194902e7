package template

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/abcprintco/estimator/internal/costing"
)

var (
	ErrNotFound       = errors.New("template not found")
	ErrInvalidRequest = errors.New("invalid request")
)

// PricingModel selects how a template prices out. Only matrix lookup is
// implemented; formula is reserved for templates priced by a future formula
// engine and currently behaves as manual entry.
const (
	PricingModelMatrix  = "matrix"
	PricingModelFormula = "formula"
)

// Template is a product definition an estimate line item starts from, e.g.
// "10ft Banner". The option schema JSON drives the estimator's option
// dropdowns; markup type/value are the defaults applied when a line is added.
type Template struct {
	ID            int64              `json:"id"`
	Name          string             `json:"name"`
	Category      string             `json:"category"`
	VendorDefault string             `json:"vendor_default"`
	PricingModel  string             `json:"pricing_model"`
	MarkupType    costing.MarkupType `json:"markup_type"`
	MarkupValue   decimal.Decimal    `json:"markup_value"`
	OptionSchema  json.RawMessage    `json:"option_schema"`
	Notes         string             `json:"notes"`
	SchemaVersion string             `json:"schema_version"`
}

// DefaultOptionSchema seeds new templates with the banner-style groups the
// shop uses most, so the estimator screen is usable before anyone edits the
// schema.
const DefaultOptionSchema = `{"schema_version":1,"groups":[{"name":"Size","values":["8ft","10ft","12ft"]},{"name":"Sides","values":["Single","Double"]},{"name":"Turnaround","values":["Standard","Rush"]}]}`

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func normalize(t *Template) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if t.PricingModel != PricingModelFormula {
		t.PricingModel = PricingModelMatrix
	}
	t.MarkupType = costing.NormalizeMarkupType(t.MarkupType)
	if t.MarkupValue.IsNegative() {
		t.MarkupValue = decimal.Zero
	}
	if t.SchemaVersion == "" {
		t.SchemaVersion = "1"
	}

	if len(t.OptionSchema) == 0 {
		t.OptionSchema = json.RawMessage(DefaultOptionSchema)
		return nil
	}
	if !json.Valid(t.OptionSchema) {
		return fmt.Errorf("%w: option_schema is not valid JSON", ErrInvalidRequest)
	}
	return nil
}

func (s *Store) Create(t Template) (int64, error) {
	if err := normalize(&t); err != nil {
		return 0, err
	}

	result, err := s.db.Exec(`
		INSERT INTO product_templates (name, category, vendor_default, pricing_model, markup_type, markup_value, option_schema, notes, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.Name, t.Category, t.VendorDefault, t.PricingModel, string(t.MarkupType), t.MarkupValue.String(), string(t.OptionSchema), t.Notes, t.SchemaVersion)
	if err != nil {
		return 0, fmt.Errorf("insert template: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert template: %w", err)
	}
	return id, nil
}

func (s *Store) Update(id int64, t Template) error {
	if err := normalize(&t); err != nil {
		return err
	}

	result, err := s.db.Exec(`
		UPDATE product_templates
		SET name = ?, category = ?, vendor_default = ?, pricing_model = ?,
		    markup_type = ?, markup_value = ?, option_schema = ?, notes = ?,
		    schema_version = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, t.Name, t.Category, t.VendorDefault, t.PricingModel, string(t.MarkupType), t.MarkupValue.String(), string(t.OptionSchema), t.Notes, t.SchemaVersion, id)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Get(id int64) (*Template, error) {
	var t Template
	var markupType, markupValue, optionSchema string
	err := s.db.QueryRow(`
		SELECT id, name, category, vendor_default, pricing_model, markup_type, markup_value, option_schema, notes, schema_version
		FROM product_templates
		WHERE id = ?
	`, id).Scan(&t.ID, &t.Name, &t.Category, &t.VendorDefault, &t.PricingModel, &markupType, &markupValue, &optionSchema, &t.Notes, &t.SchemaVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}

	t.MarkupType = costing.MarkupType(markupType)
	t.OptionSchema = json.RawMessage(optionSchema)
	t.MarkupValue, err = decimal.NewFromString(markupValue)
	if err != nil {
		return nil, fmt.Errorf("parse stored markup value %q: %w", markupValue, err)
	}
	return &t, nil
}

// List returns all templates ordered by name, the order the estimator's
// template picker shows them in.
func (s *Store) List() ([]Template, error) {
	rows, err := s.db.Query(`
		SELECT id, name, category, vendor_default, pricing_model, markup_type, markup_value, option_schema, notes, schema_version
		FROM product_templates
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	templates := make([]Template, 0)
	for rows.Next() {
		var t Template
		var markupType, markupValue, optionSchema string
		if err := rows.Scan(&t.ID, &t.Name, &t.Category, &t.VendorDefault, &t.PricingModel, &markupType, &markupValue, &optionSchema, &t.Notes, &t.SchemaVersion); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		t.MarkupType = costing.MarkupType(markupType)
		t.OptionSchema = json.RawMessage(optionSchema)
		t.MarkupValue, err = decimal.NewFromString(markupValue)
		if err != nil {
			return nil, fmt.Errorf("parse stored markup value %q: %w", markupValue, err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}

	return templates, nil
}
