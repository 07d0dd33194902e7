package seed

import (
	"database/sql"
	"fmt"

	"github.com/abcprintco/estimator/internal/template"
)

const (
	defaultBannerName = "Vinyl Banner"
	defaultCardsName  = "Business Cards"

	cardsOptionSchema = `{"schema_version":1,"groups":[{"name":"Size","values":["3.5x2"]},{"name":"Stock","values":["14pt","16pt"]},{"name":"Finish","values":["Matte","Gloss","UV"]},{"name":"Turnaround","values":["Standard","Rush"]}]}`
)

// Stats contains seed operation counters.
type Stats struct {
	Inserts int
	Updates int
}

// Run executes the startup seed in an idempotent way. It guarantees the two
// product templates every fresh install starts with; everything else is
// operator data.
func Run(db *sql.DB) (Stats, error) {
	tx, err := db.Begin()
	if err != nil {
		return Stats{}, fmt.Errorf("begin seed transaction: %w", err)
	}

	stats := Stats{}

	if err := ensureTemplate(tx, defaultBannerName, "Wide Format", template.DefaultOptionSchema, &stats); err != nil {
		_ = tx.Rollback()
		return Stats{}, err
	}
	if err := ensureTemplate(tx, defaultCardsName, "Print", cardsOptionSchema, &stats); err != nil {
		_ = tx.Rollback()
		return Stats{}, err
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("commit seed transaction: %w", err)
	}

	return stats, nil
}

func ensureTemplate(tx *sql.Tx, name, category, optionSchema string, stats *Stats) error {
	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM product_templates WHERE name = ? LIMIT 1)`, name).Scan(&exists); err != nil {
		return fmt.Errorf("check template existence: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := tx.Exec(`
		INSERT INTO product_templates (name, category, pricing_model, markup_type, markup_value, option_schema, schema_version)
		VALUES (?, ?, 'matrix', 'percent', '50', ?, '1')
	`, name, category, optionSchema); err != nil {
		return fmt.Errorf("insert default template %q: %w", name, err)
	}
	stats.Inserts++
	return nil
}
