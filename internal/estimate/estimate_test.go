package estimate

import (
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/abcprintco/estimator/internal/costing"
	"github.com/abcprintco/estimator/internal/matrix"
	"github.com/abcprintco/estimator/internal/options"
)

func newTestStore(t *testing.T) (*Store, *matrix.Store, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed opening in-memory db: %v", err)
	}

	_, err = db.Exec(`
		CREATE TABLE estimates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			invoice_number TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			client_name TEXT NOT NULL DEFAULT '',
			client_email TEXT NOT NULL DEFAULT '',
			client_phone TEXT NOT NULL DEFAULT '',
			job_description TEXT NOT NULL DEFAULT '',
			order_date TEXT NOT NULL DEFAULT '',
			due_date TEXT NOT NULL DEFAULT '',
			approval_date TEXT NOT NULL DEFAULT '',
			is_rush INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'estimate',
			commission_pct TEXT NOT NULL DEFAULT '0',
			printer_pct TEXT NOT NULL DEFAULT '0',
			designer_pct TEXT NOT NULL DEFAULT '0',
			printer_tech TEXT NOT NULL DEFAULT '',
			designer TEXT NOT NULL DEFAULT '',
			line_items_json TEXT NOT NULL DEFAULT '[]',
			estimate_total TEXT NOT NULL DEFAULT '0',
			commission_amount TEXT NOT NULL DEFAULT '0',
			search_excerpt TEXT NOT NULL DEFAULT '',
			is_imported INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE estimate_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			estimate_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			user TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE price_matrix (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			template_id INTEGER NOT NULL,
			vendor TEXT NOT NULL,
			qty_min INTEGER NOT NULL,
			qty_max INTEGER,
			options_hash TEXT NOT NULL,
			options_json TEXT NOT NULL,
			turnaround TEXT NOT NULL DEFAULT '',
			cost TEXT NOT NULL DEFAULT '0',
			last_verified TEXT,
			source_note TEXT
		);
	`)
	if err != nil {
		t.Fatalf("failed creating tables: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	matrixStore := matrix.NewStore(db)
	return NewStore(db, matrixStore), matrixStore, db
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func manualCost(t *testing.T, s string) *decimal.Decimal {
	t.Helper()
	d := dec(t, s)
	return &d
}

func TestCreateAndGet(t *testing.T) {
	store, _, _ := newTestStore(t)

	id, err := store.Create(Estimate{
		InvoiceNumber: "1005-26",
		Title:         "Banner order",
		ClientName:    "Acme Co",
		DueDate:       "2026-10-01",
		CommissionPct: dec(t, "10"),
	}, "pat")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.InvoiceNumber != "1005-26" || got.ClientName != "Acme Co" {
		t.Errorf("got %q / %q, want 1005-26 / Acme Co", got.InvoiceNumber, got.ClientName)
	}
	if got.Status != StatusEstimate {
		t.Errorf("status = %q, want default %q", got.Status, StatusEstimate)
	}
	if !got.Total.IsZero() {
		t.Errorf("total = %s, want 0 with no line items", got.Total)
	}

	history, err := store.History(id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Note != "Created" || history[0].User != "pat" {
		t.Errorf("history = %+v, want one Created entry by pat", history)
	}
}

func TestGetMissing(t *testing.T) {
	store, _, _ := newTestStore(t)
	if _, err := store.Get(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateTracksChanges(t *testing.T) {
	store, _, _ := newTestStore(t)
	id, err := store.Create(Estimate{Title: "Job", DueDate: "2026-09-10"}, "pat")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	e, _ := store.Get(id)
	updated := *e
	updated.DueDate = "2026-09-12"
	updated.IsRush = true
	if err := store.Update(id, updated, "kim"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	history, _ := store.History(id)
	var notes []string
	for _, entry := range history {
		notes = append(notes, entry.Note)
	}
	joined := strings.Join(notes, "\n")
	if !strings.Contains(joined, "due_date: 2026-09-10 -> 2026-09-12") {
		t.Errorf("history missing due date change, got:\n%s", joined)
	}
	if !strings.Contains(joined, "rush: false -> true") {
		t.Errorf("history missing rush change, got:\n%s", joined)
	}
}

func TestListSearch(t *testing.T) {
	store, _, _ := newTestStore(t)
	if _, err := store.Create(Estimate{Title: "Banners", ClientName: "Acme Co", InvoiceNumber: "1001-26"}, "pat"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(Estimate{Title: "Business cards", ClientName: "Globex"}, "pat"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	all, err := store.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d estimates, want 2", len(all))
	}

	matches, err := store.List("acme")
	if err != nil {
		t.Fatalf("List(acme): %v", err)
	}
	if len(matches) != 1 || matches[0].ClientName != "Acme Co" {
		t.Errorf("search by client = %+v, want the Acme estimate", matches)
	}

	byInvoice, err := store.List("1001-26")
	if err != nil {
		t.Fatalf("List(1001-26): %v", err)
	}
	if len(byInvoice) != 1 || byInvoice[0].InvoiceNumber != "1001-26" {
		t.Errorf("search by invoice = %+v, want one match", byInvoice)
	}
}

func TestSetStatus(t *testing.T) {
	store, _, _ := newTestStore(t)
	id, _ := store.Create(Estimate{Title: "Job"}, "pat")

	if err := store.SetStatus(id, StatusProduction, "kim"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	e, _ := store.Get(id)
	if e.Status != StatusProduction {
		t.Errorf("status = %q, want %q", e.Status, StatusProduction)
	}

	history, _ := store.History(id)
	last := history[len(history)-1]
	if last.Note != "Quick status change: estimate -> production" || last.User != "kim" {
		t.Errorf("last history = %+v, want quick status change by kim", last)
	}

	// Re-setting the same status is a no-op, no history noise.
	before := len(history)
	if err := store.SetStatus(id, StatusProduction, "kim"); err != nil {
		t.Fatalf("SetStatus repeat: %v", err)
	}
	history, _ = store.History(id)
	if len(history) != before {
		t.Errorf("history grew to %d entries on a no-op status change", len(history))
	}

	if err := store.SetStatus(id, "archived", "kim"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("unknown status err = %v, want ErrInvalidRequest", err)
	}
}

func TestAddLineItemsRecomputeTotals(t *testing.T) {
	store, _, _ := newTestStore(t)
	id, _ := store.Create(Estimate{Title: "Job", CommissionPct: dec(t, "10")}, "pat")

	if _, err := store.AddLineItem(id, LineItemInput{
		CustomProductName: "Flyers",
		Quantity:          2,
		ManualCost:        manualCost(t, "10"),
		MarkupType:        costing.MarkupPercent,
		MarkupValue:       decimal.Zero,
	}, "pat"); err != nil {
		t.Fatalf("AddLineItem: %v", err)
	}
	if _, err := store.AddLineItem(id, LineItemInput{
		CustomProductName: "Posters",
		Quantity:          3,
		ManualCost:        manualCost(t, "20"),
		MarkupType:        costing.MarkupPercent,
		MarkupValue:       decimal.Zero,
	}, "pat"); err != nil {
		t.Fatalf("AddLineItem: %v", err)
	}

	e, _ := store.Get(id)
	if !e.Total.Equal(dec(t, "80")) {
		t.Errorf("total = %s, want 80", e.Total)
	}
	if !e.CommissionAmount.Equal(dec(t, "8")) {
		t.Errorf("commission = %s, want 8", e.CommissionAmount)
	}
	if len(e.LineItems) != 2 {
		t.Fatalf("got %d line items, want 2", len(e.LineItems))
	}
}

func TestAddLineItemFromMatrix(t *testing.T) {
	store, matrixStore, _ := newTestStore(t)

	qtyMax := int64(500)
	if _, err := matrixStore.Upsert(matrix.Row{
		TemplateID: 7,
		Vendor:     "Signs365",
		QtyMin:     1,
		QtyMax:     &qtyMax,
		Options:    options.Map{"Size": {"4x8"}},
		Cost:       dec(t, "40.00"),
	}); err != nil {
		t.Fatalf("seed matrix: %v", err)
	}

	id, _ := store.Create(Estimate{Title: "Job"}, "pat")
	item, err := store.AddLineItem(id, LineItemInput{
		TemplateID:  7,
		Quantity:    100,
		Vendor:      "Signs365",
		Options:     options.Map{"Size": {"4x8"}},
		MarkupType:  costing.MarkupPercent,
		MarkupValue: dec(t, "50"),
	}, "pat")
	if err != nil {
		t.Fatalf("AddLineItem: %v", err)
	}

	if !item.CostSnapshot.Equal(dec(t, "40")) {
		t.Errorf("cost snapshot = %s, want 40", item.CostSnapshot)
	}
	if !item.SellPrice.Equal(dec(t, "60")) {
		t.Errorf("sell = %s, want 60", item.SellPrice)
	}
	if item.PriceMatrixRowID == nil {
		t.Error("expected a price matrix row id on a resolved line")
	}
}

func TestAddLineItemNoMatchPropagates(t *testing.T) {
	store, _, _ := newTestStore(t)
	id, _ := store.Create(Estimate{Title: "Job"}, "pat")

	_, err := store.AddLineItem(id, LineItemInput{
		TemplateID: 7,
		Quantity:   100,
		Vendor:     "Signs365",
	}, "pat")
	if !errors.Is(err, matrix.ErrNoMatch) {
		t.Errorf("err = %v, want matrix.ErrNoMatch", err)
	}
}

func TestAddLineItemValidation(t *testing.T) {
	store, _, _ := newTestStore(t)
	id, _ := store.Create(Estimate{Title: "Job"}, "pat")

	cases := []struct {
		name  string
		input LineItemInput
	}{
		{"zero qty", LineItemInput{CustomProductName: "Flyers", ManualCost: manualCost(t, "5")}},
		{"no template or name", LineItemInput{Quantity: 1, ManualCost: manualCost(t, "5")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := store.AddLineItem(id, tc.input, "pat"); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestRemoveLineItem(t *testing.T) {
	store, _, _ := newTestStore(t)
	id, _ := store.Create(Estimate{Title: "Job"}, "pat")
	_, _ = store.AddLineItem(id, LineItemInput{CustomProductName: "Flyers", Quantity: 1, ManualCost: manualCost(t, "10")}, "pat")
	_, _ = store.AddLineItem(id, LineItemInput{CustomProductName: "Posters", Quantity: 1, ManualCost: manualCost(t, "20")}, "pat")

	if err := store.RemoveLineItem(id, 0, "pat"); err != nil {
		t.Fatalf("RemoveLineItem: %v", err)
	}

	e, _ := store.Get(id)
	if len(e.LineItems) != 1 || e.LineItems[0].CustomProductName != "Posters" {
		t.Errorf("line items = %+v, want only Posters", e.LineItems)
	}
	if !e.Total.Equal(dec(t, "20")) {
		t.Errorf("total = %s, want 20 after removal", e.Total)
	}

	if err := store.RemoveLineItem(id, 5, "pat"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("out-of-range err = %v, want ErrInvalidRequest", err)
	}
}

func TestDuplicate(t *testing.T) {
	store, _, _ := newTestStore(t)
	id, _ := store.Create(Estimate{Title: "Banner order", ClientName: "Acme Co"}, "pat")
	_, _ = store.AddLineItem(id, LineItemInput{CustomProductName: "Banner", Quantity: 2, ManualCost: manualCost(t, "30")}, "pat")
	_ = store.SetStatus(id, StatusCompleted, "pat")

	dupID, err := store.Duplicate(id, "kim")
	if err != nil {
		t.Fatalf("Duplicate: %v", err)
	}
	if dupID == id {
		t.Fatal("duplicate returned the original id")
	}

	dup, _ := store.Get(dupID)
	if dup.Title != "Banner order (Copy)" {
		t.Errorf("title = %q, want Banner order (Copy)", dup.Title)
	}
	if dup.Status != StatusEstimate {
		t.Errorf("status = %q, want reset to %q", dup.Status, StatusEstimate)
	}
	if len(dup.LineItems) != 1 {
		t.Errorf("got %d line items, want the copied one", len(dup.LineItems))
	}

	history, _ := store.History(dupID)
	last := history[len(history)-1]
	if !strings.Contains(last.Note, "Duplicated from #") {
		t.Errorf("last history note = %q, want a duplicated-from marker", last.Note)
	}
}

func TestComputeUrgency(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		dueDate string
		rush    bool
		want    string
	}{
		{"rush always urgent", "2026-12-01", true, UrgencyUrgent},
		{"overdue", "2026-08-30", false, UrgencyUrgent},
		{"due today", "2026-09-01", false, UrgencyWarning},
		{"due tomorrow, more than a day out", "2026-09-02", false, UrgencyNormal},
		{"due later", "2026-09-10", false, UrgencyNormal},
		{"no due date", "", false, UrgencyNormal},
		{"unparseable", "soon", false, UrgencyNormal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ComputeUrgency(tc.dueDate, tc.rush, now); got != tc.want {
				t.Errorf("ComputeUrgency(%q, %t) = %q, want %q", tc.dueDate, tc.rush, got, tc.want)
			}
		})
	}
}

func TestImportCSVLegacy(t *testing.T) {
	store, _, _ := newTestStore(t)

	// Seed an existing estimate so the duplicate check has something to hit.
	if _, err := store.Create(Estimate{InvoiceNumber: "1001-26", Title: "Existing"}, "pat"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	input := strings.Join([]string{
		"Invoice No,Company,Item,Quantity,Amount,Date",
		"1005-26,Acme Co,Flyers,500,$250.00,3/15/2026",
		"BAD,Globex,Posters,10,100,3/16/2026",
		"1001-26,Initech,Cards,1000,80,3/17/2026",
		",Hooli,Signs,5,40,3/18/2026",
	}, "\n")

	result, err := store.ImportCSV(strings.NewReader(input), "pat")
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if result.Imported != 1 {
		t.Errorf("imported = %d, want 1", result.Imported)
	}
	if result.SkippedDuplicates != 1 {
		t.Errorf("skipped duplicates = %d, want 1", result.SkippedDuplicates)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("errors = %v, want 2 (invalid + duplicate)", result.Errors)
	}
	if !strings.Contains(result.Errors[0], "Invalid Invoice: BAD") {
		t.Errorf("first error = %q, want invalid invoice message", result.Errors[0])
	}
	if !strings.Contains(result.Errors[1], "Duplicate Invoice: 1001-26") {
		t.Errorf("second error = %q, want duplicate invoice message", result.Errors[1])
	}

	matches, err := store.List("1005-26")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches for imported invoice, want 1", len(matches))
	}
	imported, err := store.Get(matches[0].ID)
	if err != nil {
		t.Fatalf("Get imported: %v", err)
	}
	if imported.Title != "Acme Co - Flyers" {
		t.Errorf("title = %q, want Acme Co - Flyers", imported.Title)
	}
	if imported.DueDate != "2026-03-15" {
		t.Errorf("due date = %q, want normalized 2026-03-15", imported.DueDate)
	}
	if !imported.IsImported {
		t.Error("imported flag not set")
	}
	if !imported.Total.Equal(dec(t, "250")) {
		t.Errorf("total = %s, want the log book amount 250", imported.Total)
	}
}

func TestImportCSVSimple(t *testing.T) {
	store, _, _ := newTestStore(t)

	input := strings.Join([]string{
		"Title,Invoice,Due Date",
		"Banner job,2001-26,2026-04-01",
		"Old job,2002-26,2024-01-01",
	}, "\n")

	result, err := store.ImportCSV(strings.NewReader(input), "pat")
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if result.Imported != 2 {
		t.Fatalf("imported = %d, want 2 (errors: %v)", result.Imported, result.Errors)
	}

	matches, _ := store.List("2002-26")
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].DueDate != "" {
		t.Errorf("due date = %q, want dropped pre-cutover date", matches[0].DueDate)
	}
}

func TestPurgeImported(t *testing.T) {
	store, _, _ := newTestStore(t)
	if _, err := store.Create(Estimate{InvoiceNumber: "1001-26", Title: "Manual"}, "pat"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	input := "Title,Invoice,Due Date\nImported job,3001-26,2026-04-01\n"
	if _, err := store.ImportCSV(strings.NewReader(input), "pat"); err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}

	deleted, err := store.PurgeImported()
	if err != nil {
		t.Fatalf("PurgeImported: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	remaining, _ := store.List("")
	if len(remaining) != 1 || remaining[0].Title != "Manual" {
		t.Errorf("remaining = %+v, want only the manual estimate", remaining)
	}
}

func TestPayoutReport(t *testing.T) {
	store, _, _ := newTestStore(t)

	id, _ := store.Create(Estimate{
		Title:       "Completed job",
		PrinterTech: "Sam",
		PrinterPct:  dec(t, "20"),
		Designer:    "Lee",
		DesignerPct: dec(t, "10"),
	}, "pat")
	// cost 10, markup 50% -> sell 15; qty 2 -> profit 10.
	if _, err := store.AddLineItem(id, LineItemInput{
		CustomProductName: "Banner",
		Quantity:          2,
		ManualCost:        manualCost(t, "10"),
		MarkupType:        costing.MarkupPercent,
		MarkupValue:       dec(t, "50"),
	}, "pat"); err != nil {
		t.Fatalf("AddLineItem: %v", err)
	}
	if err := store.SetStatus(id, StatusCompleted, "pat"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	// Still in production, must not appear.
	otherID, _ := store.Create(Estimate{Title: "Open job", PrinterTech: "Sam"}, "pat")
	_ = store.SetStatus(otherID, StatusProduction, "pat")

	report, err := store.PayoutReport(PayoutFilter{})
	if err != nil {
		t.Fatalf("PayoutReport: %v", err)
	}
	if len(report.Rows) != 1 {
		t.Fatalf("got %d rows, want 1 completed", len(report.Rows))
	}
	row := report.Rows[0]
	if !row.Profit.Equal(dec(t, "10")) {
		t.Errorf("profit = %s, want 10", row.Profit)
	}
	if !row.PrinterPayout.Equal(dec(t, "2")) {
		t.Errorf("printer payout = %s, want 2", row.PrinterPayout)
	}
	if !row.DesignerPayout.Equal(dec(t, "1")) {
		t.Errorf("designer payout = %s, want 1", row.DesignerPayout)
	}
	if !report.TotalProfit.Equal(dec(t, "10")) {
		t.Errorf("total profit = %s, want 10", report.TotalProfit)
	}

	filtered, err := store.PayoutReport(PayoutFilter{PrinterTech: "Nobody"})
	if err != nil {
		t.Fatalf("PayoutReport filtered: %v", err)
	}
	if len(filtered.Rows) != 0 {
		t.Errorf("got %d rows for unknown tech, want 0", len(filtered.Rows))
	}
}

func TestLearningLog(t *testing.T) {
	store, _, _ := newTestStore(t)

	first, _ := store.Create(Estimate{Title: "A"}, "pat")
	_, _ = store.AddLineItem(first, LineItemInput{CustomProductName: "Vinyl Banner", Quantity: 1, ManualCost: manualCost(t, "25"), MarkupValue: dec(t, "50")}, "pat")

	second, _ := store.Create(Estimate{Title: "B"}, "pat")
	_, _ = store.AddLineItem(second, LineItemInput{CustomProductName: "vinyl banner", Quantity: 1, ManualCost: manualCost(t, "30"), MarkupValue: dec(t, "50")}, "pat")
	// Template-backed lines never reach the learning log.
	_, _ = store.AddLineItem(second, LineItemInput{TemplateID: 9, Quantity: 1, ManualCost: manualCost(t, "5")}, "pat")

	log, err := store.LearningLog()
	if err != nil {
		t.Fatalf("LearningLog: %v", err)
	}
	if len(log) != 1 {
		t.Fatalf("got %d learning rows, want 1 (case-insensitive grouping)", len(log))
	}
	row := log[0]
	if row.TimesQuoted != 2 {
		t.Errorf("times quoted = %d, want 2", row.TimesQuoted)
	}
	if row.LastEstimateID != second {
		t.Errorf("last estimate = %d, want %d", row.LastEstimateID, second)
	}
	if !row.LastCost.Equal(dec(t, "30")) {
		t.Errorf("last cost = %s, want 30", row.LastCost)
	}
}
