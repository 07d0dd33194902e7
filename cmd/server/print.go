package main

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/abcprintco/estimator/internal/estimate"
	"github.com/abcprintco/estimator/internal/options"
)

//go:embed templates/print_estimate.html
var printTemplates embed.FS

var printEstimateTmpl = template.Must(template.ParseFS(printTemplates, "templates/print_estimate.html"))

type printLineView struct {
	Name       string
	Quantity   int64
	Vendor     string
	Options    string
	Turnaround string
	UnitPrice  string
	LineTotal  string
}

type printViewData struct {
	Estimate    *estimate.Estimate
	Lines       []printLineView
	Total       string
	GeneratedAt string
}

func (s *server) handlePrintEstimate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "invalid estimate id", http.StatusBadRequest)
		return
	}

	e, err := s.estimates.Get(id)
	if err != nil {
		if errors.Is(err, estimate.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		log.Printf("load estimate for print: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	data := printViewData{
		Estimate:    e,
		Total:       e.Total.StringFixed(2),
		GeneratedAt: time.Now().Format("Jan 2, 2006 3:04 PM"),
	}
	for _, item := range e.LineItems {
		name := item.CustomProductName
		if name == "" {
			name = fmt.Sprintf("Product #%d", item.TemplateID)
		}
		lineTotal := item.SellPrice.Mul(decimal.NewFromInt(item.Quantity))
		data.Lines = append(data.Lines, printLineView{
			Name:       name,
			Quantity:   item.Quantity,
			Vendor:     item.Vendor,
			Options:    formatOptions(item.Options),
			Turnaround: item.Turnaround,
			UnitPrice:  item.SellPrice.StringFixed(2),
			LineTotal:  lineTotal.StringFixed(2),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := printEstimateTmpl.Execute(w, data); err != nil {
		log.Printf("render print view: %v", err)
	}
}

func formatOptions(m options.Map) string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+": "+strings.Join(m[key], "/"))
	}
	return strings.Join(pairs, ", ")
}
