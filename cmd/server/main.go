package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/abcprintco/estimator/internal/config"
	"github.com/abcprintco/estimator/internal/db"
	"github.com/abcprintco/estimator/internal/estimate"
	"github.com/abcprintco/estimator/internal/matrix"
	"github.com/abcprintco/estimator/internal/migrations"
	"github.com/abcprintco/estimator/internal/seed"
	"github.com/abcprintco/estimator/internal/template"
)

type server struct {
	auth      *authService
	db        *sql.DB
	matrix    *matrix.Store
	templates *template.Store
	estimates *estimate.Store
}

func main() {
	cfg := config.Load()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	if cfg.IsDev() {
		if err := migrations.Up(database, "migrations"); err != nil {
			log.Fatalf("failed to run database migrations: %v", err)
		}
	}

	auth := newAuthService(database, cfg.SessionSecret)
	if err := auth.ensureAdminUser(cfg.AdminEmail, cfg.AdminPassword); err != nil {
		log.Fatalf("failed to ensure admin user: %v", err)
	}

	stats, err := seed.Run(database)
	if err != nil {
		log.Fatalf("failed to seed defaults: %v", err)
	}
	if stats.Inserts > 0 {
		log.Printf("seeded %d default record(s)", stats.Inserts)
	}

	srv := newServer(auth, database)

	addr := ":" + cfg.Port
	log.Printf("listening on %s", addr)
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func newServer(auth *authService, database *sql.DB) *server {
	matrixStore := matrix.NewStore(database)
	return &server{
		auth:      auth,
		db:        database,
		matrix:    matrixStore,
		templates: template.NewStore(database),
		estimates: estimate.NewStore(database, matrixStore),
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/api/login", s.handleLogin)
	r.Post("/api/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Post("/api/price-lookup", s.handlePriceLookup)
		r.Get("/api/matrix", s.handleMatrixList)

		r.Get("/api/templates", s.handleTemplateList)
		r.Post("/api/templates", s.handleTemplateCreate)
		r.Get("/api/templates/{id}", s.handleTemplateGet)
		r.Post("/api/templates/{id}", s.handleTemplateUpdate)

		r.Get("/api/estimates", s.handleEstimateList)
		r.Post("/api/estimates", s.handleEstimateCreate)
		r.Get("/api/estimates/{id}", s.handleEstimateGet)
		r.Post("/api/estimates/{id}", s.handleEstimateUpdate)
		r.Get("/api/estimates/{id}/history", s.handleEstimateHistory)
		r.Post("/api/estimates/{id}/status", s.handleEstimateStatus)
		r.Post("/api/estimates/{id}/line-items", s.handleLineItemAdd)
		r.Delete("/api/estimates/{id}/line-items/{index}", s.handleLineItemRemove)
		r.Post("/api/estimates/{id}/duplicate", s.handleEstimateDuplicate)

		r.Get("/api/reports/learning-log", s.handleLearningLog)
		r.Get("/print/estimates/{id}", s.handlePrintEstimate)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Post("/api/matrix", s.handleMatrixUpsert)
			r.Post("/api/import/csv", s.handleImportCSV)
			r.Post("/api/import/purge", s.handleImportPurge)
			r.Get("/api/reports/payout", s.handlePayoutReport)
		})
	})

	return r
}

type contextKey string

const userEmailKey contextKey = "userEmail"

func (s *server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, ok := sessionEmail(r, s.auth)
		if !ok {
			respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userEmailKey, email)))
	})
}

func (s *server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admin, err := s.auth.isAdmin(requestUser(r))
		if err != nil {
			log.Printf("admin check failed: %v", err)
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !admin {
			respondError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestUser(r *http.Request) string {
	email, _ := r.Context().Value(userEmailKey).(string)
	return email
}
