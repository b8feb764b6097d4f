package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/intake/internal/criteria"
	"github.com/MikeSquared-Agency/intake/internal/email"
	"github.com/MikeSquared-Agency/intake/internal/processor"
	"github.com/MikeSquared-Agency/intake/internal/store"
)

const maxBodyBytes = 1 << 20

type Processor interface {
	Process(ctx context.Context, env email.Envelope) (processor.ProcessingResult, error)
	PendingReviewCount() int
}

type CriteriaSource interface {
	Current(ctx context.Context) (criteria.Criteria, error)
	Reload() error
	LoadedAt() time.Time
}

// ReferralStore serves stored referrals and the review backlog.
type ReferralStore interface {
	GetReferral(ctx context.Context, referralID uuid.UUID) (*store.Summary, error)
	PendingReviews(ctx context.Context, limit int) ([]store.Summary, error)
}

// Deps wires the server to the pipeline. Checks are reported by /health; a
// failing check turns the response into a 503. Referral lookups are only
// routed when Referrals is set.
type Deps struct {
	Processor    Processor
	Criteria     CriteriaSource
	Referrals    ReferralStore
	Checks       map[string]func(ctx context.Context) error
	WebhookRate  float64
	WebhookBurst int
	Logger       *slog.Logger
}

type Server struct {
	router    *chi.Mux
	port      int
	processor Processor
	criteria  CriteriaSource
	referrals ReferralStore
	checks    map[string]func(ctx context.Context) error
	logger    *slog.Logger
	startedAt time.Time
}

func NewServer(port int, apiToken string, deps Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:    router,
		port:      port,
		processor: deps.Processor,
		criteria:  deps.Criteria,
		referrals: deps.Referrals,
		checks:    deps.Checks,
		logger:    logger,
		startedAt: time.Now().UTC(),
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/intake/status", s.status)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/webhooks", func(r chi.Router) {
		r.Use(RateLimitMiddleware(deps.WebhookRate, deps.WebhookBurst))
		r.Post("/postmark", s.webhook(email.FromPostmark))
		r.Post("/email", s.webhook(email.FromGeneric))
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Post("/referrals", s.submitReferral)
		r.Post("/referrals/evaluate", s.evaluateReferral)
		r.Get("/criteria", s.getCriteria)
		r.Post("/criteria/reload", s.reloadCriteria)
		if deps.Referrals != nil {
			r.Get("/referrals/{id}", s.getReferral)
			r.Get("/reviews/pending", s.pendingReviews)
		}
	})

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]string{"status": "ok"}
	code := http.StatusOK
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			body[name] = err.Error()
			body["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		body[name] = "ok"
	}
	writeJSON(w, code, body)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"agent":      "intake",
		"status":     "active",
		"started_at": s.startedAt.Format(time.RFC3339),
	}
	if s.processor != nil {
		body["pending_reviews"] = s.processor.PendingReviewCount()
	}
	if s.criteria != nil {
		body["criteria_loaded_at"] = s.criteria.LoadedAt().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
