package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/intake/internal/criteria"
	"github.com/MikeSquared-Agency/intake/internal/decision"
	"github.com/MikeSquared-Agency/intake/internal/email"
	"github.com/MikeSquared-Agency/intake/internal/extractor"
	"github.com/MikeSquared-Agency/intake/internal/store"
)

const (
	defaultPendingLimit = 50
	maxPendingLimit     = 500
)

type envelopeParser func(data []byte) (email.Envelope, error)

// webhook accepts a provider payload. Only fatal processing errors return a
// non-2xx status, so providers retry exactly those deliveries.
func (s *Server) webhook(parse envelopeParser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		env, err := parse(data)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.process(r.Context(), w, env)
	}
}

// submitReferral handles POST /api/v1/referrals
func (s *Server) submitReferral(w http.ResponseWriter, r *http.Request) {
	var env email.Envelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if env.Provider == "" {
		env.Provider = email.ProviderGeneric
	}
	s.process(r.Context(), w, env)
}

func (s *Server) process(ctx context.Context, w http.ResponseWriter, env email.Envelope) {
	res, err := s.processor.Process(ctx, env)
	if err != nil {
		s.logger.Error("referral processing failed", "message_id", env.MessageID, "error", err)
		writeProcessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// evaluateReferral handles POST /api/v1/referrals/evaluate. It runs the
// decision engine on already-structured data with no side effects.
func (s *Server) evaluateReferral(w http.ResponseWriter, r *http.Request) {
	var data extractor.ReferralData
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(data.PatientName) == "" {
		writeError(w, http.StatusBadRequest, "patientName is required")
		return
	}
	data.ApplyDefaults()

	c, err := s.criteria.Current(r.Context())
	if err != nil {
		writeProcessError(w, err)
		return
	}
	d, err := decision.Decide(data, c)
	if err != nil {
		writeProcessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// getReferral handles GET /api/v1/referrals/{id}
func (s *Server) getReferral(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid referral id")
		return
	}
	sum, err := s.referrals.GetReferral(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "referral not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load referral", "referral_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load referral")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// pendingReviews handles GET /api/v1/reviews/pending
func (s *Server) pendingReviews(w http.ResponseWriter, r *http.Request) {
	limit := defaultPendingLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxPendingLimit)
	}
	reviews, err := s.referrals.PendingReviews(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list pending reviews", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list pending reviews")
		return
	}
	if reviews == nil {
		reviews = []store.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reviews": reviews,
		"count":   len(reviews),
	})
}

// getCriteria handles GET /api/v1/criteria
func (s *Server) getCriteria(w http.ResponseWriter, r *http.Request) {
	c, err := s.criteria.Current(r.Context())
	if err != nil {
		writeProcessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"criteria":  c,
		"loaded_at": s.criteria.LoadedAt(),
	})
}

// reloadCriteria handles POST /api/v1/criteria/reload. A rejected file leaves
// the previous criteria active.
func (s *Server) reloadCriteria(w http.ResponseWriter, r *http.Request) {
	if err := s.criteria.Reload(); err != nil {
		var cfgErr *criteria.ConfigError
		if errors.As(err, &cfgErr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":    "invalid criteria",
				"problems": cfgErr.Problems,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "reloaded",
		"loaded_at": s.criteria.LoadedAt(),
	})
}

func writeProcessError(w http.ResponseWriter, err error) {
	var cfgErr *criteria.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":    "invalid agency criteria",
			"problems": cfgErr.Problems,
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
