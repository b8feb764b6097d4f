package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/intake/internal/criteria"
	"github.com/MikeSquared-Agency/intake/internal/decision"
	"github.com/MikeSquared-Agency/intake/internal/email"
	"github.com/MikeSquared-Agency/intake/internal/processor"
	"github.com/MikeSquared-Agency/intake/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubProcessor struct {
	got []email.Envelope
	res processor.ProcessingResult
	err error
}

func (p *stubProcessor) Process(_ context.Context, env email.Envelope) (processor.ProcessingResult, error) {
	p.got = append(p.got, env)
	return p.res, p.err
}

func (p *stubProcessor) PendingReviewCount() int { return 3 }

type stubCriteria struct {
	c         criteria.Criteria
	reloadErr error
	reloads   int
}

func (s *stubCriteria) Current(context.Context) (criteria.Criteria, error) { return s.c, nil }

func (s *stubCriteria) Reload() error {
	s.reloads++
	return s.reloadErr
}

func (s *stubCriteria) LoadedAt() time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
}

func newTestServer(token string) (*Server, *stubProcessor, *stubCriteria) {
	proc := &stubProcessor{res: processor.ProcessingResult{Success: true, ReferralID: "ref-1", Errors: []string{}}}
	crit := &stubCriteria{c: criteria.Default()}
	srv := NewServer(8760, token, Deps{
		Processor:    proc,
		Criteria:     crit,
		WebhookRate:  100,
		WebhookBurst: 100,
		Logger:       discardLogger(),
	})
	return srv, proc, crit
}

func do(srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer("")

	w := do(srv, "GET", "/health", "", nil)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestHealthEndpoint_FailingCheck(t *testing.T) {
	srv := NewServer(8760, "", Deps{
		Checks: map[string]func(context.Context) error{
			"database": func(context.Context) error { return errors.New("connection refused") },
		},
		Logger: discardLogger(),
	})

	w := do(srv, "GET", "/health", "", nil)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["database"] != "connection refused" {
		t.Errorf("expected database error in body, got %v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, _ := newTestServer("")

	w := do(srv, "GET", "/api/v1/intake/status", "", nil)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["agent"] != "intake" {
		t.Errorf("expected agent intake, got %v", body["agent"])
	}
	if body["pending_reviews"] != float64(3) {
		t.Errorf("expected 3 pending reviews, got %v", body["pending_reviews"])
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv, _, _ := newTestServer("")

	w := do(srv, "GET", "/nonexistent", "", nil)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer("")

	w := do(srv, "GET", "/metrics", "", nil)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestSubmitReferral(t *testing.T) {
	srv, proc, _ := newTestServer("")

	w := do(srv, "POST", "/api/v1/referrals",
		`{"from":"a@mercy.org","subject":"Referral","text":"Patient: Jane Doe","messageId":"m-1","timestamp":"2024-03-01T09:00:00Z"}`, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(proc.got) != 1 || proc.got[0].MessageID != "m-1" {
		t.Fatalf("expected envelope m-1 to be processed, got %+v", proc.got)
	}
	if proc.got[0].Provider != email.ProviderGeneric {
		t.Errorf("expected generic provider, got %q", proc.got[0].Provider)
	}

	var res processor.ProcessingResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if res.ReferralID != "ref-1" {
		t.Errorf("expected referral ref-1, got %q", res.ReferralID)
	}
}

func TestSubmitReferral_InvalidJSON(t *testing.T) {
	srv, proc, _ := newTestServer("")

	w := do(srv, "POST", "/api/v1/referrals", "{not json", nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if len(proc.got) != 0 {
		t.Error("expected nothing processed")
	}
}

func TestSubmitReferral_ConfigError(t *testing.T) {
	srv, proc, _ := newTestServer("")
	proc.err = &criteria.ConfigError{Problems: []string{"weights sum to 1.3"}}

	w := do(srv, "POST", "/api/v1/referrals", `{"from":"a@b.org","messageId":"m-2"}`, nil)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "weights sum to 1.3") {
		t.Errorf("expected problems in body, got %s", w.Body.String())
	}
}

func TestPostmarkWebhook(t *testing.T) {
	srv, proc, _ := newTestServer("secret")

	w := do(srv, "POST", "/webhooks/postmark",
		`{"From":"discharge@mercy.org","Subject":"Referral","TextBody":"Patient: Jane Doe","MessageID":"pm-1","Date":"Fri, 1 Mar 2024 09:00:00 +0000"}`, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 without api token, got %d", w.Code)
	}
	if len(proc.got) != 1 {
		t.Fatalf("expected one envelope, got %d", len(proc.got))
	}
	if proc.got[0].Provider != email.ProviderPostmark || proc.got[0].MessageID != "pm-1" {
		t.Errorf("unexpected envelope %+v", proc.got[0])
	}
}

func TestWebhook_RateLimited(t *testing.T) {
	proc := &stubProcessor{res: processor.ProcessingResult{Errors: []string{}}}
	srv := NewServer(8760, "", Deps{
		Processor:    proc,
		Criteria:     &stubCriteria{c: criteria.Default()},
		WebhookRate:  0.001,
		WebhookBurst: 1,
		Logger:       discardLogger(),
	})
	body := `{"from":"a@b.org","messageId":"m-1"}`

	first := do(srv, "POST", "/webhooks/email", body, nil)
	second := do(srv, "POST", "/webhooks/email", body, nil)

	if first.Code != http.StatusOK {
		t.Errorf("expected first request 200, got %d", first.Code)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("expected second request 429, got %d", second.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	srv, _, _ := newTestServer("secret")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			w := do(srv, "GET", "/api/v1/criteria", "", headers)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestEvaluateReferral(t *testing.T) {
	srv, _, _ := newTestServer("")

	w := do(srv, "POST", "/api/v1/referrals/evaluate", `{
		"patientName": "Mary Johnson",
		"diagnosis": "Congestive heart failure",
		"insuranceProvider": "Medicare",
		"serviceRequested": ["skilled_nursing"],
		"urgency": "routine",
		"estimatedEpisodeLength": 60,
		"geographicLocation": {"distance": 5, "resolved": true},
		"hospitalRating": 5,
		"physicianOrders": true
	}`, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var d decision.Decision
	if err := json.NewDecoder(w.Body).Decode(&d); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if d.Action != decision.ActionAccept {
		t.Errorf("expected accept, got %s", d.Action)
	}
}

func TestEvaluateReferral_DistanceWithoutResolvedFlag(t *testing.T) {
	srv, _, _ := newTestServer("")

	w := do(srv, "POST", "/api/v1/referrals/evaluate", `{
		"patientName": "Robert Lee",
		"diagnosis": "Hip replacement recovery",
		"insuranceProvider": "Medicare",
		"geographicLocation": {"address": "88 County Road 9", "zipCode": "62999", "distance": 45},
		"hospitalRating": 5,
		"physicianOrders": true
	}`, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var d decision.Decision
	if err := json.NewDecoder(w.Body).Decode(&d); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if d.Action != decision.ActionReject {
		t.Errorf("expected reject, got %s (%s)", d.Action, d.Reason)
	}
	if d.DecisionFactors.Geographic.Score != 0 {
		t.Errorf("expected geographic score 0, got %v", d.DecisionFactors.Geographic.Score)
	}
	if d.DecisionFactors.Geographic.Exclusion == "" {
		t.Error("expected geographic exclusion")
	}
}

func TestEvaluateReferral_AppliesExtractionDefaults(t *testing.T) {
	srv, _, _ := newTestServer("")

	w := do(srv, "POST", "/api/v1/referrals/evaluate", `{
		"patientName": "Mary Johnson",
		"insuranceProvider": "Medicare",
		"geographicLocation": {"distance": 5},
		"hospitalRating": 5,
		"physicianOrders": true
	}`, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var d decision.Decision
	if err := json.NewDecoder(w.Body).Decode(&d); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	// Skilled nursing is assumed and offered, so clinical gets full service credit.
	if d.DecisionFactors.Clinical.Score < 0.999 {
		t.Errorf("expected clinical score 1, got %v (%s)", d.DecisionFactors.Clinical.Score, d.DecisionFactors.Clinical.Detail)
	}
	if d.Action != decision.ActionAccept {
		t.Errorf("expected accept, got %s (%s)", d.Action, d.Reason)
	}
}

func TestEvaluateReferral_MissingPatient(t *testing.T) {
	srv, _, _ := newTestServer("")

	w := do(srv, "POST", "/api/v1/referrals/evaluate", `{"diagnosis":"CHF"}`, nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestReloadCriteria(t *testing.T) {
	srv, _, crit := newTestServer("")

	w := do(srv, "POST", "/api/v1/criteria/reload", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	crit.reloadErr = &criteria.ConfigError{Problems: []string{"thresholds.review must be > 0"}}
	w = do(srv, "POST", "/api/v1/criteria/reload", "", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", w.Code)
	}
	if crit.reloads != 2 {
		t.Errorf("expected 2 reloads, got %d", crit.reloads)
	}
}

type stubReferrals struct {
	summary *store.Summary
	pending []store.Summary
	err     error
	limit   int
}

func (s *stubReferrals) GetReferral(_ context.Context, id uuid.UUID) (*store.Summary, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.summary == nil || s.summary.ReferralID != id {
		return nil, store.ErrNotFound
	}
	return s.summary, nil
}

func (s *stubReferrals) PendingReviews(_ context.Context, limit int) ([]store.Summary, error) {
	s.limit = limit
	return s.pending, s.err
}

func newReferralServer(refs *stubReferrals) *Server {
	return NewServer(8760, "", Deps{
		Processor: &stubProcessor{},
		Criteria:  &stubCriteria{c: criteria.Default()},
		Referrals: refs,
		Logger:    discardLogger(),
	})
}

func TestGetReferral(t *testing.T) {
	id := uuid.New()
	srv := newReferralServer(&stubReferrals{summary: &store.Summary{
		ReferralID:   id,
		PatientName:  "Mary Johnson",
		Action:       decision.ActionReview,
		ReviewStatus: store.ReviewPending,
	}})

	w := do(srv, "GET", "/api/v1/referrals/"+id.String(), "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got store.Summary
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if got.ReferralID != id || got.ReviewStatus != store.ReviewPending {
		t.Errorf("unexpected summary: %+v", got)
	}

	w = do(srv, "GET", "/api/v1/referrals/"+uuid.NewString(), "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown referral, got %d", w.Code)
	}

	w = do(srv, "GET", "/api/v1/referrals/not-a-uuid", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", w.Code)
	}
}

func TestPendingReviews(t *testing.T) {
	refs := &stubReferrals{pending: []store.Summary{
		{ReferralID: uuid.New(), PatientName: "Robert Lee", ReviewStatus: store.ReviewPending},
	}}
	srv := newReferralServer(refs)

	w := do(srv, "GET", "/api/v1/reviews/pending?limit=10", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Reviews []store.Summary `json:"reviews"`
		Count   int             `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Count != 1 || body.Reviews[0].PatientName != "Robert Lee" {
		t.Errorf("unexpected body: %+v", body)
	}
	if refs.limit != 10 {
		t.Errorf("expected limit 10, got %d", refs.limit)
	}

	w = do(srv, "GET", "/api/v1/reviews/pending?limit=-1", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}

	refs.err = errors.New("pool closed")
	w = do(srv, "GET", "/api/v1/reviews/pending", "", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestReferralRoutesRequireStore(t *testing.T) {
	srv, _, _ := newTestServer("")

	w := do(srv, "GET", "/api/v1/reviews/pending", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a referral store, got %d", w.Code)
	}
}
