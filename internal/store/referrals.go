package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/intake/internal/decision"
	"github.com/MikeSquared-Agency/intake/internal/extractor"
)

// ErrNotFound is returned when a referral id has no row.
var ErrNotFound = errors.New("referral not found")

// Review statuses. Auto statuses are written with the decision; the others
// come from a coordinator's reaction.
const (
	ReviewAutoAccepted = "auto_accepted"
	ReviewAutoRejected = "auto_rejected"
	ReviewPending      = "pending_review"
	ReviewApproved     = "approved"
	ReviewDeclined     = "declined"
	ReviewSkipped      = "skipped"
)

// InitialReviewStatus maps an engine action to the status stored with it.
func InitialReviewStatus(a decision.Action) string {
	switch a {
	case decision.ActionAccept:
		return ReviewAutoAccepted
	case decision.ActionReject:
		return ReviewAutoRejected
	default:
		return ReviewPending
	}
}

// Record is one processed referral ready to persist.
type Record struct {
	ReferralID     uuid.UUID
	ReceivedAt     time.Time
	Data           extractor.ReferralData
	Decision       decision.Decision
	ProcessingTime float64
}

// Summary is the stored view of a referral and its decision.
type Summary struct {
	ReferralID     uuid.UUID       `json:"referralId"`
	MessageID      string          `json:"messageId"`
	ReceivedAt     time.Time       `json:"receivedAt"`
	PatientName    string          `json:"patientName"`
	ReferralSource string          `json:"referralSource"`
	Urgency        string          `json:"urgency"`
	Action         decision.Action `json:"action"`
	Confidence     float64         `json:"confidence"`
	OverallScore   float64         `json:"overallScore"`
	Reason         string          `json:"reason"`
	ReviewStatus   string          `json:"reviewStatus"`
	ReviewedBy     *string         `json:"reviewedBy,omitempty"`
	ReviewedAt     *time.Time      `json:"reviewedAt,omitempty"`
}

// SaveReferral writes the referral, its decision and factor rows in one
// transaction. A second save for the same message id is a no-op and reports
// inserted=false.
func (s *Store) SaveReferral(ctx context.Context, rec Record) (bool, error) {
	extracted, err := json.Marshal(rec.Data)
	if err != nil {
		return false, fmt.Errorf("marshal referral: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	loc := rec.Data.GeographicLocation
	var distance *float64
	if loc.Resolved {
		d := loc.Distance
		distance = &d
	}
	risks := rec.Data.RiskFactors
	if risks == nil {
		risks = []string{}
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO referrals (id, message_id, received_at, referral_source, patient_name, diagnosis,
			insurance_provider, insurance_id, services, urgency, episode_days, address, zip_code,
			distance_miles, hospital_rating, physician_orders, risk_factors, extracted, processing_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (message_id) DO NOTHING`,
		rec.ReferralID, rec.Data.MessageID, rec.ReceivedAt, rec.Data.ReferralSource, rec.Data.PatientName,
		rec.Data.Diagnosis, rec.Data.InsuranceProvider, rec.Data.InsuranceID, rec.Data.ServiceRequested,
		string(rec.Data.Urgency), rec.Data.EstimatedEpisodeLength, loc.Address, loc.ZipCode,
		distance, rec.Data.HospitalRating, rec.Data.PhysicianOrders, risks, extracted, rec.ProcessingTime,
	)
	if err != nil {
		return false, fmt.Errorf("insert referral: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	d := rec.Decision
	steps := d.RecommendedNextSteps
	if steps == nil {
		steps = []string{}
	}
	decisionID := uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO referral_decisions (id, referral_id, action, confidence, overall_score, reason, rule, next_steps, review_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		decisionID, rec.ReferralID, string(d.Action), d.Confidence, d.OverallScore, d.Reason, d.Rule,
		steps, InitialReviewStatus(d.Action),
	)
	if err != nil {
		return false, fmt.Errorf("insert decision: %w", err)
	}

	factors := []struct {
		name  decision.Factor
		score decision.FactorScore
	}{
		{decision.FactorGeographic, d.DecisionFactors.Geographic},
		{decision.FactorInsurance, d.DecisionFactors.Insurance},
		{decision.FactorClinical, d.DecisionFactors.Clinical},
		{decision.FactorCapacity, d.DecisionFactors.Capacity},
		{decision.FactorQuality, d.DecisionFactors.Quality},
	}
	for _, f := range factors {
		_, err = tx.Exec(ctx, `
			INSERT INTO referral_factors (id, decision_id, factor, score, weight, detail, exclusion)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), decisionID, string(f.name), f.score.Score, f.score.Weight, f.score.Detail, f.score.Exclusion,
		)
		if err != nil {
			return false, fmt.Errorf("insert factor %s: %w", f.name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

// UpdateReviewStatus records a coordinator's verdict on a referral.
func (s *Store) UpdateReviewStatus(ctx context.Context, referralID uuid.UUID, status, reviewer, note string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE referral_decisions
		SET review_status = $2, reviewed_by = $3, review_note = NULLIF($4, ''), reviewed_at = now()
		WHERE referral_id = $1`,
		referralID, status, reviewer, note,
	)
	if err != nil {
		return fmt.Errorf("update review status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetReferral loads the summary for one referral.
func (s *Store) GetReferral(ctx context.Context, referralID uuid.UUID) (*Summary, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT r.id, r.message_id, r.received_at, r.patient_name, r.referral_source, r.urgency,
			d.action, d.confidence, d.overall_score, d.reason, d.review_status, d.reviewed_by, d.reviewed_at
		FROM referrals r
		JOIN referral_decisions d ON d.referral_id = r.id
		WHERE r.id = $1`, referralID)

	var sum Summary
	var action string
	err := row.Scan(&sum.ReferralID, &sum.MessageID, &sum.ReceivedAt, &sum.PatientName, &sum.ReferralSource,
		&sum.Urgency, &action, &sum.Confidence, &sum.OverallScore, &sum.Reason, &sum.ReviewStatus,
		&sum.ReviewedBy, &sum.ReviewedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get referral: %w", err)
	}
	sum.Action = decision.Action(action)
	return &sum, nil
}

// PendingReviews lists referrals still waiting on a coordinator, oldest first.
func (s *Store) PendingReviews(ctx context.Context, limit int) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.message_id, r.received_at, r.patient_name, r.referral_source, r.urgency,
			d.action, d.confidence, d.overall_score, d.reason, d.review_status
		FROM referrals r
		JOIN referral_decisions d ON d.referral_id = r.id
		WHERE d.review_status = $1
		ORDER BY r.received_at
		LIMIT $2`, ReviewPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending reviews: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var action string
		if err := rows.Scan(&sum.ReferralID, &sum.MessageID, &sum.ReceivedAt, &sum.PatientName, &sum.ReferralSource,
			&sum.Urgency, &action, &sum.Confidence, &sum.OverallScore, &sum.Reason, &sum.ReviewStatus); err != nil {
			return nil, fmt.Errorf("scan pending review: %w", err)
		}
		sum.Action = decision.Action(action)
		out = append(out, sum)
	}
	return out, rows.Err()
}
