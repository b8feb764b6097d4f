package hermes

import (
	"context"
	"fmt"
)

// Subjects the intake service consumes and produces.
const (
	SubjectEmailReceived      = "intake.email.received"
	SubjectSlackReaction      = "swarm.slack.reaction"
	SubjectReferralDecided    = "intake.referral.decided"
	SubjectReferralReviewed   = "intake.referral.reviewed"
	SubjectNotifyConfirmation = "intake.notify.confirmation"
	SubjectAgentRegistered    = "swarm.agent.intake.registered"
)

// ReferralDecided is emitted once per processed referral.
type ReferralDecided struct {
	ReferralID     string  `json:"referral_id"`
	MessageID      string  `json:"message_id"`
	Action         string  `json:"action"`
	Rule           string  `json:"rule"`
	Confidence     float64 `json:"confidence"`
	OverallScore   float64 `json:"overall_score"`
	Urgency        string  `json:"urgency"`
	ReferralSource string  `json:"referral_source"`
	ReviewRequired bool    `json:"review_required"`
	Errors         int     `json:"errors"`
}

// ReferralReviewed is emitted when a coordinator reacts to a review request.
type ReferralReviewed struct {
	ReferralID   string `json:"referral_id"`
	EngineAction string `json:"engine_action"`
	Verdict      string `json:"verdict"`
	ReviewerID   string `json:"reviewer_id"`
	ReviewStatus string `json:"review_status"`
}

// ConfirmationRequest asks the delivery service to send the referral source a
// confirmation of receipt and outcome.
type ConfirmationRequest struct {
	ReferralID     string `json:"referral_id"`
	To             string `json:"to"`
	ReferralSource string `json:"referral_source"`
	PatientName    string `json:"patient_name"`
	Action         string `json:"action"`
	Subject        string `json:"subject"`
	Text           string `json:"text"`
}

type contextPublisher interface {
	PublishContext(ctx context.Context, subject string, data any) error
}

// Notifier delivers confirmation requests over NATS.
type Notifier struct {
	pub contextPublisher
}

func NewNotifier(pub contextPublisher) *Notifier {
	return &Notifier{pub: pub}
}

func (n *Notifier) SendConfirmation(ctx context.Context, req ConfirmationRequest) error {
	if req.To == "" {
		return fmt.Errorf("send confirmation: no recipient")
	}
	if err := n.pub.PublishContext(ctx, SubjectNotifyConfirmation, req); err != nil {
		return fmt.Errorf("send confirmation: %w", err)
	}
	return nil
}
