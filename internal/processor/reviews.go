package processor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/intake/internal/decision"
	"github.com/MikeSquared-Agency/intake/internal/hermes"
	"github.com/MikeSquared-Agency/intake/internal/slack"
	"github.com/MikeSquared-Agency/intake/internal/store"
)

// pendingReview links a posted review request back to its referral.
type pendingReview struct {
	ReferralID uuid.UUID
	Action     decision.Action
}

func (p *Processor) trackReview(ts string, referralID uuid.UUID, action decision.Action) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingReviews[ts] = &pendingReview{ReferralID: referralID, Action: action}
}

// PendingReviewCount reports how many review requests await a reaction.
func (p *Processor) PendingReviewCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pendingReviews)
}

// HandleReaction processes Slack reaction feedback from slack-forwarder via NATS.
func (p *Processor) HandleReaction(subject string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), p.downstreamTimeout)
	defer cancel()

	evt, err := slack.ParseReactionEvent(data, p.logger)
	if err != nil {
		p.logger.Error("failed to parse reaction", "error", err)
		return
	}

	verdict := slack.ParseReaction(evt.Reaction)
	if verdict == slack.VerdictUnknown {
		return // not a review reaction
	}

	p.mu.Lock()
	review, ok := p.pendingReviews[evt.MessageTS]
	if ok {
		delete(p.pendingReviews, evt.MessageTS)
	}
	p.mu.Unlock()
	if !ok {
		return // not a message we're tracking
	}

	status := reviewStatus(verdict)
	p.logger.Info("processing review reaction",
		"reaction", evt.Reaction,
		"verdict", string(verdict),
		"referral_id", review.ReferralID,
		"reviewer", evt.UserID,
	)
	p.metrics.ReviewsTotal.WithLabelValues(string(verdict)).Inc()

	if p.store != nil {
		if err := p.store.UpdateReviewStatus(ctx, review.ReferralID, status, evt.UserID, ""); err != nil {
			p.logger.Error("failed to update review status", "referral_id", review.ReferralID, "error", err)
		}
	}

	if p.events != nil {
		if err := p.events.Publish(hermes.SubjectReferralReviewed, hermes.ReferralReviewed{
			ReferralID:   review.ReferralID.String(),
			EngineAction: string(review.Action),
			Verdict:      string(verdict),
			ReviewerID:   evt.UserID,
			ReviewStatus: status,
		}); err != nil {
			p.logger.Error("failed to publish review event", "error", err)
		}
	}

	if p.reviews != nil && verdict != slack.VerdictSkipped {
		reply := fmt.Sprintf("Admission approved by <@%s>. Schedule the start-of-care visit.", evt.UserID)
		if verdict == slack.VerdictDeclined {
			reply = fmt.Sprintf("Referral declined by <@%s>. Notify the referral source and record the rationale.", evt.UserID)
		}
		if err := p.reviews.PostThread(ctx, evt.MessageTS, reply); err != nil {
			p.logger.Error("failed to post review thread reply", "error", err)
		}
	}
}

func reviewStatus(v slack.ReviewVerdict) string {
	switch v {
	case slack.VerdictApproved:
		return store.ReviewApproved
	case slack.VerdictDeclined:
		return store.ReviewDeclined
	default:
		return store.ReviewSkipped
	}
}
