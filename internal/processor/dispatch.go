package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/intake/internal/decision"
	"github.com/MikeSquared-Agency/intake/internal/email"
	"github.com/MikeSquared-Agency/intake/internal/extractor"
	"github.com/MikeSquared-Agency/intake/internal/hermes"
	"github.com/MikeSquared-Agency/intake/internal/store"
)

// Downstream targets as they appear in result errors and metrics.
const (
	targetNotifier = "notifier"
	targetStore    = "store"
	targetReview   = "review"
)

// dispatch sends the confirmation, persists the referral and posts review-band
// referrals for a coordinator, all concurrently and each under its own
// timeout. Failures are recorded on res; the decision stands regardless.
func (p *Processor) dispatch(ctx context.Context, env email.Envelope, referralID uuid.UUID, res *ProcessingResult) {
	data := *res.ExtractedData
	d := *res.Decision

	var notifyErr, storeErr, reviewErr error
	var g errgroup.Group

	if p.notifier != nil {
		g.Go(func() error {
			nctx, cancel := context.WithTimeout(ctx, p.downstreamTimeout)
			defer cancel()
			notifyErr = p.notifier.SendConfirmation(nctx, confirmationFor(env, referralID, data, d))
			return nil
		})
	}

	if p.store != nil {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, p.downstreamTimeout)
			defer cancel()
			inserted, err := p.store.SaveReferral(sctx, store.Record{
				ReferralID:     referralID,
				ReceivedAt:     receivedAt(env),
				Data:           data,
				Decision:       d,
				ProcessingTime: res.ProcessingTime,
			})
			if err != nil {
				storeErr = err
				return nil
			}
			if !inserted {
				p.logger.Info("referral already stored", "referral_id", referralID, "message_id", data.MessageID)
			}
			return nil
		})
	}

	if p.reviews != nil && d.Action == decision.ActionReview {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(ctx, p.downstreamTimeout)
			defer cancel()
			ts, err := p.reviews.PostReviewRequest(rctx, referralID.String(), data, d)
			if err != nil {
				reviewErr = err
				return nil
			}
			p.trackReview(ts, referralID, d.Action)
			return nil
		})
	}

	_ = g.Wait()

	res.ConfirmationSent = p.notifier != nil && notifyErr == nil
	p.recordFailure(res, referralID, targetNotifier, notifyErr)
	p.recordFailure(res, referralID, targetStore, storeErr)
	p.recordFailure(res, referralID, targetReview, reviewErr)
}

func (p *Processor) recordFailure(res *ProcessingResult, referralID uuid.UUID, target string, err error) {
	if err == nil {
		return
	}
	res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", target, err))
	p.metrics.DownstreamFailures.WithLabelValues(target).Inc()
	p.logger.Warn("downstream failure", "target", target, "referral_id", referralID, "error", err)
}

func receivedAt(env email.Envelope) time.Time {
	if env.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return env.Timestamp.UTC()
}

func confirmationFor(env email.Envelope, referralID uuid.UUID, data extractor.ReferralData, d decision.Decision) hermes.ConfirmationRequest {
	var text string
	switch d.Action {
	case decision.ActionAccept:
		text = fmt.Sprintf("Thank you for your referral of %s. The referral has been accepted and our team will contact you to schedule the start of care.", data.PatientName)
	case decision.ActionReview:
		text = fmt.Sprintf("Thank you for your referral of %s. The referral has been received and is under review by our intake team. We will follow up shortly.", data.PatientName)
	default:
		text = fmt.Sprintf("Thank you for your referral of %s. Unfortunately we are unable to accept this referral at this time. %s", data.PatientName, d.Reason)
	}
	return hermes.ConfirmationRequest{
		ReferralID:     referralID.String(),
		To:             env.From,
		ReferralSource: data.ReferralSource,
		PatientName:    data.PatientName,
		Action:         string(d.Action),
		Subject:        "Referral received: " + referralID.String(),
		Text:           text,
	}
}
