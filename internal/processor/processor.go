package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/intake/internal/criteria"
	"github.com/MikeSquared-Agency/intake/internal/decision"
	"github.com/MikeSquared-Agency/intake/internal/email"
	"github.com/MikeSquared-Agency/intake/internal/extractor"
	"github.com/MikeSquared-Agency/intake/internal/hermes"
	"github.com/MikeSquared-Agency/intake/internal/ledger"
	"github.com/MikeSquared-Agency/intake/internal/metrics"
	"github.com/MikeSquared-Agency/intake/internal/store"
)

const (
	defaultDownstreamTimeout = 5 * time.Second
	defaultWaitTimeout       = 30 * time.Second
)

// referralNamespace seeds the name-based referral ids.
var referralNamespace = uuid.MustParse("6f1c2b8e-4d0a-4c53-9a57-2f0e7d9b13a4")

// CriteriaSource supplies the agency criteria for each decision.
type CriteriaSource interface {
	Current(ctx context.Context) (criteria.Criteria, error)
}

type Extractor interface {
	Extract(ctx context.Context, env email.Envelope) (*extractor.ReferralData, error)
}

type Store interface {
	SaveReferral(ctx context.Context, rec store.Record) (bool, error)
	UpdateReviewStatus(ctx context.Context, referralID uuid.UUID, status, reviewer, note string) error
}

type Notifier interface {
	SendConfirmation(ctx context.Context, req hermes.ConfirmationRequest) error
}

// ReviewPoster asks coordinators to look at review-band referrals.
type ReviewPoster interface {
	PostReviewRequest(ctx context.Context, referralID string, data extractor.ReferralData, d decision.Decision) (string, error)
	PostThread(ctx context.Context, threadTS, text string) error
}

type EventPublisher interface {
	Publish(subject string, data any) error
}

// Deps are the processor's collaborators. Store, Notifier, Reviews and Events
// are optional; a nil collaborator is skipped.
type Deps struct {
	Criteria  CriteriaSource
	Extractor Extractor
	Ledger    ledger.Ledger
	Store     Store
	Notifier  Notifier
	Reviews   ReviewPoster
	Events    EventPublisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	DownstreamTimeout time.Duration
	WaitTimeout       time.Duration
}

// Processor runs inbound messages through extraction, decision and dispatch.
type Processor struct {
	criteria  CriteriaSource
	extractor Extractor
	ledger    ledger.Ledger
	store     Store
	notifier  Notifier
	reviews   ReviewPoster
	events    EventPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	downstreamTimeout time.Duration
	waitTimeout       time.Duration

	mu             sync.Mutex
	pendingReviews map[string]*pendingReview // keyed by Slack message TS
}

func New(d Deps) *Processor {
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.DownstreamTimeout <= 0 {
		d.DownstreamTimeout = defaultDownstreamTimeout
	}
	if d.WaitTimeout <= 0 {
		d.WaitTimeout = defaultWaitTimeout
	}
	return &Processor{
		criteria:          d.Criteria,
		extractor:         d.Extractor,
		ledger:            d.Ledger,
		store:             d.Store,
		notifier:          d.Notifier,
		reviews:           d.Reviews,
		events:            d.Events,
		metrics:           d.Metrics,
		logger:            d.Logger,
		downstreamTimeout: d.DownstreamTimeout,
		waitTimeout:       d.WaitTimeout,
		pendingReviews:    make(map[string]*pendingReview),
	}
}

// ReferralID derives the stable id for the referral carried by env. The same
// message always maps to the same id.
func ReferralID(env email.Envelope) uuid.UUID {
	name := env.Timestamp.UTC().Format(time.RFC3339Nano) + "|" + env.From + "|" + env.IdempotencyKey()
	return uuid.NewSHA1(referralNamespace, []byte(name))
}

// Process handles one inbound message. The returned error is reserved for
// conditions that make the result meaningless: invalid criteria, an
// unavailable ledger, or cancellation before the decision was made. Everything
// else is reported in the result.
func (p *Processor) Process(ctx context.Context, env email.Envelope) (ProcessingResult, error) {
	key := env.IdempotencyKey()

	cached, claimed, err := p.claim(ctx, key)
	if err != nil {
		return ProcessingResult{}, err
	}
	if !claimed {
		return p.duplicate(key, cached)
	}

	res, cacheable, err := p.run(ctx, env)
	if err != nil || !cacheable {
		// Released claims let a redelivery retry from scratch.
		if relErr := p.ledger.Release(context.WithoutCancel(ctx), key); relErr != nil {
			p.logger.Error("failed to release ledger claim", "key", key, "error", relErr)
		}
		return res, err
	}

	encoded, err := json.Marshal(res)
	if err != nil {
		return res, fmt.Errorf("encode result: %w", err)
	}
	if err := p.ledger.Complete(context.WithoutCancel(ctx), key, encoded); err != nil {
		return res, fmt.Errorf("complete ledger entry: %w", err)
	}

	if res.Success {
		p.publishDecided(res)
	}
	return res, nil
}

// claim takes the ledger entry for key, waiting out another worker that holds
// it. claimed=false means cached holds a finished result.
func (p *Processor) claim(ctx context.Context, key string) ([]byte, bool, error) {
	for {
		claimed, cached, err := p.ledger.Claim(ctx, key)
		if errors.Is(err, ledger.ErrInFlight) {
			waitCtx, cancel := context.WithTimeout(ctx, p.waitTimeout)
			cached, err = p.ledger.Wait(waitCtx, key)
			cancel()
			if errors.Is(err, ledger.ErrReleased) {
				continue
			}
			if err != nil {
				return nil, false, fmt.Errorf("wait for in-flight message: %w", err)
			}
			return cached, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("claim message: %w", err)
		}
		return cached, claimed, nil
	}
}

func (p *Processor) duplicate(key string, cached []byte) (ProcessingResult, error) {
	var res ProcessingResult
	if err := json.Unmarshal(cached, &res); err != nil {
		return ProcessingResult{}, fmt.Errorf("decode cached result: %w", err)
	}
	res.Duplicate = true
	p.metrics.DuplicatesTotal.Inc()
	p.logger.Info("duplicate message", "key", key, "referral_id", res.ReferralID)
	return res, nil
}

// run extracts, decides and dispatches. cacheable=false marks a result that
// should not be replayed to redeliveries.
func (p *Processor) run(ctx context.Context, env email.Envelope) (ProcessingResult, bool, error) {
	res := ProcessingResult{Errors: []string{}}
	start := time.Now()

	data, err := p.extractor.Extract(ctx, env)
	if errors.Is(err, extractor.ErrNotAReferral) {
		res.Errors = append(res.Errors, err.Error())
		p.metrics.NotReferralsTotal.Inc()
		p.logger.Info("message is not a referral", "message_id", env.MessageID, "reason", err)
		return res, true, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ProcessingResult{}, false, fmt.Errorf("process cancelled: %w", ctxErr)
		}
		res.Errors = append(res.Errors, "extractor: "+err.Error())
		p.logger.Error("extraction failed", "message_id", env.MessageID, "error", err)
		return res, false, nil
	}

	c, err := p.criteria.Current(ctx)
	if err != nil {
		return ProcessingResult{}, false, fmt.Errorf("load criteria: %w", err)
	}
	engine, err := decision.New(c)
	if err != nil {
		return ProcessingResult{}, false, fmt.Errorf("build decision engine: %w", err)
	}
	d := engine.Decide(*data)
	referralID := ReferralID(env)
	res.ProcessingTime = float64(time.Since(start).Microseconds()) / 1000

	if err := ctx.Err(); err != nil {
		return ProcessingResult{}, false, fmt.Errorf("process cancelled: %w", err)
	}

	res.Success = true
	res.ReferralID = referralID.String()
	res.ExtractedData = data
	res.Decision = &d

	p.metrics.ReferralsTotal.WithLabelValues(string(d.Action), string(data.Urgency)).Inc()
	p.metrics.Confidence.WithLabelValues(string(d.Action)).Observe(d.Confidence)
	p.metrics.ProcessingTime.Observe(res.ProcessingTime)
	p.logger.Info("referral decided",
		"referral_id", res.ReferralID,
		"message_id", env.MessageID,
		"action", string(d.Action),
		"rule", d.Rule,
		"confidence", d.Confidence,
		"urgency", string(data.Urgency),
	)

	p.dispatch(ctx, env, referralID, &res)
	return res, true, nil
}

func (p *Processor) publishDecided(res ProcessingResult) {
	if p.events == nil {
		return
	}
	d := res.Decision
	evt := hermes.ReferralDecided{
		ReferralID:     res.ReferralID,
		MessageID:      res.ExtractedData.MessageID,
		Action:         string(d.Action),
		Rule:           d.Rule,
		Confidence:     d.Confidence,
		OverallScore:   d.OverallScore,
		Urgency:        string(res.ExtractedData.Urgency),
		ReferralSource: res.ExtractedData.ReferralSource,
		ReviewRequired: d.Action == decision.ActionReview,
		Errors:         len(res.Errors),
	}
	if err := p.events.Publish(hermes.SubjectReferralDecided, evt); err != nil {
		p.logger.Warn("failed to publish decision event", "referral_id", res.ReferralID, "error", err)
	}
}

// HandleEnvelope is the NATS handler for intake.email.received.
func (p *Processor) HandleEnvelope(subject string, data []byte) {
	env, err := email.FromGeneric(data)
	if err != nil {
		p.logger.Error("failed to parse envelope", "subject", subject, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.waitTimeout+p.downstreamTimeout)
	defer cancel()

	res, err := p.Process(ctx, env)
	if err != nil {
		p.logger.Error("processing failed", "message_id", env.MessageID, "error", err)
		return
	}
	if len(res.Errors) > 0 {
		p.logger.Warn("processed with errors", "message_id", env.MessageID, "referral_id", res.ReferralID, "errors", res.Errors)
	}
}
