package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/intake/internal/decision"
	"github.com/MikeSquared-Agency/intake/internal/extractor"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostReviewRequest posts a review-band referral to the coordinators' channel.
// Returns the message timestamp (ts) which is used for tracking reactions.
func (p *Poster) PostReviewRequest(ctx context.Context, referralID string, data extractor.ReferralData, d decision.Decision) (string, error) {
	text := formatReviewMessage(referralID, data, d)

	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "React: :white_check_mark: admit | :x: decline | :shrug: skip",
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	ts, err := p.post(ctx, body)
	if err != nil {
		return "", err
	}
	p.logger.Info("posted review request to slack", "ts", ts, "referral_id", referralID)
	return ts, nil
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	body, err := json.Marshal(map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_, err = p.post(ctx, body)
	return err
}

func (p *Poster) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatReviewMessage(referralID string, data extractor.ReferralData, d decision.Decision) string {
	var sb strings.Builder

	if data.Urgency == extractor.UrgencyStat {
		sb.WriteString(":rotating_light: *STAT referral*\n")
	}
	fmt.Fprintf(&sb, "*Referral needs review:* %s\n", referralID)
	fmt.Fprintf(&sb, "*Patient:* %s | *Diagnosis:* %s\n", data.PatientName, data.Diagnosis)
	fmt.Fprintf(&sb, "*Insurance:* %s | *Source:* %s\n", data.InsuranceProvider, data.ReferralSource)
	fmt.Fprintf(&sb, "*Services:* %s | *Urgency:* %s\n", strings.Join(data.ServiceRequested, ", "), data.Urgency)
	if data.GeographicLocation.Resolved {
		fmt.Fprintf(&sb, "*Distance:* %.1f mi\n", data.GeographicLocation.Distance)
	} else {
		sb.WriteString("*Distance:* unknown\n")
	}
	if len(data.RiskFactors) > 0 {
		fmt.Fprintf(&sb, "*Risk factors:* %s\n", strings.Join(data.RiskFactors, ", "))
	}

	fmt.Fprintf(&sb, "\n*Score:* %.2f | *Confidence:* %.2f\n", d.OverallScore, d.Confidence)
	fmt.Fprintf(&sb, "%s\n", d.Reason)
	f := d.DecisionFactors
	fmt.Fprintf(&sb, "Geographic %.2f | Insurance %.2f | Clinical %.2f | Capacity %.2f | Quality %.2f\n",
		f.Geographic.Score, f.Insurance.Score, f.Clinical.Score, f.Capacity.Score, f.Quality.Score)

	if len(d.RecommendedNextSteps) > 0 {
		sb.WriteString("\n*Next steps:*\n")
		for i, step := range d.RecommendedNextSteps {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
		}
	}

	return sb.String()
}
