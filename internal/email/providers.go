package email

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

const (
	ProviderPostmark = "postmark"
	ProviderGeneric  = "generic"
)

// postmarkInbound is the subset of the Postmark inbound webhook we read.
type postmarkInbound struct {
	From      string `json:"From"`
	To        string `json:"To"`
	Subject   string `json:"Subject"`
	TextBody  string `json:"TextBody"`
	HTMLBody  string `json:"HtmlBody"`
	Date      string `json:"Date"`
	MessageID string `json:"MessageID"`
}

// FromPostmark normalizes a Postmark inbound webhook payload.
func FromPostmark(data []byte) (Envelope, error) {
	var in postmarkInbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Envelope{}, fmt.Errorf("parse postmark payload: %w", err)
	}
	if in.From == "" && in.Subject == "" && in.TextBody == "" && in.HTMLBody == "" {
		return Envelope{}, fmt.Errorf("parse postmark payload: empty message")
	}

	return Envelope{
		From:      in.From,
		To:        in.To,
		Subject:   in.Subject,
		Text:      in.TextBody,
		HTML:      in.HTMLBody,
		Timestamp: parseDate(in.Date),
		MessageID: in.MessageID,
		Provider:  ProviderPostmark,
	}, nil
}

// FromGeneric accepts a payload already in envelope shape.
func FromGeneric(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Provider == "" {
		env.Provider = ProviderGeneric
	}
	return env, nil
}

// parseDate accepts RFC 3339 and the RFC 5322 dates mail providers forward.
// Unparseable dates yield the zero time.
func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	if t, err := mail.ParseDate(s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
