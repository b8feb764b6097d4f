package email

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Envelope is the provider-neutral shape of an inbound message.
type Envelope struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Text      string    `json:"text"`
	HTML      string    `json:"html,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"messageId"`
	Provider  string    `json:"provider"`
}

// Body returns the plain-text body, falling back to the HTML body with markup stripped.
func (e Envelope) Body() string {
	if strings.TrimSpace(e.Text) != "" {
		return e.Text
	}
	if e.HTML == "" {
		return ""
	}
	return StripHTML(e.HTML)
}

// IdempotencyKey identifies the message for deduplication. Providers that omit a
// message id get a content hash instead.
func (e Envelope) IdempotencyKey() string {
	if id := strings.TrimSpace(e.MessageID); id != "" {
		return id
	}
	h := sha256.New()
	h.Write([]byte(e.From))
	h.Write([]byte{0})
	h.Write([]byte(e.Subject))
	h.Write([]byte{0})
	h.Write([]byte(e.Timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write([]byte(e.Body()))
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// SenderDomain returns the lowercased domain part of the From address.
func (e Envelope) SenderDomain() string {
	addr := e.From
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		addr = strings.TrimSuffix(addr[i+1:], ">")
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(addr[at+1:]))
}
