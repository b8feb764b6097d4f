package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/intake/internal/anthropic"
)

// Completer is the model call the LLM strategy needs.
type Completer interface {
	Complete(ctx context.Context, system string, messages []anthropic.Message, maxTokens int) (string, error)
}

// LLMFields asks a language model for the labeled fields. Wrap it in Fallback
// with RegexFields so a model outage never blocks intake.
type LLMFields struct {
	llm    Completer
	logger *slog.Logger
}

func NewLLMFields(llm Completer, logger *slog.Logger) *LLMFields {
	return &LLMFields{llm: llm, logger: logger}
}

func (l *LLMFields) ExtractFields(ctx context.Context, doc Document) (Fields, error) {
	prompt := fmt.Sprintf(fieldsUserPrompt, doc.Subject, doc.Body)

	raw, err := l.llm.Complete(ctx, systemPrompt, []anthropic.Message{
		{Role: "user", Content: prompt},
	}, 1024)
	if err != nil {
		return Fields{}, fmt.Errorf("llm extraction: %w", err)
	}

	var f Fields
	if err := json.Unmarshal([]byte(stripFences(raw)), &f); err != nil {
		l.logger.Warn("failed to parse field extraction response", "error", err, "raw_len", len(raw))
		return Fields{}, fmt.Errorf("parse extraction: %w", err)
	}

	f.PatientName = strings.TrimSpace(f.PatientName)
	f.Diagnosis = strings.TrimSpace(f.Diagnosis)
	f.Insurance = strings.TrimSpace(f.Insurance)
	if f.Rating < 1 || f.Rating > 5 {
		f.Rating = 0
	}
	if f.Distance != nil && *f.Distance < 0 {
		f.Distance = nil
	}
	return f, nil
}

// stripFences removes a markdown code fence some models add despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
