package processor

import (
	"github.com/MikeSquared-Agency/intake/internal/decision"
	"github.com/MikeSquared-Agency/intake/internal/extractor"
)

// ProcessingResult is what Process reports for one inbound message.
type ProcessingResult struct {
	Success          bool                    `json:"success"`
	ReferralID       string                  `json:"referralId"`
	ProcessingTime   float64                 `json:"processingTime"`
	ExtractedData    *extractor.ReferralData `json:"extractedData"`
	Decision         *decision.Decision      `json:"decision"`
	ConfirmationSent bool                    `json:"confirmationSent"`
	Errors           []string                `json:"errors"`
	Duplicate        bool                    `json:"duplicate"`
}
