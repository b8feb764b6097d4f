package extractor

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/MikeSquared-Agency/intake/internal/email"
)

// ErrNotAReferral is returned when a message is not a usable referral.
var ErrNotAReferral = errors.New("not a referral")

// Geocoder resolves a care address to a travel distance in miles from the agency.
// ok is false when the address cannot be placed.
type Geocoder interface {
	Distance(ctx context.Context, address, zipCode string) (miles float64, ok bool, err error)
}

// Ratings looks up the known hospital rating of a sender domain.
type Ratings interface {
	Rating(domain string) (int, bool)
}

// RatingMap is a fixed Ratings table keyed by lowercase domain.
type RatingMap map[string]int

func (m RatingMap) Rating(domain string) (int, bool) {
	r, ok := m[strings.ToLower(domain)]
	return r, ok
}

var relevanceKeywords = []string{"patient", "referral", "admission", "discharge", "home health"}

var statPattern = regexp.MustCompile(`(?i)\bstat\b`)

type vocabEntry struct {
	phrases []string
	code    string
}

// serviceVocabulary is ordered; extracted services keep this order.
var serviceVocabulary = []vocabEntry{
	{[]string{"skilled nursing"}, ServiceSkilledNursing},
	{[]string{"physical therapy"}, ServicePhysicalTherapy},
	{[]string{"occupational therapy"}, ServiceOccupationalTherapy},
	{[]string{"speech therapy", "speech-language"}, ServiceSpeechTherapy},
	{[]string{"home health aide"}, ServiceHomeHealthAide},
	{[]string{"medical social work", "social worker"}, ServiceMedicalSocialWork},
}

var riskVocabulary = []vocabEntry{
	{[]string{"non-compliance", "noncompliance", "non-compliant", "noncompliant"}, RiskNonCompliance},
	{[]string{"fall risk", "history of falls"}, RiskFallRisk},
	{[]string{"readmission", "readmitted"}, RiskReadmission},
	{[]string{"behavioral health", "psychiatric"}, RiskBehavioralHealth},
}

// Extractor turns an inbound envelope into ReferralData.
type Extractor struct {
	fields   FieldExtractor
	geocoder Geocoder
	ratings  Ratings
	logger   *slog.Logger
}

// New builds an Extractor. A nil fields strategy defaults to RegexFields; a nil
// geocoder leaves distances unresolved unless the message states one, and nil
// ratings leave every unlabeled source at the default rating.
func New(fields FieldExtractor, geocoder Geocoder, ratings Ratings, logger *slog.Logger) *Extractor {
	if fields == nil {
		fields = RegexFields{}
	}
	if ratings == nil {
		ratings = RatingMap{}
	}
	return &Extractor{
		fields:   fields,
		geocoder: geocoder,
		ratings:  ratings,
		logger:   logger,
	}
}

// Extract returns the referral carried by env, or an error wrapping
// ErrNotAReferral when the message is irrelevant or names no patient.
func (e *Extractor) Extract(ctx context.Context, env email.Envelope) (*ReferralData, error) {
	body := env.Body()
	subjectLower := strings.ToLower(env.Subject)
	bodyLower := strings.ToLower(body)

	if !isRelevant(subjectLower + "\n" + bodyLower) {
		return nil, fmt.Errorf("%w: no referral keywords", ErrNotAReferral)
	}

	f, err := e.fields.ExtractFields(ctx, Document{Subject: env.Subject, Body: body})
	if err != nil {
		return nil, fmt.Errorf("extract fields: %w", err)
	}
	if f.PatientName == "" {
		return nil, fmt.Errorf("%w: no patient name", ErrNotAReferral)
	}

	source := referralSource(env.From, f.Facility)

	data := &ReferralData{
		PatientName:            f.PatientName,
		Diagnosis:              orDefault(f.Diagnosis, DefaultDiagnosis),
		InsuranceProvider:      orDefault(f.Insurance, DefaultInsurance),
		InsuranceID:            f.InsuranceID,
		ReferralSource:         source,
		ServiceRequested:       matchVocabulary(serviceVocabulary, bodyLower),
		Urgency:                classifyUrgency(subjectLower, bodyLower),
		EstimatedEpisodeLength: f.EpisodeDays,
		GeographicLocation: Location{
			Address: f.Address,
			ZipCode: f.ZipCode,
		},
		HospitalRating:  f.Rating,
		PhysicianOrders: strings.Contains(bodyLower, "physician order") || strings.Contains(bodyLower, "doctor order"),
		RiskFactors:     matchVocabulary(riskVocabulary, bodyLower),
		// Records without a provider message id persist under the content key.
		MessageID:       env.IdempotencyKey(),
	}

	if data.HospitalRating < 1 || data.HospitalRating > 5 {
		data.HospitalRating = e.sourceRating(env.SenderDomain())
	}
	data.ApplyDefaults()

	e.resolveDistance(ctx, data, f.Distance)

	e.logger.Info("referral extracted",
		"message_id", env.MessageID,
		"urgency", string(data.Urgency),
		"services", len(data.ServiceRequested),
		"distance_resolved", data.GeographicLocation.Resolved,
	)
	return data, nil
}

// resolveDistance prefers a distance stated in the message, including zero for
// a patient at the office, over a geocoder lookup.
func (e *Extractor) resolveDistance(ctx context.Context, data *ReferralData, stated *float64) {
	loc := &data.GeographicLocation
	if stated != nil && *stated >= 0 {
		loc.Distance = *stated
		loc.Resolved = true
		return
	}
	if e.geocoder == nil || (loc.Address == "" && loc.ZipCode == "") {
		return
	}
	miles, ok, err := e.geocoder.Distance(ctx, loc.Address, loc.ZipCode)
	if err != nil {
		e.logger.Warn("geocode failed", "zip", loc.ZipCode, "error", err)
		return
	}
	if ok {
		loc.Distance = miles
		loc.Resolved = true
	}
}

func (e *Extractor) sourceRating(domain string) int {
	if r, ok := e.ratings.Rating(domain); ok && r >= 1 && r <= 5 {
		return r
	}
	return DefaultHospitalRating
}

func isRelevant(text string) bool {
	for _, kw := range relevanceKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// classifyUrgency expects lowercased input. Stat is checked last so it wins.
func classifyUrgency(subject, body string) Urgency {
	u := UrgencyRoutine
	if strings.Contains(subject, "urgent") || strings.Contains(body, "urgent") {
		u = UrgencyUrgent
	}
	if statPattern.MatchString(subject) || strings.Contains(subject, "emergency") {
		u = UrgencyStat
	}
	return u
}

func matchVocabulary(vocab []vocabEntry, text string) []string {
	var out []string
	for _, entry := range vocab {
		for _, phrase := range entry.phrases {
			if strings.Contains(text, phrase) {
				out = append(out, entry.code)
				break
			}
		}
	}
	return out
}

func referralSource(from, facility string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		from = "unknown"
	}
	if facility == "" {
		return from
	}
	return facility + " <" + from + ">"
}

func placeholderInsuranceID(patient, source string) string {
	sum := sha1.Sum([]byte(strings.ToLower(patient) + "|" + source))
	return "PENDING-" + strings.ToUpper(hex.EncodeToString(sum[:4]))
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
