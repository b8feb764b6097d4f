package extractor

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Document is the text a FieldExtractor works on.
type Document struct {
	Subject string
	Body    string
}

// FieldExtractor pulls labeled fields out of a referral message. Strategies are
// interchangeable; the Extractor applies defaults and derived fields afterwards.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, doc Document) (Fields, error)
}

// Labeled patterns. Each capture is bounded to a single line so a missing
// newline never swallows the rest of the message.
var (
	patientPattern     = regexp.MustCompile(`(?i)\bpatient(?:\s+name)?\s*:[ \t]*([A-Za-z][A-Za-z .,'-]{0,80})`)
	diagnosisPattern   = regexp.MustCompile(`(?i)\b(?:diagnosis|dx)\s*:[ \t]*([^\r\n]{1,200})`)
	insurancePattern   = regexp.MustCompile(`(?i)\b(?:insurance|payer|payor)\s*:[ \t]*([A-Za-z0-9][A-Za-z0-9 &.,'/()-]{0,80})`)
	insuranceIDPattern = regexp.MustCompile(`(?i)\b(?:member|policy|subscriber|insurance)\s*(?:id|#|number)\s*:?[ \t]*([A-Za-z0-9][A-Za-z0-9-]{2,29})`)
	addressPattern     = regexp.MustCompile(`(?i)\baddress\s*:[ \t]*([^\r\n]{1,200})`)
	zipPattern         = regexp.MustCompile(`(?i)\b(?:zip(?:\s*code)?|postal\s+code)\s*:[ \t]*(\d{5}(?:-\d{4})?)`)
	trailingZipPattern = regexp.MustCompile(`\b(\d{5})(?:-\d{4})?\s*$`)
	distancePattern    = regexp.MustCompile(`(?i)\bdistance\s*:[ \t]*(\d{1,4}(?:\.\d+)?)`)
	ratingPattern      = regexp.MustCompile(`(?i)\b(?:(?:hospital|facility|cms|star)\s+)?rating\s*:[ \t]*([1-5])\b`)
	episodePattern     = regexp.MustCompile(`(?i)\bepisode(?:\s+length)?\s*:[ \t]*(\d{1,3})\s*days?`)
	facilityPattern    = regexp.MustCompile(`(?i)\b(?:referring\s+)?facility\s*:[ \t]*([^\r\n]{1,120})`)
)

// RegexFields is the default strategy: label token, bounded capture, first match wins.
type RegexFields struct{}

func (RegexFields) ExtractFields(_ context.Context, doc Document) (Fields, error) {
	body := doc.Body

	f := Fields{
		PatientName: firstMatch(patientPattern, body),
		Diagnosis:   firstMatch(diagnosisPattern, body),
		Insurance:   firstMatch(insurancePattern, body),
		InsuranceID: firstMatch(insuranceIDPattern, body),
		Address:     firstMatch(addressPattern, body),
		ZipCode:     firstMatch(zipPattern, body),
		Facility:    firstMatch(facilityPattern, body),
	}
	if f.ZipCode == "" && f.Address != "" {
		f.ZipCode = firstMatch(trailingZipPattern, f.Address)
	}
	if v := firstMatch(distancePattern, body); v != "" {
		if d, err := strconv.ParseFloat(v, 64); err == nil {
			f.Distance = &d
		}
	}
	if v := firstMatch(ratingPattern, body); v != "" {
		f.Rating, _ = strconv.Atoi(v)
	}
	if v := firstMatch(episodePattern, body); v != "" {
		f.EpisodeDays, _ = strconv.Atoi(v)
	}
	return f, nil
}

func firstMatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.Trim(strings.TrimSpace(m[1]), ".,;")
}

// Fallback tries the primary strategy and uses the secondary when it fails or
// finds no patient name.
type Fallback struct {
	Primary   FieldExtractor
	Secondary FieldExtractor
}

func (f Fallback) ExtractFields(ctx context.Context, doc Document) (Fields, error) {
	fields, err := f.Primary.ExtractFields(ctx, doc)
	if err == nil && fields.PatientName != "" {
		return fields, nil
	}
	fallback, ferr := f.Secondary.ExtractFields(ctx, doc)
	if ferr != nil {
		if err != nil {
			return Fields{}, fmt.Errorf("primary: %v; secondary: %w", err, ferr)
		}
		return Fields{}, ferr
	}
	return fallback, nil
}
