// Package criteria holds the agency acceptance ruleset the decision engine
// scores referrals against.
package criteria

import (
	"fmt"
	"math"
	"strings"
)

// PayerStatus is the agency's contracting state with an insurer.
type PayerStatus string

const (
	PayerAccepted PayerStatus = "accepted"
	PayerPending  PayerStatus = "pending"
	PayerDenied   PayerStatus = "denied"
)

// Criteria is one deployment's acceptance policy. Values are read-only once
// handed to the engine; use Clone before mutating a shared copy.
type Criteria struct {
	Weights              Weights    `koanf:"weights" json:"weights"`
	Thresholds           Thresholds `koanf:"thresholds" json:"thresholds"`
	MaxTravelDistance    float64    `koanf:"max_travel_distance" json:"maxTravelDistance"`
	MinReimbursementRate float64    `koanf:"min_reimbursement_rate" json:"minReimbursementRate"`
	Payers               []Payer    `koanf:"payers" json:"payers"`
	ExcludedDiagnoses    []string   `koanf:"excluded_diagnoses" json:"excludedDiagnoses"`
	RequiredDiagnoses    []string   `koanf:"required_diagnoses" json:"requiredDiagnoses,omitempty"`
	OfferedServices      []string   `koanf:"offered_services" json:"offeredServices"`
	Capacity             Capacity   `koanf:"capacity" json:"capacity"`
	QualityThreshold     float64    `koanf:"quality_threshold" json:"qualityThreshold"`
	RiskPenalty          float64    `koanf:"risk_penalty" json:"riskPenalty"`
}

// Weights are the per-factor contributions to the overall score. They must
// each be positive and sum to 1.
type Weights struct {
	Geographic float64 `koanf:"geographic" json:"geographic"`
	Insurance  float64 `koanf:"insurance" json:"insurance"`
	Clinical   float64 `koanf:"clinical" json:"clinical"`
	Capacity   float64 `koanf:"capacity" json:"capacity"`
	Quality    float64 `koanf:"quality" json:"quality"`
}

func (w Weights) Sum() float64 {
	return w.Geographic + w.Insurance + w.Clinical + w.Capacity + w.Quality
}

// Thresholds split the overall score into accept, review and reject bands.
// Both bounds are inclusive.
type Thresholds struct {
	Accept float64 `koanf:"accept" json:"accept"`
	Review float64 `koanf:"review" json:"review"`
}

// Payer is an insurer the agency knows about. Keywords are matched
// case-insensitively against the extracted insurance provider.
type Payer struct {
	Name              string      `koanf:"name" json:"name"`
	Keywords          []string    `koanf:"keywords" json:"keywords"`
	Status            PayerStatus `koanf:"status" json:"status"`
	ReimbursementRate float64     `koanf:"reimbursement_rate" json:"reimbursementRate"`
}

// Capacity describes current staffing load.
type Capacity struct {
	ActiveCaseload    int            `koanf:"active_caseload" json:"activeCaseload"`
	MaxCaseload       int            `koanf:"max_caseload" json:"maxCaseload"`
	NearCapacityRatio float64        `koanf:"near_capacity_ratio" json:"nearCapacityRatio"`
	StaffByService    map[string]int `koanf:"staff_by_service" json:"staffByService,omitempty"`
	MaxEpisodeDays    int            `koanf:"max_episode_days" json:"maxEpisodeDays"`
}

// MatchPayer returns the payer whose longest keyword occurs in provider.
func (c Criteria) MatchPayer(provider string) (Payer, bool) {
	p := strings.ToLower(provider)
	best, bestLen := -1, 0
	for i, payer := range c.Payers {
		for _, kw := range payer.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && len(kw) > bestLen && strings.Contains(p, kw) {
				best, bestLen = i, len(kw)
			}
		}
	}
	if best < 0 {
		return Payer{}, false
	}
	return c.Payers[best], true
}

// Offers reports whether the agency provides service.
func (c Criteria) Offers(service string) bool {
	for _, s := range c.OfferedServices {
		if s == service {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c Criteria) Clone() Criteria {
	out := c
	out.Payers = make([]Payer, len(c.Payers))
	for i, p := range c.Payers {
		p.Keywords = append([]string(nil), p.Keywords...)
		out.Payers[i] = p
	}
	out.ExcludedDiagnoses = append([]string(nil), c.ExcludedDiagnoses...)
	out.RequiredDiagnoses = append([]string(nil), c.RequiredDiagnoses...)
	out.OfferedServices = append([]string(nil), c.OfferedServices...)
	if c.Capacity.StaffByService != nil {
		out.Capacity.StaffByService = make(map[string]int, len(c.Capacity.StaffByService))
		for k, v := range c.Capacity.StaffByService {
			out.Capacity.StaffByService[k] = v
		}
	}
	return out
}

// ConfigError lists every problem found in a Criteria value.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "invalid agency criteria: " + strings.Join(e.Problems, "; ")
}

const weightTolerance = 1e-6

// Validate returns a *ConfigError when the criteria cannot be scored against.
func (c Criteria) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	for _, w := range []struct {
		name  string
		value float64
	}{
		{"geographic", c.Weights.Geographic},
		{"insurance", c.Weights.Insurance},
		{"clinical", c.Weights.Clinical},
		{"capacity", c.Weights.Capacity},
		{"quality", c.Weights.Quality},
	} {
		if w.value <= 0 || math.IsNaN(w.value) {
			add("weight %s must be > 0", w.name)
		}
	}
	if sum := c.Weights.Sum(); math.Abs(sum-1) > weightTolerance {
		add("weights must sum to 1.0, got %.6f", sum)
	}

	t := c.Thresholds
	if !(t.Review > 0 && t.Review <= t.Accept && t.Accept <= 1) {
		add("thresholds must satisfy 0 < review <= accept <= 1, got review=%.3f accept=%.3f", t.Review, t.Accept)
	}
	if c.MaxTravelDistance <= 0 {
		add("max_travel_distance must be > 0")
	}
	if c.MinReimbursementRate < 0 {
		add("min_reimbursement_rate must be >= 0")
	}

	for i, p := range c.Payers {
		switch p.Status {
		case PayerAccepted, PayerPending, PayerDenied:
		default:
			add("payers[%d] %q: unknown status %q", i, p.Name, p.Status)
		}
		if len(p.Keywords) == 0 {
			add("payers[%d] %q: at least one keyword is required", i, p.Name)
		}
		if p.ReimbursementRate < 0 {
			add("payers[%d] %q: reimbursement_rate must be >= 0", i, p.Name)
		}
	}

	cp := c.Capacity
	if cp.MaxCaseload <= 0 {
		add("capacity.max_caseload must be > 0")
	}
	if cp.ActiveCaseload < 0 {
		add("capacity.active_caseload must be >= 0")
	}
	if cp.NearCapacityRatio <= 0 || cp.NearCapacityRatio > 1 {
		add("capacity.near_capacity_ratio must be in (0, 1]")
	}
	if cp.MaxEpisodeDays <= 0 {
		add("capacity.max_episode_days must be > 0")
	}

	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		add("quality_threshold must be in [0, 1]")
	}
	if c.RiskPenalty < 0 || c.RiskPenalty > 1 {
		add("risk_penalty must be in [0, 1]")
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}
