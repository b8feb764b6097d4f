package decision

import (
	"fmt"
	"math"
	"strings"

	"github.com/MikeSquared-Agency/intake/internal/criteria"
	"github.com/MikeSquared-Agency/intake/internal/extractor"
)

// boundaryEpsilon absorbs float summation error so a score that is exactly on
// a threshold lands in the higher band.
const boundaryEpsilon = 1e-9

// weakFactorScore marks a factor as worth a follow-up step.
const weakFactorScore = 0.6

// evaluation is what the decision table rules look at.
type evaluation struct {
	factors    Factors
	overall    float64
	thresholds criteria.Thresholds
}

// rule is one row of the decision table. Rules are checked in order and the
// first match decides.
type rule struct {
	name       string
	action     Action
	matches    func(ev evaluation) bool
	confidence func(overall float64) float64
}

func direct(overall float64) float64  { return clamp(overall) }
func inverse(overall float64) float64 { return clamp(1 - overall) }

var decisionTable = []rule{
	{
		name:       "hard_exclusion",
		action:     ActionReject,
		matches:    func(ev evaluation) bool { return len(ev.factors.Exclusions()) > 0 },
		confidence: inverse,
	},
	{
		name:       "accept_threshold",
		action:     ActionAccept,
		matches:    func(ev evaluation) bool { return ev.overall+boundaryEpsilon >= ev.thresholds.Accept },
		confidence: direct,
	},
	{
		name:       "review_threshold",
		action:     ActionReview,
		matches:    func(ev evaluation) bool { return ev.overall+boundaryEpsilon >= ev.thresholds.Review },
		confidence: direct,
	},
	{
		name:       "below_review",
		action:     ActionReject,
		matches:    func(evaluation) bool { return true },
		confidence: inverse,
	},
}

// Engine decides referrals against one validated set of criteria. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	criteria criteria.Criteria
}

// New validates c and returns an engine bound to it. Invalid criteria yield a
// *criteria.ConfigError.
func New(c criteria.Criteria) (*Engine, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &Engine{criteria: c.Clone()}, nil
}

// Decide is New followed by Engine.Decide.
func Decide(data extractor.ReferralData, c criteria.Criteria) (Decision, error) {
	e, err := New(c)
	if err != nil {
		return Decision{}, err
	}
	return e.Decide(data), nil
}

// Score evaluates the five factors without choosing an action.
func (e *Engine) Score(data extractor.ReferralData) Factors {
	c := e.criteria
	return Factors{
		Geographic: scoreGeographic(data, c),
		Insurance:  scoreInsurance(data, c),
		Clinical:   scoreClinical(data, c),
		Capacity:   scoreCapacity(data, c),
		Quality:    scoreQuality(data, c),
	}
}

// Decide scores data and applies the decision table.
func (e *Engine) Decide(data extractor.ReferralData) Decision {
	factors := e.Score(data)
	ev := evaluation{
		factors:    factors,
		overall:    round4(factors.Overall()),
		thresholds: e.criteria.Thresholds,
	}

	var r rule
	for _, candidate := range decisionTable {
		if candidate.matches(ev) {
			r = candidate
			break
		}
	}

	return Decision{
		Action:               r.action,
		Confidence:           round4(r.confidence(ev.overall)),
		Reason:               reason(r, ev),
		DecisionFactors:      factors,
		OverallScore:         ev.overall,
		RecommendedNextSteps: nextSteps(r, ev, data),
		Rule:                 r.name,
	}
}

// lowestFactors returns every factor tied for the minimum score.
func lowestFactors(f Factors) []Factor {
	low := math.Inf(1)
	for _, name := range factorOrder {
		low = math.Min(low, f.Get(name).Score)
	}
	var out []Factor
	for _, name := range factorOrder {
		if f.Get(name).Score <= low+boundaryEpsilon {
			out = append(out, name)
		}
	}
	return out
}

func reason(r rule, ev evaluation) string {
	if r.name == "hard_exclusion" {
		var parts []string
		for _, name := range ev.factors.Exclusions() {
			parts = append(parts, fmt.Sprintf("%s exclusion (%s)", name, ev.factors.Get(name).Exclusion))
		}
		return "Rejected: " + strings.Join(parts, "; ")
	}

	low := lowestFactors(ev.factors)
	names := make([]string, len(low))
	for i, name := range low {
		names[i] = string(name)
	}
	binding := fmt.Sprintf("%s (%.2f)", strings.Join(names, " and "), ev.factors.Get(low[0]).Score)

	switch r.action {
	case ActionAccept:
		return fmt.Sprintf("Accepted: overall score %.2f meets accept threshold %.2f; weakest factor %s",
			ev.overall, ev.thresholds.Accept, binding)
	case ActionReview:
		return fmt.Sprintf("Needs review: overall score %.2f is below accept threshold %.2f; binding constraint %s",
			ev.overall, ev.thresholds.Accept, binding)
	default:
		return fmt.Sprintf("Rejected: overall score %.2f is below review threshold %.2f; binding constraint %s",
			ev.overall, ev.thresholds.Review, binding)
	}
}
