// Package decision scores a referral against agency criteria and turns the
// score into an accept, review or reject outcome.
package decision

// Action is the outcome of a decision.
type Action string

const (
	ActionAccept Action = "accept"
	ActionReview Action = "review"
	ActionReject Action = "reject"
)

// Factor names one scoring dimension.
type Factor string

const (
	FactorGeographic Factor = "geographic"
	FactorInsurance  Factor = "insurance"
	FactorClinical   Factor = "clinical"
	FactorCapacity   Factor = "capacity"
	FactorQuality    Factor = "quality"
)

// factorOrder fixes iteration order so reasons and next steps are stable.
var factorOrder = []Factor{FactorGeographic, FactorInsurance, FactorClinical, FactorCapacity, FactorQuality}

// FactorScore is one evaluator's output. Exclusion is set when the factor hit a
// hard constraint; the score is then zero.
type FactorScore struct {
	Score     float64 `json:"score"`
	Weight    float64 `json:"weight"`
	Detail    string  `json:"detail,omitempty"`
	Exclusion string  `json:"exclusion,omitempty"`
}

// Factors holds the five factor scores.
type Factors struct {
	Geographic FactorScore `json:"geographic"`
	Insurance  FactorScore `json:"insurance"`
	Clinical   FactorScore `json:"clinical"`
	Capacity   FactorScore `json:"capacity"`
	Quality    FactorScore `json:"quality"`
}

// Get returns the score for name.
func (f Factors) Get(name Factor) FactorScore {
	switch name {
	case FactorGeographic:
		return f.Geographic
	case FactorInsurance:
		return f.Insurance
	case FactorClinical:
		return f.Clinical
	case FactorCapacity:
		return f.Capacity
	case FactorQuality:
		return f.Quality
	}
	return FactorScore{}
}

// Overall is the weighted sum of factor scores.
func (f Factors) Overall() float64 {
	var total float64
	for _, name := range factorOrder {
		fs := f.Get(name)
		total += fs.Score * fs.Weight
	}
	return total
}

// Exclusions returns the factors that hit a hard constraint, in factor order.
func (f Factors) Exclusions() []Factor {
	var out []Factor
	for _, name := range factorOrder {
		if f.Get(name).Exclusion != "" {
			out = append(out, name)
		}
	}
	return out
}

// Decision is the engine's verdict on one referral.
type Decision struct {
	Action               Action   `json:"action"`
	Confidence           float64  `json:"confidence"`
	Reason               string   `json:"reason"`
	DecisionFactors      Factors  `json:"decisionFactors"`
	OverallScore         float64  `json:"overallScore"`
	RecommendedNextSteps []string `json:"recommendedNextSteps"`
	Rule                 string   `json:"rule"`
}
