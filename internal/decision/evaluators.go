package decision

import (
	"fmt"
	"math"
	"strings"

	"github.com/MikeSquared-Agency/intake/internal/criteria"
	"github.com/MikeSquared-Agency/intake/internal/extractor"
)

const (
	unresolvedDistanceScore = 0.5
	pendingPayerScore       = 0.5
	belowRateCredit         = 0.75

	clinicalBase         = 0.6
	ordersBoost          = 0.2
	serviceBoost         = 0.2
	missingRequiredCut   = 0.2
	nearCapacityFloor    = 0.2
	unstaffedServiceCut  = 0.25
	longEpisodeCut       = 0.1
	neutralHospitalScore = 3
)

func scoreGeographic(d extractor.ReferralData, c criteria.Criteria) FactorScore {
	fs := FactorScore{Weight: c.Weights.Geographic}
	loc := d.GeographicLocation

	switch {
	case !loc.Resolved:
		fs.Score = unresolvedDistanceScore
		fs.Detail = "travel distance unknown"
	case loc.Distance >= c.MaxTravelDistance:
		fs.Exclusion = fmt.Sprintf("outside service area: %.1f mi exceeds %.0f mi limit", loc.Distance, c.MaxTravelDistance)
		fs.Detail = fs.Exclusion
	default:
		fs.Score = 1 - loc.Distance/c.MaxTravelDistance
		fs.Detail = fmt.Sprintf("%.1f mi of %.0f mi service radius", loc.Distance, c.MaxTravelDistance)
	}
	return finish(fs)
}

func scoreInsurance(d extractor.ReferralData, c criteria.Criteria) FactorScore {
	fs := FactorScore{Weight: c.Weights.Insurance}

	payer, ok := c.MatchPayer(d.InsuranceProvider)
	if !ok {
		fs.Detail = fmt.Sprintf("insurance %q not recognised", d.InsuranceProvider)
		return finish(fs)
	}

	switch payer.Status {
	case criteria.PayerDenied:
		fs.Exclusion = fmt.Sprintf("insurance not covered: %s", payer.Name)
		fs.Detail = fs.Exclusion
	case criteria.PayerPending:
		fs.Score = pendingPayerScore
		fs.Detail = fmt.Sprintf("%s contract pending", payer.Name)
	case criteria.PayerAccepted:
		if payer.ReimbursementRate >= c.MinReimbursementRate {
			fs.Score = 1
			fs.Detail = fmt.Sprintf("%s accepted", payer.Name)
		} else {
			fs.Score = belowRateCredit * payer.ReimbursementRate / c.MinReimbursementRate
			fs.Detail = fmt.Sprintf("%s accepted below minimum rate (%.2f < %.2f)",
				payer.Name, payer.ReimbursementRate, c.MinReimbursementRate)
		}
	}
	return finish(fs)
}

func scoreClinical(d extractor.ReferralData, c criteria.Criteria) FactorScore {
	fs := FactorScore{Weight: c.Weights.Clinical}
	diagnosis := strings.ToLower(d.Diagnosis)

	for _, kw := range c.ExcludedDiagnoses {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(diagnosis, kw) {
			fs.Exclusion = fmt.Sprintf("excluded diagnosis %q", kw)
			fs.Detail = fs.Exclusion
			return finish(fs)
		}
	}

	score := clinicalBase
	var notes []string

	if d.PhysicianOrders {
		score += ordersBoost
		notes = append(notes, "physician orders on file")
	} else {
		notes = append(notes, "no physician orders")
	}

	if n := len(d.ServiceRequested); n > 0 {
		offered := 0
		for _, s := range d.ServiceRequested {
			if c.Offers(s) {
				offered++
			}
		}
		score += serviceBoost * float64(offered) / float64(n)
		notes = append(notes, fmt.Sprintf("%d/%d services offered", offered, n))
	}

	if len(d.RiskFactors) > 0 {
		score -= c.RiskPenalty * float64(len(d.RiskFactors))
		notes = append(notes, "risk: "+strings.Join(d.RiskFactors, ", "))
	}

	if len(c.RequiredDiagnoses) > 0 && !containsAny(diagnosis, c.RequiredDiagnoses) {
		score -= missingRequiredCut
		notes = append(notes, "diagnosis outside focus areas")
	}

	fs.Score = score
	fs.Detail = strings.Join(notes, "; ")
	return finish(fs)
}

func scoreCapacity(d extractor.ReferralData, c criteria.Criteria) FactorScore {
	fs := FactorScore{Weight: c.Weights.Capacity}
	cp := c.Capacity

	u := float64(cp.ActiveCaseload) / float64(cp.MaxCaseload)
	var score float64
	switch {
	case u >= 1:
		score = 0
	case u >= cp.NearCapacityRatio:
		score = 1 - (1-nearCapacityFloor)*(u-cp.NearCapacityRatio)/(1-cp.NearCapacityRatio)
	default:
		score = 1
	}
	notes := []string{fmt.Sprintf("caseload %d/%d", cp.ActiveCaseload, cp.MaxCaseload)}

	if cp.StaffByService != nil {
		for _, s := range d.ServiceRequested {
			if cp.StaffByService[s] <= 0 {
				score -= unstaffedServiceCut
				notes = append(notes, "no staff for "+s)
			}
		}
	}

	if d.EstimatedEpisodeLength > cp.MaxEpisodeDays {
		score -= longEpisodeCut
		notes = append(notes, fmt.Sprintf("episode %dd exceeds %dd", d.EstimatedEpisodeLength, cp.MaxEpisodeDays))
	}

	fs.Score = score
	fs.Detail = strings.Join(notes, "; ")
	return finish(fs)
}

func scoreQuality(d extractor.ReferralData, c criteria.Criteria) FactorScore {
	fs := FactorScore{Weight: c.Weights.Quality}

	rating := d.HospitalRating
	switch {
	case rating == 0:
		rating = neutralHospitalScore
	case rating < 1:
		rating = 1
	case rating > 5:
		rating = 5
	}

	fs.Score = float64(rating-1) / 4
	fs.Detail = fmt.Sprintf("source rating %d/5", rating)
	if fs.Score < c.QualityThreshold {
		fs.Detail += ", below quality threshold"
	}
	return finish(fs)
}

// finish clamps the score into [0,1] and rounds it for stable output.
func finish(fs FactorScore) FactorScore {
	if fs.Exclusion != "" {
		fs.Score = 0
	}
	fs.Score = round4(clamp(fs.Score))
	return fs
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
