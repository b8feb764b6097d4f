package decision

import (
	"github.com/MikeSquared-Agency/intake/internal/extractor"
)

var reviewSteps = map[Factor]string{
	FactorGeographic: "Confirm patient address and clinician travel coverage",
	FactorInsurance:  "Verify insurance eligibility and authorization",
	FactorClinical:   "Clinical manager to review diagnosis and risk factors",
	FactorCapacity:   "Escalate to scheduling for capacity check",
	FactorQuality:    "Verify referral source details",
}

var rejectSteps = map[Factor]string{
	FactorGeographic: "Notify referral source that patient is outside service area",
	FactorInsurance:  "Notify referral source of non-covered insurance",
	FactorClinical:   "Notify referral source that requested care is outside agency scope",
	FactorCapacity:   "Notify referral source of current capacity constraints",
	FactorQuality:    "Notify referral source that the referral could not be verified",
}

// nextSteps derives follow-up actions from the fired rule, the weak factors and
// the referral's urgency. Urgency never changes the action, only the steps.
func nextSteps(r rule, ev evaluation, data extractor.ReferralData) []string {
	var steps stepList

	switch r.action {
	case ActionAccept:
		switch data.Urgency {
		case extractor.UrgencyStat:
			steps.add("STAT referral: schedule start-of-care visit within 24 hours")
		case extractor.UrgencyUrgent:
			steps.add("Schedule start-of-care visit within 24 hours")
		default:
			steps.add("Schedule start-of-care visit within 48 hours")
		}
		steps.add("Send admission confirmation to referral source")
		steps.addWeak(ev.factors)
		if !data.PhysicianOrders {
			steps.add("Request signed physician orders")
		}

	case ActionReview:
		if data.Urgency == extractor.UrgencyStat {
			steps.add("STAT referral: obtain clinical manager sign-off immediately")
		}
		steps.add("Assign intake coordinator for manual review")
		if data.Urgency == extractor.UrgencyUrgent {
			steps.add("Urgent referral: complete review same day")
		}
		steps.addWeak(ev.factors)
		if !data.PhysicianOrders {
			steps.add("Request signed physician orders")
		}

	case ActionReject:
		if data.Urgency == extractor.UrgencyStat {
			steps.add("STAT referral: call referral source to hand off immediately")
		}
		binding := ev.factors.Exclusions()
		if len(binding) == 0 {
			binding = lowestFactors(ev.factors)
		}
		for _, name := range binding {
			steps.add(rejectSteps[name])
		}
		if ev.factors.Clinical.Exclusion != "" {
			steps.add("Suggest an alternative provider to the referral source")
		}
		steps.add("Record rejection rationale in referral log")
	}
	return steps.items
}

// stepList keeps insertion order and drops duplicates.
type stepList struct {
	items []string
	seen  map[string]bool
}

func (s *stepList) add(step string) {
	if step == "" {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[step] {
		return
	}
	s.seen[step] = true
	s.items = append(s.items, step)
}

func (s *stepList) addWeak(f Factors) {
	for _, name := range factorOrder {
		if f.Get(name).Score < weakFactorScore {
			s.add(reviewSteps[name])
		}
	}
}
