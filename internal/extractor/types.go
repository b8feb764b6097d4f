package extractor

import "encoding/json"

// Urgency classifies how quickly a referral must be acted on.
type Urgency string

const (
	UrgencyRoutine Urgency = "routine"
	UrgencyUrgent  Urgency = "urgent"
	UrgencyStat    Urgency = "stat"
)

// Canonical service codes.
const (
	ServiceSkilledNursing      = "skilled_nursing"
	ServicePhysicalTherapy     = "physical_therapy"
	ServiceOccupationalTherapy = "occupational_therapy"
	ServiceSpeechTherapy       = "speech_therapy"
	ServiceHomeHealthAide      = "home_health_aide"
	ServiceMedicalSocialWork   = "medical_social_work"
)

// Risk factor codes.
const (
	RiskNonCompliance    = "non_compliance"
	RiskFallRisk         = "fall_risk"
	RiskReadmission      = "readmission_history"
	RiskBehavioralHealth = "behavioral_health"
)

// Defaults applied when a field is absent from the message.
const (
	DefaultDiagnosis      = "Not specified"
	DefaultInsurance      = "Unknown"
	DefaultEpisodeDays    = 60
	DefaultHospitalRating = 3
)

// ReferralData is the structured record extracted from one referral message.
type ReferralData struct {
	PatientName            string   `json:"patientName"`
	Diagnosis              string   `json:"diagnosis"`
	InsuranceProvider      string   `json:"insuranceProvider"`
	InsuranceID            string   `json:"insuranceId"`
	ReferralSource         string   `json:"referralSource"`
	ServiceRequested       []string `json:"serviceRequested"`
	Urgency                Urgency  `json:"urgency"`
	EstimatedEpisodeLength int      `json:"estimatedEpisodeLength"`
	GeographicLocation     Location `json:"geographicLocation"`
	HospitalRating         int      `json:"hospitalRating"`
	PhysicianOrders        bool     `json:"physicianOrders"`
	RiskFactors            []string `json:"riskFactors,omitempty"`
	MessageID              string   `json:"messageId,omitempty"`
}

// Location is where care will be delivered. Resolved is false when no distance
// could be supplied or geocoded; Distance is then zero and carries no meaning.
type Location struct {
	Address  string  `json:"address"`
	ZipCode  string  `json:"zipCode"`
	Distance float64 `json:"distance"`
	Resolved bool    `json:"resolved"`
}

// UnmarshalJSON treats a location without a "resolved" key as resolved when
// it carries a positive distance, so callers may send just the distance.
func (l *Location) UnmarshalJSON(b []byte) error {
	type plain Location
	aux := struct {
		*plain
		Resolved *bool `json:"resolved"`
	}{plain: (*plain)(l)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.Resolved != nil {
		l.Resolved = *aux.Resolved
	} else {
		l.Resolved = l.Distance > 0
	}
	return nil
}

// ApplyDefaults fills absent fields the way extraction does, so a record built
// by hand is scored like an extracted one.
func (d *ReferralData) ApplyDefaults() {
	if d.Diagnosis == "" {
		d.Diagnosis = DefaultDiagnosis
	}
	if d.InsuranceProvider == "" {
		d.InsuranceProvider = DefaultInsurance
	}
	if d.InsuranceID == "" {
		d.InsuranceID = placeholderInsuranceID(d.PatientName, d.ReferralSource)
	}
	if d.Urgency == "" {
		d.Urgency = UrgencyRoutine
	}
	if len(d.ServiceRequested) == 0 {
		d.ServiceRequested = []string{ServiceSkilledNursing}
	}
	if d.EstimatedEpisodeLength <= 0 {
		d.EstimatedEpisodeLength = DefaultEpisodeDays
	}
	if d.HospitalRating < 1 || d.HospitalRating > 5 {
		d.HospitalRating = DefaultHospitalRating
	}
}

// Fields are the raw labeled values a FieldExtractor pulls from a message.
// Empty strings, zero numbers and a nil Distance mean the label was not found.
type Fields struct {
	PatientName string   `json:"patient_name"`
	Diagnosis   string   `json:"diagnosis"`
	Insurance   string   `json:"insurance"`
	InsuranceID string   `json:"insurance_id"`
	Address     string   `json:"address"`
	ZipCode     string   `json:"zip_code"`
	Distance    *float64 `json:"distance"`
	Rating      int      `json:"rating"`
	EpisodeDays int      `json:"episode_days"`
	Facility    string   `json:"facility"`
}
