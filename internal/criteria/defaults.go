package criteria

// Default returns the built-in policy used when no criteria file is configured.
func Default() Criteria {
	var c Criteria
	applyDefaults(&c, func(string) bool { return false })
	return c
}

func defaultPayers() []Payer {
	return []Payer{
		{Name: "Medicare", Keywords: []string{"medicare"}, Status: PayerAccepted, ReimbursementRate: 1.0},
		{Name: "Medicaid", Keywords: []string{"medicaid"}, Status: PayerAccepted, ReimbursementRate: 0.7},
		{Name: "Blue Cross Blue Shield", Keywords: []string{"blue cross", "bcbs"}, Status: PayerAccepted, ReimbursementRate: 0.9},
		{Name: "Aetna", Keywords: []string{"aetna"}, Status: PayerAccepted, ReimbursementRate: 0.85},
		{Name: "UnitedHealthcare", Keywords: []string{"unitedhealthcare", "united healthcare", "uhc"}, Status: PayerAccepted, ReimbursementRate: 0.85},
		{Name: "Humana", Keywords: []string{"humana"}, Status: PayerPending, ReimbursementRate: 0.8},
		{Name: "Self pay", Keywords: []string{"self pay", "self-pay", "private pay"}, Status: PayerDenied},
	}
}

// applyDefaults fills the fields whose key was not given. present reports
// whether a key, relative to the criteria section, was set by the file or the
// environment; explicit zeros are kept so Validate can judge them. Partially
// specified weights are left alone so Validate reports them instead of masking
// the mistake.
func applyDefaults(c *Criteria, present func(key string) bool) {
	if !present("weights") {
		c.Weights = Weights{
			Geographic: 0.20,
			Insurance:  0.30,
			Clinical:   0.25,
			Capacity:   0.15,
			Quality:    0.10,
		}
	}
	if !present("thresholds.accept") {
		c.Thresholds.Accept = 0.80
	}
	if !present("thresholds.review") {
		c.Thresholds.Review = 0.55
	}
	if !present("max_travel_distance") {
		c.MaxTravelDistance = 25
	}
	if !present("min_reimbursement_rate") {
		c.MinReimbursementRate = 0.8
	}
	if !present("payers") {
		c.Payers = defaultPayers()
	}
	if !present("excluded_diagnoses") {
		c.ExcludedDiagnoses = []string{"hospice", "palliative", "comfort care"}
	}
	if !present("offered_services") {
		c.OfferedServices = []string{
			"skilled_nursing",
			"physical_therapy",
			"occupational_therapy",
			"speech_therapy",
			"home_health_aide",
		}
	}
	if !present("capacity.max_caseload") {
		c.Capacity.MaxCaseload = 60
	}
	if !present("capacity.near_capacity_ratio") {
		c.Capacity.NearCapacityRatio = 0.85
	}
	if !present("capacity.max_episode_days") {
		c.Capacity.MaxEpisodeDays = 60
	}
	if !present("quality_threshold") {
		c.QualityThreshold = 0.5
	}
	if !present("risk_penalty") {
		c.RiskPenalty = 0.15
	}
}
