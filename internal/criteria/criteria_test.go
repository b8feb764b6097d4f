package criteria

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefault_IsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.InDelta(t, 1.0, c.Weights.Sum(), 1e-9)
	assert.Equal(t, 0.80, c.Thresholds.Accept)
	assert.Equal(t, 0.55, c.Thresholds.Review)
	assert.Equal(t, 25.0, c.MaxTravelDistance)
}

func TestValidate_Weights(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{"valid", Weights{0.2, 0.3, 0.25, 0.15, 0.1}, false},
		{"sum too high", Weights{0.3, 0.3, 0.25, 0.15, 0.1}, true},
		{"sum too low", Weights{0.1, 0.3, 0.25, 0.15, 0.1}, true},
		{"missing dimension", Weights{0.3, 0.3, 0.25, 0.15, 0}, true},
		{"negative", Weights{-0.1, 0.5, 0.3, 0.2, 0.1}, true},
		{"within tolerance", Weights{0.2, 0.3, 0.25, 0.15, 0.1000000001}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.Weights = tt.weights
			err := c.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected *ConfigError, got %v", err)
			assert.NotEmpty(t, cfgErr.Problems)
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	c := Default()
	c.Thresholds = Thresholds{Accept: 0.5, Review: 0.7}
	c.MaxTravelDistance = -1
	c.Payers = append(c.Payers, Payer{Name: "Mystery", Status: "maybe"})
	c.Capacity.MaxCaseload = -5

	err := c.Validate()
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Len(t, cfgErr.Problems, 5)
	assert.Contains(t, err.Error(), "thresholds")
	assert.Contains(t, err.Error(), "Mystery")
}

func TestMatchPayer(t *testing.T) {
	c := Default()

	p, ok := c.MatchPayer("Medicare Part A")
	require.True(t, ok)
	assert.Equal(t, "Medicare", p.Name)

	p, ok = c.MatchPayer("BCBS of Illinois")
	require.True(t, ok)
	assert.Equal(t, PayerAccepted, p.Status)

	p, ok = c.MatchPayer("Humana Medicare Advantage")
	require.True(t, ok)
	assert.Equal(t, "Medicare", p.Name, "longest keyword wins; medicare is longer than humana")

	_, ok = c.MatchPayer("Unknown")
	assert.False(t, ok)
}

func TestClone_IsIndependent(t *testing.T) {
	c := Default()
	c.Capacity.StaffByService = map[string]int{"skilled_nursing": 4}

	cp := c.Clone()
	cp.Payers[0].Keywords[0] = "changed"
	cp.ExcludedDiagnoses[0] = "changed"
	cp.Capacity.StaffByService["skilled_nursing"] = 0

	assert.Equal(t, "medicare", c.Payers[0].Keywords[0])
	assert.Equal(t, "hospice", c.ExcludedDiagnoses[0])
	assert.Equal(t, 4, c.Capacity.StaffByService["skilled_nursing"])
}

const sampleYAML = `
criteria:
  weights:
    geographic: 0.25
    insurance: 0.25
    clinical: 0.25
    capacity: 0.15
    quality: 0.10
  thresholds:
    accept: 0.75
    review: 0.5
  max_travel_distance: 30
  payers:
    - name: Medicare
      keywords: [medicare]
      status: accepted
      reimbursement_rate: 1.0
  excluded_diagnoses: [hospice]
  capacity:
    active_caseload: 42
    max_caseload: 50
    staff_by_service:
      skilled_nursing: 6
      physical_therapy: 2
geography:
  office:
    lat: 39.7817
    lng: -89.6501
  zip_centroids:
    "62704":
      lat: 39.7710
      lng: -89.6860
  sources:
    - domain: Mercy.org
      rating: 5
`

func TestLoadBytes(t *testing.T) {
	f, err := LoadBytes([]byte(sampleYAML))
	require.NoError(t, err)

	c := f.Criteria
	assert.Equal(t, 0.75, c.Thresholds.Accept)
	assert.Equal(t, 30.0, c.MaxTravelDistance)
	require.Len(t, c.Payers, 1)
	assert.Equal(t, PayerAccepted, c.Payers[0].Status)
	assert.Equal(t, 42, c.Capacity.ActiveCaseload)
	assert.Equal(t, 6, c.Capacity.StaffByService["skilled_nursing"])
	// Unset fields fall back to defaults.
	assert.Equal(t, 0.8, c.MinReimbursementRate)
	assert.Equal(t, 0.85, c.Capacity.NearCapacityRatio)
	assert.NotEmpty(t, c.OfferedServices)

	assert.Equal(t, 39.7817, f.Geography.Office.Lat)
	assert.Contains(t, f.Geography.ZipCentroids, "62704")
	assert.Equal(t, map[string]int{"mercy.org": 5}, f.Geography.SourceRatings())
}

func TestLoadBytes_EnvOverride(t *testing.T) {
	t.Setenv("CRITERIA_MAX_TRAVEL_DISTANCE", "40")
	t.Setenv("CRITERIA_THRESHOLDS__REVIEW", "0.6")

	f, err := LoadBytes([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 40.0, f.Criteria.MaxTravelDistance)
	assert.Equal(t, 0.6, f.Criteria.Thresholds.Review)
}

func TestLoadBytes_InvalidWeights(t *testing.T) {
	_, err := LoadBytes([]byte("criteria:\n  weights:\n    geographic: 0.5\n"))
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr), "expected config error, got %v", err)
}

func TestLoadBytes_ExplicitZerosKept(t *testing.T) {
	f, err := LoadBytes([]byte("criteria:\n  risk_penalty: 0\n  min_reimbursement_rate: 0\n  quality_threshold: 0\n"))
	require.NoError(t, err)

	assert.Equal(t, 0.0, f.Criteria.RiskPenalty)
	assert.Equal(t, 0.0, f.Criteria.MinReimbursementRate)
	assert.Equal(t, 0.0, f.Criteria.QualityThreshold)
	// Keys that were not given still get defaults.
	assert.Equal(t, 25.0, f.Criteria.MaxTravelDistance)
}

func TestLoadBytes_ExplicitZeroThresholdRejected(t *testing.T) {
	_, err := LoadBytes([]byte("criteria:\n  thresholds:\n    review: 0\n"))
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr), "expected config error, got %v", err)
	assert.Contains(t, err.Error(), "thresholds")
}

func TestLoadBytes_EnvZeroKept(t *testing.T) {
	t.Setenv("CRITERIA_RISK_PENALTY", "0")

	f, err := LoadBytes(nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, f.Criteria.RiskPenalty)
}

func TestLoadBytes_Empty(t *testing.T) {
	f, err := LoadBytes(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), f.Criteria)
}

func TestSource_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agency.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	src, err := NewSource(path, discardLogger())
	require.NoError(t, err)

	c, err := src.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30.0, c.MaxTravelDistance)
	first := src.LoadedAt()

	// Edits are not visible until Reload.
	updated := []byte("criteria:\n  max_travel_distance: 15\n")
	require.NoError(t, os.WriteFile(path, updated, 0o600))
	c, _ = src.Current(context.Background())
	assert.Equal(t, 30.0, c.MaxTravelDistance)

	require.NoError(t, src.Reload())
	c, _ = src.Current(context.Background())
	assert.Equal(t, 15.0, c.MaxTravelDistance)
	assert.False(t, src.LoadedAt().Before(first))

	// A broken file keeps the previous criteria.
	require.NoError(t, os.WriteFile(path, []byte("criteria:\n  weights:\n    quality: 2\n"), 0o600))
	assert.Error(t, src.Reload())
	c, _ = src.Current(context.Background())
	assert.Equal(t, 15.0, c.MaxTravelDistance)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSource_ReloadUpdatesGeography(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agency.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	src, err := NewSource(path, discardLogger())
	require.NoError(t, err)

	near, ok, err := src.Distance(ctx, "", "62704")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Less(t, near, 5.0)
	rating, ok := src.Rating("MERCY.ORG")
	require.True(t, ok)
	assert.Equal(t, 5, rating)

	_, ok, _ = src.Distance(ctx, "", "62901")
	assert.False(t, ok, "unknown ZIP should not resolve")

	moved := `
geography:
  office:
    lat: 39.7817
    lng: -89.6501
  zip_centroids:
    "62704":
      lat: 38.8
      lng: -89.6501
  sources:
    - domain: mercy.org
      rating: 2
`
	require.NoError(t, os.WriteFile(path, []byte(moved), 0o600))
	require.NoError(t, src.Reload())

	far, ok, err := src.Distance(ctx, "", "62704")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 67.8, far, 1.0)
	rating, _ = src.Rating("mercy.org")
	assert.Equal(t, 2, rating)
}

func TestSource_DistanceWithoutCentroids(t *testing.T) {
	src, err := NewSource("", discardLogger())
	require.NoError(t, err)

	_, ok, err := src.Distance(context.Background(), "1 Main St 62704", "")
	require.NoError(t, err)
	assert.False(t, ok)
}
