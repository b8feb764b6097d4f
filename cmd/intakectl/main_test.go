package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/intake/internal/processor"
)

const referralEnvelope = `{
	"from": "discharge@mercy.org",
	"to": "intake@agency.example",
	"subject": "New referral",
	"text": "Patient: Mary Johnson\nDiagnosis: Congestive heart failure\nInsurance: Medicare\nDistance: 5 miles\nHospital Rating: 5\nSkilled nursing requested. Physician orders attached.",
	"timestamp": "2024-03-01T09:00:00Z",
	"messageId": "cli-001",
	"provider": "generic"
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"evaluate", "criteria", "submit", "health"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestEvaluate(t *testing.T) {
	criteriaFile, postmark = "", false
	path := writeFile(t, "referral.json", referralEnvelope)

	out, err := execute(t, "evaluate", path)
	require.NoError(t, err)

	var res processor.ProcessingResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	require.NotNil(t, res.Decision)
	assert.Equal(t, "accept", string(res.Decision.Action))
	assert.False(t, res.ConfirmationSent)
}

func TestCriteriaValidate(t *testing.T) {
	good := writeFile(t, "good.yaml", "criteria:\n  max_travel_distance: 30\n")
	out, err := execute(t, "criteria", "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")

	bad := writeFile(t, "bad.yaml", "criteria:\n  thresholds:\n    accept: 0.4\n    review: 0.6\n")
	out, err = execute(t, "criteria", "validate", bad)
	require.Error(t, err)
	assert.Contains(t, out, "  - ")
}

func TestSubmit(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/api/v1/referrals", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"referralId":"ref-1"}`))
	}))
	defer server.Close()

	path := writeFile(t, "referral.json", referralEnvelope)
	out, err := execute(t, "submit", "--server", server.URL, "--token", "secret", path)
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.True(t, strings.Contains(out, `"referralId": "ref-1"`))
}
