// Package main implements intakectl, the operator CLI for the intake service.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the intake HTTP server
	serverURL string
	// apiToken is sent as a bearer token on /api/v1 calls
	apiToken string
	version  = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "intakectl",
	Short: "Operate and test the referral intake service",
	Long: `intakectl evaluates referral emails offline against an agency criteria file
and talks to a running intake server for submissions, health checks and
criteria reloads.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8760", "intake server URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("INTAKE_API_TOKEN"), "API bearer token")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(submitCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check intake server health",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

var submitCmd = &cobra.Command{
	Use:   "submit <envelope.json|->",
	Short: "Submit an email envelope to a running server",
	Long: `Submit an email envelope to POST /api/v1/referrals and print the result.

Examples:
  # Submit a saved envelope
  intakectl submit referral.json

  # Submit from stdin to another server
  cat referral.json | intakectl submit --server http://intake:8760 -`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func runHealth(cmd *cobra.Command, _ []string) error {
	resp, err := request(http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	return printBody(cmd.OutOrStdout(), resp)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}
	resp, err := request(http.MethodPost, "/api/v1/referrals", data)
	if err != nil {
		return err
	}
	return printBody(cmd.OutOrStdout(), resp)
}

func request(method, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequest(method, serverURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", serverURL, err)
	}
	return resp, nil
}

func printBody(w io.Writer, resp *http.Response) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		body = pretty.Bytes()
	}
	_, err = fmt.Fprintln(w, string(bytes.TrimSpace(body)))
	return err
}

// readInput reads a file, or stdin when name is "-".
func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
