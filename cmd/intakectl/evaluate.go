package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/intake/internal/criteria"
	"github.com/MikeSquared-Agency/intake/internal/email"
	"github.com/MikeSquared-Agency/intake/internal/extractor"
	"github.com/MikeSquared-Agency/intake/internal/ledger"
	"github.com/MikeSquared-Agency/intake/internal/processor"
)

var (
	criteriaFile string
	postmark     bool
)

func init() {
	evaluateCmd.Flags().StringVar(&criteriaFile, "criteria", "", "agency criteria YAML (default: built-in criteria)")
	evaluateCmd.Flags().BoolVar(&postmark, "postmark", false, "input is a Postmark inbound payload")
	rootCmd.AddCommand(evaluateCmd)
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <envelope.json|->",
	Short: "Extract and decide a referral offline",
	Long: `Run an email envelope through extraction and the decision engine locally.
Nothing is stored, sent or published.

Examples:
  # Evaluate against the built-in criteria
  intakectl evaluate referral.json

  # Evaluate a Postmark payload against an agency file
  intakectl evaluate --postmark --criteria agency.yaml inbound.json`,
	Args: cobra.ExactArgs(1),
	RunE: runEvaluate,
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	parse := email.FromGeneric
	if postmark {
		parse = email.FromPostmark
	}
	env, err := parse(data)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	source, err := criteria.NewSource(criteriaFile, logger)
	if err != nil {
		return fmt.Errorf("load criteria: %w", err)
	}

	proc := processor.New(processor.Deps{
		Criteria:  source,
		Extractor: extractor.New(nil, source, source, logger),
		Ledger:    ledger.NewMemory(time.Minute),
		Logger:    logger,
	})

	res, err := proc.Process(context.Background(), env)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), res)
}
