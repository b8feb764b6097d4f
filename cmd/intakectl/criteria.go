package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/intake/internal/criteria"
)

func init() {
	rootCmd.AddCommand(criteriaCmd)
	criteriaCmd.AddCommand(criteriaValidateCmd)
	criteriaCmd.AddCommand(criteriaShowCmd)
	criteriaCmd.AddCommand(criteriaReloadCmd)
}

var criteriaCmd = &cobra.Command{
	Use:   "criteria",
	Short: "Inspect and validate agency criteria",
}

var criteriaValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a criteria file and list every problem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := criteria.Load(args[0]); err != nil {
			var cfgErr *criteria.ConfigError
			if errors.As(err, &cfgErr) {
				for _, p := range cfgErr.Problems {
					fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", p)
				}
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
		return nil
	},
}

var criteriaShowCmd = &cobra.Command{
	Use:   "show [file]",
	Short: "Print the effective criteria after defaults and CRITERIA_* overrides",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		f, err := criteria.Load(path)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), f.Criteria)
	},
}

var criteriaReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask a running server to reload its criteria file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := request(http.MethodPost, "/api/v1/criteria/reload", nil)
		if err != nil {
			return err
		}
		return printBody(cmd.OutOrStdout(), resp)
	},
}
