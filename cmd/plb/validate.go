package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/plb/internal/domain"
	"github.com/opensource-finance/plb/internal/rules"
	"github.com/opensource-finance/plb/internal/ruleset"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <ruleset.json|dir>...",
		Short: "Parse and validate ruleset documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine(appConfig.Engine)
			if err != nil {
				return err
			}

			problems := 0
			for _, arg := range args {
				sets, err := readRulesets(arg)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", arg, err)
					problems++
					continue
				}
				for _, rs := range sets {
					problems += reportRuleset(cmd.OutOrStdout(), engine, rs)
				}
			}
			if problems > 0 {
				return fmt.Errorf("validation failed: %d problem(s)", problems)
			}
			return nil
		},
	}
}

func readRulesets(path string) ([]*ruleset.Ruleset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return ruleset.LoadDir(path)
	}
	rs, err := ruleset.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return []*ruleset.Ruleset{rs}, nil
}

// reportRuleset prints one ruleset's findings and returns the number of
// errors. Warnings are printed but do not count.
func reportRuleset(w io.Writer, engine *rules.Engine, rs *ruleset.Ruleset) int {
	problems := len(rs.Errors)
	fmt.Fprintf(w, "%s (%s): %d contract(s)\n", rs.ID, rs.SourceName, len(rs.Contracts))
	for _, e := range rs.Errors {
		fmt.Fprintf(w, "  ERROR   %v\n", e)
	}

	for _, c := range rs.Contracts {
		rep, err := engine.ValidateContract(c)
		if err != nil {
			fmt.Fprintf(w, "  ERROR   %s: %v\n", c.ContractID, err)
			problems++
			continue
		}
		status := "ok"
		if !rep.Valid {
			status = "invalid"
			problems += len(rep.Errors)
		}
		fmt.Fprintf(w, "  %-7s %s %s [%s..%s] %s\n", status, c.ContractID, c.Payout.Type,
			c.StartDate, c.EndDate, triggerLabel(c))
		for _, msg := range rep.Errors {
			fmt.Fprintf(w, "    error:   %s\n", msg)
		}
		for _, msg := range rep.Warnings {
			fmt.Fprintf(w, "    warning: %s\n", msg)
		}
	}
	return problems
}

func triggerLabel(c *domain.Contract) string {
	if c.Trigger.Formula != "" {
		return string(c.Trigger.Type) + " " + c.Trigger.Formula
	}
	return string(c.Trigger.Type)
}
