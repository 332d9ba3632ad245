package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/plb/internal/domain"
	"github.com/opensource-finance/plb/internal/formula"
)

func formulaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "formula",
		Short: "Validate or evaluate trigger and payout formulas",
	}

	validate := &cobra.Command{
		Use:   "validate <expression>",
		Short: "Check syntax and parameter bindings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := formulaContext(cmd)
			if err != nil {
				return err
			}
			v := formula.Validate(args[0], ctx)
			if err := printJSON(cmd, v); err != nil {
				return err
			}
			if !v.Valid {
				return fmt.Errorf("formula is not valid")
			}
			return nil
		},
	}

	eval := &cobra.Command{
		Use:   "eval <expression>",
		Short: "Evaluate an expression with exact decimals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := formulaContext(cmd)
			if err != nil {
				return err
			}
			v, err := formula.EvaluateDetailed(args[0], ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formula.Quantize(v).String())
			return nil
		},
	}

	for _, c := range []*cobra.Command{validate, eval} {
		c.Flags().StringToString("param", nil, "parameter values, e.g. --param BASE=1000,slab_percent=0.02")
		c.Flags().String("record", "", "record file whose revenue components become parameters")
		cmd.AddCommand(c)
	}
	return cmd
}

// formulaContext binds the record components first, then explicit params.
func formulaContext(cmd *cobra.Command) (formula.Context, error) {
	ctx := formula.Context{}
	if path, _ := cmd.Flags().GetString("record"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var rec domain.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("invalid record: %w", err)
		}
		ctx = formula.BuildContext(&rec, &domain.Contract{})
	}

	params, _ := cmd.Flags().GetStringToString("param")
	for name, raw := range params {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		ctx[name] = v
	}
	return ctx, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
