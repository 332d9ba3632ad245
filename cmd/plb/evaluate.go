package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/plb/internal/domain"
	"github.com/opensource-finance/plb/internal/report"
	"github.com/opensource-finance/plb/internal/repository"
	"github.com/opensource-finance/plb/internal/rules"
	"github.com/opensource-finance/plb/internal/ruleset"
)

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate [records.json]",
		Short: "Evaluate records against the loaded contracts",
		Long: `Evaluate reads records from a file (or stdin when omitted or "-") and
prints the processing results with a batch summary. The input is a JSON
array, a single record, or one record per line.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runEvaluate,
	}
	addContractFlags(cmd)
	cmd.Flags().Bool("summary", false, "print only the batch summary")
	return cmd
}

// addContractFlags registers the flags that pick the contract set. They are
// local to each command and fall back to the engine configuration.
func addContractFlags(cmd *cobra.Command) {
	cmd.Flags().String("rulesets", "", "directory of ruleset documents (default: engine.rulesetdir)")
	cmd.Flags().StringSlice("ruleset", nil, "additional ruleset document files")
	cmd.Flags().String("mapping", "", "field mapping file (default: engine.mappingfile)")
	cmd.Flags().Bool("stored", false, "include rulesets stored in the repository")
}

// loadEngine builds an engine loaded with the contract set selected by the
// command's contract flags.
func loadEngine(cmd *cobra.Command) (*rules.Engine, error) {
	cfg := appConfig.Engine
	if cmd.Flags().Changed("rulesets") {
		cfg.RulesetDir, _ = cmd.Flags().GetString("rulesets")
	}
	if cmd.Flags().Changed("mapping") {
		cfg.MappingFile, _ = cmd.Flags().GetString("mapping")
	}

	var repo domain.Repository
	if stored, _ := cmd.Flags().GetBool("stored"); stored {
		r, err := repository.New(appConfig.Repository)
		if err != nil {
			return nil, fmt.Errorf("failed to open repository: %w", err)
		}
		defer r.Close()
		repo = r
	}

	sets, err := ruleset.Collect(cmd.Context(), cfg.RulesetDir, repo)
	if err != nil {
		if sets == nil {
			return nil, err
		}
		slog.Warn("some ruleset documents were skipped", "error", err)
	}

	files, _ := cmd.Flags().GetStringSlice("ruleset")
	for _, f := range files {
		rs, err := ruleset.ParseFile(f)
		if err != nil {
			return nil, err
		}
		sets = append(sets, rs)
	}
	for _, rs := range sets {
		for _, e := range rs.Errors {
			slog.Warn("rule skipped", "ruleset_id", rs.ID, "error", e)
		}
	}

	engine, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	if err := engine.Load(ruleset.Contracts(sets)); err != nil {
		return nil, err
	}
	if engine.ContractsCount() == 0 {
		return nil, domain.ErrNoContracts
	}
	slog.Info("contracts loaded", "rulesets", len(sets), "contracts", engine.ContractsCount())
	return engine, nil
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	records, err := decodeRecords(in)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return errors.New("no records to evaluate")
	}

	engine, err := loadEngine(cmd)
	if err != nil {
		return err
	}

	items := engine.EvaluateBatch(cmd.Context(), records)
	agg := report.NewAggregator(appConfig.Engine.OutputPrecision)
	for _, it := range items {
		if it.Result == nil {
			agg.AddFailure()
			slog.Warn("record failed", "index", it.Index, "error", it.Error)
			continue
		}
		agg.Add(it.Result)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if only, _ := cmd.Flags().GetBool("summary"); only {
		return enc.Encode(agg.Summary())
	}
	return enc.Encode(map[string]any{
		"results": items,
		"summary": agg.Summary(),
	})
}

// decodeRecords reads a JSON array of records, or a stream of record
// objects.
func decodeRecords(r io.Reader) ([]*domain.Record, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var records []*domain.Record
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("invalid records: %w", err)
		}
		return records, nil
	}

	var records []*domain.Record
	for {
		var rec domain.Record
		if err := dec.Decode(&rec); err == io.EOF {
			return records, nil
		} else if err != nil {
			return nil, fmt.Errorf("invalid record %d: %w", len(records)+1, err)
		}
		records = append(records, &rec)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsAny(b, " \t\r\n") {
			return b[0], nil
		}
		if _, err := br.ReadByte(); err != nil {
			return 0, err
		}
	}
}
