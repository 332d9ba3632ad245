package ruleset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/opensource-finance/plb/internal/domain"
)

// Collect gathers the rulesets in dir and the enabled global rulesets
// stored in repo. A stored ruleset replaces a directory ruleset with the
// same id. A missing dir or a nil repo is skipped. Documents that fail to
// parse are reported in the joined error; the others are returned.
func Collect(ctx context.Context, dir string, repo domain.Repository) ([]*Ruleset, error) {
	var (
		sets []*Ruleset
		errs []error
	)
	if dir != "" {
		found, err := LoadDir(dir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
		sets = append(sets, found...)
	}

	if repo != nil {
		stored, err := repo.ListRulesets(ctx, domain.GlobalTenant)
		if err != nil {
			return nil, fmt.Errorf("list stored rulesets: %w", err)
		}
		for _, s := range stored {
			rs, err := Parse(s.Document, s.ID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if s.SourceName != "" {
				rs.SourceName = s.SourceName
			}
			if rs.ID != s.ID {
				rs.ID = s.ID
				for _, c := range rs.Contracts {
					c.RulesetID = s.ID
				}
			}
			sets = replace(sets, rs)
		}
	}
	return sets, errors.Join(errs...)
}

func replace(sets []*Ruleset, rs *Ruleset) []*Ruleset {
	for i, s := range sets {
		if s.ID == rs.ID {
			sets[i] = rs
			return sets
		}
	}
	return append(sets, rs)
}
