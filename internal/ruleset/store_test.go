package ruleset

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/plb/internal/domain"
	"github.com/opensource-finance/plb/internal/repository"
)

func TestCollect(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{"ruleset_id": "A", "rules": [{"rule_id": "A1"}]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`{"ruleset_id": "B", "rules": [{"rule_id": "B1"}]}`), 0o644))

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.SaveRuleset(ctx, domain.GlobalTenant, &domain.StoredRuleset{
		ID:         "B",
		SourceName: "b-stored.json",
		Document:   json.RawMessage(`{"rules": [{"rule_id": "B2"}, {"rule_id": "B3"}]}`),
	}))
	require.NoError(t, repo.SaveRuleset(ctx, domain.GlobalTenant, &domain.StoredRuleset{
		ID:       "C",
		Document: json.RawMessage(`{"rules": [{"rule_id": "C1"}]}`),
	}))
	require.NoError(t, repo.SaveRuleset(ctx, "tenant-1", &domain.StoredRuleset{
		ID:       "T",
		Document: json.RawMessage(`{"rules": [{"rule_id": "T1"}]}`),
	}))

	sets, err := Collect(ctx, dir, repo)
	require.NoError(t, err)
	require.Len(t, sets, 3)
	assert.Equal(t, "A", sets[0].ID)
	assert.Equal(t, "B", sets[1].ID)
	assert.Equal(t, "b-stored.json", sets[1].SourceName)
	assert.Equal(t, "C", sets[2].ID)

	ids := []string{}
	for _, c := range Contracts(sets) {
		ids = append(ids, c.ContractID)
	}
	assert.Equal(t, []string{"A1", "B2", "B3", "C1"}, ids)
}

func TestCollectMissingDir(t *testing.T) {
	sets, err := Collect(context.Background(), filepath.Join(t.TempDir(), "missing"), nil)
	assert.NoError(t, err)
	assert.Empty(t, sets)
}
