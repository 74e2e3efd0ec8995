package ipifhub

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hub "github.com/soundprediction/ipifhub"
	"github.com/soundprediction/ipifhub/pkg/config"
	"github.com/soundprediction/ipifhub/pkg/index"
	"github.com/soundprediction/ipifhub/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Log:       config.LogConfig{Level: "error"},
		Database:  config.DatabaseConfig{Driver: "sqlite", URI: filepath.Join(dir, "hub.db")},
		Index:     config.IndexConfig{Backend: "memory"},
		Queue:     config.QueueConfig{Backend: "badger", Path: filepath.Join(dir, "queue")},
		Sync:      config.SyncConfig{Workers: 2},
		Hub:       config.HubConfig{BaseURI: "https://hub.example.org"},
		Telemetry: config.TelemetryConfig{SQLPath: filepath.Join(dir, "telemetry", "errors.db")},
	}
}

func TestNewAppWiresHubToIndex(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx, testConfig(t))
	require.NoError(t, err)
	defer a.close()

	err = a.hub.Update(ctx, func(ctx context.Context, u *hub.Unit) error {
		if err := u.SaveRepo(ctx, &types.Repo{Slug: "alpha", EndpointURI: "https://alpha.org/ipif"}); err != nil {
			return err
		}
		_, err := u.SaveEntity(ctx, &types.Entity{Kind: types.PersonKind, Repo: "alpha", LocalID: "1", Label: "Ada"})
		return err
	})
	require.NoError(t, err)

	n, err := a.sync.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one entity and one cluster")

	kind := types.MergePerson
	docs, err := a.index.Query(ctx, index.Query{Kind: &kind})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestNewAppRejectsUnknownBackends(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Database.Driver = "oracle"
	_, err := newApp(ctx, cfg)
	assert.ErrorContains(t, err, "unsupported database driver")

	cfg = testConfig(t)
	cfg.Index.Backend = "solr"
	_, err = newApp(ctx, cfg)
	assert.ErrorContains(t, err, "unsupported index backend")
}
