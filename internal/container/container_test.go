package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tenderwatch/domain/features"
	"tenderwatch/internal/config"
	"tenderwatch/internal/counterfactual"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite"},
		Server:   config.ServerConfig{Port: "8080"},
		Engine:   counterfactual.DefaultConfig(),
		Run:      config.RunConfig{Seed: 3, BatchConcurrency: 2},
	}
}

func TestNewWithoutDatabase(t *testing.T) {
	c, err := New(testConfig(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer c.Shutdown(context.Background())

	assert.False(t, c.Cache.Enabled())
	assert.False(t, c.Explanations.CacheEnabled())
	assert.Equal(t, 100.0, c.Scorer.Score(features.Vector{features.SingleBidder: 1}))
}

func TestInitWithSQLiteDatabase(t *testing.T) {
	cfg := testConfig()
	cfg.Database.URL = "file:" + filepath.Join(t.TempDir(), "cache.db")

	ctx := context.Background()
	db, err := OpenDatabase(ctx, cfg.Database)
	require.NoError(t, err)

	c, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, c.InitWithDatabase(db))
	defer c.Shutdown(ctx)

	score := 65.0
	explanation, err := c.Explanations.Explain(ctx, features.Tender{
		ID:       "T1",
		Features: features.Vector{features.SingleBidder: 1, features.NumBidders: 1},
		Score:    &score,
	})
	require.NoError(t, err)
	require.NotEmpty(t, explanation.Counterfactuals)

	stats := c.Explanations.CacheStats(ctx)
	assert.Equal(t, len(explanation.Counterfactuals), stats.TotalCached)
}

func TestNewWithModelFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
weights:
  - {feature: single_bidder, flag_type: competition, weight: 1}
scoring:
  multi_flag_bonus: 0
  competition_tiers: []
`), 0o644))

	cfg := testConfig()
	cfg.Model.File = path
	c, err := New(cfg, nil)
	require.NoError(t, err)

	// Only single_bidder is weighted now.
	assert.Equal(t, 0.0, c.Scorer.Score(features.Vector{features.RepeatWinner: 1}))
	assert.Equal(t, 100.0, c.Scorer.Score(features.Vector{features.SingleBidder: 1, features.NumBidders: 9}))
}

func TestEnableCacheFallsBackWhenDatabaseUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.Database = config.DatabaseConfig{
		URL:    "postgres://tenderwatch@127.0.0.1:1/cache?sslmode=disable&connect_timeout=1",
		Driver: "postgres",
	}
	c, err := New(cfg, nil)
	require.NoError(t, err)
	defer c.Shutdown(context.Background())

	assert.False(t, c.EnableCache(context.Background()))
	assert.False(t, c.Explanations.CacheEnabled())
	assert.Nil(t, c.DB)

	score := 65.0
	explanation, err := c.Explanations.Explain(context.Background(), features.Tender{
		ID:       "T1",
		Features: features.Vector{features.SingleBidder: 1, features.NumBidders: 1},
		Score:    &score,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, explanation.Counterfactuals)
}

func TestEnableCacheWithSQLite(t *testing.T) {
	cfg := testConfig()
	cfg.Database.URL = "file:" + filepath.Join(t.TempDir(), "cache.db")
	c, err := New(cfg, nil)
	require.NoError(t, err)
	defer c.Shutdown(context.Background())

	assert.True(t, c.EnableCache(context.Background()))
	assert.True(t, c.Explanations.CacheEnabled())

	cfg.Database.URL = ""
	disabled, err := New(cfg, nil)
	require.NoError(t, err)
	assert.False(t, disabled.EnableCache(context.Background()))
}

func TestOpenDatabaseRequiresURL(t *testing.T) {
	_, err := OpenDatabase(context.Background(), config.DatabaseConfig{Driver: "sqlite"})
	assert.Error(t, err)

	_, err = New(nil, nil)
	assert.Error(t, err)
}
