package container

import (
	"context"
	"fmt"
	"log"

	"tenderwatch/adapters/postgres"
	"tenderwatch/adapters/rng"
	"tenderwatch/app"
	"tenderwatch/internal/cache"
	"tenderwatch/internal/config"
	"tenderwatch/internal/counterfactual"
	"tenderwatch/internal/errors"
	"tenderwatch/internal/metrics"
	"tenderwatch/internal/migration"
	"tenderwatch/internal/risk"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Domain config.Domain

	// Infrastructure
	DB      *sqlx.DB
	Metrics *metrics.Recorder

	// Repositories (data access layer)
	CounterfactualRepo *postgres.CounterfactualRepository
	Cache              *cache.Cache

	// Counterfactual search
	Scorer       *risk.Scorer
	Engine       *counterfactual.Engine
	Explanations *app.ExplanationService
}

// New creates a container with caching disabled. reg receives the metrics collectors and may be nil.
func New(cfg *config.Config, reg prometheus.Registerer) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	domain, err := config.LoadDomain(cfg.Model.File)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load feature model")
	}

	c := &Container{
		Config:  cfg,
		Domain:  domain,
		Metrics: metrics.NewRecorder(reg),
	}

	c.Scorer = risk.NewScorer(domain.Weights, domain.Model, domain.Scoring)
	describer := counterfactual.NewDescriber(domain.Model, domain.Descriptions)
	c.Engine = counterfactual.NewEngine(domain.Model, c.Scorer.Score, describer, cfg.Engine)
	c.Cache = cache.New(nil, c.Metrics)
	c.initServices()

	return c, nil
}

// InitWithDatabase enables the counterfactual cache on db
func (c *Container) InitWithDatabase(db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("database connection cannot be nil")
	}

	c.DB = db
	c.CounterfactualRepo = postgres.NewCounterfactualRepository(db)
	c.Cache = cache.New(c.CounterfactualRepo, c.Metrics)
	c.initServices()

	log.Printf("[Container] Counterfactual cache enabled (%s)", db.DriverName())
	return nil
}

func (c *Container) initServices() {
	c.Explanations = app.NewExplanationService(c.Engine, c.Cache, rng.NewSeededAdapter(), c.Metrics, app.ServiceOptions{
		Seed:             c.Config.Run.Seed,
		BatchConcurrency: c.Config.Run.BatchConcurrency,
	})
}

// EnableCache opens the configured database and attaches the cache. The cache is optional: a missing
// URL or a failed connection or migration is logged and the container keeps serving without it.
func (c *Container) EnableCache(ctx context.Context) bool {
	if !c.Config.Database.Enabled() {
		log.Println("[Container] DATABASE_URL not set, counterfactual cache disabled")
		return false
	}

	db, err := OpenDatabase(ctx, c.Config.Database)
	if err != nil {
		log.Printf("[Container] Cache unavailable, continuing without it: %v", err)
		return false
	}
	if err := c.InitWithDatabase(db); err != nil {
		db.Close()
		log.Printf("[Container] Cache unavailable, continuing without it: %v", err)
		return false
	}
	return true
}

// OpenDatabase connects to the configured database and applies migrations
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if !cfg.Enabled() {
		return nil, errors.ConfigInvalid("DATABASE_URL is required")
	}

	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.URL)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseError(err.Error()), "failed to connect to database")
	}
	if cfg.Driver == "sqlite" {
		// SQLite allows one writer; a single connection also keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
	}

	migrator := migration.NewRunner()
	if err := migrator.Run(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "database migration failed")
	}
	log.Printf("[Container] Database ready (driver %s, schema %s)", cfg.Driver, migrator.Version())

	return db, nil
}

// Shutdown releases held resources
func (c *Container) Shutdown(ctx context.Context) error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
