package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"tenderwatch/internal/counterfactual"
	"tenderwatch/internal/errors"

	"github.com/go-playground/validator/v10"
)

// Config represents the complete application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig `validate:"required"`
	Engine   counterfactual.Config
	Run      RunConfig
	Model    ModelConfig

	Profiling ProfilingConfig
}

// DatabaseConfig holds database connection settings. An empty URL disables the cache.
type DatabaseConfig struct {
	URL    string
	Driver string `validate:"oneof=postgres sqlite"`
}

// Enabled reports whether a cache database is configured
func (c DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port string `validate:"required,numeric"`
}

// RunConfig holds per-request execution settings
type RunConfig struct {
	// Seed is the base seed for per-tender RNG streams; 0 draws a fresh seed per run.
	Seed             int64
	BatchConcurrency int `validate:"gte=1,lte=64"`
}

// ModelConfig points at an optional YAML file overriding the feature model,
// CRI weights and description table.
type ModelConfig struct {
	File string
}

// ProfilingConfig holds performance profiling settings
type ProfilingConfig struct {
	Port    string `validate:"omitempty,numeric"`
	Enabled bool
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Database:  loadDatabaseConfig(),
		Server:    loadServerConfig(),
		Engine:    loadEngineConfig(),
		Run:       loadRunConfig(),
		Model:     ModelConfig{File: getEnvOrDefault("FEATURE_MODEL_FILE", "")},
		Profiling: loadProfilingConfig(),
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

func loadDatabaseConfig() DatabaseConfig {
	url := os.Getenv("DATABASE_URL")
	return DatabaseConfig{
		URL:    url,
		Driver: getEnvOrDefault("DATABASE_DRIVER", driverFromURL(url)),
	}
}

// driverFromURL guesses the driver when DATABASE_DRIVER is unset
func driverFromURL(url string) string {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(url, "file:"), strings.HasSuffix(url, ".db"), url == ":memory:":
		return "sqlite"
	default:
		return "postgres"
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port: getEnvOrDefault("PORT", "8080"),
	}
}

func loadEngineConfig() counterfactual.Config {
	d := counterfactual.DefaultConfig()
	return counterfactual.Config{
		TargetScore:     getEnvFloatOrDefault("CF_TARGET_SCORE", d.TargetScore),
		PopulationSize:  getEnvIntOrDefault("CF_POPULATION_SIZE", d.PopulationSize),
		Generations:     getEnvIntOrDefault("CF_GENERATIONS", d.Generations),
		MutationRate:    getEnvFloatOrDefault("CF_MUTATION_RATE", d.MutationRate),
		DiversityWeight: getEnvFloatOrDefault("CF_DIVERSITY_WEIGHT", d.DiversityWeight),
		TopK:            getEnvIntOrDefault("CF_TOP_K", d.TopK),
		EliteFraction:   d.EliteFraction,
		MinElite:        d.MinElite,
		TournamentSize:  d.TournamentSize,
		EarlyStopFactor: d.EarlyStopFactor,
		Fitness: counterfactual.FitnessWeights{
			ScoreDelta:        getEnvFloatOrDefault("CF_FITNESS_SCORE_DELTA", d.Fitness.ScoreDelta),
			ThresholdBonus:    getEnvFloatOrDefault("CF_FITNESS_THRESHOLD_BONUS", d.Fitness.ThresholdBonus),
			DistancePenalty:   getEnvFloatOrDefault("CF_FITNESS_DISTANCE_PENALTY", d.Fitness.DistancePenalty),
			FeasibilityReward: getEnvFloatOrDefault("CF_FITNESS_FEASIBILITY_REWARD", d.Fitness.FeasibilityReward),
		},
	}
}

func loadRunConfig() RunConfig {
	return RunConfig{
		Seed:             getEnvInt64OrDefault("CF_SEED", 0),
		BatchConcurrency: getEnvIntOrDefault("CF_BATCH_CONCURRENCY", 4),
	}
}

func loadProfilingConfig() ProfilingConfig {
	return ProfilingConfig{
		Port:    getEnvOrDefault("PPROF_PORT", "6060"),
		Enabled: getEnvBoolOrDefault("PPROF_ENABLED", false),
	}
}

func validateConfig(config *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(config); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s=%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return errors.ConfigInvalid("invalid settings: " + strings.Join(fields, ", "))
		}
		return errors.Wrap(err, "validator failed")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
