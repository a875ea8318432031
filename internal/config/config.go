// FILE: config.go
// Package config is the router's runtime configuration: environment
// variables hydrated from an optional .env file (the teacher's
// getEnv/getEnvInt/getEnvBool helpers, with godotenv.Load doing the
// file read instead of the teacher's hand-rolled parser), plus an
// optional YAML overlay for the venue roster, the way blackholedex's
// configs.Config loads its contract-client roster from config.yml.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/offermesh/router/internal/model"
)

// Config holds every runtime knob the boot sequence in cmd/router needs.
type Config struct {
	PackageID   string // on-chain package/module id events are filtered to
	RPCEndpoint string

	PollInterval  time.Duration
	BatchSize     int
	ExecutorTick  time.Duration
	RecentTTL     time.Duration
	MaxConcurrent int

	QuoteDeadline time.Duration
	MaxNativeLegs int
	EnableSplits  bool

	GasBudgetDirect    uint64
	GasBudgetComposite uint64

	ConfidentialityBase   string
	ConfidentialityKeyID  string
	ConfidentialitySecret string

	MetricsAddr string
	HealthAddr  string

	Venues []VenueConfig
}

// VenueConfig describes one configured external adapter, loaded from an
// optional YAML roster (VENUES_CONFIG_PATH).
type VenueConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"` // "amm" | "clob"

	// AMM fields (SlippageBps is also passed to CLOB adapters)
	FeeBps      int64 `yaml:"feeBps"`
	SlippageBps int64 `yaml:"slippageBps"`

	// CLOB fields
	APIBase       string `yaml:"apiBase"`
	KeyName       string `yaml:"keyName"`
	PrivateKeyEnv string `yaml:"privateKeyEnv"` // name of the env var holding the PEM
}

type venueRoster struct {
	Venues []VenueConfig `yaml:"venues"`
}

// Load reads .env (if present, via godotenv) then builds Config from the
// process environment, applying the same documented defaults the
// teacher's loadConfigFromEnv does for every field.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	cfg := &Config{
		PackageID:   getEnv("PACKAGE_ID", ""),
		RPCEndpoint: getEnv("RPC_ENDPOINT", "http://127.0.0.1:9000"),

		PollInterval:  getEnvDuration("CACHE_POLL_INTERVAL", 5*time.Second),
		BatchSize:     getEnvInt("CACHE_BATCH_SIZE", 500),
		ExecutorTick:  getEnvDuration("ENGINE_TICK_INTERVAL", 2*time.Second),
		RecentTTL:     getEnvDuration("ENGINE_RECENT_EXECUTION_TTL", 60*time.Second),
		MaxConcurrent: getEnvInt("ENGINE_MAX_CONCURRENT", 8),

		QuoteDeadline: getEnvDuration("ROUTER_QUOTE_DEADLINE", 250*time.Millisecond),
		MaxNativeLegs: getEnvInt("ROUTER_MAX_NATIVE_LEGS", 5),
		EnableSplits:  getEnvBool("ROUTER_ENABLE_SPLITS", true),

		GasBudgetDirect:    uint64(getEnvInt("GAS_BUDGET_DIRECT", 50_000_000)),
		GasBudgetComposite: uint64(getEnvInt("GAS_BUDGET_COMPOSITE", 100_000_000)),

		ConfidentialityBase:   getEnv("CONFIDENTIALITY_BASE_URL", "http://127.0.0.1:8989"),
		ConfidentialityKeyID:  getEnv("CONFIDENTIALITY_KEY_ID", ""),
		ConfidentialitySecret: getEnv("CONFIDENTIALITY_KEY_SECRET", ""),

		MetricsAddr: getEnv("METRICS_ADDR", ":9100"),
		HealthAddr:  getEnv("HEALTH_ADDR", ":9101"),
	}

	if cfg.PackageID == "" {
		return nil, model.NewError(model.KindFatalConfig, "PACKAGE_ID is required", nil)
	}

	if path := getEnv("VENUES_CONFIG_PATH", ""); path != "" {
		venues, err := loadVenueRoster(path)
		if err != nil {
			return nil, model.NewError(model.KindFatalConfig, "loading venue roster", err)
		}
		cfg.Venues = venues
	}

	return cfg, nil
}

func loadVenueRoster(path string) ([]VenueConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read venue roster: %w", err)
	}
	var roster venueRoster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("parse venue roster yaml: %w", err)
	}
	return roster.Venues, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	default:
		return def
	}
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
