// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing or malformed, Load returns an
// error and the process exits.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"hayvn/listing-pipeline/internal/model"
)

// Config holds all runtime configuration for the listing service.
type Config struct {
	Port            string
	GRPCPort        string // empty when LISTING_GRPC_PORT=off
	DatabaseURL     string
	RedisURL        string
	LogLevel        string
	CORSAllowOrigin string
	AuthCacheTTL    time.Duration
	Sync            SyncConfig
	Weights         model.ScoringWeights
}

// SyncConfig is handed to the sync engine and its fetcher.
type SyncConfig struct {
	PageSize    int
	MaxPages    int
	HTTPTimeout time.Duration
	Schedule    string // cron spec, e.g. "@every 6h"; empty disables the trigger
}

// Load reads an optional .env file, then environment variables, and returns
// a validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, using process environment")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	pageSize, err := positiveInt("SYNC_PAGE_SIZE", 300)
	if err != nil {
		return nil, err
	}
	maxPages, err := positiveInt("SYNC_MAX_PAGES", 20)
	if err != nil {
		return nil, err
	}
	timeoutSecs, err := positiveInt("SYNC_HTTP_TIMEOUT_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	authTTL, err := positiveInt("AUTH_CACHE_TTL_SECONDS", 300)
	if err != nil {
		return nil, err
	}

	grpcPort := getEnv("LISTING_GRPC_PORT", "9083")
	if strings.EqualFold(grpcPort, "off") {
		grpcPort = ""
	}

	weights := model.DefaultScoringWeights()
	if path := os.Getenv("MATCH_WEIGHTS_FILE"); path != "" {
		weights, err = LoadWeights(path, weights)
		if err != nil {
			return nil, err
		}
	}

	return &Config{
		Port:            getEnv("LISTING_PORT", "8083"),
		GRPCPort:        grpcPort,
		DatabaseURL:     dbURL,
		RedisURL:        redisURL,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		CORSAllowOrigin: getEnv("CORS_ALLOW_ORIGIN", "*"),
		AuthCacheTTL:    time.Duration(authTTL) * time.Second,
		Sync: SyncConfig{
			PageSize:    pageSize,
			MaxPages:    maxPages,
			HTTPTimeout: time.Duration(timeoutSecs) * time.Second,
			Schedule:    os.Getenv("SYNC_SCHEDULE"),
		},
		Weights: weights,
	}, nil
}

// LoadWeights overlays the YAML file at path on base. Keys absent from the
// file keep their base value.
func LoadWeights(path string, base model.ScoringWeights) (model.ScoringWeights, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read weights file %s: %w", path, err)
	}
	w := base
	if err := yaml.Unmarshal(raw, &w); err != nil {
		return base, fmt.Errorf("parse weights file %s: %w", path, err)
	}
	if w.RecentHours <= 0 || w.WeekHours < w.RecentHours {
		return base, fmt.Errorf("weights file %s: recentHours must be positive and not exceed weekHours", path)
	}
	if w.NarrowWiden < 0 || w.WideWiden < w.NarrowWiden {
		return base, fmt.Errorf("weights file %s: wideWiden must be at least narrowWiden", path)
	}
	return w, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func positiveInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, s)
	}
	return v, nil
}
