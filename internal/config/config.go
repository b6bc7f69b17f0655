package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/consultx/consultx/internal/risk"
)

// Config holds runtime settings for the risk service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	// DatabaseURL selects the repository backend; empty keeps sessions in memory.
	DatabaseURL          string
	StoreConnectAttempts int

	BufferCapacity int

	RetrievalK          int
	RetrievalTimeout    time.Duration
	RetrievalQdrantURL  string
	RetrievalCollection string
	OpenAIAPIKey        string
	EmbeddingModel      string

	RiskLexiconPath    string
	RiskPolicyPath     string
	RiskAdapters       []string
	RiskAdapterTimeout time.Duration

	SummaryMaxTrendPoints int
	ResourceCatalogPath   string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		ShutdownTimeout:      15 * time.Second,
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "consultx"),
		AllowAnyOrigin:       false,
		DatabaseURL:          stringsTrimSpace("DATABASE_URL"),
		StoreConnectAttempts: 5,
		BufferCapacity:       20,
		RetrievalK:           3,
		RetrievalTimeout:     800 * time.Millisecond,
		RetrievalQdrantURL:   stringsTrimSpace("RETRIEVAL_QDRANT_URL"),
		RetrievalCollection:  envOrDefault("RETRIEVAL_COLLECTION", "consultx-guidance"),
		OpenAIAPIKey:         stringsTrimSpace("OPENAI_API_KEY"),
		EmbeddingModel:       envOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		RiskLexiconPath:      stringsTrimSpace("RISK_LEXICON_PATH"),
		RiskPolicyPath:       stringsTrimSpace("RISK_POLICY_PATH"),
		RiskAdapters:         risk.BuiltinAdapterNames(),
		RiskAdapterTimeout:   250 * time.Millisecond,
		// Trend points beyond this are bucketed.
		SummaryMaxTrendPoints: 50,
		ResourceCatalogPath:   stringsTrimSpace("RESOURCE_CATALOG_PATH"),
	}
	if v := stringsTrimSpace("RISK_ADAPTERS"); v != "" {
		cfg.RiskAdapters = listFromEnv(v)
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.StoreConnectAttempts, err = intFromEnv("STORE_CONNECT_ATTEMPTS", cfg.StoreConnectAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.BufferCapacity, err = intFromEnv("BUFFER_CAPACITY", cfg.BufferCapacity)
	if err != nil {
		return Config{}, err
	}
	cfg.RetrievalK, err = intFromEnv("RETRIEVAL_K", cfg.RetrievalK)
	if err != nil {
		return Config{}, err
	}
	cfg.RetrievalTimeout, err = durationFromEnv("RETRIEVAL_TIMEOUT", cfg.RetrievalTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RiskAdapterTimeout, err = durationFromEnv("RISK_ADAPTER_TIMEOUT", cfg.RiskAdapterTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SummaryMaxTrendPoints, err = intFromEnv("SUMMARY_MAX_TREND_POINTS", cfg.SummaryMaxTrendPoints)
	if err != nil {
		return Config{}, err
	}

	if cfg.StoreConnectAttempts <= 0 {
		return Config{}, fmt.Errorf("STORE_CONNECT_ATTEMPTS must be positive")
	}
	if cfg.BufferCapacity <= 0 {
		return Config{}, fmt.Errorf("BUFFER_CAPACITY must be positive")
	}
	if cfg.RetrievalK <= 0 {
		return Config{}, fmt.Errorf("RETRIEVAL_K must be positive")
	}
	if cfg.RetrievalTimeout <= 0 {
		return Config{}, fmt.Errorf("RETRIEVAL_TIMEOUT must be positive")
	}
	if cfg.RiskAdapterTimeout <= 0 {
		return Config{}, fmt.Errorf("RISK_ADAPTER_TIMEOUT must be positive")
	}
	if cfg.SummaryMaxTrendPoints <= 0 {
		return Config{}, fmt.Errorf("SUMMARY_MAX_TREND_POINTS must be positive")
	}
	if cfg.RetrievalQdrantURL != "" && cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY is required when RETRIEVAL_QDRANT_URL is set")
	}
	known := make(map[string]bool)
	for _, name := range risk.BuiltinAdapterNames() {
		known[name] = true
	}
	for _, name := range cfg.RiskAdapters {
		if !known[name] {
			return Config{}, fmt.Errorf("RISK_ADAPTERS: unknown adapter %q", name)
		}
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// listFromEnv splits a comma separated value; "none" yields no entries.
func listFromEnv(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "none") {
		return []string{}
	}
	out := make([]string, 0)
	seen := make(map[string]bool)
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		out = append(out, part)
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
