package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
	if cfg.BufferCapacity != 20 {
		t.Fatalf("BufferCapacity = %d, want 20", cfg.BufferCapacity)
	}
	if cfg.RetrievalTimeout != 800*time.Millisecond {
		t.Fatalf("RetrievalTimeout = %v, want 800ms", cfg.RetrievalTimeout)
	}
	want := []string{"farewell", "means_policy", "sustained_risk"}
	if !reflect.DeepEqual(cfg.RiskAdapters, want) {
		t.Fatalf("RiskAdapters = %v, want %v", cfg.RiskAdapters, want)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("BUFFER_CAPACITY", "5")
	t.Setenv("RETRIEVAL_TIMEOUT", "250ms")
	t.Setenv("RISK_ADAPTERS", " Farewell , farewell,sustained_risk")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want explicit value", cfg.BindAddr)
	}
	if cfg.BufferCapacity != 5 {
		t.Fatalf("BufferCapacity = %d, want 5", cfg.BufferCapacity)
	}
	if cfg.RetrievalTimeout != 250*time.Millisecond {
		t.Fatalf("RetrievalTimeout = %v, want 250ms", cfg.RetrievalTimeout)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
	want := []string{"farewell", "sustained_risk"}
	if !reflect.DeepEqual(cfg.RiskAdapters, want) {
		t.Fatalf("RiskAdapters = %v, want %v", cfg.RiskAdapters, want)
	}
}

func TestLoadAdaptersNone(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("RISK_ADAPTERS", "none")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.RiskAdapters) != 0 {
		t.Fatalf("RiskAdapters = %v, want none", cfg.RiskAdapters)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"BUFFER_CAPACITY":      "0",
		"RETRIEVAL_K":          "abc",
		"RETRIEVAL_TIMEOUT":    "soon",
		"RISK_ADAPTERS":        "sustained_risk,oracle",
		"APP_ALLOW_ANY_ORIGIN": "maybe",
		"RETRIEVAL_QDRANT_URL": "http://localhost:6333",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() error = nil for %s=%q", key, value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"DATABASE_URL",
		"STORE_CONNECT_ATTEMPTS",
		"BUFFER_CAPACITY",
		"RETRIEVAL_K",
		"RETRIEVAL_TIMEOUT",
		"RETRIEVAL_QDRANT_URL",
		"RETRIEVAL_COLLECTION",
		"OPENAI_API_KEY",
		"EMBEDDING_MODEL",
		"RISK_LEXICON_PATH",
		"RISK_POLICY_PATH",
		"RISK_ADAPTERS",
		"RISK_ADAPTER_TIMEOUT",
		"SUMMARY_MAX_TREND_POINTS",
		"RESOURCE_CATALOG_PATH",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
