package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/boddenberg/ledger-sync/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "FX_CACHE_WINDOW", "USE_SUPABASE", "FX_RATE_OVERRIDES", "OTEL_EXPORTER_OTLP_ENDPOINT"} {
		t.Setenv(k, "")
	}

	cfg := config.Load()

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.FxCacheWindow != 12*time.Hour {
		t.Errorf("expected 12h cache window, got %v", cfg.FxCacheWindow)
	}
	if cfg.UseSupabase {
		t.Error("expected supabase off by default")
	}
	if cfg.OTLPEndpoint != "" {
		t.Errorf("expected tracing off by default, got %q", cfg.OTLPEndpoint)
	}
	if len(cfg.FxRateOverrides) != 0 {
		t.Errorf("expected no overrides, got %v", cfg.FxRateOverrides)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("FX_FETCH_TIMEOUT", "2s")
	t.Setenv("MAX_CONCURRENCY", "not-a-number")
	t.Setenv("FX_RATE_OVERRIDES", "syp=0.000077, IRR=0.0000238")

	cfg := config.Load()

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.FxFetchTimeout != 2*time.Second {
		t.Errorf("expected 2s, got %v", cfg.FxFetchTimeout)
	}
	if cfg.MaxConcurrency != 50 {
		t.Errorf("expected fallback 50 on bad int, got %d", cfg.MaxConcurrency)
	}
	if cfg.FxRateOverrides["SYP"] != 0.000077 || cfg.FxRateOverrides["IRR"] != 0.0000238 {
		t.Errorf("unexpected overrides %v", cfg.FxRateOverrides)
	}
	if rc := cfg.Resilience(); rc.MaxConcurrency != 50 || rc.MaxRetries != cfg.MaxRetries {
		t.Errorf("unexpected resilience config %+v", rc)
	}
}

func TestParseRateOverrides_Invalid(t *testing.T) {
	for _, in := range []string{"SYP", "SYP=abc", "SYP=-1", "=1"} {
		if _, err := config.ParseRateOverrides(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "LEDGER_TEST_A=from-file\nLEDGER_TEST_B=\"quoted\"\n# comment\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LEDGER_TEST_A", "from-env")
	t.Cleanup(func() { os.Unsetenv("LEDGER_TEST_B") })

	if err := config.LoadDotEnv(path); err != nil {
		t.Fatal(err)
	}

	if got := os.Getenv("LEDGER_TEST_A"); got != "from-env" {
		t.Errorf("expected env to win, got %q", got)
	}
	if got := os.Getenv("LEDGER_TEST_B"); got != "quoted" {
		t.Errorf("expected quoted value from file, got %q", got)
	}
}
