package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := domain.DefaultConfig()
	if cfg.Tier != domain.TierCommunity {
		t.Errorf("expected community tier, got %s", cfg.Tier)
	}
	if cfg.Server.Port != want.Server.Port {
		t.Errorf("expected port %d, got %d", want.Server.Port, cfg.Server.Port)
	}
	if cfg.Repository.Driver != "sqlite" || cfg.Repository.SQLitePath != want.Repository.SQLitePath {
		t.Errorf("unexpected repository config %+v", cfg.Repository)
	}
	if cfg.Enrichment.IssueTimeout != want.Enrichment.IssueTimeout {
		t.Errorf("expected issue timeout %v, got %v", want.Enrichment.IssueTimeout, cfg.Enrichment.IssueTimeout)
	}
	if cfg.LLM.APIKey != "" {
		t.Error("expected no api key by default")
	}
}

func TestLoadProTier(t *testing.T) {
	t.Setenv("CLAIMGUARD_TIER", "pro")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tier != domain.TierPro {
		t.Errorf("expected pro tier, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.Repository.Driver)
	}
	if cfg.Cache.Type != "redis" || !cfg.Cache.EnableTwoPhase {
		t.Errorf("expected two-phase redis cache, got %+v", cfg.Cache)
	}
	if cfg.EventBus.Type != "nats" {
		t.Errorf("expected nats, got %s", cfg.EventBus.Type)
	}
	if !cfg.Worker.Enabled {
		t.Error("expected worker enabled on pro tier")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CLAIMGUARD_SERVER_PORT", "9090")
	t.Setenv("CLAIMGUARD_DB_PATH", "/tmp/claims.db")
	t.Setenv("CLAIMGUARD_ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("CLAIMGUARD_DEBUG", "true")
	t.Setenv("CLAIMGUARD_ENRICHMENT_ISSUETIMEOUT", "3s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Repository.SQLitePath != "/tmp/claims.db" {
		t.Errorf("expected db path override, got %s", cfg.Repository.SQLitePath)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("expected api key override")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
	if cfg.Enrichment.IssueTimeout != 3*time.Second {
		t.Errorf("expected 3s issue timeout, got %v", cfg.Enrichment.IssueTimeout)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claimguard.yaml")
	content := `
server:
  port: 8081
reference:
  rulesDir: /etc/claimguard/rules
enrichment:
  enabled: false
  minLength: 80
logging:
  format: text
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8081 {
		t.Errorf("expected port 8081, got %d", cfg.Server.Port)
	}
	if cfg.Reference.RulesDir != "/etc/claimguard/rules" {
		t.Errorf("unexpected rules dir %s", cfg.Reference.RulesDir)
	}
	if cfg.Enrichment.Enabled || cfg.Enrichment.MinLength != 80 {
		t.Errorf("unexpected enrichment config %+v", cfg.Enrichment)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("expected text format, got %s", cfg.Logging.Format)
	}
	// Untouched keys keep their defaults.
	if cfg.Enrichment.Concurrency != domain.DefaultConfig().Enrichment.Concurrency {
		t.Errorf("expected default concurrency, got %d", cfg.Enrichment.Concurrency)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("unknown tier", func(t *testing.T) {
		t.Setenv("CLAIMGUARD_TIER", "enterprise")
		if _, err := Load(""); err == nil {
			t.Error("expected error for unknown tier")
		}
	})

	t.Run("bad driver", func(t *testing.T) {
		t.Setenv("CLAIMGUARD_REPOSITORY_DRIVER", "mysql")
		if _, err := Load(""); err == nil {
			t.Error("expected error for unsupported driver")
		}
	})
}
