package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("ORGCHAT_DATA_DIR", tempDir)

	firstCfg, firstPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}
	if firstCfg.UserID == "" {
		t.Fatalf("expected non-empty user ID")
	}
	if firstCfg.OrgID != DefaultOrgID {
		t.Fatalf("expected default org %q, got %q", DefaultOrgID, firstCfg.OrgID)
	}
	if firstCfg.CacheTTLSeconds != DefaultCacheTTLSeconds {
		t.Fatalf("expected default cache TTL %d, got %d", DefaultCacheTTLSeconds, firstCfg.CacheTTLSeconds)
	}
	if firstCfg.RateBudget != DefaultRateBudget {
		t.Fatalf("expected default rate budget %d, got %d", DefaultRateBudget, firstCfg.RateBudget)
	}

	expectedConfigPath := filepath.Join(tempDir, "config.json")
	if firstPath != expectedConfigPath {
		t.Fatalf("expected config path %q, got %q", expectedConfigPath, firstPath)
	}

	if _, err := os.Stat(KeysDir(tempDir)); err != nil {
		t.Fatalf("keys directory not created: %v", err)
	}

	secondCfg, secondPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}

	if secondPath != firstPath {
		t.Fatalf("expected config path to be stable, got %q then %q", firstPath, secondPath)
	}
	if secondCfg.UserID != firstCfg.UserID {
		t.Fatalf("expected stable user ID, got %q then %q", firstCfg.UserID, secondCfg.UserID)
	}
	if secondCfg.DisplayName != firstCfg.DisplayName {
		t.Fatalf("expected stable display name, got %q then %q", firstCfg.DisplayName, secondCfg.DisplayName)
	}
}

func TestLoadOrCreateNormalizesPartialConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("ORGCHAT_DATA_DIR", tempDir)

	if err := EnsureDataDirectories(tempDir); err != nil {
		t.Fatalf("EnsureDataDirectories failed: %v", err)
	}

	partial := &SessionConfig{
		UserID:      "user-legacy",
		DisplayName: "Legacy",
		PageSize:    -1,
	}
	if err := Save(ConfigPath(tempDir), partial); err != nil {
		t.Fatalf("Save partial config failed: %v", err)
	}

	cfg, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.UserID != "user-legacy" {
		t.Fatalf("expected retained user ID, got %q", cfg.UserID)
	}
	if cfg.OrgID != DefaultOrgID {
		t.Fatalf("expected org to normalize to %q, got %q", DefaultOrgID, cfg.OrgID)
	}
	if cfg.PageSize != DefaultPageSize {
		t.Fatalf("expected page size to normalize to %d, got %d", DefaultPageSize, cfg.PageSize)
	}
	if cfg.RateBudget != DefaultRateBudget {
		t.Fatalf("expected rate budget to normalize to %d, got %d", DefaultRateBudget, cfg.RateBudget)
	}

	// Normalization is persisted.
	reloaded, err := Load(ConfigPath(tempDir))
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.PageSize != DefaultPageSize {
		t.Fatalf("normalized config not saved: page size %d", reloaded.PageSize)
	}
}

func TestResolveDataDirOverride(t *testing.T) {
	t.Setenv("ORGCHAT_DATA_DIR", "/tmp/orgchat-test-override")

	dir, err := ResolveDataDir()
	if err != nil {
		t.Fatalf("ResolveDataDir failed: %v", err)
	}
	if dir != "/tmp/orgchat-test-override" {
		t.Fatalf("override ignored: %q", dir)
	}
}
