package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "orgchat"
	// DefaultOrgID is used when no organization is configured yet.
	DefaultOrgID = "default"
	// DefaultCacheTTLSeconds is the base cache staleness horizon.
	DefaultCacheTTLSeconds = 300
	// DefaultRateBudget is the per-minute send budget.
	DefaultRateBudget = 30
	// DefaultPageSize is the thread and message page size.
	DefaultPageSize = 20
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// SessionConfig contains persistent local session settings.
type SessionConfig struct {
	UserID          string `json:"user_id"`
	OrgID           string `json:"org_id"`
	DisplayName     string `json:"display_name"`
	AvatarURL       string `json:"avatar_url"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds"`
	RateBudget      int    `json:"rate_budget"`
	PageSize        int    `json:"page_size"`
	EnableMDNS      bool   `json:"enable_mdns"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If ORGCHAT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("ORGCHAT_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// KeysDir returns the private key directory for a data directory.
func KeysDir(dataDir string) string {
	return filepath.Join(dataDir, "keys")
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		KeysDir(dataDir),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*SessionConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg SessionConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *SessionConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns both.
// First run mints a user id and persists the defaults.
func LoadOrCreate() (*SessionConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func defaultConfig() *SessionConfig {
	displayName := "orgchat user"
	if host, err := os.Hostname(); err == nil && host != "" {
		displayName = host
	}

	return &SessionConfig{
		UserID:          uuid.NewString(),
		OrgID:           DefaultOrgID,
		DisplayName:     displayName,
		CacheTTLSeconds: DefaultCacheTTLSeconds,
		RateBudget:      DefaultRateBudget,
		PageSize:        DefaultPageSize,
		EnableMDNS:      false,
	}
}

func normalizeDefaults(cfg *SessionConfig) bool {
	updated := false

	if cfg.UserID == "" {
		cfg.UserID = uuid.NewString()
		updated = true
	}

	if cfg.OrgID == "" {
		cfg.OrgID = DefaultOrgID
		updated = true
	}

	if cfg.DisplayName == "" {
		displayName := "orgchat user"
		if host, err := os.Hostname(); err == nil && host != "" {
			displayName = host
		}
		cfg.DisplayName = displayName
		updated = true
	}

	if cfg.CacheTTLSeconds <= 0 {
		cfg.CacheTTLSeconds = DefaultCacheTTLSeconds
		updated = true
	}

	if cfg.RateBudget <= 0 {
		cfg.RateBudget = DefaultRateBudget
		updated = true
	}

	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
		updated = true
	}

	return updated
}
