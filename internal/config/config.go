// Package config persists the profile list and app settings as one JSON
// file. API keys live inside profiles; helpers that surface profiles to
// logs or listings must go through Info so the key itself never leaves the
// config layer.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// Profile describes one telemetry source. SourceType selects between the
// local account data ("account") and a remote API ("api"); api profiles
// carry the key, account profiles a directory.
type Profile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Provider   string `json:"provider"`
	Dir        string `json:"dir"`
	Enabled    bool   `json:"enabled"`
	SourceType string `json:"sourceType"`
	APIKey     string `json:"apiKey,omitempty"`
}

// Info is the loggable view of a profile: same fields minus the key.
type Info struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Provider   string `json:"provider"`
	Dir        string `json:"dir"`
	Enabled    bool   `json:"enabled"`
	SourceType string `json:"sourceType"`
	HasAPIKey  bool   `json:"hasApiKey"`
}

func (p Profile) Info() Info {
	return Info{
		ID:         p.ID,
		Name:       p.Name,
		Provider:   p.Provider,
		Dir:        p.Dir,
		Enabled:    p.Enabled,
		SourceType: p.SourceType,
		HasAPIKey:  p.APIKey != "",
	}
}

type Settings struct {
	Theme                string `json:"theme"`
	RefreshIntervalMS    uint64 `json:"refreshIntervalMs"`
	LaunchOnStartup      bool   `json:"launchOnStartup"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
	TokenAlertThreshold  uint64 `json:"tokenAlertThreshold"`
}

type Config struct {
	Profiles []Profile `json:"profiles"`
	Settings Settings  `json:"settings"`
}

func DefaultSettings() Settings {
	return Settings{
		Theme:                "system",
		RefreshIntervalMS:    5000,
		LaunchOnStartup:      false,
		NotificationsEnabled: true,
		TokenAlertThreshold:  1_000_000,
	}
}

// DefaultConfig builds a config with a profile for every provider whose
// local data directory exists on this machine.
func DefaultConfig() Config {
	var profiles []Profile

	if home, err := os.UserHomeDir(); err == nil {
		if dir := filepath.Join(home, ".claude"); dirExists(dir) {
			profiles = append(profiles, Profile{
				ID: "claude-default", Name: "Claude", Provider: "claude",
				Dir: dir, Enabled: true, SourceType: "account",
			})
		}
		if dir := filepath.Join(home, ".gemini"); dirExists(dir) {
			profiles = append(profiles, Profile{
				ID: "gemini-default", Name: "Gemini", Provider: "gemini",
				Dir: dir, Enabled: true, SourceType: "account",
			})
		}
	}
	if dir := filepath.Join(platformConfigDir(), "glm"); dirExists(dir) {
		profiles = append(profiles, Profile{
			ID: "glm-default", Name: "GLM", Provider: "glm",
			Dir: dir, Enabled: true, SourceType: "account",
		})
	}

	return Config{Profiles: profiles, Settings: DefaultSettings()}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func platformConfigDir() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config")
}

func ConfigDir() string {
	return filepath.Join(platformConfigDir(), "usagebar")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads the config file, falling back to the auto-detected default
// when the file does not exist yet.
func LoadFrom(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return DefaultConfig(), fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Settings.RefreshIntervalMS == 0 {
		cfg.Settings.RefreshIntervalMS = DefaultSettings().RefreshIntervalMS
	}
	if cfg.Settings.Theme == "" {
		cfg.Settings.Theme = DefaultSettings().Theme
	}
	for i := range cfg.Profiles {
		if cfg.Profiles[i].SourceType == "" {
			cfg.Profiles[i].SourceType = "account"
		}
	}

	return cfg, nil
}

// saveMu guards read-modify-write cycles on the config file.
var saveMu sync.Mutex

func Save(cfg Config) error {
	return SaveTo(ConfigPath(), cfg)
}

func SaveTo(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// UpdateSettings persists new settings into the config file, keeping the
// profile list as stored (read-modify-write).
func UpdateSettings(settings Settings) error {
	return UpdateSettingsAt(ConfigPath(), settings)
}

func UpdateSettingsAt(path string, settings Settings) error {
	saveMu.Lock()
	defer saveMu.Unlock()

	cfg, err := LoadFrom(path)
	if err != nil {
		cfg = DefaultConfig()
	}
	cfg.Settings = settings
	return SaveTo(path, cfg)
}
