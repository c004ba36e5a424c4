package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFrom_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Settings.Theme != "system" || cfg.Settings.RefreshIntervalMS != 5000 {
		t.Fatalf("settings = %+v, want defaults", cfg.Settings)
	}
	if !cfg.Settings.NotificationsEnabled || cfg.Settings.TokenAlertThreshold != 1_000_000 {
		t.Fatalf("settings = %+v, want defaults", cfg.Settings)
	}
}

func TestLoadFrom_FillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"profiles": [{"id": "p1", "name": "Claude", "provider": "claude", "dir": "/x", "enabled": true}], "settings": {}}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Profiles[0].SourceType != "account" {
		t.Fatalf("sourceType = %q, want account default", cfg.Profiles[0].SourceType)
	}
	if cfg.Settings.RefreshIntervalMS != 5000 || cfg.Settings.Theme != "system" {
		t.Fatalf("settings = %+v, want backfilled defaults", cfg.Settings)
	}
}

func TestLoadFrom_MalformedFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{{{"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err == nil {
		t.Fatal("want error for malformed config")
	}
	if cfg.Settings.Theme != "system" {
		t.Fatalf("fallback settings = %+v, want defaults", cfg.Settings)
	}
}

func TestSaveTo_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Config{
		Profiles: []Profile{{
			ID: "api-1", Name: "Claude (API)", Provider: "claude",
			Enabled: true, SourceType: "api", APIKey: "sk-ant-admin-xyz",
		}},
		Settings: DefaultSettings(),
	}
	if err := SaveTo(path, cfg); err != nil {
		t.Fatalf("SaveTo() error = %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if len(loaded.Profiles) != 1 || loaded.Profiles[0].APIKey != "sk-ant-admin-xyz" {
		t.Fatalf("profiles = %+v, want round-tripped key", loaded.Profiles)
	}
}

func TestUpdateSettingsAt_KeepsProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Config{
		Profiles: []Profile{{ID: "p1", Name: "Claude", Provider: "claude", Dir: "/x", Enabled: true, SourceType: "account"}},
		Settings: DefaultSettings(),
	}
	if err := SaveTo(path, cfg); err != nil {
		t.Fatal(err)
	}

	next := DefaultSettings()
	next.Theme = "dark"
	next.TokenAlertThreshold = 500_000
	if err := UpdateSettingsAt(path, next); err != nil {
		t.Fatalf("UpdateSettingsAt() error = %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Settings.Theme != "dark" || loaded.Settings.TokenAlertThreshold != 500_000 {
		t.Fatalf("settings = %+v", loaded.Settings)
	}
	if len(loaded.Profiles) != 1 || loaded.Profiles[0].ID != "p1" {
		t.Fatalf("profiles = %+v, want untouched", loaded.Profiles)
	}
}

func TestInfo_OmitsAPIKey(t *testing.T) {
	p := Profile{ID: "api-1", Name: "Claude (API)", Provider: "claude", SourceType: "api", APIKey: "sk-ant-admin-xyz"}
	info := p.Info()
	if !info.HasAPIKey {
		t.Fatal("hasApiKey = false, want true")
	}

	data, err := json.Marshal(info)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sk-ant-admin-xyz") {
		t.Fatalf("listing leaks the key: %s", data)
	}
}
