package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Shape != "sphere" {
		t.Errorf("expected shape sphere, got %s", cfg.Shape)
	}
	if cfg.Dt <= 0 {
		t.Error("dt should be positive")
	}
	if cfg.Duration <= 0 {
		t.Error("duration should be positive")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero bodies", func(c *Config) { c.Bodies = 0 }},
		{"zero ranks", func(c *Config) { c.Ranks = 0 }},
		{"negative theta", func(c *Config) { c.Theta = -0.1 }},
		{"zero max mass", func(c *Config) { c.MaxMass = 0 }},
		{"zero dt", func(c *Config) { c.Dt = 0 }},
		{"negative duration", func(c *Config) { c.Duration = -1 }},
	}

	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Shape = "disk"
	cfg.Bodies = 999
	cfg.Theta = 0.75
	cfg.Seed = 12345

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.Shape != "disk" || loaded.Bodies != 999 || loaded.Theta != 0.75 || loaded.Seed != 12345 {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	if err := os.WriteFile(path, []byte("bodies: 64\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bodies != 64 {
		t.Errorf("bodies: got %d", cfg.Bodies)
	}
	if cfg.Theta != DefaultTheta {
		t.Errorf("unset fields should keep defaults, theta: got %f", cfg.Theta)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestGetPreset(t *testing.T) {
	cfg := GetPreset("cluster")
	if cfg == nil {
		t.Fatal("expected preset, got nil")
	}
	if cfg.Ranks != 4 {
		t.Errorf("cluster preset ranks: got %d", cfg.Ranks)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("preset should validate: %v", err)
	}

	// Returned preset is a copy.
	cfg.Bodies = 1
	if GetPreset("cluster").Bodies == 1 {
		t.Error("mutating a returned preset must not change the catalog")
	}
}

func TestGetPresetNotFound(t *testing.T) {
	if GetPreset("nonexistent") != nil {
		t.Error("expected nil for nonexistent preset")
	}
}

func TestListPresets(t *testing.T) {
	names := ListPresets()
	if len(names) == 0 {
		t.Fatal("expected presets")
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Error("presets should be sorted")
		}
	}
	for _, name := range names {
		if err := GetPreset(name).Validate(); err != nil {
			t.Errorf("preset %s should validate: %v", name, err)
		}
	}
}
