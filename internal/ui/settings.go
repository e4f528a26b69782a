package ui

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// settingsPath returns where persisted settings live, preferring the user's
// config directory (e.g. %AppData%/gbemu) and falling back to the directory
// holding the running executable when that isn't available.
func settingsPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		d := filepath.Join(dir, "gbemu")
		_ = os.MkdirAll(d, 0755)
		return filepath.Join(d, "settings.toml")
	}
	exe, _ := os.Executable()
	return filepath.Join(filepath.Dir(exe), "gbemu_settings.toml")
}

// loadSettings reads the persisted TOML settings file (if any) and layers
// non-zero fields of override on top, so CLI flags win over a saved file.
func loadSettings(override Config) Config {
	var cfg Config
	if _, err := toml.DecodeFile(settingsPath(), &cfg); err != nil {
		slog.Debug("settings file not loaded, using defaults", "path", settingsPath(), "error", err)
	}
	if override.Title != "" {
		cfg.Title = override.Title
	}
	if override.Scale != 0 {
		cfg.Scale = override.Scale
	}
	if override.AudioBufferMs != 0 {
		cfg.AudioBufferMs = override.AudioBufferMs
	}
	if override.ROMsDir != "" {
		cfg.ROMsDir = override.ROMsDir
	}
	cfg.AudioStereo = override.AudioStereo || cfg.AudioStereo
	cfg.AudioAdaptive = override.AudioAdaptive || cfg.AudioAdaptive
	cfg.AudioLowLatency = override.AudioLowLatency || cfg.AudioLowLatency
	if override.UseFetcherBG {
		cfg.UseFetcherBG = true
	}
	if cfg.Title == "" && override.Title == "" {
		cfg.Title = "gbemu"
	}
	return cfg
}

func (a *App) saveSettings() {
	if a == nil {
		return
	}
	f, err := os.Create(settingsPath())
	if err != nil {
		slog.Debug("settings save failed", "path", settingsPath(), "error", err)
		return
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(a.cfg); err != nil {
		slog.Debug("settings encode failed", "error", err)
	}
}
