// Package config loads user settings from a JSON file under the platform
// config directory, falling back to defaults when no file exists.
package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Settings holds all user-configurable settings organized by category.
type Settings struct {
	Network  NetworkSettings `json:"network"`
	Timeouts TimeoutSettings `json:"timeouts"`
}

// NetworkSettings contains announce parameters.
type NetworkSettings struct {
	ListenPort int  `json:"listen_port"`
	Compact    bool `json:"compact"`
}

// TimeoutSettings contains the per-phase networking timeouts.
type TimeoutSettings struct {
	StreamConnect time.Duration `json:"stream_connect"`
	HandshakeIO   time.Duration `json:"handshake_io"`
}

// DefaultSettings returns the built-in configuration.
func DefaultSettings() Settings {
	return Settings{
		Network: NetworkSettings{
			ListenPort: 6881,
			Compact:    true,
		},
		Timeouts: TimeoutSettings{
			StreamConnect: 30 * time.Second,
			HandshakeIO:   30 * time.Second,
		},
	}
}

// SettingsPath returns the settings file location for the current platform.
func SettingsPath() string {
	return filepath.Join(configDir(), "settings.json")
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		return filepath.Join(appData, "riptide")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "riptide")
	default:
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, _ := os.UserHomeDir()
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, "riptide")
	}
}

// LoadSettings reads settings from path, layering the file over the
// defaults. A missing file is not an error.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return settings, nil
		}
		return settings, err
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return DefaultSettings(), err
	}
	return settings, nil
}

// SaveSettings writes settings to path, creating the directory when needed.
func SaveSettings(path string, settings Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
