package config

import (
	"os"
	"path/filepath"
)

// FintellixPath returns the root directory for Fintellix data.
// It uses $FINTELLIX_PATH if set, otherwise defaults to ~/.fintellix.
func FintellixPath() string {
	if v := os.Getenv("FINTELLIX_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".fintellix")
	}
	return filepath.Join(home, ".fintellix")
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	return filepath.Join(FintellixPath(), "config.jsonc")
}

// DotenvPath returns the path to the .env file.
func DotenvPath() string {
	return filepath.Join(FintellixPath(), ".env")
}

// SettingsPath returns the path to the persisted provider/model selection.
func SettingsPath() string {
	return filepath.Join(FintellixPath(), "settings.json")
}
