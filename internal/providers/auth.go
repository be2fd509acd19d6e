package providers

import (
	"os"
	"strings"

	"github.com/dohr-michael/fintellix/internal/config"
)

// resolveAPIKey returns the configured key, falling back to envVar.
func resolveAPIKey(cfg config.ProviderConfig, envVar string) string {
	return resolveSecret(cfg.APIKey, envVar)
}

// resolveSecret returns value, falling back to envVar. A "${VAR}" value is
// read from the environment.
func resolveSecret(value, envVar string) string {
	key := strings.TrimSpace(value)
	if strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}") {
		key = os.Getenv(key[2 : len(key)-1])
	}
	if key != "" {
		return key
	}
	if envVar == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(envVar))
}
