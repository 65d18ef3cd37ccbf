package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const apiTokenKey = "server.api_token"

// GetAPIToken returns the bearer token protecting the management API,
// generating and persisting one on first use.
func GetAPIToken(b Backend) (string, error) {
	token, ok, err := b.GetString(apiTokenKey)
	if err != nil {
		return "", fmt.Errorf("reading API token: %w", err)
	}
	if ok && token != "" {
		return token, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	token = hex.EncodeToString(buf)

	if err := b.SetString(apiTokenKey, token); err != nil {
		return "", fmt.Errorf("persisting API token: %w", err)
	}
	return token, nil
}

// DefaultBackend returns the file-backed config store at the standard
// config path.
func DefaultBackend() Backend {
	return newFileBackend(configFilePath())
}
