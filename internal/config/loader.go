package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"tether/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/tether"
	configFileName = "config.yaml"

	vaultFileName    = "auth.json"
	identityFileName = "vault.key"
	sessionsDirName  = "sessions"
)

func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads config.yaml from configPath, falling back to defaults
// when the file does not exist. Relative paths in the file are resolved
// against configPath and the result is validated.
func LoadConfig(configPath string) (TetherConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return TetherConfig{}, fmt.Errorf("error reading config from %s: %w", configFilePath, err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return TetherConfig{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Debug("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	config.resolvePaths(configPath)
	if err := config.Validate(); err != nil {
		return TetherConfig{}, fmt.Errorf("invalid config %s: %w", configFilePath, err)
	}
	return config, nil
}

// SaveConfig writes config to <configPath>/config.yaml.
func SaveConfig(configPath string, config TetherConfig) error {
	if err := os.MkdirAll(configPath, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(&config)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(filepath.Join(configPath, configFileName), data, 0o600)
}

func (c *TetherConfig) resolvePaths(configPath string) {
	c.Vault.Path = resolve(configPath, c.Vault.Path, vaultFileName)
	c.Vault.IdentityPath = resolve(configPath, c.Vault.IdentityPath, identityFileName)
	if c.Session.TranscriptDir != TranscriptsDisabled {
		c.Session.TranscriptDir = resolve(configPath, c.Session.TranscriptDir, sessionsDirName)
	}
}

func resolve(base, path, fallback string) string {
	if path == "" {
		return filepath.Join(base, fallback)
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
