// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/crypto/hkdf"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/licensor/internal/domain"
)

const (
	envPrefix         = "LICENSOR__"
	encryptionKeySize = 32
	databaseFileName  = "licensor.db"
	appName           = "licensor"

	// vaultKeyInfo scopes the derived key so the secret can seed other keys later
	vaultKeyInfo = "licensor keyvault sealing key v1"
)

var ErrMissingVaultSecret = errors.New("vaultSecret is required")

// configKeys lists every key bound to an environment variable
var configKeys = []string{
	"host",
	"port",
	"baseUrl",
	"vaultSecret",
	"issuer",
	"logLevel",
	"logPath",
	"logMaxSize",
	"logMaxBackups",
	"dataDir",
	"metricsEnabled",
	"keys.algorithm",
	"keys.size",
	"licensing.defaultValidityDays",
	"activation.heartbeatStaleness",
	"activation.slotStaleness",
	"activation.sweepInterval",
	"httpTimeouts.readTimeout",
	"httpTimeouts.writeTimeout",
	"httpTimeouts.idleTimeout",
}

type AppConfig struct {
	Config *domain.Config

	viper      *viper.Viper
	configPath string
	dataDir    string

	mu        sync.RWMutex
	listeners []func(*domain.Config)
}

// New loads configuration from a directory or a direct path to a .toml file.
// A default config is written when none exists yet.
func New(configDirOrPath string) (*AppConfig, error) {
	c := &AppConfig{
		viper:  viper.New(),
		Config: &domain.Config{},
	}

	c.defaults()

	if configDirOrPath == "" {
		configDirOrPath = GetDefaultConfigDir()
	}
	c.configPath = c.resolveConfigPath(configDirOrPath)

	if err := WriteDefaultConfig(c.configPath); err != nil {
		return nil, fmt.Errorf("failed to write default config: %w", err)
	}

	c.viper.SetConfigFile(c.configPath)
	c.viper.SetConfigType("toml")
	if err := c.viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", c.configPath, err)
	}

	for _, key := range configKeys {
		if err := c.viper.BindEnv(key, envName(key)); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(c.Config); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("host", "localhost")
	c.viper.SetDefault("port", 7477)
	c.viper.SetDefault("baseUrl", "")
	c.viper.SetDefault("issuer", "licensor")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("keys.algorithm", "rsa")
	c.viper.SetDefault("keys.size", 2048)
	c.viper.SetDefault("licensing.defaultValidityDays", 365)
	c.viper.SetDefault("activation.heartbeatStaleness", "72h")
	c.viper.SetDefault("activation.slotStaleness", "15m")
	c.viper.SetDefault("activation.sweepInterval", "5m")
	c.viper.SetDefault("httpTimeouts.readTimeout", 60)
	c.viper.SetDefault("httpTimeouts.writeTimeout", 120)
	c.viper.SetDefault("httpTimeouts.idleTimeout", 180)
}

func validate(cfg *domain.Config) error {
	if strings.TrimSpace(cfg.VaultSecret) == "" {
		return ErrMissingVaultSecret
	}

	switch strings.ToLower(cfg.Keys.Algorithm) {
	case "rsa":
		if cfg.Keys.Size < 2048 {
			return fmt.Errorf("keys.size must be at least 2048 for rsa, got %d", cfg.Keys.Size)
		}
	case "ed25519":
	default:
		return fmt.Errorf("unsupported keys.algorithm %q", cfg.Keys.Algorithm)
	}

	if cfg.Licensing.DefaultValidityDays <= 0 {
		return fmt.Errorf("licensing.defaultValidityDays must be positive")
	}

	for name, value := range map[string]string{
		"activation.heartbeatStaleness": cfg.Activation.HeartbeatStaleness,
		"activation.slotStaleness":      cfg.Activation.SlotStaleness,
		"activation.sweepInterval":      cfg.Activation.SweepInterval,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	return nil
}

// resolveConfigPath accepts either a config directory or a direct file path
func (c *AppConfig) resolveConfigPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return path
	}

	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path
	}

	return filepath.Join(path, "config.toml")
}

// envName maps "activation.slotStaleness" to LICENSOR__ACTIVATION__SLOT_STALENESS
func envName(key string) string {
	parts := strings.Split(key, ".")
	for i, part := range parts {
		var b strings.Builder
		for j, r := range part {
			if unicode.IsUpper(r) && j > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToUpper(r))
		}
		parts[i] = b.String()
	}
	return envPrefix + strings.Join(parts, "__")
}

// SetDataDir overrides the data directory from the command line
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

func (c *AppConfig) ConfigPath() string {
	return c.configPath
}

// GetDatabasePath resolves the database location. Precedence is the
// --data-dir flag, then dataDir from env or file, then the config directory.
func (c *AppConfig) GetDatabasePath() string {
	if c.dataDir != "" {
		return filepath.Join(c.dataDir, databaseFileName)
	}

	if c.Config.DataDir != "" {
		return filepath.Join(c.Config.DataDir, databaseFileName)
	}

	return filepath.Join(filepath.Dir(c.configPath), databaseFileName)
}

// GetEncryptionKey derives the key vault sealing key from vaultSecret
func (c *AppConfig) GetEncryptionKey() []byte {
	c.mu.RLock()
	secret := c.Config.VaultSecret
	c.mu.RUnlock()

	key := make([]byte, encryptionKeySize)
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte(vaultKeyInfo))
	if _, err := io.ReadFull(reader, key); err != nil {
		// hkdf only fails past 255 * hash size bytes
		panic(fmt.Sprintf("failed to derive encryption key: %v", err))
	}

	return key
}

// HeartbeatStaleness is how long a device activation may go without a heartbeat
func (c *AppConfig) HeartbeatStaleness() time.Duration {
	return c.duration(func(cfg *domain.Config) string { return cfg.Activation.HeartbeatStaleness }, 72*time.Hour)
}

// SlotStaleness is how long a volumetric user slot may go without a heartbeat
func (c *AppConfig) SlotStaleness() time.Duration {
	return c.duration(func(cfg *domain.Config) string { return cfg.Activation.SlotStaleness }, 15*time.Minute)
}

func (c *AppConfig) SweepInterval() time.Duration {
	return c.duration(func(cfg *domain.Config) string { return cfg.Activation.SweepInterval }, 5*time.Minute)
}

func (c *AppConfig) duration(get func(*domain.Config) string, fallback time.Duration) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, err := time.ParseDuration(get(c.Config))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ApplyLogConfig sets the global zerolog level and output. Console output is
// kept when logging to a file so the service can still be followed live.
func (c *AppConfig) ApplyLogConfig() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	applyLogLevel(c.Config.LogLevel)

	if c.Config.LogPath == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(c.Config.LogPath), 0755); err != nil {
		log.Error().Err(err).Str("path", c.Config.LogPath).Msg("Failed to create log directory")
		return
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.ToSlash(c.Config.LogPath),
		MaxSize:    c.Config.LogMaxSize, // MB
		MaxBackups: c.Config.LogMaxBackups,
		Compress:   true,
	}

	log.Logger = log.Output(zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
		rotator,
	))
}

func applyLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// OnChange registers a callback run after the config file is reloaded
func (c *AppConfig) OnChange(fn func(*domain.Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// WatchConfig reloads the config file on change. Only values that are safe
// to swap at runtime are applied: log level and activation timings.
func (c *AppConfig) WatchConfig() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		next := &domain.Config{}
		if err := c.viper.Unmarshal(next); err != nil {
			log.Error().Err(err).Str("file", e.Name).Msg("Failed to reload config")
			return
		}
		if err := validate(next); err != nil {
			log.Error().Err(err).Str("file", e.Name).Msg("Ignoring invalid config change")
			return
		}

		c.mu.Lock()
		c.Config.LogLevel = next.LogLevel
		c.Config.Activation = next.Activation
		listeners := append([]func(*domain.Config){}, c.listeners...)
		snapshot := *c.Config
		c.mu.Unlock()

		applyLogLevel(next.LogLevel)
		log.Info().Str("file", e.Name).Msg("Config reloaded")

		for _, fn := range listeners {
			fn(&snapshot)
		}
	})
	c.viper.WatchConfig()
}

// GetDefaultConfigDir returns the OS specific config directory
func GetDefaultConfigDir() string {
	// Docker images mount the config volume at /config
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		if xdg == "/config" {
			return xdg
		}
		return filepath.Join(xdg, appName)
	}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", appName)
	}

	return filepath.Join(home, ".config", appName)
}

// WriteDefaultConfig writes a commented default config. An existing file is
// left untouched.
func WriteDefaultConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	secret, err := generateSecureToken(32)
	if err != nil {
		return fmt.Errorf("failed to generate vault secret: %w", err)
	}

	content := fmt.Sprintf(defaultConfigTemplate, secret)

	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Str("path", configPath).Msg("Created default config file")
	return nil
}

func generateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

const defaultConfigTemplate = `# config.toml - licensor

# Hostname / IP
# Default: "localhost"
host = "localhost"

# Port
# Default: 7477
port = 7477

# Base URL when served behind a reverse proxy under a subpath
#baseUrl = "/licensor/"

# Secret the private key sealing key is derived from.
# Changing it makes every stored private key unreadable.
vaultSecret = "%s"

# Issuer recorded on licenses issued through the API
#issuer = "licensor"

# Log level
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "INFO"

# Log file path, rotated by size. Console only when empty.
#logPath = "log/licensor.log"
#logMaxSize = 50
#logMaxBackups = 3

# Directory holding licensor.db. Defaults to the config directory.
#dataDir = ""

# Expose Prometheus metrics on /metrics
#metricsEnabled = false

[keys]
# Signature algorithm for new key pairs: "rsa" or "ed25519"
algorithm = "rsa"
# RSA modulus size in bits, at least 2048
size = 2048

[licensing]
# Validity applied when a request leaves validTo empty
defaultValidityDays = 365

[activation]
# Device activations without a heartbeat for this long become inactive
heartbeatStaleness = "72h"
# Volumetric user slots without a heartbeat for this long are released
slotStaleness = "15m"
# How often the stale activation sweep runs
sweepInterval = "5m"

[httpTimeouts]
# Seconds
readTimeout = 60
writeTimeout = 120
idleTimeout = 180
`
