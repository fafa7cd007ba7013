package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"cipherbay/crypto"
)

// Config carries the daemon settings. Every field can be overridden in the
// TOML file; missing fields fall back to the defaults below.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	DataDir        string `toml:"DataDir"`
	OperatorKeyEnv string `toml:"OperatorKeyEnv"`

	RPCReadHeaderTimeout int `toml:"RPCReadHeaderTimeout"`
	RPCReadTimeout       int `toml:"RPCReadTimeout"`
	RPCWriteTimeout      int `toml:"RPCWriteTimeout"`
	RPCIdleTimeout       int `toml:"RPCIdleTimeout"`

	Log LogConfig `toml:"log"`
}

// LogConfig controls structured log output. When File is set the daemon
// writes rotated JSON logs there in addition to stderr.
type LogConfig struct {
	Level      string `toml:"Level"`
	Format     string `toml:"Format"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Load reads the configuration from path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./cipherbay-data"
	}
	if strings.TrimSpace(c.OperatorKeyEnv) == "" {
		c.OperatorKeyEnv = "CIPHERBAY_OPERATOR_KEY"
	}
	if c.RPCReadHeaderTimeout <= 0 {
		c.RPCReadHeaderTimeout = 5
	}
	if c.RPCReadTimeout <= 0 {
		c.RPCReadTimeout = 15
	}
	if c.RPCWriteTimeout <= 0 {
		c.RPCWriteTimeout = 15
	}
	if c.RPCIdleTimeout <= 0 {
		c.RPCIdleTimeout = 60
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "info"
	}
	if strings.TrimSpace(c.Log.Format) == "" {
		c.Log.Format = "json"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = 28
	}
}

// Validate rejects settings that would make the daemon misbehave at runtime.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// OperatorAddress resolves the custody operator address from the configured
// environment variable. The variable holds a hex-encoded secp256k1 private
// key; the derived address owns the reference token supply and the vault
// pulls escrow through its allowance machinery.
func (c *Config) OperatorAddress() ([20]byte, error) {
	var addr [20]byte
	raw := strings.TrimSpace(os.Getenv(c.OperatorKeyEnv))
	if raw == "" {
		return addr, fmt.Errorf("config: environment variable %s is not set", c.OperatorKeyEnv)
	}
	key, err := crypto.PrivateKeyFromHex(raw)
	if err != nil {
		return addr, fmt.Errorf("config: decode operator key: %w", err)
	}
	copy(addr[:], key.PubKey().Address().Bytes())
	return addr, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
