package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"cipherbay/crypto"
)

func TestLoadParsesSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `RPCAddress = "0.0.0.0:9000"
DataDir = "./data"
OperatorKeyEnv = "TEST_OPERATOR_KEY"
RPCReadHeaderTimeout = 6
RPCReadTimeout = 20
RPCWriteTimeout = 18
RPCIdleTimeout = 45

[log]
Level = "debug"
Format = "text"
File = "./cipherbay.log"
MaxSizeMB = 10
MaxBackups = 5
MaxAgeDays = 7
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.RPCAddress != "0.0.0.0:9000" || cfg.DataDir != "./data" {
		t.Fatalf("unexpected endpoints: %+v", cfg)
	}
	if cfg.OperatorKeyEnv != "TEST_OPERATOR_KEY" {
		t.Fatalf("unexpected operator env: %s", cfg.OperatorKeyEnv)
	}
	if cfg.RPCReadHeaderTimeout != 6 || cfg.RPCReadTimeout != 20 {
		t.Fatalf("unexpected read timeouts: %d/%d", cfg.RPCReadHeaderTimeout, cfg.RPCReadTimeout)
	}
	if cfg.RPCWriteTimeout != 18 || cfg.RPCIdleTimeout != 45 {
		t.Fatalf("unexpected write/idle timeouts: %d/%d", cfg.RPCWriteTimeout, cfg.RPCIdleTimeout)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Fatalf("unexpected log settings: %+v", cfg.Log)
	}
	if cfg.Log.File != "./cipherbay.log" || cfg.Log.MaxSizeMB != 10 {
		t.Fatalf("unexpected log file settings: %+v", cfg.Log)
	}
	if cfg.Log.MaxBackups != 5 || cfg.Log.MaxAgeDays != 7 {
		t.Fatalf("unexpected log retention: %+v", cfg.Log)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("DataDir = \"./custom\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.RPCAddress != ":8545" {
		t.Fatalf("unexpected default rpc address: %s", cfg.RPCAddress)
	}
	if cfg.DataDir != "./custom" {
		t.Fatalf("explicit data dir lost: %s", cfg.DataDir)
	}
	if cfg.OperatorKeyEnv != "CIPHERBAY_OPERATOR_KEY" {
		t.Fatalf("unexpected default operator env: %s", cfg.OperatorKeyEnv)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected default log settings: %+v", cfg.Log)
	}
	if cfg.Log.MaxSizeMB != 100 || cfg.Log.MaxBackups != 3 || cfg.Log.MaxAgeDays != 28 {
		t.Fatalf("unexpected default log retention: %+v", cfg.Log)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RPCAddress != ":8545" || cfg.DataDir != "./cipherbay-data" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file was not written: %v", err)
	}

	// A second load reads the file that was just written.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if again.RPCAddress != cfg.RPCAddress || again.DataDir != cfg.DataDir {
		t.Fatalf("reload mismatch: %+v vs %+v", again, cfg)
	}
}

func TestLoadRejectsBadLogSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := "[log]\nLevel = \"loud\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected rejection of unknown log level")
	}

	contents = "[log]\nFormat = \"xml\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected rejection of unknown log format")
	}
}

func TestOperatorAddress(t *testing.T) {
	cfg := &Config{OperatorKeyEnv: "CIPHERBAY_TEST_OPERATOR_KEY"}

	if _, err := cfg.OperatorAddress(); err == nil {
		t.Fatal("expected error when the key variable is unset")
	}

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	t.Setenv(cfg.OperatorKeyEnv, "0x"+hex.EncodeToString(key.Bytes()))

	addr, err := cfg.OperatorAddress()
	if err != nil {
		t.Fatalf("operator address: %v", err)
	}
	want := key.PubKey().Address().Array()
	if addr != want {
		t.Fatalf("derived address mismatch: %x vs %x", addr, want)
	}

	t.Setenv(cfg.OperatorKeyEnv, "not-hex")
	if _, err := cfg.OperatorAddress(); err == nil {
		t.Fatal("expected error for malformed key material")
	}
}
