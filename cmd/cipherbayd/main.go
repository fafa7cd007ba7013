package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"cipherbay/config"
	"cipherbay/core/events"
	"cipherbay/core/state"
	"cipherbay/crypto"
	"cipherbay/native/marketplace"
	"cipherbay/native/token"
	"cipherbay/observability/logging"
	"cipherbay/rpc"
	"cipherbay/storage"
)

const genesisSupplyEnv = "CIPHERBAY_GENESIS_SUPPLY"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("cipherbayd", logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	engine := marketplace.NewEngine()
	engine.SetState(state.NewManager(db))
	engine.SetEmitter(&events.LogEmitter{Logger: logger})

	port := token.NewToken(engine.Vault())
	if err := engine.Initialize(port); err != nil {
		logger.Error("failed to initialize marketplace engine", slog.Any("error", err))
		os.Exit(1)
	}
	seedGenesisSupply(cfg, port, logger)

	vaultBytes := engine.Vault()
	logger.Info("marketplace engine ready",
		slog.String("vault", crypto.NewAddress(crypto.CBPrefix, vaultBytes[:]).String()),
		slog.String("data_dir", cfg.DataDir))

	server := rpc.NewServer(engine, logger)
	timeouts := rpc.Timeouts{
		ReadHeader: cfg.RPCReadHeaderTimeout,
		Read:       cfg.RPCReadTimeout,
		Write:      cfg.RPCWriteTimeout,
		Idle:       cfg.RPCIdleTimeout,
	}
	if err := server.Start(cfg.RPCAddress, timeouts); err != nil {
		logger.Error("JSON-RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// seedGenesisSupply mints an initial balance to the configured operator when
// both the operator key and a supply amount are present. Useful for local and
// demo deployments; production ports ignore the reference token entirely.
func seedGenesisSupply(cfg *config.Config, port *token.Token, logger *slog.Logger) {
	raw := strings.TrimSpace(os.Getenv(genesisSupplyEnv))
	if raw == "" {
		return
	}
	supply, ok := new(big.Int).SetString(raw, 10)
	if !ok || supply.Sign() <= 0 {
		logger.Warn("ignoring malformed genesis supply", slog.String("value", raw))
		return
	}
	operator, err := cfg.OperatorAddress()
	if err != nil {
		logger.Warn("genesis supply set but no operator key", slog.Any("error", err))
		return
	}
	port.Mint(operator, supply)
	logger.Info("seeded genesis supply",
		slog.String("operator", crypto.NewAddress(crypto.CBPrefix, operator[:]).String()),
		slog.String("amount", supply.String()))
}
