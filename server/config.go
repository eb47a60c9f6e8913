package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/decred/slog"
)

// Config is read from the environment after .env has been loaded.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Network      string `env:"SUI_NETWORK"`
	NetworksFile string `env:"NETWORKS_FILE"`
	RPCURL       string `env:"SUI_RPC_URL"`
	ExplorerURL  string `env:"SUI_EXPLORER_URL"`
	PackageID    string `env:"CONTRACT_PACKAGE_ID"`
	CatalogFile  string `env:"CARD_CATALOG_FILE"`

	SignerURL   string `env:"SIGNER_URL" envDefault:"http://127.0.0.1:9123"`
	SignerToken string `env:"SIGNER_TOKEN"`
	Account     string `env:"ACCOUNT_ADDRESS"`
	Opponent    string `env:"OPPONENT_ADDRESS"`

	RPCTimeout     time.Duration `env:"RPC_TIMEOUT" envDefault:"15s"`
	SubmitTimeout  time.Duration `env:"SUBMIT_TIMEOUT" envDefault:"60s"`
	ActionTimeout  time.Duration `env:"ACTION_TIMEOUT" envDefault:"45s"`
	ResolveTries   int           `env:"RESOLVE_ATTEMPTS" envDefault:"5"`
	ResolveDelay   time.Duration `env:"RESOLVE_BASE_DELAY" envDefault:"500ms"`
	ResolveElapsed time.Duration `env:"RESOLVE_MAX_ELAPSED" envDefault:"15s"`

	DatabaseURL string `env:"DATABASE_URL"`
	AutoMigrate bool   `env:"AUTO_MIGRATE"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if _, ok := slog.LevelFromString(c.LogLevel); !ok {
		return fmt.Errorf("LOG_LEVEL %q is not a log level", c.LogLevel)
	}
	if c.ResolveTries < 1 {
		return fmt.Errorf("RESOLVE_ATTEMPTS must be at least 1, got %d", c.ResolveTries)
	}
	if c.ResolveDelay <= 0 || c.ResolveElapsed <= 0 {
		return fmt.Errorf("resolve delays must be positive")
	}
	return nil
}

// subsystem tags
const (
	tagArena   = "ARNA"
	tagChain   = "CHAN"
	tagTxn     = "TXN"
	tagEffects = "EFCT"
	tagSession = "SESS"
	tagHTTP    = "HTTP"
	tagStore   = "STOR"
)

type loggers struct {
	backend *slog.Backend
	level   slog.Level
}

func newLoggers(level string) loggers {
	lvl, ok := slog.LevelFromString(level)
	if !ok {
		lvl = slog.LevelInfo
	}
	return loggers{backend: slog.NewBackend(os.Stdout), level: lvl}
}

func (l loggers) get(tag string) slog.Logger {
	log := l.backend.Logger(tag)
	log.SetLevel(l.level)
	return log
}
