package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/felixgeelhaar/bolt/v3"

	"agencyhub/internal/config"
	"agencyhub/internal/db"
	"agencyhub/internal/engine"
	"agencyhub/internal/logging"
	"agencyhub/internal/migrate"
)

// Overrides are flag or environment values layered over agency.yml.
// Empty fields keep the file value.
type Overrides struct {
	ConfigPath string
	Timezone   string
	LogLevel   string
	LogFormat  string
}

// ResolveConfig loads agency.yml from the workspace (or ConfigPath), falls
// back to defaults when no file exists, and applies overrides.
func ResolveConfig(workspace string, o Overrides) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.ConfigPath != "" {
		cfg, err = config.FromFile(o.ConfigPath)
	} else {
		cfg, err = config.LoadOptional(workspace)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if tz := strings.TrimSpace(o.Timezone); tz != "" {
		cfg.Rhythm.Timezone = tz
	}
	if lvl := strings.TrimSpace(o.LogLevel); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if f := strings.TrimSpace(o.LogFormat); f != "" {
		cfg.Logging.Format = f
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InitLogging installs the process logger described by cfg.
func InitLogging(cfg *config.Config) *bolt.Logger {
	lc := logging.DefaultConfig()
	if cfg != nil {
		lc.Level = cfg.Logging.Level
		lc.Format = cfg.Logging.Format
	}
	lc.Output = os.Stderr
	return logging.Init(lc)
}

// OpenWorkspace opens the workspace database and applies pending migrations.
func OpenWorkspace(ctx context.Context, workspace, dbPath string) (*sql.DB, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace, Path: dbPath})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

// NewEngine builds an engine bound to conn with the process logger.
func NewEngine(conn *sql.DB, cfg *config.Config, logger *bolt.Logger) engine.Engine {
	e := engine.New(conn, cfg)
	e.Logger = logger
	return e
}
