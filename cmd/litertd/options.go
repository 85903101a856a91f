package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/maceip/rlitert-lm/internal/binary"
	"github.com/maceip/rlitert-lm/internal/config"
	"github.com/maceip/rlitert-lm/internal/manager"
	"github.com/maceip/rlitert-lm/internal/registry"
)

const defaultModelsDir = "~/models/litert"

// cliOptions carries persistent flag values; resolve() folds in the config
// file and environment. Precedence: flag > env > config file > default.
type cliOptions struct {
	configPath string
	modelsDir  string
	workerBin  string
	logLevel   string
	addr       string
}

func (o *cliOptions) resolve() (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		var err error
		cfg, err = config.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
	}
	applyString(&cfg.Addr, o.addr, os.Getenv("LITERTD_ADDR"), ":8080")
	applyString(&cfg.ModelsDir, o.modelsDir, os.Getenv("LITERTD_MODELS_DIR"), defaultModelsDir)
	applyString(&cfg.WorkerBin, o.workerBin, os.Getenv("LITERTD_BINARY"), "")
	applyString(&cfg.LogLevel, o.logLevel, os.Getenv("LITERTD_LOG_LEVEL"), "info")
	return cfg, nil
}

// applyString sets dst from the first non-empty of flag, env, the already
// loaded config value, then the default.
func applyString(dst *string, flag, env, def string) {
	switch {
	case flag != "":
		*dst = flag
	case env != "":
		*dst = env
	case *dst == "":
		*dst = def
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// buildManager assembles the coordinator from resolved config: registry
// load, worker binary resolution, then the manager itself.
func buildManager(ctx context.Context, cfg config.Config, log zerolog.Logger) (*manager.Manager, error) {
	reg, err := registry.Load(cfg.ModelsDir, cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	bin, err := binary.New(log).Ensure(ctx, cfg.WorkerBin)
	if err != nil {
		return nil, err
	}
	return manager.NewWithConfig(manager.ManagerConfig{
		Registry:         reg,
		BinPath:          bin,
		HandshakeTimeout: time.Duration(cfg.HandshakeSec) * time.Second,
		MaxQueueDepth:    cfg.MaxQueueDepth,
		Log:              log,
	}), nil
}
