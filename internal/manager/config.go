package manager

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/maceip/rlitert-lm/internal/broker"
	"github.com/maceip/rlitert-lm/internal/download"
	"github.com/maceip/rlitert-lm/internal/pool"
	"github.com/maceip/rlitert-lm/internal/registry"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultHandshake     = 120 * time.Second
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Registry *registry.Registry
	// BinPath is the litert worker executable.
	BinPath string
	// Backends override the gpu-then-cpu spawn order.
	Backends         []string
	HandshakeTimeout time.Duration
	DrainTimeout     time.Duration
	MaxQueueDepth    int
	MaxWait          time.Duration
	// Fetcher overrides the HTTP artifact fetcher (tests do).
	Fetcher download.Fetcher
	// Publisher receives lifecycle events; nil means drop them.
	Publisher EventPublisher
	Log       zerolog.Logger
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = defaultMaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshake
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = download.NewHTTPFetcher(cfg.Log)
	}

	b := broker.New(cfg.Log)
	m := &Manager{
		cfg:     cfg,
		reg:     cfg.Registry,
		broker:  b,
		tracker: download.New(b, cfg.Fetcher, cfg.Log),
		pool: pool.New(pool.Config{
			BinPath:          cfg.BinPath,
			Backends:         cfg.Backends,
			HandshakeTimeout: cfg.HandshakeTimeout,
			DrainTimeout:     cfg.DrainTimeout,
			MaxQueueDepth:    cfg.MaxQueueDepth,
			MaxWait:          cfg.MaxWait,
			Log:              cfg.Log,
		}),
		pub:       cfg.Publisher,
		log:       cfg.Log,
		startTime: time.Now(),
	}
	return m
}
