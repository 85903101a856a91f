// Package pool manages one inference worker process per model. Acquisition
// is serialized per model so concurrent requests never double-spawn; workers
// that fail are reaped and transparently respawned on the next acquire.
package pool

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/maceip/rlitert-lm/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultHandshakeTimeout = 120 * time.Second
	defaultDrainTimeout     = 5 * time.Second
	defaultMaxQueueDepth    = 32
	defaultMaxWait          = 30 * time.Second
)

// defaultBackends is the spawn preference order: GPU first, CPU fallback.
var defaultBackends = []string{"gpu", "cpu"}

// Config carries pool tunables.
type Config struct {
	// BinPath is the worker executable.
	BinPath string
	// Backends are tried in order until one spawns and handshakes.
	Backends []string
	// HandshakeTimeout bounds the wait for the readiness marker.
	HandshakeTimeout time.Duration
	// DrainTimeout bounds the drain-to-marker after an abandoned stream.
	DrainTimeout time.Duration
	// MaxQueueDepth and MaxWait shape per-worker admission.
	MaxQueueDepth int
	MaxWait       time.Duration
	Log           zerolog.Logger
}

// entry pairs a per-model spawn lock with the (at most one) live worker.
// The lock is a channel so waiting on it respects context cancellation.
type entry struct {
	lock chan struct{}
	w    *Worker
}

// Pool maps model id -> worker entry. The map has its own mutex, never held
// across a spawn; the per-entry lock serializes spawns for one model while
// different models proceed in parallel.
type Pool struct {
	cfg     Config
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// New constructs a pool, applying defaults for unset tunables.
func New(cfg Config) *Pool {
	if len(cfg.Backends) == 0 {
		cfg.Backends = defaultBackends
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = defaultMaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	return &Pool{cfg: cfg, entries: make(map[string]*entry)}
}

// Acquire returns the live worker for modelID, spawning one if needed. Two
// concurrent acquires for the same model result in exactly one spawn: the
// second waits on the per-model lock and reuses the first's worker.
func (p *Pool) Acquire(ctx context.Context, modelID, modelPath string) (*Worker, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool is shut down")
	}
	e := p.entries[modelID]
	if e == nil {
		e = &entry{lock: make(chan struct{}, 1)}
		p.entries[modelID] = e
	}
	p.mu.Unlock()

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.lock }()

	if cur := p.getWorker(e); cur != nil {
		if cur.Alive() {
			return cur, nil
		}
		// Reap the dead worker before respawning.
		cur.stop()
		p.setWorker(e, nil)
		workersGauge.Dec()
	}

	w, err := p.spawn(ctx, modelID, modelPath)
	if err != nil {
		return nil, err
	}
	p.setWorker(e, w)
	workersGauge.Inc()
	return w, nil
}

// getWorker and setWorker guard the entry's worker pointer with the pool
// mutex; the per-entry lock only serializes spawns.
func (p *Pool) getWorker(e *entry) *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return e.w
}

func (p *Pool) setWorker(e *entry, w *Worker) {
	p.mu.Lock()
	e.w = w
	p.mu.Unlock()
}

// spawn tries each configured backend in order. Spawn failure is surfaced to
// the caller; the pool never retries on its own.
func (p *Pool) spawn(ctx context.Context, modelID, modelPath string) (*Worker, error) {
	var lastErr error
	for _, backend := range p.cfg.Backends {
		w, err := p.spawnBackend(ctx, modelID, modelPath, backend)
		if err == nil {
			spawnsTotal.WithLabelValues(backend).Inc()
			return w, nil
		}
		lastErr = err
		p.cfg.Log.Warn().Str("model", modelID).Str("backend", backend).Err(err).Msg("spawn failed")
		spawnFailuresTotal.WithLabelValues(backend).Inc()
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (p *Pool) spawnBackend(ctx context.Context, modelID, modelPath, backend string) (*Worker, error) {
	cmd := exec.Command(p.cfg.BinPath, "run", modelPath, "--backend", backend)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errSpawn{model: modelID, cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errSpawn{model: modelID, cause: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errSpawn{model: modelID, cause: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, errSpawn{model: modelID, cause: err}
	}
	p.cfg.Log.Info().Str("model", modelID).Str("backend", backend).Int("pid", cmd.Process.Pid).Msg("worker spawned")

	w := &Worker{
		modelID:      modelID,
		backend:      backend,
		cmd:          cmd,
		stdin:        stdin,
		stdout:       stdout,
		reaped:       make(chan struct{}),
		genCh:        make(chan struct{}, 1),
		queueCh:      make(chan struct{}, p.cfg.MaxQueueDepth),
		maxWait:      p.cfg.MaxWait,
		drainTimeout: p.cfg.DrainTimeout,
		log:          p.cfg.Log,
	}

	// Drain stderr for the life of the process.
	go func() {
		buf := make([]byte, 1024)
		for {
			n, rerr := stderr.Read(buf)
			if n > 0 {
				p.cfg.Log.Debug().Str("model", modelID).Msg("worker stderr: " + string(buf[:n]))
			}
			if rerr != nil {
				return
			}
		}
	}()
	// Reap the process exactly once when it exits; stop waits on reaped
	// instead of calling Wait a second time.
	go func() {
		_ = cmd.Wait()
		close(w.reaped)
	}()

	if err := w.handshake(ctx, p.cfg.HandshakeTimeout); err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.alive = true
	w.lastUsed = time.Now()
	w.mu.Unlock()
	return w, nil
}

// ReleaseOnError marks w dead so the next acquire respawns. The entry itself
// is left in place; Acquire reaps it under the per-model lock.
func (p *Pool) ReleaseOnError(w *Worker) {
	if w == nil {
		return
	}
	w.markDead()
}

// Remove stops and forgets the worker for modelID, if any. Returns whether a
// worker existed.
func (p *Pool) Remove(modelID string) bool {
	p.mu.Lock()
	e := p.entries[modelID]
	if e != nil {
		delete(p.entries, modelID)
	}
	p.mu.Unlock()
	if e == nil {
		return false
	}
	// Serialize with any in-flight spawn for this model.
	e.lock <- struct{}{}
	defer func() { <-e.lock }()
	w := p.getWorker(e)
	if w == nil {
		return false
	}
	w.stop()
	p.setWorker(e, nil)
	workersGauge.Dec()
	p.cfg.Log.Info().Str("model", modelID).Msg("worker removed")
	return true
}

// Workers reports the current handles for /status.
func (p *Pool) Workers() []types.WorkerStatus {
	p.mu.Lock()
	entries := make([]*entry, 0, len(p.entries))
	ids := make([]string, 0, len(p.entries))
	for id, e := range p.entries {
		entries = append(entries, e)
		ids = append(ids, id)
	}
	p.mu.Unlock()

	out := make([]types.WorkerStatus, 0, len(entries))
	for i, e := range entries {
		w := p.getWorker(e)
		if w == nil {
			continue
		}
		w.mu.Lock()
		st := types.WorkerStatus{
			ModelID:  ids[i],
			Alive:    w.alive,
			PID:      w.PID(),
			LastUsed: w.lastUsed.Unix(),
			QueueLen: len(w.queueCh),
			Inflight: len(w.genCh),
		}
		w.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// Shutdown terminates every owned worker. No orphaned processes survive.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for id, e := range entries {
		wg.Add(1)
		go func(id string, e *entry) {
			defer wg.Done()
			e.lock <- struct{}{}
			defer func() { <-e.lock }()
			if w := p.getWorker(e); w != nil {
				w.stop()
				p.setWorker(e, nil)
				workersGauge.Dec()
			}
		}(id, e)
	}
	wg.Wait()
	p.cfg.Log.Info().Msg("pool shut down")
}
