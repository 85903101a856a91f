// Package download tracks model pull state and reports progress. The tracker
// owns the model -> state map; every transition is pushed to the broker
// synchronously with the state change, before the fetch loop proceeds.
package download

import (
	"context"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/maceip/rlitert-lm/internal/broker"
	"github.com/maceip/rlitert-lm/pkg/types"
)

// Update is one progress report from a Fetcher. The final update of a failed
// fetch carries Err; the channel closes after the last update.
type Update struct {
	Percent    float64
	BytesDone  int64
	BytesTotal int64
	Err        error
}

// PullOptions carries optional credentials for gated artifacts.
type PullOptions struct {
	Token string
}

// Fetcher is the externally supplied transfer routine. The tracker only
// consumes its update stream and never knows how bytes move.
type Fetcher interface {
	Fetch(ctx context.Context, m types.Model, dest string, opts PullOptions) (<-chan Update, error)
}

// Tracker is the per-model download state machine.
type Tracker struct {
	mu      sync.Mutex
	states  map[string]types.DownloadEvent
	active  map[string]struct{}
	broker  *broker.Broker
	fetcher Fetcher
	log     zerolog.Logger
}

// New constructs a tracker publishing transitions to b.
func New(b *broker.Broker, f Fetcher, log zerolog.Logger) *Tracker {
	return &Tracker{
		states:  make(map[string]types.DownloadEvent),
		active:  make(map[string]struct{}),
		broker:  b,
		fetcher: f,
		log:     log,
	}
}

// State returns the latest known state for model, defaulting to not_started.
func (t *Tracker) State(model string) types.DownloadEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev, ok := t.states[model]; ok {
		return ev
	}
	return types.DownloadEvent{Model: model, State: types.DownloadNotStarted}
}

// States returns all models that have seen a pull.
func (t *Tracker) States() []types.DownloadEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.DownloadEvent, 0, len(t.states))
	for _, ev := range t.states {
		out = append(out, ev)
	}
	return out
}

// Reset clears a model's state back to not_started. Used after removal.
func (t *Tracker) Reset(model string) {
	t.mu.Lock()
	delete(t.states, model)
	t.mu.Unlock()
}

// Begin reserves the model's pull slot. It fails when a pull for the model
// is already in flight, without touching the recorded state. Callers that
// reserve must follow up with Run, which releases the slot on return.
func (t *Tracker) Begin(model string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.active[model]; busy {
		return errPullInProgress{model: model}
	}
	t.active[model] = struct{}{}
	return nil
}

// StartPull runs one pull attempt to completion. It blocks until the fetch
// reaches a terminal state and returns nil on complete or a download error
// on failure. A second pull for the same model while one is in flight is
// rejected. A pull on a completed or failed model starts over.
func (t *Tracker) StartPull(ctx context.Context, m types.Model, dest string, opts PullOptions) error {
	if err := t.Begin(m.ID); err != nil {
		return err
	}
	return t.Run(ctx, m, dest, opts)
}

// Run executes a pull whose slot was reserved with Begin, releasing the slot
// when the attempt reaches a terminal state.
func (t *Tracker) Run(ctx context.Context, m types.Model, dest string, opts PullOptions) error {
	defer func() {
		t.mu.Lock()
		delete(t.active, m.ID)
		t.mu.Unlock()
	}()

	t.log.Info().Str("model", m.ID).Str("dest", dest).Msg("pull start")
	t.transition(types.DownloadEvent{Model: m.ID, State: types.DownloadInProgress, Progress: 0})

	updates, err := t.fetcher.Fetch(ctx, m, dest, opts)
	if err != nil {
		return t.fail(m.ID, err)
	}

	var fetchErr error
	for u := range updates {
		if u.Err != nil {
			fetchErr = u.Err
			continue
		}
		t.transition(types.DownloadEvent{
			Model:      m.ID,
			State:      types.DownloadInProgress,
			Progress:   u.Percent,
			BytesDone:  u.BytesDone,
			BytesTotal: u.BytesTotal,
		})
	}

	if fetchErr == nil && ctx.Err() != nil {
		fetchErr = ctx.Err()
	}
	if fetchErr != nil {
		// Partial artifact policy: drop it so the next attempt starts clean.
		_ = os.Remove(dest + partialSuffix)
		return t.fail(m.ID, fetchErr)
	}

	last := t.State(m.ID)
	t.transition(types.DownloadEvent{
		Model:      m.ID,
		State:      types.DownloadComplete,
		Progress:   100,
		BytesDone:  last.BytesDone,
		BytesTotal: last.BytesTotal,
	})
	t.log.Info().Str("model", m.ID).Msg("pull complete")
	return nil
}

func (t *Tracker) fail(model string, cause error) error {
	err := errDownloadFailed{model: model, cause: cause}
	t.transition(types.DownloadEvent{
		Model: model,
		State: types.DownloadFailed,
		Error: cause.Error(),
	})
	t.log.Warn().Str("model", model).Err(cause).Msg("pull failed")
	return err
}

// transition records the state change and pushes it to the broker before
// returning. Progress within one attempt never decreases: a regressing
// update is clamped to the last seen value. The broker is called with the
// tracker lock released.
func (t *Tracker) transition(ev types.DownloadEvent) {
	t.mu.Lock()
	if prev, ok := t.states[ev.Model]; ok &&
		prev.State == types.DownloadInProgress && ev.State == types.DownloadInProgress &&
		ev.Progress < prev.Progress {
		ev.Progress = prev.Progress
		ev.BytesDone = prev.BytesDone
	}
	t.states[ev.Model] = ev
	t.mu.Unlock()

	if ev.State.Terminal() {
		downloadsTotal.WithLabelValues(string(ev.State)).Inc()
	}
	t.broker.Publish(ev.Model, ev)
}
