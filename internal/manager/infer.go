package manager

import (
	"context"
	"strings"

	"github.com/maceip/rlitert-lm/internal/pool"
)

// RunCompletionStream acquires (or spawns) the model's worker and returns
// the chunk sequence for one prompt. The channel closes after the final
// chunk; a chunk with a non-nil Err terminates the turn. Cancelling ctx
// abandons the stream without poisoning the worker.
func (m *Manager) RunCompletionStream(ctx context.Context, model, prompt string) (<-chan pool.Chunk, error) {
	mdl, ok := m.reg.Resolve(model)
	if !ok || !mdl.Downloaded {
		return nil, ErrModelNotFound(model)
	}
	w, err := m.pool.Acquire(ctx, mdl.ID, mdl.Path)
	if err != nil {
		return nil, err
	}
	ch, err := w.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// RunCompletion is the buffered form: it collects the whole turn and returns
// the concatenated text.
func (m *Manager) RunCompletion(ctx context.Context, model, prompt string) (string, error) {
	ch, err := m.RunCompletionStream(ctx, model, prompt)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for c := range ch {
		if c.Err != nil {
			return b.String(), c.Err
		}
		b.WriteString(c.Text)
	}
	return b.String(), nil
}
