package pool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// promptMarker is the worker's readiness/end-of-turn sentinel. The worker
// prints it once the model is loaded and again after each completed turn.
const promptMarker = ">>>"

// markerHoldback is the longest tail that could still turn out to be part of
// an end-of-turn marker ("\n>>>"); incremental emission withholds that many
// bytes until more output arrives.
const markerHoldback = 4

// maxTurnBytes bounds a single turn's output. Exceeding it is treated as a
// protocol violation, not an allocation hazard.
const maxTurnBytes = 16 << 20

// Chunk is one unit of completion output. A non-nil Err terminates the
// sequence; the channel closes after the last chunk.
type Chunk struct {
	Text string
	Err  error
}

// Worker owns one spawned inference process for one model: its pipes, its
// liveness flag, and the single-in-flight admission slots. The pool is the
// sole creator and remover of workers.
type Worker struct {
	modelID string
	backend string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	// reaped is closed by the pool's reaper goroutine once cmd.Wait
	// returns; it is the only way to wait for process exit, since a
	// second Wait on the same process is not allowed.
	reaped chan struct{}

	mu       sync.Mutex
	alive    bool
	lastUsed time.Time

	genCh   chan struct{} // size 1: single in-flight generation
	queueCh chan struct{} // buffered: queue slots

	maxWait      time.Duration
	drainTimeout time.Duration
	log          zerolog.Logger
}

// ModelID returns the model this worker serves.
func (w *Worker) ModelID() string { return w.modelID }

// PID returns the worker's OS process id.
func (w *Worker) PID() int {
	if w.cmd != nil && w.cmd.Process != nil {
		return w.cmd.Process.Pid
	}
	return 0
}

// Alive reports whether the worker passed its handshake and has not failed.
func (w *Worker) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alive
}

// markDead flags the worker unusable and kills the process so any blocked
// read unblocks. Idempotent.
func (w *Worker) markDead() {
	w.mu.Lock()
	wasAlive := w.alive
	w.alive = false
	w.mu.Unlock()
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	_ = w.stdin.Close()
	if wasAlive {
		workerFailuresTotal.Inc()
	}
}

// stop terminates the process, SIGTERM first, then kill after a short grace.
func (w *Worker) stop() {
	w.mu.Lock()
	w.alive = false
	w.mu.Unlock()
	_ = w.stdin.Close()
	if w.cmd == nil || w.cmd.Process == nil {
		return
	}
	_ = w.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-w.reaped:
	case <-time.After(2 * time.Second):
		_ = w.cmd.Process.Kill()
		<-w.reaped
	}
}

// handshake reads stdout until the prompt marker appears. A watchdog kills
// the process on timeout or caller cancellation so the blocking read always
// unblocks. Any error text or EOF before the marker fails the spawn.
func (w *Worker) handshake(ctx context.Context, timeout time.Duration) error {
	done := make(chan struct{})
	defer close(done)
	var timedOut, cancelled bool
	var wdMu sync.Mutex
	go func() {
		select {
		case <-time.After(timeout):
			wdMu.Lock()
			timedOut = true
			wdMu.Unlock()
			w.markDead()
		case <-ctx.Done():
			wdMu.Lock()
			cancelled = true
			wdMu.Unlock()
			w.markDead()
		case <-done:
		}
	}()

	var buf []byte
	tmp := make([]byte, 1024)
	for {
		n, err := w.stdout.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			text := string(buf)
			if strings.Contains(text, promptMarker) {
				w.log.Debug().Str("model", w.modelID).Str("backend", w.backend).Msg("worker ready")
				return nil
			}
			if containsErrorText(text) {
				w.markDead()
				return errSpawn{model: w.modelID, cause: fmt.Errorf("worker reported: %s", strings.TrimSpace(text))}
			}
			if len(buf) > maxTurnBytes {
				w.markDead()
				return errProtocol{model: w.modelID, cause: fmt.Errorf("handshake output exceeded %d bytes", maxTurnBytes)}
			}
			continue
		}
		if err != nil {
			wdMu.Lock()
			to, ca := timedOut, cancelled
			wdMu.Unlock()
			switch {
			case to:
				return errSpawn{model: w.modelID, cause: fmt.Errorf("handshake timed out after %s", timeout)}
			case ca:
				return errSpawn{model: w.modelID, cause: ctx.Err()}
			default:
				w.markDead()
				return errSpawn{model: w.modelID, cause: fmt.Errorf("worker exited during handshake: %v", err)}
			}
		}
	}
}

func containsErrorText(s string) bool {
	return strings.Contains(s, "Error") || strings.Contains(s, "error:") || strings.Contains(s, "failed")
}

// Complete writes one prompt and returns the lazy chunk sequence for this
// single caller. Admission is a bounded FIFO queue in front of a single
// in-flight generation slot. If the caller abandons the sequence before the
// end-of-turn marker, the reader drains to the marker within a bounded
// timeout or marks the worker dead for respawn.
func (w *Worker) Complete(ctx context.Context, prompt string) (<-chan Chunk, error) {
	release, err := w.beginTurn(ctx)
	if err != nil {
		return nil, err
	}
	if !w.Alive() {
		release()
		return nil, errCrashed{model: w.modelID, cause: fmt.Errorf("worker is not alive")}
	}

	// Prompts are single frames; embedded newlines would be read by the
	// worker as extra turns.
	line := strings.ReplaceAll(prompt, "\n", " ")
	if _, err := io.WriteString(w.stdin, line+"\n"); err != nil {
		release()
		w.markDead()
		return nil, errCrashed{model: w.modelID, cause: fmt.Errorf("write prompt: %w", err)}
	}

	ch := make(chan Chunk, 64)
	go w.readTurn(ctx, ch, release)
	return ch, nil
}

// beginTurn reserves a queue slot and then the in-flight slot, the same
// two-stage admission the daemon applies everywhere. Returns a release func.
func (w *Worker) beginTurn(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timer := time.NewTimer(w.maxWait)
	defer timer.Stop()
	select {
	case w.queueCh <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errTooBusy{model: w.modelID}
	}

	acquired := false
	defer func() {
		if !acquired {
			<-w.queueCh
		}
	}()
	timer2 := time.NewTimer(w.maxWait)
	defer timer2.Stop()
	select {
	case w.genCh <- struct{}{}:
		acquired = true
		w.mu.Lock()
		w.lastUsed = time.Now()
		w.mu.Unlock()
		return func() { <-w.genCh; <-w.queueCh }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer2.C:
		return nil, errTooBusy{model: w.modelID}
	}
}

// readTurn owns stdout until the end-of-turn marker. It forwards output to
// the single consumer; once the consumer is gone it keeps reading (drain)
// with a kill-timer so a wedged worker cannot be leaked.
func (w *Worker) readTurn(ctx context.Context, ch chan<- Chunk, release func()) {
	defer close(ch)
	defer release()

	var buf []byte
	emitted := 0
	draining := false
	var drainTimer *time.Timer
	defer func() {
		if drainTimer != nil {
			drainTimer.Stop()
		}
	}()

	tmp := make([]byte, 4096)
	for {
		n, err := w.stdout.Read(tmp)
		if n > 0 {
			if bytes.IndexByte(tmp[:n], 0) >= 0 {
				w.deliver(ch, Chunk{Err: errProtocol{model: w.modelID, cause: fmt.Errorf("NUL byte in output frame")}}, draining)
				w.markDead()
				return
			}
			buf = append(buf, tmp[:n]...)
			if len(buf) > maxTurnBytes {
				w.deliver(ch, Chunk{Err: errProtocol{model: w.modelID, cause: fmt.Errorf("turn output exceeded %d bytes", maxTurnBytes)}}, draining)
				w.markDead()
				return
			}
			text := string(buf)
			if strings.HasSuffix(text, promptMarker) || strings.Contains(text, "\n"+promptMarker) {
				// The marker may arrive with a trailing newline of its own.
				final := strings.TrimRight(text, "\r\n")
				final = strings.TrimSuffix(final, promptMarker)
				final = strings.TrimSuffix(final, "\n")
				if !draining && len(final) > emitted {
					draining = !w.send(ctx, ch, final[emitted:], &drainTimer)
				}
				// Turn complete: the worker is reusable even if the caller
				// went away during the drain, unless the kill-timer fired.
				if drainTimer != nil && !drainTimer.Stop() {
					return
				}
				w.mu.Lock()
				w.lastUsed = time.Now()
				w.mu.Unlock()
				return
			}
			if !draining && len(text)-markerHoldback > emitted {
				frag := text[emitted : len(text)-markerHoldback]
				if ok := w.send(ctx, ch, frag, &drainTimer); ok {
					emitted += len(frag)
				} else {
					draining = true
				}
			}
			continue
		}
		if err != nil {
			w.deliver(ch, Chunk{Err: errCrashed{model: w.modelID, cause: fmt.Errorf("worker output closed mid-turn: %v", err)}}, draining)
			w.markDead()
			return
		}
	}
}

// send forwards text to the consumer, detecting abandonment. On abandonment
// it arms the drain kill-timer and reports false.
func (w *Worker) send(ctx context.Context, ch chan<- Chunk, text string, drainTimer **time.Timer) bool {
	select {
	case ch <- Chunk{Text: text}:
		return true
	default:
	}
	select {
	case ch <- Chunk{Text: text}:
		return true
	case <-ctx.Done():
		w.log.Debug().Str("model", w.modelID).Msg("consumer gone, draining to marker")
		*drainTimer = time.AfterFunc(w.drainTimeout, w.markDead)
		return false
	}
}

// deliver sends a terminal chunk unless the consumer already left.
func (w *Worker) deliver(ch chan<- Chunk, c Chunk, draining bool) {
	if draining {
		return
	}
	select {
	case ch <- c:
	default:
	}
}
