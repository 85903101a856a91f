package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/maceip/rlitert-lm/internal/download"
	"github.com/maceip/rlitert-lm/internal/registry"
	"github.com/maceip/rlitert-lm/pkg/types"
)

// fakeFetcher emits a fixed progress scenario and, on success, writes the
// destination artifact the way the HTTP fetcher would.
type fakeFetcher struct {
	fail bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, m types.Model, dest string, opts download.PullOptions) (<-chan download.Update, error) {
	ch := make(chan download.Update, 4)
	go func() {
		defer close(ch)
		ch <- download.Update{Percent: 50, BytesDone: 50, BytesTotal: 100}
		if f.fail {
			ch <- download.Update{Err: errors.New("boom")}
			return
		}
		if err := os.WriteFile(dest, []byte("artifact"), 0o644); err != nil {
			ch <- download.Update{Err: err}
			return
		}
		ch <- download.Update{Percent: 100, BytesDone: 100, BytesTotal: 100}
	}()
	return ch, nil
}

// slowFetcher signals when the fetch starts and holds it open until release
// is closed, keeping the tracker's pull slot occupied.
type slowFetcher struct {
	started chan struct{}
	release chan struct{}
}

func (f *slowFetcher) Fetch(ctx context.Context, m types.Model, dest string, opts download.PullOptions) (<-chan download.Update, error) {
	select {
	case f.started <- struct{}{}:
	default:
	}
	ch := make(chan download.Update, 1)
	go func() {
		defer close(ch)
		<-f.release
		if err := os.WriteFile(dest, []byte("artifact"), 0o644); err != nil {
			ch <- download.Update{Err: err}
			return
		}
		ch <- download.Update{Percent: 100, BytesDone: 100, BytesTotal: 100}
	}()
	return ch, nil
}

// stub worker: handshake marker, echo per prompt, crash on demand.
const stubWorker = `#!/bin/sh
echo ">>>"
while IFS= read -r line; do
  if [ "$line" = "crash" ]; then exit 1; fi
  printf 'echo:%s\n' "$line"
  echo ">>>"
done
`

func newTestManager(t *testing.T, f download.Fetcher, pub EventPublisher) (*Manager, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()
	// one local artifact for completion tests
	if err := os.WriteFile(filepath.Join(dir, "tiny"+registry.ArtifactExt), []byte("w"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	bin := filepath.Join(dir, "litert-stub")
	if err := os.WriteFile(bin, []byte(stubWorker), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reg, err := registry.Load(dir, "")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	reg.Register(types.Model{ID: "remote", URL: "http://catalog.example/remote" + registry.ArtifactExt})

	m := NewWithConfig(ManagerConfig{
		Registry:         reg,
		BinPath:          bin,
		Backends:         []string{"cpu"},
		HandshakeTimeout: 10 * time.Second,
		Fetcher:          f,
		Publisher:        pub,
		Log:              zerolog.Nop(),
	})
	t.Cleanup(m.Close)
	return m, reg
}

func TestPullAndList(t *testing.T) {
	pub := NewMemoryPublisher()
	m, _ := newTestManager(t, &fakeFetcher{}, pub)

	if err := m.Pull(context.Background(), "remote", "", ""); err != nil {
		t.Fatalf("pull: %v", err)
	}
	local := m.ListModels(false)
	ids := make(map[string]bool)
	for _, mdl := range local {
		ids[mdl.ID] = true
		if !mdl.Downloaded {
			t.Fatalf("local list contains non-downloaded model %+v", mdl)
		}
	}
	if !ids["remote"] || !ids["tiny"] {
		t.Fatalf("expected remote and tiny in local list, got %v", ids)
	}
	if st := m.DownloadState("remote"); st.State != types.DownloadComplete {
		t.Fatalf("expected complete state, got %+v", st)
	}

	evs := pub.Events()
	if len(evs) < 2 || evs[0].Name != "pull_started" || evs[len(evs)-1].Name != "pull_complete" {
		t.Fatalf("unexpected events %+v", evs)
	}
}

func TestPullUnknownModel(t *testing.T) {
	m, _ := newTestManager(t, &fakeFetcher{}, nil)
	err := m.Pull(context.Background(), "ghost", "", "")
	if !IsModelNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestPullByURLRegistersAlias(t *testing.T) {
	m, reg := newTestManager(t, &fakeFetcher{}, nil)
	if err := m.Pull(context.Background(), "https://host.example/files/small"+registry.ArtifactExt, "small", ""); err != nil {
		t.Fatalf("pull: %v", err)
	}
	mdl, ok := reg.Resolve("small")
	if !ok || !mdl.Downloaded {
		t.Fatalf("expected downloaded alias entry, got %+v ok=%v", mdl, ok)
	}
}

func TestPullFailureSurfacesAndKeepsFailedState(t *testing.T) {
	m, _ := newTestManager(t, &fakeFetcher{fail: true}, nil)
	err := m.Pull(context.Background(), "remote", "", "")
	if !IsDownloadFailure(err) {
		t.Fatalf("expected download failure, got %v", err)
	}
	if st := m.DownloadState("remote"); st.State != types.DownloadFailed || st.Error == "" {
		t.Fatalf("expected failed state with reason, got %+v", st)
	}
}

func TestPullWithProgressRelaysEventsInOrder(t *testing.T) {
	m, _ := newTestManager(t, &fakeFetcher{}, nil)
	var seen []types.DownloadEvent
	err := m.PullWithProgress(context.Background(), "remote", "", "", func(ev types.DownloadEvent) {
		seen = append(seen, ev)
	})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(seen) == 0 {
		t.Fatalf("no events relayed")
	}
	last := seen[len(seen)-1]
	if last.State != types.DownloadComplete || last.Progress != 100 {
		t.Fatalf("unexpected terminal event %+v", last)
	}
	prev := float64(-1)
	for _, ev := range seen {
		if ev.Progress < prev {
			t.Fatalf("progress regressed: %+v", seen)
		}
		prev = ev.Progress
	}
}

func TestStartPullDuplicateRejectedWhileInFlight(t *testing.T) {
	f := &slowFetcher{started: make(chan struct{}, 1), release: make(chan struct{})}
	m, _ := newTestManager(t, f, nil)

	if _, err := m.StartPull("remote", "", ""); err != nil {
		t.Fatalf("first pull: %v", err)
	}
	<-f.started
	if st := m.DownloadState("remote"); st.State != types.DownloadInProgress {
		t.Fatalf("expected in-progress state, got %+v", st)
	}
	if _, err := m.StartPull("remote", "", ""); !IsAlreadyInProgress(err) {
		t.Fatalf("expected already-in-progress, got %v", err)
	}
	if err := m.Pull(context.Background(), "remote", "", ""); !IsAlreadyInProgress(err) {
		t.Fatalf("expected already-in-progress from blocking pull, got %v", err)
	}

	close(f.release)
	deadline := time.After(5 * time.Second)
	for m.DownloadState("remote").State != types.DownloadComplete {
		select {
		case <-deadline:
			t.Fatalf("pull never completed: %+v", m.DownloadState("remote"))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRunCompletion(t *testing.T) {
	m, _ := newTestManager(t, &fakeFetcher{}, nil)
	out, err := m.RunCompletion(context.Background(), "tiny", "hello")
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	if !strings.Contains(out, "echo:hello") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRunCompletionUnknownModel(t *testing.T) {
	m, _ := newTestManager(t, &fakeFetcher{}, nil)
	if _, err := m.RunCompletion(context.Background(), "ghost", "hi"); !IsModelNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
	// catalog entry without a local artifact behaves the same
	if _, err := m.RunCompletion(context.Background(), "remote", "hi"); !IsModelNotFound(err) {
		t.Fatalf("expected not-found for non-downloaded model, got %v", err)
	}
}

func TestCompletionCrashThenRespawn(t *testing.T) {
	m, _ := newTestManager(t, &fakeFetcher{}, nil)
	_, err := m.RunCompletion(context.Background(), "tiny", "crash")
	if !IsWorkerCrashed(err) {
		t.Fatalf("expected crash error, got %v", err)
	}
	out, err := m.RunCompletion(context.Background(), "tiny", "back")
	if err != nil {
		t.Fatalf("completion after crash: %v", err)
	}
	if !strings.Contains(out, "echo:back") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestConcurrentCompletionsShareOneWorker(t *testing.T) {
	m, _ := newTestManager(t, &fakeFetcher{}, nil)
	type res struct {
		out string
		err error
	}
	results := make(chan res, 2)
	for i := 0; i < 2; i++ {
		go func() {
			out, err := m.RunCompletion(context.Background(), "tiny", "hi")
			results <- res{out, err}
		}()
	}
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("completion %d: %v", i, r.err)
		}
		if !strings.Contains(r.out, "echo:hi") {
			t.Fatalf("completion %d output %q", i, r.out)
		}
	}
	st := m.Status()
	if len(st.Workers) != 1 {
		t.Fatalf("expected one worker, got %+v", st.Workers)
	}
}

func TestRemoveModel(t *testing.T) {
	m, reg := newTestManager(t, &fakeFetcher{}, nil)
	if _, err := m.RunCompletion(context.Background(), "tiny", "hi"); err != nil {
		t.Fatalf("completion: %v", err)
	}
	if err := m.RemoveModel("tiny"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	mdl, ok := reg.Resolve("tiny")
	if !ok {
		t.Fatalf("catalog entry should survive removal")
	}
	if mdl.Downloaded {
		t.Fatalf("artifact should be gone, got %+v", mdl)
	}
	if st := m.DownloadState("tiny"); st.State != types.DownloadNotStarted {
		t.Fatalf("expected reset state, got %+v", st)
	}
	if len(m.Status().Workers) != 0 {
		t.Fatalf("worker should be torn down")
	}
	if err := m.RemoveModel("ghost"); !IsModelNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestSubscribeDownloadsAllTopics(t *testing.T) {
	m, _ := newTestManager(t, &fakeFetcher{}, nil)
	sub := m.SubscribeDownloads("")
	defer m.UnsubscribeDownloads(sub)

	if err := m.Pull(context.Background(), "remote", "", ""); err != nil {
		t.Fatalf("pull: %v", err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.C:
			if ev.Model == "remote" && ev.State == types.DownloadComplete {
				return
			}
		case <-deadline:
			t.Fatalf("terminal event never arrived on wildcard subscription")
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t, &fakeFetcher{}, nil)
	if !m.Ready() {
		t.Fatalf("expected ready manager")
	}
	m.Close()
	m.Close()
	if m.Ready() {
		t.Fatalf("closed manager must not report ready")
	}
}
