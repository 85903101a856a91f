package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/maceip/rlitert-lm/pkg/types"
)

func drain(ch <-chan Update) (last Update, updates int, err error) {
	for u := range ch {
		if u.Err != nil {
			err = u.Err
			continue
		}
		updates++
		last = u
	}
	return last, updates, err
}

func TestHTTPFetcherDownloads(t *testing.T) {
	body := strings.Repeat("litert", 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
			t.Errorf("missing auth header, got %q", got)
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "m1.litertlm")
	f := NewHTTPFetcher(zerolog.Nop())
	ch, err := f.Fetch(context.Background(), types.Model{ID: "m1", URL: srv.URL}, dest, PullOptions{Token: "tok123"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	last, n, ferr := drain(ch)
	if ferr != nil {
		t.Fatalf("transfer error: %v", ferr)
	}
	if n == 0 || last.Percent != 100 || last.BytesDone != int64(len(body)) {
		t.Fatalf("unexpected final update %+v after %d updates", last, n)
	}
	b, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(b) != body {
		t.Fatalf("artifact corrupted: %d bytes", len(b))
	}
	if _, err := os.Stat(dest + partialSuffix); !os.IsNotExist(err) {
		t.Fatalf("partial file left behind")
	}
}

func TestHTTPFetcherStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "m1.litertlm")
	f := NewHTTPFetcher(zerolog.Nop())
	ch, err := f.Fetch(context.Background(), types.Model{ID: "m1", URL: srv.URL}, dest, PullOptions{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	_, _, ferr := drain(ch)
	if ferr == nil {
		t.Fatalf("expected transfer error on 404")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("artifact must not exist after failure")
	}
}

func TestHTTPFetcherNoURL(t *testing.T) {
	f := NewHTTPFetcher(zerolog.Nop())
	if _, err := f.Fetch(context.Background(), types.Model{ID: "m1"}, "/tmp/x", PullOptions{}); err == nil {
		t.Fatalf("expected error for missing url")
	}
}

func TestHTTPFetcherCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dir := t.TempDir()
	f := NewHTTPFetcher(zerolog.Nop())
	ch, err := f.Fetch(ctx, types.Model{ID: "m1", URL: srv.URL}, filepath.Join(dir, "m1"), PullOptions{})
	if err != nil {
		// request construction may already observe the dead context
		return
	}
	_, _, ferr := drain(ch)
	if ferr == nil {
		t.Fatalf("expected error from cancelled context")
	}
}
