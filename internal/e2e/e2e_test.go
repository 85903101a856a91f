package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/maceip/rlitert-lm/internal/httpapi"
	"github.com/maceip/rlitert-lm/internal/manager"
	"github.com/maceip/rlitert-lm/internal/registry"
	"github.com/maceip/rlitert-lm/pkg/types"
)

// stub worker speaking the daemon's stdio protocol.
const stubWorker = `#!/bin/sh
echo ">>>"
while IFS= read -r line; do
  printf 'echo:%s\n' "$line"
  echo ">>>"
done
`

// newDaemon wires the full stack (registry, pool with a stub worker,
// tracker, broker, HTTP mux) backed by a temp models dir.
func newDaemon(t *testing.T) (*httptest.Server, *manager.Manager, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()
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
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Registry:         reg,
		BinPath:          bin,
		Backends:         []string{"cpu"},
		HandshakeTimeout: 10 * time.Second,
		Log:              zerolog.Nop(),
	})
	t.Cleanup(mgr.Close)
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(srv.Close)
	return srv, mgr, reg
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestE2E_ChatCompletion(t *testing.T) {
	srv, _, _ := newDaemon(t)
	resp := postJSON(t, srv.URL+"/v1/chat/completions", types.ChatCompletionRequest{
		Model:    "tiny",
		Messages: []types.ChatMessage{{Role: "user", Content: "hello"}},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var out types.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Choices) != 1 || !strings.Contains(out.Choices[0].Message.Content, "echo:hello") {
		t.Fatalf("unexpected response %+v", out)
	}
}

func TestE2E_ChatCompletionStream(t *testing.T) {
	srv, _, _ := newDaemon(t)
	resp := postJSON(t, srv.URL+"/v1/chat/completions", types.ChatCompletionRequest{
		Model:    "tiny",
		Messages: []types.ChatMessage{{Content: "stream me"}},
		Stream:   true,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	s := string(raw)
	if !strings.Contains(s, "chat.completion.chunk") || !strings.Contains(s, "echo:stream me") {
		t.Fatalf("missing chunks in %s", s)
	}
	if !strings.Contains(s, "[DONE]") {
		t.Fatalf("missing [DONE] in %s", s)
	}
}

func TestE2E_CompletionUnknownModel404(t *testing.T) {
	srv, _, _ := newDaemon(t)
	resp := postJSON(t, srv.URL+"/v1/chat/completions", types.ChatCompletionRequest{
		Model:    "ghost",
		Messages: []types.ChatMessage{{Content: "x"}},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestE2E_PullFlow(t *testing.T) {
	artifact := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("model-bytes"))
	}))
	defer artifact.Close()

	srv, _, reg := newDaemon(t)
	resp := postJSON(t, srv.URL+"/v1/pull", types.PullRequest{
		Model: artifact.URL + "/remote" + registry.ArtifactExt,
		Alias: "remote",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		st, err := http.Get(srv.URL + "/v1/downloads/remote")
		if err != nil {
			t.Fatalf("state: %v", err)
		}
		var ev types.DownloadEvent
		if err := json.NewDecoder(st.Body).Decode(&ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		st.Body.Close()
		if ev.State == types.DownloadComplete {
			break
		}
		if ev.State == types.DownloadFailed {
			t.Fatalf("pull failed: %s", ev.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("pull never completed, state %+v", ev)
		}
		time.Sleep(20 * time.Millisecond)
	}

	mdl, ok := reg.Resolve("remote")
	if !ok || !mdl.Downloaded {
		t.Fatalf("expected downloaded artifact, got %+v ok=%v", mdl, ok)
	}
}

func TestE2E_RemoveModel(t *testing.T) {
	srv, _, _ := newDaemon(t)
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/models/tiny", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	list, err := http.Get(srv.URL + "/v1/models")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer list.Body.Close()
	var models types.ModelsResponse
	if err := json.NewDecoder(list.Body).Decode(&models); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, m := range models.Models {
		if m.ID == "tiny" {
			t.Fatalf("tiny still listed after removal: %+v", models.Models)
		}
	}
}
