package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/maceip/rlitert-lm/pkg/types"
)

// sseKeepAlive is the idle interval between comment frames on long-lived
// event feeds, so intermediaries do not reap the connection.
const sseKeepAlive = 15 * time.Second

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func sseWrite(w http.ResponseWriter, flush func(), data []byte) {
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
	if flush != nil {
		flush()
	}
}

// streamChatCompletion relays the worker's chunk sequence as OpenAI-shaped
// chat.completion.chunk events, terminated by a finish_reason chunk and
// [DONE].
func streamChatCompletion(ctx context.Context, w http.ResponseWriter, r *http.Request, svc Service, model, prompt string) {
	ch, err := svc.RunCompletionStream(ctx, model, prompt)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	sseHeaders(w)
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	chunk := func(delta types.ChatDelta, finish *string) []byte {
		b, _ := json.Marshal(types.ChatCompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []types.ChatChunkChoice{{Delta: delta, FinishReason: finish}},
		})
		return b
	}

	sseWrite(w, flush, chunk(types.ChatDelta{Role: "assistant"}, nil))
	for c := range ch {
		if c.Err != nil {
			if r.Context().Err() != nil {
				return
			}
			// Headers are out; all we can do is surface the reason in-band.
			b, _ := json.Marshal(map[string]string{"error": c.Err.Error()})
			sseWrite(w, flush, b)
			return
		}
		if c.Text == "" {
			continue
		}
		sseWrite(w, flush, chunk(types.ChatDelta{Content: c.Text}, nil))
	}
	stop := "stop"
	sseWrite(w, flush, chunk(types.ChatDelta{}, &stop))
	sseWrite(w, flush, []byte("[DONE]"))
}

// serveDownloadEventsSSE pushes download events for one model (?model=) or
// all models until the client disconnects or the subscription is dropped.
func serveDownloadEventsSSE(w http.ResponseWriter, r *http.Request, svc Service) {
	sub := svc.SubscribeDownloads(r.URL.Query().Get("model"))
	defer svc.UnsubscribeDownloads(sub)

	sseHeaders(w)
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	if flush != nil {
		flush()
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				// Dropped by the broker (stalled consumer) or broker closed.
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			sseWrite(w, flush, b)
		case <-keepAlive.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			if flush != nil {
				flush()
			}
		case <-r.Context().Done():
			return
		case <-serverBaseCtx.Done():
			return
		}
	}
}
