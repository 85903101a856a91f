package download

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"context"

	"github.com/rs/zerolog"

	"github.com/maceip/rlitert-lm/pkg/types"
)

// partialSuffix marks an in-flight artifact file. The file is renamed into
// place only after the transfer completes.
const partialSuffix = ".partial"

// copyBuf is the transfer chunk size.
const copyBuf = 128 * 1024

// HTTPFetcher downloads model artifacts over plain HTTP(S) with streamed
// progress. It is the default Fetcher wired by the daemon; tests substitute
// their own.
type HTTPFetcher struct {
	Client *http.Client
	Log    zerolog.Logger
}

// NewHTTPFetcher builds a fetcher with no client-level timeout; transfers are
// bounded by the caller's context.
func NewHTTPFetcher(log zerolog.Logger) *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: 0}, Log: log}
}

// Fetch streams m.URL into dest. Updates arrive on the returned channel; the
// final update of a failed transfer carries the error and the channel then
// closes. The partial file is removed on any failure path.
func (f *HTTPFetcher) Fetch(ctx context.Context, m types.Model, dest string, opts PullOptions) (<-chan Update, error) {
	if m.URL == "" {
		return nil, fmt.Errorf("model %s has no source url", m.ID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
	if err != nil {
		return nil, err
	}
	if opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.Token)
	}

	ch := make(chan Update, 8)
	go func() {
		defer close(ch)
		if err := f.run(req, dest, ch); err != nil {
			_ = os.Remove(dest + partialSuffix)
			ch <- Update{Err: err}
		}
	}()
	return ch, nil
}

func (f *HTTPFetcher) run(req *http.Request, dest string, ch chan<- Update) error {
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch %s: %s", req.URL, resp.Status)
	}
	total := resp.ContentLength
	if total < 0 {
		total = 0
	}

	tmp := dest + partialSuffix
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	var done int64
	lastPct := -1.0
	buf := make([]byte, copyBuf)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				_ = out.Close()
				return werr
			}
			done += int64(n)
			pct := 0.0
			if total > 0 {
				pct = float64(done) / float64(total) * 100
			}
			// Emit at most once per whole percent to keep the stream light;
			// unknown totals report every chunk with pct 0.
			if total == 0 || pct-lastPct >= 1 {
				lastPct = pct
				ch <- Update{Percent: pct, BytesDone: done, BytesTotal: total}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = out.Close()
			return rerr
		}
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return err
	}
	f.Log.Debug().Str("dest", dest).Int64("bytes", done).Msg("artifact written")
	ch <- Update{Percent: 100, BytesDone: done, BytesTotal: total}
	return nil
}
