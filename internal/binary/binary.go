// Package binary locates the litert worker executable, fetching the platform
// release asset into the user cache on first use.
package binary

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/maceip/rlitert-lm/internal/common/fsutil"
	"github.com/maceip/rlitert-lm/internal/download"
	"github.com/maceip/rlitert-lm/pkg/types"
)

// Release coordinates of the upstream worker binary.
const (
	releaseVersion = "v0.7.0"
	releaseBaseURL = "https://github.com/google-ai-edge/LiteRT-LM/releases/download"
)

// Manager resolves the worker executable path.
type Manager struct {
	// CacheDir overrides the user cache directory (tests do).
	CacheDir string
	// BaseURL overrides the release download root (tests do).
	BaseURL string
	Fetcher download.Fetcher
	Log     zerolog.Logger
}

// New builds a manager with the default HTTP fetcher.
func New(log zerolog.Logger) *Manager {
	return &Manager{Fetcher: download.NewHTTPFetcher(log), Log: log}
}

// assetName maps the build platform to the published asset filename.
func assetName() (string, error) {
	switch runtime.GOOS + "/" + runtime.GOARCH {
	case "linux/arm64":
		return "lit.linux_arm64", nil
	case "linux/amd64":
		return "lit.linux_x86_64", nil
	case "darwin/arm64":
		return "lit.macos_arm64", nil
	case "windows/amd64":
		return "lit.windows_x86_64.exe", nil
	}
	return "", fmt.Errorf("no published worker binary for %s/%s", runtime.GOOS, runtime.GOARCH)
}

// Ensure returns a usable worker executable path. A non-empty configured
// path is trusted as-is; otherwise the cached asset is used, downloading it
// on first call.
func (m *Manager) Ensure(ctx context.Context, configured string) (string, error) {
	if configured != "" {
		p, err := fsutil.ExpandHome(configured)
		if err != nil {
			return "", err
		}
		if !fsutil.PathExists(p) {
			return "", fmt.Errorf("configured worker binary not found: %s", p)
		}
		return p, nil
	}

	dir := m.CacheDir
	if dir == "" {
		var err error
		dir, err = fsutil.CacheDir()
		if err != nil {
			return "", err
		}
	}
	name, err := assetName()
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, name)
	if fsutil.PathExists(dest) {
		return dest, nil
	}

	base := m.BaseURL
	if base == "" {
		base = releaseBaseURL
	}
	url := fmt.Sprintf("%s/%s/%s", base, releaseVersion, name)
	m.Log.Info().Str("url", url).Msg("downloading worker binary")

	updates, err := m.Fetcher.Fetch(ctx, types.Model{ID: "litert-binary", URL: url}, dest, download.PullOptions{})
	if err != nil {
		return "", err
	}
	for u := range updates {
		if u.Err != nil {
			return "", fmt.Errorf("download worker binary: %w", u.Err)
		}
	}
	if err := os.Chmod(dest, 0o755); err != nil {
		return "", err
	}
	return dest, nil
}
