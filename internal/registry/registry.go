package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/maceip/rlitert-lm/internal/common/fsutil"
	"github.com/maceip/rlitert-lm/pkg/types"
)

// ArtifactExt is the file extension of local model artifacts.
const ArtifactExt = ".litertlm"

// Registry is a read-only lookup of model id -> metadata. Catalog entries
// come from an optional manifest; artifacts found on disk that are not in
// the manifest are registered under their filename.
type Registry struct {
	mu     sync.RWMutex
	dir    string
	models map[string]types.Model
	order  []string
}

type manifest struct {
	Models []types.Model `yaml:"models"`
}

// Load builds a registry from the models directory and an optional manifest
// path. An empty manifestPath skips the catalog; a missing models dir is
// created.
func Load(dir, manifestPath string) (*Registry, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	if err := fsutil.EnsureDir(abs); err != nil {
		return nil, fmt.Errorf("models dir: %w", err)
	}
	r := &Registry{dir: abs, models: make(map[string]types.Model)}

	if manifestPath != "" {
		b, err := os.ReadFile(manifestPath)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		var m manifest
		if err := yaml.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("parse catalog: %w", err)
		}
		for _, mdl := range m.Models {
			if strings.TrimSpace(mdl.ID) == "" {
				continue
			}
			if mdl.Filename == "" {
				mdl.Filename = mdl.ID + ArtifactExt
			}
			r.add(mdl)
		}
	}
	if err := r.rescan(); err != nil {
		return nil, err
	}
	return r, nil
}

// Dir returns the models directory.
func (r *Registry) Dir() string { return r.dir }

// ArtifactPath returns the on-disk destination for a model's artifact.
func (r *Registry) ArtifactPath(m types.Model) string {
	name := m.Filename
	if name == "" {
		name = m.ID + ArtifactExt
	}
	return filepath.Join(r.dir, name)
}

// Resolve looks up a model by id and refreshes its Downloaded/Path fields.
func (r *Registry) Resolve(id string) (types.Model, bool) {
	r.mu.RLock()
	m, ok := r.models[id]
	r.mu.RUnlock()
	if !ok {
		return types.Model{}, false
	}
	p := r.ArtifactPath(m)
	if fsutil.PathExists(p) {
		m.Path = p
		m.Downloaded = true
	} else {
		m.Path = ""
		m.Downloaded = false
	}
	return m, true
}

// List returns models in stable catalog order. With all=false only
// downloaded models are returned.
func (r *Registry) List(all bool) []types.Model {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()
	out := make([]types.Model, 0, len(ids))
	for _, id := range ids {
		m, ok := r.Resolve(id)
		if !ok {
			continue
		}
		if !all && !m.Downloaded {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Register adds an ad-hoc entry (URL pulls with an alias). Existing ids win.
func (r *Registry) Register(m types.Model) {
	if strings.TrimSpace(m.ID) == "" {
		return
	}
	if m.Filename == "" {
		m.Filename = m.ID + ArtifactExt
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[m.ID]; ok {
		return
	}
	r.models[m.ID] = m
	r.order = append(r.order, m.ID)
}

func (r *Registry) add(m types.Model) {
	if _, ok := r.models[m.ID]; ok {
		return
	}
	r.models[m.ID] = m
	r.order = append(r.order, m.ID)
}

// rescan registers artifacts found on disk that no catalog entry claims.
func (r *Registry) rescan() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	claimed := make(map[string]bool)
	r.mu.Lock()
	for _, m := range r.models {
		claimed[m.Filename] = true
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ArtifactExt) {
			continue
		}
		if claimed[name] {
			continue
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		if _, ok := r.models[id]; ok {
			continue
		}
		r.models[id] = types.Model{ID: id, Name: id, Filename: name}
		r.order = append(r.order, id)
	}
	r.mu.Unlock()
	return nil
}
