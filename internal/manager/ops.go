package manager

import (
	"context"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/maceip/rlitert-lm/internal/broker"
	"github.com/maceip/rlitert-lm/internal/download"
	"github.com/maceip/rlitert-lm/internal/registry"
	"github.com/maceip/rlitert-lm/pkg/types"
)

// resolvePullTarget maps a pull reference to a registry entry. A reference
// that parses as an http(s) URL is registered ad hoc under the alias (or the
// URL's file stem); anything else must already be in the catalog.
func (m *Manager) resolvePullTarget(ref, alias string) (types.Model, error) {
	if mdl, ok := m.reg.Resolve(ref); ok {
		return mdl, nil
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return types.Model{}, ErrModelNotFound(ref)
	}
	id := alias
	if id == "" {
		id = strings.TrimSuffix(path.Base(u.Path), registry.ArtifactExt)
	}
	if strings.TrimSpace(id) == "" {
		return types.Model{}, ErrModelNotFound(ref)
	}
	m.reg.Register(types.Model{ID: id, Name: id, URL: ref})
	mdl, ok := m.reg.Resolve(id)
	if !ok {
		return types.Model{}, ErrModelNotFound(ref)
	}
	return mdl, nil
}

// Pull downloads a model artifact, blocking until the download is terminal.
// ref is a catalog id or a direct URL; token is forwarded as a bearer header.
func (m *Manager) Pull(ctx context.Context, ref, alias, token string) error {
	mdl, err := m.resolvePullTarget(ref, alias)
	if err != nil {
		return err
	}
	if err := m.tracker.Begin(mdl.ID); err != nil {
		return err
	}
	return m.runPull(ctx, mdl, token)
}

// runPull executes a pull whose tracker slot is already reserved.
func (m *Manager) runPull(ctx context.Context, mdl types.Model, token string) error {
	dest := m.reg.ArtifactPath(mdl)
	m.pub.Publish(Event{Name: "pull_started", ModelID: mdl.ID})
	if err := m.tracker.Run(ctx, mdl, dest, download.PullOptions{Token: token}); err != nil {
		m.pub.Publish(Event{Name: "pull_failed", ModelID: mdl.ID, Fields: map[string]any{"error": err.Error()}})
		return err
	}
	m.pub.Publish(Event{Name: "pull_complete", ModelID: mdl.ID})
	return nil
}

// StartPull resolves the pull target and reserves its tracker slot
// synchronously, so callers get NotFound and AlreadyInProgress right away,
// then runs the download in the background. Progress is observable via
// DownloadState or a broker subscription.
func (m *Manager) StartPull(ref, alias, token string) (types.Model, error) {
	mdl, err := m.resolvePullTarget(ref, alias)
	if err != nil {
		return types.Model{}, err
	}
	if err := m.tracker.Begin(mdl.ID); err != nil {
		return types.Model{}, err
	}
	go func() {
		if err := m.runPull(context.Background(), mdl, token); err != nil {
			m.log.Warn().Str("model", mdl.ID).Err(err).Msg("background pull failed")
		}
	}()
	return mdl, nil
}

// PullWithProgress runs Pull while relaying every download event for the
// model to fn, in publish order, until the terminal event. The subscription
// is taken before the pull starts so no transition is missed.
func (m *Manager) PullWithProgress(ctx context.Context, ref, alias, token string, fn func(types.DownloadEvent)) error {
	mdl, err := m.resolvePullTarget(ref, alias)
	if err != nil {
		return err
	}
	sub := m.broker.Subscribe(mdl.ID)
	defer m.broker.Unsubscribe(sub)

	done := make(chan error, 1)
	go func() {
		dest := m.reg.ArtifactPath(mdl)
		done <- m.tracker.StartPull(ctx, mdl, dest, download.PullOptions{Token: token})
	}()

	for ev := range sub.C {
		fn(ev)
		if ev.State.Terminal() {
			break
		}
	}
	return <-done
}

// RemoveModel tears down the live worker first, then deletes the artifact
// and resets any recorded download state. The catalog entry itself stays.
func (m *Manager) RemoveModel(id string) error {
	mdl, ok := m.reg.Resolve(id)
	if !ok {
		return ErrModelNotFound(id)
	}
	m.pool.Remove(id)
	if mdl.Downloaded {
		if err := os.Remove(mdl.Path); err != nil {
			return err
		}
	}
	m.tracker.Reset(id)
	m.pub.Publish(Event{Name: "model_removed", ModelID: id})
	m.log.Info().Str("model", id).Msg("model removed")
	return nil
}

// SubscribeDownloads registers an observer for one model's download events,
// or for all models when model is empty.
func (m *Manager) SubscribeDownloads(model string) *broker.Subscription {
	topic := model
	if topic == "" {
		topic = broker.TopicAll
	}
	return m.broker.Subscribe(topic)
}

// UnsubscribeDownloads removes the observer and closes its channel.
func (m *Manager) UnsubscribeDownloads(sub *broker.Subscription) {
	m.broker.Unsubscribe(sub)
}

// DownloadState reports the tracked state for one model (not_started when
// the model was never pulled).
func (m *Manager) DownloadState(model string) types.DownloadEvent {
	return m.tracker.State(model)
}
