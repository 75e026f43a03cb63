// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package container

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/furui/internal/logging"
	"grimm.is/furui/internal/runtime"
)

type fakeEngine struct {
	infos  map[string]runtime.Info
	events chan runtime.Event
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{infos: make(map[string]runtime.Info), events: make(chan runtime.Event, 8)}
}

func (f *fakeEngine) Start(ctx context.Context) error { return nil }
func (f *fakeEngine) Events() <-chan runtime.Event    { return f.events }

func (f *fakeEngine) Inspect(ctx context.Context, id string) (runtime.Info, error) {
	info, ok := f.infos[id]
	if !ok {
		return runtime.Info{}, errNotFound
	}
	return info, nil
}

func (f *fakeEngine) List(ctx context.Context) ([]runtime.Info, error) {
	out := make([]runtime.Info, 0, len(f.infos))
	for _, info := range f.infos {
		out = append(out, info)
	}
	return out, nil
}

type fakeLoader struct {
	attached map[string]string
	detached []string
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{attached: make(map[string]string)}
}

func (f *fakeLoader) AttachContainer(containerID, iface string) error {
	f.attached[containerID] = iface
	return nil
}

func (f *fakeLoader) DetachContainer(containerID string) error {
	f.detached = append(f.detached, containerID)
	return nil
}

type fakeResolver struct{ resolved []string }

func (f *fakeResolver) ResolveContainer(name string) { f.resolved = append(f.resolved, name) }

var errNotFound = errNotFoundError{}

type errNotFoundError struct{}

func (errNotFoundError) Error() string { return "container not found" }

func TestWatcherBootstrapRegistersRunningContainers(t *testing.T) {
	engine := newFakeEngine()
	engine.infos["abc123"] = runtime.Info{ID: "abc123", Name: "web", PID: 100}

	registry := NewRegistry()
	logger := logging.New(logging.DefaultConfig())
	w := NewWatcher(engine, registry, nil, nil, nil, nil, logger, nil, nil)

	require.NoError(t, w.Bootstrap(context.Background()))

	info, ok := registry.ByName("web")
	require.True(t, ok)
	require.Equal(t, ShortID("abc123"), info.ID)
}

func TestWatcherOnStartAttachesViaIfaceResolver(t *testing.T) {
	engine := newFakeEngine()
	engine.infos["abc123"] = runtime.Info{ID: "abc123", Name: "web", PID: 100}

	registry := NewRegistry()
	loader := newFakeLoader()
	resolver := &fakeResolver{}
	logger := logging.New(logging.DefaultConfig())

	ifaceResolver := func(pid int) (string, error) {
		require.Equal(t, 100, pid)
		return "veth0", nil
	}

	w := NewWatcher(engine, registry, loader, nil, resolver, nil, logger, ifaceResolver, nil)
	w.onStart(context.Background(), "abc123")

	require.Equal(t, "veth0", loader.attached["abc123"])
	require.Equal(t, []string{"web"}, resolver.resolved)
}

func TestWatcherOnStopDetachesAndRemoves(t *testing.T) {
	registry := NewRegistry()
	id := ShortID("abc123")
	registry.Put(Info{ID: id, Name: "web"})

	loader := newFakeLoader()
	logger := logging.New(logging.DefaultConfig())
	w := NewWatcher(newFakeEngine(), registry, loader, nil, nil, nil, logger, nil, nil)

	w.onStop("abc123")

	_, ok := registry.ByID(id)
	require.False(t, ok)
	require.Equal(t, []string{"abc123"}, loader.detached)
}

func TestWatcherRunDispatchesEventsUntilContextCanceled(t *testing.T) {
	engine := newFakeEngine()
	engine.infos["abc123"] = runtime.Info{ID: "abc123", Name: "web"}

	registry := NewRegistry()
	logger := logging.New(logging.DefaultConfig())
	w := NewWatcher(engine, registry, nil, nil, nil, nil, logger, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	engine.events <- runtime.Event{Type: runtime.EventStart, ID: "abc123"}

	require.Eventually(t, func() bool {
		_, ok := registry.ByName("web")
		return ok
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}
