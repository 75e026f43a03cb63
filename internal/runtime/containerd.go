// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package runtime

import (
	"context"
	"net"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/api/events"
	"github.com/containerd/containerd/namespaces"
	typeurl "github.com/containerd/typeurl/v2"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"grimm.is/furui/internal/errors"
	"grimm.is/furui/internal/logging"
)

// defaultNamespace is the containerd namespace furui watches.
// Kubernetes' CRI shim runs pods under "k8s.io"; bare containerd /
// nerdctl uses "default".
const defaultNamespace = "k8s.io"

// ContainerdEngine is an Engine backed by containerd's own client
// and event service, grounded on cuemby-warren's ContainerdRuntime
// client setup (pkg/runtime/containerd.go) and its Broker-over-channel
// event shape (pkg/events/events.go), adapted here to furui's
// narrower Engine contract rather than warren's full lifecycle API.
type ContainerdEngine struct {
	client    *containerd.Client
	namespace string
	logger    *logging.Logger

	events chan Event
}

// NewContainerdEngine dials socketPath (default
// /run/containerd/containerd.sock).
func NewContainerdEngine(socketPath, namespace string, logger *logging.Logger) (*ContainerdEngine, error) {
	if socketPath == "" {
		socketPath = "/run/containerd/containerd.sock"
	}
	if namespace == "" {
		namespace = defaultNamespace
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "connect to containerd")
	}

	return &ContainerdEngine{
		client:    client,
		namespace: namespace,
		logger:    logger,
		events:    make(chan Event, 64),
	}, nil
}

// Start subscribes to containerd's task lifecycle events
// (TaskStart/TaskExit) in the engine's namespace.
func (e *ContainerdEngine) Start(ctx context.Context) error {
	ctx = namespaces.WithNamespace(ctx, e.namespace)
	eventsCh, errCh := e.client.EventService().Subscribe(ctx)

	go e.drainEvents(ctx, eventsCh, errCh)
	return nil
}

func (e *ContainerdEngine) drainEvents(ctx context.Context, eventsCh <-chan *events.Envelope, errCh <-chan error) {
	defer close(e.events)

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				e.logger.Error("containerd event subscription error", "error", err)
			}
			return
		case env := <-eventsCh:
			if env == nil {
				return
			}
			evt, ok := decodeTaskEvent(env)
			if !ok {
				continue
			}
			select {
			case e.events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}
}

func decodeTaskEvent(env *events.Envelope) (Event, bool) {
	msg, err := typeurl.UnmarshalAny(env.Event)
	if err != nil {
		return Event{}, false
	}

	switch v := msg.(type) {
	case *events.TaskStart:
		return Event{Type: EventStart, ID: v.ContainerID, Timestamp: env.Timestamp}, true
	case *events.TaskExit:
		return Event{Type: EventStop, ID: v.ContainerID, Timestamp: env.Timestamp}, true
	case *events.TaskDelete:
		return Event{Type: EventStop, ID: v.ContainerID, Timestamp: env.Timestamp}, true
	default:
		return Event{}, false
	}
}

// Events returns the lifecycle event channel.
func (e *ContainerdEngine) Events() <-chan Event {
	return e.events
}

// List returns every running container in the engine's namespace.
func (e *ContainerdEngine) List(ctx context.Context) ([]Info, error) {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	containers, err := e.client.Containers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "list containerd containers")
	}

	out := make([]Info, 0, len(containers))
	for _, c := range containers {
		info, err := e.inspectContainer(ctx, c)
		if err != nil {
			e.logger.Error("skipping container during list", "container_id", c.ID(), "error", err)
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// Inspect resolves a single container by ID.
func (e *ContainerdEngine) Inspect(ctx context.Context, id string) (Info, error) {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	c, err := e.client.LoadContainer(ctx, id)
	if err != nil {
		return Info{}, errors.Wrapf(err, errors.KindNotFound, "container %s not found", id)
	}
	return e.inspectContainer(ctx, c)
}

func (e *ContainerdEngine) inspectContainer(ctx context.Context, c containerd.Container) (Info, error) {
	labels, err := c.Labels(ctx)
	if err != nil {
		return Info{}, errors.Wrap(err, errors.KindInternal, "read container labels")
	}

	ips := ipsFromLabels(labels)

	name := containerName(ctx, c, labels)

	var pid int
	if task, err := c.Task(ctx, nil); err == nil {
		pid = int(task.Pid())
	}

	return Info{ID: c.ID(), Name: name, IPs: ips, PID: pid}, nil
}

// containerName resolves the most human-readable name available:
// nerdctl/CRI labels first, falling back to the OCI runtime spec's
// hostname or container-name annotation when neither label is set -
// bare `ctr run` containers and some CRI shims only populate the spec,
// not furui's preferred labels.
func containerName(ctx context.Context, c containerd.Container, labels map[string]string) string {
	if n, ok := labels["nerdctl/name"]; ok && n != "" {
		return n
	}
	if n, ok := labels["io.kubernetes.container.name"]; ok && n != "" {
		return n
	}

	var ociSpec *specs.Spec
	ociSpec, err := c.Spec(ctx)
	if err == nil && ociSpec != nil {
		if n, ok := ociSpec.Annotations["io.kubernetes.cri.container-name"]; ok && n != "" {
			return n
		}
		if ociSpec.Hostname != "" {
			return ociSpec.Hostname
		}
	}

	return c.ID()
}

// ipsFromLabels extracts container addresses from whichever CNI
// plugin populated the container's labels - there is no single
// cross-CNI "give me the IP" containerd call, so furui reads the
// same labels CNI metadata plugins conventionally set.
func ipsFromLabels(labels map[string]string) []net.IP {
	var ips []net.IP
	for _, key := range []string{"nerdctl/networks-ip", "network.ip"} {
		if v, ok := labels[key]; ok {
			if ip := net.ParseIP(v); ip != nil {
				ips = append(ips, ip)
			}
		}
	}
	return ips
}

// Close releases the underlying containerd client connection.
func (e *ContainerdEngine) Close() error {
	return e.client.Close()
}
