// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package container

import (
	"context"

	"grimm.is/furui/internal/logging"
	"grimm.is/furui/internal/maps"
	"grimm.is/furui/internal/runtime"
)

// PortDiscoverer resolves a container's currently listening processes:
// the userspace-side `containers -> [(container, pid, comm, port,
// proto)]` function that seeds port ownership before any bind/connect
// tracepoint has fired.
type PortDiscoverer interface {
	Discover(ctx context.Context, containerID string, pid int) ([]ListeningProcess, error)
}

// ListeningProcess is one (comm, port, proto) tuple a discoverer found.
type ListeningProcess struct {
	Comm  string
	Port  uint16
	Proto uint8
}

// AttachDetacher is the subset of internal/ebpf/loader.Loader the
// Watcher drives; kept as an interface so tests can substitute a fake
// without loading real eBPF programs.
type AttachDetacher interface {
	AttachContainer(containerID, iface string) error
	DetachContainer(containerID string) error
}

// PolicyResolver is notified whenever a container's tuple changes, so
// it can re-resolve any policy referencing the container by name
// (internal/policy.Compiler.Compile consults the registry directly,
// so this is just the signal to recompile, not the resolution
// itself).
type PolicyResolver interface {
	ResolveContainer(name string)
}

// Watcher drives Registry from runtime.Engine lifecycle events,
// mirroring original_source's Policies::set_container_id re-resolution
// on every container start. When maps is non-nil, the same lifecycle
// events also keep CONTAINER_ID_FROM_IPS and PROCESS_PORT_TO_COMM in
// sync, so a container's first packet is never a spurious miss while
// the policy map still holds rules for a name the registry hasn't
// resolved yet.
type Watcher struct {
	engine   runtime.Engine
	registry *Registry
	loader   AttachDetacher
	ports    PortDiscoverer
	resolver PolicyResolver
	maps     *maps.Maps
	logger   *logging.Logger

	// ifaceResolver maps a container's host PID to its host-side veth
	// name; the runtime engine alone does not know this, so it is
	// supplied separately (resolved via the container's network
	// namespace - see internal/netutil.ResolveVeth).
	ifaceResolver func(pid int) (string, error)

	// netnsResolver maps a container's host PID to its network
	// namespace inode, kept in NETNS_TO_CONTAINER so the advisory
	// bind/connect/close tracepoints can tell a container process from
	// a host one (see internal/netutil.NetnsInode).
	netnsResolver func(pid int) (uint32, error)
}

// NewWatcher constructs a Watcher. ifaceResolver, netnsResolver and m
// may be nil in tests that do not exercise attachment or map
// population.
func NewWatcher(engine runtime.Engine, registry *Registry, loader AttachDetacher, ports PortDiscoverer, resolver PolicyResolver, m *maps.Maps, logger *logging.Logger, ifaceResolver func(int) (string, error), netnsResolver func(int) (uint32, error)) *Watcher {
	return &Watcher{
		engine:        engine,
		registry:      registry,
		loader:        loader,
		ports:         ports,
		resolver:      resolver,
		maps:          m,
		logger:        logger,
		ifaceResolver: ifaceResolver,
		netnsResolver: netnsResolver,
	}
}

// Bootstrap lists every currently running container and registers
// it, mirroring the "add_running_containers" step that must happen
// before the first lifecycle event can arrive.
func (w *Watcher) Bootstrap(ctx context.Context) error {
	containers, err := w.engine.List(ctx)
	if err != nil {
		return err
	}
	for _, c := range containers {
		w.onStart(ctx, c.ID)
	}
	return nil
}

// Run consumes runtime.Engine events until ctx is canceled or the
// event channel closes.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-w.engine.Events():
			if !ok {
				return
			}
			switch evt.Type {
			case runtime.EventStart:
				w.onStart(ctx, evt.ID)
			case runtime.EventStop:
				w.onStop(evt.ID)
			}
		}
	}
}

func (w *Watcher) onStart(ctx context.Context, id string) {
	info, err := w.engine.Inspect(ctx, id)
	if err != nil {
		w.logger.Error("failed to inspect container on start", "container_id", id, "error", err)
		return
	}

	containerID := ShortID(id)

	var netnsInode uint32
	if w.netnsResolver != nil {
		netnsInode, err = w.netnsResolver(info.PID)
		if err != nil {
			w.logger.Error("failed to resolve netns for container", "container_id", id, "error", err)
		}
	}

	w.registry.Put(Info{ID: containerID, Name: info.Name, IPs: info.IPs, NetnsInode: netnsInode})
	w.logger.Info("container started", "container_id", id, "name", info.Name, "ips", len(info.IPs))

	if w.maps != nil {
		if err := w.maps.Container.Save(containerID, info.IPs); err != nil {
			w.logger.Error("failed to save container ips", "container_id", id, "error", err)
		}
		if netnsInode != 0 {
			if err := w.maps.Netns.Save(netnsInode, containerID); err != nil {
				w.logger.Error("failed to save container netns", "container_id", id, "error", err)
			}
		}
	}

	if w.ports != nil {
		procs, err := w.ports.Discover(ctx, id, info.PID)
		if err != nil {
			w.logger.Error("failed to discover listening processes", "container_id", id, "error", err)
		} else {
			w.logger.Info("discovered listening processes", "container_id", id, "count", len(procs))
			if w.maps != nil {
				for _, proc := range procs {
					if err := w.maps.Port.Save(containerID, proc.Port, proc.Proto, commBytes(proc.Comm)); err != nil {
						w.logger.Error("failed to save listening process", "container_id", id, "comm", proc.Comm, "port", proc.Port, "error", err)
					}
				}
			}
		}
	}

	if w.loader != nil && w.ifaceResolver != nil {
		iface, err := w.ifaceResolver(info.PID)
		if err != nil {
			w.logger.Error("failed to resolve veth for container", "container_id", id, "error", err)
		} else if err := w.loader.AttachContainer(id, iface); err != nil {
			w.logger.Error("failed to attach classifier", "container_id", id, "iface", iface, "error", err)
		}
	}

	if w.resolver != nil {
		w.resolver.ResolveContainer(info.Name)
	}
}

func (w *Watcher) onStop(id string) {
	containerID := ShortID(id)

	info, existed := w.registry.Remove(containerID)
	if !existed {
		return
	}
	w.logger.Info("container stopped", "container_id", id, "name", info.Name)

	if w.maps != nil {
		if err := w.maps.Container.Delete(info.IPs); err != nil {
			w.logger.Error("failed to delete container ips", "container_id", id, "error", err)
		}
		if err := w.maps.Port.DeleteContainer(containerID); err != nil {
			w.logger.Error("failed to delete container ports", "container_id", id, "error", err)
		}
		if info.NetnsInode != 0 {
			if err := w.maps.Netns.Delete(info.NetnsInode); err != nil {
				w.logger.Error("failed to delete container netns", "container_id", id, "error", err)
			}
		}
	}

	if w.loader != nil {
		if err := w.loader.DetachContainer(id); err != nil {
			w.logger.Error("failed to detach classifier", "container_id", id, "error", err)
		}
	}
}

// commBytes truncates/pads a process name to PROCESS_PORT_TO_COMM's
// fixed 16-byte comm field, matching Linux's own TASK_COMM_LEN.
func commBytes(comm string) [16]byte {
	var out [16]byte
	copy(out[:], comm)
	return out
}
