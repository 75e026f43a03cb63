// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package runtime is furui's container-runtime collaborator: a
// deliberately small opaque source of {container-id, name,
// ip-addresses[]} tuples and lifecycle notifications. The Engine
// interface is the whole contract; docker.go and containerd.go are
// two concrete sources behind it, selected by the CLI's
// -container-engine flag.
package runtime

import (
	"context"
	"net"
	"time"
)

// EventType is a container lifecycle transition.
type EventType string

const (
	EventStart EventType = "start"
	EventStop  EventType = "stop"
)

// Event is one lifecycle notification.
type Event struct {
	Type      EventType
	ID        string
	Timestamp time.Time
}

// Info is the {id, name, ips} tuple for one running container, plus
// the host PID of its first process, which internal/netutil needs to
// enter its network namespace and discover its host-side veth.
type Info struct {
	ID   string
	Name string
	IPs  []net.IP
	PID  int
}

// Engine is the small interface every container-runtime backend
// implements: start watching, stream lifecycle events, and resolve
// the full tuple for a given container ID on demand.
type Engine interface {
	// Start begins watching the runtime for container lifecycle
	// events; it returns once the initial connection is established,
	// not once watching stops.
	Start(ctx context.Context) error

	// Events returns the channel lifecycle notifications arrive on.
	// It is closed when ctx passed to Start is canceled.
	Events() <-chan Event

	// Inspect resolves a container ID to its current tuple.
	Inspect(ctx context.Context, id string) (Info, error)

	// List returns every container currently known to be running,
	// used once at startup to seed the registry before the first
	// Events notification can arrive.
	List(ctx context.Context) ([]Info, error)
}
