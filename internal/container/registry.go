// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package container is furui's single authoritative id/name/ip table.
// Policies reference containers by name and must be re-resolved when
// containers appear; that resolution goes through this one registry
// rather than storing a name on the policy side and an id on the
// container side (no bidirectional references between the two).
package container

import (
	"net"
	"sync"

	"grimm.is/furui/internal/errors"
)

// ShortID truncates a runtime-reported container ID (typically a
// 64-character hex digest) to the 12-byte form every eBPF map key
// uses - the same "short ID" convention docker ps displays.
func ShortID(id string) [12]byte {
	var out [12]byte
	copy(out[:], id)
	return out
}

// Info is the opaque {id, name, ips} tuple the runtime client is a
// source of, plus the network namespace inode Watcher resolves
// separately so NETNS_TO_CONTAINER can be cleaned up again on stop.
type Info struct {
	ID         [12]byte
	Name       string
	IPs        []net.IP
	NetnsInode uint32
}

// Registry is the live id<->name<->ips table, guarded by one
// sync.RWMutex that no suspension point ever holds across.
type Registry struct {
	mu       sync.RWMutex
	byID     map[[12]byte]Info
	byName   map[string][12]byte
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[[12]byte]Info),
		byName: make(map[string][12]byte),
	}
}

// Put records or replaces a container's tuple, called on container
// start and on re-inspection.
func (r *Registry) Put(info Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byID[info.ID]; ok && old.Name != info.Name {
		delete(r.byName, old.Name)
	}
	r.byID[info.ID] = info
	r.byName[info.Name] = info.ID
}

// Remove drops a container's tuple, called on container stop.
func (r *Registry) Remove(id [12]byte) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		delete(r.byName, info.Name)
	}
	return info, ok
}

// ByID returns a container's tuple by ID.
func (r *Registry) ByID(id [12]byte) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byID[id]
	return info, ok
}

// ByName resolves a container name (as a policy document names it)
// to its live tuple. A policy naming a container that has not
// started yet is simply not yet resolvable - internal/container.Watcher
// retries resolution on every container start.
func (r *Registry) ByName(name string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return Info{}, false
	}
	return r.byID[id], true
}

// ResolveName is a convenience wrapper returning a typed error for
// callers (internal/policy.Compiler) that want to report an
// unresolved reference distinctly from a malformed document.
func (r *Registry) ResolveName(name string) ([12]byte, error) {
	info, ok := r.ByName(name)
	if !ok {
		return [12]byte{}, errors.Errorf(errors.KindNotFound, "no running container named %q", name)
	}
	return info.ID, nil
}

// All returns a snapshot of every currently registered container.
func (r *Registry) All() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.byID))
	for _, info := range r.byID {
		out = append(out, info)
	}
	return out
}
