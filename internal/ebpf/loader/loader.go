// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package loader owns the single loaded Classifier collection and
// the per-container attachment lifecycle on top of it: one veth
// gets an ingress and an egress TCX link the moment its owning
// container starts, and both are torn down the moment it stops.
package loader

import (
	"fmt"
	"sync"

	"github.com/cilium/ebpf/link"
	"github.com/vishvananda/netlink"

	"grimm.is/furui/internal/ebpf/programs"
	"grimm.is/furui/internal/errors"
	"grimm.is/furui/internal/host"
	"grimm.is/furui/internal/logging"
)

// Attachment records the links installed for one container so
// Detach can close exactly those, independent of every other
// container's attachment.
type Attachment struct {
	ContainerID string
	Iface       string
	links       []link.Link
}

// Loader loads the classifier collection once and attaches/detaches
// it to container veths as they come and go.
type Loader struct {
	logger     *logging.Logger
	classifier *programs.Classifier

	mu          sync.Mutex
	attachments map[string]*Attachment // keyed by container ID
}

// New verifies kernel support, loads the classifier collection and
// attaches its advisory tracepoints, which run for the lifetime of
// the process regardless of which containers come and go.
func New(logger *logging.Logger) (*Loader, error) {
	if err := VerifyKernelSupport(); err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "kernel does not meet eBPF requirements")
	}

	classifier, err := programs.NewClassifier(logger)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "load classifier collection")
	}

	if err := classifier.AttachTracepoints(); err != nil {
		classifier.Close()
		return nil, errors.Wrap(err, errors.KindInternal, "attach advisory tracepoints")
	}

	return &Loader{
		logger:      logger,
		classifier:  classifier,
		attachments: make(map[string]*Attachment),
	}, nil
}

// AttachContainer resolves iface (the host-side veth name for a
// container, as found by internal/netutil.ResolveVeth) to an interface index
// and installs both TCX directions on it.
func (l *Loader) AttachContainer(containerID, iface string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.attachments[containerID]; exists {
		return errors.Errorf(errors.KindConflict, "container %s already attached", containerID)
	}

	link, err := netlink.LinkByName(iface)
	if err != nil {
		return errors.Wrapf(err, errors.KindNotFound, "find veth %s for container %s", iface, containerID)
	}

	if err := ensureClsact(link); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "install clsact qdisc on %s", iface)
	}

	links, err := l.classifier.Attach(link.Attrs().Index)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "attach classifier to %s", iface)
	}

	l.attachments[containerID] = &Attachment{ContainerID: containerID, Iface: iface, links: links}
	l.logger.Info("attached classifier", "container_id", containerID, "iface", iface)
	return nil
}

// DetachContainer closes the links installed for containerID, and is
// a no-op if the container was never attached (e.g. it exited before
// its veth was ever resolved).
func (l *Loader) DetachContainer(containerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	att, exists := l.attachments[containerID]
	if !exists {
		return nil
	}
	delete(l.attachments, containerID)

	var firstErr error
	for _, lk := range att.links {
		if err := lk.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.logger.Info("detached classifier", "container_id", containerID, "iface", att.Iface)
	return firstErr
}

// CleanupOrphans detaches every attachment this Loader tracks whose
// container ID is not in live (the set the runtime engine currently
// reports as running). Links left behind by an earlier process are
// not tracked here and are not touched.
func (l *Loader) CleanupOrphans(live map[string]bool) {
	l.mu.Lock()
	orphans := make([]string, 0)
	for id := range l.attachments {
		if !live[id] {
			orphans = append(orphans, id)
		}
	}
	l.mu.Unlock()

	for _, id := range orphans {
		if err := l.DetachContainer(id); err != nil {
			l.logger.Error("failed to detach orphaned attachment", "container_id", id, "error", err)
		}
	}
}

// Maps exposes the classifier's pinned maps for internal/maps.
func (l *Loader) Maps() programs.ClassifierMaps {
	return l.classifier.Maps()
}

// Attached reports whether containerID currently has classifier
// links installed.
func (l *Loader) Attached(containerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.attachments[containerID]
	return ok
}

// Close detaches every remaining container and releases the loaded
// collection, in that order.
func (l *Loader) Close() error {
	l.mu.Lock()
	ids := make([]string, 0, len(l.attachments))
	for id := range l.attachments {
		ids = append(ids, id)
	}
	l.mu.Unlock()

	for _, id := range ids {
		_ = l.DetachContainer(id)
	}

	if err := l.classifier.DetachAll(); err != nil {
		l.logger.Error("failed to detach tracepoints", "error", err)
	}
	return l.classifier.Close()
}

// ensureClsact installs a clsact qdisc on link if one is not already
// present; TCX attachment does not strictly require it on modern
// kernels, but older kernels' tc inspection tooling expects it, and
// a pre-existing clsact is not an error.
func ensureClsact(lnk netlink.Link) error {
	qdiscs, err := netlink.QdiscList(lnk)
	if err != nil {
		return fmt.Errorf("list qdiscs: %w", err)
	}
	for _, q := range qdiscs {
		if q.Type() == "clsact" {
			return nil
		}
	}

	qdisc := &netlink.GenericQdisc{
		QdiscAttrs: netlink.QdiscAttrs{
			LinkIndex: lnk.Attrs().Index,
			Parent:    netlink.HANDLE_CLSACT,
		},
		QdiscType: "clsact",
	}
	if err := netlink.QdiscAdd(qdisc); err != nil {
		return fmt.Errorf("add clsact qdisc: %w", err)
	}
	return nil
}

// VerifyKernelSupport checks if the kernel supports required eBPF
// features before the classifier is loaded.
func VerifyKernelSupport() error {
	issues := host.VerifyBPFSupport()
	for _, issue := range issues {
		if issue.Fatal {
			return fmt.Errorf("kernel support verification failed: %s", issue.Message)
		}
	}
	return nil
}
