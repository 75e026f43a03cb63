// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package programs

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"grimm.is/furui/internal/logging"
)

// Classifier wraps the bpf2go-generated Classifier collection (two
// TC programs, furui_ingress and furui_egress, plus the three
// advisory tracepoints) and every link opened from it, across all
// container veths and the tracepoints.
type Classifier struct {
	objects ClassifierObjects
	logger  *logging.Logger
	links   []link.Link
}

// NewClassifier loads the classifier collection into the kernel
// without attaching it anywhere yet - one Classifier is loaded once
// per process and reused across every container veth via Attach.
func NewClassifier(logger *logging.Logger) (*Classifier, error) {
	spec, err := LoadClassifier()
	if err != nil {
		return nil, fmt.Errorf("load classifier spec: %w", err)
	}

	// All maps are pinned by name in the C source (see
	// internal/ebpf/programs/c/classifier.c) so a restart of the
	// loader reattaches to the same live policy state rather than
	// starting from empty tables.
	var objs ClassifierObjects
	if err := spec.LoadAndAssign(&objs, nil); err != nil {
		return nil, fmt.Errorf("load and assign classifier objects: %w", err)
	}

	return &Classifier{objects: objs, logger: logger}, nil
}

// Attach installs furui_ingress and furui_egress as TCX programs on
// ifaceIndex, returning the pair of links so the caller
// (internal/ebpf/loader) can track and later detach them
// independently of the collection itself.
func (c *Classifier) Attach(ifaceIndex int) ([]link.Link, error) {
	ingress, err := link.AttachTCX(link.TCXOptions{
		Program:   c.objects.FuruiIngress,
		Interface: ifaceIndex,
		Attach:    ebpf.AttachTCXIngress,
	})
	if err != nil {
		return nil, fmt.Errorf("attach ingress tcx on ifindex %d: %w", ifaceIndex, err)
	}

	egress, err := link.AttachTCX(link.TCXOptions{
		Program:   c.objects.FuruiEgress,
		Interface: ifaceIndex,
		Attach:    ebpf.AttachTCXEgress,
	})
	if err != nil {
		ingress.Close()
		return nil, fmt.Errorf("attach egress tcx on ifindex %d: %w", ifaceIndex, err)
	}

	links := []link.Link{ingress, egress}
	c.links = append(c.links, links...)
	return links, nil
}

// AttachTracepoints installs the advisory bind/connect/close
// tracepoints, run once globally (they are not per-veth like the TCX
// programs - a single set observes every process on the host and the
// programs themselves drop events from tasks whose network namespace
// is not in NETNS_TO_CONTAINER).
func (c *Classifier) AttachTracepoints() error {
	bind, err := link.Tracepoint("syscalls", "sys_enter_bind", c.objects.TraceBind, nil)
	if err != nil {
		return fmt.Errorf("attach bind tracepoint: %w", err)
	}
	c.links = append(c.links, bind)

	connect, err := link.Tracepoint("syscalls", "sys_enter_connect", c.objects.TraceConnect, nil)
	if err != nil {
		return fmt.Errorf("attach connect tracepoint: %w", err)
	}
	c.links = append(c.links, connect)

	closeTp, err := link.Tracepoint("sock", "inet_sock_set_state", c.objects.TraceClose, nil)
	if err != nil {
		return fmt.Errorf("attach close tracepoint: %w", err)
	}
	c.links = append(c.links, closeTp)

	return nil
}

// Maps exposes the raw *ebpf.Map handles backing each pinned map so
// internal/maps can wrap them in typed accessors without this
// package knowing anything about policy semantics.
func (c *Classifier) Maps() ClassifierMaps {
	return ClassifierMaps{
		ContainerIDFromIPs:   c.objects.ContainerIdFromIps,
		ContainerIDFromIPs6:  c.objects.ContainerIdFromIps6,
		ProcessPortToComm:    c.objects.ProcessPortToComm,
		NetnsToContainer:     c.objects.NetnsToContainer,
		SocketPolicy:         c.objects.SocketPolicy,
		ICMPPolicy:           c.objects.IcmpPolicy,
		IngressEvents:        c.objects.IngressEvents,
		EgressEvents:         c.objects.EgressEvents,
		IngressICMPEvents:    c.objects.IngressIcmpEvents,
		EgressICMPEvents:     c.objects.EgressIcmpEvents,
		BindEvents:           c.objects.BindEvents,
		ConnectEvents:        c.objects.ConnectEvents,
		CloseEvents:          c.objects.CloseEvents,
	}
}

// ClassifierMaps names every map the classifier collection exposes,
// so callers can depend on this small struct instead of the
// generated ClassifierObjects type directly.
type ClassifierMaps struct {
	ContainerIDFromIPs  *ebpf.Map
	ContainerIDFromIPs6 *ebpf.Map
	ProcessPortToComm   *ebpf.Map
	NetnsToContainer    *ebpf.Map
	SocketPolicy        *ebpf.Map
	ICMPPolicy          *ebpf.Map
	IngressEvents       *ebpf.Map
	EgressEvents        *ebpf.Map
	IngressICMPEvents   *ebpf.Map
	EgressICMPEvents    *ebpf.Map
	BindEvents          *ebpf.Map
	ConnectEvents       *ebpf.Map
	CloseEvents         *ebpf.Map
}

// DetachAll closes every link this Classifier has opened, for any
// veth it was attached to, in the order they were attached.
func (c *Classifier) DetachAll() error {
	var firstErr error
	for _, l := range c.links {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.links = nil
	return firstErr
}

// Close releases the loaded collection. Call after DetachAll.
func (c *Classifier) Close() error {
	return c.objects.Close()
}
