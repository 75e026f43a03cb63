// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"context"
	"sync"

	"grimm.is/furui/internal/bpftypes"
	"grimm.is/furui/internal/eventdrain"
	"grimm.is/furui/internal/eventlog"
	"grimm.is/furui/internal/logging"
	"grimm.is/furui/internal/maps"
	"grimm.is/furui/internal/metrics"
	"grimm.is/furui/internal/policy"
)

// policyApplier is the glue between internal/policy,
// internal/policywatch and internal/container: it is both a
// policywatch.ReloadFunc (re-parse, recompile, reload the maps) and a
// container.PolicyResolver (a container appearing may make a
// previously-unresolvable policy resolvable, so it gets the same
// full reload rather than a partial patch).
type policyApplier struct {
	path     string
	compiler *policy.Compiler
	maps     *maps.Maps
	metrics  *metrics.Metrics
	logger   *logging.Logger

	// mu serializes reloads: the policy file watcher and the
	// container watcher both call Reload from their own goroutines.
	mu sync.Mutex
}

// Reload re-parses the policy document, recompiles it against the
// current container registry, and installs the result.
func (a *policyApplier) Reload(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	doc, err := policy.Parse(a.path)
	if err != nil {
		a.metrics.PolicyReloadTotal.WithLabelValues("failure").Inc()
		return err
	}

	compiled, err := a.compiler.Compile(doc)
	if err != nil {
		a.metrics.PolicyReloadTotal.WithLabelValues("failure").Inc()
		return err
	}

	if err := a.maps.Policy.Reload(compiled.Socket); err != nil {
		a.metrics.PolicyReloadTotal.WithLabelValues("failure").Inc()
		return err
	}
	if err := a.maps.ICMP.Reload(compiled.ICMP); err != nil {
		a.metrics.PolicyReloadTotal.WithLabelValues("failure").Inc()
		return err
	}

	a.metrics.PolicyReloadTotal.WithLabelValues("success").Inc()
	a.metrics.PolicyMapEntries.Set(float64(len(compiled.Socket)))
	a.metrics.ICMPPolicyEntries.Set(float64(len(compiled.ICMP)))
	a.logger.Info("reloaded policy", "socket_rules", len(compiled.Socket), "icmp_rules", len(compiled.ICMP))
	return nil
}

// ResolveContainer implements container.PolicyResolver: any container
// appearing might resolve a policy naming it, so it gets the same
// full reload a file-change event would trigger.
func (a *policyApplier) ResolveContainer(name string) {
	if err := a.Reload(context.Background()); err != nil {
		a.logger.Error("failed to reload policy on container resolution", "container_name", name, "error", err)
	}
}

// eventSink implements eventdrain.Sink: it turns decoded perf events
// into metrics and, for the advisory bind/connect/close tracepoints,
// drives the reactive PROCESS_PORT_TO_COMM refresh that keeps port
// ownership current without waiting on the next /proc scan.
type eventSink struct {
	maps    *maps.Maps
	metrics *metrics.Metrics
	logger  *logging.Logger
}

func (s *eventSink) SocketEvent(ring string, ev bpftypes.SocketEvent) {
	s.countVerdict(bpftypes.Verdict(ev.Verdict))
	s.logger.Debug("socket event", "event_id", eventlog.NewID(), "ring", ring, "container_id", ev.ContainerID, "comm", ev.Comm, "proto", ev.Proto, "local_port", ev.LocalPort, "remote_port", ev.RemotePort, "verdict", ev.Verdict)
}

func (s *eventSink) ICMPEvent(ring string, ev bpftypes.ICMPEvent) {
	s.countVerdict(bpftypes.Verdict(ev.Verdict))
	s.logger.Debug("icmp event", "event_id", eventlog.NewID(), "ring", ring, "container_id", ev.ContainerID, "type", ev.Type, "code", ev.Code, "verdict", ev.Verdict)
}

func (s *eventSink) countVerdict(v bpftypes.Verdict) {
	switch v {
	case bpftypes.VerdictOK:
		s.metrics.PacketsPassed.Inc()
	case bpftypes.VerdictShot:
		s.metrics.PacketsDropped.Inc()
	}
}

func (s *eventSink) ProcessEvent(ring string, ev bpftypes.ProcessEvent) {
	var err error
	switch eventdrain.Ring(ring) {
	case eventdrain.RingBind:
		err = s.maps.Port.Save(ev.ContainerID, ev.Port, ev.Proto, ev.Comm)
	case eventdrain.RingClose:
		err = s.maps.Port.Delete(ev.ContainerID, ev.Port, ev.Proto)
	case eventdrain.RingConnect:
		// Connect carries no port/protocol - it is purely
		// observational and never touches PROCESS_PORT_TO_COMM.
		return
	}
	if err != nil {
		s.logger.Error("failed to refresh port map from process event", "ring", ring, "port", ev.Port, "proto", ev.Proto, "error", err)
	}
}
