// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package eventdrain owns the userspace side of the seven pinned
// perf-event-array rings the classifier writes decisions and
// advisory process events to. One Reader runs per ring, decoding
// raw samples into internal/bpftypes structs and handing them to a
// Sink, the way internal/ebpf/socket's ring-buffer readers in the
// teacher drain DNS/TLS events on their own goroutines.
package eventdrain

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/perf"

	"grimm.is/furui/internal/bpftypes"
	"grimm.is/furui/internal/logging"
	"grimm.is/furui/internal/metrics"
)

// Sink receives decoded events. Implementations (e.g. a future audit
// log, or the container watcher refreshing PROCESS_PORT_TO_COMM) must
// not block - the reader goroutine that calls them is on the hot path
// between the kernel ring filling up and samples being dropped.
type Sink interface {
	SocketEvent(ring string, ev bpftypes.SocketEvent)
	ICMPEvent(ring string, ev bpftypes.ICMPEvent)
	ProcessEvent(ring string, ev bpftypes.ProcessEvent)
}

// Ring names the seven pinned perf-event-array maps, matching the
// PERF_RING() invocations in internal/ebpf/programs/c/classifier.c.
type Ring string

const (
	RingIngressSocket Ring = "ingress_events"
	RingEgressSocket  Ring = "egress_events"
	RingIngressICMP   Ring = "ingress_icmp_events"
	RingEgressICMP    Ring = "egress_icmp_events"
	RingBind          Ring = "bind_events"
	RingConnect       Ring = "connect_events"
	RingClose         Ring = "close_events"
)

// kind says how to decode a ring's raw samples.
type kind int

const (
	kindSocket kind = iota
	kindICMP
	kindProcess
)

// Drain owns one perf.Reader per ring and fans decoded events out to
// a Sink, tracking lost-sample counts per ring in metrics.
type Drain struct {
	logger  *logging.Logger
	metrics *metrics.Metrics
	sink    Sink
	readers map[Ring]*perf.Reader
}

// New opens a perf.Reader for every non-nil map in maps, which
// associates each Ring name with its backing *ebpf.Map, typically
// internal/ebpf/programs.ClassifierMaps translated by the caller.
func New(maps map[Ring]*ebpf.Map, sink Sink, m *metrics.Metrics, logger *logging.Logger) (*Drain, error) {
	d := &Drain{
		logger:  logger,
		metrics: m,
		sink:    sink,
		readers: make(map[Ring]*perf.Reader, len(maps)),
	}

	for ring, em := range maps {
		if em == nil {
			continue
		}
		rd, err := perf.NewReader(em, perfBufferPages*os.Getpagesize())
		if err != nil {
			d.closeAll()
			return nil, fmt.Errorf("open perf reader for ring %s: %w", ring, err)
		}
		d.readers[ring] = rd
	}

	return d, nil
}

// perfBufferPages sizes each ring's per-CPU mmap buffer.
const perfBufferPages = 64

// Run starts one goroutine per ring and blocks until ctx is
// cancelled, at which point every reader is closed and all goroutines
// have exited.
func (d *Drain) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		d.closeAll()
		close(done)
	}()

	for ring, rd := range d.readers {
		go d.drainRing(ring, rd)
	}

	<-done
}

func (d *Drain) drainRing(ring Ring, rd *perf.Reader) {
	log := d.logger.WithComponent("eventdrain").With("ring", string(ring))
	log.Info("started perf ring reader")

	k := kindFor(ring)

	for {
		record, err := rd.Read()
		if err != nil {
			if errors.Is(err, perf.ErrClosed) {
				log.Debug("perf ring reader closed")
				return
			}
			log.Debug("perf ring read error", "error", err)
			continue
		}

		if record.LostSamples > 0 {
			d.metrics.EventsLost.WithLabelValues(string(ring)).Add(float64(record.LostSamples))
			log.Debug("perf ring dropped samples", "count", record.LostSamples)
			continue
		}

		if err := d.dispatch(ring, k, record.RawSample); err != nil {
			log.Debug("failed to decode perf sample", "error", err)
		}
	}
}

func kindFor(ring Ring) kind {
	switch ring {
	case RingIngressSocket, RingEgressSocket:
		return kindSocket
	case RingIngressICMP, RingEgressICMP:
		return kindICMP
	default:
		return kindProcess
	}
}

func (d *Drain) dispatch(ring Ring, k kind, raw []byte) error {
	r := bytes.NewReader(raw)
	switch k {
	case kindSocket:
		var ev bpftypes.SocketEvent
		if err := binary.Read(r, binary.LittleEndian, &ev); err != nil {
			return fmt.Errorf("decode socket event: %w", err)
		}
		d.sink.SocketEvent(string(ring), ev)
	case kindICMP:
		var ev bpftypes.ICMPEvent
		if err := binary.Read(r, binary.LittleEndian, &ev); err != nil {
			return fmt.Errorf("decode icmp event: %w", err)
		}
		d.sink.ICMPEvent(string(ring), ev)
	case kindProcess:
		var ev bpftypes.ProcessEvent
		if err := binary.Read(r, binary.LittleEndian, &ev); err != nil {
			return fmt.Errorf("decode process event: %w", err)
		}
		d.sink.ProcessEvent(string(ring), ev)
	}
	return nil
}

func (d *Drain) closeAll() {
	for _, rd := range d.readers {
		rd.Close()
	}
}
