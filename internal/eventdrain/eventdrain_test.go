// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package eventdrain

import (
	"bytes"
	"encoding/binary"
	"testing"

	"grimm.is/furui/internal/bpftypes"
	"grimm.is/furui/internal/logging"
	"grimm.is/furui/internal/metrics"
)

type recordingSink struct {
	sockets   []bpftypes.SocketEvent
	icmps     []bpftypes.ICMPEvent
	processes []bpftypes.ProcessEvent
}

func (s *recordingSink) SocketEvent(ring string, ev bpftypes.SocketEvent)   { s.sockets = append(s.sockets, ev) }
func (s *recordingSink) ICMPEvent(ring string, ev bpftypes.ICMPEvent)       { s.icmps = append(s.icmps, ev) }
func (s *recordingSink) ProcessEvent(ring string, ev bpftypes.ProcessEvent) { s.processes = append(s.processes, ev) }

func encode(t *testing.T, v any) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestKindForRingMapping(t *testing.T) {
	cases := map[Ring]kind{
		RingIngressSocket: kindSocket,
		RingEgressSocket:  kindSocket,
		RingIngressICMP:   kindICMP,
		RingEgressICMP:    kindICMP,
		RingBind:          kindProcess,
		RingConnect:       kindProcess,
		RingClose:         kindProcess,
	}
	for ring, want := range cases {
		if got := kindFor(ring); got != want {
			t.Errorf("kindFor(%s) = %v, want %v", ring, got, want)
		}
	}
}

func TestDispatchDecodesSocketEvent(t *testing.T) {
	sink := &recordingSink{}
	d := &Drain{logger: logging.New(logging.DefaultConfig()), metrics: metrics.New(), sink: sink}

	want := bpftypes.SocketEvent{
		RemoteIP:   0x0100007f,
		LocalPort:  8080,
		RemotePort: 443,
		Proto:      6,
		Verdict:    0,
	}
	copy(want.ContainerID[:], "abcdefghijkl")
	copy(want.Comm[:], "nginx")

	if err := d.dispatch(RingIngressSocket, kindSocket, encode(t, want)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(sink.sockets) != 1 {
		t.Fatalf("expected 1 socket event, got %d", len(sink.sockets))
	}
	if sink.sockets[0] != want {
		t.Errorf("decoded event mismatch: got %+v, want %+v", sink.sockets[0], want)
	}
}

func TestDispatchDecodesICMPEvent(t *testing.T) {
	sink := &recordingSink{}
	d := &Drain{logger: logging.New(logging.DefaultConfig()), metrics: metrics.New(), sink: sink}

	want := bpftypes.ICMPEvent{Type: 8, Code: 0, Verdict: 2}
	copy(want.ContainerID[:], "abcdefghijkl")

	if err := d.dispatch(RingIngressICMP, kindICMP, encode(t, want)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(sink.icmps) != 1 || sink.icmps[0] != want {
		t.Errorf("decoded icmp event mismatch: got %+v, want %+v", sink.icmps, want)
	}
}

func TestDispatchDecodesProcessEvent(t *testing.T) {
	sink := &recordingSink{}
	d := &Drain{logger: logging.New(logging.DefaultConfig()), metrics: metrics.New(), sink: sink}

	want := bpftypes.ProcessEvent{Port: 53, Proto: 17}
	copy(want.ContainerID[:], "abcdefghijkl")
	copy(want.Comm[:], "dnsmasq")

	if err := d.dispatch(RingBind, kindProcess, encode(t, want)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(sink.processes) != 1 || sink.processes[0] != want {
		t.Errorf("decoded process event mismatch: got %+v, want %+v", sink.processes, want)
	}
}

func TestDispatchRejectsTruncatedSample(t *testing.T) {
	sink := &recordingSink{}
	d := &Drain{logger: logging.New(logging.DefaultConfig()), metrics: metrics.New(), sink: sink}

	if err := d.dispatch(RingIngressSocket, kindSocket, []byte{1, 2, 3}); err == nil {
		t.Error("expected error decoding truncated sample")
	}
}
