// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package bpftypes mirrors the fixed-width C structs shared with the
// eBPF classifiers in internal/ebpf/programs/c/classifier.c. Field
// order and padding here must match the C side byte-for-byte: these
// values cross the kernel/userspace boundary through cilium/ebpf's
// binary struct marshaling, which has no notion of Go field tags.
package bpftypes

// ContainerIP is the value stored in CONTAINER_ID_FROM_IPS (keyed by
// ContainerIPKey4) and CONTAINER_ID_FROM_IPS6 (keyed by ContainerIPKey6).
type ContainerIP struct {
	ContainerID [12]byte
}

// ContainerIPKey4 keys CONTAINER_ID_FROM_IPS for IPv4 addresses.
type ContainerIPKey4 struct {
	IP uint32
}

// ContainerIPKey6 keys CONTAINER_ID_FROM_IPS for IPv6 addresses.
type ContainerIPKey6 struct {
	IP [16]byte
}

// PortKey is the PROCESS_PORT_TO_COMM key: one entry per
// (container, local port, protocol) tuple a process has bound, or that
// the /proc scan found listening.
type PortKey struct {
	ContainerID [12]byte
	Port        uint16
	Proto       uint8
	_           uint8 // pad to 16 bytes
}

// PortVal carries the comm of the process that owns PortKey.
type PortVal struct {
	Comm [16]byte
}

// PolicyKey is the wildcard-capable key into SOCKET_POLICY. Fields
// that are "don't care" for a given rule are zeroed, and the
// specialization search in internal/search tries increasingly
// general variants of this struct in a fixed order.
type PolicyKey struct {
	ContainerID [12]byte
	Comm        [16]byte
	RemoteIP    uint32
	RemoteIPv6  [16]byte
	LocalPort   uint16
	RemotePort  uint16
	Proto       uint8
	_           [3]byte // pad to 8-byte alignment
}

// PolicyVal is the verdict attached to a PolicyKey match.
type PolicyVal struct {
	Allow uint8
	_     [7]byte
}

// IcmpPolicyKey is the wildcard-capable key into ICMP_POLICY. Type
// and Code use 255 as the "any" sentinel, matching the precedence
// order ICMP rules are specialized in.
type IcmpPolicyKey struct {
	ContainerID [12]byte
	Version     uint8 // 4 or 6
	Type        uint8
	Code        uint8
	_           uint8
	RemoteIP    uint32
	RemoteIPv6  [16]byte
}

// IcmpPolicyVal is the verdict attached to an IcmpPolicyKey match.
type IcmpPolicyVal struct {
	Allow uint8
	_     [7]byte
}

// Verdict mirrors the TC action codes a classifier program returns.
type Verdict uint32

const (
	VerdictOK   Verdict = 0 // TC_ACT_OK - pass
	VerdictShot Verdict = 2 // TC_ACT_SHOT - drop
)

// EventKind tags which ring / classifier produced an Event.
type EventKind uint8

const (
	EventIngressSocket EventKind = iota
	EventEgressSocket
	EventIngressICMP
	EventEgressICMP
	EventBind
	EventConnect
	EventClose
)

// SocketEvent is emitted on a TCP/UDP socket-policy decision, for
// both the ingress and egress rings (4 and 6 variants share this Go
// shape; IsV6 disambiguates which address family populated the IP
// fields).
type SocketEvent struct {
	ContainerID [12]byte
	Comm        [16]byte
	RemoteIP    uint32
	RemoteIPv6  [16]byte
	LocalPort   uint16
	RemotePort  uint16
	Proto       uint8
	IsV6        uint8
	_           [2]byte // pad verdict to 4-byte alignment, as C does
	Verdict     uint32
}

// ICMPEvent is emitted on an ICMP policy decision.
type ICMPEvent struct {
	ContainerID [12]byte
	RemoteIP    uint32
	RemoteIPv6  [16]byte
	Type        uint8
	Code        uint8
	IsV6        uint8
	_           uint8
	Verdict     uint32
}

// ProcessEvent is emitted by the advisory bind/connect/close
// tracepoints, used to refresh PROCESS_PORT_TO_COMM reactively.
type ProcessEvent struct {
	ContainerID [12]byte
	Comm        [16]byte
	Port        uint16
	Proto       uint8
	_           uint8
}
