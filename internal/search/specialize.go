// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package search implements, in pure Go, the same bounded
// specialization-key search the eBPF classifiers run against
// SOCKET_POLICY and ICMP_POLICY. The kernel side unrolls this as a
// fixed, statically-ordered sequence of lookups so it stays within
// the verifier's loop-count limits; this package is the Go reference
// implementation of that order, exercised by this package's tests.
//
// The search walks every subset of the specializable fields (remote
// address, remote port, local port, protocol, comm for sockets;
// remote address, code, type for ICMP), not just a chain that drops
// one fixed field at a time: a rule written as "this remote IP, any
// port" needs remote address kept while remote/local port are both
// wildcarded, which is not a prefix of any single field order. Order
// is by how many fields are wildcarded, fewest first, so an exact
// match always wins over a partial one and a partial match always
// wins over a more general one; ties (same number of fields
// wildcarded) break on field order, preferring to wildcard comm
// before protocol before local port before remote port before remote
// address, matching the field importance a single-chain search would
// have given them.
package search

import "grimm.is/furui/internal/bpftypes"

const (
	socketBitComm = 1 << iota
	socketBitProto
	socketBitLocalPort
	socketBitRemotePort
	socketBitRemoteIP
)

// socketMasks is every subset of the five socket fields, ordered by
// popcount (fields wildcarded) ascending; within a popcount, by
// ascending bit value, which wildcards less significant fields
// (comm, then proto, then local port) before more significant ones
// (remote port, then remote address). This is the order
// classifier.c's lookup_socket_policy replays as an unrolled loop.
var socketMasks = [32]uint8{
	0,
	1, 2, 4, 8, 16,
	3, 5, 6, 9, 10, 12, 17, 18, 20, 24,
	7, 11, 13, 14, 19, 21, 22, 25, 26, 28,
	15, 23, 27, 29, 30,
	31,
}

// socketSteps is the number of specialization variants a socket key
// has: every subset of its five specializable fields.
const socketSteps = len(socketMasks)

// SocketVariant returns the step-th specialization of key, in the
// order socketMasks defines. step 0 is the exact key; step
// socketSteps-1 wildcards every specializable field, leaving only the
// container ID.
func SocketVariant(key bpftypes.PolicyKey, step int) bpftypes.PolicyKey {
	v := key
	mask := socketMasks[step]
	if mask&socketBitRemoteIP != 0 {
		v.RemoteIP = 0
		v.RemoteIPv6 = [16]byte{}
	}
	if mask&socketBitRemotePort != 0 {
		v.RemotePort = 0
	}
	if mask&socketBitLocalPort != 0 {
		v.LocalPort = 0
	}
	if mask&socketBitProto != 0 {
		v.Proto = 0
	}
	if mask&socketBitComm != 0 {
		v.Comm = [16]byte{}
	}
	return v
}

// SocketVariants returns every variant of key in search order,
// exact-match first, terminating at the fully wildcarded variant.
// It is the order the egress/ingress classifiers in
// internal/ebpf/programs/c/classifier.c replay as an unrolled loop.
func SocketVariants(key bpftypes.PolicyKey) []bpftypes.PolicyKey {
	variants := make([]bpftypes.PolicyKey, socketSteps)
	for i := range variants {
		variants[i] = SocketVariant(key, i)
	}
	return variants
}

// SocketLookup looks up key's specializations in order against a
// plain map, mirroring the kernel search; the first hit wins. It returns the matched value, the step at which it matched,
// and whether any variant matched at all.
func SocketLookup(table map[bpftypes.PolicyKey]bpftypes.PolicyVal, key bpftypes.PolicyKey) (bpftypes.PolicyVal, int, bool) {
	for step, variant := range SocketVariants(key) {
		if val, ok := table[variant]; ok {
			return val, step, true
		}
	}
	return bpftypes.PolicyVal{}, -1, false
}

// ICMPTypeAny and ICMPCodeAny are the "don't care" sentinels for
// IcmpPolicyKey.Type / .Code - 255 is not a valid ICMP type or code,
// so it is unambiguous as a wildcard marker (0 is not usable: it is
// a real type/code, e.g. echo-reply).
const (
	ICMPTypeAny = 255
	ICMPCodeAny = 255
)

const (
	icmpBitRemoteIP = 1 << iota
	icmpBitCode
	icmpBitType
)

// icmpMasks is every subset of the three ICMP fields, ordered the
// same way socketMasks is.
var icmpMasks = [8]uint8{
	0,
	1, 2, 4,
	3, 5, 6,
	7,
}

// icmpSteps is the number of specialization variants an ICMP key has.
const icmpSteps = len(icmpMasks)

// ICMPVariant returns the step-th specialization of key, in the order
// icmpMasks defines.
func ICMPVariant(key bpftypes.IcmpPolicyKey, step int) bpftypes.IcmpPolicyKey {
	v := key
	mask := icmpMasks[step]
	if mask&icmpBitRemoteIP != 0 {
		v.RemoteIP = 0
		v.RemoteIPv6 = [16]byte{}
	}
	if mask&icmpBitCode != 0 {
		v.Code = ICMPCodeAny
	}
	if mask&icmpBitType != 0 {
		v.Type = ICMPTypeAny
	}
	return v
}

// ICMPVariants returns every variant of key in search order.
func ICMPVariants(key bpftypes.IcmpPolicyKey) []bpftypes.IcmpPolicyKey {
	variants := make([]bpftypes.IcmpPolicyKey, icmpSteps)
	for i := range variants {
		variants[i] = ICMPVariant(key, i)
	}
	return variants
}

// ICMPLookup is the ICMP_POLICY analogue of SocketLookup.
func ICMPLookup(table map[bpftypes.IcmpPolicyKey]bpftypes.IcmpPolicyVal, key bpftypes.IcmpPolicyKey) (bpftypes.IcmpPolicyVal, int, bool) {
	for step, variant := range ICMPVariants(key) {
		if val, ok := table[variant]; ok {
			return val, step, true
		}
	}
	return bpftypes.IcmpPolicyVal{}, -1, false
}
