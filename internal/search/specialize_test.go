// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/furui/internal/bpftypes"
)

func containerID(b byte) [12]byte {
	var id [12]byte
	id[0] = b
	return id
}

func TestSocketVariantsMostSpecificFirst(t *testing.T) {
	key := bpftypes.PolicyKey{
		ContainerID: containerID(1),
		Comm:        [16]byte{'c', 'u', 'r', 'l'},
		RemoteIP:    0x01020304,
		LocalPort:   8080,
		RemotePort:  443,
		Proto:       6,
	}

	variants := SocketVariants(key)
	require.Len(t, variants, socketSteps)

	// Exact key first.
	assert.Equal(t, key, variants[0])

	// Fully wildcarded variant only keeps the container ID.
	last := variants[socketSteps-1]
	assert.Equal(t, key.ContainerID, last.ContainerID)
	assert.Zero(t, last.Comm)
	assert.Zero(t, last.RemoteIP)
	assert.Zero(t, last.RemotePort)
	assert.Zero(t, last.LocalPort)
	assert.Zero(t, last.Proto)
}

func TestSocketVariantsReachEveryFieldSubset(t *testing.T) {
	// A policy of the shape "this remote IP, any port, any process" -
	// the compiler leaves remote_ip set and everything else zero. A
	// search that can only drop fields in one fixed prefix order
	// (remote_ip, remote_port, local_port, proto, comm) can never
	// produce this subset, since dropping remote_port already implies
	// remote_ip was dropped first. The full powerset search must still
	// reach it.
	key := bpftypes.PolicyKey{
		ContainerID: containerID(9),
		Comm:        [16]byte{'c', 'u', 'r', 'l'},
		RemoteIP:    0x01010101,
		LocalPort:   33000,
		RemotePort:  443,
		Proto:       6,
	}
	want := bpftypes.PolicyKey{ContainerID: key.ContainerID, RemoteIP: key.RemoteIP}

	found := false
	for _, v := range SocketVariants(key) {
		if v == want {
			found = true
			break
		}
	}
	assert.True(t, found, "expected a variant with only remote_ip kept and every other field wildcarded")
}

func TestSocketLookupMatchesRemoteIPOnlyRule(t *testing.T) {
	// Egress curl 10.0.0.2:33000 -> 1.1.1.1:443 against a policy that
	// only names the remote IP (no port, no process) must pass.
	key := bpftypes.PolicyKey{
		ContainerID: containerID(1),
		Comm:        [16]byte{'c', 'u', 'r', 'l'},
		RemoteIP:    0x01010101,
		LocalPort:   33000,
		RemotePort:  443,
		Proto:       6,
	}
	rule := bpftypes.PolicyKey{ContainerID: key.ContainerID, RemoteIP: key.RemoteIP}
	table := map[bpftypes.PolicyKey]bpftypes.PolicyVal{
		rule: {Allow: 1},
	}

	val, step, ok := SocketLookup(table, key)
	require.True(t, ok, "expected the remote-IP-only rule to match")
	assert.Equal(t, uint8(1), val.Allow)
	assert.Greater(t, step, 0)
}

func TestSocketLookupPrefersExactMatch(t *testing.T) {
	key := bpftypes.PolicyKey{
		ContainerID: containerID(2),
		Comm:        [16]byte{'n', 'g', 'i', 'n', 'x'},
		RemoteIP:    0x0a000001,
		LocalPort:   80,
		RemotePort:  54321,
		Proto:       6,
	}

	table := map[bpftypes.PolicyKey]bpftypes.PolicyVal{
		SocketVariant(key, 0):         {Allow: 1}, // exact
		{ContainerID: key.ContainerID}: {Allow: 0}, // container-wide fallback
	}

	val, step, ok := SocketLookup(table, key)
	require.True(t, ok)
	assert.Equal(t, 0, step)
	assert.Equal(t, uint8(1), val.Allow)
}

func TestSocketLookupFallsBackToProcessAgnosticRule(t *testing.T) {
	key := bpftypes.PolicyKey{
		ContainerID: containerID(3),
		Comm:        [16]byte{'w', 'g', 'e', 't'},
		RemoteIP:    0x0a000002,
		LocalPort:   443,
		RemotePort:  12345,
		Proto:       6,
	}

	// Only a container-wide rule exists: any comm, any remote, any port.
	wildcard := bpftypes.PolicyKey{ContainerID: key.ContainerID}
	table := map[bpftypes.PolicyKey]bpftypes.PolicyVal{
		wildcard: {Allow: 1},
	}

	val, step, ok := SocketLookup(table, key)
	require.True(t, ok)
	assert.Equal(t, socketSteps-1, step)
	assert.Equal(t, uint8(1), val.Allow)
}

func TestSocketLookupMiss(t *testing.T) {
	key := bpftypes.PolicyKey{ContainerID: containerID(4), Proto: 17}
	_, step, ok := SocketLookup(map[bpftypes.PolicyKey]bpftypes.PolicyVal{}, key)
	assert.False(t, ok)
	assert.Equal(t, -1, step)
}

func TestICMPVariantsWildcardOrder(t *testing.T) {
	key := bpftypes.IcmpPolicyKey{
		ContainerID: containerID(5),
		Version:     4,
		Type:        8,
		Code:        0,
		RemoteIP:    0x0a000003,
	}

	variants := ICMPVariants(key)
	require.Len(t, variants, icmpSteps)
	assert.Equal(t, key, variants[0])

	last := variants[icmpSteps-1]
	assert.Zero(t, last.RemoteIP)
	assert.Equal(t, uint8(ICMPCodeAny), last.Code)
	assert.Equal(t, uint8(ICMPTypeAny), last.Type)
}

func TestICMPVariantsReachRemoteIPOnlySubset(t *testing.T) {
	key := bpftypes.IcmpPolicyKey{ContainerID: containerID(7), Version: 4, Type: 8, Code: 0, RemoteIP: 0x0a000004}
	want := bpftypes.IcmpPolicyKey{ContainerID: key.ContainerID, Version: key.Version, RemoteIP: key.RemoteIP, Type: ICMPTypeAny, Code: ICMPCodeAny}

	found := false
	for _, v := range ICMPVariants(key) {
		if v == want {
			found = true
			break
		}
	}
	assert.True(t, found, "expected a variant keeping only remote_ip specialized")
}

func TestICMPLookupNeighborDiscoveryIsNotSpecialCased(t *testing.T) {
	// NDP bypass (types 135/136) happens in the classifier before any
	// ICMP_POLICY lookup runs at all - this package only models the
	// lookup itself, so an exact match here behaves like any other type.
	key := bpftypes.IcmpPolicyKey{ContainerID: containerID(6), Version: 6, Type: 135, Code: 0}
	table := map[bpftypes.IcmpPolicyKey]bpftypes.IcmpPolicyVal{
		key: {Allow: 1},
	}
	val, step, ok := ICMPLookup(table, key)
	require.True(t, ok)
	assert.Equal(t, 0, step)
	assert.Equal(t, uint8(1), val.Allow)
}
