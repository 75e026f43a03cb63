// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policy

import (
	"net"

	"grimm.is/furui/internal/bpftypes"
	"grimm.is/furui/internal/container"
	"grimm.is/furui/internal/maps"
)

const (
	protoTCP = 6
	protoUDP = 17
)

// Compiled is the flat key set a Document compiles to, ready for
// internal/maps.PolicyMap.Reload and IcmpPolicyMap.Reload.
type Compiled struct {
	Socket maps.KeySet
	ICMP   maps.ICMPKeySet
}

// Compiler turns a Document into a Compiled key set, resolving each
// policy's container name through registry - the only place a
// container name and a container ID ever meet.
type Compiler struct {
	registry *container.Registry
}

// NewCompiler returns a Compiler resolving container names against registry.
func NewCompiler(registry *container.Registry) *Compiler {
	return &Compiler{registry: registry}
}

// Compile compiles every policy in doc whose container is currently
// resolvable. A policy naming a container that has not started yet
// is skipped, not an error - internal/container.Watcher recompiles on
// every container start, so the rule takes effect the moment its
// container appears.
func (c *Compiler) Compile(doc *Document) (Compiled, error) {
	out := Compiled{Socket: make(maps.KeySet), ICMP: make(maps.ICMPKeySet)}

	for _, p := range doc.Policies {
		id, err := c.registry.ResolveName(p.Container.Name)
		if err != nil {
			continue
		}

		for _, comm := range p.Communication {
			compileCommunication(out, id, comm)
		}
	}

	return out, nil
}

func compileCommunication(out Compiled, id [12]byte, comm Communication) {
	var commBytes [16]byte
	copy(commBytes[:], comm.Process)

	if len(comm.Sockets) == 0 && len(comm.ICMP) == 0 {
		// The privileged {container, comm} shortcut: this process (or,
		// if comm.Process is empty, the whole container) may talk to
		// anything over any protocol/port.
		key := bpftypes.PolicyKey{ContainerID: id, Comm: commBytes}
		out.Socket[key] = bpftypes.PolicyVal{Allow: 1}
		return
	}

	for _, s := range comm.Sockets {
		key := bpftypes.PolicyKey{
			ContainerID: id,
			Comm:        commBytes,
			Proto:       protoForName(s.Protocol),
		}
		if s.LocalPort != nil {
			key.LocalPort = *s.LocalPort
		}
		if s.RemotePort != nil {
			key.RemotePort = *s.RemotePort
		}
		if s.RemoteIP != "" {
			setRemoteIP(&key, s.RemoteIP)
		}
		out.Socket[key] = bpftypes.PolicyVal{Allow: 1}
	}

	for _, ic := range comm.ICMP {
		key := bpftypes.IcmpPolicyKey{
			ContainerID: id,
			Version:     uint8(ic.Version),
			Type:        ic.Type,
			Code:        255, // "any", narrowed below when Code is set
		}
		if ic.Code != nil {
			key.Code = *ic.Code
		}
		if ic.RemoteIP != "" {
			setRemoteICMPIP(&key, ic.RemoteIP)
		}
		out.ICMP[key] = bpftypes.IcmpPolicyVal{Allow: 1}
	}
}

func protoForName(name string) uint8 {
	switch name {
	case "UDP":
		return protoUDP
	default:
		return protoTCP
	}
}

func setRemoteIP(key *bpftypes.PolicyKey, ipStr string) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return
	}
	if v4 := ip.To4(); v4 != nil {
		key.RemoteIP = uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
		return
	}
	copy(key.RemoteIPv6[:], ip.To16())
}

func setRemoteICMPIP(key *bpftypes.IcmpPolicyKey, ipStr string) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return
	}
	if v4 := ip.To4(); v4 != nil {
		key.RemoteIP = uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
		return
	}
	copy(key.RemoteIPv6[:], ip.To16())
}
