// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package maps wraps the classifier's pinned eBPF maps in typed,
// domain-shaped accessors so the rest of furui never touches
// *ebpf.Map or bpftypes structs directly: one typed wrapper per map
// shape, specialized to furui's five map shapes.
package maps

import (
	"net"

	"github.com/cilium/ebpf"

	"grimm.is/furui/internal/bpftypes"
	"grimm.is/furui/internal/ebpf/programs"
	"grimm.is/furui/internal/errors"
)

// Maps bundles typed handles to every classifier map.
type Maps struct {
	Container *ContainerMap
	Port      *PortMap
	Netns     *NetnsMap
	Policy    *PolicyMap
	ICMP      *IcmpPolicyMap
}

// New wraps the raw maps a loader.Loader exposes.
func New(raw programs.ClassifierMaps) *Maps {
	return &Maps{
		Container: &ContainerMap{v4: raw.ContainerIDFromIPs, v6: raw.ContainerIDFromIPs6},
		Port:      &PortMap{m: raw.ProcessPortToComm},
		Netns:     &NetnsMap{m: raw.NetnsToContainer},
		Policy:    &PolicyMap{m: raw.SocketPolicy},
		ICMP:      &IcmpPolicyMap{m: raw.ICMPPolicy},
	}
}

// ContainerMap is CONTAINER_ID_FROM_IPS{,6}: every IP a container
// owns maps to its 12-byte ID, one map entry per IP as
// container.Watcher inserts them (mirroring
// original_source's ContainerMap.save_id_with_ips, which never
// batches IPs into a single entry).
type ContainerMap struct {
	v4 *ebpf.Map
	v6 *ebpf.Map
}

// Save inserts one entry per address in ips, all resolving to id.
func (c *ContainerMap) Save(id [12]byte, ips []net.IP) error {
	val := bpftypes.ContainerIP{ContainerID: id}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			key := bpftypes.ContainerIPKey4{IP: ipv4ToUint32(v4)}
			if err := c.v4.Put(key, val); err != nil {
				return errors.Wrapf(err, errors.KindInternal, "save container ip %s", ip)
			}
			continue
		}
		var key bpftypes.ContainerIPKey6
		copy(key.IP[:], ip.To16())
		if err := c.v6.Put(key, val); err != nil {
			return errors.Wrapf(err, errors.KindInternal, "save container ip %s", ip)
		}
	}
	return nil
}

// Delete removes every entry resolving to the addresses in ips. An
// address with no entry is not an error.
func (c *ContainerMap) Delete(ips []net.IP) error {
	var firstErr error
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			key := bpftypes.ContainerIPKey4{IP: ipv4ToUint32(v4)}
			if err := c.v4.Delete(key); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) && firstErr == nil {
				firstErr = err
			}
			continue
		}
		var key bpftypes.ContainerIPKey6
		copy(key.IP[:], ip.To16())
		if err := c.v6.Delete(key); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Lookup resolves ip to a container ID.
func (c *ContainerMap) Lookup(ip net.IP) (bpftypes.ContainerIP, bool, error) {
	var val bpftypes.ContainerIP
	if v4 := ip.To4(); v4 != nil {
		key := bpftypes.ContainerIPKey4{IP: ipv4ToUint32(v4)}
		err := c.v4.Lookup(key, &val)
		return lookupResult(val, err)
	}
	var key bpftypes.ContainerIPKey6
	copy(key.IP[:], ip.To16())
	err := c.v6.Lookup(key, &val)
	return lookupResult(val, err)
}

func lookupResult(val bpftypes.ContainerIP, err error) (bpftypes.ContainerIP, bool, error) {
	if err != nil {
		if errors.Is(err, ebpf.ErrKeyNotExist) {
			return bpftypes.ContainerIP{}, false, nil
		}
		return bpftypes.ContainerIP{}, false, err
	}
	return val, true, nil
}

// PortMap is PROCESS_PORT_TO_COMM.
type PortMap struct {
	m *ebpf.Map
}

// Save records that comm owns port/proto within container id.
func (p *PortMap) Save(id [12]byte, port uint16, proto uint8, comm [16]byte) error {
	key := bpftypes.PortKey{ContainerID: id, Port: port, Proto: proto}
	val := bpftypes.PortVal{Comm: comm}
	if err := p.m.Put(key, val); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "save port %d/%d for container", port, proto)
	}
	return nil
}

// Delete removes the comm recorded for port/proto within container id.
func (p *PortMap) Delete(id [12]byte, port uint16, proto uint8) error {
	key := bpftypes.PortKey{ContainerID: id, Port: port, Proto: proto}
	if err := p.m.Delete(key); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
		return errors.Wrapf(err, errors.KindInternal, "delete port %d/%d for container", port, proto)
	}
	return nil
}

// DeleteContainer removes every PortKey entry belonging to id.
func (p *PortMap) DeleteContainer(id [12]byte) error {
	var key bpftypes.PortKey
	var val bpftypes.PortVal
	var stale []bpftypes.PortKey

	it := p.m.Iterate()
	for it.Next(&key, &val) {
		if key.ContainerID == id {
			stale = append(stale, key)
		}
	}
	if err := it.Err(); err != nil {
		return errors.Wrap(err, errors.KindInternal, "iterate port map")
	}
	for _, k := range stale {
		if err := p.m.Delete(k); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
			return errors.Wrapf(err, errors.KindInternal, "delete stale port entry for container")
		}
	}
	return nil
}

// NetnsMap is NETNS_TO_CONTAINER: it lets the advisory bind/connect/
// close tracepoints - which see every task on the host - tell a
// container process from a host one, by its network namespace inode.
type NetnsMap struct {
	m *ebpf.Map
}

// Save records that the network namespace identified by inode belongs
// to container id.
func (n *NetnsMap) Save(inode uint32, id [12]byte) error {
	val := bpftypes.ContainerIP{ContainerID: id}
	if err := n.m.Put(inode, val); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "save netns %d for container", inode)
	}
	return nil
}

// Delete removes the netns-to-container association for inode.
func (n *NetnsMap) Delete(inode uint32) error {
	if err := n.m.Delete(inode); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
		return errors.Wrapf(err, errors.KindInternal, "delete netns %d", inode)
	}
	return nil
}

// PolicyMap is SOCKET_POLICY: the insert-before-remove reload
// transaction lives here, not in internal/policy, so any caller
// reloading policy goes through the same rollback path.
type PolicyMap struct {
	m *ebpf.Map
}

// KeySet is a flat set of policy keys with their verdicts, as
// produced by internal/policy.Compiler.Compile.
type KeySet map[bpftypes.PolicyKey]bpftypes.PolicyVal

// Reload installs desired, inserting every new/changed key first and
// only then removing keys no longer present, rolling back every
// insert made so far if any single insert fails.
func (p *PolicyMap) Reload(desired KeySet) error {
	current, err := p.snapshot()
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "snapshot current policy")
	}

	inserted := make([]bpftypes.PolicyKey, 0, len(desired))
	for key, val := range desired {
		if existing, ok := current[key]; ok && existing == val {
			continue
		}
		if err := p.m.Put(key, val); err != nil {
			for _, k := range inserted {
				_ = p.m.Delete(k)
			}
			return errors.Wrapf(err, errors.KindInternal, "insert policy key during reload, rolled back %d keys", len(inserted))
		}
		inserted = append(inserted, key)
	}

	for key := range current {
		if _, keep := desired[key]; !keep {
			if err := p.m.Delete(key); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
				return errors.Wrap(err, errors.KindInternal, "remove stale policy key during reload")
			}
		}
	}

	return nil
}

func (p *PolicyMap) snapshot() (KeySet, error) {
	out := make(KeySet)
	var key bpftypes.PolicyKey
	var val bpftypes.PolicyVal
	it := p.m.Iterate()
	for it.Next(&key, &val) {
		out[key] = val
	}
	return out, it.Err()
}

// IcmpPolicyMap is ICMP_POLICY, the analogue of PolicyMap for ICMP
// rules.
type IcmpPolicyMap struct {
	m *ebpf.Map
}

// ICMPKeySet is the ICMP analogue of KeySet.
type ICMPKeySet map[bpftypes.IcmpPolicyKey]bpftypes.IcmpPolicyVal

// Reload is ICMPPolicyMap's insert-before-remove transaction,
// symmetric with PolicyMap.Reload.
func (p *IcmpPolicyMap) Reload(desired ICMPKeySet) error {
	current, err := p.snapshot()
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "snapshot current icmp policy")
	}

	inserted := make([]bpftypes.IcmpPolicyKey, 0, len(desired))
	for key, val := range desired {
		if existing, ok := current[key]; ok && existing == val {
			continue
		}
		if err := p.m.Put(key, val); err != nil {
			for _, k := range inserted {
				_ = p.m.Delete(k)
			}
			return errors.Wrapf(err, errors.KindInternal, "insert icmp policy key during reload, rolled back %d keys", len(inserted))
		}
		inserted = append(inserted, key)
	}

	for key := range current {
		if _, keep := desired[key]; !keep {
			if err := p.m.Delete(key); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
				return errors.Wrap(err, errors.KindInternal, "remove stale icmp policy key during reload")
			}
		}
	}

	return nil
}

func (p *IcmpPolicyMap) snapshot() (ICMPKeySet, error) {
	out := make(ICMPKeySet)
	var key bpftypes.IcmpPolicyKey
	var val bpftypes.IcmpPolicyVal
	it := p.m.Iterate()
	for it.Next(&key, &val) {
		out[key] = val
	}
	return out, it.Err()
}

func ipv4ToUint32(ip net.IP) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}
