// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netutil

import (
	"fmt"
	"runtime"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// ResolveVeth finds the host-side veth name for the container whose
// first process has host PID pid. The kernel populates a veth's
// IFLA_LINK attribute with its peer's ifindex even when the peer
// lives in a different network namespace, so entering the
// container's namespace and reading its interface's ParentIndex
// yields the peer's ifindex in the host namespace directly - no
// scan of every host veth is needed.
func ResolveVeth(pid int) (string, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	hostNS, err := netns.Get()
	if err != nil {
		return "", fmt.Errorf("get host netns: %w", err)
	}
	defer hostNS.Close()
	defer netns.Set(hostNS)

	containerNS, err := netns.GetFromPid(pid)
	if err != nil {
		return "", fmt.Errorf("get netns for pid %d: %w", pid, err)
	}
	defer containerNS.Close()

	if err := netns.Set(containerNS); err != nil {
		return "", fmt.Errorf("enter netns of pid %d: %w", pid, err)
	}

	peerIndex, err := firstVethPeerIndex()
	if err != nil {
		return "", err
	}

	if err := netns.Set(hostNS); err != nil {
		return "", fmt.Errorf("restore host netns: %w", err)
	}

	hostLink, err := netlink.LinkByIndex(peerIndex)
	if err != nil {
		return "", fmt.Errorf("resolve host veth for peer ifindex %d: %w", peerIndex, err)
	}
	return hostLink.Attrs().Name, nil
}

// NetnsInode returns the inode number identifying the network
// namespace of the process with host PID pid - the same identifier
// the kernel exposes as the target of the /proc/<pid>/ns/net symlink,
// and what classifier.c's advisory tracepoints read off the current
// task to resolve it to a container via NETNS_TO_CONTAINER.
func NetnsInode(pid int) (uint32, error) {
	ns, err := netns.GetFromPid(pid)
	if err != nil {
		return 0, fmt.Errorf("get netns for pid %d: %w", pid, err)
	}
	defer ns.Close()

	var stat unix.Stat_t
	if err := unix.Fstat(int(ns), &stat); err != nil {
		return 0, fmt.Errorf("stat netns for pid %d: %w", pid, err)
	}
	return uint32(stat.Ino), nil
}

// firstVethPeerIndex returns the host-namespace ifindex of the first
// non-loopback interface's peer, assuming the caller has already
// entered the container's network namespace.
func firstVethPeerIndex() (int, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return 0, fmt.Errorf("list links in container netns: %w", err)
	}

	for _, l := range links {
		attrs := l.Attrs()
		if attrs.Name == "lo" {
			continue
		}
		if attrs.ParentIndex > 0 {
			return attrs.ParentIndex, nil
		}
	}
	return 0, fmt.Errorf("no veth peer found in container network namespace")
}
