// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package procscan implements internal/container.PortDiscoverer by
// reading procfs directly, the best-effort /proc walk that stands in
// for a real `containers -> [(container, pid, comm, port, proto)]`
// collaborator: container.Watcher works fine without it, since the
// bind/close tracepoints refresh PROCESS_PORT_TO_COMM
// reactively, but a cold scan on container start means the very first
// packets don't have to wait for a tracepoint to fire first.
package procscan

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"

	"grimm.is/furui/internal/container"
)

// IANA protocol numbers, matching internal/policy.protoForName's
// encoding of PolicyKey.Proto.
const (
	protoTCP uint8 = 6
	protoUDP uint8 = 17
)

// tcpListen is net/tcp's st column value for a listening socket
// (include/net/tcp_states.h: TCP_LISTEN == 10). UDP has no listen
// state; any bound UDP socket is reported.
const tcpListen = 0x0A

// Scanner discovers listening sockets by reading a container's own
// /proc/<pid>/net/{tcp,tcp6,udp,udp6} - which, since /proc/net is a
// per-network-namespace view, already shows only that container's
// sockets - then matches inodes against the fd table of the
// container's own host PID to recover the owning process's name.
//
// This is deliberately single-process: a container running more than
// one listening process will only have its first (PID 1 in the
// container's pid namespace) process's sockets attributed. Multi-
// process containers still get correct coverage from the reactive
// tracepoint refresh path; this scan is the cold-start fast path, not
// the sole source of truth.
type Scanner struct{}

// NewScanner returns a ready-to-use Scanner.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Discover implements container.PortDiscoverer.
func (s *Scanner) Discover(ctx context.Context, containerID string, pid int) ([]container.ListeningProcess, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("procscan: container %s has no known pid", containerID)
	}

	netFS, err := procfs.NewFS(fmt.Sprintf("/proc/%d", pid))
	if err != nil {
		return nil, fmt.Errorf("procscan: open netns proc view for pid %d: %w", pid, err)
	}

	byInode := make(map[uint64]struct {
		port  uint16
		proto uint8
	})
	collectTCP(netFS, byInode)
	collectUDP(netFS, byInode)
	if len(byInode) == 0 {
		return nil, nil
	}

	hostFS, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("procscan: open host proc: %w", err)
	}
	proc, err := hostFS.Proc(pid)
	if err != nil {
		return nil, fmt.Errorf("procscan: open proc for pid %d: %w", pid, err)
	}

	comm, err := proc.Comm()
	if err != nil {
		comm = ""
	}

	targets, err := proc.FileDescriptorTargets()
	if err != nil {
		return nil, fmt.Errorf("procscan: read fd table for pid %d: %w", pid, err)
	}

	var out []container.ListeningProcess
	for _, target := range targets {
		inode, ok := socketInode(target)
		if !ok {
			continue
		}
		sock, ok := byInode[inode]
		if !ok {
			continue
		}
		out = append(out, container.ListeningProcess{Comm: comm, Port: sock.port, Proto: sock.proto})
	}
	return out, nil
}

func collectTCP(fs procfs.FS, into map[uint64]struct {
	port  uint16
	proto uint8
}) {
	for _, fn := range []func() (procfs.NetTCP, error){fs.NetTCP, fs.NetTCP6} {
		lines, err := fn()
		if err != nil {
			continue
		}
		for _, l := range lines {
			if l.St != tcpListen {
				continue
			}
			into[l.Inode] = struct {
				port  uint16
				proto uint8
			}{port: uint16(l.LocalPort), proto: protoTCP}
		}
	}
}

func collectUDP(fs procfs.FS, into map[uint64]struct {
	port  uint16
	proto uint8
}) {
	for _, fn := range []func() (procfs.NetUDP, error){fs.NetUDP, fs.NetUDP6} {
		lines, err := fn()
		if err != nil {
			continue
		}
		for _, l := range lines {
			into[l.Inode] = struct {
				port  uint16
				proto uint8
			}{port: uint16(l.LocalPort), proto: protoUDP}
		}
	}
}

// socketInode extracts N from a fd symlink target of the form
// "socket:[N]"; every other fd kind (regular file, pipe, anon_inode)
// is ignored.
func socketInode(target string) (uint64, bool) {
	const prefix, suffix = "socket:[", "]"
	if !strings.HasPrefix(target, prefix) || !strings.HasSuffix(target, suffix) {
		return 0, false
	}
	n, err := strconv.ParseUint(target[len(prefix):len(target)-len(suffix)], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
