// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package eventlog assigns a correlation ID to each decoded perf
// event so a single socket/ICMP decision can be traced across the
// debug log line eventdrain emits and any downstream system that
// ingests it, without reusing kernel-side identifiers (PID/inode
// reuse makes those ambiguous after the fact).
package eventlog

import "github.com/google/uuid"

// NewID returns a fresh correlation ID for one decoded event.
func NewID() string {
	return uuid.NewString()
}
