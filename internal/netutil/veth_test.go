// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netutil

import "testing"

func TestResolveVethRejectsNonexistentPID(t *testing.T) {
	// PID 1<<30 cannot exist on any Linux system (max_pid_namespace
	// level limits are far below this), so the netns lookup must fail
	// regardless of whether the test runs as root.
	if _, err := ResolveVeth(1 << 30); err == nil {
		t.Error("expected error resolving veth for a nonexistent pid")
	}
}
