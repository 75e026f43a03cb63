// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/furui/internal/bpftypes"
	"grimm.is/furui/internal/container"
)

func uint16p(v uint16) *uint16 { return &v }

func TestCompilePrivilegedShortcut(t *testing.T) {
	reg := container.NewRegistry()
	id := container.ShortID("c1")
	reg.Put(container.Info{ID: id, Name: "dns-proxy"})

	doc := &Document{Policies: []Policy{{
		Container:     ContainerRef{Name: "dns-proxy"},
		Communication: []Communication{{Process: "dns"}},
	}}}

	out, err := NewCompiler(reg).Compile(doc)
	require.NoError(t, err)

	var comm [16]byte
	copy(comm[:], "dns")
	key := bpftypes.PolicyKey{ContainerID: id, Comm: comm}
	val, ok := out.Socket[key]
	require.True(t, ok)
	assert.Equal(t, uint8(1), val.Allow)
}

func TestCompileSocketRule(t *testing.T) {
	reg := container.NewRegistry()
	id := container.ShortID("c2")
	reg.Put(container.Info{ID: id, Name: "web"})

	doc := &Document{Policies: []Policy{{
		Container: ContainerRef{Name: "web"},
		Communication: []Communication{{
			Sockets: []SocketRule{{
				Protocol:   "TCP",
				LocalPort:  uint16p(443),
				RemoteIP:   "8.8.8.8",
				RemotePort: uint16p(54321),
			}},
		}},
	}}}

	out, err := NewCompiler(reg).Compile(doc)
	require.NoError(t, err)
	require.Len(t, out.Socket, 1)

	for key, val := range out.Socket {
		assert.Equal(t, id, key.ContainerID)
		assert.Equal(t, uint8(6), key.Proto)
		assert.Equal(t, uint16(443), key.LocalPort)
		assert.Equal(t, uint16(54321), key.RemotePort)
		assert.Equal(t, uint32(0x08080808), key.RemoteIP)
		assert.Equal(t, uint8(1), val.Allow)
	}
}

func TestCompileICMPRuleDefaultsCodeToAny(t *testing.T) {
	reg := container.NewRegistry()
	id := container.ShortID("c3")
	reg.Put(container.Info{ID: id, Name: "pinger"})

	doc := &Document{Policies: []Policy{{
		Container: ContainerRef{Name: "pinger"},
		Communication: []Communication{{
			ICMP: []ICMPRule{{Version: 4, Type: 8}},
		}},
	}}}

	out, err := NewCompiler(reg).Compile(doc)
	require.NoError(t, err)
	require.Len(t, out.ICMP, 1)

	for key := range out.ICMP {
		assert.Equal(t, uint8(255), key.Code)
		assert.Equal(t, uint8(8), key.Type)
	}
}

func TestCompileSkipsUnresolvedContainer(t *testing.T) {
	reg := container.NewRegistry()
	doc := &Document{Policies: []Policy{{
		Container:     ContainerRef{Name: "not-running"},
		Communication: []Communication{{Process: "x"}},
	}}}

	out, err := NewCompiler(reg).Compile(doc)
	require.NoError(t, err)
	assert.Empty(t, out.Socket)
	assert.Empty(t, out.ICMP)
}

func TestParseRejectsInvalidProtocol(t *testing.T) {
	doc := &Document{Policies: []Policy{{
		Container: ContainerRef{Name: "web"},
		Communication: []Communication{{
			Sockets: []SocketRule{{Protocol: "SCTP"}},
		}},
	}}}
	assert.Error(t, doc.validate())
}

func TestParseRejectsMissingContainerName(t *testing.T) {
	doc := &Document{Policies: []Policy{{}}}
	assert.Error(t, doc.validate())
}
