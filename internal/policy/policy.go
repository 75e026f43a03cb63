// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package policy parses the YAML allow-list document and compiles it
// into the flat key sets internal/maps.PolicyMap/IcmpPolicyMap apply
// transactionally. Rules are allow-by-presence, deny-by-default;
// resolving a container's name to its live ID is delegated to
// internal/container.Registry, the single authoritative table (no
// bidirectional references between policies and containers).
package policy

import (
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"grimm.is/furui/internal/errors"
)

// Document is the root of the YAML policy file.
type Document struct {
	Policies []Policy `yaml:"policies"`
}

// Policy is one container's allow-rules.
type Policy struct {
	Container     ContainerRef    `yaml:"container"`
	Communication []Communication `yaml:"communications"`
}

// ContainerRef names a container by its human-readable name; it is
// resolved to a live container ID at compile time, never stored.
type ContainerRef struct {
	Name string `yaml:"name"`
}

// Communication is one allow-rule: an (optional) owning process plus
// the sockets and ICMP exchanges it may use. Both Sockets and ICMP
// empty means "this executable may talk to anything" (or, if Process
// is also empty, "this container may talk to anything").
type Communication struct {
	Process string        `yaml:"process"`
	Sockets []SocketRule  `yaml:"sockets"`
	ICMP    []ICMPRule    `yaml:"icmp"`
}

// SocketRule allows one TCP/UDP flow shape.
type SocketRule struct {
	Protocol   string `yaml:"protocol"` // "TCP" or "UDP"
	LocalPort  *uint16 `yaml:"local_port"`
	RemoteIP   string  `yaml:"remote_ip"`
	RemotePort *uint16 `yaml:"remote_port"`
}

// ICMPRule allows one ICMP type/code shape.
type ICMPRule struct {
	Version  int     `yaml:"version"` // 4 or 6
	Type     uint8   `yaml:"type"`
	Code     *uint8  `yaml:"code"` // nil = any
	RemoteIP string  `yaml:"remote_ip"`
}

// Parse reads and validates the policy document at path.
func Parse(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindNotFound, "read policy file %s", path)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "parse policy file %s", path)
	}

	if err := doc.validate(); err != nil {
		return nil, err
	}

	return &doc, nil
}

func (d *Document) validate() error {
	for i, p := range d.Policies {
		if p.Container.Name == "" {
			return errors.Errorf(errors.KindValidation, "policies[%d]: container name is required", i)
		}
		for j, comm := range p.Communication {
			if len(comm.Process) > 15 {
				return errors.Errorf(errors.KindValidation, "policies[%d].communications[%d]: process name %q exceeds 15 bytes", i, j, comm.Process)
			}
			for k, s := range comm.Sockets {
				if s.Protocol != "TCP" && s.Protocol != "UDP" {
					return errors.Errorf(errors.KindValidation, "policies[%d].communications[%d].sockets[%d]: protocol must be TCP or UDP, got %q", i, j, k, s.Protocol)
				}
				if s.RemoteIP != "" && net.ParseIP(s.RemoteIP) == nil {
					return errors.Errorf(errors.KindValidation, "policies[%d].communications[%d].sockets[%d]: invalid remote_ip %q", i, j, k, s.RemoteIP)
				}
			}
			for k, ic := range comm.ICMP {
				if ic.Version != 4 && ic.Version != 6 {
					return errors.Errorf(errors.KindValidation, "policies[%d].communications[%d].icmp[%d]: version must be 4 or 6, got %d", i, j, k, ic.Version)
				}
				if ic.RemoteIP != "" && net.ParseIP(ic.RemoteIP) == nil {
					return errors.Errorf(errors.KindValidation, "policies[%d].communications[%d].icmp[%d]: invalid remote_ip %q", i, j, k, ic.RemoteIP)
				}
			}
		}
	}
	return nil
}
