// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePolicy = `
policies:
  - container:
      name: web-server
    communications:
      - process: nginx
        sockets:
          - protocol: TCP
            local_port: 443
          - protocol: TCP
            local_port: 80
            remote_ip: 10.0.0.1
      - process: dns
  - container:
      name: pinger
    communications:
      - icmp:
          - version: 4
            type: 8
`

func writeTempPolicy(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestParseValidDocument(t *testing.T) {
	path := writeTempPolicy(t, samplePolicy)

	doc, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, doc.Policies, 2)
	assert.Equal(t, "web-server", doc.Policies[0].Container.Name)
	assert.Len(t, doc.Policies[0].Communication, 2)
	assert.Equal(t, "nginx", doc.Policies[0].Communication[0].Process)
	assert.Len(t, doc.Policies[0].Communication[0].Sockets, 2)
}

func TestParseRejectsBadYAML(t *testing.T) {
	path := writeTempPolicy(t, "not: [valid")
	_, err := Parse(path)
	assert.Error(t, err)
}

func TestParseRejectsInvalidRemoteIP(t *testing.T) {
	path := writeTempPolicy(t, `
policies:
  - container:
      name: web
    communications:
      - sockets:
          - protocol: TCP
            remote_ip: "not-an-ip"
`)
	_, err := Parse(path)
	assert.Error(t, err)
}

func TestParseMissingFileIsNotFound(t *testing.T) {
	_, err := Parse("/nonexistent/path/to/policy.yaml")
	assert.Error(t, err)
}
