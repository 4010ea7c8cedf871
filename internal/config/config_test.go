package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replinet/internal/core/endpoint"
)

const sample = `
log_level: debug
metrics_addr: ":9100"
transport:
  name: websocket
  linger: 500ms
server:
  port: 9000
  update_rate: 60
  host_name: arena
  handshake_timeout: 3s
client:
  display_name: alice
  user_id: 7
`

func TestLoadOverridesDefaults(t *testing.T) {
	c, err := Load(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, ":9100", c.MetricsAddr)
	assert.Equal(t, "websocket", c.Transport.Name)
	assert.Equal(t, 500*time.Millisecond, c.Transport.Linger)

	assert.Equal(t, 9000, c.Server.Port)
	assert.Equal(t, 60, c.Server.UpdateRate)
	assert.Equal(t, "arena", c.Server.HostName)
	assert.Equal(t, 3*time.Second, c.Server.HandshakeTimeout)
	// untouched fields keep their defaults
	assert.True(t, c.Server.Enabled)
	assert.Equal(t, uint32(1024), c.Server.DynamicIDMin)
	assert.Equal(t, endpoint.ProtocolVersion, c.Server.ProtocolVersion)

	assert.Equal(t, "alice", c.Client.DisplayName)
	assert.Equal(t, uint64(7), c.Client.UserID)
	assert.Equal(t, 30, c.Client.UpdateRate)
}

func TestLoadEmptyIsDefault(t *testing.T) {
	c, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, err := Load(strings.NewReader("log_level: loud\nserver:\n  update_rate: 0\n  port: 70000\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.update_rate")
	assert.Contains(t, err.Error(), "server.port 70000")

	_, err = Load(strings.NewReader("client:\n  update_rate: 2000000000\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client.update_rate must be in 1..1000")

	_, err = Load(strings.NewReader("server: [1, 2]"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	c, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, "quic", c.Transport.Name)

	path := filepath.Join(t.TempDir(), "replinet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	c, err = LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "websocket", c.Transport.Name)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
