package endpoint

import (
	"time"

	"github.com/zeusync/replinet/internal/core/protocol"
)

// ProtocolVersion is the wire protocol revision spoken by this build.
const ProtocolVersion = 1

// MaxUpdateRate is the highest tick rate a configuration may ask for.
const MaxUpdateRate = 1000

// Config holds the settings shared by both endpoint roles.
type Config struct {
	// Enabled is the activation predicate: a disabled endpoint goes Inactive
	// on its first Update.
	Enabled bool `yaml:"enabled"`
	// UpdateRate is the number of ticks per second.
	UpdateRate int `yaml:"update_rate"`
	// PollLimit caps the transport events handled per tick; 0 drains all.
	PollLimit int `yaml:"poll_limit"`
	// FlushWorkers bounds the peers flushed in parallel.
	FlushWorkers    int `yaml:"flush_workers"`
	MaxMessageSize  int `yaml:"max_message_size"`
	ProtocolVersion int `yaml:"protocol_version"`
}

// Period returns the duration of one tick, never less than a nanosecond.
func (c Config) Period() time.Duration {
	if c.UpdateRate <= 0 {
		return time.Second / 30
	}
	return max(time.Second/time.Duration(c.UpdateRate), time.Nanosecond)
}

type ServerConfig struct {
	Config `yaml:",inline"`

	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxConnections int    `yaml:"max_connections"`
	HostName       string `yaml:"host_name"`
	// DynamicIDMin is the first identifier handed out by allocation. Lower
	// identifiers are reserved for static entities.
	DynamicIDMin     uint32        `yaml:"dynamic_id_min"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Config: Config{
			Enabled:         true,
			UpdateRate:      30,
			FlushWorkers:    4,
			MaxMessageSize:  protocol.DefaultMaxMessageSize,
			ProtocolVersion: ProtocolVersion,
		},
		Host:             "0.0.0.0",
		Port:             7777,
		MaxConnections:   64,
		HostName:         "replinet",
		DynamicIDMin:     1024,
		HandshakeTimeout: 10 * time.Second,
	}
}

type ClientConfig struct {
	Config `yaml:",inline"`

	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	UserID         uint64        `yaml:"user_id"`
	DisplayName    string        `yaml:"display_name"`
	Payload        []byte        `yaml:"-"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Config: Config{
			Enabled:         true,
			UpdateRate:      30,
			FlushWorkers:    1,
			MaxMessageSize:  protocol.DefaultMaxMessageSize,
			ProtocolVersion: ProtocolVersion,
		},
		Host:           "127.0.0.1",
		Port:           7777,
		DisplayName:    "player",
		ConnectTimeout: 10 * time.Second,
	}
}
