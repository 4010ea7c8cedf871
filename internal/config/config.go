// Package config loads the settings of the server and client hosts from a
// YAML file. Values missing from the file keep their defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/replinet/internal/core/endpoint"
	"github.com/zeusync/replinet/internal/core/observability/log"
)

// Transport selects and tunes the provider. Zero values keep the provider's
// own defaults.
type Transport struct {
	Name           string        `yaml:"name"`
	Linger         time.Duration `yaml:"linger"`
	MaxMessageSize int           `yaml:"max_message_size"`
	SendQueueSize  int           `yaml:"send_queue_size"`
	EventQueueSize int           `yaml:"event_queue_size"`
}

type Config struct {
	LogLevel string `yaml:"log_level"`
	// MetricsAddr serves Prometheus metrics when set, e.g. ":9100".
	MetricsAddr string    `yaml:"metrics_addr"`
	Transport   Transport `yaml:"transport"`

	Server endpoint.ServerConfig `yaml:"server"`
	Client endpoint.ClientConfig `yaml:"client"`
}

func Default() *Config {
	return &Config{
		LogLevel:  "info",
		Transport: Transport{Name: "quic"},
		Server:    endpoint.DefaultServerConfig(),
		Client:    endpoint.DefaultClientConfig(),
	}
}

// Load decodes YAML from r over the defaults.
func Load(r io.Reader) (*Config, error) {
	c := Default()
	if err := yaml.NewDecoder(r).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile reads path. An empty path yields the defaults.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Transport.Name == "" {
		errs = append(errs, errors.New("transport.name is required"))
	}
	errs = append(errs,
		validateEndpoint("server", c.Server.Config, c.Server.Port),
		validateEndpoint("client", c.Client.Config, c.Client.Port),
	)
	if c.Server.DynamicIDMin == 0 {
		errs = append(errs, errors.New("server.dynamic_id_min must be at least 1"))
	}
	return errors.Join(errs...)
}

func validateEndpoint(name string, c endpoint.Config, port int) error {
	var errs []error
	if c.UpdateRate <= 0 || c.UpdateRate > endpoint.MaxUpdateRate {
		errs = append(errs, fmt.Errorf("%s.update_rate must be in 1..%d, got %d", name, endpoint.MaxUpdateRate, c.UpdateRate))
	}
	if c.ProtocolVersion <= 0 {
		errs = append(errs, fmt.Errorf("%s.protocol_version must be positive, got %d", name, c.ProtocolVersion))
	}
	if port < 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("%s.port %d out of range", name, port))
	}
	return errors.Join(errs...)
}
