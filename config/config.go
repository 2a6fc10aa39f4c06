// Package config loads the YAML configuration of the greeter binaries.
//
// A client file looks like
//
//	address: grpc://localhost:5001
//	max_send_bytes: 2MiB
//	max_receive_bytes: 5MiB
//	dial_timeout: 5s
//
// and a server file like
//
//	transport: grpc
//	listen: :5001
//	max_receive_bytes: 4MiB
//	workers: 256
//	rate_limit: {rate: 100, burst: 200}
//
// Sizes are plain byte counts or human strings such as "2MiB" or "512k";
// both binary and decimal suffixes are read as powers of 1024.
package config

import (
	"fmt"
	"os"
	"time"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v2"

	"unirpc/channel"
)

// ByteSize is a size in bytes. It implements yaml.Unmarshaler and
// flag.Value.
type ByteSize int

func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var n int
	if err := unmarshal(&n); err == nil {
		return b.setInt(n)
	}
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return b.Set(s)
}

// Set parses s as a byte size.
func (b *ByteSize) Set(s string) error {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return err
	}
	return b.setInt(int(n))
}

func (b *ByteSize) setInt(n int) error {
	if n < 0 {
		return fmt.Errorf("negative size %d", n)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string {
	if b == 0 {
		return "0"
	}
	return units.BytesSize(float64(b))
}

// Defaults shared by the greeter binaries, so that both sides agree when
// run without flags.
const (
	DefaultTransport       = "grpc"
	DefaultListen          = ":5001"
	DefaultAddress         = DefaultTransport + "://localhost" + DefaultListen
	DefaultMaxSendBytes    = ByteSize(2 * units.MiB)
	DefaultMaxReceiveBytes = ByteSize(5 * units.MiB)
)

// DefaultClient returns the client settings used when neither a file nor a
// flag sets them.
func DefaultClient() Client {
	return Client{
		Address:         DefaultAddress,
		MaxSendBytes:    DefaultMaxSendBytes,
		MaxReceiveBytes: DefaultMaxReceiveBytes,
		LogLevel:        "info",
	}
}

// DefaultServer returns the server settings used when neither a file nor a
// flag sets them.
func DefaultServer() Server {
	return Server{
		Transport: DefaultTransport,
		Listen:    DefaultListen,
		LogLevel:  "info",
	}
}

// Client configures a channel.
type Client struct {
	Address         string        `yaml:"address"`
	MaxSendBytes    ByteSize      `yaml:"max_send_bytes"`
	MaxReceiveBytes ByteSize      `yaml:"max_receive_bytes"`
	Envelope        string        `yaml:"envelope"`
	Heartbeat       time.Duration `yaml:"heartbeat"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	LogLevel        string        `yaml:"log_level"`
}

// Channel returns the channel settings of c.
func (c *Client) Channel() channel.Config {
	return channel.Config{
		MaxSendBytes:      int(c.MaxSendBytes),
		MaxReceiveBytes:   int(c.MaxReceiveBytes),
		Envelope:          c.Envelope,
		HeartbeatInterval: c.Heartbeat,
		DialTimeout:       c.DialTimeout,
	}
}

func (c *Client) validate() error {
	switch c.Envelope {
	case "", "json", "binary":
	default:
		return fmt.Errorf("unknown envelope %q", c.Envelope)
	}
	return nil
}

// RateLimit configures the server's token bucket. A zero Rate disables it.
type RateLimit struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// Server configures a greeter server.
type Server struct {
	Transport       string        `yaml:"transport"`
	Listen          string        `yaml:"listen"`
	MaxReceiveBytes ByteSize      `yaml:"max_receive_bytes"`
	MaxSendBytes    ByteSize      `yaml:"max_send_bytes"`
	Workers         int           `yaml:"workers"`
	Timeout         time.Duration `yaml:"timeout"`
	RateLimit       RateLimit     `yaml:"rate_limit"`
	LogLevel        string        `yaml:"log_level"`
}

func (s *Server) validate() error {
	switch s.Transport {
	case "", "urp", "grpc":
	default:
		return fmt.Errorf("unknown transport %q", s.Transport)
	}
	if s.Workers < 0 {
		return fmt.Errorf("negative worker count %d", s.Workers)
	}
	if s.RateLimit.Rate > 0 && s.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.burst must be positive when rate is set")
	}
	return nil
}

// LoadClient reads a client configuration file. Keys the file omits keep
// their DefaultClient values; an explicit 0 size means unlimited.
func LoadClient(path string) (*Client, error) {
	c := DefaultClient()
	if err := load(path, &c); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &c, nil
}

// LoadServer reads a server configuration file. Keys the file omits keep
// their DefaultServer values.
func LoadServer(path string) (*Server, error) {
	s := DefaultServer()
	if err := load(path, &s); err != nil {
		return nil, err
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &s, nil
}

func load(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, v); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}
