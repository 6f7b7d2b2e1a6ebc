package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fujin-io/nats-client/internal/observability"
)

var (
	ErrNoURLs             = errors.New("no urls specified")
	ErrBadPingInterval    = errors.New("ping interval must be positive")
	ErrBadMaxPingsOut     = errors.New("max pings out must be positive")
	ErrBadReconnectWait   = errors.New("reconnect wait must be positive")
	ErrBadCommandPoolSize = errors.New("command pool size must be positive")
)

const (
	DefaultURL = "nats://127.0.0.1:4222"

	DefaultConnectTimeout  = 2 * time.Second
	DefaultPingInterval    = 2 * time.Minute
	DefaultMaxPingsOut     = 2
	DefaultReconnectWait   = 2 * time.Second
	DefaultReconnectJitter = 100 * time.Millisecond
	DefaultCommandPoolSize = 256
	DefaultInboxPrefix     = "_INBOX."
	DefaultWriteBufferSize = 32768
	DefaultReadBufferSize  = 65536
	DefaultDrainTimeout    = 2 * time.Second
)

// ClientConfig configures a single connection to a NATS server or cluster.
type ClientConfig struct {
	URLs []string `yaml:"urls"`

	// CONNECT options echoed to the server.
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Pass     string `yaml:"pass"`
	Token    string `yaml:"token"`
	Verbose  bool   `yaml:"verbose"`
	Pedantic bool   `yaml:"pedantic"`

	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	MaxPingsOut     int           `yaml:"max_pings_out"`
	ReconnectWait   time.Duration `yaml:"reconnect_wait"`
	ReconnectJitter time.Duration `yaml:"reconnect_jitter"`
	NoRandomize     bool          `yaml:"no_randomize"`

	CommandPoolSize int           `yaml:"command_pool_size"`
	InboxPrefix     string        `yaml:"inbox_prefix"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`

	// DispatchPoolSize > 0 runs subscription callbacks on a shared worker
	// pool instead of the reader goroutine.
	DispatchPoolSize int `yaml:"dispatch_pool_size"`

	TLS TLSConfig `yaml:"tls"`

	Observability observability.Config `yaml:"observability"`
}

func (c *ClientConfig) SetDefaults() {
	if len(c.URLs) == 0 {
		c.URLs = []string{DefaultURL}
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.MaxPingsOut <= 0 {
		c.MaxPingsOut = DefaultMaxPingsOut
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = DefaultReconnectWait
	}
	if c.ReconnectJitter <= 0 {
		c.ReconnectJitter = DefaultReconnectJitter
	}
	if c.CommandPoolSize <= 0 {
		c.CommandPoolSize = DefaultCommandPoolSize
	}
	if c.InboxPrefix == "" {
		c.InboxPrefix = DefaultInboxPrefix
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = DefaultWriteBufferSize
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
}

func (c *ClientConfig) Validate() error {
	if len(c.URLs) == 0 {
		return ErrNoURLs
	}
	if c.PingInterval <= 0 {
		return ErrBadPingInterval
	}
	if c.MaxPingsOut <= 0 {
		return ErrBadMaxPingsOut
	}
	if c.ReconnectWait <= 0 {
		return ErrBadReconnectWait
	}
	if c.CommandPoolSize <= 0 {
		return ErrBadCommandPoolSize
	}
	return nil
}

// Parse applies defaults, validates and materializes derived state (TLS).
func (c *ClientConfig) Parse() error {
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if err := c.TLS.Parse(); err != nil {
		return fmt.Errorf("parse tls: %w", err)
	}
	return nil
}

// FromFile loads a ClientConfig from a yaml document.
func FromFile(path string) (ClientConfig, error) {
	var conf ClientConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return conf, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return conf, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := conf.Parse(); err != nil {
		return conf, err
	}
	return conf, nil
}
