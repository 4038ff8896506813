package server

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-opcua-proxy/logger"
)

const (
	// DefaultPort is the TCP port of the JSON control channel.
	DefaultPort = 8341
	// DefaultBindAddress is the address the listener binds to by default.
	DefaultBindAddress = "127.0.0.1"
)

// ErrConfigNil indicates that a nil Config was provided.
var ErrConfigNil = errors.New("server config is nil")

// Config represents the configuration parameters of the proxy server.
type Config struct {
	mu sync.RWMutex

	// bindAddress specifies the local address to listen on. An empty address listens on all interfaces.
	// Defaults to 127.0.0.1.
	bindAddress string

	// port specifies the TCP port to listen on. Port 0 picks an ephemeral port.
	// Defaults to 8341.
	port int

	// maxLineSize defines the longest request line accepted, in bytes, newline included.
	// Longer lines are discarded and answered with an error response.
	// Defaults to 1 MiB.
	maxLineSize int

	// acceptTimeout defines the timeout for each iteration of accepting a connection, after which the
	// accept loop checks whether the server is shutting down.
	// Defaults to 1 second.
	acceptTimeout time.Duration

	// acceptRetryDelay defines how long the accept loop pauses after an accept error.
	// Defaults to 100 milliseconds.
	acceptRetryDelay time.Duration

	// statsInterval defines the interval of the periodic metrics log. Zero disables it.
	// Defaults to 0.
	statsInterval time.Duration

	// logger provides a logger instance for logging server events and errors.
	logger logger.Logger
}

// NewConfig creates a new server configuration with default values and applies opts.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		bindAddress:      DefaultBindAddress,
		port:             DefaultPort,
		maxLineSize:      1 << 20,
		acceptTimeout:    1 * time.Second,
		acceptRetryDelay: 100 * time.Millisecond,
		logger:           logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// Address returns the host:port the server listens on.
func (cfg *Config) Address() string {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return net.JoinHostPort(cfg.bindAddress, strconv.Itoa(cfg.port))
}

// Logger returns the configured logger.
func (cfg *Config) Logger() logger.Logger {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.logger
}

// Option represents a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (o *optFunc) apply(cfg *Config) error {
	if cfg == nil {
		return ErrConfigNil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	return o.applyFunc(cfg)
}

func newOptFunc(name string, f func(*Config) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithBindAddress sets the local address to listen on.
// It accepts an IP address, a host name, or an empty string for all interfaces.
func WithBindAddress(addr string) Option {
	return newOptFunc("WithBindAddress", func(cfg *Config) error {
		if addr != "" && net.ParseIP(addr) == nil && strings.ContainsAny(addr, " :/") {
			return errors.New("invalid bind address")
		}
		cfg.bindAddress = addr

		return nil
	})
}

// WithPort sets the TCP port to listen on.
// An error is returned if the port number is out of the valid range [0, 65535].
func WithPort(port int) Option {
	return newOptFunc("WithPort", func(cfg *Config) error {
		if port < 0 || port > 65535 {
			return errors.New("port is out of range [0, 65535]")
		}
		cfg.port = port

		return nil
	})
}

// WithMaxLineSize sets the longest request line accepted, in bytes. It should be between 1 KiB and 64 MiB.
func WithMaxLineSize(size int) Option {
	return newOptFunc("WithMaxLineSize", func(cfg *Config) error {
		if size < 1<<10 || size > 64<<20 {
			return errors.New("max line size is out of range [1 KiB, 64 MiB]")
		}
		cfg.maxLineSize = size

		return nil
	})
}

// WithAcceptTimeout sets the timeout of each accept iteration. It should be between 10 milliseconds and 5 seconds.
func WithAcceptTimeout(val time.Duration) Option {
	return newOptFunc("WithAcceptTimeout", func(cfg *Config) error {
		if val < 10*time.Millisecond || val > 5*time.Second {
			return errors.New("accept timeout is out of range [10ms, 5s]")
		}
		cfg.acceptTimeout = val

		return nil
	})
}

// WithAcceptRetryDelay sets the pause after an accept error. It should be between 0 and 10 seconds.
func WithAcceptRetryDelay(val time.Duration) Option {
	return newOptFunc("WithAcceptRetryDelay", func(cfg *Config) error {
		if val < 0 || val > 10*time.Second {
			return errors.New("accept retry delay is out of range [0, 10s]")
		}
		cfg.acceptRetryDelay = val

		return nil
	})
}

// WithStatsInterval enables a periodic log of the server and dispatcher metrics. Zero disables it.
func WithStatsInterval(val time.Duration) Option {
	return newOptFunc("WithStatsInterval", func(cfg *Config) error {
		if val < 0 {
			return errors.New("stats interval is negative")
		}
		cfg.statsInterval = val

		return nil
	})
}

// WithLogger sets the logger of the server.
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *Config) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
