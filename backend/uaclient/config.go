package uaclient

import (
	"errors"
	"time"

	"github.com/arloliu/go-opcua-proxy/logger"
)

// ErrConfigNil indicates that a nil Config was provided.
var ErrConfigNil = errors.New("uaclient config is nil")

// Config holds the OPC UA client parameters shared by every connection.
type Config struct {
	// applicationName is advertised to the server in the session description.
	// Defaults to "OPC UA line proxy".
	applicationName string
	// applicationURI is advertised to the server in the session description.
	// Defaults to "urn:opcua-proxy".
	applicationURI string
	// dialTimeout bounds the TCP dial and the secure channel handshake.
	// Defaults to 10 seconds.
	dialTimeout time.Duration
	// requestTimeout bounds every service request, including Read.
	// Defaults to 10 seconds.
	requestTimeout time.Duration
	// maxAge is the maximum age of a cached value the server may return, see OPC UA Part 4.
	// Defaults to 0, which asks the server for a fresh value.
	maxAge time.Duration

	logger logger.Logger
}

// NewConfig creates a Config with default values and applies opts.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		applicationName: "OPC UA line proxy",
		applicationURI:  "urn:opcua-proxy",
		dialTimeout:     10 * time.Second,
		requestTimeout:  10 * time.Second,
		logger:          logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// Option represents a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (o *optFunc) apply(cfg *Config) error { return o.applyFunc(cfg) }

func newOptFunc(name string, f func(*Config) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithApplicationName sets the application name sent to the server.
func WithApplicationName(name string) Option {
	return newOptFunc("WithApplicationName", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if name == "" {
			return errors.New("application name is empty")
		}
		cfg.applicationName = name

		return nil
	})
}

// WithApplicationURI sets the application URI sent to the server.
func WithApplicationURI(uri string) Option {
	return newOptFunc("WithApplicationURI", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if uri == "" {
			return errors.New("application uri is empty")
		}
		cfg.applicationURI = uri

		return nil
	})
}

// WithDialTimeout sets the dial timeout. It should be between 1 and 120 seconds.
func WithDialTimeout(val time.Duration) Option {
	return newOptFunc("WithDialTimeout", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if val < time.Second || val > 120*time.Second {
			return errors.New("dial timeout is out of range [1, 120] seconds")
		}
		cfg.dialTimeout = val

		return nil
	})
}

// WithRequestTimeout sets the service request timeout. It should be between 1 and 120 seconds.
func WithRequestTimeout(val time.Duration) Option {
	return newOptFunc("WithRequestTimeout", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if val < time.Second || val > 120*time.Second {
			return errors.New("request timeout is out of range [1, 120] seconds")
		}
		cfg.requestTimeout = val

		return nil
	})
}

// WithMaxAge sets the maximum age of cached values the server may return.
func WithMaxAge(val time.Duration) Option {
	return newOptFunc("WithMaxAge", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if val < 0 {
			return errors.New("max age is negative")
		}
		cfg.maxAge = val

		return nil
	})
}

// WithLogger sets the logger used by the client and its connections.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
