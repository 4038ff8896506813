package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/arloliu/go-opcua-proxy/backend/uaclient"
	"github.com/arloliu/go-opcua-proxy/logger"
	"github.com/arloliu/go-opcua-proxy/server"
)

// envConfig holds the process settings read from the environment.
type envConfig struct {
	BindAddress    string
	Port           int
	MaxLineSize    int
	StatsInterval  time.Duration
	LogLevel       logger.LogLevel
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	AppName        string
}

func loadFromEnv() (*envConfig, error) {
	level, err := logger.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	port, err := getEnvInt("PORT", server.DefaultPort)
	if err != nil {
		return nil, err
	}

	maxLineSize, err := getEnvInt("MAX_LINE_SIZE", 1<<20)
	if err != nil {
		return nil, err
	}

	statsInterval, err := getEnvDuration("STATS_INTERVAL", 0)
	if err != nil {
		return nil, err
	}

	dialTimeout, err := getEnvDuration("OPCUA_DIAL_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	requestTimeout, err := getEnvDuration("OPCUA_REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	return &envConfig{
		BindAddress:    getEnv("BIND_ADDRESS", server.DefaultBindAddress),
		Port:           port,
		MaxLineSize:    maxLineSize,
		StatsInterval:  statsInterval,
		LogLevel:       level,
		DialTimeout:    dialTimeout,
		RequestTimeout: requestTimeout,
		AppName:        getEnv("OPCUA_APP_NAME", "opcua-proxy"),
	}, nil
}

func (c *envConfig) serverOptions(l logger.Logger) []server.Option {
	return []server.Option{
		server.WithBindAddress(c.BindAddress),
		server.WithPort(c.Port),
		server.WithMaxLineSize(c.MaxLineSize),
		server.WithStatsInterval(c.StatsInterval),
		server.WithLogger(l),
	}
}

func (c *envConfig) clientOptions(l logger.Logger) []uaclient.Option {
	return []uaclient.Option{
		uaclient.WithApplicationName(c.AppName),
		uaclient.WithDialTimeout(c.DialTimeout),
		uaclient.WithRequestTimeout(c.RequestTimeout),
		uaclient.WithLogger(l),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return intValue, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return d, nil
}
