// Command opcua-proxy serves the line-delimited JSON control channel and forwards its
// commands to one OPC UA server at a time.
//
// It is configured through the environment: BIND_ADDRESS, PORT, LOG_LEVEL, ENV, MAX_LINE_SIZE,
// STATS_INTERVAL, OPCUA_APP_NAME, OPCUA_DIAL_TIMEOUT and OPCUA_REQUEST_TIMEOUT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arloliu/go-opcua-proxy/backend"
	"github.com/arloliu/go-opcua-proxy/backend/uaclient"
	"github.com/arloliu/go-opcua-proxy/logger"
	"github.com/arloliu/go-opcua-proxy/proxy"
	"github.com/arloliu/go-opcua-proxy/server"
)

const (
	shutdownTimeout = 15 * time.Second
	// backendCloseTimeout bounds the release of the backend session after an interrupted
	// shutdown. A backend call still in flight keeps the session locked until it returns.
	backendCloseTimeout = 3 * time.Second
)

func main() {
	cfg, err := loadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger.SetLevel(cfg.LogLevel)
	l := logger.GetLogger()

	uaCfg, err := uaclient.NewConfig(cfg.clientOptions(l)...)
	if err != nil {
		logger.Fatal("invalid OPC UA client configuration", "error", err)
	}

	client, err := uaclient.NewClient(uaCfg)
	if err != nil {
		logger.Fatal("failed to create OPC UA client", "error", err)
	}

	session := proxy.NewSession(func(prevState, newState proxy.SessionState, target backend.Target) {
		l.Info("session state changed", "from", prevState.String(), "to", newState.String(), "target", target.String())
	})
	dispatcher := proxy.NewDispatcher(session, client, proxy.WithLogger(l))

	srvCfg, err := server.NewConfig(cfg.serverOptions(l)...)
	if err != nil {
		logger.Fatal("invalid server configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(ctx, srvCfg, dispatcher)
	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", "address", srvCfg.Address(), "error", err)
	}

	logger.Info("opcua-proxy ready", "address", srv.Addr().String())

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)

		closeCtx, closeCancel := context.WithTimeout(context.Background(), backendCloseTimeout)
		defer closeCancel()

		if err := dispatcher.Close(closeCtx); err != nil {
			logger.Error("failed to release backend session", "error", err)
		}
	}
}
