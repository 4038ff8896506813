package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-opcua-proxy/internal/pool"
	"github.com/arloliu/go-opcua-proxy/internal/task"
	"github.com/arloliu/go-opcua-proxy/logger"
	"github.com/arloliu/go-opcua-proxy/proxy"
)

// Server accepts client connections and serves their requests through a shared Dispatcher.
type Server struct {
	cfg        *Config
	dispatcher *proxy.Dispatcher
	logger     logger.Logger
	taskMgr    *task.Manager
	opState    AtomicOpState
	metrics    Metrics

	listenerMu sync.Mutex
	listener   *net.TCPListener

	clients *xsync.MapOf[string, *clientConn]
}

// NewServer creates a Server for dispatcher. The server does nothing until Start is called.
func NewServer(ctx context.Context, cfg *Config, dispatcher *proxy.Dispatcher) *Server {
	l := cfg.Logger().With("component", "server")

	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     l,
		taskMgr:    task.NewManager(ctx, l),
		clients:    xsync.NewMapOf[string, *clientConn](),
	}
}

// GetMetrics returns the metrics of the server.
func (s *Server) GetMetrics() *Metrics {
	return &s.metrics
}

// State returns the lifecycle state of the server.
func (s *Server) State() OpState {
	return s.opState.Get()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return s.clients.Size()
}

// Addr returns the bound address of the listener, or nil if the server is not listening.
func (s *Server) Addr() net.Addr {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Start binds the listener and starts accepting connections.
// It returns the bind error, if any, without starting any task.
func (s *Server) Start() error {
	if !s.opState.ToOpening() {
		return ErrServerStarted
	}

	listener, err := s.listen()
	if err != nil {
		s.opState.Set(ClosedState)
		return err
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()

	s.logger.Info("listening", "address", listener.Addr().String())

	if err := s.taskMgr.Start("acceptLoop", s.acceptTask); err != nil {
		_ = s.closeListener()
		s.opState.Set(ClosedState)

		return err
	}

	if s.cfg.statsInterval > 0 {
		if _, err := s.taskMgr.StartInterval("statsLog", s.statsTask, s.cfg.statsInterval, false); err != nil {
			s.logger.Warn("failed to start stats log", "error", err)
		}
	}

	s.opState.ToOpened()

	return nil
}

// Shutdown stops accepting connections, closes all live clients, waits for their tasks to
// terminate and finally releases the backend session.
//
// If ctx expires before the tasks terminate, Shutdown returns the context error and leaves the
// backend session to the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.opState.ToClosing() {
		return nil
	}
	defer s.opState.ToClosed()

	s.logger.Info("shutting down", "clients", s.clients.Size())

	_ = s.closeListener()
	s.taskMgr.Stop()

	s.clients.Range(func(_ string, c *clientConn) bool {
		c.close()
		return true
	})

	done := make(chan struct{})
	go func() {
		s.taskMgr.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown interrupted before all tasks terminated", "error", ctx.Err())
		return ctx.Err()
	}

	if err := s.dispatcher.Close(ctx); err != nil {
		s.logger.Warn("failed to close backend session", "error", err)
		return err
	}

	s.logger.Info("shutdown complete")

	return nil
}

func (s *Server) listen() (*net.TCPListener, error) {
	address := s.cfg.Address()

	s.logger.Debug("try to listen", "address", address)

	var lc net.ListenConfig
	listener, err := lc.Listen(s.taskMgr.Context(), "tcp", address)
	if err != nil {
		s.logger.Error("failed to listen", "address", address, "error", err)
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}

	tcpListener, ok := listener.(*net.TCPListener)
	if !ok {
		_ = listener.Close()
		return nil, ErrNotTCPListener
	}

	return tcpListener, nil
}

func (s *Server) closeListener() error {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener == nil {
		return nil
	}

	err := s.listener.Close()
	s.listener = nil

	return err
}

// getListener returns the listener armed with the accept deadline, or nil once it is closed.
func (s *Server) getListener() *net.TCPListener {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener == nil {
		return nil
	}

	if err := s.listener.SetDeadline(time.Now().Add(s.cfg.acceptTimeout)); err != nil {
		s.logger.Error("failed to set deadline for tcp listener", "error", err)
		return nil
	}

	return s.listener
}

func (s *Server) acceptTask() bool {
	listener := s.getListener()
	// listener already closed
	if listener == nil {
		return false
	}

	conn, err := listener.Accept()
	if err != nil {
		ctx := s.taskMgr.Context()

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			select {
			case <-ctx.Done():
				return false
			default:
				return true
			}
		}

		if s.opState.Get() == ClosingState || errors.Is(err, net.ErrClosed) {
			return false
		}

		s.metrics.incAcceptErrCount()
		s.logger.Error("failed to accept connection", "error", err)

		timer := pool.GetTimer(s.cfg.acceptRetryDelay)
		defer pool.PutTimer(timer)

		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		}
	}

	s.metrics.incAcceptCount()
	s.serveConn(conn)

	return true
}

func (s *Server) serveConn(conn net.Conn) {
	c := newClientConn(s, conn)

	s.clients.Store(c.id, c)
	s.metrics.incActiveClientGauge()

	c.logger.Info("client connected")

	if err := s.taskMgr.Start("client-"+c.id, c.serveTask, c.close); err != nil {
		c.logger.Warn("failed to start client task", "error", err)
		c.close()
	}
}

func (s *Server) statsTask() bool {
	dm := s.dispatcher.GetMetrics()

	s.logger.Info("proxy stats",
		"state", s.dispatcher.Session().State(),
		"clients", s.metrics.ActiveClientGauge.Load(),
		"accepted", s.metrics.AcceptCount.Load(),
		"requests", s.metrics.RequestCount.Load(),
		"error_responses", s.metrics.ErrorResponseCount.Load(),
		"connects", dm.ConnectCount.Load(),
		"reads", dm.ReadCount.Load(),
		"node_errors", dm.NodeErrCount.Load(),
		"conn_lost", dm.ConnLostCount.Load(),
	)

	return true
}
