package proxy

import (
	"context"
	"errors"
	"fmt"

	"github.com/arloliu/go-opcua-proxy/backend"
	"github.com/arloliu/go-opcua-proxy/internal/util"
	"github.com/arloliu/go-opcua-proxy/logger"
)

// Dispatcher is the session state machine. It applies Commands to a Session and produces
// Responses.
//
// Backend calls run under the Session lock with a context detached from the caller's
// cancellation: a client that disconnects mid-request doesn't abort the backend call, its
// result is simply discarded.
//
// Any failed backend call leaves the session Disconnected, except a read the backend rejected
// with backend.ErrRequestRejected, which keeps the session.
type Dispatcher struct {
	session *Session
	client  backend.Client
	logger  logger.Logger
	metrics DispatcherMetrics
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger of the dispatcher. The default is the global logger instance.
func WithLogger(l logger.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates a Dispatcher operating on session through client.
func NewDispatcher(session *Session, client backend.Client, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		session: session,
		client:  client,
		logger:  logger.GetLogger(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Session returns the session driven by the dispatcher.
func (d *Dispatcher) Session() *Session {
	return d.session
}

// GetMetrics returns the metrics of the dispatcher.
func (d *Dispatcher) GetMetrics() *DispatcherMetrics {
	return &d.metrics
}

// HandleLine parses one request line and dispatches it.
// Parse failures are answered with an error response and leave the session untouched.
func (d *Dispatcher) HandleLine(ctx context.Context, line string) Response {
	cmd, err := ParseRequest(line)
	if err != nil {
		d.metrics.incInvalidRequestCount()
		d.logger.Debug("invalid request", "error", err)

		return Fail(err)
	}

	return d.Dispatch(ctx, cmd)
}

// Dispatch applies cmd to the session.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) Response {
	ctx = context.WithoutCancel(ctx)

	switch c := cmd.(type) {
	case ConnectCommand:
		return d.connect(ctx, c)
	case ReadCommand:
		return d.read(ctx, c)
	default:
		return Fail(fmt.Errorf("%w: unsupported command %T", ErrInvalidRequest, cmd))
	}
}

// Close releases the active backend session, if any.
//
// Close waits for an in-flight backend call to finish, but no longer than ctx allows. When ctx
// ends first, Close returns the context error and the session is released as soon as the
// pending call returns.
func (d *Dispatcher) Close(ctx context.Context) error {
	done := make(chan error, 1)

	go func() {
		d.session.mu.Lock()
		defer d.session.mu.Unlock()

		conn := d.session.reset()
		if conn == nil {
			done <- nil
			return
		}

		done <- conn.Close(context.WithoutCancel(ctx))
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) connect(ctx context.Context, cmd ConnectCommand) Response {
	d.session.mu.Lock()
	defer d.session.mu.Unlock()

	d.metrics.incConnectCount()

	target := cmd.Target()
	prevState := d.session.State()

	conn, err := d.client.Connect(ctx, target)
	if err == nil && conn == nil {
		err = backend.ErrNilConn
	}
	if err != nil {
		d.metrics.incConnectErrCount()
		d.logger.Warn("backend connect failed", "target", target.String(), "state", prevState, "error", err)

		// a failed connect leaves no session behind, whatever the previous state
		d.release(ctx, d.session.reset())

		return Fail(fmt.Errorf("connect failed: %w", err))
	}

	prevConn := d.session.replace(conn, target, cmd.Namespace)
	if prevConn != nil {
		d.logger.Info("backend session replaced", "target", target.String(), "namespace", cmd.Namespace)
		d.release(ctx, prevConn)
	} else {
		d.logger.Info("backend session established", "target", target.String(), "namespace", cmd.Namespace)
	}

	return OK()
}

func (d *Dispatcher) read(ctx context.Context, cmd ReadCommand) Response {
	d.session.mu.Lock()
	defer d.session.mu.Unlock()

	d.metrics.incReadCount()

	if !d.session.State().IsConnected() || d.session.conn == nil {
		d.metrics.incNotConnectedCount()
		return Fail(ErrNotConnected)
	}

	nodeIDs := util.CloneSlice(cmd.NodeIDs, 0)

	results, err := d.session.conn.Read(ctx, d.session.namespace, nodeIDs)
	if err != nil {
		d.metrics.incReadErrCount()
		target := d.session.target

		if errors.Is(err, backend.ErrRequestRejected) {
			d.logger.Warn("backend rejected read request", "target", target.String(), "error", err)
			return Fail(err)
		}

		if errors.Is(err, backend.ErrConnectionLost) {
			d.metrics.incConnLostCount()
			d.logger.Error("backend connection lost, session dropped", "target", target.String(), "error", err)
		} else {
			d.logger.Error("backend read failed, session dropped", "target", target.String(), "error", err)
		}
		d.release(ctx, d.session.reset())

		return Fail(err)
	}

	values := nodeValuesFromResults(cmd.NodeIDs, results)

	nodeErrs := 0
	for _, v := range values {
		if v.Err != nil {
			nodeErrs++
		}
	}
	if nodeErrs > 0 {
		d.metrics.addNodeErrCount(nodeErrs)
		d.logger.Debug("some nodes could not be read", "requested", len(values), "failed", nodeErrs)
	}

	return ReadOK(values)
}

// release closes a connection that is no longer referenced by the session.
func (d *Dispatcher) release(ctx context.Context, conn backend.Conn) {
	if conn == nil {
		return
	}

	if err := conn.Close(ctx); err != nil {
		d.logger.Warn("failed to release backend session", "error", err)
	}
}
