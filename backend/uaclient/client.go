package uaclient

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/arloliu/go-opcua-proxy/backend"
	"github.com/arloliu/go-opcua-proxy/logger"
)

// uaSession is the subset of *opcua.Client used by Conn.
type uaSession interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error)
	Close(ctx context.Context) error
}

type sessionFactory func(endpoint string, opts ...opcua.Option) (uaSession, error)

func newOPCUASession(endpoint string, opts ...opcua.Option) (uaSession, error) {
	c, err := opcua.NewClient(endpoint, opts...)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// EndpointURL returns the opc.tcp URL of target.
func EndpointURL(target backend.Target) string {
	return "opc.tcp://" + target.String()
}

// Client is an OPC UA implementation of backend.Client.
type Client struct {
	cfg        *Config
	logger     logger.Logger
	newSession sessionFactory
}

// ensure Client implements backend.Client interface.
var _ backend.Client = (*Client)(nil)

// NewClient creates an OPC UA client with the given configuration.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}

	return &Client{
		cfg:        cfg,
		logger:     cfg.logger,
		newSession: newOPCUASession,
	}, nil
}

// Connect opens a new OPC UA session against target.
func (c *Client) Connect(ctx context.Context, target backend.Target) (backend.Conn, error) {
	endpoint := EndpointURL(target)

	sess, err := c.newSession(endpoint, c.sessionOptions()...)
	if err != nil {
		return nil, fmt.Errorf("create opc ua client for %s: %w", endpoint, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.dialTimeout)
	defer cancel()

	c.logger.Debug("connecting to opc ua server", "endpoint", endpoint, "timeout", c.cfg.dialTimeout)
	if err := sess.Connect(dialCtx); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", endpoint, err)
	}
	c.logger.Info("opc ua session established", "endpoint", endpoint)

	return &Conn{
		sess:     sess,
		endpoint: endpoint,
		maxAge:   c.cfg.maxAge,
		logger:   c.logger.With("endpoint", endpoint),
	}, nil
}

func (c *Client) sessionOptions() []opcua.Option {
	return []opcua.Option{
		opcua.ApplicationName(c.cfg.applicationName),
		opcua.ApplicationURI(c.cfg.applicationURI),
		opcua.SecurityPolicy(ua.SecurityPolicyURINone),
		opcua.SecurityMode(ua.MessageSecurityModeNone),
		opcua.AutoReconnect(false),
		opcua.DialTimeout(c.cfg.dialTimeout),
		opcua.RequestTimeout(c.cfg.requestTimeout),
	}
}

// Conn is a live OPC UA session, implementing backend.Conn.
type Conn struct {
	sess     uaSession
	endpoint string
	maxAge   time.Duration
	logger   logger.Logger
	closed   atomic.Bool
}

// ensure Conn implements backend.Conn interface.
var _ backend.Conn = (*Conn)(nil)

// Read reads the Value attribute of the string node ids in namespace.
func (c *Conn) Read(ctx context.Context, namespace uint16, nodeIDs []string) ([]backend.Result, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("%w: session already closed", backend.ErrConnectionLost)
	}

	req := &ua.ReadRequest{
		MaxAge:             float64(c.maxAge / time.Millisecond),
		NodesToRead:        make([]*ua.ReadValueID, 0, len(nodeIDs)),
		TimestampsToReturn: ua.TimestampsToReturnNeither,
	}
	for _, id := range nodeIDs {
		req.NodesToRead = append(req.NodesToRead, &ua.ReadValueID{
			NodeID:      ua.NewStringNodeID(namespace, id),
			AttributeID: ua.AttributeIDValue,
		})
	}

	resp, err := c.sess.Read(ctx, req)
	if err != nil {
		return nil, classifyErr(err)
	}

	if resp.ResponseHeader != nil && isBad(resp.ResponseHeader.ServiceResult) {
		return nil, classifyErr(resp.ResponseHeader.ServiceResult)
	}

	results := make([]backend.Result, len(nodeIDs))
	for i, id := range nodeIDs {
		if i >= len(resp.Results) || resp.Results[i] == nil {
			results[i] = backend.ErrorResult(id, backend.ErrNoResult)
			continue
		}

		dv := resp.Results[i]
		if isBad(dv.Status) {
			results[i] = backend.ErrorResult(id, dv.Status)
			continue
		}

		var val any
		if dv.Value != nil {
			val = dv.Value.Value()
		}
		results[i] = backend.ValueResult(id, normalizeValue(val))
	}

	if len(resp.Results) != len(nodeIDs) {
		c.logger.Warn("result count mismatch", "requested", len(nodeIDs), "returned", len(resp.Results))
	}

	return results, nil
}

// Close closes the OPC UA session. Subsequent calls are no-ops.
func (c *Conn) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.logger.Debug("closing opc ua session")

	return c.sess.Close(ctx)
}

// isBad reports whether the severity bits of status mark it as Bad.
func isBad(status ua.StatusCode) bool {
	return uint32(status)&0x80000000 != 0
}

// sessionLostStatus lists the status codes which mean the session or its channel is gone.
var sessionLostStatus = map[ua.StatusCode]struct{}{
	ua.StatusBadSessionIDInvalid:       {},
	ua.StatusBadSessionClosed:          {},
	ua.StatusBadSessionNotActivated:    {},
	ua.StatusBadSecureChannelIDInvalid: {},
	ua.StatusBadSecureChannelClosed:    {},
	ua.StatusBadConnectionClosed:       {},
	ua.StatusBadNotConnected:           {},
	ua.StatusBadServerNotConnected:     {},
	ua.StatusBadCommunicationError:     {},
	ua.StatusBadDisconnect:             {},
}

// classifyErr wraps err with backend.ErrConnectionLost when it means the session is dead, and
// with backend.ErrRequestRejected when the server answered with a status that leaves the session
// usable. Anything else is left unclassified and the caller drops the session.
func classifyErr(err error) error {
	if isConnectionLost(err) {
		return fmt.Errorf("%w: %w", backend.ErrConnectionLost, err)
	}

	var status ua.StatusCode
	if errors.As(err, &status) {
		return fmt.Errorf("%w: %w", backend.ErrRequestRejected, err)
	}

	return fmt.Errorf("read request failed: %w", err)
}

func isConnectionLost(err error) bool {
	var status ua.StatusCode
	if errors.As(err, &status) {
		_, ok := sessionLostStatus[status]
		return ok
	}

	return isTransportErr(err)
}
