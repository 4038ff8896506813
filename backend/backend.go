package backend

import (
	"context"
	"net"
	"strconv"
)

// Target addresses one backend server.
type Target struct {
	Host     string
	Port     int
	Endpoint string
}

// Address returns the host:port part of the target.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// String returns the target as host:port followed by the endpoint path.
func (t Target) String() string {
	return t.Address() + t.Endpoint
}

// Client opens connections to backend servers.
type Client interface {
	// Connect establishes a new connection to target. The returned Conn is owned by the caller.
	Connect(ctx context.Context, target Target) (Conn, error)
}

// Conn is a live connection to a backend server.
type Conn interface {
	// Read reads the values of nodeIDs within namespace.
	//
	// It returns one Result per requested id, in request order. A non-nil error means the
	// whole request failed; it wraps ErrRequestRejected when the connection stays usable and
	// ErrConnectionLost when the connection itself is dead.
	Read(ctx context.Context, namespace uint16, nodeIDs []string) ([]Result, error)

	// Close releases the connection.
	Close(ctx context.Context) error
}

// Result is the outcome of reading a single node.
//
// Value is one of nil, bool, string or a numeric type. Err is set when the node could not be read.
type Result struct {
	NodeID string
	Value  any
	Err    error
}

// ValueResult returns a successful Result.
func ValueResult(nodeID string, value any) Result {
	return Result{NodeID: nodeID, Value: value}
}

// ErrorResult returns a failed Result.
func ErrorResult(nodeID string, err error) Result {
	return Result{NodeID: nodeID, Err: err}
}
