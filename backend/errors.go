package backend

import "errors"

var (
	// ErrConnectionLost indicates that the backend connection is no longer usable.
	ErrConnectionLost = errors.New("backend connection lost")

	// ErrRequestRejected indicates that the backend refused a request on a connection that is
	// still usable, e.g. a service fault answered by the server.
	ErrRequestRejected = errors.New("backend rejected request")

	// ErrNilConn indicates that a Client reported success without returning a connection.
	ErrNilConn = errors.New("backend returned nil connection")

	// ErrNoResult indicates that the backend returned no result for a requested node.
	ErrNoResult = errors.New("no result returned for node")
)
