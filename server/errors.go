package server

import "errors"

var (
	// ErrServerStarted indicates that Start was called on a server that is already running.
	ErrServerStarted = errors.New("server already started")
	// ErrNotTCPListener indicates that the bound listener does not support accept deadlines.
	ErrNotTCPListener = errors.New("listener is not a TCP listener")
	// ErrLineTooLong indicates that a request line exceeded the configured maximum size.
	ErrLineTooLong = errors.New("request line too long")
)
