// Package backend defines the capability the proxy consumes to talk to the remote
// industrial-automation server.
//
// A Client opens a Conn against one Target; a Conn reads a batch of node ids in a namespace
// and is released with Close. Implementations report per-node failures inside the returned
// Result slice and reserve the returned error for failures of the whole request. An error
// wrapping ErrRequestRejected leaves the Conn usable; any other error, ErrConnectionLost in
// particular, tells the caller that the Conn must be discarded.
//
// The uaclient sub-package provides the OPC UA implementation. MockClient and MockConn are
// testify mocks for exercising callers without a real server.
package backend
