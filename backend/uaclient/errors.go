package uaclient

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// isTransportErr reports whether err comes from a broken TCP transport.
func isTransportErr(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return !opErr.Timeout()
	}

	return strings.Contains(err.Error(), "connection reset by peer")
}
