package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/arloliu/go-opcua-proxy/logger"
	"github.com/arloliu/go-opcua-proxy/proxy"
)

const maxReaderSize = 64 << 10

// clientConn serves one accepted socket. Each request line gets exactly one response line.
type clientConn struct {
	id          string
	conn        net.Conn
	reader      *bufio.Reader
	lineBuf     []byte
	maxLineSize int
	server      *Server
	logger      logger.Logger
	closeOnce   sync.Once
}

func newClientConn(s *Server, conn net.Conn) *clientConn {
	id := uuid.NewString()

	return &clientConn{
		id:          id,
		conn:        conn,
		reader:      bufio.NewReaderSize(conn, min(s.cfg.maxLineSize, maxReaderSize)),
		maxLineSize: s.cfg.maxLineSize,
		server:      s,
		logger:      s.logger.With("client_id", id, "remote_address", conn.RemoteAddr().String()),
	}
}

// serveTask handles one request line. It returns false when the connection is done.
func (c *clientConn) serveTask() bool {
	line, tooLong, err := c.readLine()
	if err != nil && !errors.Is(err, io.EOF) {
		c.logReadErr(err)
		return false
	}

	// a final line without newline is still served before the connection ends
	atEOF := err != nil

	if tooLong {
		c.server.metrics.incOversizedLineCount()
		c.logger.Warn("request line too long, discarded", "limit", c.maxLineSize)

		lineErr := fmt.Errorf("%w: limit is %d bytes", ErrLineTooLong, c.maxLineSize)
		if !c.writeResponse(proxy.Fail(lineErr)) {
			return false
		}

		return !atEOF
	}

	text := strings.TrimRight(string(line), "\r\n")
	if strings.TrimSpace(text) == "" {
		if atEOF {
			c.logger.Debug("client closed connection")
		}

		return !atEOF
	}

	c.server.metrics.incRequestCount()

	resp := c.server.dispatcher.HandleLine(c.server.taskMgr.Context(), text)
	if !c.writeResponse(resp) {
		return false
	}

	if atEOF {
		c.logger.Debug("client closed connection")
		return false
	}

	return true
}

// readLine reads up to and including the next newline. A line longer than maxLineSize is
// consumed entirely and reported as tooLong without its content.
//
// The returned slice is only valid until the next call.
func (c *clientConn) readLine() ([]byte, bool, error) {
	c.lineBuf = c.lineBuf[:0]
	tooLong := false

	for {
		frag, err := c.reader.ReadSlice('\n')
		if !tooLong {
			if len(c.lineBuf)+len(frag) > c.maxLineSize {
				tooLong = true
				c.lineBuf = c.lineBuf[:0]
			} else {
				c.lineBuf = append(c.lineBuf, frag...)
			}
		}

		if !errors.Is(err, bufio.ErrBufferFull) {
			return c.lineBuf, tooLong, err
		}
	}
}

func (c *clientConn) writeResponse(resp proxy.Response) bool {
	if !resp.IsOK() {
		c.server.metrics.incErrorResponseCount()
	}

	data, err := resp.MarshalLine()
	if err != nil {
		c.logger.Error("failed to encode response", "error", err)
		c.server.metrics.incErrorResponseCount()

		data, err = proxy.Fail(err).MarshalLine()
		if err != nil {
			return false
		}
	}

	if _, err := c.conn.Write(data); err != nil {
		c.server.metrics.incWriteErrCount()
		c.logIOErr("failed to write response", err)

		return false
	}

	return true
}

func (c *clientConn) logReadErr(err error) {
	if !isClosedErr(err) {
		c.server.metrics.incReadErrCount()
	}

	c.logIOErr("failed to read request", err)
}

func (c *clientConn) logIOErr(msg string, err error) {
	if isClosedErr(err) {
		c.logger.Debug(msg, "error", err)
		return
	}

	c.logger.Error(msg, "error", err)
}

// close closes the socket and unregisters the client. It is safe to call more than once.
func (c *clientConn) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()

		if _, loaded := c.server.clients.LoadAndDelete(c.id); loaded {
			c.server.metrics.decActiveClientGauge()
		}

		c.logger.Info("client disconnected")
	})
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "broken pipe")
}
