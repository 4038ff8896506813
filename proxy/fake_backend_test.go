package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-opcua-proxy/backend"
)

var errUnreadable = errors.New("BadNodeIdUnknown")

// fakeClient is a deterministic in-memory backend.
type fakeClient struct {
	mu         sync.Mutex
	values     map[string]any
	refused    map[string]error
	conns      []*fakeConn
	ctxErrSeen atomic.Bool
}

func newFakeClient(values map[string]any) *fakeClient {
	return &fakeClient{values: values, refused: map[string]error{}}
}

func (c *fakeClient) Connect(ctx context.Context, target backend.Target) (backend.Conn, error) {
	if ctx.Err() != nil {
		c.ctxErrSeen.Store(true)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.refused[target.Host]; err != nil {
		return nil, err
	}

	conn := &fakeConn{id: len(c.conns) + 1, target: target, client: c}
	c.conns = append(c.conns, conn)

	return conn, nil
}

func (c *fakeClient) connCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.conns)
}

func (c *fakeClient) conn(i int) *fakeConn {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conns[i]
}

type fakeConn struct {
	id         int
	target     backend.Target
	client     *fakeClient
	closed     atomic.Bool
	lost       atomic.Bool
	readCount  atomic.Int32
	namespaces sync.Map // namespace -> struct{}
}

func (c *fakeConn) Read(ctx context.Context, namespace uint16, nodeIDs []string) ([]backend.Result, error) {
	c.readCount.Add(1)
	c.namespaces.Store(namespace, struct{}{})

	if ctx.Err() != nil {
		c.client.ctxErrSeen.Store(true)
	}
	if c.closed.Load() {
		return nil, fmt.Errorf("read on closed conn %d", c.id)
	}
	if c.lost.Load() {
		return nil, fmt.Errorf("%w: EOF", backend.ErrConnectionLost)
	}

	results := make([]backend.Result, len(nodeIDs))
	for i, id := range nodeIDs {
		if v, ok := c.client.values[id]; ok {
			results[i] = backend.ValueResult(id, v)
		} else {
			results[i] = backend.ErrorResult(id, errUnreadable)
		}
	}

	return results, nil
}

func (c *fakeConn) Close(context.Context) error {
	c.closed.Store(true)
	return nil
}
