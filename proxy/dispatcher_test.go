package proxy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-opcua-proxy/backend"
	"github.com/arloliu/go-opcua-proxy/logger"
)

const exampleConnect = `{"type":"connect","host":"localhost","port":4855,"endpoint":"/my/UA","namespace":2}`

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

func connectLine(host string, namespace int) string {
	return fmt.Sprintf(`{"type":"connect","host":%q,"port":4840,"endpoint":"/ua","namespace":%d}`, host, namespace)
}

func TestDispatcher_ReadBeforeConnect(t *testing.T) {
	require := require.New(t)

	client := backend.NewMockClient()
	d := NewDispatcher(NewSession(), client)

	resp := d.HandleLine(context.Background(), `{"type":"read","node_ids":["v1"]}`)
	require.False(resp.IsOK())
	require.Equal("not connected", resp.Message)
	require.Nil(resp.Values)
	require.Equal(Disconnected, d.Session().State())

	client.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything)
	require.EqualValues(1, d.GetMetrics().NotConnectedCount.Load())
}

func TestDispatcher_Example(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	client := newFakeClient(map[string]any{"v1": 3.14})
	d := NewDispatcher(NewSession(), client)

	resp := d.HandleLine(ctx, exampleConnect)
	require.True(resp.IsOK(), resp.Message)
	require.Nil(resp.Values)

	info := d.Session().Snapshot()
	require.Equal(Connected, info.State)
	require.Equal(backend.Target{Host: "localhost", Port: 4855, Endpoint: "/my/UA"}, info.Target)
	require.EqualValues(2, info.Namespace)

	resp = d.HandleLine(ctx, `{"type":"read","node_ids":["v1","v2"]}`)
	require.True(resp.IsOK())
	require.Len(resp.Values, 2)
	require.Equal(NodeValue{NodeID: "v1", Value: 3.14}, resp.Values[0])
	require.Equal("v2", resp.Values[1].NodeID)
	require.ErrorIs(resp.Values[1].Err, errUnreadable)

	data, err := resp.MarshalJSON()
	require.NoError(err)
	require.Equal(`{"status":"ok","values":{"v1":3.14,"v2":{"error":"BadNodeIdUnknown"}}}`, string(data))

	_, ok := client.conn(0).namespaces.Load(uint16(2))
	require.True(ok)
	require.EqualValues(1, d.GetMetrics().NodeErrCount.Load())
}

func TestDispatcher_ReadPreservesOrder(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	client := newFakeClient(map[string]any{"a": 1, "b": "two", "c": true})
	d := NewDispatcher(NewSession(), client)

	require.True(d.HandleLine(ctx, exampleConnect).IsOK())

	for _, ids := range [][]string{{"a", "b", "c"}, {"c", "a", "b"}, {"b", "c", "a"}} {
		resp := d.Dispatch(ctx, ReadCommand{NodeIDs: ids})
		require.True(resp.IsOK())
		require.Len(resp.Values, 3)
		for i, id := range ids {
			require.Equal(id, resp.Values[i].NodeID)
			require.NoError(resp.Values[i].Err)
		}
	}
}

func TestDispatcher_ConnectReplacesSession(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	client := newFakeClient(map[string]any{"v1": 1})
	d := NewDispatcher(NewSession(), client)

	require.True(d.HandleLine(ctx, connectLine("first", 1)).IsOK())
	require.True(d.HandleLine(ctx, connectLine("second", 3)).IsOK())
	require.Equal(2, client.connCount())

	first, second := client.conn(0), client.conn(1)
	require.True(first.closed.Load())
	require.False(second.closed.Load())

	resp := d.HandleLine(ctx, `{"type":"read","node_ids":["v1"]}`)
	require.True(resp.IsOK(), resp.Message)
	require.Zero(first.readCount.Load())
	require.EqualValues(1, second.readCount.Load())

	info := d.Session().Snapshot()
	require.Equal("second", info.Target.Host)
	require.EqualValues(3, info.Namespace)
	require.Same(second, info.Conn)
}

func TestDispatcher_ConnectFailure(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	client := newFakeClient(map[string]any{"v1": 1})
	client.refused["down"] = errors.New("connection refused")
	d := NewDispatcher(NewSession(), client)

	resp := d.HandleLine(ctx, connectLine("down", 0))
	require.False(resp.IsOK())
	require.Equal("connect failed: connection refused", resp.Message)
	require.Equal(Disconnected, d.Session().State())

	// a failed connect from Connected drops the established session
	require.True(d.HandleLine(ctx, connectLine("up", 0)).IsOK())
	resp = d.HandleLine(ctx, connectLine("down", 0))
	require.False(resp.IsOK())
	require.Equal("connect failed: connection refused", resp.Message)

	info := d.Session().Snapshot()
	require.Equal(Disconnected, info.State)
	require.Nil(info.Conn)
	require.Equal(backend.Target{}, info.Target)
	require.True(client.conn(0).closed.Load())

	resp = d.HandleLine(ctx, `{"type":"read","node_ids":["v1"]}`)
	require.False(resp.IsOK())
	require.Equal("not connected", resp.Message)
	require.EqualValues(0, client.conn(0).readCount.Load())

	require.EqualValues(3, d.GetMetrics().ConnectCount.Load())
	require.EqualValues(2, d.GetMetrics().ConnectErrCount.Load())
}

func TestDispatcher_ConnectNilConn(t *testing.T) {
	require := require.New(t)

	client := backend.NewMockClient()
	client.On("Connect", mock.Anything, mock.Anything).Return(nil, nil)
	d := NewDispatcher(NewSession(), client)

	resp := d.HandleLine(context.Background(), exampleConnect)
	require.False(resp.IsOK())
	require.Contains(resp.Message, backend.ErrNilConn.Error())
	require.Equal(Disconnected, d.Session().State())
}

func TestDispatcher_ConnectionLost(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	var transitions []string
	session := NewSession(func(prev, cur SessionState, target backend.Target) {
		transitions = append(transitions, fmt.Sprintf("%s->%s@%s", prev, cur, target.Host))
	})

	client := newFakeClient(map[string]any{"v1": 1})
	d := NewDispatcher(session, client)

	require.True(d.HandleLine(ctx, exampleConnect).IsOK())
	conn := client.conn(0)
	conn.lost.Store(true)

	resp := d.HandleLine(ctx, `{"type":"read","node_ids":["v1"]}`)
	require.False(resp.IsOK())
	require.Contains(resp.Message, backend.ErrConnectionLost.Error())
	require.Equal(Disconnected, session.State())
	require.True(conn.closed.Load())

	resp = d.HandleLine(ctx, `{"type":"read","node_ids":["v1"]}`)
	require.False(resp.IsOK())
	require.Equal("not connected", resp.Message)
	require.EqualValues(1, conn.readCount.Load())

	require.Equal([]string{"disconnected->connected@localhost", "connected->disconnected@localhost"}, transitions)
	require.EqualValues(1, d.GetMetrics().ConnLostCount.Load())
}

func TestDispatcher_ReadRejectedKeepsSession(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	conn := backend.NewMockConn()
	conn.On("Read", mock.Anything, uint16(2), []string{"v1"}).
		Return(nil, fmt.Errorf("%w: BadTooManyOperations", backend.ErrRequestRejected))

	client := backend.NewMockClient()
	client.On("Connect", mock.Anything, backend.Target{Host: "localhost", Port: 4855, Endpoint: "/my/UA"}).Return(conn, nil)

	d := NewDispatcher(NewSession(), client)
	require.True(d.HandleLine(ctx, exampleConnect).IsOK())

	resp := d.HandleLine(ctx, `{"type":"read","node_ids":["v1"]}`)
	require.False(resp.IsOK())
	require.Equal("backend rejected request: BadTooManyOperations", resp.Message)
	require.Equal(Connected, d.Session().State())

	conn.AssertNotCalled(t, "Close", mock.Anything)
	client.AssertExpectations(t)
	conn.AssertExpectations(t)
	require.EqualValues(1, d.GetMetrics().ReadErrCount.Load())
	require.Zero(d.GetMetrics().ConnLostCount.Load())
}

func TestDispatcher_ReadFailureDropsSession(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	conn := backend.NewMockConn()
	conn.On("Read", mock.Anything, uint16(2), []string{"v1"}).Return(nil, errors.New("read request failed: deadline exceeded"))
	conn.On("Close", mock.Anything).Return(nil).Once()

	client := backend.NewMockClient()
	client.On("Connect", mock.Anything, mock.Anything).Return(conn, nil)

	d := NewDispatcher(NewSession(), client)
	require.True(d.HandleLine(ctx, exampleConnect).IsOK())

	resp := d.HandleLine(ctx, `{"type":"read","node_ids":["v1"]}`)
	require.False(resp.IsOK())
	require.Equal("read request failed: deadline exceeded", resp.Message)
	require.Equal(Disconnected, d.Session().State())

	resp = d.HandleLine(ctx, `{"type":"read","node_ids":["v1"]}`)
	require.Equal("not connected", resp.Message)

	conn.AssertExpectations(t)
	conn.AssertNumberOfCalls(t, "Read", 1)
	require.Zero(d.GetMetrics().ConnLostCount.Load())
}

func TestDispatcher_InvalidLineLeavesSession(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	client := newFakeClient(map[string]any{"v1": 1})
	d := NewDispatcher(NewSession(), client)
	require.True(d.HandleLine(ctx, exampleConnect).IsOK())

	for _, line := range []string{`{`, `{"type":"connect","host":"h","port":-1,"endpoint":"","namespace":0}`, `{"type":"nope"}`} {
		resp := d.HandleLine(ctx, line)
		require.False(resp.IsOK())
		require.NotEmpty(resp.Message)
	}

	require.Equal(1, client.connCount())
	require.Equal(Connected, d.Session().State())
	require.EqualValues(3, d.GetMetrics().InvalidRequestCount.Load())
}

func TestDispatcher_DetachedContext(t *testing.T) {
	require := require.New(t)

	client := newFakeClient(map[string]any{"v1": 1})
	d := NewDispatcher(NewSession(), client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.True(d.HandleLine(ctx, exampleConnect).IsOK())
	require.True(d.HandleLine(ctx, `{"type":"read","node_ids":["v1"]}`).IsOK())
	require.False(client.ctxErrSeen.Load())
}

func TestDispatcher_Close(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	client := newFakeClient(nil)
	d := NewDispatcher(NewSession(), client)

	require.NoError(d.Close(ctx))

	require.True(d.HandleLine(ctx, exampleConnect).IsOK())
	require.NoError(d.Close(ctx))
	require.True(client.conn(0).closed.Load())
	require.Equal(Disconnected, d.Session().State())
	require.Nil(d.Session().Snapshot().Conn)
}

func TestDispatcher_CloseHonorsContext(t *testing.T) {
	require := require.New(t)

	started := make(chan struct{})
	unblock := make(chan struct{})

	conn := backend.NewMockConn()
	conn.On("Read", mock.Anything, uint16(2), []string{"v1"}).
		Run(func(mock.Arguments) {
			close(started)
			<-unblock
		}).
		Return([]backend.Result{backend.ValueResult("v1", 1)}, nil)
	var released atomic.Bool
	conn.On("Close", mock.Anything).Run(func(mock.Arguments) { released.Store(true) }).Return(nil)

	client := backend.NewMockClient()
	client.On("Connect", mock.Anything, mock.Anything).Return(conn, nil)

	d := NewDispatcher(NewSession(), client)
	require.True(d.HandleLine(context.Background(), exampleConnect).IsOK())

	readDone := make(chan Response, 1)
	go func() {
		readDone <- d.HandleLine(context.Background(), `{"type":"read","node_ids":["v1"]}`)
	}()
	<-started

	// the read holds the session, Close gives up when its context ends
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(d.Close(ctx), context.DeadlineExceeded)

	close(unblock)
	require.True((<-readDone).IsOK())

	// the pending release completes once the read returns
	require.Eventually(released.Load, time.Second, 5*time.Millisecond)
	require.Equal(Disconnected, d.Session().State())
}

func TestDispatcher_ConcurrentClients(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	client := newFakeClient(map[string]any{"v1": 1, "v2": 2})
	d := NewDispatcher(NewSession(), client)

	const workers = 16
	const iterations = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				ns := (w*iterations + i) % 100
				if i%3 == 0 {
					resp := d.HandleLine(ctx, connectLine(fmt.Sprintf("h%d", ns), ns))
					if !resp.IsOK() {
						t.Errorf("connect failed: %s", resp.Message)
					}
					continue
				}

				resp := d.HandleLine(ctx, `{"type":"read","node_ids":["v1","v2"]}`)
				if resp.IsOK() && len(resp.Values) != 2 {
					t.Errorf("unexpected values: %v", resp.Values)
				}

				info := d.Session().Snapshot()
				if info.State.IsConnected() {
					conn, ok := info.Conn.(*fakeConn)
					if !ok || conn.target != info.Target || conn.target.Host != fmt.Sprintf("h%d", info.Namespace) {
						t.Errorf("torn session: %+v", info)
					}
				}
			}
		}(w)
	}
	wg.Wait()

	// every connection was only ever read with the namespace of its own connect
	for i := 0; i < client.connCount(); i++ {
		conn := client.conn(i)
		conn.namespaces.Range(func(key, _ any) bool {
			require.Equal(conn.target.Host, fmt.Sprintf("h%d", key))
			return true
		})
		if i < client.connCount()-1 {
			require.True(conn.closed.Load(), "replaced connection %d not released", conn.id)
		}
	}
}
