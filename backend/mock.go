package backend

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient is a testify mock implementing Client.
type MockClient struct {
	mock.Mock
}

var _ Client = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Connect(ctx context.Context, target Target) (Conn, error) {
	args := m.Called(ctx, target)
	conn, _ := args.Get(0).(Conn)
	return conn, args.Error(1)
}

// MockConn is a testify mock implementing Conn.
type MockConn struct {
	mock.Mock
}

var _ Conn = (*MockConn)(nil)

func NewMockConn() *MockConn {
	return &MockConn{}
}

func (m *MockConn) Read(ctx context.Context, namespace uint16, nodeIDs []string) ([]Result, error) {
	args := m.Called(ctx, namespace, nodeIDs)
	results, _ := args.Get(0).([]Result)
	return results, args.Error(1)
}

func (m *MockConn) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
