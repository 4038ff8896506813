package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestTarget(t *testing.T) {
	require := require.New(t)

	target := Target{Host: "localhost", Port: 4855, Endpoint: "/my/UA"}
	require.Equal("localhost:4855", target.Address())
	require.Equal("localhost:4855/my/UA", target.String())

	target = Target{Host: "::1", Port: 4840}
	require.Equal("[::1]:4840", target.String())
}

func TestMocks(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	target := Target{Host: "plc", Port: 4840}

	conn := NewMockConn()
	conn.On("Read", mock.Anything, uint16(2), []string{"v1"}).
		Return([]Result{ValueResult("v1", 1.5)}, nil)
	conn.On("Close", mock.Anything).Return(nil)

	client := NewMockClient()
	client.On("Connect", mock.Anything, target).Return(conn, nil).Once()
	client.On("Connect", mock.Anything, target).Return(nil, errors.New("refused")).Once()

	got, err := client.Connect(ctx, target)
	require.NoError(err)

	results, err := got.Read(ctx, 2, []string{"v1"})
	require.NoError(err)
	require.Equal([]Result{{NodeID: "v1", Value: 1.5}}, results)
	require.NoError(got.Close(ctx))

	got, err = client.Connect(ctx, target)
	require.EqualError(err, "refused")
	require.Nil(got)

	client.AssertExpectations(t)
	conn.AssertExpectations(t)
}
