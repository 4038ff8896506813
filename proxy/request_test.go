package proxy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequest_Valid(t *testing.T) {
	require := require.New(t)

	cmd, err := ParseRequest(`{"type":"connect","host":"localhost","port":4855,"endpoint":"/my/UA","namespace":2}`)
	require.NoError(err)
	require.Equal(ConnectType, cmd.Type())
	require.Equal(ConnectCommand{Host: "localhost", Port: 4855, Endpoint: "/my/UA", Namespace: 2}, cmd)

	cmd, err = ParseRequest(`{"type":"connect","host":"plc","port":4840.0,"endpoint":"","namespace":0,"extra":true}` + "\r")
	require.NoError(err)
	require.Equal(ConnectCommand{Host: "plc", Port: 4840, Endpoint: "", Namespace: 0}, cmd)

	cmd, err = ParseRequest(`  {"node_ids":["v3","v1","v2"],"type":"read"}  `)
	require.NoError(err)
	require.Equal(ReadType, cmd.Type())
	require.Equal(ReadCommand{NodeIDs: []string{"v3", "v1", "v2"}}, cmd)
}

func TestParseRequest_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		protocol bool
		contains string
	}{
		{name: "empty", line: ``},
		{name: "garbage", line: `hello`},
		{name: "truncated", line: `{"type":"read"`},
		{name: "array", line: `["connect"]`},
		{name: "null", line: `null`},
		{name: "trailing data", line: `{"type":"read","node_ids":["a"]} {}`},
		{name: "missing type", line: `{"node_ids":["a"]}`, contains: `missing "type"`},
		{name: "numeric type", line: `{"type":1}`},
		{name: "unknown type", line: `{"type":"write","node_ids":["a"]}`, contains: `unknown request type "write"`},
		{name: "missing host", line: `{"type":"connect","port":1,"endpoint":"","namespace":0}`, protocol: true, contains: `"host" is required`},
		{name: "empty host", line: `{"type":"connect","host":"","port":1,"endpoint":"","namespace":0}`, protocol: true},
		{name: "numeric host", line: `{"type":"connect","host":5,"port":1,"endpoint":"","namespace":0}`, protocol: true},
		{name: "missing port", line: `{"type":"connect","host":"h","endpoint":"","namespace":0}`, protocol: true},
		{name: "zero port", line: `{"type":"connect","host":"h","port":0,"endpoint":"","namespace":0}`, protocol: true},
		{name: "negative port", line: `{"type":"connect","host":"h","port":-1,"endpoint":"","namespace":0}`, protocol: true},
		{name: "large port", line: `{"type":"connect","host":"h","port":65536,"endpoint":"","namespace":0}`, protocol: true},
		{name: "fractional port", line: `{"type":"connect","host":"h","port":48.5,"endpoint":"","namespace":0}`, protocol: true},
		{name: "quoted port", line: `{"type":"connect","host":"h","port":"4855","endpoint":"","namespace":0}`, protocol: true},
		{name: "null endpoint", line: `{"type":"connect","host":"h","port":1,"endpoint":null,"namespace":0}`, protocol: true},
		{name: "missing namespace", line: `{"type":"connect","host":"h","port":1,"endpoint":""}`, protocol: true},
		{name: "negative namespace", line: `{"type":"connect","host":"h","port":1,"endpoint":"","namespace":-2}`, protocol: true},
		{name: "missing node_ids", line: `{"type":"read"}`, protocol: true},
		{name: "empty node_ids", line: `{"type":"read","node_ids":[]}`, protocol: true, contains: "must not be empty"},
		{name: "numeric node_ids", line: `{"type":"read","node_ids":[1,2]}`, protocol: true},
		{name: "string node_ids", line: `{"type":"read","node_ids":"v1"}`, protocol: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			cmd, err := ParseRequest(tt.line)
			require.Error(err)
			require.Nil(cmd)
			require.ErrorIs(err, ErrInvalidRequest)

			var parseErr *ParseError
			var protoErr *ProtocolError
			if tt.protocol {
				require.True(errors.As(err, &protoErr), "expected protocol error, got %v", err)
				require.Contains(err.Error(), "protocol error: ")
			} else {
				require.True(errors.As(err, &parseErr), "expected parse error, got %v", err)
				require.Contains(err.Error(), "parse error: ")
				require.Equal(tt.line, parseErr.Line)
			}

			if tt.contains != "" {
				require.Contains(err.Error(), tt.contains)
			}
		})
	}
}
