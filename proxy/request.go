package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/arloliu/go-opcua-proxy/backend"
)

// CommandType is the value of the "type" field of a request.
type CommandType string

const (
	ConnectType CommandType = "connect"
	ReadType    CommandType = "read"
)

// Command is a decoded request. It is either a ConnectCommand or a ReadCommand.
type Command interface {
	Type() CommandType
	isCommand()
}

// ConnectCommand asks the proxy to open a backend session.
type ConnectCommand struct {
	Host      string
	Port      int
	Endpoint  string
	Namespace uint16
}

func (ConnectCommand) Type() CommandType { return ConnectType }
func (ConnectCommand) isCommand()        {}

// Target returns the backend address of the command.
func (c ConnectCommand) Target() backend.Target {
	return backend.Target{Host: c.Host, Port: c.Port, Endpoint: c.Endpoint}
}

// ReadCommand asks the proxy to read node values from the active backend session.
type ReadCommand struct {
	NodeIDs []string
}

func (ReadCommand) Type() CommandType { return ReadType }
func (ReadCommand) isCommand()        {}

// ParseRequest decodes one request line, without its newline delimiter, into a Command.
//
// It returns a *ParseError when the line isn't a JSON object carrying a known "type", and a
// *ProtocolError when a field is missing or has the wrong shape. It never returns a partially
// populated Command.
func ParseRequest(line string) (Command, error) {
	line = strings.TrimSuffix(line, "\r")

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return nil, &ParseError{Line: line, Err: err}
	}
	if fields == nil {
		return nil, &ParseError{Line: line, Err: errors.New("request is not a JSON object")}
	}

	rawType, ok := fields["type"]
	if !ok {
		return nil, &ParseError{Line: line, Err: errors.New(`missing "type" field`)}
	}

	var cmdType string
	if err := json.Unmarshal(rawType, &cmdType); err != nil {
		return nil, &ParseError{Line: line, Err: errors.New(`"type" field is not a string`)}
	}

	switch CommandType(cmdType) {
	case ConnectType:
		return parseConnect(fields)
	case ReadType:
		return parseRead(fields)
	default:
		return nil, &ParseError{Line: line, Err: fmt.Errorf("unknown request type %q", cmdType)}
	}
}

func parseConnect(fields map[string]json.RawMessage) (Command, error) {
	host, err := stringField(fields, "host")
	if err != nil {
		return nil, err
	}
	if host == "" {
		return nil, &ProtocolError{Field: "host", Reason: "must not be empty"}
	}

	port, err := integerField(fields, "port", 1, math.MaxUint16)
	if err != nil {
		return nil, err
	}

	endpoint, err := stringField(fields, "endpoint")
	if err != nil {
		return nil, err
	}

	namespace, err := integerField(fields, "namespace", 0, math.MaxUint16)
	if err != nil {
		return nil, err
	}

	return ConnectCommand{
		Host:      host,
		Port:      int(port),
		Endpoint:  endpoint,
		Namespace: uint16(namespace),
	}, nil
}

func parseRead(fields map[string]json.RawMessage) (Command, error) {
	raw, err := requiredField(fields, "node_ids")
	if err != nil {
		return nil, err
	}

	var nodeIDs []string
	if err := json.Unmarshal(raw, &nodeIDs); err != nil {
		return nil, &ProtocolError{Field: "node_ids", Reason: "must be an array of strings"}
	}
	if len(nodeIDs) == 0 {
		return nil, &ProtocolError{Field: "node_ids", Reason: "must not be empty"}
	}

	return ReadCommand{NodeIDs: nodeIDs}, nil
}

func requiredField(fields map[string]json.RawMessage, name string) (json.RawMessage, error) {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return nil, &ProtocolError{Field: name, Reason: "is required"}
	}

	return raw, nil
}

func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, err := requiredField(fields, name)
	if err != nil {
		return "", err
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &ProtocolError{Field: name, Reason: "must be a string"}
	}

	return s, nil
}

// integerField decodes an integral JSON number within [minVal, maxVal].
// Numbers with a zero fraction such as 4855.0 are accepted.
func integerField(fields map[string]json.RawMessage, name string, minVal, maxVal int64) (int64, error) {
	raw, err := requiredField(fields, name)
	if err != nil {
		return 0, err
	}

	// json.Number also accepts quoted numbers, only bare numbers are allowed here
	if raw[0] != '-' && (raw[0] < '0' || raw[0] > '9') {
		return 0, &ProtocolError{Field: name, Reason: "must be a number"}
	}

	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return 0, &ProtocolError{Field: name, Reason: "must be a number"}
	}

	val, err := num.Int64()
	if err != nil {
		f, ferr := num.Float64()
		if ferr != nil || f != math.Trunc(f) || f < float64(minVal) || f > float64(maxVal) {
			return 0, &ProtocolError{Field: name, Reason: fmt.Sprintf("must be an integer in [%d, %d]", minVal, maxVal)}
		}
		val = int64(f)
	}

	if val < minVal || val > maxVal {
		return 0, &ProtocolError{Field: name, Reason: fmt.Sprintf("must be an integer in [%d, %d]", minVal, maxVal)}
	}

	return val, nil
}
