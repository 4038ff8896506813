package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arloliu/go-opcua-proxy/backend"
)

// Status is the value of the "status" field of a response.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// NodeValue is the outcome of reading one node, as reported to the client.
type NodeValue struct {
	NodeID string
	Value  any
	Err    error
}

// Response is the reply to one request line.
//
// Values is nil for responses without a payload, such as a connect acknowledgement.
type Response struct {
	Status  Status
	Message string
	Values  []NodeValue
}

// OK returns a successful response without payload.
func OK() Response {
	return Response{Status: StatusOK}
}

// ReadOK returns a successful read response carrying values in order.
func ReadOK(values []NodeValue) Response {
	if values == nil {
		values = []NodeValue{}
	}

	return Response{Status: StatusOK, Values: values}
}

// Fail returns an error response whose message is err's text.
func Fail(err error) Response {
	return Response{Status: StatusError, Message: err.Error()}
}

// IsOK reports whether the response is successful.
func (r Response) IsOK() bool {
	return r.Status == StatusOK
}

// nodeValuesFromResults pairs each requested id with its result by position.
func nodeValuesFromResults(nodeIDs []string, results []backend.Result) []NodeValue {
	values := make([]NodeValue, len(nodeIDs))
	for i, id := range nodeIDs {
		if i >= len(results) {
			values[i] = NodeValue{NodeID: id, Err: backend.ErrNoResult}
			continue
		}
		values[i] = NodeValue{NodeID: id, Value: results[i].Value, Err: results[i].Err}
	}

	return values
}

// MarshalJSON encodes the response. Read values are written as a JSON object whose keys
// follow the order of Values.
func (r Response) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(`{"status":`)
	if err := writeJSON(&buf, r.Status); err != nil {
		return nil, err
	}

	if r.Status == StatusError {
		buf.WriteString(`,"message":`)
		if err := writeJSON(&buf, r.Message); err != nil {
			return nil, err
		}
	}

	if r.Values != nil {
		buf.WriteString(`,"values":{`)
		for i, v := range r.Values {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(&buf, v.NodeID); err != nil {
				return nil, err
			}
			buf.WriteByte(':')
			writeNodeValue(&buf, v)
		}
		buf.WriteByte('}')
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// MarshalLine encodes the response followed by a newline.
func (r Response) MarshalLine() ([]byte, error) {
	data, err := r.MarshalJSON()
	if err != nil {
		return nil, err
	}

	return append(data, '\n'), nil
}

type errorMarker struct {
	Error string `json:"error"`
}

// writeNodeValue writes the value, or an error marker when the node failed or its value
// can't be encoded.
func writeNodeValue(buf *bytes.Buffer, v NodeValue) {
	if v.Err == nil {
		data, err := json.Marshal(v.Value)
		if err == nil {
			buf.Write(data)
			return
		}
		v.Err = fmt.Errorf("unencodable value: %w", err)
	}

	data, _ := json.Marshal(errorMarker{Error: v.Err.Error()})
	buf.Write(data)
}

func writeJSON(buf *bytes.Buffer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(data)

	return nil
}

// UnmarshalJSON decodes a response, keeping the order of read values. Numbers are decoded
// as json.Number and error markers become errors.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw struct {
		Status  Status          `json:"status"`
		Message string          `json:"message"`
		Values  json.RawMessage `json:"values"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Status = raw.Status
	r.Message = raw.Message
	r.Values = nil

	if len(raw.Values) == 0 || string(raw.Values) == "null" {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw.Values))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New(`"values" is not an object`)
	}

	r.Values = []NodeValue{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)

		var val any
		if err := dec.Decode(&val); err != nil {
			return err
		}

		nv := NodeValue{NodeID: key, Value: val}
		if m, ok := val.(map[string]any); ok && len(m) == 1 {
			if msg, ok := m["error"].(string); ok {
				nv = NodeValue{NodeID: key, Err: errors.New(msg)}
			}
		}
		r.Values = append(r.Values, nv)
	}

	_, err = dec.Token()

	return err
}
