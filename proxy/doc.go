// Package proxy implements the request/response core of the OPC UA line proxy.
//
// Clients send one JSON object per line. Two commands are understood:
//
//	{"type":"connect","host":"localhost","port":4855,"endpoint":"/my/UA","namespace":2}
//	{"type":"read","node_ids":["v1","v2"]}
//
// Every request line yields exactly one response line:
//
//	{"status":"ok"}
//	{"status":"ok","values":{"v1":3.14,"v2":{"error":"..."}}}
//	{"status":"error","message":"not connected"}
//
// Read values keep the order of the requested node ids, and a node that cannot be read is
// reported with an error marker instead of failing the whole request.
//
// State:
//
// A single Session holds the backend connection shared by all clients. It is either
// Disconnected or Connected. The Dispatcher is the only writer: it validates a Command against
// the Session, calls the backend.Client and updates the Session, all under the Session lock so
// that concurrent clients observe totally ordered transitions.
//
// A connect always opens a fresh backend connection and, on success, replaces and releases the
// previous one. A read on a dead connection drops the Session back to Disconnected.
package proxy
