// Package uaclient implements the backend capability on top of the gopcua OPC UA client.
//
// Each Connect opens a new OPC UA session against opc.tcp://<host>:<port><endpoint> with an
// anonymous identity and no message security, mirroring a plain "connect and browse" client.
// Node ids passed to Read are string identifiers inside the session namespace, i.e. the id
// "Temperature" in namespace 2 is read as ns=2;s=Temperature.
//
// Variant values are normalised into JSON friendly scalars:
//   - booleans, strings and numeric types are kept as is (non finite floats become strings)
//   - time.Time becomes an RFC 3339 string
//   - byte strings become base64 strings
//   - localized text, qualified names and node ids become their text form
//   - anything else is formatted with fmt
//
// Per-node status codes other than Good are returned as per-node errors. Transport failures and
// session level status codes (closed session, closed secure channel, ...) are reported as
// backend.ErrConnectionLost so the caller can drop the session. Other Bad service results are
// reported as backend.ErrRequestRejected and leave the session open.
package uaclient
