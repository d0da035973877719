// Package wire translates between SSH agent protocol frames and Go values.
//
// # Framing
//
// Every message on an agent socket is a frame: a uint32 big-endian length
// followed by that many bytes of payload. The first payload byte is the
// message type:
//
//	+----------------+------+---------------------+
//	| length (4, BE) | type | type-specific body  |
//	+----------------+------+---------------------+
//
// FrameReader pulls complete frames off a stream. Partial frames stay in its
// buffer until the rest arrives; a stream that ends inside a frame is a
// malformed message, a stream that ends between frames is a clean io.EOF.
//
// # Variants
//
// Requests decode into one of:
//
//   - ListIdentities: SSH_AGENTC_REQUEST_IDENTITIES (11)
//   - SignRequest: SSH_AGENTC_SIGN_REQUEST (13) with key blob, data, flags
//   - Unsupported: any other request type, kept so the agent can answer
//     with a protocol failure instead of dropping the connection
//
// Responses are one of IdentityList (12), SignatureResponse (14),
// Success (6) or Failure (5).
//
// Field layouts follow the SSH agent message catalog and are encoded with
// golang.org/x/crypto/ssh's Marshal and Unmarshal, so frames are byte-exact
// with what OpenSSH clients send and expect.
//
// # Errors
//
// Anything the codec cannot make sense of wraps ErrMalformedMessage. Such
// errors are fatal to the session that produced the bytes; encoding never
// fails.
package wire
