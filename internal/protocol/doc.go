// Package protocol owns the URBI wire vocabulary shared by the parser,
// the callback registry and the client.
//
// Ownership boundary:
// - decoded message model (Message, Value, Binary)
// - message kinds and reserved tags
// - tag validation
//
// Frame scanning lives in protocol/frame.
package protocol
