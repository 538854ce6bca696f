// Package session owns the host<->extension-runner transport.
//
// Ownership boundary:
// - write serialization over one connection (Writer)
// - channel correlation and handler dispatch (Router)
// - connection lifecycle and the public request/dispatch API (Session, Server)
// - connect retry/backoff
//
// Frames are newline-delimited JSON; see package frame for the codec.
package session
