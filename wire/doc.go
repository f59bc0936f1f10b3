// Package wire implements the ZMTP 3.1 byte-level encoding: the 64-byte
// greeting, the frame header (flags + length), and the COMMAND-flagged
// structures (READY, SUBSCRIBE/UNSUBSCRIBE, the CURVE handshake commands,
// PING/PONG, ERROR). Nothing here performs I/O; callers supply and consume
// plain []byte.
package wire
