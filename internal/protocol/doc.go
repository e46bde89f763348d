// Package protocol implements the voicelink wire format: tag-framed
// audio chunks and stop markers from the client, newline-delimited
// transcript lines from the server, and the START handshake literal.
package protocol
