// Package session implements the per-connection recording engine: it
// turns incoming audio frames into recognition sessions, drives one
// recognition worker per session, and queues encoded transcript frames
// for delivery back to the client.
package session
