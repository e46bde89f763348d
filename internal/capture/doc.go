// Package capture runs the client-side recording loop: it stages
// captured PCM, streams it to the session server as audio frames, and
// accumulates the transcript frames that come back. The whole loop is
// one cooperative goroutine; audio keeps draining into the staging
// buffer even while a send is waiting on the transport.
package capture
