// Package server hosts the TCP session server that speaks the
// voicelink wire protocol with clients, plus the HTTP API used for
// monitoring and metrics.
package server
