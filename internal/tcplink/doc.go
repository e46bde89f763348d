// Package tcplink provides a direct TCP stream link for hosts with a
// native network stack, exposing the same open/send/poll surface as the
// modem-backed link so the capture scheduler works over either.
package tcplink
