// Package atlink drives an ESP-style WiFi modem over a serial byte
// port using AT commands. It turns logical open/send/close operations
// on multiplexed TCP links into command exchanges, preserves
// unsolicited data that arrives interleaved with acknowledgements, and
// cooperatively pumps the caller's capture source while waiting.
package atlink
