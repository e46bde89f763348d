// Package assemble reassembles the modem's raw byte stream into
// complete transcript frames. It extracts +IPD-framed payloads for one
// logical link, tolerates partial arrivals and corrupt headers, and
// splits payload bytes on newlines into typed frames.
package assemble
