// Package storage persists finished recordings as WAV files and reads
// WAV input for file-backed capture sources.
package storage
