package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"voicelink/internal/protocol"
)

// Store writes finished recordings to a directory. A nil *Store is a
// valid no-op sink, used when persistence is disabled.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates the recordings directory if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// SaveRecording persists one recording's PCM as a timestamped WAV file
// and returns its path. Empty recordings are skipped.
func (s *Store) SaveRecording(sessionID string, pcm []byte) (string, error) {
	if s == nil {
		return "", nil
	}
	if len(pcm) == 0 {
		return "", nil
	}

	wav, err := EncodeWAV(pcm, protocol.SampleRate)
	if err != nil {
		return "", fmt.Errorf("encode recording: %w", err)
	}

	name := fmt.Sprintf("%s_%s.wav", time.Now().UTC().Format("20060102T150405"), sessionID)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", fmt.Errorf("write recording: %w", err)
	}

	s.logger.Info("Recording saved",
		slog.String("path", path),
		slog.String("session_id", sessionID),
		slog.Float64("duration_sec", Duration(len(pcm), protocol.SampleRate)),
	)
	return path, nil
}

// LoadWAV reads a WAV file and returns its PCM payload and sample rate.
func LoadWAV(path string) ([]byte, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", path, err)
	}
	return DecodeWAV(data)
}
