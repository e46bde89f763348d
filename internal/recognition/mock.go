package recognition

import (
	"context"
	"sync/atomic"
)

// Mock is a scripted recognizer for tests and credential-less runs.
// Each consumed audio chunk advances the script by one event; whatever
// remains when the audio stream closes is flushed so the scripted
// final always arrives.
type Mock struct {
	Script []Event

	// ChunkEvery spaces script events out to one per N audio chunks.
	// Zero means one event per chunk.
	ChunkEvery int

	streams atomic.Int32
}

// Streams reports how many recognition streams have been opened.
func (m *Mock) Streams() int {
	return int(m.streams.Load())
}

func (m *Mock) Stream(ctx context.Context, audio <-chan []byte) (<-chan Event, error) {
	m.streams.Add(1)

	every := m.ChunkEvery
	if every <= 0 {
		every = 1
	}

	events := make(chan Event, len(m.Script)+1)
	go func() {
		defer close(events)
		next := 0
		consumed := 0
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-audio:
				if !ok {
					for ; next < len(m.Script); next++ {
						select {
						case events <- m.Script[next]:
						case <-ctx.Done():
							return
						}
					}
					return
				}
				consumed++
				if consumed%every == 0 && next < len(m.Script) {
					select {
					case events <- m.Script[next]:
						next++
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return events, nil
}
