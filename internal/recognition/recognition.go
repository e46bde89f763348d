package recognition

import "context"

// Event is one recognition result. Interim events carry the current
// hypothesis for the utterance in progress; a final event fixes it.
type Event struct {
	Text  string
	Final bool
}

// Recognizer streams audio to a recognition engine. Stream consumes
// the audio channel until it closes, emitting events in engine order on
// the returned channel. The event channel closes when the engine ends
// the stream, whether normally or on error; the bridge never retries.
type Recognizer interface {
	Stream(ctx context.Context, audio <-chan []byte) (<-chan Event, error)
}
