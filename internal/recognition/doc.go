// Package recognition bridges raw PCM streams to a speech recognition
// engine. Engines implement Recognizer; the server holds one and opens
// a fresh stream per recording.
package recognition
