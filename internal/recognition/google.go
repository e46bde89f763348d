package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	speech "cloud.google.com/go/speech/apiv1"
	"google.golang.org/api/option"
	speechpb "google.golang.org/genproto/googleapis/cloud/speech/v1"

	"voicelink/internal/protocol"
)

// GoogleConfig holds Cloud Speech-to-Text parameters.
type GoogleConfig struct {
	// APIKey, when set, is used instead of application default
	// credentials.
	APIKey       string
	LanguageCode string
}

// Google streams audio to Google Cloud Speech-to-Text.
type Google struct {
	client *speech.Client
	cfg    GoogleConfig
	logger *slog.Logger
}

// NewGoogle creates a recognizer backed by one shared API client.
// Without an API key, credentials come from the environment
// (GOOGLE_APPLICATION_CREDENTIALS or ambient service account).
func NewGoogle(ctx context.Context, cfg GoogleConfig, logger *slog.Logger) (*Google, error) {
	var opts []option.ClientOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	return &Google{client: client, cfg: cfg, logger: logger}, nil
}

// Stream opens one streaming recognize session. Audio from the channel
// is forwarded until the channel closes; events arrive on the returned
// channel until the engine ends the stream.
func (g *Google) Stream(ctx context.Context, audio <-chan []byte) (<-chan Event, error) {
	stream, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("open recognize stream: %w", err)
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: protocol.SampleRate,
					LanguageCode:    g.cfg.LanguageCode,
				},
				InterimResults: true,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("send recognize config: %w", err)
	}

	go func() {
		for chunk := range audio {
			err := stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
					AudioContent: chunk,
				},
			})
			if err != nil {
				// The receive side reports the terminal error.
				g.logger.Warn("Audio forward failed", slog.String("error", err.Error()))
				break
			}
		}
		if err := stream.CloseSend(); err != nil {
			g.logger.Warn("CloseSend failed", slog.String("error", err.Error()))
		}
	}()

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		for {
			resp, err := stream.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					g.logger.Warn("Recognition stream ended", slog.String("error", err.Error()))
				}
				return
			}

			for _, result := range resp.Results {
				if len(result.Alternatives) == 0 {
					continue
				}
				alt := result.Alternatives[0]
				if alt.Transcript == "" {
					continue
				}
				events <- Event{Text: alt.Transcript, Final: result.IsFinal}
			}
		}
	}()

	return events, nil
}

// Close releases the shared API client.
func (g *Google) Close() error {
	return g.client.Close()
}
