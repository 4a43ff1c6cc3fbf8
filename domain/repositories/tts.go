package repositories

import "context"

// SpeechRenderer converts reply text into playable audio.
type SpeechRenderer interface {
	Render(ctx context.Context, text string, language string) (*RenderedAudio, error)
}

// RenderedAudio is a complete synthesized utterance.
type RenderedAudio struct {
	Data       []byte `json:"-"`
	Format     string `json:"format"`
	DurationMs int64  `json:"duration_ms"`
}
