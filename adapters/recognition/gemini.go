package recognition

import (
	"context"
	"fmt"

	"github.com/haneul-labs/sori-server/domain/repositories"
)

// GeminiRecognizer reserves the engine slot for Gemini audio understanding.
// It is selectable by name so configs can reference it ahead of rollout, but
// every operation reports unavailability until the integration lands.
type GeminiRecognizer struct{}

func NewGeminiRecognizer() *GeminiRecognizer { return &GeminiRecognizer{} }

func (g *GeminiRecognizer) Name() string { return "gemini" }

func (g *GeminiRecognizer) Capabilities() repositories.Capabilities {
	return repositories.Capabilities{
		Languages: []string{"ko-KR", "en-US"},
	}
}

func (g *GeminiRecognizer) IsAvailable(ctx context.Context) bool { return false }

func (g *GeminiRecognizer) Recognize(ctx context.Context, pcm []byte, config repositories.RecognitionConfig) ([]repositories.RecognitionResult, error) {
	return nil, fmt.Errorf("gemini recognition engine is not available yet")
}

func (g *GeminiRecognizer) OpenStream(ctx context.Context, config repositories.RecognitionConfig) (repositories.RecognitionStream, error) {
	return nil, fmt.Errorf("gemini recognition engine is not available yet")
}
