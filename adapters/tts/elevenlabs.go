package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/haneul-labs/sori-server/domain/repositories"
)

// Voice and model defaults target Korean playback on the device speaker.
const (
	defaultVoiceID      = "uyVNoMrnUku1dZyVEXwD" // Anna Kim, Korean
	defaultModelID      = "eleven_multilingual_v2"
	defaultOutputFormat = "pcm_16000" // same rate as capture, the device plays it raw
	defaultStability    = 0.5
	defaultClarity      = 0.75
)

const (
	defaultAPIBaseURL = "https://api.elevenlabs.io/v1"
	requestTimeout    = 60 * time.Second
)

// ElevenLabsConfig configures the renderer. Only APIKey is required,
// every other field falls back to the defaults above.
type ElevenLabsConfig struct {
	APIKey       string
	APIBaseURL   string
	VoiceID      string
	ModelID      string
	OutputFormat string
	Stability    float64
	Clarity      float64
}

func (c ElevenLabsConfig) withDefaults() ElevenLabsConfig {
	if c.APIBaseURL == "" {
		c.APIBaseURL = defaultAPIBaseURL
	}
	if c.VoiceID == "" {
		c.VoiceID = defaultVoiceID
	}
	if c.ModelID == "" {
		c.ModelID = defaultModelID
	}
	if c.OutputFormat == "" {
		c.OutputFormat = defaultOutputFormat
	}
	if c.Stability == 0 {
		c.Stability = defaultStability
	}
	if c.Clarity == 0 {
		c.Clarity = defaultClarity
	}
	return c
}

// ValidateElevenLabsConfig rejects configs that the API would refuse anyway.
func ValidateElevenLabsConfig(config ElevenLabsConfig) error {
	if config.APIKey == "" {
		return errors.New("eleven labs api key is required")
	}
	if config.Stability < 0 || config.Stability > 1 {
		return fmt.Errorf("stability out of range: %.2f", config.Stability)
	}
	if config.Clarity < 0 || config.Clarity > 1 {
		return fmt.Errorf("clarity out of range: %.2f", config.Clarity)
	}
	return nil
}

// ElevenLabsRenderer turns reply text into a playable audio payload
// through the Eleven Labs text-to-speech API.
type ElevenLabsRenderer struct {
	apiKey       string
	baseURL      string
	voiceID      string
	model        string
	outputFormat string
	stability    float64
	clarity      float64

	client *http.Client
	logger *zap.Logger
}

var _ repositories.SpeechRenderer = (*ElevenLabsRenderer)(nil)

// ElevenLabsRequest is the JSON body of a text-to-speech call.
type ElevenLabsRequest struct {
	Text          string `json:"text"`
	ModelID       string `json:"model_id"`
	LanguageCode  string `json:"language_code,omitempty"`
	Normalization string `json:"apply_text_normalization,omitempty"`
	VoiceSettings struct {
		Stability       float64 `json:"stability"`
		SimilarityBoost float64 `json:"similarity_boost"`
		SpeakerBoost    bool    `json:"use_speaker_boost,omitempty"`
	} `json:"voice_settings"`
}

// NewElevenLabsRenderer builds a renderer from config, filling in defaults
// for everything but the API key.
func NewElevenLabsRenderer(config ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsRenderer, error) {
	if err := ValidateElevenLabsConfig(config); err != nil {
		return nil, err
	}
	config = config.withDefaults()

	return &ElevenLabsRenderer{
		apiKey:       config.APIKey,
		baseURL:      config.APIBaseURL,
		voiceID:      config.VoiceID,
		model:        config.ModelID,
		outputFormat: config.OutputFormat,
		stability:    config.Stability,
		clarity:      config.Clarity,
		client:       &http.Client{Timeout: requestTimeout},
		logger:       logger,
	}, nil
}

// Render synthesizes text and returns the complete audio payload.
func (e *ElevenLabsRenderer) Render(ctx context.Context, text, language string) (*repositories.RenderedAudio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("nothing to render")
	}

	req := ElevenLabsRequest{
		Text:          text,
		ModelID:       e.model,
		LanguageCode:  languageCode(language),
		Normalization: "auto",
	}
	req.VoiceSettings.Stability = e.stability
	req.VoiceSettings.SimilarityBoost = e.clarity
	req.VoiceSettings.SpeakerBoost = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode tts request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.speechURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tts request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", acceptFor(e.outputFormat))
	httpReq.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call eleven labs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("eleven labs returned an empty body")
	}

	e.logger.Debug("Rendered reply audio",
		zap.Int("chars", len([]rune(text))),
		zap.Int("bytes", len(audio)),
		zap.String("format", e.outputFormat))

	return &repositories.RenderedAudio{
		Data:       audio,
		Format:     e.outputFormat,
		DurationMs: estimateDurationMs(e.outputFormat, len(audio)),
	}, nil
}

func (e *ElevenLabsRenderer) speechURL() string {
	q := url.Values{}
	q.Set("output_format", e.outputFormat)
	q.Set("enable_logging", "false")
	return e.baseURL + "/text-to-speech/" + e.voiceID + "?" + q.Encode()
}

// PCM output must be requested with an audio/pcm accept header,
// compressed formats are served as audio/mpeg.
func acceptFor(format string) string {
	if strings.HasPrefix(format, "pcm") {
		return "audio/pcm"
	}
	return "audio/mpeg"
}

// apiError extracts the "detail" field the API wraps errors in,
// falling back to the raw body when the payload is not JSON.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &payload) == nil && len(payload.Detail) > 0 {
		return fmt.Errorf("eleven labs status %d: %s", resp.StatusCode, payload.Detail)
	}
	return fmt.Errorf("eleven labs status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}

// languageCode reduces a BCP-47 tag to the two-letter code the API accepts.
func languageCode(language string) string {
	if language == "" {
		return ""
	}
	if i := strings.IndexByte(language, '-'); i > 0 {
		return strings.ToLower(language[:i])
	}
	return strings.ToLower(language)
}

// estimateDurationMs computes playback duration for raw PCM formats.
// Compressed formats report 0, the device derives duration itself.
func estimateDurationMs(format string, size int) int64 {
	if !strings.HasPrefix(format, "pcm_") {
		return 0
	}
	sampleRate, err := strconv.Atoi(strings.TrimPrefix(format, "pcm_"))
	if err != nil || sampleRate <= 0 {
		return 0
	}
	// 16-bit mono samples
	return int64(size) * 1000 / int64(sampleRate*2)
}
