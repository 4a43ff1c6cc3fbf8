package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/haneul-labs/sori-server/domain/repositories"
	"github.com/haneul-labs/sori-server/internal/audio"
)

// whisperResponse is the transcription answer from the local whisper service.
type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []whisperSegment `json:"segments,omitempty"`
}

type whisperSegment struct {
	ID    int     `json:"id"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// The service reports no confidence.
const whisperConfidence = 0.8

// WhisperRecognizer implements Recognizer on a local whisper HTTP service.
// It has no true streaming mode; streams buffer audio and transcribe on End,
// so it only ever produces final results.
type WhisperRecognizer struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewWhisperRecognizer(baseURL string, logger *zap.Logger) *WhisperRecognizer {
	return &WhisperRecognizer{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

func (w *WhisperRecognizer) Name() string { return "whisper" }

func (w *WhisperRecognizer) Capabilities() repositories.Capabilities {
	return repositories.Capabilities{
		Streaming:      false,
		InterimResults: false,
		WordTimings:    false,
		Offline:        true,
		Languages:      []string{"ko", "en", "ja", "id"},
	}
}

// IsAvailable probes the service endpoint.
func (w *WhisperRecognizer) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.logger.Debug("whisper service unavailable", zap.Error(err))
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Recognize uploads the audio as WAV and returns the single final result.
func (w *WhisperRecognizer) Recognize(ctx context.Context, pcm []byte, config repositories.RecognitionConfig) ([]repositories.RecognitionResult, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("no audio data provided")
	}

	wavData := audio.EncodeWAV(pcm, config.SampleRate)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("audio_file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	requestURL := fmt.Sprintf("%s/asr?encode=true&task=transcribe&language=%s&output=json",
		w.baseURL, languageTag(config.Language))
	if len(config.PhraseHints) > 0 {
		requestURL += "&initial_prompt=" + url.QueryEscape(strings.Join(config.PhraseHints, ", "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper service returned status %d: %s", resp.StatusCode, string(responseBody))
	}
	if len(responseBody) == 0 {
		return nil, fmt.Errorf("whisper service returned empty response")
	}

	var transcription whisperResponse
	if err := json.Unmarshal(responseBody, &transcription); err != nil {
		// Some deployments answer with bare text.
		text := strings.TrimSpace(string(responseBody))
		if text == "" {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		transcription = whisperResponse{Text: text}
	}

	text := strings.TrimSpace(transcription.Text)
	if text == "" {
		return nil, fmt.Errorf("no speech detected in audio")
	}

	w.logger.Debug("whisper transcription",
		zap.String("text", text),
		zap.String("language", transcription.Language),
	)

	return []repositories.RecognitionResult{{
		Transcript: text,
		Confidence: whisperConfidence,
		IsFinal:    true,
	}}, nil
}

// OpenStream returns a buffering stream that transcribes on End.
func (w *WhisperRecognizer) OpenStream(ctx context.Context, config repositories.RecognitionConfig) (repositories.RecognitionStream, error) {
	return &whisperStream{
		recognizer: w,
		ctx:        ctx,
		config:     config,
		results:    make(chan repositories.RecognitionResult, 1),
	}, nil
}

type whisperStream struct {
	recognizer *WhisperRecognizer
	ctx        context.Context
	config     repositories.RecognitionConfig
	results    chan repositories.RecognitionResult

	mu    sync.Mutex
	buf   bytes.Buffer
	err   error
	ended bool
}

func (s *whisperStream) Write(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return fmt.Errorf("stream already ended")
	}
	s.buf.Write(chunk)
	return nil
}

func (s *whisperStream) End() error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	pcm := make([]byte, s.buf.Len())
	copy(pcm, s.buf.Bytes())
	s.mu.Unlock()

	go func() {
		defer close(s.results)
		recognized, err := s.recognizer.Recognize(s.ctx, pcm, s.config)
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
		for _, result := range recognized {
			select {
			case s.results <- result:
			case <-s.ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (s *whisperStream) Results() <-chan repositories.RecognitionResult {
	return s.results
}

func (s *whisperStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// languageTag reduces a BCP-47 tag to the primary subtag whisper expects.
func languageTag(language string) string {
	if language == "" {
		return "ko"
	}
	if i := strings.IndexByte(language, '-'); i > 0 {
		return strings.ToLower(language[:i])
	}
	return strings.ToLower(language)
}
