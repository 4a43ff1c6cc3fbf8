package wakeword

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/haneul-labs/sori-server/internal/audio"
)

// modelResponse is the wake-model service's scoring answer.
type modelResponse struct {
	Detected         bool    `json:"detected"`
	Confidence       float64 `json:"confidence"`
	Phrase           string  `json:"phrase"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// ModelScorer scores audio windows against a wake phrase by calling the
// wake-model HTTP service.
type ModelScorer struct {
	serviceURL string
	phrase     string
	sampleRate int
	httpClient *http.Client
	logger     *zap.Logger
}

func NewModelScorer(serviceURL, phrase string, sampleRate int, logger *zap.Logger) *ModelScorer {
	return &ModelScorer{
		serviceURL: serviceURL,
		phrase:     phrase,
		sampleRate: sampleRate,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

func (m *ModelScorer) Name() string { return "model" }

// Score uploads the window as WAV and returns the model's confidence.
func (m *ModelScorer) Score(ctx context.Context, pcm []byte) (float64, error) {
	if len(pcm) == 0 {
		return 0, nil
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "window.wav")
	if err != nil {
		return 0, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio.EncodeWAV(pcm, m.sampleRate)); err != nil {
		return 0, fmt.Errorf("failed to write audio data: %w", err)
	}

	writer.WriteField("phrase", m.phrase)
	writer.WriteField("sampling_rate", strconv.Itoa(m.sampleRate))
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.serviceURL+"/score", body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to call wake-model service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("wake-model service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var mr modelResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return 0, fmt.Errorf("failed to decode wake-model response: %w", err)
	}

	m.logger.Debug("wake-model scored window",
		zap.Float64("confidence", mr.Confidence),
		zap.Bool("detected", mr.Detected),
		zap.Float64("processing_time_ms", mr.ProcessingTimeMs),
	)

	return mr.Confidence, nil
}
