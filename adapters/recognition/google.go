package recognition

import (
	"context"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/haneul-labs/sori-server/domain/repositories"
)

// GoogleRecognizer implements Recognizer on Google Cloud Speech-to-Text.
type GoogleRecognizer struct {
	logger *zap.Logger
}

func NewGoogleRecognizer(logger *zap.Logger) *GoogleRecognizer {
	return &GoogleRecognizer{logger: logger}
}

func (g *GoogleRecognizer) Name() string { return "google" }

func (g *GoogleRecognizer) Capabilities() repositories.Capabilities {
	return repositories.Capabilities{
		Streaming:      true,
		InterimResults: true,
		WordTimings:    true,
		Offline:        false,
		Languages:      []string{"ko-KR", "en-US", "ja-JP", "id-ID"},
	}
}

// IsAvailable checks that a client can be constructed, which verifies
// credentials are present without issuing a billable request.
func (g *GoogleRecognizer) IsAvailable(ctx context.Context) bool {
	client, err := speech.NewClient(ctx)
	if err != nil {
		g.logger.Debug("google speech client unavailable", zap.Error(err))
		return false
	}
	client.Close()
	return true
}

// OpenStream starts a streaming recognition session. The config is passed
// through to the engine verbatim.
func (g *GoogleRecognizer) OpenStream(ctx context.Context, config repositories.RecognitionConfig) (repositories.RecognitionStream, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	encoding, err := mapEncoding(config.Encoding)
	if err != nil {
		stream.CloseSend()
		client.Close()
		return nil, err
	}

	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:              encoding,
		SampleRateHertz:       int32(config.SampleRate),
		LanguageCode:          config.Language,
		MaxAlternatives:       int32(config.MaxAlternatives),
		ProfanityFilter:       config.ProfanityFilter,
		EnableWordTimeOffsets: true,
	}
	if len(config.PhraseHints) > 0 {
		recognitionConfig.SpeechContexts = []*speechpb.SpeechContext{
			{Phrases: config.PhraseHints, Boost: config.HintBoost},
		}
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:          recognitionConfig,
				InterimResults:  true,
				SingleUtterance: true,
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	gs := &googleStream{
		client:  client,
		stream:  stream,
		ctx:     ctx,
		results: make(chan repositories.RecognitionResult, 16),
		logger:  g.logger,
	}
	go gs.receiveResults()
	return gs, nil
}

// Recognize transcribes a complete buffer by running it through a stream.
func (g *GoogleRecognizer) Recognize(ctx context.Context, audio []byte, config repositories.RecognitionConfig) ([]repositories.RecognitionResult, error) {
	stream, err := g.OpenStream(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := stream.Write(audio); err != nil {
		return nil, fmt.Errorf("failed to stream audio data: %w", err)
	}
	if err := stream.End(); err != nil {
		return nil, err
	}

	var finals []repositories.RecognitionResult
	for result := range stream.Results() {
		if result.IsFinal {
			finals = append(finals, result)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	if len(finals) == 0 {
		return nil, fmt.Errorf("no speech detected in audio")
	}
	return finals, nil
}

type googleStream struct {
	client  *speech.Client
	stream  speechpb.Speech_StreamingRecognizeClient
	ctx     context.Context
	results chan repositories.RecognitionResult
	logger  *zap.Logger

	mu     sync.Mutex
	err    error
	closed bool
}

func (gs *googleStream) Write(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	// Serialized with End: gRPC forbids Send racing CloseSend.
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if gs.closed {
		return fmt.Errorf("stream already ended")
	}
	if err := gs.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: chunk,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// End signals end of audio. Results stay open until the engine flushes its
// remaining hypotheses.
func (gs *googleStream) End() error {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if gs.closed {
		return nil
	}
	gs.closed = true

	if err := gs.stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close send stream: %w", err)
	}
	return nil
}

func (gs *googleStream) Results() <-chan repositories.RecognitionResult {
	return gs.results
}

func (gs *googleStream) Err() error {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.err
}

func (gs *googleStream) setErr(err error) {
	gs.mu.Lock()
	if gs.err == nil {
		gs.err = err
	}
	gs.mu.Unlock()
}

func (gs *googleStream) receiveResults() {
	defer close(gs.results)
	defer gs.client.Close()

	for {
		resp, err := gs.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			gs.setErr(fmt.Errorf("failed to receive response: %w", err))
			return
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			mapped := mapResult(result)
			select {
			case gs.results <- mapped:
			case <-gs.ctx.Done():
				gs.setErr(gs.ctx.Err())
				return
			}
		}
	}
}

func mapResult(result *speechpb.StreamingRecognitionResult) repositories.RecognitionResult {
	best := result.Alternatives[0]
	mapped := repositories.RecognitionResult{
		Transcript: best.Transcript,
		Confidence: best.Confidence,
		IsFinal:    result.IsFinal,
	}
	for _, word := range best.Words {
		mapped.Words = append(mapped.Words, repositories.WordTiming{
			Word:    word.Word,
			StartMs: word.StartTime.AsDuration().Milliseconds(),
			EndMs:   word.EndTime.AsDuration().Milliseconds(),
		})
	}
	for _, alt := range result.Alternatives[1:] {
		mapped.Alternatives = append(mapped.Alternatives, alt.Transcript)
	}
	return mapped
}

// mapEncoding converts the wire encoding name to the engine enum.
func mapEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
