package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/haneul-labs/sori-server/domain/repositories"
)

const defaultModel = "gemini-2.0-flash"

const interpreterTimeout = 10 * time.Second

const systemPrompt = `You are the command parser for Sori, a voice assistant that reads Korean news aloud.
Given the conversation context and a user utterance, answer with a single JSON object:
{"command": "...", "args": {...}, "reply": "...", "confidence": 0.0}

command must be one of: next, previous, repeat, pause, resume, slower, faster, translate, read, help, none.
args holds optional string parameters, e.g. {"language": "en"} for translate.
reply is a short spoken answer in the user's language.
confidence is your certainty between 0.0 and 1.0.
Use "none" when the utterance is not a command, and answer it conversationally in reply.`

// GeminiInterpreter implements the CommandInterpreter interface using
// Google's Gemini API. It makes exactly one attempt per call; callers own
// retry and fallback decisions.
type GeminiInterpreter struct {
	client *genai.Client
	logger *zap.Logger
	model  string
}

// NewGeminiInterpreter creates a new Gemini interpreter instance.
func NewGeminiInterpreter(apiKey, model string, logger *zap.Logger) (*GeminiInterpreter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = defaultModel
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiInterpreter{
		client: client,
		logger: logger,
		model:  model,
	}, nil
}

// Interpret parses one utterance into a command.
func (g *GeminiInterpreter) Interpret(ctx context.Context, transcript, contextSummary string) (*repositories.Interpretation, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(systemPrompt, genai.RoleUser),
		genai.NewContentFromText(buildPrompt(transcript, contextSummary), genai.RoleUser),
	}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(0.2)),
		MaxOutputTokens:  int32(256),
		ResponseMIMEType: "application/json",
	}

	ctx, cancel := context.WithTimeout(ctx, interpreterTimeout)
	defer cancel()

	response, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate interpretation: %w", err)
	}
	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil || len(response.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no interpretation generated")
	}

	var responseText string
	for _, part := range response.Candidates[0].Content.Parts {
		if part.Text != "" {
			responseText += part.Text
		}
	}

	interpretation, err := parseInterpretation(responseText)
	if err != nil {
		return nil, err
	}

	g.logger.Debug("interpreted utterance",
		zap.String("transcript", transcript),
		zap.String("command", interpretation.Command),
		zap.Float64("confidence", interpretation.Confidence),
	)
	return interpretation, nil
}

func buildPrompt(transcript, contextSummary string) string {
	var b strings.Builder
	if contextSummary != "" {
		b.WriteString("Context: ")
		b.WriteString(contextSummary)
		b.WriteString("\n")
	}
	b.WriteString("Utterance: ")
	b.WriteString(transcript)
	return b.String()
}

// parseInterpretation decodes the model's JSON answer. Fenced code blocks
// are tolerated since some models wrap JSON despite the MIME type request.
func parseInterpretation(text string) (*repositories.Interpretation, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	var interpretation repositories.Interpretation
	if err := json.Unmarshal([]byte(text), &interpretation); err != nil {
		return nil, fmt.Errorf("failed to decode interpretation: %w", err)
	}

	interpretation.Command = strings.TrimSpace(strings.ToLower(interpretation.Command))
	if interpretation.Command == "" {
		interpretation.Command = "none"
	}
	if interpretation.Confidence < 0 {
		interpretation.Confidence = 0
	}
	if interpretation.Confidence > 1 {
		interpretation.Confidence = 1
	}
	return &interpretation, nil
}
