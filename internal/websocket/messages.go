package websocket

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Client to server message types
const (
	MessageTypeAuth        MessageType = "auth"
	MessageTypeStreamStart MessageType = "audio_stream_start"
	MessageTypeAudioChunk  MessageType = "audio_chunk"
	MessageTypeStreamEnd   MessageType = "audio_stream_end"
	MessageTypeCommand     MessageType = "command"
)

// Server to client message types
const (
	MessageTypeAuthRequired      MessageType = "auth_required"
	MessageTypeAuthSuccess       MessageType = "auth_success"
	MessageTypeRecognitionResult MessageType = "recognition_result"
	MessageTypeAudioResponse     MessageType = "audio_response"
	MessageTypeError             MessageType = "error"
)

// Error codes carried on protocol-level error messages. Pipeline faults use
// their own taxonomy and arrive with the fault's code instead.
const (
	ErrCodeInvalidMessage       = "invalid_message"
	ErrCodeNotAuthenticated     = "not_authenticated"
	ErrCodeAuthFailed           = "auth_failed"
	ErrCodeAlreadyAuthenticated = "already_authenticated"
	ErrCodeStreamAlreadyActive  = "stream_already_active"
	ErrCodeStreamNotActive      = "stream_not_active"
	ErrCodeStaleSequence        = "stale_sequence"
	ErrCodeSpeechDisabled       = "speech_disabled"
	ErrCodeSessionDegraded      = "session_degraded"
	ErrCodeInternal             = "internal_error"
)

// BaseMessage defines the common structure for all WebSocket messages.
// Timestamp is milliseconds since the Unix epoch.
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().UnixMilli()}
}

// AuthMessage is the first message a client must send.
type AuthMessage struct {
	BaseMessage
	Token string `json:"token"`
}

// StreamConfigPayload is the audio format announced at stream start.
type StreamConfigPayload struct {
	SampleRate int    `json:"sampleRate"`
	Format     string `json:"format"`
	Language   string `json:"language"`
}

// StreamStartMessage opens an audio stream on the session.
type StreamStartMessage struct {
	BaseMessage
	Config StreamConfigPayload `json:"config"`
}

// AudioChunkMessage carries one base64-encoded audio chunk.
type AudioChunkMessage struct {
	BaseMessage
	Data     string `json:"data"`
	Sequence uint64 `json:"sequence"`
}

// StreamEndMessage closes the audio stream. Duration is the client-measured
// capture length in milliseconds, informational only.
type StreamEndMessage struct {
	BaseMessage
	Duration int64 `json:"duration"`
}

// CommandMessage is a typed command, the speech-free path.
type CommandMessage struct {
	BaseMessage
	Command string `json:"command"`
	Context string `json:"context,omitempty"`
}

// AuthRequiredMessage asks the client to authenticate.
type AuthRequiredMessage struct {
	BaseMessage
}

// AuthSuccessMessage confirms authentication and names the session.
type AuthSuccessMessage struct {
	BaseMessage
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// RecognitionResultMessage carries an interim or final transcript. Command
// is set on final results that were interpreted as a command.
type RecognitionResultMessage struct {
	BaseMessage
	Transcript string  `json:"transcript"`
	Confidence float32 `json:"confidence"`
	IsFinal    bool    `json:"isFinal"`
	Command    string  `json:"command,omitempty"`
}

// AudioResponseMessage carries a spoken reply. Data is base64 audio and may
// be empty when rendering was unavailable; Text always holds the reply.
type AudioResponseMessage struct {
	BaseMessage
	Data     string `json:"data"`
	Format   string `json:"format"`
	Duration int64  `json:"duration"`
	Text     string `json:"text"`
	Language string `json:"language"`
}

// ErrorMessage is a structured error pushed to the client.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MessageValidator provides validation for inbound WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses and validates an incoming message, returning the
// typed message struct.
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeAuth:
		var msg AuthMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid auth message: %w", err)
		}
		if msg.Token == "" {
			return nil, fmt.Errorf("token is required")
		}
		return &msg, nil

	case MessageTypeStreamStart:
		var msg StreamStartMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid audio_stream_start message: %w", err)
		}
		if err := v.validateStreamStart(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeAudioChunk:
		var msg AudioChunkMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid audio_chunk message: %w", err)
		}
		if msg.Data == "" {
			return nil, fmt.Errorf("data is required")
		}
		return &msg, nil

	case MessageTypeStreamEnd:
		var msg StreamEndMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid audio_stream_end message: %w", err)
		}
		return &msg, nil

	case MessageTypeCommand:
		var msg CommandMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid command message: %w", err)
		}
		if msg.Command == "" {
			return nil, fmt.Errorf("command is required")
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

// validateStreamStart checks the announced audio format. Missing fields are
// allowed; the pipeline fills in server defaults.
func (v *MessageValidator) validateStreamStart(msg *StreamStartMessage) error {
	if msg.Config.SampleRate != 0 && (msg.Config.SampleRate < 8000 || msg.Config.SampleRate > 48000) {
		return fmt.Errorf("sampleRate must be between 8000 and 48000")
	}
	return nil
}

// CreateAuthRequired creates the authentication challenge sent on connect
func CreateAuthRequired() *AuthRequiredMessage {
	return &AuthRequiredMessage{BaseMessage: newBase(MessageTypeAuthRequired)}
}

// CreateAuthSuccess creates the authentication confirmation
func CreateAuthSuccess(sessionID, userID string) *AuthSuccessMessage {
	return &AuthSuccessMessage{
		BaseMessage: newBase(MessageTypeAuthSuccess),
		SessionID:   sessionID,
		UserID:      userID,
	}
}

// CreateRecognitionResult creates a transcript message
func CreateRecognitionResult(transcript string, confidence float32, isFinal bool, command string) *RecognitionResultMessage {
	return &RecognitionResultMessage{
		BaseMessage: newBase(MessageTypeRecognitionResult),
		Transcript:  transcript,
		Confidence:  confidence,
		IsFinal:     isFinal,
		Command:     command,
	}
}

// CreateAudioResponse creates a spoken reply message, encoding the audio
func CreateAudioResponse(data []byte, format string, durationMs int64, text, language string) *AudioResponseMessage {
	return &AudioResponseMessage{
		BaseMessage: newBase(MessageTypeAudioResponse),
		Data:        base64.StdEncoding.EncodeToString(data),
		Format:      format,
		Duration:    durationMs,
		Text:        text,
		Language:    language,
	}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError),
		Code:        code,
		Message:     message,
		Details:     details,
	}
}
