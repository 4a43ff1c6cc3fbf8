package recovery

import (
	"fmt"
	"time"
)

// Severity ranks how much a fault disturbs the session.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Source names the subsystem a fault originated in.
type Source string

const (
	SourceNetwork     Source = "network"
	SourceSTT         Source = "stt"
	SourceProvider    Source = "provider"
	SourceWakeWord    Source = "wake-word"
	SourceAudio       Source = "audio"
	SourcePermission  Source = "permission"
	SourceInterpreter Source = "interpreter"
	SourceUnknown     Source = "unknown"
)

// Error codes raised by the pipeline.
const (
	CodeNetworkTimeout       = "network-timeout"
	CodeNetworkOffline       = "network-offline"
	CodePermissionDenied     = "permission-denied"
	CodeAudioDeviceNotFound  = "audio-device-not-found"
	CodeAudioProcessingError = "audio-processing-error"
	CodeSTTUnavailable       = "stt-unavailable"
	CodeSTTQuotaExceeded     = "stt-quota-exceeded"
	CodeInterpreterAPIError  = "interpreter-api-error"
	CodeInterpreterRateLimit = "interpreter-rate-limit"
	CodeWakeModelError       = "wake-model-error"
	CodeWakeAudioError       = "wake-audio-error"
)

// classification fixes severity, source and recoverability per code.
type classification struct {
	Severity    Severity
	Source      Source
	Recoverable bool
}

var classifications = map[string]classification{
	CodeNetworkTimeout:       {SeverityMedium, SourceNetwork, true},
	CodeNetworkOffline:       {SeverityHigh, SourceNetwork, true},
	CodePermissionDenied:     {SeverityCritical, SourcePermission, true},
	CodeAudioDeviceNotFound:  {SeverityCritical, SourceAudio, true},
	CodeAudioProcessingError: {SeverityLow, SourceAudio, true},
	CodeSTTUnavailable:       {SeverityHigh, SourceSTT, true},
	CodeSTTQuotaExceeded:     {SeverityHigh, SourceSTT, true},
	CodeInterpreterAPIError:  {SeverityMedium, SourceInterpreter, true},
	CodeInterpreterRateLimit: {SeverityMedium, SourceInterpreter, true},
	CodeWakeModelError:       {SeverityHigh, SourceWakeWord, true},
	CodeWakeAudioError:       {SeverityMedium, SourceWakeWord, true},
}

// VoiceError is a classified pipeline fault. It implements error so adapters
// can return it directly.
type VoiceError struct {
	Code        string    `json:"code"`
	Message     string    `json:"message"`
	Severity    Severity  `json:"severity"`
	Source      Source    `json:"source"`
	Recoverable bool      `json:"recoverable"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (e *VoiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a VoiceError classified by its code. Unknown codes default
// to a recoverable medium-severity fault from an unknown source.
func NewError(code, message string) *VoiceError {
	cls, ok := classifications[code]
	if !ok {
		cls = classification{SeverityMedium, SourceUnknown, true}
	}
	return &VoiceError{
		Code:        code,
		Message:     message,
		Severity:    cls.Severity,
		Source:      cls.Source,
		Recoverable: cls.Recoverable,
		OccurredAt:  time.Now(),
	}
}

// Wrap builds a VoiceError from an underlying error.
func Wrap(code string, err error) *VoiceError {
	return NewError(code, err.Error())
}

// Urgent reports whether the fault must be surfaced to the client.
func (e *VoiceError) Urgent() bool {
	return e.Severity == SeverityHigh || e.Severity == SeverityCritical
}
