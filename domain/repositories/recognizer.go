package repositories

import "context"

// Recognizer abstracts a speech recognition engine. Implementations must be
// safe for concurrent use; a session may hold a stream open on one engine
// while new streams are opened on another.
type Recognizer interface {
	// Name returns the engine identifier used for selection and logging.
	Name() string
	// Recognize transcribes a complete audio buffer in one shot.
	Recognize(ctx context.Context, audio []byte, config RecognitionConfig) ([]RecognitionResult, error)
	// OpenStream starts a streaming recognition session.
	OpenStream(ctx context.Context, config RecognitionConfig) (RecognitionStream, error)
	// IsAvailable reports whether the engine can currently serve requests.
	IsAvailable(ctx context.Context) bool
	// Capabilities describes what this engine supports.
	Capabilities() Capabilities
}

// RecognitionStream is a live transcription session. Write and End are called
// from the session goroutine only; Results is consumed elsewhere.
type RecognitionStream interface {
	// Write submits one audio chunk to the engine.
	Write(chunk []byte) error
	// End signals that no more audio will arrive. The results channel is
	// closed once the engine has flushed its remaining hypotheses.
	End() error
	// Results delivers interim and final results in arrival order.
	Results() <-chan RecognitionResult
	// Err returns the terminal stream error, if any, after Results is closed.
	Err() error
}

// RecognitionConfig is passed through to the engine verbatim.
type RecognitionConfig struct {
	SampleRate      int      `json:"sample_rate"`
	Encoding        string   `json:"encoding"`
	Language        string   `json:"language"`
	MaxAlternatives int      `json:"max_alternatives,omitempty"`
	ProfanityFilter bool     `json:"profanity_filter,omitempty"`
	PhraseHints     []string `json:"phrase_hints,omitempty"`
	HintBoost       float32  `json:"hint_boost,omitempty"`
}

// RecognitionResult is a single hypothesis from the engine. Once a final
// result has been emitted for an utterance, no further interim results for
// that utterance may follow.
type RecognitionResult struct {
	Transcript   string       `json:"transcript"`
	Confidence   float32      `json:"confidence"`
	IsFinal      bool         `json:"is_final"`
	Words        []WordTiming `json:"words,omitempty"`
	Alternatives []string     `json:"alternatives,omitempty"`
}

// WordTiming carries per-word offsets relative to the utterance start.
type WordTiming struct {
	Word    string `json:"word"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// Capabilities describes an engine's supported feature set.
type Capabilities struct {
	Streaming      bool     `json:"streaming"`
	InterimResults bool     `json:"interim_results"`
	Offline        bool     `json:"offline"`
	WordTimings    bool     `json:"word_timings"`
	Languages      []string `json:"languages,omitempty"`
}
