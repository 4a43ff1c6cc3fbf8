package repositories

import "context"

// CommandInterpreter maps a transcript to a structured assistant command.
type CommandInterpreter interface {
	// Interpret resolves the user's intent. contextSummary is the rendered
	// conversation context, injected into the prompt for disambiguation.
	Interpret(ctx context.Context, transcript string, contextSummary string) (*Interpretation, error)
}

// Interpretation is the interpreter's structured answer.
type Interpretation struct {
	Command    string            `json:"command"`
	Args       map[string]string `json:"args,omitempty"`
	Reply      string            `json:"reply"`
	Confidence float64           `json:"confidence"`
}
