package voice

import (
	"github.com/haneul-labs/sori-server/domain/entities"
	"github.com/haneul-labs/sori-server/domain/repositories"
	"github.com/haneul-labs/sori-server/internal/recovery"
	"github.com/haneul-labs/sori-server/usecase"
)

// EventKind discriminates pipeline events pushed to the connection layer.
type EventKind string

const (
	// EventState reports a wake-word gate transition.
	EventState EventKind = "state"
	// EventRecognition carries an interim or empty-final transcript.
	EventRecognition EventKind = "recognition"
	// EventReply carries the reply of an executed command, plus the final
	// recognition result when the command was spoken.
	EventReply EventKind = "reply"
	// EventFault surfaces an urgent pipeline fault to the client.
	EventFault EventKind = "fault"
	// EventDegraded reports a step down the degradation ladder.
	EventDegraded EventKind = "degraded"
)

// Event is one pipeline occurrence the client should hear about. Only the
// fields matching Kind are set.
type Event struct {
	Kind        EventKind
	State       entities.PipelineState
	Reason      string
	Engine      string
	Result      *repositories.RecognitionResult
	Reply       *usecase.DispatchResult
	Fault       *recovery.VoiceError
	Degradation entities.DegradationLevel
}
