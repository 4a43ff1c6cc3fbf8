package voice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/haneul-labs/sori-server/internal/recovery"
)

// classifyRecognitionError maps an engine failure to a pipeline fault. The
// engine name is embedded in the message so recovery can exclude the failed
// engine when it switches.
func classifyRecognitionError(engine string, err error) *recovery.VoiceError {
	detail := fmt.Sprintf("engine=%s, %v", engine, err)

	if errors.Is(err, context.DeadlineExceeded) {
		return recovery.NewError(recovery.CodeNetworkTimeout, detail)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return recovery.NewError(recovery.CodeNetworkTimeout, detail)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted:
			return recovery.NewError(recovery.CodeSTTQuotaExceeded, detail)
		case codes.DeadlineExceeded:
			return recovery.NewError(recovery.CodeNetworkTimeout, detail)
		}
	}

	return recovery.NewError(recovery.CodeSTTUnavailable, detail)
}

// classifyInterpreterError maps an interpreter failure. Rate-limit style
// failures degrade interpretation; everything else is retried.
func classifyInterpreterError(err error) *recovery.VoiceError {
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "429") ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "resource exhausted") {
		return recovery.NewError(recovery.CodeInterpreterRateLimit, msg)
	}
	return recovery.NewError(recovery.CodeInterpreterAPIError, msg)
}

// classifyDispatchError maps a command execution failure. These surface from
// the content store, so from the session's view they are network faults.
func classifyDispatchError(err error) *recovery.VoiceError {
	return recovery.NewError(recovery.CodeNetworkTimeout, err.Error())
}
