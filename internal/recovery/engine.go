package recovery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/haneul-labs/sori-server/domain/entities"
)

// Strategy names how an action tries to restore service.
type Strategy string

const (
	StrategyRetry            Strategy = "retry"
	StrategyFallback         Strategy = "fallback"
	StrategyDegrade          Strategy = "graceful-degradation"
	StrategyUserIntervention Strategy = "user-intervention"
)

// Target is one session's pipeline as seen by the recovery engine. All
// methods must be safe to call from a recovery goroutine.
type Target interface {
	SessionID() string
	// CurrentDegradation returns the session's degradation level.
	CurrentDegradation() entities.DegradationLevel
	// Degrade steps the session down the degradation ladder.
	Degrade(ctx context.Context, level entities.DegradationLevel) error
	// SwitchRecognizer moves the session to another recognition engine
	// without dropping the connection. exclude names the engine that just
	// failed; empty means any unavailable engine.
	SwitchRecognizer(ctx context.Context, exclude string) error
	// SetWakeWordMode changes the wake-word detection mode.
	SetWakeWordMode(ctx context.Context, mode string) error
	// EnterOfflineMode points the session at local-only engines.
	EnterOfflineMode(ctx context.Context) error
	// Retry re-attempts the operation that raised the fault.
	Retry(ctx context.Context, verr *VoiceError) error
	// Notify pushes the fault to the client as an error message.
	Notify(ctx context.Context, verr *VoiceError) error
}

// Action is the configured response to one error code.
type Action struct {
	Strategy   Strategy
	MaxRetries int
	Delay      time.Duration
	// Execute runs a fallback side effect. Only consulted for
	// StrategyFallback; nil falls through to the per-source fallback.
	Execute func(ctx context.Context, t Target, verr *VoiceError) error
}

const maxSessionHistory = 50

// sessionState is the engine's per-session bookkeeping.
type sessionState struct {
	mu         sync.Mutex
	retries    map[string]int
	history    []*VoiceError
	recovering bool
}

func newSessionState() *sessionState {
	return &sessionState{retries: make(map[string]int)}
}

func retryKey(verr *VoiceError) string {
	return verr.Code + "|" + string(verr.Source)
}

// record appends to the bounded history.
func (s *sessionState) record(verr *VoiceError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, verr)
	if len(s.history) > maxSessionHistory {
		s.history = s.history[len(s.history)-maxSessionHistory:]
	}
}

// tryAcquire marks a recovery as running unless one already is.
func (s *sessionState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recovering {
		return false
	}
	s.recovering = true
	return true
}

func (s *sessionState) release() {
	s.mu.Lock()
	s.recovering = false
	s.mu.Unlock()
}

// consumeRetry increments the counter for key if budget remains. The counter
// can never exceed max.
func (s *sessionState) consumeRetry(key string, max int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retries[key] >= max {
		return false
	}
	s.retries[key]++
	return true
}

func (s *sessionState) resetRetry(key string) {
	s.mu.Lock()
	delete(s.retries, key)
	s.mu.Unlock()
}

func (s *sessionState) retryCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries[key]
}

// EngineStats is the aggregate error counters snapshot.
type EngineStats struct {
	Total      uint64            `json:"total"`
	ByCode     map[string]uint64 `json:"by_code"`
	BySeverity map[string]uint64 `json:"by_severity"`
	Healthy    bool              `json:"healthy"`
}

// Engine coordinates fault handling for all sessions. It owns the recovery
// action registry, the per-session retry budgets and the health window.
type Engine struct {
	logger  *zap.Logger
	health  *HealthTracker
	actions map[string]Action

	mu         sync.RWMutex
	sessions   map[string]*sessionState
	total      uint64
	byCode     map[string]uint64
	bySeverity map[string]uint64
}

func NewEngine(logger *zap.Logger) *Engine {
	e := &Engine{
		logger:     logger,
		health:     NewHealthTracker(defaultHealthWindow),
		actions:    defaultActions(),
		sessions:   make(map[string]*sessionState),
		byCode:     make(map[string]uint64),
		bySeverity: make(map[string]uint64),
	}
	return e
}

// defaultActions wires the per-code responses.
func defaultActions() map[string]Action {
	return map[string]Action{
		CodeNetworkTimeout: {Strategy: StrategyRetry, MaxRetries: 3, Delay: 500 * time.Millisecond},
		CodeNetworkOffline: {Strategy: StrategyFallback, Execute: func(ctx context.Context, t Target, _ *VoiceError) error {
			return t.EnterOfflineMode(ctx)
		}},
		CodePermissionDenied:     {Strategy: StrategyUserIntervention},
		CodeAudioDeviceNotFound:  {Strategy: StrategyUserIntervention},
		CodeAudioProcessingError: {Strategy: StrategyRetry, MaxRetries: 1, Delay: 100 * time.Millisecond},
		CodeSTTUnavailable: {Strategy: StrategyFallback, Execute: func(ctx context.Context, t Target, verr *VoiceError) error {
			return t.SwitchRecognizer(ctx, failedEngine(verr))
		}},
		CodeSTTQuotaExceeded:    {Strategy: StrategyRetry, MaxRetries: 1, Delay: time.Second},
		CodeInterpreterAPIError: {Strategy: StrategyRetry, MaxRetries: 2, Delay: 2 * time.Second},
		CodeInterpreterRateLimit: {Strategy: StrategyFallback, Execute: func(ctx context.Context, t Target, _ *VoiceError) error {
			return t.Degrade(ctx, entities.DegradationNoInterpreter)
		}},
		CodeWakeModelError: {Strategy: StrategyFallback, Execute: func(ctx context.Context, t Target, _ *VoiceError) error {
			return t.SetWakeWordMode(ctx, "energy")
		}},
		CodeWakeAudioError: {Strategy: StrategyRetry, MaxRetries: 2, Delay: 250 * time.Millisecond},
	}
}

// failedEngine extracts the engine name suffixed to a message like
// "engine=google". Empty when absent.
func failedEngine(verr *VoiceError) string {
	const marker = "engine="
	msg := verr.Message
	for i := 0; i+len(marker) <= len(msg); i++ {
		if msg[i:i+len(marker)] == marker {
			rest := msg[i+len(marker):]
			for j := 0; j < len(rest); j++ {
				if rest[j] == ' ' || rest[j] == ',' {
					return rest[:j]
				}
			}
			return rest
		}
	}
	return ""
}

// RegisterAction overrides the response for an error code.
func (e *Engine) RegisterAction(code string, action Action) {
	e.mu.Lock()
	e.actions[code] = action
	e.mu.Unlock()
}

func (e *Engine) actionFor(code string) (Action, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.actions[code]
	return a, ok
}

func (e *Engine) sessionState(id string) *sessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.sessions[id]
	if !ok {
		st = newSessionState()
		e.sessions[id] = st
	}
	return st
}

// ReleaseSession drops per-session bookkeeping after disconnect.
func (e *Engine) ReleaseSession(id string) {
	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()
}

// SessionHistory returns the bounded error history of one session.
func (e *Engine) SessionHistory(id string) []*VoiceError {
	e.mu.RLock()
	st, ok := e.sessions[id]
	e.mu.RUnlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*VoiceError, len(st.history))
	copy(out, st.history)
	return out
}

// RetryCount exposes the current counter for a (code, source) pair.
func (e *Engine) RetryCount(sessionID string, verr *VoiceError) int {
	return e.sessionState(sessionID).retryCount(retryKey(verr))
}

// Healthy reports process health for the health endpoint.
func (e *Engine) Healthy() bool {
	return e.health.Healthy(time.Now())
}

// Stats returns aggregate counters.
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	stats := EngineStats{
		Total:      e.total,
		ByCode:     make(map[string]uint64, len(e.byCode)),
		BySeverity: make(map[string]uint64, len(e.bySeverity)),
		Healthy:    e.health.Healthy(time.Now()),
	}
	for k, v := range e.byCode {
		stats.ByCode[k] = v
	}
	for k, v := range e.bySeverity {
		stats.BySeverity[k] = v
	}
	return stats
}

func (e *Engine) record(sessionID string, verr *VoiceError) {
	e.sessionState(sessionID).record(verr)
	e.health.Record(verr.Severity, verr.OccurredAt)

	e.mu.Lock()
	e.total++
	e.byCode[verr.Code]++
	e.bySeverity[string(verr.Severity)]++
	e.mu.Unlock()
}

// Handle processes one fault. It records it, surfaces urgent faults to the
// client, and starts at most one recovery goroutine per session. Handle
// itself never blocks on recovery work.
func (e *Engine) Handle(ctx context.Context, t Target, verr *VoiceError) {
	e.record(t.SessionID(), verr)

	logFields := []zap.Field{
		zap.String("sessionID", t.SessionID()),
		zap.String("code", verr.Code),
		zap.String("source", string(verr.Source)),
		zap.String("severity", string(verr.Severity)),
		zap.String("message", verr.Message),
	}
	switch verr.Severity {
	case SeverityCritical, SeverityHigh:
		e.logger.Error("pipeline fault", logFields...)
	default:
		e.logger.Warn("pipeline fault", logFields...)
	}

	if verr.Urgent() {
		if err := t.Notify(ctx, verr); err != nil {
			e.logger.Warn("failed to notify client", zap.String("sessionID", t.SessionID()), zap.Error(err))
		}
	}

	if !verr.Recoverable {
		// Unrecoverable faults step straight down the ladder; the
		// connection stays open.
		go e.withRecoveryLock(ctx, t, func() { e.degrade(ctx, t) })
		return
	}

	st := e.sessionState(t.SessionID())
	if !st.tryAcquire() {
		e.logger.Debug("recovery already running, fault recorded only",
			zap.String("sessionID", t.SessionID()), zap.String("code", verr.Code))
		return
	}

	go func() {
		defer st.release()
		e.recover(ctx, t, st, verr)
	}()
}

// withRecoveryLock runs fn under the session's recovery guard if free.
func (e *Engine) withRecoveryLock(ctx context.Context, t Target, fn func()) {
	st := e.sessionState(t.SessionID())
	if !st.tryAcquire() {
		return
	}
	defer st.release()
	fn()
}

// recover walks the ladder for one fault: configured action, then the
// per-source fallback, then graceful degradation.
func (e *Engine) recover(ctx context.Context, t Target, st *sessionState, verr *VoiceError) {
	action, ok := e.actionFor(verr.Code)
	if ok {
		switch action.Strategy {
		case StrategyRetry:
			if e.retryLoop(ctx, t, st, verr, action) {
				return
			}
			// Budget exhausted; fall through to the source fallback.

		case StrategyFallback:
			if action.Execute != nil {
				if err := action.Execute(ctx, t, verr); err == nil {
					e.logger.Info("fallback recovered session",
						zap.String("sessionID", t.SessionID()), zap.String("code", verr.Code))
					return
				} else {
					e.logger.Warn("fallback failed",
						zap.String("sessionID", t.SessionID()), zap.String("code", verr.Code), zap.Error(err))
				}
			}

		case StrategyUserIntervention:
			// Nothing to automate. The client was notified in Handle;
			// the session waits for the user.
			e.logger.Info("awaiting user intervention",
				zap.String("sessionID", t.SessionID()), zap.String("code", verr.Code))
			return

		case StrategyDegrade:
			e.degrade(ctx, t)
			return
		}
	}

	if err := e.sourceFallback(ctx, t, verr); err == nil {
		return
	}

	e.degrade(ctx, t)
}

// retryLoop re-attempts the failed operation within the budget. Delays run
// inside the recovery goroutine so other sessions are never blocked.
func (e *Engine) retryLoop(ctx context.Context, t Target, st *sessionState, verr *VoiceError, action Action) bool {
	key := retryKey(verr)
	for st.consumeRetry(key, action.MaxRetries) {
		attempt := st.retryCount(key)
		if action.Delay > 0 {
			// Linear backoff per attempt.
			select {
			case <-time.After(time.Duration(attempt) * action.Delay):
			case <-ctx.Done():
				return false
			}
		}

		err := t.Retry(ctx, verr)
		if err == nil {
			st.resetRetry(key)
			e.logger.Info("retry recovered session",
				zap.String("sessionID", t.SessionID()),
				zap.String("code", verr.Code),
				zap.Int("attempt", attempt))
			return true
		}
		e.logger.Warn("retry attempt failed",
			zap.String("sessionID", t.SessionID()),
			zap.String("code", verr.Code),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	e.logger.Warn("retry budget exhausted",
		zap.String("sessionID", t.SessionID()),
		zap.String("code", verr.Code),
		zap.Int("budget", action.MaxRetries))
	return false
}

// sourceFallback is the generic response when no code-specific recovery
// succeeded.
func (e *Engine) sourceFallback(ctx context.Context, t Target, verr *VoiceError) error {
	e.logger.Info("applying source fallback",
		zap.String("sessionID", t.SessionID()),
		zap.String("source", string(verr.Source)))

	switch verr.Source {
	case SourceNetwork:
		return t.EnterOfflineMode(ctx)
	case SourceSTT, SourceProvider:
		return t.SwitchRecognizer(ctx, failedEngine(verr))
	case SourceWakeWord:
		return t.SetWakeWordMode(ctx, "energy")
	case SourceInterpreter:
		return t.Degrade(ctx, entities.DegradationNoInterpreter)
	default:
		return verr
	}
}

// degrade steps the session one level down the ladder. At the bottom the
// session keeps its connection in text-only mode.
func (e *Engine) degrade(ctx context.Context, t Target) {
	current := t.CurrentDegradation()
	if current >= entities.DegradationTextOnly {
		e.logger.Warn("session already at minimal mode",
			zap.String("sessionID", t.SessionID()))
		return
	}
	next := current + 1
	if err := t.Degrade(ctx, next); err != nil {
		e.logger.Error("degradation step failed",
			zap.String("sessionID", t.SessionID()),
			zap.String("level", next.String()),
			zap.Error(err))
		return
	}
	e.logger.Warn("session degraded",
		zap.String("sessionID", t.SessionID()),
		zap.String("level", next.String()))
}
