package wakeword

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// Gate states. The session mirrors these as its pipeline state.
const (
	StateIdle      = "idle"
	StateArmed     = "armed"
	StateTriggered = "triggered"
	StateCooldown  = "cooldown"
)

const (
	eventArm      = "arm"
	eventTrigger  = "trigger"
	eventFinalize = "finalize"
	eventRearm    = "rearm"
	eventReset    = "reset"
)

// Trigger and finalize reasons carried in notifications.
const (
	ReasonWakeWord     = "wake_word"
	ReasonPushToTalk   = "push_to_talk"
	ReasonSilence      = "silence"
	ReasonMaxUtterance = "max_utterance"
	ReasonCooldownOver = "cooldown_elapsed"
	ReasonStreamClosed = "stream_closed"
)

// Notification reports a gate transition to the owning pipeline. The notify
// callback runs with the gate lock held and must not call back into the gate.
type Notification struct {
	State  string
	Reason string
}

// GateConfig bounds an utterance capture.
type GateConfig struct {
	Cooldown       time.Duration
	MaxUtterance   time.Duration
	SilenceTimeout time.Duration
}

// Gate decides which audio reaches the recognizer. Armed audio is scored for
// the wake word; triggered audio is forwarded until silence, the utterance
// cap, or the stream ends. Idle and cooldown audio is never forwarded.
type Gate struct {
	mu       sync.Mutex
	machine  *fsm.FSM
	detector *Detector
	cfg      GateConfig
	notify   func(Notification)
	logger   *zap.Logger

	silenceTimer   *time.Timer
	utteranceTimer *time.Timer
	cooldownTimer  *time.Timer
}

func NewGate(detector *Detector, cfg GateConfig, notify func(Notification), logger *zap.Logger) *Gate {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Second
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = 10 * time.Second
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = 1500 * time.Millisecond
	}

	g := &Gate{
		detector: detector,
		cfg:      cfg,
		notify:   notify,
		logger:   logger,
	}
	g.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventArm, Src: []string{StateIdle}, Dst: StateArmed},
			{Name: eventTrigger, Src: []string{StateArmed}, Dst: StateTriggered},
			{Name: eventFinalize, Src: []string{StateTriggered}, Dst: StateCooldown},
			{Name: eventRearm, Src: []string{StateCooldown}, Dst: StateArmed},
			{Name: eventReset, Src: []string{StateArmed, StateTriggered, StateCooldown}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": g.onEnterState,
		},
	)
	return g
}

func (g *Gate) onEnterState(_ context.Context, e *fsm.Event) {
	g.stopTimers()

	reason := ""
	if len(e.Args) > 0 {
		if s, ok := e.Args[0].(string); ok {
			reason = s
		}
	}

	switch e.Dst {
	case StateTriggered:
		g.utteranceTimer = time.AfterFunc(g.cfg.MaxUtterance, g.onMaxUtterance)
		g.silenceTimer = time.AfterFunc(g.cfg.SilenceTimeout, g.onSilence)
	case StateCooldown:
		g.cooldownTimer = time.AfterFunc(g.cfg.Cooldown, g.onCooldownElapsed)
	}

	g.logger.Debug("gate transition",
		zap.String("from", e.Src),
		zap.String("to", e.Dst),
		zap.String("reason", reason),
	)

	if g.notify != nil {
		g.notify(Notification{State: e.Dst, Reason: reason})
	}
}

func (g *Gate) stopTimers() {
	if g.silenceTimer != nil {
		g.silenceTimer.Stop()
		g.silenceTimer = nil
	}
	if g.utteranceTimer != nil {
		g.utteranceTimer.Stop()
		g.utteranceTimer = nil
	}
	if g.cooldownTimer != nil {
		g.cooldownTimer.Stop()
		g.cooldownTimer = nil
	}
}

func (g *Gate) onMaxUtterance() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.machine.Current() == StateTriggered {
		_ = g.machine.Event(context.Background(), eventFinalize, ReasonMaxUtterance)
	}
}

func (g *Gate) onSilence() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.machine.Current() == StateTriggered {
		_ = g.machine.Event(context.Background(), eventFinalize, ReasonSilence)
	}
}

func (g *Gate) onCooldownElapsed() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.machine.Current() == StateCooldown {
		_ = g.machine.Event(context.Background(), eventRearm, ReasonCooldownOver)
	}
}

// Arm starts passive listening. Valid from idle only.
func (g *Gate) Arm(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.machine.Event(ctx, eventArm)
}

// Trigger opens the gate without a wake-word match, e.g. push-to-talk.
func (g *Gate) Trigger(ctx context.Context, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.machine.Event(ctx, eventTrigger, reason)
}

// Finalize ends the current utterance capture.
func (g *Gate) Finalize(ctx context.Context, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.machine.Event(ctx, eventFinalize, reason)
}

// Reset closes the gate and stops all timers. Safe to call in any state.
func (g *Gate) Reset(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.machine.Current() == StateIdle {
		return
	}
	_ = g.machine.Event(ctx, eventReset, ReasonStreamClosed)
}

// State returns the current gate state.
func (g *Gate) State() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.machine.Current()
}

// Forwarding reports whether audio currently flows to the recognizer.
func (g *Gate) Forwarding() bool {
	return g.State() == StateTriggered
}

// SetMode switches the detector's combination mode at runtime.
func (g *Gate) SetMode(mode Mode) error { return g.detector.SetMode(mode) }

// Mode returns the detector's combination mode.
func (g *Gate) Mode() Mode { return g.detector.Mode() }

// SetThresholds adjusts the detector's trigger floors at runtime.
func (g *Gate) SetThresholds(t Thresholds) { g.detector.SetThresholds(t) }

// Feed scores one chunk. forward reports whether the chunk belongs in the
// recognition stream; it is always false in idle and cooldown. In armed
// state a positive detection fires the trigger transition; the triggering
// chunk itself reaches the recognizer through the pre-roll flush, not
// through forward.
func (g *Gate) Feed(ctx context.Context, pcm []byte) (forward bool, det Detection, err error) {
	switch g.State() {
	case StateIdle, StateCooldown:
		return false, Detection{}, nil

	case StateArmed:
		// Scoring may call the wake-model service; keep the lock released.
		det, err = g.detector.Detect(ctx, pcm)
		if det.Triggered {
			g.mu.Lock()
			if g.machine.Current() == StateArmed {
				_ = g.machine.Event(ctx, eventTrigger, ReasonWakeWord)
			}
			g.mu.Unlock()
		}
		return false, det, err

	case StateTriggered:
		energy := pcmEnergy(pcm)
		det = Detection{Energy: energy, Voiced: energy >= g.detector.Thresholds().Energy}
		g.mu.Lock()
		if det.Voiced && g.silenceTimer != nil && g.machine.Current() == StateTriggered {
			g.silenceTimer.Reset(g.cfg.SilenceTimeout)
		}
		forward = g.machine.Current() == StateTriggered
		g.mu.Unlock()
		return forward, det, nil

	default:
		return false, Detection{}, nil
	}
}
