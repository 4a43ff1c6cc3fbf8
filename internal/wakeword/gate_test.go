package wakeword

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type notifyLog struct {
	mu      sync.Mutex
	entries []Notification
}

func (n *notifyLog) record(note Notification) {
	n.mu.Lock()
	n.entries = append(n.entries, note)
	n.mu.Unlock()
}

func (n *notifyLog) last() (Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.entries) == 0 {
		return Notification{}, false
	}
	return n.entries[len(n.entries)-1], true
}

func newTestGate(cfg GateConfig, log *notifyLog) *Gate {
	detector := NewDetector(ModeEnergy, Thresholds{Energy: 0.01}, nil, zap.NewNop())
	notify := func(Notification) {}
	if log != nil {
		notify = log.record
	}
	return NewGate(detector, cfg, notify, zap.NewNop())
}

func waitForState(t *testing.T, g *Gate, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if g.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Gate never reached state %s, stuck in %s", want, g.State())
}

func TestGateLifecycle(t *testing.T) {
	log := &notifyLog{}
	g := newTestGate(GateConfig{
		Cooldown:       30 * time.Millisecond,
		MaxUtterance:   5 * time.Second,
		SilenceTimeout: 40 * time.Millisecond,
	}, log)
	ctx := context.Background()

	if g.State() != StateIdle {
		t.Fatalf("Gate should start idle, got %s", g.State())
	}

	if err := g.Arm(ctx); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}

	// A loud chunk while armed fires the trigger.
	forward, det, err := g.Feed(ctx, makePCM(16384, 160))
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if forward {
		t.Error("The triggering chunk is delivered via pre-roll, not forward")
	}
	if !det.Triggered {
		t.Fatalf("Loud chunk should trigger, detection %+v", det)
	}
	if g.State() != StateTriggered {
		t.Fatalf("Expected triggered, got %s", g.State())
	}
	if note, ok := log.last(); !ok || note.Reason != ReasonWakeWord {
		t.Errorf("Expected wake_word notification, got %+v", note)
	}

	// While triggered, voiced chunks are forwarded.
	forward, _, err = g.Feed(ctx, makePCM(16384, 160))
	if err != nil || !forward {
		t.Errorf("Triggered gate should forward audio (forward=%v err=%v)", forward, err)
	}

	// Stop feeding voiced audio; the silence timeout finalizes the capture.
	waitForState(t, g, StateCooldown)
	if note, ok := log.last(); !ok || note.Reason != ReasonSilence {
		t.Errorf("Expected silence finalize, got %+v", note)
	}

	// Cooldown re-arms by itself.
	waitForState(t, g, StateArmed)
}

func TestGateNeverForwardsWhenClosed(t *testing.T) {
	g := newTestGate(GateConfig{
		Cooldown:       10 * time.Second, // stay in cooldown for the test
		MaxUtterance:   5 * time.Second,
		SilenceTimeout: 5 * time.Second,
	}, nil)
	ctx := context.Background()
	loud := makePCM(16384, 160)

	// Idle: nothing forwards and nothing triggers.
	forward, det, err := g.Feed(ctx, loud)
	if forward || det.Triggered || err != nil {
		t.Errorf("Idle gate must ignore audio (forward=%v det=%+v err=%v)", forward, det, err)
	}
	if g.State() != StateIdle {
		t.Errorf("Idle gate should stay idle, got %s", g.State())
	}

	// Walk into cooldown.
	if err := g.Arm(ctx); err != nil {
		t.Fatal(err)
	}
	if _, _, err := g.Feed(ctx, loud); err != nil {
		t.Fatal(err)
	}
	if err := g.Finalize(ctx, ReasonSilence); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	// Cooldown: loud audio must neither forward nor re-trigger.
	forward, det, err = g.Feed(ctx, loud)
	if forward || det.Triggered || err != nil {
		t.Errorf("Cooldown gate must ignore audio (forward=%v det=%+v err=%v)", forward, det, err)
	}
	if g.State() != StateCooldown {
		t.Errorf("Cooldown gate should stay in cooldown, got %s", g.State())
	}
}

func TestGateMaxUtteranceCap(t *testing.T) {
	g := newTestGate(GateConfig{
		Cooldown:       10 * time.Second,
		MaxUtterance:   60 * time.Millisecond,
		SilenceTimeout: 10 * time.Second,
	}, nil)
	ctx := context.Background()

	if err := g.Arm(ctx); err != nil {
		t.Fatal(err)
	}
	if _, _, err := g.Feed(ctx, makePCM(16384, 160)); err != nil {
		t.Fatal(err)
	}
	if g.State() != StateTriggered {
		t.Fatalf("Expected triggered, got %s", g.State())
	}

	// Keep talking; the cap must cut the capture regardless.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 40; i++ {
			if g.State() != StateTriggered {
				return
			}
			g.Feed(ctx, makePCM(16384, 160))
			time.Sleep(5 * time.Millisecond)
		}
	}()

	waitForState(t, g, StateCooldown)
	<-done
}

func TestGateResetCancelsTimers(t *testing.T) {
	g := newTestGate(GateConfig{
		Cooldown:       20 * time.Millisecond,
		MaxUtterance:   5 * time.Second,
		SilenceTimeout: 5 * time.Second,
	}, nil)
	ctx := context.Background()

	if err := g.Arm(ctx); err != nil {
		t.Fatal(err)
	}
	if _, _, err := g.Feed(ctx, makePCM(16384, 160)); err != nil {
		t.Fatal(err)
	}
	if err := g.Finalize(ctx, ReasonSilence); err != nil {
		t.Fatal(err)
	}

	g.Reset(ctx)
	if g.State() != StateIdle {
		t.Fatalf("Expected idle after reset, got %s", g.State())
	}

	// The pending cooldown timer must not re-arm a reset gate.
	time.Sleep(60 * time.Millisecond)
	if g.State() != StateIdle {
		t.Errorf("Reset gate re-armed itself, state %s", g.State())
	}

	// Reset is idempotent.
	g.Reset(ctx)
	if g.State() != StateIdle {
		t.Errorf("Second reset should be a no-op, got %s", g.State())
	}
}

func TestGatePushToTalk(t *testing.T) {
	log := &notifyLog{}
	g := newTestGate(GateConfig{
		Cooldown:       10 * time.Second,
		MaxUtterance:   10 * time.Second,
		SilenceTimeout: 10 * time.Second,
	}, log)
	ctx := context.Background()

	if err := g.Arm(ctx); err != nil {
		t.Fatal(err)
	}
	if err := g.Trigger(ctx, ReasonPushToTalk); err != nil {
		t.Fatalf("Manual trigger failed: %v", err)
	}
	if !g.Forwarding() {
		t.Error("Gate should forward after a manual trigger")
	}
	if note, ok := log.last(); !ok || note.Reason != ReasonPushToTalk {
		t.Errorf("Expected push_to_talk notification, got %+v", note)
	}

	// Triggering again while already open is invalid.
	if err := g.Trigger(ctx, ReasonPushToTalk); err == nil {
		t.Error("Trigger from triggered state should fail")
	}
}

func TestGateArmOnlyFromIdle(t *testing.T) {
	g := newTestGate(GateConfig{}, nil)
	ctx := context.Background()

	if err := g.Arm(ctx); err != nil {
		t.Fatal(err)
	}
	if err := g.Arm(ctx); err == nil {
		t.Error("Arming an armed gate should fail")
	}
}
