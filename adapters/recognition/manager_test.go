package recognition

import (
	"context"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/haneul-labs/sori-server/domain/repositories"
)

type fakeEngine struct {
	name      string
	available bool
	offline   bool
}

type fakeStream struct {
	engine  string
	results chan repositories.RecognitionResult
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Capabilities() repositories.Capabilities {
	return repositories.Capabilities{Streaming: true, Offline: f.offline}
}

func (f *fakeEngine) IsAvailable(ctx context.Context) bool { return f.available }

func (f *fakeEngine) Recognize(ctx context.Context, pcm []byte, config repositories.RecognitionConfig) ([]repositories.RecognitionResult, error) {
	return []repositories.RecognitionResult{{Transcript: f.name, IsFinal: true}}, nil
}

func (f *fakeEngine) OpenStream(ctx context.Context, config repositories.RecognitionConfig) (repositories.RecognitionStream, error) {
	return &fakeStream{engine: f.name, results: make(chan repositories.RecognitionResult)}, nil
}

func (s *fakeStream) Write(chunk []byte) error { return nil }

func (s *fakeStream) End() error {
	close(s.results)
	return nil
}

func (s *fakeStream) Results() <-chan repositories.RecognitionResult { return s.results }

func (s *fakeStream) Err() error { return nil }

func newTestManager(t *testing.T, engines ...*fakeEngine) *Manager {
	t.Helper()
	manager := NewManager(zap.NewNop())
	for _, engine := range engines {
		if err := manager.Register(engine); err != nil {
			t.Fatalf("Register(%s) failed: %v", engine.name, err)
		}
	}
	return manager
}

func TestManagerFirstRegisteredIsActive(t *testing.T) {
	manager := newTestManager(t,
		&fakeEngine{name: "google", available: true},
		&fakeEngine{name: "whisper", available: true},
	)

	if manager.ActiveName() != "google" {
		t.Errorf("Expected google active, got %s", manager.ActiveName())
	}
	names := manager.Names()
	if len(names) != 2 || names[0] != "google" || names[1] != "whisper" {
		t.Errorf("Expected registration order preserved, got %v", names)
	}
}

func TestManagerRegisterDuplicate(t *testing.T) {
	manager := newTestManager(t, &fakeEngine{name: "google", available: true})
	if err := manager.Register(&fakeEngine{name: "google"}); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
}

func TestManagerUse(t *testing.T) {
	manager := newTestManager(t,
		&fakeEngine{name: "google", available: true},
		&fakeEngine{name: "whisper", available: true},
	)

	if err := manager.Use("whisper"); err != nil {
		t.Fatalf("Use failed: %v", err)
	}
	if manager.ActiveName() != "whisper" {
		t.Errorf("Expected whisper active, got %s", manager.ActiveName())
	}
	if err := manager.Use("azure"); err == nil {
		t.Error("Expected unknown engine to fail")
	}
	if manager.ActiveName() != "whisper" {
		t.Errorf("Expected active engine unchanged after failed Use, got %s", manager.ActiveName())
	}
}

func TestManagerHotSwapKeepsOpenStreams(t *testing.T) {
	manager := newTestManager(t,
		&fakeEngine{name: "google", available: true},
		&fakeEngine{name: "whisper", available: true},
	)

	before, err := manager.OpenStream(context.Background(), repositories.RecognitionConfig{})
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	if err := manager.Use("whisper"); err != nil {
		t.Fatalf("Use failed: %v", err)
	}
	after, err := manager.OpenStream(context.Background(), repositories.RecognitionConfig{})
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}

	if before.(*fakeStream).engine != "google" {
		t.Errorf("Expected in-flight stream to keep google, got %s", before.(*fakeStream).engine)
	}
	if after.(*fakeStream).engine != "whisper" {
		t.Errorf("Expected new stream on whisper, got %s", after.(*fakeStream).engine)
	}
}

func TestManagerSwitch(t *testing.T) {
	manager := newTestManager(t,
		&fakeEngine{name: "google", available: false},
		&fakeEngine{name: "whisper", available: true},
		&fakeEngine{name: "gemini", available: false},
	)

	name, err := manager.Switch(context.Background(), "google")
	if err != nil {
		t.Fatalf("Switch failed: %v", err)
	}
	if name != "whisper" {
		t.Errorf("Expected switch to whisper, got %s", name)
	}
	if manager.ActiveName() != "whisper" {
		t.Errorf("Expected whisper active after switch, got %s", manager.ActiveName())
	}
}

func TestManagerSwitchNoCandidates(t *testing.T) {
	manager := newTestManager(t,
		&fakeEngine{name: "google", available: false},
		&fakeEngine{name: "whisper", available: false},
	)

	if _, err := manager.Switch(context.Background(), "google"); err == nil {
		t.Error("Expected switch to fail with no available engines")
	}
	if manager.ActiveName() != "google" {
		t.Errorf("Expected active engine unchanged, got %s", manager.ActiveName())
	}
}

func TestManagerSwitchOffline(t *testing.T) {
	manager := newTestManager(t,
		&fakeEngine{name: "google", available: true},
		&fakeEngine{name: "whisper", available: true, offline: true},
	)

	name, err := manager.SwitchOffline(context.Background())
	if err != nil {
		t.Fatalf("SwitchOffline failed: %v", err)
	}
	if name != "whisper" {
		t.Errorf("Expected whisper chosen offline, got %s", name)
	}
	if manager.ActiveName() != "whisper" {
		t.Errorf("Expected whisper active, got %s", manager.ActiveName())
	}

	onlineOnly := newTestManager(t, &fakeEngine{name: "google", available: true})
	if _, err := onlineOnly.SwitchOffline(context.Background()); err == nil {
		t.Error("Expected error with no offline engines")
	}
}

func TestManagerStatuses(t *testing.T) {
	manager := newTestManager(t,
		&fakeEngine{name: "google", available: true},
		&fakeEngine{name: "whisper", available: false},
	)

	statuses := manager.Statuses(context.Background())
	if !statuses["google"] || statuses["whisper"] {
		t.Errorf("Expected google up and whisper down, got %v", statuses)
	}
}

func TestManagerEmpty(t *testing.T) {
	manager := NewManager(zap.NewNop())
	if _, err := manager.OpenStream(context.Background(), repositories.RecognitionConfig{}); err == nil {
		t.Error("Expected OpenStream to fail with no engines")
	}
	if _, err := manager.Recognize(context.Background(), nil, repositories.RecognitionConfig{}); err == nil {
		t.Error("Expected Recognize to fail with no engines")
	}
}

func TestMapEncoding(t *testing.T) {
	cases := map[string]speechpb.RecognitionConfig_AudioEncoding{
		"WAV":      speechpb.RecognitionConfig_LINEAR16,
		"LINEAR16": speechpb.RecognitionConfig_LINEAR16,
		"FLAC":     speechpb.RecognitionConfig_FLAC,
		"OGG_OPUS": speechpb.RecognitionConfig_OGG_OPUS,
	}
	for input, expected := range cases {
		got, err := mapEncoding(input)
		if err != nil {
			t.Errorf("mapEncoding(%q) failed: %v", input, err)
			continue
		}
		if got != expected {
			t.Errorf("mapEncoding(%q): expected %v, got %v", input, expected, got)
		}
	}
	if _, err := mapEncoding("MP3"); err == nil {
		t.Error("Expected unsupported encoding to fail")
	}
}
