package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/haneul-labs/sori-server/adapters/content"
	"github.com/haneul-labs/sori-server/domain/repositories"
	"github.com/haneul-labs/sori-server/internal/auth"
	"github.com/haneul-labs/sori-server/internal/recovery"
	"github.com/haneul-labs/sori-server/internal/voice"
	"github.com/haneul-labs/sori-server/internal/wakeword"
	"github.com/haneul-labs/sori-server/usecase"
)

type stubStream struct {
	mu      sync.Mutex
	ended   bool
	results chan repositories.RecognitionResult
}

func (s *stubStream) Write([]byte) error { return nil }

func (s *stubStream) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	s.ended = true
	close(s.results)
	return nil
}

func (s *stubStream) Results() <-chan repositories.RecognitionResult { return s.results }

func (s *stubStream) Err() error { return nil }

type stubPool struct {
	mu      sync.Mutex
	streams []*stubStream
}

func (p *stubPool) ActiveName() string { return "google" }

func (p *stubPool) OpenStream(context.Context, repositories.RecognitionConfig) (repositories.RecognitionStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &stubStream{results: make(chan repositories.RecognitionResult, 4)}
	p.streams = append(p.streams, s)
	return s, nil
}

func (p *stubPool) Switch(context.Context, ...string) (string, error) {
	return "", errors.New("no other engine available")
}

func (p *stubPool) SwitchOffline(context.Context) (string, error) {
	return "", errors.New("no offline engine available")
}

func newTestHub(t *testing.T, verifier *auth.Verifier) *Hub {
	t.Helper()
	logger := zap.NewNop()
	dispatcher := usecase.NewCommandService(nil, content.NewSeededStore(), nil, logger)
	hub := NewHub(verifier, &stubPool{}, dispatcher, recovery.NewEngine(logger), Config{
		WakeMode:       wakeword.ModeEnergy,
		WakeThresholds: wakeword.Thresholds{Energy: 0.01},
		Pipeline: voice.Config{
			Gate: wakeword.GateConfig{
				Cooldown:       50 * time.Millisecond,
				MaxUtterance:   5 * time.Second,
				SilenceTimeout: 2 * time.Second,
			},
		},
		AllowedOrigins: []string{"*"},
	}, logger)
	go hub.Run()
	return hub
}

func newTestServer(t *testing.T, hub *Hub) string {
	t.Helper()
	logger := zap.NewNop()
	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		return HandleConnection(hub, c, logger)
	})
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket connection failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func writeWire(t *testing.T, ws *websocket.Conn, msg map[string]interface{}) {
	t.Helper()
	payload, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal message: %v", err)
	}
	ws.SetWriteDeadline(time.Now().Add(time.Second))
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
}

func readWire(t *testing.T, ws *websocket.Conn) map[string]interface{} {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("Failed to unmarshal wire message: %v", err)
	}
	return msg
}

// awaitWire reads frames until one of the wanted type arrives.
func awaitWire(t *testing.T, ws *websocket.Conn, wantType string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg := readWire(t, ws)
		if msg["type"] == wantType {
			return msg
		}
	}
	t.Fatalf("no %s message within deadline", wantType)
	return nil
}

// authenticate performs the handshake and returns the auth_success payload.
func authenticate(t *testing.T, ws *websocket.Conn, token string) map[string]interface{} {
	t.Helper()
	if msg := readWire(t, ws); msg["type"] != string(MessageTypeAuthRequired) {
		t.Fatalf("Expected auth_required first, got %v", msg["type"])
	}
	writeWire(t, ws, map[string]interface{}{"type": "auth", "token": token})
	return awaitWire(t, ws, string(MessageTypeAuthSuccess))
}

func waitForHub(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func chunkPayload(size int) string {
	return base64.StdEncoding.EncodeToString(make([]byte, size))
}

func TestAuthHandshakeRegistersSession(t *testing.T) {
	hub := newTestHub(t, auth.NewVerifier("", true))
	ws := dialWS(t, newTestServer(t, hub))

	success := authenticate(t, ws, "dev-user")
	if success["userId"] != "dev-user" {
		t.Errorf("Expected userId dev-user, got %v", success["userId"])
	}
	sessionID, _ := success["sessionId"].(string)
	if sessionID == "" {
		t.Error("auth_success must carry a session id")
	}

	waitForHub(t, func() bool { return hub.ClientCount() == 1 }, "client never registered")
	sessions := hub.Sessions()
	if len(sessions) != 1 || sessions[0].UserID != "dev-user" {
		t.Errorf("Expected one session for dev-user, got %+v", sessions)
	}
	if sessions[0].ID != sessionID {
		t.Errorf("Hub session %s does not match wire session %s", sessions[0].ID, sessionID)
	}
}

func TestAudioStreamLifecycle(t *testing.T) {
	hub := newTestHub(t, auth.NewVerifier("", true))
	ws := dialWS(t, newTestServer(t, hub))
	authenticate(t, ws, "dev-user")

	writeWire(t, ws, map[string]interface{}{
		"type":   "audio_stream_start",
		"config": map[string]interface{}{"sampleRate": 16000, "format": "LINEAR16", "language": "ko-KR"},
	})

	// A second stream on the same session is rejected.
	writeWire(t, ws, map[string]interface{}{"type": "audio_stream_start"})
	if msg := awaitWire(t, ws, string(MessageTypeError)); msg["code"] != ErrCodeStreamAlreadyActive {
		t.Errorf("Expected %s, got %v", ErrCodeStreamAlreadyActive, msg["code"])
	}

	// Quiet chunks in order are accepted silently.
	for seq := 1; seq <= 3; seq++ {
		writeWire(t, ws, map[string]interface{}{
			"type": "audio_chunk", "data": chunkPayload(640), "sequence": seq,
		})
	}

	// A replayed sequence number is rejected.
	writeWire(t, ws, map[string]interface{}{
		"type": "audio_chunk", "data": chunkPayload(640), "sequence": 2,
	})
	if msg := awaitWire(t, ws, string(MessageTypeError)); msg["code"] != ErrCodeStaleSequence {
		t.Errorf("Expected %s, got %v", ErrCodeStaleSequence, msg["code"])
	}

	writeWire(t, ws, map[string]interface{}{"type": "audio_stream_end", "duration": 1500})

	// Chunks after the stream ended are rejected.
	writeWire(t, ws, map[string]interface{}{
		"type": "audio_chunk", "data": chunkPayload(640), "sequence": 4,
	})
	if msg := awaitWire(t, ws, string(MessageTypeError)); msg["code"] != ErrCodeStreamNotActive {
		t.Errorf("Expected %s, got %v", ErrCodeStreamNotActive, msg["code"])
	}

	waitForHub(t, func() bool {
		sessions := hub.Sessions()
		return len(sessions) == 1 && !sessions[0].StreamActive
	}, "session never left the streaming state")
}

func TestUnauthenticatedMessagesRejected(t *testing.T) {
	hub := newTestHub(t, auth.NewVerifier("", true))
	ws := dialWS(t, newTestServer(t, hub))

	if msg := readWire(t, ws); msg["type"] != string(MessageTypeAuthRequired) {
		t.Fatalf("Expected auth_required first, got %v", msg["type"])
	}

	writeWire(t, ws, map[string]interface{}{"type": "command", "command": "다음"})
	if msg := awaitWire(t, ws, string(MessageTypeError)); msg["code"] != ErrCodeNotAuthenticated {
		t.Errorf("Expected %s, got %v", ErrCodeNotAuthenticated, msg["code"])
	}

	if hub.ClientCount() != 0 {
		t.Errorf("Unauthenticated client must not register, got %d", hub.ClientCount())
	}
}

func TestAuthFailureClosesConnection(t *testing.T) {
	hub := newTestHub(t, auth.NewVerifier("test-secret", false))
	ws := dialWS(t, newTestServer(t, hub))

	if msg := readWire(t, ws); msg["type"] != string(MessageTypeAuthRequired) {
		t.Fatalf("Expected auth_required first, got %v", msg["type"])
	}

	writeWire(t, ws, map[string]interface{}{"type": "auth", "token": "not-a-jwt"})
	if msg := awaitWire(t, ws, string(MessageTypeError)); msg["code"] != ErrCodeAuthFailed {
		t.Errorf("Expected %s, got %v", ErrCodeAuthFailed, msg["code"])
	}

	// The server closes after the rejection flushes.
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("Connection should close after failed authentication")
	}
}

func TestTypedCommandRoundTrip(t *testing.T) {
	hub := newTestHub(t, auth.NewVerifier("", true))
	ws := dialWS(t, newTestServer(t, hub))
	authenticate(t, ws, "dev-user")

	writeWire(t, ws, map[string]interface{}{"type": "command", "command": "다음 기사"})

	reply := awaitWire(t, ws, string(MessageTypeAudioResponse))
	text, _ := reply["text"].(string)
	if !strings.HasPrefix(text, "우주 탐사 소식") {
		t.Errorf("Expected the newest article first, got %q", text)
	}
	if reply["language"] != "ko-KR" {
		t.Errorf("Expected language ko-KR, got %v", reply["language"])
	}
}

func TestBinaryFramesRejected(t *testing.T) {
	hub := newTestHub(t, auth.NewVerifier("", true))
	ws := dialWS(t, newTestServer(t, hub))
	authenticate(t, ws, "dev-user")

	ws.SetWriteDeadline(time.Now().Add(time.Second))
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if msg := awaitWire(t, ws, string(MessageTypeError)); msg["code"] != ErrCodeInvalidMessage {
		t.Errorf("Expected %s, got %v", ErrCodeInvalidMessage, msg["code"])
	}
}

func TestJanitorEvictsIdleSessions(t *testing.T) {
	hub := newTestHub(t, auth.NewVerifier("", true))
	ws := dialWS(t, newTestServer(t, hub))
	authenticate(t, ws, "dev-user")
	waitForHub(t, func() bool { return hub.ClientCount() == 1 }, "client never registered")

	janitor := NewJanitor(hub, 50*time.Millisecond, 20*time.Millisecond, zap.NewNop())
	janitor.Start()
	defer janitor.Stop()

	waitForHub(t, func() bool { return hub.ClientCount() == 0 }, "idle session never evicted")

	// The eviction closes the connection too.
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func TestConcurrentSessions(t *testing.T) {
	hub := newTestHub(t, auth.NewVerifier("", true))
	wsURL := newTestServer(t, hub)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dialWS(t, wsURL)
	}
	for i, ws := range conns {
		authenticate(t, ws, "user-"+string(rune('a'+i)))
	}

	waitForHub(t, func() bool { return hub.ClientCount() == 3 }, "not all clients registered")

	for _, ws := range conns {
		ws.Close()
	}
	waitForHub(t, func() bool { return hub.ClientCount() == 0 }, "clients never unregistered")
}

func TestCheckOrigin(t *testing.T) {
	hub := newTestHub(t, auth.NewVerifier("", true))
	hub.cfg.AllowedOrigins = []string{"https://app.sori.example"}

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{name: "allowed origin", origin: "https://app.sori.example", want: true},
		{name: "unknown origin", origin: "https://evil.example", want: false},
		{name: "no origin header", origin: "", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := hub.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
