package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/haneul-labs/sori-server/adapters/content"
	"github.com/haneul-labs/sori-server/adapters/recognition"
	"github.com/haneul-labs/sori-server/internal/auth"
	"github.com/haneul-labs/sori-server/internal/recovery"
	"github.com/haneul-labs/sori-server/internal/websocket"
	"github.com/haneul-labs/sori-server/usecase"
)

func newTestRouter(t *testing.T) *echo.Echo {
	t.Helper()
	logger := zap.NewNop()
	manager := recognition.NewManager(logger)
	faults := recovery.NewEngine(logger)
	dispatcher := usecase.NewCommandService(nil, content.NewSeededStore(), nil, logger)
	hub := websocket.NewHub(auth.NewVerifier("", true), manager, dispatcher, faults, websocket.Config{}, logger)
	go hub.Run()

	e := echo.New()
	InitRoutes(e, hub, manager, faults, logger)
	return e
}

func TestHealthz(t *testing.T) {
	e := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	var body HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("Expected status ok, got %s", body.Status)
	}
	if body.Service != "sori-server" {
		t.Errorf("Expected service sori-server, got %s", body.Service)
	}
}

func TestStats(t *testing.T) {
	e := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	var body StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if len(body.Sessions) != 0 {
		t.Errorf("Expected no sessions, got %d", len(body.Sessions))
	}
	if !body.Faults.Healthy {
		t.Error("Fresh engine should report healthy")
	}
	if body.Faults.Total != 0 {
		t.Errorf("Expected zero faults, got %d", body.Faults.Total)
	}
}

func TestWebSocketRoute(t *testing.T) {
	e := newTestRouter(t)
	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	ws, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket connection failed: %v", err)
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg["type"] != "auth_required" {
		t.Errorf("Expected auth_required challenge, got %v", msg["type"])
	}
}
