package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/haneul-labs/sori-server/domain/entities"
	"github.com/haneul-labs/sori-server/internal/auth"
	"github.com/haneul-labs/sori-server/internal/recovery"
	"github.com/haneul-labs/sori-server/internal/voice"
	"github.com/haneul-labs/sori-server/internal/wakeword"
)

// Config carries the settings the hub clones into every session pipeline.
type Config struct {
	WakeMode       wakeword.Mode
	WakeThresholds wakeword.Thresholds
	WakeScorer     wakeword.Scorer
	Pipeline       voice.Config
	AllowedOrigins []string
}

// Hub maintains the set of authenticated clients and assembles a pipeline
// per session.
type Hub struct {
	// Registered clients keyed by session ID.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	verifier   *auth.Verifier
	pool       voice.RecognizerPool
	dispatcher voice.Dispatcher
	faults     *recovery.Engine
	cfg        Config

	upgrader websocket.Upgrader

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(
	verifier *auth.Verifier,
	pool voice.RecognizerPool,
	dispatcher voice.Dispatcher,
	faults *recovery.Engine,
	cfg Config,
	logger *zap.Logger,
) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		verifier:   verifier,
		pool:       pool,
		dispatcher: dispatcher,
		faults:     faults,
		cfg:        cfg,
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

// checkOrigin admits configured origins. Requests without an Origin header,
// devices and CLI tools, are always admitted.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.session.ID] = client
			h.mu.Unlock()
			h.logger.Info("Client registered",
				zap.String("sessionID", client.session.ID),
				zap.String("userID", client.session.UserID))

		case client := <-h.unregister:
			// Clients that never authenticated have no session.
			if client.session == nil {
				continue
			}
			h.mu.Lock()
			_, ok := h.clients[client.session.ID]
			if ok {
				delete(h.clients, client.session.ID)
			}
			h.mu.Unlock()
			if ok {
				h.logger.Info("Client unregistered",
					zap.String("sessionID", client.session.ID))
			}
		}
	}
}

// newPipeline assembles a session's pipeline. Each session gets its own
// detector so wake-word degradation stays session-local.
func (h *Hub) newPipeline(session *entities.Session, convo *entities.ConversationContext) *voice.Pipeline {
	detector := wakeword.NewDetector(h.cfg.WakeMode, h.cfg.WakeThresholds, h.cfg.WakeScorer, h.logger)
	return voice.NewPipeline(session, convo, detector, h.pool, h.dispatcher, h.faults, h.cfg.Pipeline, h.logger)
}

// HandleConnection upgrades an HTTP request and starts the client pumps. The
// first message the client sees is the authentication challenge.
func HandleConnection(hub *Hub, c echo.Context, logger *zap.Logger) error {
	conn, err := hub.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := newClient(hub, conn, logger)

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	client.sendMessage(CreateAuthRequired())
	return nil
}

// Sessions snapshots every registered session for the stats endpoint.
func (h *Hub) Sessions() []entities.SessionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	infos := make([]entities.SessionInfo, 0, len(h.clients))
	for _, client := range h.clients {
		infos = append(infos, client.session.Info())
	}
	return infos
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshotClients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// Janitor evicts sessions whose connection has gone quiet. A session lives
// exactly as long as its connection, so eviction tears the client down and
// the pumps do the rest.
type Janitor struct {
	hub           *Hub
	idleTimeout   time.Duration
	sweepInterval time.Duration
	logger        *zap.Logger
	stopChan      chan struct{}
}

// NewJanitor creates a session janitor.
func NewJanitor(hub *Hub, idleTimeout, sweepInterval time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{
		hub:           hub,
		idleTimeout:   idleTimeout,
		sweepInterval: sweepInterval,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the background sweep.
func (j *Janitor) Start() {
	go j.sweepLoop()
	j.logger.Info("Session janitor started",
		zap.Duration("idleTimeout", j.idleTimeout),
		zap.Duration("sweepInterval", j.sweepInterval))
}

// Stop gracefully stops the janitor.
func (j *Janitor) Stop() {
	close(j.stopChan)
	j.logger.Info("Session janitor stopped")
}

func (j *Janitor) sweepLoop() {
	ticker := time.NewTicker(j.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopChan:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

// sweep tears down every client idle past the timeout. The unregister and
// the connection close follow from the teardown.
func (j *Janitor) sweep() {
	for _, client := range j.hub.snapshotClients() {
		if !client.session.IdleFor(j.idleTimeout) {
			continue
		}
		j.logger.Info("Evicting idle session",
			zap.String("sessionID", client.session.ID),
			zap.String("userID", client.session.UserID))
		client.teardown()
	}
}
