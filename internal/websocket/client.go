package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/haneul-labs/sori-server/domain/entities"
	"github.com/haneul-labs/sori-server/internal/audio"
	"github.com/haneul-labs/sori-server/internal/voice"
	"github.com/haneul-labs/sori-server/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for base64 audio chunks
)

type WriteData struct {
	// Type is the websocket frame type.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between one websocket connection and its session
// pipeline. session and pipeline are nil until authentication succeeds;
// both are written by the read goroutine before the client registers.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	validator *MessageValidator

	logger *zap.Logger

	session  *entities.Session
	pipeline *voice.Pipeline

	// done ends the write pump and the event forwarder. send is never
	// closed; a closed done channel is the teardown signal.
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan WriteData, 256),
		validator: NewMessageValidator(),
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// teardown ends the session exactly once. Closing done winds down the write
// pump and the event forwarder; closing the pipeline releases its recovery
// bookkeeping. Safe to call from any goroutine.
func (c *Client) teardown() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.pipeline != nil {
			c.pipeline.Close()
		}
	})
}

// readPump pumps messages from the websocket connection into the session
// pipeline. There is at most one reader per connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.teardown()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.sendError(ErrCodeInvalidMessage, "only JSON text frames are supported", "")
			continue
		}
		if !c.handleMessage(message) {
			return
		}
	}
}

// writePump pumps queued messages to the websocket connection. There is at
// most one writer per connection; pings share it.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			// Flush whatever is still queued, a rejection usually, before
			// closing the connection.
			for {
				select {
				case message := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		}
	}
}

// handleMessage dispatches one inbound frame. The return value reports
// whether the connection should stay open.
func (c *Client) handleMessage(raw []byte) bool {
	msg, err := c.validator.ValidateMessage(raw)
	if err != nil {
		c.sendError(ErrCodeInvalidMessage, err.Error(), "")
		return true
	}

	if auth, ok := msg.(*AuthMessage); ok {
		return c.handleAuth(auth)
	}
	if c.pipeline == nil {
		c.sendError(ErrCodeNotAuthenticated, "authenticate first", "")
		return true
	}

	switch m := msg.(type) {
	case *StreamStartMessage:
		c.handleStreamStart(m)
	case *AudioChunkMessage:
		c.handleAudioChunk(m)
	case *StreamEndMessage:
		c.handleStreamEnd(m)
	case *CommandMessage:
		c.handleCommand(m)
	}
	return true
}

// handleAuth verifies the token and brings the session pipeline up. A failed
// authentication closes the connection after the error message flushes.
func (c *Client) handleAuth(msg *AuthMessage) bool {
	if c.pipeline != nil {
		c.sendError(ErrCodeAlreadyAuthenticated, "session already authenticated", "")
		return true
	}

	claims, err := c.hub.verifier.Verify(msg.Token)
	if err != nil {
		c.logger.Warn("Authentication failed", zap.Error(err))
		c.sendError(ErrCodeAuthFailed, "invalid credentials", "")
		return false
	}

	c.session = entities.NewSession(claims.UserID)
	convo := entities.NewConversationContext(entities.DefaultPreferences())
	c.pipeline = c.hub.newPipeline(c.session, convo)
	c.pipeline.Start()
	go c.forwardEvents()

	c.hub.register <- c

	c.logger.Info("Client authenticated",
		zap.String("sessionID", c.session.ID),
		zap.String("userID", claims.UserID))
	c.sendMessage(CreateAuthSuccess(c.session.ID, claims.UserID))
	return true
}

func (c *Client) handleStreamStart(msg *StreamStartMessage) {
	err := c.pipeline.StartStream(context.Background(), entities.StreamConfig{
		SampleRate: msg.Config.SampleRate,
		Format:     msg.Config.Format,
		Language:   msg.Config.Language,
	})
	switch {
	case err == nil:
	case errors.Is(err, entities.ErrStreamAlreadyActive):
		c.sendError(ErrCodeStreamAlreadyActive, "an audio stream is already active", "")
	case errors.Is(err, voice.ErrSpeechDisabled):
		c.sendError(ErrCodeSpeechDisabled, "speech recognition is disabled for this session", "")
	default:
		c.logger.Error("Failed to start audio stream", zap.Error(err))
		c.sendError(ErrCodeInternal, "failed to start audio stream", "")
	}
}

func (c *Client) handleAudioChunk(msg *AudioChunkMessage) {
	data, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		c.sendError(ErrCodeInvalidMessage, "data must be base64-encoded audio", "")
		return
	}

	err = c.pipeline.SubmitChunk(context.Background(), msg.Sequence, data)
	switch {
	case err == nil:
	case errors.Is(err, audio.ErrStaleSequence):
		c.sendError(ErrCodeStaleSequence, fmt.Sprintf("chunk sequence %d is stale", msg.Sequence), "")
	case errors.Is(err, entities.ErrStreamNotActive):
		c.sendError(ErrCodeStreamNotActive, "no active audio stream", "")
	default:
		c.logger.Error("Failed to ingest audio chunk", zap.Error(err))
		c.sendError(ErrCodeInternal, "failed to ingest audio chunk", "")
	}
}

func (c *Client) handleStreamEnd(msg *StreamEndMessage) {
	if err := c.pipeline.EndStream(context.Background()); err != nil {
		c.sendError(ErrCodeStreamNotActive, "no active audio stream", "")
		return
	}
	c.logger.Info("Audio stream ended",
		zap.String("sessionID", c.session.ID),
		zap.Int64("durationMs", msg.Duration))
}

func (c *Client) handleCommand(msg *CommandMessage) {
	if msg.Context != "" {
		c.logger.Debug("Command context received",
			zap.String("sessionID", c.session.ID),
			zap.String("context", msg.Context))
	}
	// Dispatch may call the interpreter and the speech renderer; keep the
	// read loop responsive.
	go c.pipeline.HandleCommand(context.Background(), msg.Command)
}

// forwardEvents translates pipeline events into wire messages until the
// client tears down. The events channel is never closed; done ends the loop.
func (c *Client) forwardEvents() {
	for {
		select {
		case <-c.done:
			return
		case event := <-c.pipeline.Events():
			c.forwardEvent(event)
		}
	}
}

func (c *Client) forwardEvent(event voice.Event) {
	switch event.Kind {
	case voice.EventRecognition:
		c.sendMessage(CreateRecognitionResult(
			event.Result.Transcript, event.Result.Confidence, event.Result.IsFinal, ""))

	case voice.EventReply:
		// A spoken command carries its final transcript; the client sees
		// transcript and interpreted command together, then the reply.
		if event.Result != nil {
			c.sendMessage(CreateRecognitionResult(
				event.Result.Transcript, event.Result.Confidence, true, event.Reply.Command))
		}
		c.sendMessage(c.audioResponse(event.Reply))

	case voice.EventFault:
		c.sendError(event.Fault.Code, event.Fault.Message, string(event.Fault.Source))

	case voice.EventDegraded:
		c.sendError(ErrCodeSessionDegraded, degradationNotice(event.Degradation), event.Degradation.String())

	case voice.EventState:
		c.logger.Debug("Pipeline state changed",
			zap.String("sessionID", c.session.ID),
			zap.String("state", string(event.State)),
			zap.String("reason", event.Reason))
	}
}

func (c *Client) audioResponse(reply *usecase.DispatchResult) *AudioResponseMessage {
	var data []byte
	var format string
	var duration int64
	if reply.Audio != nil {
		data = reply.Audio.Data
		format = reply.Audio.Format
		duration = reply.Audio.DurationMs
	}
	language := c.pipeline.Conversation().Preferences().Language
	return CreateAudioResponse(data, format, duration, reply.Text, language)
}

// degradationNotice is the user-facing text for each degradation step.
func degradationNotice(level entities.DegradationLevel) string {
	switch level {
	case entities.DegradationNoWakeWord:
		return "wake-word detection is off; audio streams capture immediately"
	case entities.DegradationNoInterpreter:
		return "natural-language understanding is off; simple commands still work"
	case entities.DegradationTextOnly:
		return "speech recognition is off; use typed commands"
	default:
		return "session degraded"
	}
}

// sendMessage marshals and queues one outbound message, dropping it when the
// peer cannot keep up.
func (c *Client) sendMessage(msg interface{}) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal outbound message", zap.Error(err))
		return
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	default:
		c.logger.Warn("Outbound message dropped, send buffer full")
	}
}

func (c *Client) sendError(code, message, details string) {
	c.sendMessage(CreateErrorMessage(code, message, details))
}
