package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/careerpath/interviewcoach/server/domain/entities"
	"github.com/careerpath/interviewcoach/server/internal/interview"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	sendBufferSize = 256

	DefaultFrameRate  = 60
	DefaultFrameBurst = 30
)

// ErrHubStopped is returned for connections arriving after shutdown
var ErrHubStopped = errors.New("websocket hub stopped")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// SessionProvider resolves a session id to its live runtime
type SessionProvider interface {
	Runtime(id string) (*interview.Runtime, error)
}

// Config holds per-client limits
type Config struct {
	// FrameRate is the sustained number of detector frames accepted per second.
	FrameRate  float64
	FrameBurst int
}

// DefaultConfig returns the default client limits
func DefaultConfig() Config {
	return Config{FrameRate: DefaultFrameRate, FrameBurst: DefaultFrameBurst}
}

// Hub maintains the set of active clients, one per session.
type Hub struct {
	// Registered clients by session id.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	// Closed when Run returns.
	done chan struct{}

	sessions  SessionProvider
	cfg       Config
	validator *MessageValidator

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(sessions SessionProvider, cfg Config, logger *zap.Logger) *Hub {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if cfg.FrameBurst <= 0 {
		cfg.FrameBurst = DefaultFrameBurst
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		sessions:   sessions,
		cfg:        cfg,
		validator:  NewMessageValidator(),
		logger:     logger,
	}
}

// Run runs the hub's main loop until ctx is cancelled
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				client.close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return nil

		case client := <-h.register:
			h.mu.Lock()
			previous := h.clients[client.sessionID]
			h.clients[client.sessionID] = client
			h.mu.Unlock()
			if previous != nil {
				// A reconnect replaces the old connection.
				previous.close()
			}
			h.logger.Info("Client registered", zap.String("sessionID", client.sessionID))

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.sessionID]; ok && current == client {
				delete(h.clients, client.sessionID)
			}
			h.mu.Unlock()
			client.close()
			h.logger.Info("Client unregistered", zap.String("sessionID", client.sessionID))
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// WriteData is one outbound websocket message
type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and a session runtime.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	sessionID  string
	runtime    *interview.Runtime
	canCapture bool
	frames     *rate.Limiter

	droppedFrames   atomic.Int64
	droppedOutbound atomic.Int64

	mu     sync.Mutex
	closed bool

	logger *zap.Logger
}

// HandleWebSocketWithAuth upgrades a request whose session token was already verified
// and attaches the connection to the session runtime. Clients that cannot run a
// microphone pass microphone=false.
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, sessionID string, logger *zap.Logger) error {
	select {
	case <-hub.done:
		return ErrHubStopped
	default:
	}

	rt, err := hub.sessions.Runtime(sessionID)
	if err != nil {
		return err
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan WriteData, sendBufferSize),
		sessionID:  sessionID,
		runtime:    rt,
		canCapture: c.QueryParam("microphone") != "false",
		frames:     rate.NewLimiter(rate.Limit(hub.cfg.FrameRate), hub.cfg.FrameBurst),
		logger:     logger.With(zap.String("sessionID", sessionID)),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return ErrHubStopped
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	if err := rt.Attach(client); err != nil {
		client.logger.Warn("Failed to attach client", zap.Error(err))
		client.sendError(entities.ErrorInvalidEvent, err.Error())
	}
	return nil
}

// Notify implements interview.Sink
func (c *Client) Notify(n interview.Notification) {
	c.sendJSON(&OutboundEnvelope{Type: MessageType(n.Type), Payload: n.Payload})
}

// SendAudio implements interview.Sink
func (c *Client) SendAudio(chunk []byte) {
	c.enqueue(WriteData{Type: websocket.BinaryMessage, Payload: chunk})
}

// CanCapture implements interview.Sink
func (c *Client) CanCapture() bool {
	return c.canCapture
}

// readPump pumps messages from the websocket connection to the session runtime.
func (c *Client) readPump() {
	defer func() {
		if err := c.runtime.Detach(c); err != nil {
			c.logger.Debug("Detach after session close", zap.Error(err))
		}
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
			c.close()
		}
		c.conn.Close()
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processBinaryAudioChunk(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the runtime to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage decodes a client event and hands it to the runtime
func (c *Client) processMessage(message []byte) {
	msgType, msg, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Debug("Rejected client message", zap.String("type", string(msgType)), zap.Error(err))
		c.sendError(entities.ErrorInvalidEvent, err.Error())
		return
	}

	if err := c.dispatch(msgType, msg); err != nil {
		c.logger.Debug("Client event failed", zap.String("type", string(msgType)), zap.Error(err))
		c.sendError(entities.ErrorInvalidEvent, err.Error())
	}
}

func (c *Client) dispatch(msgType MessageType, msg interface{}) error {
	rt := c.runtime
	switch m := msg.(type) {
	case *FrameMessage:
		if !c.frames.Allow() {
			if c.droppedFrames.Add(1)%100 == 1 {
				c.logger.Debug("Dropping frames over the rate limit", zap.Int64("dropped", c.droppedFrames.Load()))
			}
			return nil
		}
		return rt.IngestFrame(m.FrameInput())
	case *TranscriptMessage:
		return rt.OfferTranscript(m.Segment())
	case *RecognitionEndedMessage:
		return rt.RecognitionEnded(m.Cause())
	case *CaptureUnavailableMessage:
		return rt.CaptureUnavailable(m.Reason)
	case *SpeechEndedMessage:
		return rt.SpeechEnded(m.UtteranceID)
	case *SubmitMessage:
		return rt.Submit(m.Text)
	case *DismissFeedbackMessage:
		return rt.DismissFeedback(m.ID)
	case *PingMessage:
		c.sendJSON(CreatePongMessage(m.Data))
		return nil
	}

	switch msgType {
	case MessageTypeSpeechStarted:
		return rt.SpeechStarted()
	case MessageTypeStartListening:
		return rt.StartListening()
	case MessageTypeStopListening:
		return rt.StopListening()
	case MessageTypeRetry:
		return rt.Retry()
	case MessageTypeEnd:
		return rt.End(entities.EndReasonCandidateEnded)
	}
	return fmt.Errorf("unsupported message type: %s", msgType)
}

// processBinaryAudioChunk forwards microphone audio to the server-side recognizer
func (c *Client) processBinaryAudioChunk(data []byte) {
	err := c.runtime.StreamAudio(data)
	switch {
	case err == nil:
	case errors.Is(err, interview.ErrNotCapturing), errors.Is(err, interview.ErrServerRecognitionDisabled):
		c.logger.Debug("Audio received while not capturing", zap.Int("size", len(data)))
	default:
		c.logger.Warn("Failed to stream audio data", zap.Int("size", len(data)), zap.Error(err))
		c.sendError(entities.ErrorRecognitionFailed, err.Error())
	}
}

func (c *Client) sendError(kind entities.ErrorKind, message string) {
	c.sendJSON(CreateErrorMessage(kind, message))
}

func (c *Client) sendJSON(env *OutboundEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("Failed to encode message", zap.String("type", string(env.Type)), zap.Error(err))
		return
	}
	c.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload})
}

// enqueue never blocks the session loop. A full buffer drops the message.
func (c *Client) enqueue(data WriteData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		if c.droppedOutbound.Add(1)%50 == 1 {
			c.logger.Warn("Client send buffer full, dropping message", zap.Int64("dropped", c.droppedOutbound.Load()))
		}
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
