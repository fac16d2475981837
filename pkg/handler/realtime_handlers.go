package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/choraleia/leadagent/pkg/models"
	"github.com/choraleia/leadagent/pkg/service"
)

const (
	realtimeReadLimit  = 36 << 20 // base64 audio is ~4/3 of the upload limit
	realtimePongWait   = 60 * time.Second
	realtimePingPeriod = 30 * time.Second
	realtimeWriteWait  = 10 * time.Second
)

// RealtimeHandler serves the per-session websocket channel. Frames are
// processed one at a time in arrival order.
type RealtimeHandler struct {
	Svc      *service.AgentService
	Logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewRealtimeHandler creates the handler. checkOrigin may be nil to accept every origin.
func NewRealtimeHandler(svc *service.AgentService, logger *slog.Logger, checkOrigin func(r *http.Request) bool) *RealtimeHandler {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &RealtimeHandler{
		Svc:    svc,
		Logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// realtimeConn serializes writes from the turn loop and the ping ticker.
type realtimeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (rc *realtimeConn) writeJSON(v any) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	_ = rc.conn.SetWriteDeadline(time.Now().Add(realtimeWriteWait))
	return rc.conn.WriteJSON(v)
}

func (rc *realtimeConn) ping() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	_ = rc.conn.SetWriteDeadline(time.Now().Add(realtimeWriteWait))
	return rc.conn.WriteMessage(websocket.PingMessage, nil)
}

// Handle upgrades the connection, sends the greeting and then answers every
// {text} or {audio} frame.
// GET /ws/:session_id
func (h *RealtimeHandler) Handle(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("session_id"))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Warn("Realtime upgrade failed", "sessionID", sessionID, "error", err)
		return
	}
	defer conn.Close()
	rc := &realtimeConn{conn: conn}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	h.Logger.Info("Realtime client connected", "sessionID", sessionID, "clientIP", c.ClientIP())
	defer h.Logger.Info("Realtime client disconnected", "sessionID", sessionID)

	greeting, err := h.Svc.Start(ctx, sessionID)
	if err != nil {
		h.sendError(rc, sessionID, err)
		return
	}
	if err := rc.writeJSON(greeting); err != nil {
		return
	}
	sessionID = greeting.SessionID

	frames := make(chan []byte)
	go func() {
		defer cancel()
		defer close(frames)
		conn.SetReadLimit(realtimeReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(realtimePongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(realtimePongWait))
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.Logger.Debug("Realtime read failed", "sessionID", sessionID, "error", err)
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(realtimePongWait))
			select {
			case frames <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(realtimePingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := rc.ping(); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for data := range frames {
		resp, err := h.handleFrame(ctx, sessionID, data)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.sendError(rc, sessionID, err)
			continue
		}
		if err := rc.writeJSON(resp); err != nil {
			// The turn is already committed; the client re-reads state on reconnect.
			h.Logger.Debug("Dropped realtime response", "sessionID", sessionID, "error", err)
			return
		}
	}
}

func (h *RealtimeHandler) handleFrame(ctx context.Context, sessionID string, data []byte) (*models.AgentResponse, error) {
	var msg models.RealtimeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, validationError("frame must be a JSON object")
	}
	switch {
	case msg.Audio != nil && strings.TrimSpace(*msg.Audio) != "":
		audio, err := service.DecodeAudio(*msg.Audio)
		if err != nil {
			return nil, err
		}
		return h.Svc.HandleAudio(ctx, sessionID, audio, msg.Filename)
	case msg.Text != nil:
		return h.Svc.HandleText(ctx, sessionID, *msg.Text)
	default:
		return nil, validationError("frame needs text or audio")
	}
}

func (h *RealtimeHandler) sendError(rc *realtimeConn, sessionID string, err error) {
	status, body := ErrorBody(sessionID, err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("Realtime turn failed", "sessionID", sessionID, "error", err)
	} else {
		h.Logger.Warn("Realtime turn rejected", "sessionID", sessionID, "error", err)
	}
	_ = rc.writeJSON(body)
}
