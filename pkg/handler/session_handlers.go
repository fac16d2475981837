package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/choraleia/leadagent/pkg/models"
	"github.com/choraleia/leadagent/pkg/service"
)

// maxUploadBytes bounds a multipart audio upload.
const maxUploadBytes = 26 << 20

// SessionHandler provides HTTP handlers for sessions and chat turns
type SessionHandler struct {
	Svc       *service.AgentService
	Knowledge *service.KnowledgeService
	Logger    *slog.Logger
}

func NewSessionHandler(svc *service.AgentService, knowledge *service.KnowledgeService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{Svc: svc, Knowledge: knowledge, Logger: logger}
}

// RegisterRoutes registers session and chat routes on r.
func (h *SessionHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/session/:id/start", h.Start)
	r.GET("/session/:id/summary", h.Summary)
	r.GET("/session/:id/history", h.History)
	r.POST("/session/:id/close", h.Close)
	r.GET("/sessions", h.List)
	r.POST("/chat/text", h.ChatText)
	r.POST("/chat/audio", h.ChatAudio)
	r.GET("/knowledge/search", h.SearchKnowledge)
}

// Start creates or reopens a session and returns the greeting
// GET /session/:id/start
func (h *SessionHandler) Start(c *gin.Context) {
	id := c.Param("id")
	resp, err := h.Svc.Start(c.Request.Context(), id)
	if err != nil {
		h.Logger.Error("Failed to start session", "sessionID", id, "error", err)
		writeError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ChatText runs a text turn
// POST /chat/text {session_id, message}
func (h *SessionHandler) ChatText(c *gin.Context) {
	var req models.ChatTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Logger.Warn("Invalid chat request", "error", err, "clientIP", c.ClientIP())
		writeError(c, "", validationError("invalid JSON body: "+err.Error()))
		return
	}
	resp, err := h.Svc.HandleText(c.Request.Context(), req.SessionID, req.Message)
	if err != nil {
		h.logTurnError("text", req.SessionID, err)
		writeError(c, req.SessionID, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ChatAudio transcribes an uploaded recording and runs it as a turn
// POST /chat/audio multipart {session_id, audio_file}
func (h *SessionHandler) ChatAudio(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	sessionID := strings.TrimSpace(c.PostForm("session_id"))
	file, err := c.FormFile("audio_file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, sessionID, validationError("audio_file is too large"))
			return
		}
		writeError(c, sessionID, validationError("audio_file is required"))
		return
	}
	if sessionID == "" {
		writeError(c, "", validationError("session_id is required"))
		return
	}

	f, err := file.Open()
	if err != nil {
		writeError(c, sessionID, validationError("audio_file could not be read"))
		return
	}
	defer f.Close()
	audio, err := io.ReadAll(f)
	if err != nil {
		writeError(c, sessionID, validationError("audio_file could not be read"))
		return
	}

	resp, err := h.Svc.HandleAudio(c.Request.Context(), sessionID, audio, file.Filename)
	if err != nil {
		h.logTurnError("audio", sessionID, err)
		writeError(c, sessionID, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Summary returns the lead qualification summary
// GET /session/:id/summary
func (h *SessionHandler) Summary(c *gin.Context) {
	id := c.Param("id")
	summary, err := h.Svc.Summary(c.Request.Context(), id)
	if err != nil {
		writeError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// History returns the turns of a session, oldest first
// GET /session/:id/history?limit=
func (h *SessionHandler) History(c *gin.Context) {
	id := c.Param("id")
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		writeError(c, id, err)
		return
	}
	turns, err := h.Svc.History(c.Request.Context(), id, limit)
	if err != nil {
		writeError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "turns": turns})
}

// Close marks a session closed
// POST /session/:id/close
func (h *SessionHandler) Close(c *gin.Context) {
	id := c.Param("id")
	resp, err := h.Svc.CloseSession(c.Request.Context(), id)
	if err != nil {
		writeError(c, id, err)
		return
	}
	h.Logger.Info("Session closed via API", "sessionID", id, "clientIP", c.ClientIP())
	c.JSON(http.StatusOK, resp)
}

// List returns session summaries, most recently updated first
// GET /sessions?limit=
func (h *SessionHandler) List(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		writeError(c, "", err)
		return
	}
	sessions, err := h.Svc.ListSessions(c.Request.Context(), limit)
	if err != nil {
		h.Logger.Error("Failed to list sessions", "error", err)
		writeError(c, "", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "total": len(sessions)})
}

// SearchKnowledge returns the knowledge sections closest to q
// GET /knowledge/search?q=&limit=
func (h *SessionHandler) SearchKnowledge(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		writeError(c, "", validationError("q is required"))
		return
	}
	limit, err := queryInt(c, "limit", 3)
	if err != nil {
		writeError(c, "", err)
		return
	}
	if h.Knowledge == nil || !h.Knowledge.SearchEnabled() {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
			Type:    models.ResponseTypeError,
			Code:    codeInternal,
			Message: "knowledge search is not enabled",
		})
		return
	}
	hits, err := h.Knowledge.Search(c.Request.Context(), query, limit)
	if err != nil {
		h.Logger.Error("Knowledge search failed", "error", err)
		writeError(c, "", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": query, "results": hits})
}

func (h *SessionHandler) logTurnError(kind, sessionID string, err error) {
	status, _ := ErrorBody(sessionID, err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("Chat turn failed", "kind", kind, "sessionID", sessionID, "error", err)
		return
	}
	h.Logger.Warn("Chat turn rejected", "kind", kind, "sessionID", sessionID, "error", err)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, validationError(key + " must be a non-negative integer")
	}
	return n, nil
}
