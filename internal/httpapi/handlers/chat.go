package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loomchat/loomchat/internal/ai"
	"github.com/loomchat/loomchat/internal/chat"
	"github.com/loomchat/loomchat/internal/common"
	"github.com/loomchat/loomchat/internal/errs"
	"github.com/loomchat/loomchat/internal/httpapi/middleware"
	"github.com/loomchat/loomchat/internal/stream"
)

// heartbeatInterval keeps idle SSE connections from being reaped by
// intermediaries.
const heartbeatInterval = 15 * time.Second

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"status": "ok"})
}

type turnReq struct {
	ID      string `json:"id" binding:"required"`
	Message struct {
		ID          string            `json:"id"`
		Parts       []ai.Part         `json:"parts" binding:"required"`
		Attachments []chat.Attachment `json:"attachments"`
	} `json:"message" binding:"required"`
	Model      string          `json:"model"`
	Visibility chat.Visibility `json:"visibility"`
}

// CreateTurn accepts a user message and streams the generated response as
// SSE. The stream id is exposed in a header before the first part so the
// client can resume after a drop.
func (h *Handler) CreateTurn(c *gin.Context) {
	user, ok := middleware.IdentityFrom(c)
	if !ok {
		common.Fail(c, errs.Unauthorized, "unauthorized")
		return
	}

	var req turnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, errs.BadRequest, "invalid request body")
		return
	}

	model := req.Model
	if model == "" {
		model = h.defaultModel()
	}

	sub, streamID, err := h.ChatSvc.SubmitTurn(c.Request.Context(), user, chat.TurnInput{
		ChatID: req.ID,
		Message: chat.IncomingMessage{
			ID:          req.Message.ID,
			Parts:       req.Message.Parts,
			Attachments: req.Message.Attachments,
		},
		Model:      model,
		Visibility: req.Visibility,
		Hints:      hintsFrom(c),
	})
	if err != nil {
		common.FailErr(c, err, "chat")
		return
	}
	defer sub.Cancel()

	c.Header("X-Stream-Id", streamID)
	h.streamSSE(c, sub)
}

// ResumeStream re-attaches to the chat's most recent stream and replays it.
func (h *Handler) ResumeStream(c *gin.Context) {
	user, ok := middleware.IdentityFrom(c)
	if !ok {
		common.Fail(c, errs.Unauthorized, "unauthorized")
		return
	}

	sub, err := h.ChatSvc.Resume(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		common.FailErr(c, err, "stream")
		return
	}
	defer sub.Cancel()

	h.streamSSE(c, sub)
}

func (h *Handler) ListMessages(c *gin.Context) {
	user, ok := middleware.IdentityFrom(c)
	if !ok {
		common.Fail(c, errs.Unauthorized, "unauthorized")
		return
	}

	msgs, err := h.ChatSvc.History(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		common.FailErr(c, err, "chat")
		return
	}
	common.OK(c, gin.H{"messages": msgs})
}

func (h *Handler) DeleteChat(c *gin.Context) {
	user, ok := middleware.IdentityFrom(c)
	if !ok {
		common.Fail(c, errs.Unauthorized, "unauthorized")
		return
	}

	id, err := h.ChatSvc.DeleteChat(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		common.FailErr(c, err, "chat")
		return
	}
	common.OK(c, gin.H{"id": id, "deleted": true})
}

// streamSSE drains the subscription onto the wire. Each part becomes one
// SSE event named after its type; a final done event marks clean
// completion. Client disconnect just detaches the subscriber, the turn
// keeps running server-side.
func (h *Handler) streamSSE(c *gin.Context, sub *stream.Subscription) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"streaming unsupported\"}\n\n")
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case part, open := <-sub.C:
			if !open {
				fmt.Fprintf(c.Writer, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			b, err := json.Marshal(part)
			if err != nil {
				fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"encode failed\"}\n\n")
				flusher.Flush()
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", part.Type, b)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(c.Writer, ": ping\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) defaultModel() string {
	if h.Cfg.AIProvider == "openrouter" {
		return h.Cfg.OpenRouterModel
	}
	return h.Cfg.OllamaModel
}

// hintsFrom pulls best-effort geolocation from proxy headers. Absent or
// malformed values degrade to the zero hint.
func hintsFrom(c *gin.Context) ai.RequestHints {
	lat, _ := strconv.ParseFloat(c.GetHeader("X-Vercel-IP-Latitude"), 64)
	lon, _ := strconv.ParseFloat(c.GetHeader("X-Vercel-IP-Longitude"), 64)
	return ai.RequestHints{
		City:      c.GetHeader("X-Vercel-IP-City"),
		Country:   c.GetHeader("X-Vercel-IP-Country"),
		Latitude:  lat,
		Longitude: lon,
	}
}
