package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/common"
)

const pingInterval = 15 * time.Second

type stateResp struct {
	chat.Snapshot
	TotalMessages int  `json:"total_messages"`
	HasMore       bool `json:"has_more"`
}

// snapshot returns the store state with only the visible page of messages.
func (h *Handler) snapshot() stateResp {
	store := h.Chat.Store()
	snap := store.Snapshot()
	total := len(snap.Messages)
	snap.Messages = store.VisibleMessages()
	return stateResp{Snapshot: snap, TotalMessages: total, HasMore: total > len(snap.Messages)}
}

func (h *Handler) State(c *gin.Context) {
	common.OK(c, h.snapshot())
}

// Events streams store changes as SSE. The first event carries the full
// state; later events name what changed, with the message attached for
// single-message updates.
func (h *Handler) Events(c *gin.Context) {
	store := h.Chat.Store()
	events, unsubscribe := store.Subscribe(256)
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, b)
		flusher.Flush()
	}

	writeJSON("state", h.snapshot())

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload := gin.H{"kind": ev.Kind}
			if ev.MessageID != "" {
				payload["message_id"] = ev.MessageID
				if m, ok := store.Message(ev.MessageID); ok {
					payload["message"] = m
				}
			}
			writeJSON(string(ev.Kind), payload)

		case <-ticker.C:
			writeJSON("ping", gin.H{"ts": time.Now().Unix()})

		case <-ctx.Done():
			return
		}
	}
}

type sendMessageReq struct {
	Text   string   `json:"text"`
	Images []string `json:"images"`
}

// SendMessage starts a turn and answers at once; progress arrives on the
// event feed.
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid json")
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Images) == 0 {
		h.failErr(c, chat.ErrEmptyMessage)
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	h.bg.Add(1)
	go func() {
		defer h.bg.Done()
		if _, err := h.Chat.SendMessage(ctx, chat.SendRequest{Text: req.Text, Images: req.Images}); err != nil {
			h.Log.Warn("send message failed", zap.Error(err))
		}
	}()
	common.Accepted(c, gin.H{"generating": true})
}

func (h *Handler) RetryMessage(c *gin.Context) {
	id := c.Param("id")
	m, ok := h.Chat.Store().Message(id)
	if !ok || !m.IsAI {
		common.Fail(c, http.StatusNotFound, 40401, "message not found")
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	h.bg.Add(1)
	go func() {
		defer h.bg.Done()
		if _, err := h.Chat.RetryMessage(ctx, id); err != nil {
			h.Log.Warn("retry message failed", zap.String("message_id", id), zap.Error(err))
		}
	}()
	common.Accepted(c, gin.H{"generating": true})
}

func (h *Handler) Stop(c *gin.Context) {
	h.Chat.Stop()
	common.OK(c, gin.H{"is_loading": h.Chat.Store().IsLoading()})
}

func (h *Handler) NewChat(c *gin.Context) {
	h.Chat.NewChat()
	common.OK(c, h.snapshot())
}

func (h *Handler) LoadMore(c *gin.Context) {
	h.Chat.Store().LoadMoreMessages()
	common.OK(c, h.snapshot())
}

type draftReq struct {
	Text string `json:"text"`
}

func (h *Handler) SetDraft(c *gin.Context) {
	var req draftReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid json")
		return
	}
	h.Chat.Store().SetDraft(req.Text)
	common.OK(c, gin.H{"draft": req.Text})
}

type modelReq struct {
	Model string `json:"model" binding:"required"`
}

func (h *Handler) SetModel(c *gin.Context) {
	var req modelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid json")
		return
	}
	if err := h.Chat.SetModel(req.Model); err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, gin.H{"current_model": req.Model})
}

type effortReq struct {
	ReasoningEffort chat.ReasoningEffort `json:"reasoning_effort" binding:"required"`
}

func (h *Handler) SetReasoningEffort(c *gin.Context) {
	var req effortReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid json")
		return
	}
	if err := h.Chat.SetReasoningEffort(req.ReasoningEffort); err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, gin.H{"reasoning_effort": req.ReasoningEffort})
}

func (h *Handler) ListModels(c *gin.Context) {
	common.OK(c, gin.H{
		"models":        h.Models.List(),
		"current_model": h.Chat.Store().CurrentModel(),
	})
}

// ListArchivedTurns shows what the archive worker has stored.
func (h *Handler) ListArchivedTurns(c *gin.Context) {
	if h.Repo == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50302, "archive unavailable")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	turns, err := h.Repo.ListArchivedTurns(c.Request.Context(), limit)
	if err != nil {
		h.Log.Warn("list archived turns failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"turns": turns})
}
