package handlers

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/auth"
	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/topics"
)

type Handler struct {
	Chat   *chat.Service
	Models *ai.Registry
	Repo   *chat.Repo
	Log    *zap.Logger

	// generations started by requests, waited for on shutdown
	bg sync.WaitGroup
}

func NewHandler(svc *chat.Service, models *ai.Registry, repo *chat.Repo, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Chat: svc, Models: models, Repo: repo, Log: log}
}

// Shutdown stops the running generation and waits for request-started work
// to settle.
func (h *Handler) Shutdown() {
	h.Chat.Stop()
	h.bg.Wait()
	h.Chat.Wait()
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// failErr maps domain errors onto the response envelope.
func (h *Handler) failErr(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		common.Fail(c, http.StatusBadRequest, 10001, "message is empty")
	case errors.Is(err, chat.ErrUnknownModel):
		common.Fail(c, http.StatusBadRequest, 10004, "unknown model")
	case errors.Is(err, chat.ErrInvalidEffort):
		common.Fail(c, http.StatusBadRequest, 10005, "invalid reasoning effort")
	case auth.IsLoginRequired(err):
		common.Fail(c, http.StatusUnauthorized, 40101, "login required")
	case errors.Is(err, topics.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40404, "topic not found")
	case errors.Is(err, chat.ErrNoTopicDirectory):
		common.Fail(c, http.StatusServiceUnavailable, 50301, "topics unavailable")
	default:
		common.Fail(c, http.StatusBadGateway, 50201, "upstream error")
	}
}
