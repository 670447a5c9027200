package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/common"
)

// ListTopics refreshes the topic list and returns it. When the backend is
// unreachable the cached list is served with stale=true.
func (h *Handler) ListTopics(c *gin.Context) {
	stale := false
	if err := h.Chat.RefreshTopics(c.Request.Context()); err != nil {
		stale = true
	}
	list := h.Chat.Store().Topics()

	if v := c.Query("archived"); v != "" {
		archived, err := strconv.ParseBool(v)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, 10003, "invalid archived flag")
			return
		}
		f := chat.TopicFilter{Archived: &archived}
		out := make([]chat.Topic, 0, len(list))
		for _, t := range list {
			if f.Match(t) {
				out = append(out, t)
			}
		}
		common.OK(c, gin.H{"topics": out, "stale": stale})
		return
	}

	active, archived := chat.PartitionTopics(list)
	common.OK(c, gin.H{"active": active, "archived": archived, "stale": stale})
}

type createTopicReq struct {
	Title string `json:"title"`
}

func (h *Handler) CreateTopic(c *gin.Context) {
	var req createTopicReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	t, err := h.Chat.CreateTopic(c.Request.Context(), req.Title)
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, gin.H{"topic": t})
}

func (h *Handler) SwitchTopic(c *gin.Context) {
	if err := h.Chat.SwitchTopic(c.Request.Context(), c.Param("id")); err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, h.snapshot())
}

// DeleteTopic needs confirm=true. Without it nothing is deleted and the
// response carries the prompt to show the user.
func (h *Handler) DeleteTopic(c *gin.Context) {
	id := c.Param("id")
	confirmed, _ := strconv.ParseBool(c.Query("confirm"))

	var prompt string
	deleted, err := h.Chat.DeleteTopic(c.Request.Context(), id, chat.ConfirmFunc(func(_ context.Context, p string) bool {
		prompt = p
		return confirmed
	}))
	if err != nil {
		h.failErr(c, err)
		return
	}
	if !deleted {
		common.Fail(c, http.StatusConflict, 40901, prompt)
		return
	}
	h.Log.Info("topic deleted", zap.String("topic_id", id))
	common.OK(c, gin.H{"deleted": id})
}
