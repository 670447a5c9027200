package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/gopherchat/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(log))
	r.Use(middleware.AccessLog(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/state", h.State)
	r.GET("/events", h.Events)
	r.GET("/models", h.ListModels)
	r.GET("/archive/turns", h.ListArchivedTurns)

	chatGroup := r.Group("/chat")
	chatGroup.POST("/messages", h.SendMessage)
	chatGroup.POST("/messages/:id/retry", h.RetryMessage)
	chatGroup.POST("/stop", h.Stop)
	chatGroup.POST("/new", h.NewChat)
	chatGroup.POST("/load-more", h.LoadMore)
	chatGroup.PUT("/draft", h.SetDraft)
	chatGroup.PUT("/model", h.SetModel)
	chatGroup.PUT("/reasoning-effort", h.SetReasoningEffort)

	topicGroup := r.Group("/topics")
	topicGroup.GET("", h.ListTopics)
	topicGroup.POST("", h.CreateTopic)
	topicGroup.POST("/:id/switch", h.SwitchTopic)
	topicGroup.DELETE("/:id", h.DeleteTopic)
	return r
}
