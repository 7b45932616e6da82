package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"househunter/internal/infra/config"
	"househunter/internal/infra/obs"
)

type Handlers struct {
	Chat ChatHTTP
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	router.GET("/metrics", obs.MetricsHandler())

	api := router.Group("/api/v1")
	if h.Chat != nil {
		api.GET("/status", h.Chat.Status)
		api.GET("/conversations", h.Chat.ListConversations)
		api.POST("/conversations/:key/open", h.Chat.OpenConversation)
		api.POST("/conversations/:key/close", h.Chat.CloseConversation)
		api.GET("/conversations/:key/messages", h.Chat.ListMessages)
		api.POST("/conversations/:key/messages", h.Chat.SendMessage)
		api.POST("/conversations/:key/read", h.Chat.MarkRead)
		api.POST("/conversations/:key/clear", h.Chat.ClearConversation)
		api.DELETE("/conversations/:key", h.Chat.DeleteConversation)
	}

	return &http.Server{Addr: cfg.HTTPAddr, Handler: router}
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
