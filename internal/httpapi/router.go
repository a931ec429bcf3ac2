package httpapi

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/loomchat/loomchat/internal/chat"
	"github.com/loomchat/loomchat/internal/common"
	"github.com/loomchat/loomchat/internal/config"
	"github.com/loomchat/loomchat/internal/errs"
	"github.com/loomchat/loomchat/internal/httpapi/handlers"
	"github.com/loomchat/loomchat/internal/httpapi/middleware"
	"github.com/loomchat/loomchat/internal/users"
)

func NewRouter(cfg config.Config, svc *chat.Service, userRepo *users.Repo, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, errs.NotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, errs.BadRequest, "method not allowed")
	})

	h := handlers.NewHandler(cfg, svc, userRepo, log)

	r.GET("/ping", h.Ping)

	r.POST("/auth/guest", h.GuestLogin)
	r.POST("/auth/login", h.Login)

	authed := r.Group("/")
	authed.Use(middleware.AuthRequired(cfg.JWTSecret))
	authed.GET("/me", h.Me)
	authed.POST("/chat", h.CreateTurn)
	authed.GET("/chat/:id/stream", h.ResumeStream)
	authed.GET("/chat/:id/messages", h.ListMessages)
	authed.DELETE("/chat/:id", h.DeleteChat)

	return r
}
