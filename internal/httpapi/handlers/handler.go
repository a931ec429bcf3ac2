package handlers

import (
	"log/slog"

	"github.com/loomchat/loomchat/internal/chat"
	"github.com/loomchat/loomchat/internal/config"
	"github.com/loomchat/loomchat/internal/users"
)

type Handler struct {
	Cfg     config.Config
	ChatSvc *chat.Service
	Users   *users.Repo
	Log     *slog.Logger
}

func NewHandler(cfg config.Config, svc *chat.Service, userRepo *users.Repo, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Cfg: cfg, ChatSvc: svc, Users: userRepo, Log: log}
}
