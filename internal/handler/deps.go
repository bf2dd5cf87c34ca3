package handler

import (
	"chathub/internal/app/hub"
	"chathub/internal/configs"
)

// AppDeps carries what the HTTP layer needs from the running process.
type AppDeps struct {
	Hub    *hub.Hub
	Config *configs.AppConfig
}
