package handler

import (
	"net/http"
	"strings"

	"chathub/internal/app/hub"
	"chathub/internal/pkg/errs"
	"chathub/internal/pkg/resp"
)

// maxSearchTermRunes bounds the q parameter of the search endpoint.
const maxSearchTermRunes = 64

// UsersResponse is the data of the directory endpoints.
type UsersResponse struct {
	Users []hub.UserInfo `json:"users"`
	Total int            `json:"total"`
}

// HandleGetAllUsers returns every joined connection in join order.
func HandleGetAllUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users := deps.Hub.GetAllUsers()
		resp.RespondSuccess(w, r, UsersResponse{Users: users, Total: len(users)})
	}
}

// HandleSearchUsers returns users whose name contains q, ignoring case.
func HandleSearchUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		term := strings.TrimSpace(r.URL.Query().Get("q"))
		if len([]rune(term)) > maxSearchTermRunes {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		users := deps.Hub.SearchUsers(term)
		resp.RespondSuccess(w, r, UsersResponse{Users: users, Total: len(users)})
	}
}

// HealthResponse is the data of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Instance    string `json:"instance"`
	Connections int    `json:"connections"`
	Users       int    `json:"users"`
	Rooms       int    `json:"rooms"`
}

// HandleHealth reports liveness and the local presence counters.
func HandleHealth(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		registry := deps.Hub.Registry()
		resp.RespondSuccess(w, r, HealthResponse{
			Status:      "ok",
			Service:     "Chat Hub",
			Instance:    deps.Config.InstanceID,
			Connections: deps.Hub.Connections(),
			Users:       registry.Len(),
			Rooms:       registry.RoomCount(),
		})
	}
}
