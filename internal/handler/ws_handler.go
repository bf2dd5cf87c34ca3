/*
Package handler provides the HTTP handlers and routing setup for the chat hub.

This file upgrades /ws requests to websocket connections, assigns each one a
fresh connection id and hands it to the hub for its whole lifetime.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"chathub/internal/app/hub"
	"chathub/internal/pkg/errs"
	"chathub/internal/pkg/logx"
	"chathub/internal/pkg/randx"
	"chathub/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc that upgrades the request and
// runs the client until the socket closes. Identity is established later by
// the JOIN_CHAT invocation, not by the handshake.
func HandleWebSocket(upgrader websocket.Upgrader, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		connectionID := randx.ConnectionID()
		client := hub.NewClient(deps.Hub, conn, connectionID)

		if cerr := deps.Hub.Attach(client); cerr != nil {
			logx.Warn("WebSocket connection refused by hub.", "connection_id", connectionID, "code", cerr.Code)
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, cerr.Message))
			_ = conn.Close()
			return
		}

		logx.Info("WebSocket connection established", "connection_id", connectionID)

		client.Run()
	}
}
