// apps/sync-server/internal/handler/websocket.go
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/auth"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/config"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/logger"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/service"
)

// ClientRegistrar attaches an upgraded connection to the hub
type ClientRegistrar interface {
	RegisterClient(conn *websocket.Conn, clientID string, gen uint64) error
}

// WebSocketHandler performs the participant handshake:
// GET <path>?clientId=&role=&token=
type WebSocketHandler struct {
	service  *service.Service
	hub      ClientRegistrar
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cfg *config.Config, svc *service.Service, hub ClientRegistrar, log *slog.Logger) *WebSocketHandler {
	allowed := cfg.HTTP.AllowedOrigins
	upgrader := websocket.Upgrader{
		ReadBufferSize:   cfg.WebSocket.BufferSize,
		WriteBufferSize:  cfg.WebSocket.BufferSize,
		HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}

			for _, a := range allowed {
				if a == "*" || a == origin {
					return true
				}
			}

			return false
		},
	}

	return &WebSocketHandler{
		service:  svc,
		hub:      hub,
		upgrader: upgrader,
		log:      logger.OrDiscard(log).With("component", "websocket"),
	}
}

// ServeHTTP admits the client, upgrades the connection and sends the
// welcome sequence.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	requested := model.RoleObserver
	if raw := query.Get("role"); raw != "" {
		role, err := model.ParseRole(raw)
		if err != nil {
			respondWithError(w, model.ErrInvalidRequest.WithDetails(err.Error()))
			return
		}
		requested = role
	}

	ra, err := h.service.Admit(query.Get("clientId"), requested, auth.ExtractToken(r))
	if err != nil {
		h.log.Warn("handshake rejected", "client_id", query.Get("clientId"), "role", requested, "error", err)
		respondWithError(w, handshakeError(err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.log.Warn("failed to upgrade connection", "client_id", ra.ClientID, "error", err)
		h.service.HandleDisconnect(ra.ClientID, ra.Generation, true)
		return
	}

	if err := h.hub.RegisterClient(conn, ra.ClientID, ra.Generation); err != nil {
		h.log.Error("failed to register client", "client_id", ra.ClientID, "error", err)
		conn.Close()
		h.service.HandleDisconnect(ra.ClientID, ra.Generation, true)
		return
	}

	h.log.Info("client connected", "client_id", ra.ClientID, "role", ra.Role, "requested_role", ra.RequestedRole)
	h.service.Welcome(ra)
}

func handshakeError(err error) model.APIError {
	switch {
	case errors.Is(err, auth.ErrTokenRequired), errors.Is(err, auth.ErrTokenExpired), errors.Is(err, auth.ErrInvalidToken):
		return model.ErrUnauthorized.WithDetails(err.Error())
	case errors.Is(err, model.ErrInvalidRole), errors.Is(err, service.ErrInvalidClientID):
		return model.ErrInvalidRequest.WithDetails(err.Error())
	default:
		return model.ErrInternalServer
	}
}
