package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/typosquad/typerace/internal/models"
	"github.com/typosquad/typerace/internal/users"
)

// IdentityResolver maps a connection credential to a verified identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*models.Identity, error)
}

// WebSocketHandler upgrades authenticated clients into managed connections.
type WebSocketHandler struct {
	manager  *ConnectionManager
	adapter  *Adapter
	resolver IdentityResolver
}

// NewWebSocketHandler creates the upgrade handler.
func NewWebSocketHandler(manager *ConnectionManager, adapter *Adapter, resolver IdentityResolver) *WebSocketHandler {
	return &WebSocketHandler{
		manager:  manager,
		adapter:  adapter,
		resolver: resolver,
	}
}

// HandleGameConnection authenticates the request and upgrades it. The
// credential travels as a query parameter because browsers cannot set
// headers on WebSocket upgrades.
func (h *WebSocketHandler) HandleGameConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	identity, err := h.resolver.Resolve(r.Context(), token)
	if err != nil {
		if errors.Is(err, users.ErrInvalidToken) {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		log.Error().Err(err).Msg("failed to resolve identity")
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	if _, err := h.manager.Upgrade(w, r, identity.UserID, identity.Nickname, h.adapter.Dispatch); err != nil {
		log.Error().Err(err).Str("user_id", identity.UserID.String()).Msg("failed to upgrade connection")
		return
	}
}

// HandleStats reports connection counts.
func (h *WebSocketHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	total, rooms := h.manager.Stats()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"total_connections":%d,"active_rooms":%d}`, total, rooms)
}

// RegisterRoutes registers the gateway's HTTP routes.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleGameConnection)
	mux.HandleFunc("/stats", h.HandleStats)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}
