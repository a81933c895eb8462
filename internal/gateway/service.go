package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Service bundles the connection manager, dispatch adapter and HTTP handler
// into one startable unit.
type Service struct {
	manager *ConnectionManager
	adapter *Adapter
	handler *WebSocketHandler
}

// NewService wires the gateway around an existing connection manager. The
// manager is created by the caller first because the coordinator uses it as
// its event sink.
func NewService(manager *ConnectionManager, coord GameCoordinator, roomProvider RoomProvider, resolver IdentityResolver) *Service {
	adapter := NewAdapter(manager, coord, roomProvider)
	handler := NewWebSocketHandler(manager, adapter, resolver)
	return &Service{
		manager: manager,
		adapter: adapter,
		handler: handler,
	}
}

// Manager exposes the connection manager; it doubles as the coordinator's
// event sink for timer-driven emissions.
func (s *Service) Manager() *ConnectionManager {
	return s.manager
}

// Start runs the broadcast loop until ctx is done.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting game gateway")
	s.manager.Start(ctx)
}

// RegisterRoutes registers the gateway HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.handler.RegisterRoutes(mux)
	log.Info().Msg("game gateway routes registered")
}
