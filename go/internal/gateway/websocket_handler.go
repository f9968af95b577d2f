package gateway

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for document streams
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	collections       collectionSet
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, collections collectionSet) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		collections:       collections,
	}
}

// HandleDocStream streams ?collection=&id= to the client, current snapshot first
func (h *WebSocketHandler) HandleDocStream(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	id := r.URL.Query().Get("id")
	if collection == "" || id == "" {
		badRequest(w, "collection and id are required")
		return
	}
	if !h.collections.allowed(collection) {
		writeCollectionNotFound(w, collection)
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, collection, id); err != nil {
		// the upgrader has already replied
		log.Error().
			Err(err).
			Str("collection", collection).
			Str("id", id).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}
