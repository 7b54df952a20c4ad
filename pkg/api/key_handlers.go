package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tally/pkg/contextkeys"
	"github.com/platinummonkey/tally/pkg/httputil"
	"github.com/platinummonkey/tally/pkg/middleware"
)

// KeyHandlers lists and revokes the caller's API keys across apps
type KeyHandlers struct {
	keys   KeyManager
	guards Guards
}

// NewKeyHandlers creates a new key handlers instance
func NewKeyHandlers(keys KeyManager, guards Guards) *KeyHandlers {
	return &KeyHandlers{keys: keys, guards: guards}
}

// RegisterRoutes registers key routes
func (h *KeyHandlers) RegisterRoutes(r *mux.Router) {
	r.Handle("/auth/api-keys", h.guards.User(middleware.TierDefault, h.listKeys)).Methods("GET")
	r.Handle("/auth/api-keys/{id}/revoke", h.guards.User(middleware.TierDefault, h.revokeKey)).Methods("POST")
}

func (h *KeyHandlers) listKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListForUser(r.Context(), contextkeys.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, "API keys retrieved successfully", keys)
}

// revokeKey handles POST /auth/api-keys/{id}/revoke
func (h *KeyHandlers) revokeKey(w http.ResponseWriter, r *http.Request) {
	keyID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.keys.Revoke(r.Context(), keyID, contextkeys.GetUserID(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, "API key revoked successfully", nil)
}
