package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tally/pkg/apps"
	"github.com/platinummonkey/tally/pkg/contextkeys"
	"github.com/platinummonkey/tally/pkg/httputil"
	"github.com/platinummonkey/tally/pkg/middleware"
)

// AppHandlers provides app registration and management endpoints.
// Every route is scoped to the bearer token's user.
type AppHandlers struct {
	apps   AppManager
	guards Guards
}

// NewAppHandlers creates a new app handlers instance
func NewAppHandlers(apps AppManager, guards Guards) *AppHandlers {
	return &AppHandlers{apps: apps, guards: guards}
}

// RegisterRoutes registers app routes
func (h *AppHandlers) RegisterRoutes(r *mux.Router) {
	user := func(fn http.HandlerFunc) http.Handler { return h.guards.User(middleware.TierDefault, fn) }

	r.Handle("/auth/register", user(h.register)).Methods("POST")
	r.Handle("/auth/apps", user(h.listApps)).Methods("GET")
	r.Handle("/auth/apps/{appId}", user(h.getApp)).Methods("GET")
	r.Handle("/auth/apps/{appId}", user(h.updateApp)).Methods("PATCH")
	r.Handle("/auth/apps/{appId}", user(h.deactivateApp)).Methods("DELETE")

	r.Handle("/auth/{appId}/api-key", user(h.getAPIKey)).Methods("GET")
	r.Handle("/auth/{appId}/revoke-key", user(h.revokeKey)).Methods("POST")
	r.Handle("/auth/{appId}/regenerate-key", user(h.regenerateKey)).Methods("POST")
}

// register handles POST /auth/register
func (h *AppHandlers) register(w http.ResponseWriter, r *http.Request) {
	req, err := apps.DecodeCreateApp(r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	reg, err := h.apps.Register(r.Context(), contextkeys.GetUserID(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteCreated(w, "App registered successfully", reg)
}

func (h *AppHandlers) listApps(w http.ResponseWriter, r *http.Request) {
	list, err := h.apps.List(r.Context(), contextkeys.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, "Apps retrieved successfully", list)
}

func (h *AppHandlers) getApp(w http.ResponseWriter, r *http.Request) {
	appID, ok := httputil.ParsePathStringOrError(w, r, "appId")
	if !ok {
		return
	}

	app, err := h.apps.Get(r.Context(), appID, contextkeys.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, "App retrieved successfully", app)
}

// updateApp handles PATCH /auth/apps/{appId}; absent fields are left unchanged
func (h *AppHandlers) updateApp(w http.ResponseWriter, r *http.Request) {
	appID, ok := httputil.ParsePathStringOrError(w, r, "appId")
	if !ok {
		return
	}
	if err := apps.ValidateAppID(appID); err != nil {
		writeError(w, r, err)
		return
	}

	req, err := apps.DecodeUpdateApp(r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	app, err := h.apps.Update(r.Context(), appID, contextkeys.GetUserID(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, "App updated successfully", app)
}

// deactivateApp handles DELETE /auth/apps/{appId}. The app's key is revoked with it.
func (h *AppHandlers) deactivateApp(w http.ResponseWriter, r *http.Request) {
	appID, ok := httputil.ParsePathStringOrError(w, r, "appId")
	if !ok {
		return
	}

	if err := h.apps.Deactivate(r.Context(), appID, contextkeys.GetUserID(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, "App deactivated successfully", nil)
}

func (h *AppHandlers) getAPIKey(w http.ResponseWriter, r *http.Request) {
	appID, ok := httputil.ParsePathStringOrError(w, r, "appId")
	if !ok {
		return
	}

	key, err := h.apps.APIKey(r.Context(), appID, contextkeys.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, "API key retrieved successfully", key)
}

func (h *AppHandlers) revokeKey(w http.ResponseWriter, r *http.Request) {
	appID, ok := httputil.ParsePathStringOrError(w, r, "appId")
	if !ok {
		return
	}

	key, err := h.apps.RevokeKey(r.Context(), appID, contextkeys.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, "API key revoked successfully", key)
}

// regenerateKey handles POST /auth/{appId}/regenerate-key. The new secret is
// only ever returned here.
func (h *AppHandlers) regenerateKey(w http.ResponseWriter, r *http.Request) {
	appID, ok := httputil.ParsePathStringOrError(w, r, "appId")
	if !ok {
		return
	}

	issued, err := h.apps.RegenerateKey(r.Context(), appID, contextkeys.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, "API key regenerated successfully", issued)
}
