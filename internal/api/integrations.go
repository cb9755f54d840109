package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/botsmith/internal/storage"
)

// integrationRequest carries an integration card. Config is stored as given;
// platforms are not validated.
type integrationRequest struct {
	Platform *string        `json:"platform"`
	Config   map[string]any `json:"config"`
	Enabled  *bool          `json:"enabled"`
}

func handleListIntegrations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Store.ListIntegrationsByBot(chi.URLParam(r, "id"))
		if err != nil {
			slog.Error("listing integrations", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to fetch integrations")
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleCreateIntegration(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req integrationRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Platform == nil || strings.TrimSpace(*req.Platform) == "" {
			httpError(w, http.StatusBadRequest, "platform is required")
			return
		}
		botID := chi.URLParam(r, "id")
		if !botExists(deps, w, botID) {
			return
		}

		in := storage.IntegrationInput{BotID: botID, Platform: *req.Platform, Config: req.Config}
		if req.Enabled != nil {
			in.Enabled = *req.Enabled
		}
		integ, err := deps.Store.CreateIntegration(in)
		if err != nil {
			slog.Error("creating integration", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to create integration")
			return
		}
		writeJSON(w, http.StatusCreated, integ)
	}
}

func handleUpdateIntegration(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req integrationRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Platform != nil && strings.TrimSpace(*req.Platform) == "" {
			httpError(w, http.StatusBadRequest, "platform must not be empty")
			return
		}

		integ, err := deps.Store.UpdateIntegration(chi.URLParam(r, "id"), storage.IntegrationPatch{
			Platform: req.Platform,
			Config:   req.Config,
			Enabled:  req.Enabled,
		})
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "Integration not found")
			return
		}
		if err != nil {
			slog.Error("updating integration", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to update integration")
			return
		}
		writeJSON(w, http.StatusOK, integ)
	}
}

func handleDeleteIntegration(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deleted, err := deps.Store.DeleteIntegration(chi.URLParam(r, "id"))
		if err != nil {
			slog.Error("deleting integration", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to delete integration")
			return
		}
		if !deleted {
			httpError(w, http.StatusNotFound, "Integration not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
