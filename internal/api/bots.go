package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/botsmith/internal/storage"
)

type botRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

// botUpdateRequest keeps description raw so an explicit null can clear it.
type botUpdateRequest struct {
	Name        *string         `json:"name"`
	Description json.RawMessage `json:"description"`
	Status      *string         `json:"status"`
}

func handleListBots(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bots, err := deps.Store.ListBotsByOwner(storage.DefaultUserID)
		if err != nil {
			slog.Error("listing bots", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to fetch bots")
			return
		}
		writeJSON(w, http.StatusOK, bots)
	}
}

func handleGetBot(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bot, err := deps.Store.GetBot(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "Bot not found")
			return
		}
		if err != nil {
			slog.Error("fetching bot", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to fetch bot")
			return
		}
		writeJSON(w, http.StatusOK, bot)
	}
}

func handleCreateBot(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req botRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
			httpError(w, http.StatusBadRequest, "name is required")
			return
		}
		var status storage.BotStatus
		if req.Status != nil {
			s, err := storage.ParseBotStatus(*req.Status)
			if err != nil {
				httpError(w, http.StatusBadRequest, "Invalid status %q", *req.Status)
				return
			}
			status = s
		}

		bot, err := deps.Store.CreateBot(storage.BotInput{
			Name:        *req.Name,
			Description: req.Description,
			Status:      status,
			OwnerID:     storage.DefaultUserID,
		})
		if err != nil {
			slog.Error("creating bot", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to create bot")
			return
		}
		writeJSON(w, http.StatusCreated, bot)
	}
}

func handleUpdateBot(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req botUpdateRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
			httpError(w, http.StatusBadRequest, "name must not be empty")
			return
		}
		patch := storage.BotPatch{Name: req.Name}
		switch {
		case len(req.Description) == 0:
		case string(req.Description) == "null":
			patch.ClearDescription = true
		default:
			var d string
			if err := json.Unmarshal(req.Description, &d); err != nil {
				httpError(w, http.StatusBadRequest, "description must be a string or null")
				return
			}
			patch.Description = &d
		}
		if req.Status != nil {
			s, err := storage.ParseBotStatus(*req.Status)
			if err != nil || *req.Status == "" {
				httpError(w, http.StatusBadRequest, "Invalid status %q", *req.Status)
				return
			}
			patch.Status = &s
		}

		bot, err := deps.Store.UpdateBot(chi.URLParam(r, "id"), patch)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "Bot not found")
			return
		}
		if err != nil {
			slog.Error("updating bot", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to update bot")
			return
		}
		writeJSON(w, http.StatusOK, bot)
	}
}

func handleDeleteBot(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deleted, err := deps.Store.DeleteBot(chi.URLParam(r, "id"))
		if err != nil {
			slog.Error("deleting bot", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to delete bot")
			return
		}
		if !deleted {
			httpError(w, http.StatusNotFound, "Bot not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// botExists reports whether id names a bot, writing the error response
// itself when it does not.
func botExists(deps AppDeps, w http.ResponseWriter, id string) bool {
	_, err := deps.Store.GetBot(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "Bot not found")
		return false
	}
	if err != nil {
		slog.Error("fetching bot", "error", err)
		httpError(w, http.StatusInternalServerError, "Failed to fetch bot")
		return false
	}
	return true
}
