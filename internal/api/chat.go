package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/botsmith/internal/chat"
	"github.com/kalambet/botsmith/internal/storage"
)

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// readMessage decodes a chat request body, writing a 400 when the message
// is absent.
func readMessage(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "Invalid request body")
		return "", false
	}
	if strings.TrimSpace(req.Message) == "" {
		httpError(w, http.StatusBadRequest, "Message is required")
		return "", false
	}
	return req.Message, true
}

// handleChat answers one stateless message. Provider failures never reach
// the caller; the responder substitutes a fixed reply.
func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, ok := readMessage(w, r)
		if !ok {
			return
		}
		reply, err := deps.Responder.Respond(r.Context(), chi.URLParam(r, "id"), msg)
		if errors.Is(err, chat.ErrBotNotFound) {
			httpError(w, http.StatusNotFound, "Bot not found")
			return
		}
		if err != nil {
			slog.Error("chat", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to process chat message")
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Response: reply})
	}
}

func handleListConversations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := deps.Store.ListConversationsByBot(chi.URLParam(r, "id"))
		if err != nil {
			slog.Error("listing conversations", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to fetch conversations")
			return
		}
		writeJSON(w, http.StatusOK, convs)
	}
}

func handleCreateConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		botID := chi.URLParam(r, "id")
		if !botExists(deps, w, botID) {
			return
		}
		conv, err := deps.Store.CreateConversation(botID, nil)
		if err != nil {
			slog.Error("creating conversation", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to create conversation")
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	}
}

func handleGetConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := deps.Store.GetConversation(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		if err != nil {
			slog.Error("fetching conversation", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to fetch conversation")
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

func handleDeleteConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deleted, err := deps.Store.DeleteConversation(chi.URLParam(r, "id"))
		if err != nil {
			slog.Error("deleting conversation", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to delete conversation")
			return
		}
		if !deleted {
			httpError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleConversationMessage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, ok := readMessage(w, r)
		if !ok {
			return
		}
		reply, err := deps.Responder.Converse(r.Context(), chi.URLParam(r, "id"), msg)
		switch {
		case errors.Is(err, chat.ErrConversationNotFound):
			httpError(w, http.StatusNotFound, "Conversation not found")
		case errors.Is(err, chat.ErrBotNotFound):
			httpError(w, http.StatusNotFound, "Bot not found")
		case errors.Is(err, chat.ErrConversationEnded):
			httpError(w, http.StatusConflict, "Conversation has ended")
		case err != nil:
			slog.Error("conversation message", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to process chat message")
		default:
			writeJSON(w, http.StatusOK, chatResponse{Response: reply})
		}
	}
}

func handleEndConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := deps.Store.EndConversation(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		if err != nil {
			slog.Error("ending conversation", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to end conversation")
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}
