// Package api exposes the bot builder over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/botsmith/internal/ingest"
	"github.com/kalambet/botsmith/internal/metrics"
	"github.com/kalambet/botsmith/internal/objstore"
	"github.com/kalambet/botsmith/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxUploadSize = 50 << 20    // 50MB

// Ingester schedules background text extraction for training data.
type Ingester interface {
	Ingest(job ingest.Job) error
	Reprocess(id string) (storage.TrainingData, error)
	Cancel(trainingDataID string) bool
}

// Responder answers chat messages for a bot.
type Responder interface {
	Respond(ctx context.Context, botID, message string) (string, error)
	Converse(ctx context.Context, conversationID, message string) (string, error)
	MeanLatency() time.Duration
}

// UploadReceiver accepts file bodies for upload URLs served by this API.
// Object stores that implement it get PUT /api/objects/uploads/{id}.
type UploadReceiver interface {
	Put(id string, r io.Reader) (int64, error)
}

type AppDeps struct {
	Store     storage.Repository
	Objects   objstore.Store
	Ingester  Ingester
	Responder Responder
	Metrics   *metrics.Metrics // optional; if nil, /metrics is not served
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)
	if deps.Metrics != nil {
		r.Use(instrument(deps.Metrics))
	}
	r.Use(recoverer)

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Get("/health", handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/bots", handleListBots(deps))
		r.Post("/bots", handleCreateBot(deps))
		r.Get("/bots/{id}", handleGetBot(deps))
		r.Put("/bots/{id}", handleUpdateBot(deps))
		r.Delete("/bots/{id}", handleDeleteBot(deps))

		r.Get("/bots/{id}/training-data", handleListTrainingData(deps))
		r.Post("/bots/{id}/training-data", handleCreateTrainingData(deps))
		r.Get("/training-data/{id}", handleGetTrainingData(deps))
		r.Delete("/training-data/{id}", handleDeleteTrainingData(deps))
		r.Post("/training-data/{id}/reprocess", handleReprocessTrainingData(deps))

		r.Post("/objects/upload", handleUploadURL(deps))
		if recv, ok := deps.Objects.(UploadReceiver); ok {
			r.Put("/objects/uploads/{id}", handlePutUpload(recv))
		}

		r.Get("/bots/{id}/integrations", handleListIntegrations(deps))
		r.Post("/bots/{id}/integrations", handleCreateIntegration(deps))
		r.Put("/integrations/{id}", handleUpdateIntegration(deps))
		r.Delete("/integrations/{id}", handleDeleteIntegration(deps))

		r.Post("/bots/{id}/chat", handleChat(deps))

		r.Get("/bots/{id}/conversations", handleListConversations(deps))
		r.Post("/bots/{id}/conversations", handleCreateConversation(deps))
		r.Get("/conversations/{id}", handleGetConversation(deps))
		r.Delete("/conversations/{id}", handleDeleteConversation(deps))
		r.Post("/conversations/{id}/messages", handleConversationMessage(deps))
		r.Post("/conversations/{id}/end", handleEndConversation(deps))

		r.Get("/dashboard/stats", handleDashboardStats(deps))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// decodeBody reads a JSON request body of at most maxRequestBodySize bytes.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
