package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/botsmith/internal/ingest"
	"github.com/kalambet/botsmith/internal/objstore"
	"github.com/kalambet/botsmith/internal/storage"
)

type trainingDataRequest struct {
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	FileType string `json:"fileType"`
}

func handleListTrainingData(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Store.ListTrainingDataByBot(chi.URLParam(r, "id"))
		if err != nil {
			slog.Error("listing training data", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to fetch training data")
			return
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func handleGetTrainingData(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		td, err := deps.Store.GetTrainingData(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "Training data not found")
			return
		}
		if err != nil {
			slog.Error("fetching training data", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to fetch training data")
			return
		}
		writeJSON(w, http.StatusOK, td)
	}
}

// handleCreateTrainingData registers an uploaded file and queues it for
// extraction. The response does not wait for processing.
func handleCreateTrainingData(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req trainingDataRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.FileURL == "" || req.FileName == "" {
			httpError(w, http.StatusBadRequest, "fileUrl and fileName are required")
			return
		}
		botID := chi.URLParam(r, "id")
		if !botExists(deps, w, botID) {
			return
		}

		td, err := deps.Store.CreateTrainingData(storage.TrainingDataInput{
			BotID:    botID,
			FileName: req.FileName,
			FileURL:  deps.Objects.NormalizePath(req.FileURL),
			FileSize: req.FileSize,
			FileType: req.FileType,
		})
		if err != nil {
			slog.Error("creating training data", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to create training data")
			return
		}

		job := ingest.Job{TrainingDataID: td.ID, FileRef: td.FileURL, FileName: td.FileName}
		if err := deps.Ingester.Ingest(job); err != nil {
			slog.Warn("could not queue training data for processing", "training_data_id", td.ID, "error", err)
			if failed, ferr := deps.Store.FailTrainingData(td.ID, err.Error()); ferr == nil {
				td = failed
			}
		}
		writeJSON(w, http.StatusCreated, td)
	}
}

func handleDeleteTrainingData(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		deps.Ingester.Cancel(id)
		deleted, err := deps.Store.DeleteTrainingData(id)
		if err != nil {
			slog.Error("deleting training data", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to delete training data")
			return
		}
		if !deleted {
			httpError(w, http.StatusNotFound, "Training data not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleReprocessTrainingData(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		td, err := deps.Ingester.Reprocess(chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "Training data not found")
		case errors.Is(err, ingest.ErrQueueFull), errors.Is(err, ingest.ErrClosed):
			httpError(w, http.StatusServiceUnavailable, "Processing queue is unavailable, try again later")
		case err != nil:
			slog.Error("reprocessing training data", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to reprocess training data")
		default:
			writeJSON(w, http.StatusAccepted, td)
		}
	}
}

func handleUploadURL(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url, err := deps.Objects.UploadURL(r.Context())
		if err != nil {
			slog.Error("getting upload url", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to get upload URL")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"uploadURL": url})
	}
}

func handlePutUpload(recv UploadReceiver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		n, err := recv.Put(id, r.Body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				httpError(w, http.StatusRequestEntityTooLarge, "File is too large")
				return
			}
			slog.Warn("storing upload", "id", id, "error", err)
			httpError(w, http.StatusBadRequest, "Failed to store upload")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"objectPath": objstore.ObjectsPrefix + "uploads/" + id,
			"size":       n,
		})
	}
}
