package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ragline/raglined/internal/extract"
	"github.com/ragline/raglined/internal/ingest"
	"github.com/ragline/raglined/internal/storage"
)

type registerDocumentRequest struct {
	FileName   string `json:"fileName"`
	MediaType  string `json:"mediaType"`
	FileSize   int64  `json:"fileSize"`
	StorageURL string `json:"storageUrl"`
}

type documentResponse struct {
	ID           string    `json:"id"`
	BotID        string    `json:"botId"`
	FileName     string    `json:"fileName"`
	MediaType    string    `json:"mediaType"`
	FileSize     int64     `json:"fileSize"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	ChunkCount   int       `json:"chunkCount"`
	ProcessedAt  time.Time `json:"processedAt,omitzero"`
	CreatedAt    time.Time `json:"createdAt"`
}

func toDocumentResponse(d storage.Document) documentResponse {
	return documentResponse{
		ID:           d.ID,
		BotID:        d.BotID,
		FileName:     d.FileName,
		MediaType:    d.MediaType,
		FileSize:     d.FileSize,
		Status:       d.Status,
		ErrorMessage: d.ErrorMessage,
		ChunkCount:   d.ChunkCount,
		ProcessedAt:  d.ProcessedAt,
		CreatedAt:    d.CreatedAt,
	}
}

// handleRegisterDocument records an uploaded file and enqueues its
// ingestion job in a single transaction, so a confirmed upload always
// has exactly one pending job.
func handleRegisterDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		botID := chi.URLParam(r, "botID")
		if _, err := deps.Store.GetBot(botID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "bot not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "loading bot: %v", err)
			return
		}

		var req registerDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.FileName == "" || req.StorageURL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "fileName and storageUrl are required")
			return
		}
		if !extract.Supported(req.MediaType) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported media type %q", req.MediaType)
			return
		}

		doc := storage.Document{
			ID:         uuid.New().String(),
			BotID:      botID,
			FileName:   req.FileName,
			MediaType:  req.MediaType,
			FileSize:   req.FileSize,
			StorageURL: req.StorageURL,
			Status:     storage.StatusUploaded,
		}
		job, err := ingest.NewJob(doc.ID, deps.MaxAttempts)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "building ingestion job: %v", err)
			return
		}
		if err := deps.Store.RegisterUpload(doc, job); err != nil {
			if errors.Is(err, storage.ErrDuplicateStorageURL) {
				httpError(w, http.StatusConflict, "conflict_error", "a document is already registered for storage url %q", req.StorageURL)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "registering upload: %v", err)
			return
		}

		created, err := deps.Store.GetDocument(doc.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading created document: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, toDocumentResponse(created))
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Store.ListDocumentsByBot(chi.URLParam(r, "botID"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing documents: %v", err)
			return
		}
		out := make([]documentResponse, len(docs))
		for i, d := range docs {
			out[i] = toDocumentResponse(d)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Store.GetDocument(chi.URLParam(r, "documentID"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading document: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toDocumentResponse(doc))
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Store.GetDocument(chi.URLParam(r, "documentID"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading document: %v", err)
			return
		}

		// Chunks go with the document row via the cascade.
		if err := deps.Store.DeleteDocument(doc.ID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting document: %v", err)
			return
		}
		deleteBlobBestEffort(r.Context(), deps, doc.StorageURL)
		w.WriteHeader(http.StatusNoContent)
	}
}

func deleteBlobBestEffort(ctx context.Context, deps Deps, storageURL string) {
	if deps.Blobs == nil || storageURL == "" {
		return
	}
	if err := deps.Blobs.Delete(ctx, storageURL); err != nil {
		slog.Warn("deleting stored blob", "url", storageURL, "error", err)
	}
}
