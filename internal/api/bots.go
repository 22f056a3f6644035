package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ragline/raglined/internal/storage"
)

type createBotRequest struct {
	TenantID    string             `json:"tenantId"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	RAGConfig   *storage.RAGConfig `json:"ragConfig"`
}

type botResponse struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenantId"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	RAGConfig   storage.RAGConfig `json:"ragConfig"`
	CreatedAt   time.Time         `json:"createdAt"`
}

func toBotResponse(b storage.Bot) botResponse {
	return botResponse{
		ID:          b.ID,
		TenantID:    b.TenantID,
		Name:        b.Name,
		Description: b.Description,
		RAGConfig:   b.RAGConfig,
		CreatedAt:   b.CreatedAt,
	}
}

func handleCreateBot(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createBotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.TenantID == "" || req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "tenantId and name are required")
			return
		}

		cfg := storage.DefaultRAGConfig()
		if req.RAGConfig != nil {
			cfg = *req.RAGConfig
		}
		if err := cfg.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid ragConfig: %v", err)
			return
		}

		bot := storage.Bot{
			ID:          uuid.New().String(),
			TenantID:    req.TenantID,
			Name:        req.Name,
			Description: req.Description,
			RAGConfig:   cfg,
		}
		if err := deps.Store.CreateBot(bot); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "creating bot: %v", err)
			return
		}

		created, err := deps.Store.GetBot(bot.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading created bot: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, toBotResponse(created))
	}
}

func handleListBots(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.URL.Query().Get("tenantId")
		if tenantID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "tenantId query parameter is required")
			return
		}

		bots, err := deps.Store.ListBotsByTenant(tenantID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing bots: %v", err)
			return
		}

		out := make([]botResponse, len(bots))
		for i, b := range bots {
			out[i] = toBotResponse(b)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetBot(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bot, err := deps.Store.GetBot(chi.URLParam(r, "botID"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "bot not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading bot: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toBotResponse(bot))
	}
}

func handleDeleteBot(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		botID := chi.URLParam(r, "botID")

		// Collect storage URLs before the cascade removes the rows.
		docs, err := deps.Store.ListDocumentsByBot(botID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing documents: %v", err)
			return
		}

		if err := deps.Store.DeleteBot(botID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "bot not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "deleting bot: %v", err)
			return
		}

		for _, d := range docs {
			deleteBlobBestEffort(r.Context(), deps, d.StorageURL)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type tenantSettingsRequest struct {
	GenerationAPIKey string `json:"generationApiKey"`
}

func handlePutTenantSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req tenantSettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		ts := storage.TenantSettings{
			TenantID:         chi.URLParam(r, "tenantID"),
			GenerationAPIKey: req.GenerationAPIKey,
		}
		if err := deps.Store.SetTenantSettings(ts); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving settings: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetTenantSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ts, err := deps.Store.GetTenantSettings(chi.URLParam(r, "tenantID"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "tenant settings not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading settings: %v", err)
			return
		}
		// The key itself is never echoed back.
		writeJSON(w, http.StatusOK, map[string]any{
			"tenantId":      ts.TenantID,
			"keyConfigured": ts.GenerationAPIKey != "",
			"updatedAt":     ts.UpdatedAt,
		})
	}
}
