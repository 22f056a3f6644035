// Package api exposes the HTTP surface: bot and document management, the
// streamed chat endpoint, completion events, and the MCP tool server.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ragline/raglined/internal/answer"
	"github.com/ragline/raglined/internal/notify"
	"github.com/ragline/raglined/internal/retrieval"
	"github.com/ragline/raglined/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// BlobDeleter asks the blob store to drop a document's stored bytes.
type BlobDeleter interface {
	Delete(ctx context.Context, url string) error
}

// Deps bundles the collaborators the HTTP handlers need.
type Deps struct {
	Store    *storage.Store
	Chunks   *retrieval.ChunkStore
	Answerer *answer.Service
	Hub      *notify.Hub
	Blobs    BlobDeleter // optional; if nil, stored bytes are left behind on delete
	Token    string
	// MaxAttempts for enqueued ingestion jobs; 0 uses the queue default.
	MaxAttempts int
}

// NewHandler returns the service's HTTP handler.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/bots", handleCreateBot(deps))
		r.Get("/v1/bots", handleListBots(deps))
		r.Get("/v1/bots/{botID}", handleGetBot(deps))
		r.Delete("/v1/bots/{botID}", handleDeleteBot(deps))

		r.Put("/v1/tenants/{tenantID}/settings", handlePutTenantSettings(deps))
		r.Get("/v1/tenants/{tenantID}/settings", handleGetTenantSettings(deps))

		r.Post("/v1/bots/{botID}/documents", handleRegisterDocument(deps))
		r.Get("/v1/bots/{botID}/documents", handleListDocuments(deps))
		r.Get("/v1/documents/{documentID}", handleGetDocument(deps))
		r.Delete("/v1/documents/{documentID}", handleDeleteDocument(deps))

		r.Post("/v1/bots/{botID}/chat", handleChat(deps))
		r.Get("/v1/events", handleEvents(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// BearerAuth rejects requests without the expected bearer token.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
