package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ragline/raglined/internal/answer"
	"github.com/ragline/raglined/internal/ollama"
)

type chatRequest struct {
	Messages []ollama.Message `json:"messages"`
}

// handleChat streams the generated answer as plain text. Errors raised
// before the first token map to status codes; once bytes have been
// written the stream is truncated and the error only logged.
func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		botID := chi.URLParam(r, "botID")
		flusher, _ := w.(http.Flusher)

		started := false
		err := deps.Answerer.Answer(r.Context(), botID, req.Messages, func(delta string) error {
			if !started {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.Header().Set("Cache-Control", "no-cache")
				w.WriteHeader(http.StatusOK)
				started = true
			}
			if _, werr := w.Write([]byte(delta)); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
			return nil
		})
		if err == nil {
			if !started {
				// Model produced no tokens; still a successful, empty answer.
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusOK)
			}
			return
		}

		if started {
			slog.Error("chat stream aborted", "bot", botID, "error", err)
			return
		}

		switch {
		case errors.Is(err, answer.ErrBotNotFound):
			httpError(w, http.StatusNotFound, "not_found_error", "bot not found")
		case errors.Is(err, answer.ErrCredentialsMissing):
			httpError(w, http.StatusPreconditionFailed, "precondition_failed", "generation credentials not configured for this tenant")
		case errors.Is(err, answer.ErrNoQuestion):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "last message must be a user question")
		default:
			httpError(w, http.StatusInternalServerError, "api_error", "answering: %v", err)
		}
	}
}
