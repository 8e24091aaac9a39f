package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/medguard/internal/apperr"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the error taxonomy. Unclassified errors are
// logged and reported as a generic 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	status := apperr.Status(err)
	if status >= 500 {
		logger.Error(msg, "error", err)
	}
	writeJSON(w, status, map[string]string{
		"error": apperr.Message(err),
		"code":  apperr.Code(err),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("invalid JSON")
	}
	return nil
}
