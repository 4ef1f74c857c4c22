package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Daiius/libobjcryst-sub000/internal/config"
)

// maxConfigBytes bounds the size of a job request body
const maxConfigBytes = 1 << 20

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError sends {"error": msg}
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeConfig reads a JSON run configuration over the defaults and validates it.
// An empty body runs the default configuration.
func decodeConfig(r io.Reader) (*config.RunConfig, error) {
	cfg := config.Default()
	dec := json.NewDecoder(io.LimitReader(r, maxConfigBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
