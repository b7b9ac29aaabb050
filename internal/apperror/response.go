package apperror

import (
	"encoding/json"
	"net/http"
)

// Response is the JSON error envelope every endpoint and middleware sends.
// Middleware that rejects a request before any handler runs (auth, role
// gates) writes it with WriteResponse, so its body matches the handlers'.
type Response struct {
	Success bool   `json:"success"`         // always false
	Error   string `json:"error"`           // machine-readable kind, e.g. "not_found"
	Message string `json:"message"`         // human-readable description
	Field   string `json:"field,omitempty"` // offending input field, when known
}

// WriteResponse encodes resp with the given status. Headers are set before
// WriteHeader; anything set afterwards is dropped.
func WriteResponse(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
