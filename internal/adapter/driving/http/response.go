package httphandler

import (
	"encoding/json"
	"net/http"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	BotReady bool   `json:"bot_ready"`
	Database string `json:"database"`
	Time     string `json:"time"`
}

// TunnelRequest is the JSON body the startup script posts.
type TunnelRequest struct {
	UserID        string `json:"user_id"`
	CodespaceName string `json:"codespace_name"`
	TunnelURL     string `json:"tunnel_url"`
	Timestamp     string `json:"timestamp"`
}

// TunnelResponse acknowledges a recorded tunnel.
type TunnelResponse struct {
	Status    string `json:"status"`
	Codespace string `json:"codespace"`
	TunnelURL string `json:"tunnel_url"`
}
