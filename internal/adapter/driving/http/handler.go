package httphandler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/spacewake/internal/application"
	"github.com/ericfisherdev/spacewake/internal/domain/model"
)

// SecretHeader carries the shared webhook secret.
const SecretHeader = "X-Spacewake-Secret"

const maxWebhookBody = 64 << 10

// TunnelRecorder stores tunnel URLs reported by codespaces.
type TunnelRecorder interface {
	RecordTunnel(ctx context.Context, report application.TunnelReport) (model.Binding, error)
}

// ReadinessChecker reports whether the chat session is connected.
type ReadinessChecker interface {
	Ready() bool
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler is the HTTP driving adapter: health, metrics and the tunnel webhook.
type Handler struct {
	tunnels       TunnelRecorder
	ready         ReadinessChecker
	db            Pinger
	metrics       http.Handler
	webhookSecret string
	logger        *slog.Logger
}

// NewHandler creates a Handler. ready, db and metrics may be nil. An empty
// webhookSecret accepts unauthenticated tunnel reports.
func NewHandler(
	tunnels TunnelRecorder,
	ready ReadinessChecker,
	db Pinger,
	metrics http.Handler,
	webhookSecret string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		tunnels:       tunnels,
		ready:         ready,
		db:            db,
		metrics:       metrics,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("POST /api/v1/webhooks/tunnel", h.TunnelWebhook)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health reports 200 when the bot session is connected and the database
// answers, 503 otherwise.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		BotReady: h.ready == nil || h.ready.Ready(),
		Database: "ok",
		Time:     time.Now().UTC().Format(time.RFC3339),
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("health check database ping failed", "error", err)
			resp.Database = "unavailable"
		}
	}

	status := http.StatusOK
	if !resp.BotReady || resp.Database != "ok" {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// TunnelWebhook records the tunnel URL the startup script inside a codespace
// reports once its tunnel is up.
func (h *Handler) TunnelWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
	}

	var req TunnelRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.TunnelURL == "" {
		writeError(w, http.StatusBadRequest, "user_id and tunnel_url are required")
		return
	}

	b, err := h.tunnels.RecordTunnel(r.Context(), application.TunnelReport{
		OwnerID:      req.UserID,
		ResourceName: req.CodespaceName,
		TunnelURL:    req.TunnelURL,
	})
	switch {
	case errors.Is(err, model.ErrNotBound):
		writeError(w, http.StatusNotFound, "no codespace bound for user")
		return
	case errors.Is(err, model.ErrConfiguration):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to record tunnel", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, TunnelResponse{
		Status:    "recorded",
		Codespace: b.ResourceName,
		TunnelURL: b.TunnelURL,
	})
}
