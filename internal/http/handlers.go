// Package http wires the concierge's routes: POST /v1/ask for questions,
// GET /v1/health for lifecycle state, and /metrics for Prometheus.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voyagekit/travel-concierge/internal/degraded"
	"github.com/voyagekit/travel-concierge/internal/idle"
	"github.com/voyagekit/travel-concierge/internal/lifecycle"
	"github.com/voyagekit/travel-concierge/internal/llm"
	"github.com/voyagekit/travel-concierge/internal/overload"
	"github.com/voyagekit/travel-concierge/internal/validation"
)

// maxInputRunes bounds the question length accepted by PostAsk.
const maxInputRunes = 4000

// Asker answers one user question. Implemented by the receptionist graph.
type Asker interface {
	Ask(ctx context.Context, input, clientIP string) (string, error)
}

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	RateLimitRPS           int
	RateLimitBurst         int // 0 when rate limiter disabled
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
	StartTime              time.Time
	// CachePing, when set, is called to check cache reachability. Used when
	// the backend is memcached or redis.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	asker            Asker
	llmClient        llm.Client
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(asker Asker, llmClient llm.Client, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	return &Handler{
		asker:        asker,
		llmClient:    llmClient,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// askRequest is the POST /v1/ask body.
type askRequest struct {
	Input string `json:"input"`
}

// askResponse is the POST /v1/ask success body.
type askResponse struct {
	Response string `json:"response"`
}

// PostAsk handles POST /v1/ask.
func (h *Handler) PostAsk(w http.ResponseWriter, r *http.Request) {
	var body askRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON with an 'input' field")
		return
	}
	input, err := validation.ValidateInput(body.Input, maxInputRunes)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}

	idle.RecordRequest()
	answer, err := h.asker.Ask(r.Context(), input, clientIP(r))
	if err != nil {
		degraded.RecordError()
		writeAskError(w, r, err)
		return
	}
	degraded.RecordSuccess()
	writeJSON(w, http.StatusOK, askResponse{Response: answer})
}

// clientIP extracts the caller address, preferring X-Forwarded-For when a
// proxy sits in front.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /v1/health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.reason == "api_key_invalid" {
		checks["llm"] = "unhealthy"
	} else {
		checks["llm"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "travel-concierge",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// computeHealthStatus determines the current health status by evaluating multiple conditions
// in priority order. Returns healthResult with status, HTTP status code, and reason.
// Decision order: shutting-down > API key invalid > overloaded > idle > degraded > healthy.
// Each condition is evaluated only if previous conditions are not met.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	// Priority 1: Check if service is shutting down
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	// Priority 2: Validate API key (required for all further checks)
	if err := h.llmClient.ValidateAPIKey(ctx); err != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	// Priority 3: Check overload threshold (rate limit denials exceed configured percentage)
	threshold := float64(h.healthConfig.RateLimitRPS) * h.healthConfig.OverloadWindow.Seconds() * float64(h.healthConfig.OverloadThresholdPct) / 100
	if float64(overload.RequestCount(h.healthConfig.OverloadWindow)) > threshold {
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
	}
	// Priority 4: Check idle conditions (only if uptime exceeds minimum lifespan)
	if h.healthConfig.IdleWindow > 0 && h.healthConfig.MinimumLifespan > 0 && time.Since(h.healthConfig.StartTime) >= h.healthConfig.MinimumLifespan {
		if idle.RequestCount(h.healthConfig.IdleWindow) < h.healthConfig.IdleThresholdReqPerMin {
			return healthResult{"idle", http.StatusOK, "low_traffic"}
		}
	}
	// Priority 5: Check degraded state (error rate exceeds configured threshold)
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errors, total := degraded.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errors) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	// Default: All checks passed, service is healthy
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
// Sets Content-Type header to application/json and encodes the provided value.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeAskError maps agent failures to response codes. The underlying error
// is logged at DEBUG, never sent to the caller.
func writeAskError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "The question took too long to answer")
	case errors.Is(err, llm.ErrInvalidAPIKey):
		writeError(w, r, http.StatusServiceUnavailable, "AGENT_UNAVAILABLE", "The assistant is not available right now")
	default:
		writeError(w, r, http.StatusServiceUnavailable, "AGENT_UNAVAILABLE", "Unable to answer the question")
	}
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("ask failed", zap.Error(err))
	}
}
