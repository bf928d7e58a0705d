package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestCorrelationIDMiddleware_GeneratesID(t *testing.T) {
	var seenID string
	var seenLogger *zap.Logger
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID, _ = r.Context().Value("correlation_id").(string)
		seenLogger, _ = r.Context().Value("logger").(*zap.Logger)
	})

	handler := CorrelationIDMiddleware(zap.NewNop())(next)
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if seenID == "" {
		t.Error("correlation_id missing from context")
	}
	if seenLogger == nil {
		t.Error("logger missing from context")
	}
	if got := w.Header().Get("X-Correlation-ID"); got != seenID {
		t.Errorf("response header = %q, want %q", got, seenID)
	}
}

func TestCorrelationIDMiddleware_PropagatesIncomingID(t *testing.T) {
	var seenID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID, _ = r.Context().Value("correlation_id").(string)
	})

	handler := CorrelationIDMiddleware(zap.NewNop())(next)
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("X-Correlation-ID", "req-abc-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if seenID != "req-abc-123" {
		t.Errorf("correlation_id = %q, want req-abc-123", seenID)
	}
	if got := w.Header().Get("X-Correlation-ID"); got != "req-abc-123" {
		t.Errorf("response header = %q, want req-abc-123", got)
	}
}

func TestMetricsMiddleware_PassesThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})

	handler := MetricsMiddleware(next)
	req := httptest.NewRequest(http.MethodGet, "/v1/ask", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", w.Code)
	}
	if w.Body.String() != "short and stout" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestGetRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/v1/health", "/v1/health"},
		{"/v1/ask", "/v1/ask"},
		{"/metrics", "/metrics"},
		{"/v1/ask/extra", "other"},
		{"/favicon.ico", "other"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if got := getRoute(req); got != tt.want {
			t.Errorf("getRoute(%s) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestStatusCodeString(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
	}
	for _, tt := range tests {
		if got := statusCodeString(tt.code); got != tt.want {
			t.Errorf("statusCodeString(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var hadDeadline bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadDeadline = r.Context().Deadline()
	})

	handler := TimeoutMiddleware(time.Second)(next)
	req := httptest.NewRequest(http.MethodPost, "/v1/ask", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !hadDeadline {
		t.Error("request context has no deadline")
	}
}

func TestTimeoutMiddleware_ExpiresContext(t *testing.T) {
	var ctxErr error
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			ctxErr = r.Context().Err()
		case <-time.After(time.Second):
		}
	})

	handler := TimeoutMiddleware(5 * time.Millisecond)(next)
	req := httptest.NewRequest(http.MethodPost, "/v1/ask", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if ctxErr != context.DeadlineExceeded {
		t.Errorf("context error = %v, want DeadlineExceeded", ctxErr)
	}
}

func TestRateLimitMiddleware_NilLimiterDisabled(t *testing.T) {
	var calls int
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ })

	handler := RateLimitMiddleware(nil)(next)
	for i := 0; i < 50; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/ask", nil))
	}
	if calls != 50 {
		t.Errorf("calls = %d, want 50 with limiter disabled", calls)
	}
}

func TestRateLimitMiddleware_DeniesWhenExhausted(t *testing.T) {
	resetTrackers()
	defer resetTrackers()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// 1 rps with burst 2: third immediate request is denied
	handler := RateLimitMiddleware(rate.NewLimiter(1, 2))(next)

	var denied int
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/ask", nil))
		if w.Code == http.StatusTooManyRequests {
			denied++
			if !strings.Contains(w.Body.String(), "RATE_LIMITED") {
				t.Errorf("denial body = %s, want RATE_LIMITED code", w.Body.String())
			}
		}
	}
	if denied != 1 {
		t.Errorf("denied = %d, want 1", denied)
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := CORSMiddleware(
		[]string{"http://localhost:3000"},
		[]string{http.MethodGet, http.MethodPost, http.MethodOptions},
		[]string{"Content-Type", "X-Correlation-ID"},
		false,
	)(next)

	req := httptest.NewRequest(http.MethodOptions, "/v1/ask", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q, want http://localhost:3000", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodPost) {
		t.Errorf("Allow-Methods = %q, want POST included", got)
	}
}

func TestCORSMiddleware_DisallowedOrigin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := CORSMiddleware([]string{"http://localhost:3000"}, []string{http.MethodPost}, nil, false)(next)

	req := httptest.NewRequest(http.MethodPost, "/v1/ask", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty for disallowed origin", got)
	}
}
