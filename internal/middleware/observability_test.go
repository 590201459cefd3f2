package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"wacompose/internal/metrics"
	"wacompose/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoggedRouter(t *testing.T, handler http.HandlerFunc) (*mux.Router, *bytes.Buffer) {
	t.Helper()
	var logBuffer bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&logBuffer)
	logger.SetFormatter(&logrus.JSONFormatter{})

	router := mux.NewRouter()
	router.Use(ObservabilityMiddleware(logger))
	router.HandleFunc("/v1/chats/{jid}/messages", handler).Methods(http.MethodGet, http.MethodPost)
	return router, &logBuffer
}

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestObservabilityMiddleware(t *testing.T) {
	var seenRequestID string
	router, logs := newLoggedRouter(t, func(w http.ResponseWriter, r *http.Request) {
		seenRequestID = tracing.RequestID(r.Context())
		_, _ = w.Write([]byte("ok"))
	})

	route := "/v1/chats/{jid}/messages"
	before := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues(http.MethodGet, route, "200"))

	req := httptest.NewRequest(http.MethodGet, "/v1/chats/111@s.whatsapp.net/messages", nil)
	req.RemoteAddr = "192.168.1.100:12345"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(seenRequestID, "req_"))
	assert.Equal(t, seenRequestID, w.Header().Get(RequestIDHeader))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues(http.MethodGet, route, "200")))

	entry := lastLogLine(t, logs)
	assert.Equal(t, "HTTP request completed", entry["msg"])
	assert.Equal(t, route, entry["route"])
	assert.Equal(t, "192.168.1.100", entry["remote_ip"])
	assert.Equal(t, float64(2), entry["size_bytes"])
	assert.NotContains(t, logs.String(), "111@s.whatsapp.net")
}

func TestObservabilityMiddleware_KeepsCallerRequestID(t *testing.T) {
	var seen string
	router, _ := newLoggedRouter(t, func(w http.ResponseWriter, r *http.Request) {
		seen = tracing.RequestID(r.Context())
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/chats/1@s.whatsapp.net/messages", nil)
	req.Header.Set(RequestIDHeader, "caller-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "caller-42", seen)
	assert.Equal(t, "caller-42", w.Header().Get(RequestIDHeader))
}

func TestObservabilityMiddleware_ErrorStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusBadRequest, "warning"},
		{http.StatusBadGateway, "error"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			router, logs := newLoggedRouter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/chats/x/messages", nil))

			entry := lastLogLine(t, logs)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, float64(tt.status), entry["status_code"])
		})
	}
}

func TestObservabilityMiddleware_ConcurrentRequests(t *testing.T) {
	router, _ := newLoggedRouter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/chats/x/messages", nil))
			assert.Equal(t, http.StatusNoContent, w.Code)
		}()
	}
	wg.Wait()
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.HTTPRequestsActive))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "1.1.1.1:80", "10.0.0.1"},
		{"real ip", map[string]string{"X-Real-IP": "10.0.0.3"}, "1.1.1.1:80", "10.0.0.3"},
		{"peer", nil, "[2001:db8::1]:443", "2001:db8::1"},
		{"bare peer", nil, "1.1.1.1", "1.1.1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(r))
		})
	}
}

func TestResponseWrapper(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWrapper{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusCreated)
	n, err := rw.Write([]byte("hello"))
	require.NoError(t, err)
	rw.Flush()

	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusCreated, rw.statusCode)
	assert.Equal(t, int64(5), rw.responseSize)

	_, _, err = rw.Hijack()
	assert.Error(t, err)
	assert.Same(t, rec, rw.Unwrap())
}

func TestRouteTemplate_Unmatched(t *testing.T) {
	assert.Equal(t, "unmatched", routeTemplate(httptest.NewRequest(http.MethodGet, "/nope", nil)))
}
