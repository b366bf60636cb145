package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type recordedStatuses struct {
	codes []int
}

func (r *recordedStatuses) RecordHTTPStatus(code int) {
	r.codes = append(r.codes, code)
}

func newBufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func decodeLogEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	statuses := &recordedStatuses{}
	handler := NewLoggingMiddleware(newBufferLogger(&buf), statuses)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/my-events", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogEntry(t, &buf)
	if entry["msg"] != "http_request" || entry["level"] != "INFO" {
		t.Errorf("entry = %v", entry)
	}
	if entry["method"] != "GET" || entry["path"] != "/api/v1/events/my-events" {
		t.Errorf("method/path = %v %v", entry["method"], entry["path"])
	}
	if entry["status"] != float64(200) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("expected duration_ms")
	}
	if _, ok := entry["user_id"]; ok {
		t.Error("user_id should be omitted for anonymous requests")
	}
	if len(statuses.codes) != 1 || statuses.codes[0] != 200 {
		t.Errorf("recorded statuses = %v", statuses.codes)
	}
}

// セッションミドルウェアが内側にあっても外側のログにuser_idが載る
func TestLoggingMiddleware_UserIDFromInnerSession(t *testing.T) {
	var buf bytes.Buffer
	chain := NewLoggingMiddleware(newBufferLogger(&buf), nil)(
		NewSessionMiddleware(validSessionRepo())(okHandler),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer valid-session-id")
	chain.ServeHTTP(httptest.NewRecorder(), req)

	if entry := decodeLogEntry(t, &buf); entry["user_id"] != "user-123" {
		t.Errorf("user_id = %v, want user-123", entry["user_id"])
	}
}

func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusConflict, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			handler := NewLoggingMiddleware(newBufferLogger(&buf), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))

			entry := decodeLogEntry(t, &buf)
			if entry["level"] != tt.level || entry["status"] != float64(tt.status) {
				t.Errorf("level = %v, status = %v", entry["level"], entry["status"])
			}
		})
	}
}

func TestStatusRecorder_WriteDefaultsTo200(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusTeapot}
	if _, err := rec.Write([]byte("ok")); err != nil {
		t.Fatal(err)
	}
	rec.WriteHeader(http.StatusNotFound)
	if rec.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d, want 200", rec.statusCode)
	}
	if rec.Unwrap() == nil {
		t.Error("Unwrap returned nil")
	}
}

func TestLoggingMiddleware_DurationIsMeasured(t *testing.T) {
	var buf bytes.Buffer
	handler := NewLoggingMiddleware(newBufferLogger(&buf), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	d, ok := decodeLogEntry(t, &buf)["duration_ms"].(float64)
	if !ok || d < 5 {
		t.Errorf("duration_ms = %v, want >= 5", d)
	}
}
