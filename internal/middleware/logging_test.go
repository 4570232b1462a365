package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.POST("/api/proxy-query", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"answer": "42"})
	})

	req := httptest.NewRequest(http.MethodPost, "/api/proxy-query", strings.NewReader(`{"query":"q"}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v (%q)", err, buf.String())
	}
	if entry["path"] != "/api/proxy-query" {
		t.Errorf("path = %v, want %q", entry["path"], "/api/proxy-query")
	}
	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("status = %v, want %d", entry["status"], http.StatusOK)
	}
	if strings.Contains(buf.String(), `"query":"q"`) {
		t.Error("request body must not be logged")
	}
}

func TestRequestLogger_MethodNotAllowedStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.POST("/api/stream-upload", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/stream-upload", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v (%q)", err, buf.String())
	}
	if entry["status"] != float64(http.StatusMethodNotAllowed) {
		t.Errorf("logged status = %v, want %d", entry["status"], http.StatusMethodNotAllowed)
	}
}
