package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"docqa-proxy/internal/metrics"
)

// requestLabels returns the label sets recorded on the request counter.
func requestLabels(t *testing.T, m *metrics.Metrics) []map[string]string {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var out []map[string]string
	for _, f := range families {
		if f.GetName() != "docqa_proxy_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			out = append(out, labels)
		}
	}
	return out
}

func findPrefix(sets []map[string]string, prefix string) map[string]string {
	for _, s := range sets {
		if s["path_prefix"] == prefix {
			return s
		}
	}
	return nil
}

func TestMetricsMiddleware_IncrementsCounter(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.POST("/api/proxy-query", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/proxy-query", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	got := findPrefix(requestLabels(t, m), "/api/proxy-query")
	if got == nil {
		t.Fatal("expected docqa_proxy_http_requests_total with path_prefix=/api/proxy-query")
	}
	if got["method"] != "POST" || got["status_code"] != "200" {
		t.Errorf("labels = %v, want method=POST status_code=200", got)
	}
}

func TestMetricsMiddleware_ChatSessionIDCollapsed(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/api/proxy-chat-sessions/:sessionId", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	for _, id := range []string{"a1", "b2", "c3"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/proxy-chat-sessions/"+id, http.NoBody))
	}

	sets := requestLabels(t, m)
	if len(sets) != 1 {
		t.Fatalf("label sets = %d, want 1: %v", len(sets), sets)
	}
	if sets[0]["path_prefix"] != "/api/proxy-chat-sessions" {
		t.Errorf("path_prefix = %q, want /api/proxy-chat-sessions", sets[0]["path_prefix"])
	}
}

func TestMetricsMiddleware_HTTPErrorStatus(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.POST("/api/proxy-upload", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/proxy-upload", http.NoBody))

	got := findPrefix(requestLabels(t, m), "/api/proxy-upload")
	if got == nil {
		t.Fatal("expected a sample for /api/proxy-upload")
	}
	if got["status_code"] != "413" {
		t.Errorf("status_code = %q, want 413", got["status_code"])
	}
}

func TestMetricsMiddleware_PlainErrorIs500(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.POST("/api/proxy-query", func(c echo.Context) error {
		return http.ErrHandlerTimeout
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/proxy-query", http.NoBody))

	got := findPrefix(requestLabels(t, m), "/api/proxy-query")
	if got == nil || got["status_code"] != "500" {
		t.Errorf("labels = %v, want status_code=500", got)
	}
}

func TestMetricsMiddleware_WrongVerbOnUpload(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.POST("/api/stream-upload", func(c echo.Context) error {
		t.Error("handler must not run for GET")
		return nil
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stream-upload", http.NoBody))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}

	got := findPrefix(requestLabels(t, m), "/api/stream-upload")
	if got == nil || got["status_code"] != "405" {
		t.Errorf("labels = %v, want status_code=405", got)
	}
}

func TestMetricsMiddleware_UnknownMethodNormalized(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.Any("/api/proxy-query", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest("XYZZY", "/api/proxy-query", http.NoBody))

	got := findPrefix(requestLabels(t, m), "/api/proxy-query")
	if got == nil || got["method"] != "other" {
		t.Errorf("labels = %v, want method=other", got)
	}
}

func TestMetricsMiddleware_RouterNotFound(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nonexistent", http.NoBody))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	got := findPrefix(requestLabels(t, m), "other")
	if got == nil || got["status_code"] != "404" {
		t.Errorf("labels = %v, want path_prefix=other status_code=404", got)
	}
}
