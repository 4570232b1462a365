package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"docqa-proxy/internal/model"
	"docqa-proxy/internal/relay"
)

// maxDetailLen bounds backend error text echoed to the client.
const maxDetailLen = 512

var (
	errInvalidBackendJSON = errors.New("backend returned a non-JSON success body")
	errResponseTooLarge   = errors.New("backend response exceeds max_response_bytes")
)

// ErrorBody is the client-facing shape of a backend failure.
type ErrorBody struct {
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

// normalize turns a backend response into the client response: the JSON body
// echoed on success, or {detail, status} with the backend status otherwise.
func (h *RelayHandler) normalize(c echo.Context, rt Route, resp *model.BackendResponse) error {
	data, err := readLimited(resp.Body, h.maxResponse)
	if err != nil {
		return h.relayFailure(c, rt, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if len(bytes.TrimSpace(data)) == 0 {
			return c.NoContent(resp.StatusCode)
		}
		if !json.Valid(data) {
			return h.relayFailure(c, rt, errInvalidBackendJSON)
		}
		if rid := resp.Header.Get(echo.HeaderXRequestID); rid != "" {
			c.Response().Header().Set("X-Backend-Request-Id", rid)
		}
		return c.JSONBlob(resp.StatusCode, data)
	}

	h.logger.Warn("backend error",
		"route", rt.Name,
		"status", resp.StatusCode,
		"body", h.redact(truncate(string(data), maxDetailLen)),
	)
	return c.JSON(resp.StatusCode, ErrorBody{
		Detail: h.errorDetail(data, rt.Fallback),
		Status: resp.StatusCode,
	})
}

// relayFailure answers with the generic internal error. The cause is logged
// and counted, never sent to the client.
func (h *RelayHandler) relayFailure(c echo.Context, rt Route, err error) error {
	reason := classifyFailure(err)
	h.logger.Error("relay failure",
		"route", rt.Name,
		"reason", reason,
		"err", h.redact(err.Error()),
		"path", c.Request().URL.Path,
	)
	if h.metrics != nil {
		h.metrics.RelayFailures.WithLabelValues(rt.Name, reason).Inc()
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"message": "Internal server error",
	})
}

// classifyFailure returns a bounded reason label for a relay failure.
func classifyFailure(err error) string {
	if errors.Is(err, relay.ErrBodyRead) {
		return "body_read"
	}
	if errors.Is(err, errInvalidBackendJSON) || errors.Is(err, errResponseTooLarge) {
		return "invalid_response"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "connect"
	}
	return "other"
}

// errorDetail picks the detail string for a backend failure. FastAPI-style
// {"detail": "..."} bodies and short plain-text bodies pass through; anything
// else is replaced by fallback.
func (h *RelayHandler) errorDetail(data []byte, fallback string) string {
	text := bytes.TrimSpace(data)
	if len(text) == 0 {
		return fallback
	}

	var envelope struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(text, &envelope) == nil {
		if d := detailText(envelope.Detail); d != "" && safeText(d) {
			return h.redact(d)
		}
		if envelope.Message != "" && safeText(envelope.Message) {
			return h.redact(envelope.Message)
		}
	}

	if s := string(text); safeText(s) {
		return h.redact(s)
	}
	return fallback
}

// detailText flattens a FastAPI detail value: a string, or a list of
// validation errors carrying "msg" fields.
func detailText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(raw, &items) == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}

// safeText reports whether backend text is fit for end-user display: short,
// valid UTF-8, no markup, no control characters, no stack traces.
func safeText(s string) bool {
	if len(s) > maxDetailLen || !utf8.ValidString(s) {
		return false
	}
	if strings.ContainsAny(s, "<>") || strings.Contains(s, "Traceback") {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return false
		}
	}
	return true
}

// redact removes the shared secret from text bound for logs or clients.
func (h *RelayHandler) redact(s string) string {
	if h.secret == "" {
		return s
	}
	return strings.ReplaceAll(s, h.secret, "[REDACTED]")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read backend body: %w", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read backend body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errResponseTooLarge
	}
	return data, nil
}
