// Package relay prepares inbound request bodies for forwarding to the backend.
//
// Payload bytes are never inspected on the binary path. JSON bodies are
// decoded and re-encoded so that structure round-trips exactly; requests
// without a body are forwarded without one.
package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"docqa-proxy/internal/config"
)

var (
	// ErrBodyTooLarge is returned when a body exceeds the configured limit.
	ErrBodyTooLarge = errors.New("relay: body too large")
	// ErrInvalidJSON is returned when a JSON route receives a malformed body.
	ErrInvalidJSON = errors.New("relay: invalid JSON body")
	// ErrBodyRead is returned when reading the inbound body fails.
	ErrBodyRead = errors.New("relay: reading request body")
)

// DefaultUploadContentType is used for uploads that arrive without a content type.
const DefaultUploadContentType = "multipart/form-data"

// Kind is the payload shape of a route.
type Kind int

const (
	// KindJSON bodies are decoded and re-encoded.
	KindJSON Kind = iota
	// KindBinary bodies are forwarded byte for byte.
	KindBinary
)

// Strategy selects how binary bodies reach the backend.
type Strategy string

const (
	// StrategyAuto buffers bodies of known size within the buffer limit and streams the rest.
	StrategyAuto Strategy = config.StrategyAuto
	// StrategyBuffer reads the whole body before sending and recomputes Content-Length.
	StrategyBuffer Strategy = config.StrategyBuffer
	// StrategyStream passes the inbound reader through.
	StrategyStream Strategy = config.StrategyStream
)

// Mode labels describe how a prepared body is sent.
const (
	ModeNone   = "none"
	ModeJSON   = "json"
	ModeBuffer = "buffer"
	ModeStream = "stream"
)

// Body is a prepared outbound body.
type Body struct {
	// Reader is nil when no body must be sent.
	Reader io.Reader
	// ContentLength is the forwarded length, -1 when unknown.
	ContentLength int64
	// ContentType is empty when no body is sent.
	ContentType string
	// Mode is one of the Mode* labels.
	Mode string

	size   int64
	stream *countingReader
}

// BytesSent returns the number of payload bytes handed to the transport.
func (b *Body) BytesSent() int64 {
	if b.stream != nil {
		return b.stream.count()
	}
	return b.size
}

// Err returns the read error hit while streaming, if any. A non-nil result
// means the backend cannot have received the complete payload.
func (b *Body) Err() error {
	if b.stream != nil {
		return b.stream.failure()
	}
	return nil
}

// Relay prepares request bodies.
type Relay struct {
	strategy    Strategy
	bufferLimit int64
	maxBytes    int64
}

// New creates a Relay from config.
func New(cfg *config.Config) *Relay {
	return &Relay{
		strategy:    Strategy(cfg.Upload.Strategy),
		bufferLimit: cfg.Upload.BufferLimitBytes,
		maxBytes:    cfg.Upload.MaxBytes,
	}
}

// DefaultStrategy returns the configured upload strategy.
func (r *Relay) DefaultStrategy() Strategy { return r.strategy }

// ContentType returns the content type the backend should see for req, or
// empty when req carries no body.
func ContentType(req *http.Request, kind Kind) string {
	if !hasBody(req) {
		return ""
	}
	if kind == KindJSON {
		return "application/json"
	}
	if ct := req.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return DefaultUploadContentType
}

// Prepare reads or wraps the inbound body according to kind and strategy.
// An empty strategy means the configured default.
func (r *Relay) Prepare(req *http.Request, kind Kind, strategy Strategy) (*Body, error) {
	if !hasBody(req) {
		return &Body{Mode: ModeNone}, nil
	}
	if kind == KindJSON {
		return prepareJSON(req)
	}

	if strategy == "" {
		strategy = r.strategy
	}
	if r.maxBytes > 0 && req.ContentLength > r.maxBytes {
		return nil, ErrBodyTooLarge
	}

	ct := ContentType(req, KindBinary)
	if r.resolve(strategy, req.ContentLength) == StrategyBuffer {
		if req.ContentLength > r.bufferLimit {
			return nil, ErrBodyTooLarge
		}
		return r.buffer(req.Body, ct)
	}

	cr := &countingReader{r: req.Body, limit: r.maxBytes}
	return &Body{
		Reader:        cr,
		ContentLength: req.ContentLength,
		ContentType:   ct,
		Mode:          ModeStream,
		stream:        cr,
	}, nil
}

func (r *Relay) resolve(s Strategy, declared int64) Strategy {
	switch s {
	case StrategyBuffer, StrategyStream:
		return s
	default:
		if declared >= 0 && declared <= r.bufferLimit {
			return StrategyBuffer
		}
		return StrategyStream
	}
}

// buffer reads the whole body and recomputes its length.
func (r *Relay) buffer(src io.Reader, contentType string) (*Body, error) {
	data, err := io.ReadAll(io.LimitReader(src, r.bufferLimit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBodyRead, err)
	}
	if int64(len(data)) > r.bufferLimit {
		return nil, ErrBodyTooLarge
	}
	return &Body{
		Reader:        bytes.NewReader(data),
		ContentLength: int64(len(data)),
		ContentType:   contentType,
		Mode:          ModeBuffer,
		size:          int64(len(data)),
	}, nil
}

func prepareJSON(req *http.Request) (*Body, error) {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBodyRead, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &Body{Mode: ModeNone}, nil
	}

	out, err := reencodeJSON(data)
	if err != nil {
		return nil, err
	}
	return &Body{
		Reader:        bytes.NewReader(out),
		ContentLength: int64(len(out)),
		ContentType:   "application/json",
		Mode:          ModeJSON,
		size:          int64(len(out)),
	}, nil
}

// reencodeJSON decodes exactly one JSON value and encodes it again. Numbers
// are kept as their literal text so no precision is lost.
func reencodeJSON(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrInvalidJSON)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func hasBody(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead:
		return false
	}
	return req.Body != nil && req.Body != http.NoBody && req.ContentLength != 0
}

// countingReader counts bytes read and remembers the first read error. The
// transport reads from it on its own goroutine, hence the lock.
type countingReader struct {
	r     io.Reader
	limit int64

	mu  sync.Mutex
	n   int64
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.n += int64(n)
	if c.limit > 0 && c.n > c.limit {
		c.err = ErrBodyTooLarge
		return n, c.err
	}
	if err != nil && !errors.Is(err, io.EOF) {
		c.err = fmt.Errorf("%w: %w", ErrBodyRead, err)
		return n, c.err
	}
	return n, err
}

func (c *countingReader) count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *countingReader) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
