package gin_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	ginpkg "github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infragin "github.com/jonesrussell/north-cloud/listings/infrastructure/gin"
	"github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
)

type logEntry struct {
	level  string
	msg    string
	fields map[string]string
}

// recordingLogger keeps every entry, including those written through With children.
type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
	base    []logger.Field
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (r *recordingLogger) record(level, msg string, fields []logger.Field) {
	all := make(map[string]string, len(r.base)+len(fields))
	for _, f := range append(append([]logger.Field{}, r.base...), fields...) {
		all[f.Key] = f.String
	}
	r.mu.Lock()
	*r.entries = append(*r.entries, logEntry{level: level, msg: msg, fields: all})
	r.mu.Unlock()
}

func (r *recordingLogger) Debug(msg string, fields ...logger.Field) { r.record("debug", msg, fields) }
func (r *recordingLogger) Info(msg string, fields ...logger.Field)  { r.record("info", msg, fields) }
func (r *recordingLogger) Warn(msg string, fields ...logger.Field)  { r.record("warn", msg, fields) }
func (r *recordingLogger) Error(msg string, fields ...logger.Field) { r.record("error", msg, fields) }
func (r *recordingLogger) Fatal(msg string, fields ...logger.Field) { r.record("fatal", msg, fields) }
func (r *recordingLogger) Sync() error                              { return nil }

func (r *recordingLogger) With(fields ...logger.Field) logger.Logger {
	return &recordingLogger{mu: r.mu, entries: r.entries, base: append(append([]logger.Field{}, r.base...), fields...)}
}

func (r *recordingLogger) all() []logEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]logEntry(nil), *r.entries...)
}

func serve(router *ginpkg.Engine, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, http.NoBody)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequestIDLoggerMiddleware_HandlerLogsCarryRequestID(t *testing.T) {
	t.Parallel()

	rec := newRecordingLogger()
	router := ginpkg.New()
	router.Use(infragin.RequestIDLoggerMiddleware(rec))
	router.POST("/api/v1/runs", func(c *ginpkg.Context) {
		logger.FromContext(c.Request.Context()).Info("Run requested")
		c.Status(http.StatusAccepted)
	})

	w := serve(router, http.MethodPost, "/api/v1/runs", http.Header{infragin.RequestIDHeader: {"run-req-7"}})

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "run-req-7", w.Header().Get(infragin.RequestIDHeader))
	entries := rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "Run requested", entries[0].msg)
	assert.Equal(t, "run-req-7", entries[0].fields[infragin.RequestIDKey])
}

func TestRequestIDLoggerMiddleware_ReplacesMissingOrOversizedID(t *testing.T) {
	t.Parallel()

	router := ginpkg.New()
	router.Use(infragin.RequestIDLoggerMiddleware(logger.NewNop()))
	router.GET("/api/v1/runs/:id", func(c *ginpkg.Context) {
		c.String(http.StatusOK, c.GetString(infragin.RequestIDKey))
	})

	for name, header := range map[string]http.Header{
		"missing":   nil,
		"oversized": {infragin.RequestIDHeader: {strings.Repeat("r", 200)}},
	} {
		t.Run(name, func(t *testing.T) {
			w := serve(router, http.MethodGet, "/api/v1/runs/abc", header)

			id := w.Header().Get(infragin.RequestIDHeader)
			assert.Len(t, id, 32)
			assert.Equal(t, id, w.Body.String())
		})
	}
}

func TestLoggerMiddleware_Levels(t *testing.T) {
	t.Parallel()

	rec := newRecordingLogger()
	router := ginpkg.New()
	router.Use(infragin.LoggerMiddleware(rec))
	router.GET("/health", func(c *ginpkg.Context) { c.Status(http.StatusOK) })
	router.GET("/api/v1/properties", func(c *ginpkg.Context) { c.Status(http.StatusOK) })
	router.POST("/api/v1/groups/:id/reanalyze", func(c *ginpkg.Context) {
		_ = c.Error(assert.AnError)
		c.Status(http.StatusConflict)
	})

	serve(router, http.MethodGet, "/health", nil)
	serve(router, http.MethodGet, "/api/v1/properties?city=guadalajara", nil)
	serve(router, http.MethodPost, "/api/v1/groups/g1/reanalyze", nil)

	entries := rec.all()
	require.Len(t, entries, 3)
	assert.Equal(t, "debug", entries[0].level)
	assert.Equal(t, "info", entries[1].level)
	assert.Equal(t, "city=guadalajara", entries[1].fields["query"])
	assert.Equal(t, "error", entries[2].level)
	assert.Equal(t, "HTTP request with errors", entries[2].msg)
}

func TestCORSMiddleware(t *testing.T) {
	t.Parallel()

	router := ginpkg.New()
	router.Use(infragin.CORSMiddleware(infragin.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://ops.example.com"},
	}))
	router.GET("/api/v1/runs/:id/events", func(c *ginpkg.Context) { c.Status(http.StatusOK) })

	t.Run("preflight from allowed origin", func(t *testing.T) {
		w := serve(router, http.MethodOptions, "/api/v1/runs/r1/events", http.Header{"Origin": {"https://ops.example.com"}})

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://ops.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Last-Event-ID")
		assert.Equal(t, "Origin", w.Header().Get("Vary"))
	})

	t.Run("other origin gets no headers", func(t *testing.T) {
		w := serve(router, http.MethodGet, "/api/v1/runs/r1/events", http.Header{"Origin": {"https://elsewhere.example.com"}})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("disabled", func(t *testing.T) {
		off := ginpkg.New()
		off.Use(infragin.CORSMiddleware(infragin.CORSConfig{AllowedOrigins: []string{"*"}}))
		off.GET("/x", func(c *ginpkg.Context) { c.Status(http.StatusOK) })

		w := serve(off, http.MethodGet, "/x", http.Header{"Origin": {"https://ops.example.com"}})
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()

	rec := newRecordingLogger()
	router := ginpkg.New()
	router.Use(infragin.RecoveryMiddleware(rec))
	router.GET("/api/v1/properties/:id", func(*ginpkg.Context) { panic("nil property") })

	w := serve(router, http.MethodGet, "/api/v1/properties/p1", nil)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body["code"])

	entries := rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "Panic recovered", entries[0].msg)
	assert.Equal(t, "/api/v1/properties/p1", entries[0].fields["path"])
}
