package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pure-golang/bulkmail/logger"
)

func TestMonitoring(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	defer otel.SetTracerProvider(original)

	var gotBody string
	var hasLogger bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /campaigns/{id}", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		hasLogger = logger.FromContext(r.Context()) != slog.Default()
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"ok":true}`)
	})

	req := httptest.NewRequest(http.MethodPost, "/campaigns/c1?x=1", strings.NewReader(`{"name":"spring"}`))
	rec := httptest.NewRecorder()
	Monitoring(mux).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, `{"name":"spring"}`, gotBody, "body is restored for the handler")
	assert.True(t, hasLogger)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-Id"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /campaigns/{id}", spans[0].Name())
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "202", attrs["http.response.status_code"])
	assert.Equal(t, `{"ok":true}`, attrs["http.response.body"])
}

func TestMonitoring_ContinuesTrace(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	originalProvider, originalPropagator := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer func() {
		otel.SetTracerProvider(originalProvider)
		otel.SetTextMapPropagator(originalPropagator)
	}()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	Monitoring(http.NotFoundHandler()).ServeHTTP(rec, req)

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", rec.Header().Get("X-Trace-Id"))
	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, "GET /healthz", recorder.Ended()[0].Name(), "unrouted requests are named by path")
}

func TestStatefulRespWriter(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w := newStatefulRespWriter(rec)
	_, _ = w.Write(bytes.Repeat([]byte("a"), BodyMaxLen))
	_, _ = w.Write([]byte("bbb"))
	w.WriteHeader(http.StatusTeapot)
	w.Flush()

	assert.Equal(t, http.StatusOK, w.status, "first status wins")
	assert.Len(t, w.body, BodyMaxLen+1)
	assert.Equal(t, BodyMaxLen+3, rec.Body.Len())
	assert.True(t, rec.Flushed)
}

func TestCut(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", cut(nil))
	assert.Equal(t, "short", cut([]byte("short")))
	long := cut(bytes.Repeat([]byte("x"), BodyMaxLen+10))
	assert.True(t, strings.HasSuffix(long, "...(truncated)"))
	assert.Len(t, long, BodyMaxLen+len("...(truncated)"))
}

func TestRecovery(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(logger.NewContext(context.Background(), log))
	rec := httptest.NewRecorder()

	require.NotPanics(t, func() { h.ServeHTTP(rec, req) })
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "panic recovered from handler", entry["msg"])
	assert.Equal(t, "boom", entry["panic"])
	assert.NotEmpty(t, entry["stack"])
}

func TestRecovery_PassesThrough(t *testing.T) {
	t.Parallel()

	h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecovery_AbortHandler(t *testing.T) {
	t.Parallel()

	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.Panics(t, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
