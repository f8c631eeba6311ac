// Package middleware wraps the API handler with tracing, metrics and panic recovery.
package middleware

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/pure-golang/bulkmail/logger"
)

var (
	meter = otel.GetMeterProvider().Meter("github.com/pure-golang/bulkmail/httpserver/middleware")
	// nolint:errcheck // Sync OpenTelemetry instruments never return errors
	requestsCount, _ = meter.Int64Counter("bulkmail.http.request_count")
	// nolint:errcheck
	requestTimeHist, _ = meter.Int64Histogram("bulkmail.http.request_time", metric.WithUnit("ms"))
	// nolint:errcheck
	requestBodyLenHist, _ = meter.Int64Histogram("bulkmail.http.request_body_len", metric.WithUnit("By"))
)

const tracerName = "github.com/pure-golang/bulkmail/httpserver/middleware"

// BodyMaxLen bounds the request and response bodies recorded on spans.
const BodyMaxLen = 2048

// Monitoring starts a server span per request, continuing the caller's trace,
// puts a request logger into the context and records request metrics labelled
// by the matched route pattern.
func Monitoring(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := otel.Tracer(tracerName).Start(ctx, r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		traceID := span.SpanContext().TraceID().String()
		log := slog.Default().With("method", r.Method, "path", r.URL.Path, "trace_id", traceID)

		attrs := []attribute.KeyValue{
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
			attribute.String("user_agent.original", r.UserAgent()),
			attribute.String("client.address", r.RemoteAddr),
		}

		reqBody, err := io.ReadAll(r.Body)
		if err != nil {
			log.Error("failed to read body", "error", err)
		} else {
			r.Body = io.NopCloser(bytes.NewReader(reqBody))
			attrs = append(attrs, attribute.String("http.request.body", cut(reqBody)))
		}

		w.Header().Set("X-Trace-Id", traceID)
		srw := newStatefulRespWriter(w)
		req := r.WithContext(logger.NewContext(ctx, log))

		next.ServeHTTP(srw, req)

		// ServeMux fills Pattern on the request it routed.
		route := req.Pattern
		if route == "" {
			route = r.Method + " " + r.URL.Path
		}
		span.SetName(route)
		attrs = append(attrs,
			attribute.String("http.route", route),
			attribute.Int("http.response.status_code", srw.status),
			attribute.String("http.response.body", cut(srw.body)),
		)
		span.SetAttributes(attrs...)

		labels := metric.WithAttributes(attribute.String("http.route", route))
		requestsCount.Add(ctx, 1, labels, metric.WithAttributes(attribute.Int("http.response.status_code", srw.status)))
		requestTimeHist.Record(ctx, time.Since(start).Milliseconds(), labels)
		requestBodyLenHist.Record(ctx, int64(len(reqBody)), labels)

		if srw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(srw.status))
			return
		}
		span.SetStatus(codes.Ok, "")
	})
}

// statefulRespWriter keeps the status and the head of the body.
type statefulRespWriter struct {
	http.ResponseWriter
	status int
	body   []byte
}

func newStatefulRespWriter(w http.ResponseWriter) *statefulRespWriter {
	return &statefulRespWriter{ResponseWriter: w}
}

func (w *statefulRespWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statefulRespWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	if room := BodyMaxLen + 1 - len(w.body); room > 0 {
		w.body = append(w.body, b[:min(room, len(b))]...)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statefulRespWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func cut(body []byte) string {
	if length := len(body); length > BodyMaxLen {
		return fmt.Sprintf("%s...(truncated)", body[:BodyMaxLen])
	}
	return string(body)
}
