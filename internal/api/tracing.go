package api

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const apiTracerName = "github.com/odvcencio/indexq/internal/api"

// requestTracingMiddleware starts a server span named after the matched route pattern.
func requestTracingMiddleware(resolve routeResolver, next http.Handler) http.Handler {
	tracer := otel.Tracer(apiTracerName)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSkipRequestInstrumentation(r) {
			next.ServeHTTP(w, r)
			return
		}

		rt := resolve(r)
		spanName := rt.pattern
		if spanName == "" {
			spanName = r.Method + " " + rt.operation
		}
		attrs := []attribute.KeyValue{
			attribute.String("http.method", r.Method),
			attribute.String("http.request_id", requestIDFromContext(r.Context())),
			attribute.String("indexq.operation", rt.operation),
		}
		if _, path, ok := strings.Cut(rt.pattern, " "); ok {
			attrs = append(attrs, attribute.String("http.route", path))
		}
		if siteID := siteFromPath(r.URL.Path); siteID != "" {
			attrs = append(attrs, attribute.String("indexq.site", siteID))
		}

		ctx, span := tracer.Start(r.Context(), spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			span.SetAttributes(attribute.Int("http.status_code", rec.status))
			if rec.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rec.status))
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
		}()

		next.ServeHTTP(rec, r.WithContext(ctx))
	})
}

// siteFromPath returns the site segment of a queue administration path.
func siteFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/v1/sites/")
	if !ok {
		return ""
	}
	siteID, _, _ := strings.Cut(rest, "/")
	return siteID
}

// shouldSkipRequestInstrumentation excludes scrape and profiling traffic from spans and logs.
func shouldSkipRequestInstrumentation(r *http.Request) bool {
	if r == nil || r.URL == nil {
		return true
	}
	path := r.URL.Path
	return path == "/metrics" || strings.HasPrefix(path, "/debug/pprof/")
}
