// Package middleware provides the HTTP middleware shared by the services:
// request ids, Prometheus metrics and request timeouts.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/metrics"
)

type routeKey struct{}

// Metrics instruments requests with the promhttp helpers. The path label
// is the routes pattern the request matches, without its method, or
// "other"; raw paths never become label values.
func Metrics(m *metrics.Metrics, routes *http.ServeMux) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		path := promhttp.WithLabelFromCtx("path", func(ctx context.Context) string {
			route, _ := ctx.Value(routeKey{}).(string)
			return route
		})
		instrumented := promhttp.InstrumentHandlerInFlight(m.HTTPRequestsInFlight,
			promhttp.InstrumentHandlerDuration(m.HTTPRequestDuration,
				promhttp.InstrumentHandlerCounter(m.HTTPRequestsTotal, next, path),
				path,
			),
		)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), routeKey{}, routeOf(routes, r))
			instrumented.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func routeOf(routes *http.ServeMux, r *http.Request) string {
	if routes == nil {
		return "other"
	}
	_, pattern := routes.Handler(r)
	if pattern == "" {
		return "other"
	}
	if _, p, ok := strings.Cut(pattern, " "); ok {
		return p
	}
	return pattern
}
