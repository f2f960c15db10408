// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package metrics holds the prometheus metrics of the service
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "granja_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "granja_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	remoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "granja_remote_requests_total",
			Help: "Total number of requests to the record store. Status 0 means a transport failure.",
		},
		[]string{"method", "status"},
	)

	remoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "granja_remote_request_duration_seconds",
			Help:    "Duration of requests to the record store in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "granja_resource_operations_total",
			Help: "Total number of resource operations by outcome",
		},
		[]string{"resource", "operation", "outcome"},
	)

	notificationsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "granja_notifications_failed_total",
			Help: "Total number of change notifications which could not be delivered",
		},
		[]string{"sink"},
	)
)

// ObserveRemoteRequest records a request to the record store
func ObserveRemoteRequest(method string, status int, duration time.Duration) {
	remoteRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	remoteRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveOperation records the outcome of a resource operation. outcome is "ok"
// or the kind of the error.
func ObserveOperation(resource, operation, outcome string) {
	operationsTotal.WithLabelValues(resource, operation, outcome).Inc()
}

// NotificationFailed records a change notification which could not be delivered
func NotificationFailed(sink string) {
	notificationsFailedTotal.WithLabelValues(sink).Inc()
}

// Handler returns the prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns a middleware which counts requests by route template, so that
// record identifiers do not blow up the label cardinality.
func Middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap gives http.ResponseController access to the original writer
func (rw *statusResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
