// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package logger provides request scoped logrus loggers.

Every incoming request gets a logger with a request ID. Once the caller is known,
the identity is added with ContextWithLoggerIdentity, so that all log statements
of a request can be correlated.
*/
package logger

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type contextLoggerValues struct {
	RequestID string
	Identity  string
}

// Type for the context keys
type contextKeyRequestLoggerType struct{}

var contextKeyRequestLogger = &contextKeyRequestLoggerType{}

const (
	requestIDLoggerKey string = "requestID"
	identityLoggerKey  string = "identity"

	// RequestIDHeader is the header used to pass a request ID from the frontend
	RequestIDHeader = "X-Request-Id"
)

// InitLogger sets up the custom time formatter for all log statements.
func InitLogger(logLevel logrus.Level) {
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = "2006-01-02 15:04:05"
	customFormatter.FullTimestamp = true
	logrus.SetFormatter(customFormatter)
	logrus.SetLevel(logLevel)
}

// AddRequestID adds a logger with a request ID to every request of the router. The
// request ID is taken from the X-Request-Id header if present, and echoed back in
// the response.
func AddRequestID(router *mux.Router) {
	reqID := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := r.Header.Get(RequestIDHeader); id != "" && loggerFromContext(ctx) == nil {
				ctx = context.WithValue(ctx, contextKeyRequestLogger, logrus.WithField(requestIDLoggerKey, id))
			}
			ctx, _ = ContextWithLogger(ctx)
			w.Header().Set(RequestIDHeader, RequestIDFromContext(ctx))
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
	router.Use(reqID)
}

// Default returns a logger without a request ID.
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// ContextWithLogger returns a new context with a logger if the given context has no logger yet. If
// the context already has a logger the given context will be returned.
func ContextWithLogger(ctx context.Context) (context.Context, *logrus.Entry) {
	if ctx == nil {
		ctx = context.Background()
	} else if rlog := loggerFromContext(ctx); rlog != nil {
		return ctx, rlog
	}
	id, _ := uuid.NewUUID()
	rlog := logrus.WithField(requestIDLoggerKey, id.String())
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return nil
	}
	rlog, ok := ctx.Value(contextKeyRequestLogger).(*logrus.Entry)
	if !ok {
		return nil
	}
	return rlog
}

// FromContext returns the logger from the context. If the context does not have a logger
// the default logger is returned.
func FromContext(ctx context.Context) *logrus.Entry {
	if rlog := loggerFromContext(ctx); rlog != nil {
		return rlog
	}
	return Default()
}

// ContextWithLoggerIdentity returns a new context with a logger and identity.
func ContextWithLoggerIdentity(ctx context.Context, identity string) (context.Context, *logrus.Entry) {
	ctx, rlog := ContextWithLogger(ctx)
	rlog = rlog.WithField(identityLoggerKey, identity)
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

// RequestIDFromContext returns the request id for the given context.
func RequestIDFromContext(ctx context.Context) string {
	return loggerValues(ctx).RequestID
}

// IdentityFromContext returns the logged identity for the given context.
func IdentityFromContext(ctx context.Context) string {
	return loggerValues(ctx).Identity
}

func loggerValues(ctx context.Context) contextLoggerValues {
	var ctxValues contextLoggerValues
	rlog := loggerFromContext(ctx)
	if rlog == nil {
		return ctxValues
	}
	if s, ok := rlog.Data[requestIDLoggerKey].(string); ok {
		ctxValues.RequestID = s
	}
	if s, ok := rlog.Data[identityLoggerKey].(string); ok {
		ctxValues.Identity = s
	}
	return ctxValues
}
