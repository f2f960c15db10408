// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package api is the JSON API consumed by the presentation.

Every entity of the farm store gets the routes

	GET    /api/{entity}         list, with page, perPage, sort and granja
	POST   /api/{entity}         create, as JSON or as multipart form
	GET    /api/{entity}/{id}    read
	PATCH  /api/{entity}/{id}    sparse update, as JSON or as multipart form
	DELETE /api/{entity}/{id}    delete

plus the auxiliary queries of the registers (search, date range, overdue, duplicate
check, count) and the password reset of the user accounts.

All responses share one envelope. Success is

	{"success": true, "data": ..., "message": "..."}

and failure is

	{"success": false, "message": "...", "kind": "validation", "errors": {"field": "..."}}

where kind is one of validation, forbidden, not_found, remote and unauthorized.
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/granja/core/access"
	"github.com/relabs-tech/granja/core/logger"
	"github.com/relabs-tech/granja/core/metrics"
	"github.com/relabs-tech/granja/farm"
)

// Accounts is the password reset of the record store's user accounts
type Accounts interface {
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, token, password, passwordConfirm string) error
}

// API is the presentation facing JSON API
type API struct {
	router   *mux.Router
	store    *farm.Store
	accounts Accounts
	now      func() time.Time
	origins  []string
}

// Builder is a builder helper for the API
type Builder struct {
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Store gives access to the farm records. This is mandatory.
	Store *farm.Store
	// Accounts handles password resets. If nil, the password reset routes are not installed.
	Accounts Accounts
	// Jwt configures the bearer token middleware
	Jwt access.JwtMiddlewareBuilder
	// AllowedOrigins are the CORS origins. Default is all origins.
	AllowedOrigins []string
	// Now returns the current time, used as today for overdue queries. Default is time.Now.
	Now func() time.Time
}

// New realizes the API and adds its routes to the router
func New(b *Builder) *API {
	if b.Router == nil {
		panic("Router is missing")
	}
	if b.Store == nil {
		panic("Store is missing")
	}

	a := &API{
		router:   b.Router,
		store:    b.Store,
		accounts: b.Accounts,
		now:      b.Now,
		origins:  b.AllowedOrigins,
	}
	if a.now == nil {
		a.now = time.Now
	}
	if len(a.origins) == 0 {
		a.origins = []string{"*"}
	}

	logger.AddRequestID(a.router)
	a.router.Use(metrics.Middleware())
	a.router.Use(access.NewJwtMiddleware(&b.Jwt))
	a.handleCompression()

	a.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	a.handleRoutes()
	return a
}

// Handler returns the router wrapped with the CORS handling
func (a *API) Handler() http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins(a.origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization", logger.RequestIDHeader}),
		handlers.ExposedHeaders([]string{logger.RequestIDHeader}),
		handlers.MaxAge(86400),
	)(a.router)
}

func (a *API) handleCompression() {
	compressionMiddleware := func(h http.Handler) http.Handler {
		return handlers.CompressHandler(h)
	}
	a.router.Use(compressionMiddleware)
}

func (a *API) handleRoutes() {
	nillog := logger.FromContext(nil)
	nillog.Debugln("api: handle routes")

	// auxiliary routes go first, they would otherwise be taken for record identifiers
	a.handleQueries()

	handleResource(a.router, a.store.Farms)
	handleResource(a.router, a.store.PigletEntries)
	handleResource(a.router, a.store.FeedLabels)
	handleResource(a.router, a.store.EquipmentMaintenance)
	handleResource(a.router, a.store.EnvironmentalPlans)
	handleResource(a.router, a.store.HazardousWaste)

	if a.accounts != nil {
		a.handleAuth()
	}
}
