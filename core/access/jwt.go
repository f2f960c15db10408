// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/relabs-tech/granja/core/logger"
)

// ErrInvalidToken is returned for tokens which cannot be parsed, are expired, fail
// verification or carry no user identifier
var ErrInvalidToken = errors.New("invalid token")

// JwtMiddlewareBuilder is a helper builder for JwtMiddleware
type JwtMiddlewareBuilder struct {
	// Secret verifies HS256 signatures of the record store's auth tokens. If empty,
	// tokens are only decoded; the record store still verifies every forwarded token.
	Secret string
	// CacheSize is the number of tokens kept in the caller cache. Default is 1024.
	CacheSize int
	// CacheTTL is the time a decoded token stays in the cache. Default is 5 minutes.
	CacheTTL time.Duration
}

type tokenClaims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// TokenParser decodes bearer tokens into callers
type TokenParser struct {
	secret []byte
	cache  *expirable.LRU[string, Caller]
}

// NewTokenParser creates a token parser with the given configuration
func NewTokenParser(jmb *JwtMiddlewareBuilder) *TokenParser {
	size := jmb.CacheSize
	if size <= 0 {
		size = 1024
	}
	ttl := jmb.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenParser{
		secret: []byte(jmb.Secret),
		cache:  expirable.NewLRU[string, Caller](size, nil, ttl),
	}
}

// Parse decodes a token. The caller identifier is the "id" claim, or "sub" if
// there is no "id".
func (p *TokenParser) Parse(tokenString string) (*Caller, error) {
	if c, ok := p.cache.Get(tokenString); ok {
		return &c, nil
	}

	var claims tokenClaims
	var err error
	if len(p.secret) > 0 {
		_, err = jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method " + token.Method.Alg())
			}
			return p.secret, nil
		})
	} else {
		_, _, err = new(jwt.Parser).ParseUnverified(tokenString, &claims)
		if err == nil {
			err = claims.Valid()
		}
	}
	if err != nil {
		return nil, ErrInvalidToken
	}

	id := claims.ID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return nil, ErrInvalidToken
	}
	c := Caller{ID: id, Email: claims.Email, Token: tokenString}
	p.cache.Add(tokenString, c)
	return &c, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) == 0 || bearer == "null" {
		return ""
	}
	if len(bearer) >= 7 && strings.ToLower(bearer[:7]) == "bearer " {
		return strings.TrimSpace(bearer[7:])
	}
	return bearer
}

// NewJwtMiddleware returns a middleware handler which adds the caller to the
// request context.
//
// Requests without a token pass unchanged; handlers which need a caller reject
// them. A request with a token that cannot be decoded is rejected with
// http.StatusUnauthorized.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	parser := NewTokenParser(jmb)
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if CallerFromContext(r.Context()) != nil { // already authenticated
				h.ServeHTTP(w, r)
				return
			}
			tokenString := BearerToken(r)
			if tokenString == "" {
				h.ServeHTTP(w, r)
				return
			}
			caller, err := parser.Parse(tokenString)
			if err != nil {
				logger.FromContext(r.Context()).WithError(err).Infoln("rejected bearer token")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx, _ := logger.ContextWithLoggerIdentity(r.Context(), caller.ID)
			ctx = caller.ContextWithCaller(ctx)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
