// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// lambdaHandler is the signature of API gateway proxy handlers
type lambdaHandler func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// newLambdaHandler serves API gateway proxy events with an http handler
func newLambdaHandler(handler http.Handler) lambdaHandler {
	return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		r, err := toHTTPRequest(ctx, req)
		if err != nil {
			return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest, Body: err.Error()}, nil
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		return toProxyResponse(rec), nil
	}
}

func toHTTPRequest(ctx context.Context, req events.APIGatewayProxyRequest) (*http.Request, error) {
	query := url.Values{}
	for k, vs := range req.MultiValueQueryStringParameters {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	for k, v := range req.QueryStringParameters {
		if _, ok := query[k]; !ok {
			query.Set(k, v)
		}
	}
	u := url.URL{Path: req.Path, RawQuery: query.Encode()}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		var err error
		if body, err = base64.StdEncoding.DecodeString(req.Body); err != nil {
			return nil, err
		}
	}
	r, err := http.NewRequestWithContext(ctx, req.HTTPMethod, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, vs := range req.MultiValueHeaders {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	for k, v := range req.Headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	r.RequestURI = u.RequestURI()
	return r, nil
}

func toProxyResponse(rec *httptest.ResponseRecorder) events.APIGatewayProxyResponse {
	res := events.APIGatewayProxyResponse{
		StatusCode:        rec.Code,
		MultiValueHeaders: map[string][]string(rec.Header()),
	}
	contentType := rec.Header().Get("Content-Type")
	textual := strings.HasPrefix(contentType, "application/json") || strings.HasPrefix(contentType, "text/")
	if textual && rec.Header().Get("Content-Encoding") == "" {
		res.Body = rec.Body.String()
	} else {
		res.Body = base64.StdEncoding.EncodeToString(rec.Body.Bytes())
		res.IsBase64Encoded = true
	}
	return res
}
