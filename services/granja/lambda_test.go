package main

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLambdaHandler(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/echo/{id}", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Echo", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"` + mux.Vars(r)["id"] + `","page":"` + r.URL.Query().Get("page") + `","body":` + string(body) + `}`))
	}).Methods(http.MethodPost)
	router.HandleFunc("/bin", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	h := newLambdaHandler(router)

	res, err := h(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:            http.MethodPost,
		Path:                  "/api/echo/42",
		QueryStringParameters: map[string]string{"page": "2"},
		Headers:               map[string]string{"Authorization": "Bearer t"},
		Body:                  base64.StdEncoding.EncodeToString([]byte(`{"a":1}`)),
		IsBase64Encoded:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.False(t, res.IsBase64Encoded)
	assert.JSONEq(t, `{"id":"42","page":"2","body":{"a":1}}`, res.Body)
	assert.Equal(t, []string{"Bearer t"}, res.MultiValueHeaders["X-Echo"])

	res, err = h(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/bin"})
	require.NoError(t, err)
	assert.True(t, res.IsBase64Encoded)
	data, err := base64.StdEncoding.DecodeString(res.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)

	res, err = h(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/bin", Body: "%%", IsBase64Encoded: true})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}
