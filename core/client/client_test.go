package client

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/granja/core/logger"
)

func TestPaths(t *testing.T) {

	client := NewWithRouter(nil)

	collection := client.Collection("entradas_lechones")
	if p := collection.Path(); p != "/api/collections/entradas_lechones/records" {
		t.Fatal("unexpected collection path:", p)
	}

	item := collection.Item("abc123")
	if p := item.Path(); p != "/api/collections/entradas_lechones/records/abc123" {
		t.Fatal("unexpected item path:", p)
	}

	collection = client.Collection("entradas_lechones").WithFilter(`user="U1"`).WithSort("-created")
	if p := collection.Path(); p != "/api/collections/entradas_lechones/records?filter=user%3D%22U1%22&sort=-created" {
		t.Fatal("unexpected collection path:", p)
	}

	// empty filter and sort are ignored
	collection = client.Collection("entradas_lechones").WithFilter("").WithSort("").WithExpand()
	if p := collection.Path(); p != "/api/collections/entradas_lechones/records" {
		t.Fatal("unexpected collection path:", p)
	}

	// WithParameter does not modify the receiver
	base := client.Collection("x").WithParameter("a", "1")
	_ = base.WithParameter("b", "2")
	if p := base.Path(); p != "/api/collections/x/records?a=1" {
		t.Fatal("unexpected collection path:", p)
	}

	withURL := NewWithURL("http://store.local/", 0)
	if u := withURL.FileURL("etiquetas_pienso", "r1", "label.pdf"); u != "http://store.local/api/files/etiquetas_pienso/r1/label.pdf" {
		t.Fatal("unexpected file url:", u)
	}
	if u := withURL.FileURL("etiquetas_pienso", "r1", ""); u != "" {
		t.Fatal("expected empty file url, got", u)
	}
}

func TestRecordsThroughRouter(t *testing.T) {
	router := mux.NewRouter()
	var lastAuth, lastRequestID, lastQuery string
	var lastBody map[string]interface{}
	var lastPayload string
	var lastFile []byte

	router.HandleFunc("/api/collections/{c}/records", func(w http.ResponseWriter, r *http.Request) {
		lastAuth = r.Header.Get("Authorization")
		lastRequestID = r.Header.Get(logger.RequestIDHeader)
		lastQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(ListResult{Page: 2, PerPage: 1, TotalItems: 3, TotalPages: 3,
			Items: []map[string]interface{}{{"id": "a"}}})
	}).Methods(http.MethodGet)

	router.HandleFunc("/api/collections/{c}/records", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") == "application/json" {
			json.NewDecoder(r.Body).Decode(&lastBody)
		} else {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			lastPayload = r.FormValue(JSONPayloadField)
			f, _, err := r.FormFile("archivo")
			require.NoError(t, err)
			lastFile, _ = io.ReadAll(f)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"new"}`))
	}).Methods(http.MethodPost)

	router.HandleFunc("/api/collections/{c}/records/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":404,"message":"The requested resource wasn't found.","data":{}}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/api/collections/{c}/records/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":400,"message":"Failed to update record.","data":{"nombre":{"code":"validation_required","message":"Missing required value."}}}`))
	}).Methods(http.MethodPatch)

	records := NewRecords(NewWithRouter(router))
	ctx, _ := logger.ContextWithLogger(context.Background())

	page, err := records.List(ctx, "tok", "c1", Query{Page: 2, PerPage: 1, Sort: "-created"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalItems)
	assert.Equal(t, "a", page.Items[0]["id"])
	assert.Equal(t, "Bearer tok", lastAuth)
	assert.Equal(t, logger.RequestIDFromContext(ctx), lastRequestID)
	assert.Equal(t, "sort=-created&page=2&perPage=1", lastQuery)

	created, err := records.Create(ctx, "tok", "c1", map[string]interface{}{"nombre": "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "new", created["id"])
	assert.Equal(t, "x", lastBody["nombre"])

	_, err = records.Create(ctx, "tok", "c1", map[string]interface{}{"nombre": "y"},
		[]File{{Field: "archivo", Name: "a.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"nombre":"y"}`, lastPayload)
	assert.Equal(t, []byte("%PDF"), lastFile)

	_, err = records.Get(ctx, "tok", "c1", "missing")
	assert.True(t, IsNotFound(err))

	_, err = records.Update(ctx, "tok", "c1", "r1", map[string]interface{}{"nombre": ""}, nil)
	require.Error(t, err)
	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, http.StatusBadRequest, storeErr.Status)
	assert.Equal(t, "Missing required value.", storeErr.Data["nombre"].Message)
}

func TestNewErrorPlainText(t *testing.T) {
	e := newError(http.StatusBadGateway, []byte("upstream down\n"))
	assert.Equal(t, "upstream down", e.Message)

	e = newError(http.StatusInternalServerError, nil)
	assert.Equal(t, http.StatusText(http.StatusInternalServerError), e.Message)
	assert.Equal(t, 0, StatusOf(io.EOF))
}
