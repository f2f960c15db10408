// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides access to the REST api of the remote record store.

The client talks either to a remote store over HTTP, or directly to a mux router.
Instead of marshalling HTTP, the router client serves requests in-process, which is
the tool of choice for unit tests and for the development mode with the in-process
store.

Records live in named collections:

	GET    /api/collections/{collection}/records?page=&perPage=&filter=&sort=&expand=
	GET    /api/collections/{collection}/records/{id}
	POST   /api/collections/{collection}/records
	PATCH  /api/collections/{collection}/records/{id}
	DELETE /api/collections/{collection}/records/{id}

Attached files are served from /api/files/{collection}/{id}/{filename}.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/granja/core/metrics"
)

// JSONPayloadField is the multipart form field which carries the non-file fields of a record
const JSONPayloadField = "@jsonPayload"

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the store,
// through the mux router
//
// WithToken() adds an authorization token to the request header.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the store at url.
// A zero timeout means 20 seconds.
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return Client{
		url:            strings.TrimSuffix(url, "/"),
		httpClient:     &http.Client{Timeout: timeout},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	// we want a true copy to avoid side effects
	headers := map[string]string{key: value}
	for k, v := range c.defaultHeaders {
		if k != key {
			headers[k] = v
		}
	}
	c.defaultHeaders = headers
	return c
}

// WithToken returns a new client which sends token as bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context of this client
func (c Client) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// URL returns the base URL of the store. It is empty for router clients.
func (c Client) URL() string {
	return c.url
}

// FileURL returns the download URL of an attached file
func (c Client) FileURL(collection, id, filename string) string {
	if filename == "" {
		return ""
	}
	return c.url + "/api/files/" + url.PathEscape(collection) + "/" + url.PathEscape(id) + "/" + url.PathEscape(filename)
}

// Collection represents a collection of records
type Collection struct {
	client     *Client
	name       string
	parameters []string
}

// Collection returns a new collection client
func (c Client) Collection(name string) Collection {
	return Collection{client: &c, name: name}
}

// WithParameter returns a new collection client with a URL parameter added.
func (r Collection) WithParameter(key string, value string) Collection {
	parameter := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	return Collection{
		client: r.client,
		name:   r.name,
		// we want a true copy to avoid side effects
		parameters: append(append([]string{}, r.parameters...), parameter),
	}
}

// WithFilter returns a new collection client with a filter expression. An empty
// expression is ignored.
func (r Collection) WithFilter(expression string) Collection {
	if expression == "" {
		return r
	}
	return r.WithParameter("filter", expression)
}

// WithSort returns a new collection client with a sort parameter, for example "-created"
func (r Collection) WithSort(sort string) Collection {
	if sort == "" {
		return r
	}
	return r.WithParameter("sort", sort)
}

// WithExpand returns a new collection client which expands the given relations
func (r Collection) WithExpand(relations ...string) Collection {
	if len(relations) == 0 {
		return r
	}
	return r.WithParameter("expand", strings.Join(relations, ","))
}

// Path returns the path of the collection plus optional query strings
func (r Collection) Path() string {
	path := "/api/collections/" + url.PathEscape(r.name) + "/records"
	if len(r.parameters) > 0 {
		path += "?" + strings.Join(r.parameters, "&")
	}
	return path
}

// ListResult is one page of a collection
type ListResult struct {
	Page       int                      `json:"page"`
	PerPage    int                      `json:"perPage"`
	TotalItems int                      `json:"totalItems"`
	TotalPages int                      `json:"totalPages"`
	Items      []map[string]interface{} `json:"items"`
}

// List gets one page of the collection.
//
// The operation corresponds to a GET request. Expects http.StatusOK as response,
// otherwise it will flag an error. Returns the actual http status code.
func (r Collection) List(page, perPage int, result *ListResult) (int, error) {
	path := r.WithParameter("page", strconv.Itoa(page)).WithParameter("perPage", strconv.Itoa(perPage)).Path()
	return r.client.RawGet(path, result)
}

// Create creates a new record.
//
// The operation corresponds to a POST request. Expects http.StatusOK or http.StatusCreated
// as response, otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte. result can be nil.
func (r Collection) Create(body interface{}, result interface{}) (int, error) {
	return r.client.RawPost(r.Path(), body, result)
}

// CreateMultipart creates a new record with attached files. The body is sent as
// JSON in the @jsonPayload form field.
func (r Collection) CreateMultipart(body interface{}, files []File, result interface{}) (int, error) {
	return r.client.RawMultipart(http.MethodPost, r.Path(), body, files, result)
}

// Item represents a single record in a collection
type Item struct {
	col Collection
	id  string
}

// Item gets a record from a collection
func (r Collection) Item(id string) Item {
	return Item{col: r, id: id}
}

// Path returns the path for this item. Parameters of the collection are kept.
func (r Item) Path() string {
	path := "/api/collections/" + url.PathEscape(r.col.name) + "/records/" + url.PathEscape(r.id)
	if len(r.col.parameters) > 0 {
		path += "?" + strings.Join(r.col.parameters, "&")
	}
	return path
}

// Read reads a record.
//
// The operation corresponds to a GET request. Expects http.StatusOK as response,
// otherwise it will flag an error. Returns the actual http status code.
func (r Item) Read(result interface{}) (int, error) {
	return r.col.client.RawGet(r.Path(), result)
}

// Update updates the fields of the record present in body. Fields not in body
// are left untouched.
//
// The operation corresponds to a PATCH request. Expects http.StatusOK as response,
// otherwise it will flag an error. Returns the actual http status code.
func (r Item) Update(body interface{}, result interface{}) (int, error) {
	return r.col.client.RawPatch(r.Path(), body, result)
}

// UpdateMultipart updates the record and replaces attached files
func (r Item) UpdateMultipart(body interface{}, files []File, result interface{}) (int, error) {
	return r.col.client.RawMultipart(http.MethodPatch, r.Path(), body, files, result)
}

// Delete deletes the record
//
// The operation corresponds to a DELETE request. Expects http.StatusNoContent as
// response, otherwise it will flag an error. Returns the actual http status code.
func (r Item) Delete() (int, error) {
	return r.col.client.RawDelete(r.Path())
}

// File is a file attachment of a multipart request
type File struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

func (c Client) do(method, path string, contentType string, body io.Reader) (int, []byte, error) {
	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, body)
	if err != nil {
		return http.StatusBadRequest, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	var res *http.Response
	var resBody []byte
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res = rec.Result()
		resBody = rec.Body.Bytes()
	} else {
		res, err = c.httpClient.Do(r)
		if err != nil {
			metrics.ObserveRemoteRequest(method, 0, time.Since(start))
			return 0, nil, &Error{Message: err.Error(), Err: err}
		}
		defer res.Body.Close()
		resBody, err = io.ReadAll(res.Body)
		if err != nil {
			metrics.ObserveRemoteRequest(method, 0, time.Since(start))
			return res.StatusCode, nil, &Error{Status: res.StatusCode, Message: err.Error(), Err: err}
		}
	}
	metrics.ObserveRemoteRequest(method, res.StatusCode, time.Since(start))
	return res.StatusCode, resBody, nil
}

func decode(resBody []byte, result interface{}) error {
	if len(resBody) == 0 || result == nil {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = resBody
		return nil
	}
	return json.Unmarshal(resBody, result)
}

func marshalBody(method, path string, body interface{}) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if j, ok := body.([]byte); ok {
		return j, nil
	}
	j, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s to %s: %w", method, path, err)
	}
	return j, nil
}

// RawGet gets the resource from path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// The path can be extend with query strings.
//
// result can be a struct, map[string]interface{} or a raw *[]byte. result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	status, resBody, err := c.do(http.MethodGet, path, "", nil)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, newError(status, resBody)
	}
	return status, decode(resBody, result)
}

// RawPost posts a resource to path. Expects http.StatusCreated or http.StatusOK as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte. result can be nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	j, err := marshalBody(http.MethodPost, path, body)
	if err != nil {
		return http.StatusBadRequest, err
	}
	status, resBody, err := c.do(http.MethodPost, path, "application/json", bytes.NewReader(j))
	if err != nil {
		return status, err
	}
	if status != http.StatusCreated && status != http.StatusOK && status != http.StatusNoContent {
		return status, newError(status, resBody)
	}
	return status, decode(resBody, result)
}

// RawPatch sends a patch to path. Expects http.StatusOK or http.StatusNoContent as valid responses,
// otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte. result can be nil.
func (c Client) RawPatch(path string, body interface{}, result interface{}) (int, error) {
	j, err := marshalBody(http.MethodPatch, path, body)
	if err != nil {
		return http.StatusBadRequest, err
	}
	status, resBody, err := c.do(http.MethodPatch, path, "application/json", bytes.NewReader(j))
	if err != nil {
		return status, err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return status, newError(status, resBody)
	}
	return status, decode(resBody, result)
}

// RawMultipart sends body and files as a multipart form with the given method. The
// non-file fields are sent as JSON in the @jsonPayload field.
func (c Client) RawMultipart(method, path string, body interface{}, files []File, result interface{}) (int, error) {
	j, err := marshalBody(method, path, body)
	if err != nil {
		return http.StatusBadRequest, err
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	if j != nil {
		if err = w.WriteField(JSONPayloadField, string(j)); err != nil {
			return http.StatusBadRequest, err
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(f.Field), escapeQuotes(f.Name)))
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)
		fw, err := w.CreatePart(h)
		if err != nil {
			return http.StatusBadRequest, err
		}
		if _, err = fw.Write(f.Data); err != nil {
			return http.StatusBadRequest, err
		}
	}
	if err = w.Close(); err != nil {
		return http.StatusBadRequest, err
	}

	status, resBody, err := c.do(method, path, w.FormDataContentType(), &b)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return status, newError(status, resBody)
	}
	return status, decode(resBody, result)
}

// RawDelete deletes the resource at path. Expects http.StatusNoContent or http.StatusOK
// as response, otherwise it will flag an error.
//
// Returns the actual http status code.
func (c Client) RawDelete(path string) (int, error) {
	status, resBody, err := c.do(http.MethodDelete, path, "", nil)
	if err != nil {
		return status, err
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return status, newError(status, resBody)
	}
	return status, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
