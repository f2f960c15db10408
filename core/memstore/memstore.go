// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package memstore is an in-process record store which speaks the REST api of the
remote record store.

It keeps all collections in memory and is meant for unit tests and for the dev mode
of the service. Collections are created on first use. Record rules are open: any
request with a bearer token may read and write any record, so ownership must be
enforced by the caller of the store, exactly like with a permissive remote store.

Typical usage:

	router := mux.NewRouter()
	store := memstore.New(router)
	records := client.NewRecords(client.NewWithRouter(router))
*/
package memstore

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/mail"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/granja/core/filter"
	"github.com/relabs-tech/granja/core/logger"
)

const (
	defaultPerPage = 30
	maxPerPage     = 500
	maxUploadSize  = 64 << 20
)

type record struct {
	seq    int64
	fields map[string]interface{}
}

type storedFile struct {
	contentType string
	data        []byte
}

// Store is the in-process record store
type Store struct {
	// Now returns the current time. Tests may replace it.
	Now func() time.Time

	mu          sync.Mutex
	seq         int64
	collections map[string]map[string]*record
	files       map[string]storedFile
	required    map[string][]string
	resets      map[string]string
	passwords   map[string]string
	requests    int
	requireAuth bool
}

// New creates a store and registers its routes with router
func New(router *mux.Router) *Store {
	s := &Store{
		Now:         time.Now,
		collections: map[string]map[string]*record{},
		files:       map[string]storedFile{},
		required:    map[string][]string{},
		resets:      map[string]string{},
		passwords:   map[string]string{},
		requireAuth: true,
	}

	logger.Default().Debugln("in-process record store enabled")
	logger.Default().Debugln("  handle route: /api/collections/users/request-password-reset POST")
	logger.Default().Debugln("  handle route: /api/collections/users/confirm-password-reset POST")
	logger.Default().Debugln("  handle route: /api/collections/{collection}/records GET,POST")
	logger.Default().Debugln("  handle route: /api/collections/{collection}/records/{id} GET,PATCH,DELETE")
	logger.Default().Debugln("  handle route: /api/files/{collection}/{id}/{filename} GET")

	router.HandleFunc("/api/collections/users/request-password-reset", s.count(s.requestPasswordReset)).Methods(http.MethodPost)
	router.HandleFunc("/api/collections/users/confirm-password-reset", s.count(s.confirmPasswordReset)).Methods(http.MethodPost)
	router.HandleFunc("/api/collections/{collection}/records", s.count(s.authorized(s.list))).Methods(http.MethodGet)
	router.HandleFunc("/api/collections/{collection}/records", s.count(s.authorized(s.create))).Methods(http.MethodPost)
	router.HandleFunc("/api/collections/{collection}/records/{id}", s.count(s.authorized(s.read))).Methods(http.MethodGet)
	router.HandleFunc("/api/collections/{collection}/records/{id}", s.count(s.authorized(s.update))).Methods(http.MethodPatch)
	router.HandleFunc("/api/collections/{collection}/records/{id}", s.count(s.authorized(s.delete))).Methods(http.MethodDelete)
	router.HandleFunc("/api/files/{collection}/{id}/{filename}", s.count(s.file)).Methods(http.MethodGet)
	return s
}

// AllowAnonymous lets requests without bearer token access records
func (s *Store) AllowAnonymous() *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireAuth = false
	return s
}

// Require makes the store reject new records of collection which lack any of fields,
// the way a remote store with required fields does.
func (s *Store) Require(collection string, fields ...string) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.required[collection] = append(s.required[collection], fields...)
	return s
}

// Requests returns the number of requests the store has served
func (s *Store) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Len returns the number of records in collection
func (s *Store) Len(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collections[collection])
}

// ResetToken returns the last password reset token sent to email, or ""
func (s *Store) ResetToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, e := range s.resets {
		if e == email {
			return token
		}
	}
	return ""
}

// Password returns the password set for email with a password reset, or ""
func (s *Store) Password(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passwords[email]
}

func (s *Store) count(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		s.mu.Unlock()
		h(w, r)
	}
}

func (s *Store) authorized(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		requireAuth := s.requireAuth
		s.mu.Unlock()
		if requireAuth && !strings.HasPrefix(strings.ToLower(r.Header.Get("Authorization")), "bearer ") {
			writeError(w, http.StatusUnauthorized, "The request requires valid record authorization token to be set.", nil)
			return
		}
		h(w, r)
	}
}

type fieldError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, message string, data map[string]fieldError) {
	if data == nil {
		data = map[string]fieldError{}
	}
	writeJSON(w, status, map[string]interface{}{
		"code":    status,
		"message": message,
		"data":    data,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	j, err := json.Marshal(body)
	if err != nil {
		logger.Default().WithError(err).Errorln("Error 3001: marshal response")
		http.Error(w, "Error 3001", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(j)
}

func (s *Store) newID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:15]
}

func (s *Store) timestamp() string {
	return s.Now().UTC().Format(filter.DateTimeLayout)
}

func output(collection string, rec *record) map[string]interface{} {
	out := make(map[string]interface{}, len(rec.fields)+1)
	for k, v := range rec.fields {
		out[k] = v
	}
	out["collectionName"] = collection
	return out
}

func (s *Store) list(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	q := r.URL.Query()

	page, err := intParameter(q.Get("page"), 1)
	if err != nil || page < 1 {
		page = 1
	}
	perPage, err := intParameter(q.Get("perPage"), defaultPerPage)
	if err != nil || perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	node, err := filter.Parse(q.Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Something went wrong while processing your request. Invalid filter parameters.", nil)
		return
	}

	s.mu.Lock()
	var matches []*record
	for _, rec := range s.collections[collection] {
		if node.Match(rec.fields) {
			matches = append(matches, rec)
		}
	}
	s.mu.Unlock()

	sortRecords(matches, q.Get("sort"))

	total := len(matches)
	totalPages := (total + perPage - 1) / perPage
	items := []map[string]interface{}{}
	from := (page - 1) * perPage
	for i := from; i < total && i < from+perPage; i++ {
		items = append(items, output(collection, matches[i]))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"page":       page,
		"perPage":    perPage,
		"totalItems": total,
		"totalPages": totalPages,
		"items":      items,
	})
}

func intParameter(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

// sortRecords sorts by a comma separated list of fields, each optionally prefixed
// with - for descending order. Ties keep insertion order.
func sortRecords(records []*record, sortParam string) {
	var keys []string
	for _, k := range strings.Split(sortParam, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, k := range keys {
			desc := strings.HasPrefix(k, "-")
			field := strings.TrimLeft(k, "+-")
			c := filter.Compare(records[i].fields[field], records[j].fields[field])
			if c == 0 && (field == "created" || field == "updated") {
				c = compareSeq(records[i].seq, records[j].seq)
			}
			if c == 0 {
				continue
			}
			if desc {
				return c > 0
			}
			return c < 0
		}
		return records[i].seq < records[j].seq
	})
}

func compareSeq(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (s *Store) read(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.mu.Lock()
	rec, ok := s.collections[vars["collection"]][vars["id"]]
	var out map[string]interface{}
	if ok {
		out = output(vars["collection"], rec)
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "The requested resource wasn't found.", nil)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type upload struct {
	field       string
	name        string
	contentType string
	data        []byte
}

// readBody reads a JSON body, or a multipart form with the JSON fields in
// @jsonPayload and plain form fields as strings.
func readBody(r *http.Request) (map[string]interface{}, []upload, error) {
	body := map[string]interface{}{}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, nil, err
		}
		if len(data) > 0 {
			if err = json.Unmarshal(data, &body); err != nil {
				return nil, nil, err
			}
		}
		return body, nil, nil
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, nil, err
	}
	for key, values := range r.MultipartForm.Value {
		if len(values) == 0 {
			continue
		}
		if key == "@jsonPayload" {
			if err := json.Unmarshal([]byte(values[0]), &body); err != nil {
				return nil, nil, err
			}
			continue
		}
		body[key] = values[0]
	}
	var uploads []upload
	for field, headers := range r.MultipartForm.File {
		for _, h := range headers {
			data, err := readPart(h)
			if err != nil {
				return nil, nil, err
			}
			uploads = append(uploads, upload{
				field:       field,
				name:        h.Filename,
				contentType: h.Header.Get("Content-Type"),
				data:        data,
			})
		}
	}
	return body, uploads, nil
}

func readPart(h *multipart.FileHeader) ([]byte, error) {
	f, err := h.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// storedName returns a unique file name keeping the extension of name
func (s *Store) storedName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" || base == "." || base == "/" {
		base = "file"
	}
	return base + "_" + s.newID()[:10] + strings.ToLower(ext)
}

func fileKey(collection, id, filename string) string {
	return collection + "/" + id + "/" + filename
}

// storeUploads stores uploaded files and sets their names on fields. Files of a field
// replace the previous file of that field. Must be called with the lock held.
func (s *Store) storeUploads(collection, id string, fields map[string]interface{}, uploads []upload) {
	for _, u := range uploads {
		if old, ok := fields[u.field].(string); ok && old != "" {
			delete(s.files, fileKey(collection, id, old))
		}
		name := s.storedName(u.name)
		s.files[fileKey(collection, id, name)] = storedFile{contentType: u.contentType, data: u.data}
		fields[u.field] = name
	}
}

func writableFields(body map[string]interface{}) map[string]interface{} {
	fields := map[string]interface{}{}
	for k, v := range body {
		switch k {
		case "id", "created", "updated", "collectionName", "collectionId", "expand":
			continue
		}
		fields[k] = v
	}
	return fields
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}

func (s *Store) create(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	body, uploads, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to load the submitted data due to invalid formatting.", nil)
		return
	}
	fields := writableFields(body)

	s.mu.Lock()
	if missing := s.missingFields(collection, fields, uploads); len(missing) > 0 {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "Failed to create record.", missing)
		return
	}
	id := s.newID()
	now := s.timestamp()
	fields["id"] = id
	fields["created"] = now
	fields["updated"] = now
	s.storeUploads(collection, id, fields, uploads)

	s.seq++
	rec := &record{seq: s.seq, fields: fields}
	if s.collections[collection] == nil {
		s.collections[collection] = map[string]*record{}
	}
	s.collections[collection][id] = rec
	out := output(collection, rec)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

// missingFields checks the required fields of collection. Must be called with the
// lock held.
func (s *Store) missingFields(collection string, fields map[string]interface{}, uploads []upload) map[string]fieldError {
	missing := map[string]fieldError{}
	for _, f := range s.required[collection] {
		if isEmpty(fields[f]) && !hasUpload(uploads, f) {
			missing[f] = fieldError{Code: "validation_required", Message: "Missing required value."}
		}
	}
	return missing
}

func hasUpload(uploads []upload, field string) bool {
	for _, u := range uploads {
		if u.field == field {
			return true
		}
	}
	return false
}

func (s *Store) update(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	collection, id := vars["collection"], vars["id"]
	body, uploads, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to load the submitted data due to invalid formatting.", nil)
		return
	}

	s.mu.Lock()
	rec, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "The requested resource wasn't found.", nil)
		return
	}
	fields := make(map[string]interface{}, len(rec.fields))
	for k, v := range rec.fields {
		fields[k] = v
	}
	for k, v := range writableFields(body) {
		fields[k] = v
	}
	if missing := s.missingFields(collection, fields, uploads); len(missing) > 0 {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "Failed to update record.", missing)
		return
	}
	s.storeUploads(collection, id, fields, uploads)
	fields["updated"] = s.timestamp()
	rec.fields = fields
	out := output(collection, rec)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Store) delete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	collection, id := vars["collection"], vars["id"]

	s.mu.Lock()
	_, ok := s.collections[collection][id]
	if ok {
		delete(s.collections[collection], id)
		prefix := fileKey(collection, id, "")
		for key := range s.files {
			if strings.HasPrefix(key, prefix) {
				delete(s.files, key)
			}
		}
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "The requested resource wasn't found.", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Store) file(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.mu.Lock()
	f, ok := s.files[fileKey(vars["collection"], vars["id"], vars["filename"])]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "The requested resource wasn't found.", nil)
		return
	}
	if f.contentType != "" {
		w.Header().Set("Content-Type", f.contentType)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(f.data)))
	w.WriteHeader(http.StatusOK)
	w.Write(f.data)
}

func (s *Store) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to load the submitted data due to invalid formatting.", nil)
		return
	}
	if _, err := mail.ParseAddress(body.Email); err != nil || body.Email == "" {
		writeError(w, http.StatusBadRequest, "An error occurred while validating the submitted data.",
			map[string]fieldError{"email": {Code: "validation_is_email", Message: "Must be a valid email address."}})
		return
	}
	token := uuid.New().String()
	s.mu.Lock()
	for t, e := range s.resets {
		if e == body.Email {
			delete(s.resets, t)
		}
	}
	s.resets[token] = body.Email
	s.mu.Unlock()
	logger.FromContext(r.Context()).Infof("password reset requested for %s", body.Email)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Store) confirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token           string `json:"token"`
		Password        string `json:"password"`
		PasswordConfirm string `json:"passwordConfirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to load the submitted data due to invalid formatting.", nil)
		return
	}
	data := map[string]fieldError{}
	s.mu.Lock()
	email, ok := s.resets[body.Token]
	s.mu.Unlock()
	if !ok {
		data["token"] = fieldError{Code: "validation_invalid_token", Message: "Invalid or expired token."}
	}
	if len(body.Password) < 8 {
		data["password"] = fieldError{Code: "validation_length_out_of_range", Message: fmt.Sprintf("The length must be between %d and %d.", 8, 72)}
	}
	if body.Password != body.PasswordConfirm {
		data["passwordConfirm"] = fieldError{Code: "validation_values_mismatch", Message: "Values don't match."}
	}
	if len(data) > 0 {
		writeError(w, http.StatusBadRequest, "An error occurred while validating the submitted data.", data)
		return
	}
	s.mu.Lock()
	delete(s.resets, body.Token)
	s.passwords[email] = body.Password
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}
