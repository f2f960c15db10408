// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/granja/core/access"
	"github.com/relabs-tech/granja/core/client"
	"github.com/relabs-tech/granja/core/logger"
	"github.com/relabs-tech/granja/core/resource"
	"github.com/relabs-tech/granja/farm"
)

// MaxBodySize limits request bodies, including uploads
const MaxBodySize = 32 << 20

// resourceHandler serves the record routes of one entity
type resourceHandler[T any] struct {
	accessor *resource.Accessor[T]
}

func handleResource[T any](router *mux.Router, accessor *resource.Accessor[T]) {
	h := resourceHandler[T]{accessor: accessor}
	listRoute := "/api/" + accessor.Name()
	itemRoute := listRoute + "/{id}"

	nillog := logger.FromContext(nil)
	nillog.Debugln("  handle resource routes:", listRoute, "GET,POST")
	nillog.Debugln("  handle resource routes:", itemRoute, "GET,PATCH,DELETE")

	router.HandleFunc(listRoute, h.list).Methods(http.MethodGet)
	router.HandleFunc(listRoute, h.create).Methods(http.MethodPost)
	router.HandleFunc(itemRoute, h.read).Methods(http.MethodGet)
	router.HandleFunc(itemRoute, h.update).Methods(http.MethodPatch)
	router.HandleFunc(itemRoute, h.delete).Methods(http.MethodDelete)
}

// pageOf reads the page and perPage query parameters
func pageOf(r *http.Request) (resource.Page, error) {
	page := resource.DefaultPage
	fields := map[string]string{}
	if s := r.URL.Query().Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			fields["page"] = "must be a number"
		}
		page.Page = n
	}
	if s := r.URL.Query().Get("perPage"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			fields["perPage"] = "must be a number"
		}
		page.PerPage = n
	}
	if len(fields) > 0 {
		return page, resource.NewValidationError("invalid pagination", fields)
	}
	return page, nil
}

func scopeOf(r *http.Request) resource.Scope {
	return resource.Scope{Parent: r.URL.Query().Get(farm.ParentField)}
}

func callerOf(r *http.Request) *access.Caller {
	return access.CallerFromContext(r.Context())
}

// readBody returns the JSON part of a request and its uploaded files. Multipart
// forms carry the JSON in the @jsonPayload field and one file per attachment field.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, []resource.File, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, nil, resource.NewValidationError("cannot read request body: "+err.Error(), nil)
		}
		return body, nil, nil
	}

	if err := r.ParseMultipartForm(MaxBodySize); err != nil {
		return nil, nil, resource.NewValidationError("invalid multipart form: "+err.Error(), nil)
	}
	payload := []byte(r.FormValue(client.JSONPayloadField))
	var files []resource.File
	for field, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return nil, nil, resource.NewValidationError("cannot read file "+fh.Filename, nil)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, nil, resource.NewValidationError("cannot read file "+fh.Filename, nil)
			}
			files = append(files, resource.File{
				Field:       field,
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}
	return payload, files, nil
}

func decodeJSON(body []byte, v interface{}) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return resource.NewValidationError("invalid JSON: "+err.Error(), nil)
	}
	return nil
}

func (h resourceHandler[T]) list(w http.ResponseWriter, r *http.Request) {
	page, err := pageOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.accessor.List(r.Context(), callerOf(r), scopeOf(r), page, r.URL.Query().Get("sort"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, list, "")
}

func (h resourceHandler[T]) create(w http.ResponseWriter, r *http.Request) {
	body, files, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var payload T
	if err := decodeJSON(body, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	// the farm of a register comes from the query or from the body
	scope := scopeOf(r)
	if scope.Parent == "" && h.accessor.HasParent() {
		var top map[string]interface{}
		if err := decodeJSON(body, &top); err == nil {
			scope.Parent, _ = top[farm.ParentField].(string)
		}
	}

	item, err := h.accessor.Create(r.Context(), callerOf(r), scope, payload, files...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, item, "registro creado")
}

func (h resourceHandler[T]) read(w http.ResponseWriter, r *http.Request) {
	item, err := h.accessor.Get(r.Context(), callerOf(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, item, "")
}

func (h resourceHandler[T]) update(w http.ResponseWriter, r *http.Request) {
	body, files, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	patch := resource.Patch{}
	if err := decodeJSON(body, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	item, err := h.accessor.Update(r.Context(), callerOf(r), mux.Vars(r)["id"], patch, files...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, item, "registro actualizado")
}

func (h resourceHandler[T]) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.accessor.Delete(r.Context(), callerOf(r), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, nil, "registro eliminado")
}
