// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/granja/core/logger"
	"github.com/relabs-tech/granja/core/resource"
)

// Envelope is the body of every response
type Envelope struct {
	Success bool              `json:"success"`
	Data    interface{}       `json:"data"`
	Message string            `json:"message,omitempty"`
	Kind    resource.Kind     `json:"kind,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// StatusOf returns the http status for an error kind
func StatusOf(kind resource.Kind) int {
	switch kind {
	case resource.KindValidation:
		return http.StatusBadRequest
	case resource.KindUnauthorized:
		return http.StatusUnauthorized
	case resource.KindForbidden:
		return http.StatusForbidden
	case resource.KindNotFound:
		return http.StatusNotFound
	case resource.KindRemote:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, e *Envelope) {
	body, err := json.Marshal(e)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 5001: marshal response")
		http.Error(w, "Error 5001", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeData(w http.ResponseWriter, r *http.Request, status int, data interface{}, message string) {
	writeEnvelope(w, r, status, &Envelope{Success: true, Data: data, Message: message})
}

// writeError turns any error into the failure envelope. Errors which are not
// resource errors are internal and logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rerr *resource.Error
	if !errors.As(err, &rerr) {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 5002: unexpected error")
		writeEnvelope(w, r, http.StatusInternalServerError, &Envelope{Message: "internal error"})
		return
	}
	status := StatusOf(rerr.Kind)
	if rerr.Kind == resource.KindRemote {
		logger.FromContext(r.Context()).WithError(err).Warnln("record store failed")
	}
	writeEnvelope(w, r, status, &Envelope{
		Message: rerr.Message,
		Kind:    rerr.Kind,
		Errors:  rerr.Fields,
	})
}
