// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// FieldError is the store's report about a single field
type FieldError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error is returned for every failed request to the store. Status is 0 if the
// store could not be reached at all.
type Error struct {
	Status  int
	Message string
	Data    map[string]FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return "record store unreachable: " + e.Message
	}
	return fmt.Sprintf("record store returned %d: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError parses the error payload of the store, {"code":..,"message":..,"data":{..}}.
// Bodies which are not JSON are taken as plain text message.
func newError(status int, body []byte) *Error {
	e := &Error{Status: status}
	var payload struct {
		Message string                `json:"message"`
		Data    map[string]FieldError `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		e.Message = payload.Message
		if len(payload.Data) > 0 {
			e.Data = payload.Data
		}
	} else {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// StatusOf returns the http status of a store error, or 0
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// IsNotFound returns true if the store reported that a record does not exist
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}
