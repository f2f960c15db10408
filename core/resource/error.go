// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package resource

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/relabs-tech/granja/core/client"
	"github.com/relabs-tech/granja/core/schema"
)

// Kind discriminates the errors of resource operations
type Kind string

// all error kinds
const (
	KindValidation   Kind = "validation"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindRemote       Kind = "remote"
	KindUnauthorized Kind = "unauthorized"
)

// Error is the single error type of resource operations. Fields carries per field
// messages for validation errors. Status is the http status reported by the record
// store, if any.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Status  int
	Err     error
}

// Sentinels for errors.Is
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrForbidden    = &Error{Kind: KindForbidden}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrRemote       = &Error{Kind: KindRemote}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
)

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, strings.Join(parts, "; "))
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err, or "" if err is not an *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// NewValidationError returns a validation error with per field messages
func NewValidationError(message string, fields map[string]string) *Error {
	if message == "" {
		message = "the record is not valid"
	}
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

func fieldError(field, message string) *Error {
	return NewValidationError("the record is not valid", map[string]string{field: message})
}

func forbidden() *Error {
	return &Error{Kind: KindForbidden, Message: "the record belongs to another user"}
}

func notFound(id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("record %s does not exist", id)}
}

func unauthorized() *Error {
	return &Error{Kind: KindUnauthorized, Message: "authentication required"}
}

func fromSchema(err *schema.ValidationError) *Error {
	return NewValidationError("the record is not valid", err.FieldMap())
}

// FromRemote maps an error of the record store. Rejections which name fields become
// validation errors, so the presentation can show them next to the inputs.
func FromRemote(err error) *Error {
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	var ce *client.Error
	if !errors.As(err, &ce) {
		return &Error{Kind: KindRemote, Message: err.Error(), Err: err}
	}
	switch {
	case ce.Status == http.StatusNotFound:
		return &Error{Kind: KindNotFound, Message: ce.Message, Status: ce.Status, Err: err}
	case ce.Status == http.StatusUnauthorized:
		return &Error{Kind: KindUnauthorized, Message: ce.Message, Status: ce.Status, Err: err}
	case ce.Status == http.StatusForbidden:
		return &Error{Kind: KindForbidden, Message: ce.Message, Status: ce.Status, Err: err}
	case ce.Status == http.StatusBadRequest && len(ce.Data) > 0:
		fields := make(map[string]string, len(ce.Data))
		for k, v := range ce.Data {
			fields[k] = v.Message
		}
		return &Error{Kind: KindValidation, Message: ce.Message, Fields: fields, Status: ce.Status, Err: err}
	}
	return &Error{Kind: KindRemote, Message: ce.Message, Status: ce.Status, Err: err}
}
