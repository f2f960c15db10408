// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package client

import (
	"context"

	"github.com/relabs-tech/granja/core/logger"
)

// Query selects one page of a collection
type Query struct {
	Page    int
	PerPage int
	Filter  string
	Sort    string
	Expand  []string
}

// Records gives access to the records of the store on behalf of a caller. It is
// the single factory for clients: every call creates a client bound to the caller's
// token and the request context, so no authentication state is shared between calls.
type Records struct {
	base Client
}

// NewRecords returns record access through the given base client
func NewRecords(base Client) *Records {
	return &Records{base: base}
}

// Client returns a client bound to ctx and token. The request ID of ctx is
// forwarded to the store.
func (r *Records) Client(ctx context.Context, token string) Client {
	c := r.base.WithContext(ctx).WithToken(token)
	if id := logger.RequestIDFromContext(ctx); id != "" {
		c = c.WithHeader(logger.RequestIDHeader, id)
	}
	return c
}

// List returns one page of a collection
func (r *Records) List(ctx context.Context, token, collection string, q Query) (*ListResult, error) {
	col := r.Client(ctx, token).Collection(collection).
		WithFilter(q.Filter).
		WithSort(q.Sort).
		WithExpand(q.Expand...)
	var result ListResult
	if _, err := col.List(q.Page, q.PerPage, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Get returns a single record
func (r *Records) Get(ctx context.Context, token, collection, id string) (map[string]interface{}, error) {
	var result map[string]interface{}
	if _, err := r.Client(ctx, token).Collection(collection).Item(id).Read(&result); err != nil {
		return nil, err
	}
	return result, nil
}

// Create creates a record. With files, the record is sent as multipart form.
func (r *Records) Create(ctx context.Context, token, collection string, body map[string]interface{}, files []File) (map[string]interface{}, error) {
	col := r.Client(ctx, token).Collection(collection)
	var result map[string]interface{}
	var err error
	if len(files) > 0 {
		_, err = col.CreateMultipart(body, files, &result)
	} else {
		_, err = col.Create(body, &result)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Update updates the fields in body. With files, the record is sent as multipart form.
func (r *Records) Update(ctx context.Context, token, collection, id string, body map[string]interface{}, files []File) (map[string]interface{}, error) {
	item := r.Client(ctx, token).Collection(collection).Item(id)
	var result map[string]interface{}
	var err error
	if len(files) > 0 {
		_, err = item.UpdateMultipart(body, files, &result)
	} else {
		_, err = item.Update(body, &result)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete deletes a record
func (r *Records) Delete(ctx context.Context, token, collection, id string) error {
	_, err := r.Client(ctx, token).Collection(collection).Item(id).Delete()
	return err
}

// FileURL returns the download URL of an attached file
func (r *Records) FileURL(collection, id, filename string) string {
	return r.base.FileURL(collection, id, filename)
}

// RequestPasswordReset asks the store to send a password reset mail to email
func (r *Records) RequestPasswordReset(ctx context.Context, email string) error {
	_, err := r.Client(ctx, "").RawPost("/api/collections/users/request-password-reset",
		map[string]string{"email": email}, nil)
	return err
}

// ConfirmPasswordReset sets a new password with the token of a password reset mail
func (r *Records) ConfirmPasswordReset(ctx context.Context, token, password, passwordConfirm string) error {
	_, err := r.Client(ctx, "").RawPost("/api/collections/users/confirm-password-reset",
		map[string]string{
			"token":           token,
			"password":        password,
			"passwordConfirm": passwordConfirm,
		}, nil)
	return err
}
