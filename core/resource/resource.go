// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package resource provides the generic accessor for records of the remote record store.

An Accessor is configured once per entity with a Definition: the remote collection,
the JSON schema of the record, the owner and parent scope fields, fields which the
store keeps as JSON blobs, attachment fields and cross-field rules. It offers list,
get, create, update and delete, plus the auxiliary queries in query.go.

Every operation runs on behalf of a caller. Lists are always filtered to the records
the caller owns. Single record reads and mutations fetch the record first and apply
the access policy to it, so a caller never reads, changes or deletes a record of
another user, even if the store would allow it.

Records are validated before anything is written. An invalid record causes no remote
request at all.
*/
package resource

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/granja/core"
	"github.com/relabs-tech/granja/core/access"
	"github.com/relabs-tech/granja/core/client"
	"github.com/relabs-tech/granja/core/filter"
	"github.com/relabs-tech/granja/core/logger"
	"github.com/relabs-tech/granja/core/metrics"
	"github.com/relabs-tech/granja/core/schema"
)

// Paging limits
const (
	MaxPerPage     = 100
	DefaultPerPage = 20
	DefaultSort    = "-created"
)

// Remote is the record store as seen by an accessor. *client.Records implements it.
type Remote interface {
	List(ctx context.Context, token, collection string, q client.Query) (*client.ListResult, error)
	Get(ctx context.Context, token, collection, id string) (map[string]interface{}, error)
	Create(ctx context.Context, token, collection string, body map[string]interface{}, files []client.File) (map[string]interface{}, error)
	Update(ctx context.Context, token, collection, id string, body map[string]interface{}, files []client.File) (map[string]interface{}, error)
	Delete(ctx context.Context, token, collection, id string) error
	FileURL(collection, id, filename string) string
}

// Policy decides whether caller may access record
type Policy func(record Record, caller *access.Caller) bool

// OwnerPolicy grants access to the user whose identifier is in ownerField
func OwnerPolicy(ownerField string) Policy {
	return func(record Record, caller *access.Caller) bool {
		owner, _ := record[ownerField].(string)
		return access.CanAccess(owner, caller)
	}
}

// ParentVerifier checks that a parent record exists and the caller may access it
type ParentVerifier interface {
	Verify(ctx context.Context, caller *access.Caller, id string) error
}

// Archive keeps copies of uploaded files
type Archive interface {
	Store(ctx context.Context, collection, id string, files []File) error
	Remove(ctx context.Context, collection, id string) error
}

// Definition configures an accessor for one entity
type Definition[T any] struct {
	// Name is the public name of the resource, used for notifications, logs and metrics
	Name string
	// Collection is the name of the remote collection
	Collection string
	// SchemaID is the $id of the JSON schema records are validated against
	SchemaID string
	// OwnerField holds the owner's user identifier. Default is "user".
	OwnerField string
	// ParentField holds the identifier of the parent record, empty for records
	// without parent scope
	ParentField string
	// Blobs are fields the store keeps as JSON encoded strings
	Blobs []string
	// Attachments are the file fields
	Attachments map[string]Attachment
	// Check validates rules spanning several fields. It returns per field messages.
	Check func(T) map[string]string
	// Policy is the access policy. Default is OwnerPolicy(OwnerField).
	Policy Policy
	// Sort is the default sort order of lists. Default is "-created".
	Sort string
}

// Scope narrows operations to the records of a parent
type Scope struct {
	Parent string
}

// Page selects a page of a list. Pages start at 1.
type Page struct {
	Page    int
	PerPage int
}

// DefaultPage is the first page with the default page size
var DefaultPage = Page{Page: 1, PerPage: DefaultPerPage}

// List is one page of records
type List[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}

// Patch is a sparse update. Absent fields stay untouched, an empty string clears
// a field of any type.
type Patch map[string]interface{}

type options struct {
	parent   ParentVerifier
	notifier core.Notifier
	archive  Archive
}

// Option configures an accessor
type Option func(*options)

// WithParent verifies the parent scope of new records with p
func WithParent(p ParentVerifier) Option {
	return func(o *options) { o.parent = p }
}

// WithNotifier sends change notifications to n after every successful mutation
func WithNotifier(n core.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithArchive keeps a copy of every upload in a
func WithArchive(a Archive) Option {
	return func(o *options) { o.archive = a }
}

// Accessor provides access to the records of one entity. It is stateless and safe
// for concurrent use.
type Accessor[T any] struct {
	def       Definition[T]
	remote    Remote
	validator *schema.Validator
	opts      options
	fields    map[string]reflect.Kind
}

// New creates an accessor. The schema validator must know def.SchemaID.
func New[T any](def Definition[T], remote Remote, validator *schema.Validator, opts ...Option) (*Accessor[T], error) {
	if def.Collection == "" {
		return nil, fmt.Errorf("resource %s: collection is missing", def.Name)
	}
	if def.Name == "" {
		def.Name = def.Collection
	}
	if def.OwnerField == "" {
		def.OwnerField = "user"
	}
	if def.Policy == nil {
		def.Policy = OwnerPolicy(def.OwnerField)
	}
	if def.Sort == "" {
		def.Sort = DefaultSort
	}
	if remote == nil {
		return nil, fmt.Errorf("resource %s: remote is missing", def.Name)
	}
	if validator == nil || !validator.HasSchema(def.SchemaID) {
		return nil, fmt.Errorf("resource %s: unknown schema %s", def.Name, def.SchemaID)
	}
	a := &Accessor[T]{
		def:       def,
		remote:    remote,
		validator: validator,
		fields:    jsonFields(reflect.TypeOf((*T)(nil)).Elem()),
	}
	for _, o := range opts {
		o(&a.opts)
	}
	return a, nil
}

// MustNew is New which panics on error
func MustNew[T any](def Definition[T], remote Remote, validator *schema.Validator, opts ...Option) *Accessor[T] {
	a, err := New(def, remote, validator, opts...)
	if err != nil {
		panic(err)
	}
	return a
}

// Name returns the public name of the resource
func (a *Accessor[T]) Name() string {
	return a.def.Name
}

// HasParent returns true if records of this resource are scoped to a parent
func (a *Accessor[T]) HasParent() bool {
	return a.def.ParentField != ""
}

// Attachments returns the file fields of the resource
func (a *Accessor[T]) Attachments() map[string]Attachment {
	return a.def.Attachments
}

func (a *Accessor[T]) observe(op core.Operation, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	metrics.ObserveOperation(a.def.Name, string(op), outcome)
}

func checkCaller(caller *access.Caller) error {
	if !caller.IsAuthenticated() {
		return unauthorized()
	}
	return nil
}

var sortPattern = regexp.MustCompile(`^[-+]?[A-Za-z_][A-Za-z0-9_]*(,[-+]?[A-Za-z_][A-Za-z0-9_]*)*$`)

func checkPage(page Page) error {
	fields := map[string]string{}
	if page.Page < 1 {
		fields["page"] = "must be 1 or greater"
	}
	if page.PerPage < 1 || page.PerPage > MaxPerPage {
		fields["perPage"] = fmt.Sprintf("must be between 1 and %d", MaxPerPage)
	}
	if len(fields) > 0 {
		return NewValidationError("invalid pagination", fields)
	}
	return nil
}

// scopeFilter returns the filter which restricts a query to the caller's records,
// and to the parent if one is given
func (a *Accessor[T]) scopeFilter(caller *access.Caller, scope Scope) filter.Expression {
	expr := filter.Where(a.def.OwnerField, filter.Equal, caller.ID)
	if a.def.ParentField != "" && scope.Parent != "" {
		expr = expr.And(a.def.ParentField, filter.Equal, scope.Parent)
	}
	return expr
}

// List returns one page of the caller's records, narrowed to scope. sort is a comma
// separated list of fields, prefixed with - for descending order. The empty sort
// means the default order, newest first.
func (a *Accessor[T]) List(ctx context.Context, caller *access.Caller, scope Scope, page Page, sort string) (*List[T], error) {
	result, err := a.list(ctx, caller, scope, filter.Expression{}, page, sort)
	a.observe(core.OperationList, err)
	return result, err
}

func (a *Accessor[T]) list(ctx context.Context, caller *access.Caller, scope Scope, extra filter.Expression, page Page, sort string) (*List[T], error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	if err := checkPage(page); err != nil {
		return nil, err
	}
	if sort == "" {
		sort = a.def.Sort
	}
	if !sortPattern.MatchString(sort) {
		return nil, fieldError("sort", "invalid sort order")
	}
	expr, err := a.scopeFilter(caller, scope).Merge(extra).Build()
	if err != nil {
		return nil, NewValidationError(err.Error(), nil)
	}

	res, err := a.remote.List(ctx, caller.Token, a.def.Collection, client.Query{
		Page:    page.Page,
		PerPage: page.PerPage,
		Filter:  expr,
		Sort:    sort,
	})
	if err != nil {
		rerr := FromRemote(err)
		logger.FromContext(ctx).WithError(err).Errorf("Error 4001: list %s", a.def.Collection)
		return nil, rerr
	}

	list := &List[T]{
		Items:      make([]T, 0, len(res.Items)),
		Page:       res.Page,
		PerPage:    res.PerPage,
		TotalItems: res.TotalItems,
		TotalPages: res.TotalPages,
	}
	for _, raw := range res.Items {
		item, err := a.decode(raw)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Errorf("Error 4002: decode %s", a.def.Collection)
			return nil, &Error{Kind: KindRemote, Message: "the record store returned an invalid record", Err: err}
		}
		list.Items = append(list.Items, item)
	}
	return list, nil
}

// Get returns a single record
func (a *Accessor[T]) Get(ctx context.Context, caller *access.Caller, id string) (*T, error) {
	t, err := a.get(ctx, caller, id)
	a.observe(core.OperationRead, err)
	return t, err
}

func (a *Accessor[T]) get(ctx context.Context, caller *access.Caller, id string) (*T, error) {
	raw, err := a.fetch(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	item, err := a.decode(raw)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 4003: decode %s %s", a.def.Collection, id)
		return nil, &Error{Kind: KindRemote, Message: "the record store returned an invalid record", Err: err}
	}
	return &item, nil
}

// fetch reads the raw record and applies the access policy
func (a *Accessor[T]) fetch(ctx context.Context, caller *access.Caller, id string) (Record, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, notFound(id)
	}
	raw, err := a.remote.Get(ctx, caller.Token, a.def.Collection, id)
	if err != nil {
		rerr := FromRemote(err)
		if rerr.Kind == KindNotFound {
			return nil, notFound(id)
		}
		logger.FromContext(ctx).WithError(err).Errorf("Error 4004: get %s %s", a.def.Collection, id)
		return nil, rerr
	}
	if !a.def.Policy(raw, caller) {
		logger.FromContext(ctx).Infof("caller %s denied access to %s %s", caller.ID, a.def.Collection, id)
		return nil, forbidden()
	}
	return raw, nil
}

// Verify checks that the record id exists and caller may access it. Accessors of
// parent records are the ParentVerifier of their children.
func (a *Accessor[T]) Verify(ctx context.Context, caller *access.Caller, id string) error {
	_, err := a.fetch(ctx, caller, id)
	return err
}

// Create validates and creates a new record owned by caller. Records with parent
// scope need scope.Parent, which must be a record the caller may access. Files are
// uploaded into the attachment fields they name.
func (a *Accessor[T]) Create(ctx context.Context, caller *access.Caller, scope Scope, payload T, files ...File) (*T, error) {
	t, err := a.create(ctx, caller, scope, payload, files)
	a.observe(core.OperationCreate, err)
	return t, err
}

func (a *Accessor[T]) create(ctx context.Context, caller *access.Caller, scope Scope, payload T, files []File) (*T, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	raw, err := toRecord(payload)
	if err != nil {
		return nil, NewValidationError(err.Error(), nil)
	}
	for k := range storeFields {
		delete(raw, k)
	}
	for f := range a.def.Attachments {
		delete(raw, f)
		delete(raw, URLField(f))
	}
	raw[a.def.OwnerField] = caller.ID
	if a.def.ParentField != "" {
		delete(raw, a.def.ParentField)
	}

	fields := map[string]string{}
	if a.def.ParentField != "" && scope.Parent == "" {
		fields[a.def.ParentField] = "required"
	}
	if err := a.validate(raw, files, fields); err != nil {
		return nil, err
	}

	if a.def.ParentField != "" {
		if err := a.verifyParent(ctx, caller, scope.Parent); err != nil {
			return nil, err
		}
		raw[a.def.ParentField] = scope.Parent
	}

	if err := encodeBlobs(raw, a.def.Blobs); err != nil {
		return nil, NewValidationError(err.Error(), nil)
	}
	created, err := a.remote.Create(ctx, caller.Token, a.def.Collection, raw, toClientFiles(files))
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 4005: create %s", a.def.Collection)
		return nil, FromRemote(err)
	}
	item, err := a.decode(created)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 4006: decode %s", a.def.Collection)
		return nil, &Error{Kind: KindRemote, Message: "the record store returned an invalid record", Err: err}
	}
	id, _ := created["id"].(string)
	a.archive(ctx, id, files)
	a.notify(ctx, core.OperationCreate, item)
	return &item, nil
}

func (a *Accessor[T]) verifyParent(ctx context.Context, caller *access.Caller, parent string) error {
	if a.opts.parent == nil {
		return nil
	}
	err := a.opts.parent.Verify(ctx, caller, parent)
	switch KindOf(err) {
	case "":
		if err != nil {
			return &Error{Kind: KindRemote, Message: err.Error(), Err: err}
		}
		return nil
	case KindNotFound:
		return fieldError(a.def.ParentField, "does not reference an existing record")
	}
	return err
}

// validate checks a record against the schema, the cross-field rules and the
// attachment rules. fields holds violations found by the caller already.
func (a *Accessor[T]) validate(raw Record, files []File, fields map[string]string) error {
	doc := copyRecord(raw)
	for k, v := range doc {
		if v == nil {
			delete(doc, k)
		}
	}
	for _, f := range a.def.Blobs {
		if s, ok := doc[f].(string); ok && s == "" {
			delete(doc, f)
		}
	}
	for _, f := range files {
		if _, ok := a.def.Attachments[f.Field]; ok {
			doc[f.Field] = f.Name
		}
	}

	schemaValid := true
	if err := a.validator.ValidateStruct(doc, a.def.SchemaID); err != nil {
		verr, ok := err.(*schema.ValidationError)
		if !ok {
			return &Error{Kind: KindRemote, Message: err.Error(), Err: err}
		}
		schemaValid = false
		for k, v := range fromSchema(verr).Fields {
			if _, exists := fields[k]; !exists {
				fields[k] = v
			}
		}
	}
	if schemaValid && a.def.Check != nil {
		t, err := fromRecord[T](doc)
		if err != nil {
			return NewValidationError(err.Error(), fields)
		}
		for k, v := range a.def.Check(t) {
			if _, exists := fields[k]; !exists {
				fields[k] = v
			}
		}
	}
	for k, v := range checkFiles(a.def.Attachments, files) {
		fields[k] = v
	}
	if len(fields) > 0 {
		return NewValidationError("the record is not valid", fields)
	}
	return nil
}

// checkPatch rejects changes to store maintained fields, scope fields and unknown
// fields
func (a *Accessor[T]) checkPatch(patch Patch) map[string]string {
	fields := map[string]string{}
	for k, v := range patch {
		switch {
		case storeFields[k]:
			fields[k] = "is maintained by the record store and cannot be changed"
		case k == a.def.OwnerField:
			fields[k] = "the owner of a record cannot be changed"
		case a.def.ParentField != "" && k == a.def.ParentField:
			fields[k] = "a record cannot be moved to another parent"
		case strings.HasSuffix(k, "_url") && a.isAttachment(strings.TrimSuffix(k, "_url")):
			fields[k] = "is derived from the attachment and cannot be changed"
		case a.isAttachment(k):
			if s, ok := v.(string); !ok || s != "" {
				fields[k] = "upload a file to change the attachment, or send an empty string to remove it"
			}
		case !a.known(k):
			fields[k] = "unknown field"
		}
	}
	return fields
}

func (a *Accessor[T]) known(field string) bool {
	_, ok := a.fields[field]
	return ok
}

func (a *Accessor[T]) isBlob(field string) bool {
	for _, f := range a.def.Blobs {
		if f == field {
			return true
		}
	}
	return false
}

// clearing returns the patch with the empty strings of fields which do not hold
// strings replaced by null. The record store clears a field set to null.
func (a *Accessor[T]) clearing(patch Patch) Patch {
	out := make(Patch, len(patch))
	for k, v := range patch {
		if s, ok := v.(string); ok && s == "" && a.fields[k] != reflect.String && !a.isBlob(k) {
			v = nil
		}
		out[k] = v
	}
	return out
}

func (a *Accessor[T]) isAttachment(field string) bool {
	_, ok := a.def.Attachments[field]
	return ok
}

// Update applies a sparse patch to the record id. Only the fields in patch, and the
// attachment fields of files, are written. The complete record after the patch must
// be valid.
func (a *Accessor[T]) Update(ctx context.Context, caller *access.Caller, id string, patch Patch, files ...File) (*T, error) {
	t, err := a.update(ctx, caller, id, patch, files)
	a.observe(core.OperationUpdate, err)
	return t, err
}

func (a *Accessor[T]) update(ctx context.Context, caller *access.Caller, id string, patch Patch, files []File) (*T, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	if len(patch) == 0 && len(files) == 0 {
		return nil, NewValidationError("nothing to update", nil)
	}
	if fields := a.checkPatch(patch); len(fields) > 0 {
		return nil, NewValidationError("the patch is not valid", fields)
	}
	patch = a.clearing(patch)
	if fields := checkFiles(a.def.Attachments, files); fields != nil {
		return nil, NewValidationError("the upload is not valid", fields)
	}

	current, err := a.fetch(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	merged := copyRecord(current)
	if err := decodeBlobs(merged, a.def.Blobs); err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 4007: decode %s %s", a.def.Collection, id)
		return nil, &Error{Kind: KindRemote, Message: "the record store returned an invalid record", Err: err}
	}
	for k := range storeFields {
		delete(merged, k)
	}
	for f := range a.def.Attachments {
		delete(merged, URLField(f))
	}
	if a.def.ParentField != "" {
		delete(merged, a.def.ParentField)
	}
	for k, v := range patch {
		merged[k] = v
	}
	if err := a.validate(merged, files, map[string]string{}); err != nil {
		return nil, err
	}

	body := Record{}
	for k, v := range patch {
		body[k] = v
	}
	if err := encodeBlobs(body, a.def.Blobs); err != nil {
		return nil, NewValidationError(err.Error(), nil)
	}
	updated, err := a.remote.Update(ctx, caller.Token, a.def.Collection, id, body, toClientFiles(files))
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 4008: update %s %s", a.def.Collection, id)
		return nil, FromRemote(err)
	}
	item, err := a.decode(updated)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 4009: decode %s %s", a.def.Collection, id)
		return nil, &Error{Kind: KindRemote, Message: "the record store returned an invalid record", Err: err}
	}
	a.archive(ctx, id, files)
	a.notify(ctx, core.OperationUpdate, item)
	return &item, nil
}

// Delete deletes the record id
func (a *Accessor[T]) Delete(ctx context.Context, caller *access.Caller, id string) error {
	err := a.delete(ctx, caller, id)
	a.observe(core.OperationDelete, err)
	return err
}

func (a *Accessor[T]) delete(ctx context.Context, caller *access.Caller, id string) error {
	current, err := a.fetch(ctx, caller, id)
	if err != nil {
		return err
	}
	if err := a.remote.Delete(ctx, caller.Token, a.def.Collection, id); err != nil {
		rerr := FromRemote(err)
		if rerr.Kind == KindNotFound {
			return notFound(id)
		}
		logger.FromContext(ctx).WithError(err).Errorf("Error 4010: delete %s %s", a.def.Collection, id)
		return rerr
	}
	if a.opts.archive != nil && len(a.def.Attachments) > 0 {
		if err := a.opts.archive.Remove(ctx, a.def.Collection, id); err != nil {
			logger.FromContext(ctx).WithError(err).Errorf("Error 4011: remove archived files of %s %s", a.def.Collection, id)
		}
	}
	if item, err := a.decode(current); err == nil {
		a.notify(ctx, core.OperationDelete, item)
	}
	return nil
}

// decode converts a stored record into an entity: blob fields are decoded and
// attachment fields get their download URL
func (a *Accessor[T]) decode(raw Record) (T, error) {
	r := copyRecord(raw)
	if err := decodeBlobs(r, a.def.Blobs); err != nil {
		var t T
		return t, err
	}
	id, _ := r["id"].(string)
	for f := range a.def.Attachments {
		if name, ok := r[f].(string); ok && name != "" {
			r[URLField(f)] = a.remote.FileURL(a.def.Collection, id, name)
		}
	}
	return fromRecord[T](r)
}

func (a *Accessor[T]) archive(ctx context.Context, id string, files []File) {
	if a.opts.archive == nil || len(files) == 0 {
		return
	}
	if err := a.opts.archive.Store(ctx, a.def.Collection, id, files); err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 4012: archive files of %s %s", a.def.Collection, id)
	}
}

func (a *Accessor[T]) notify(ctx context.Context, op core.Operation, item T) {
	if a.opts.notifier == nil {
		return
	}
	payload, err := json.Marshal(item)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 4013: marshal notification for %s", a.def.Name)
		return
	}
	a.opts.notifier.Notify(ctx, a.def.Name, op, payload)
}
