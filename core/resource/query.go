// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package resource

import (
	"context"
	"strings"
	"time"

	"github.com/relabs-tech/granja/core"
	"github.com/relabs-tech/granja/core/access"
	"github.com/relabs-tech/granja/core/filter"
)

// DateLayout is the layout of date fields
const DateLayout = "2006-01-02"

// Query lists the caller's records which also match extra
func (a *Accessor[T]) Query(ctx context.Context, caller *access.Caller, scope Scope, extra filter.Expression, page Page, sort string) (*List[T], error) {
	result, err := a.list(ctx, caller, scope, extra, page, sort)
	a.observe(core.OperationList, err)
	return result, err
}

// Search lists the records whose field contains substring, ignoring case. % and _
// in substring are no wildcards. An empty substring lists all records.
func (a *Accessor[T]) Search(ctx context.Context, caller *access.Caller, scope Scope, field, substring string, page Page) (*List[T], error) {
	var extra filter.Expression
	if s := strings.TrimSpace(substring); s != "" {
		extra = filter.Where(field, filter.Like, filter.EscapeLike(s))
	}
	return a.Query(ctx, caller, scope, extra, page, "")
}

// DateRange lists the records whose date field lies between from and to, both days
// included. A zero from or to leaves that end open.
func (a *Accessor[T]) DateRange(ctx context.Context, caller *access.Caller, scope Scope, field string, from, to time.Time, page Page) (*List[T], error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, fieldError("to", "must not be before from")
	}
	var extra filter.Expression
	if !from.IsZero() {
		extra = extra.And(field, filter.GreaterOrEqual, from.Format(DateLayout))
	}
	if !to.IsZero() {
		// stored dates may carry a time of day, so compare against the next day
		extra = extra.And(field, filter.Less, to.AddDate(0, 0, 1).Format(DateLayout))
	}
	return a.Query(ctx, caller, scope, extra, page, field)
}

// Overdue lists the records whose date field is set and lies strictly before today
func (a *Accessor[T]) Overdue(ctx context.Context, caller *access.Caller, scope Scope, field string, today time.Time, page Page) (*List[T], error) {
	extra := filter.Where(field, filter.NotEqual, "").
		And(field, filter.Less, today.Format(DateLayout))
	return a.Query(ctx, caller, scope, extra, page, field)
}

// Exists returns true if the caller has a record whose field equals value. The
// record excludeID is not considered, so that a record being edited does not count
// as its own duplicate.
func (a *Accessor[T]) Exists(ctx context.Context, caller *access.Caller, scope Scope, field, value, excludeID string) (bool, error) {
	extra := filter.Where(field, filter.Equal, strings.TrimSpace(value))
	if excludeID != "" {
		extra = extra.And("id", filter.NotEqual, excludeID)
	}
	result, err := a.Query(ctx, caller, scope, extra, Page{Page: 1, PerPage: 1}, "")
	if err != nil {
		return false, err
	}
	return result.TotalItems > 0, nil
}

// Count returns the number of the caller's records which match extra
func (a *Accessor[T]) Count(ctx context.Context, caller *access.Caller, scope Scope, extra filter.Expression) (int, error) {
	result, err := a.Query(ctx, caller, scope, extra, Page{Page: 1, PerPage: 1}, "")
	if err != nil {
		return 0, err
	}
	return result.TotalItems, nil
}

// First returns the caller's most recent record, or nil if there is none
func (a *Accessor[T]) First(ctx context.Context, caller *access.Caller, scope Scope) (*T, error) {
	result, err := a.Query(ctx, caller, scope, filter.Expression{}, Page{Page: 1, PerPage: 1}, "")
	if err != nil {
		return nil, err
	}
	if len(result.Items) == 0 {
		return nil, nil
	}
	return &result.Items[0], nil
}
