package resource_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/granja/core/access"
	"github.com/relabs-tech/granja/core/filter"
	"github.com/relabs-tech/granja/core/resource"
)

func day(s string) time.Time {
	t, err := time.Parse(resource.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestAuxiliaryQueries(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	f1 := e.folder(t, u1)
	scope := resource.Scope{Parent: f1}

	for _, n := range []note{
		{Title: "Pienso inicio", Count: 1, Start: "2024-01-01"},
		{Title: "pienso crecimiento", Count: 2, Start: "2024-01-15"},
		{Title: "Vacuna", Count: 3, Start: "2024-01-31"},
		{Title: "Sin fecha", Count: 4},
	} {
		_, err := e.notes.Create(ctx, u1, scope, n)
		require.NoError(t, err)
	}
	_, err := e.notes.Create(ctx, u2, resource.Scope{Parent: e.folder(t, u2)}, note{Title: "pienso ajeno", Count: 9, Start: "2024-01-15"})
	require.NoError(t, err)

	t.Run("search", func(t *testing.T) {
		list, err := e.notes.Search(ctx, u1, scope, "title", "PIENSO", resource.DefaultPage)
		require.NoError(t, err)
		assert.Equal(t, 2, list.TotalItems)

		list, err = e.notes.Search(ctx, u1, scope, "title", `" || user!="`, resource.DefaultPage)
		require.NoError(t, err)
		assert.Equal(t, 0, list.TotalItems)

		list, err = e.notes.Search(ctx, u1, scope, "title", "  ", resource.DefaultPage)
		require.NoError(t, err)
		assert.Equal(t, 4, list.TotalItems)

		// wildcards in the search term are matched literally
		for _, term := range []string{"%", "pien%o", "_"} {
			list, err = e.notes.Search(ctx, u1, scope, "title", term, resource.DefaultPage)
			require.NoError(t, err)
			assert.Equal(t, 0, list.TotalItems, term)
		}
	})

	t.Run("date range is inclusive", func(t *testing.T) {
		list, err := e.notes.DateRange(ctx, u1, scope, "start", day("2024-01-15"), day("2024-01-31"), resource.DefaultPage)
		require.NoError(t, err)
		require.Equal(t, 2, list.TotalItems)
		assert.Equal(t, "2024-01-15", list.Items[0].Start)
		assert.Equal(t, "2024-01-31", list.Items[1].Start)

		list, err = e.notes.DateRange(ctx, u1, scope, "start", day("2024-01-01"), day("2024-01-01"), resource.DefaultPage)
		require.NoError(t, err)
		assert.Equal(t, 1, list.TotalItems)

		_, err = e.notes.DateRange(ctx, u1, scope, "start", day("2024-02-01"), day("2024-01-01"), resource.DefaultPage)
		assert.ErrorIs(t, err, resource.ErrValidation)
	})

	t.Run("overdue is strictly before today", func(t *testing.T) {
		list, err := e.notes.Overdue(ctx, u1, scope, "start", day("2024-01-15"), resource.DefaultPage)
		require.NoError(t, err)
		require.Equal(t, 1, list.TotalItems)
		assert.Equal(t, "Pienso inicio", list.Items[0].Title)
	})

	t.Run("exists", func(t *testing.T) {
		list, err := e.notes.Search(ctx, u1, scope, "title", "Vacuna", resource.DefaultPage)
		require.NoError(t, err)
		require.Len(t, list.Items, 1)
		id := list.Items[0].ID

		exists, err := e.notes.Exists(ctx, u1, scope, "title", "Vacuna", "")
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = e.notes.Exists(ctx, u1, scope, "title", "Vacuna", id)
		require.NoError(t, err)
		assert.False(t, exists)

		exists, err = e.notes.Exists(ctx, u2, resource.Scope{}, "title", "Vacuna", "")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("count", func(t *testing.T) {
		n, err := e.notes.Count(ctx, u1, scope, filter.Expression{})
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		n, err = e.notes.Count(ctx, u1, scope, filter.Where("count", filter.GreaterOrEqual, 3))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("first", func(t *testing.T) {
		latest, err := e.notes.First(ctx, u1, scope)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, "Sin fecha", latest.Title)

		none, err := e.folders.First(ctx, &access.Caller{ID: "U3", Token: "t3"}, resource.Scope{})
		require.NoError(t, err)
		assert.Nil(t, none)
	})
}
