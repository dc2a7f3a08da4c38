package module

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flare-portal/flare/core"
)

func newTestService() (Service, *RepositoryMock, *core.CacheMock) {
	repo := NewRepositoryMock()
	cache := core.NewCacheMock()
	return NewService(repo, NewDefaultRegistry(), core.NewTransactorMock(), cache), repo, cache
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	svc, repo, cache := newTestService()
	cacheKey := core.ExperimentConfigCacheKey(1)

	text, err := svc.Create(ctx, 1, Text, "Welcome", &TextSettings{Heading: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, 0, text.SortOrder)

	require.NoError(t, cache.Set(ctx, cacheKey, "cached", 0))
	start, err := svc.Create(ctx, 1, BreakStart, "Pause", newBreakStartSettings())
	require.NoError(t, err)
	assert.Equal(t, 1, start.SortOrder)
	assert.False(t, cache.Has(cacheKey))

	mods, err := svc.Query(ctx, 1)
	require.NoError(t, err)
	require.Len(t, mods, 3)
	end := mods[2]
	assert.Equal(t, BreakEnd, end.Kind)
	assert.Equal(t, 2, end.SortOrder)
	assert.Equal(t, start.ID, end.BreakStartID.Int)
	require.IsType(t, &BreakEndSettings{}, end.Settings)
	assert.Equal(t, start.ID, end.Settings.(*BreakEndSettings).StartModuleID)
	assert.Equal(t, "Break over", end.Settings.(*BreakEndSettings).EndTitle)

	_, err = svc.Create(ctx, 1, BreakEnd, "", newBreakEndSettings())
	require.Error(t, err)
	assert.True(t, core.IsValidationError(err))

	other, err := svc.Create(ctx, 2, Web, "", &WebSettings{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, 0, other.SortOrder)
	assert.Equal(t, []int{1, 1, 2}, repo.Locks)
}

func TestService_CreateBeyondMaxSortOrder(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	text, err := svc.Create(ctx, 1, Text, "", &TextSettings{Heading: "Hello"})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateSortOrders(ctx, map[int]int{text.ID: MaxSortOrder - 1}))

	_, err = svc.Create(ctx, 1, BreakStart, "", newBreakStartSettings())
	require.Error(t, err)
	assert.Equal(t, orderTooLargeText, orderFieldError(t, err))

	mods, err := svc.Query(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, mods, 1)
}

func TestService_CreateCriterionQuestionIDs(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	mod, err := svc.Create(ctx, 1, Criterion, "", &CriterionSettings{Questions: []CriterionQuestion{
		{Question: "Are you over 18?"},
		{Question: "Do you have headphones?"},
	}})
	require.NoError(t, err)

	mod, err = svc.GetByID(ctx, mod.ID)
	require.NoError(t, err)
	settings := mod.Settings.(*CriterionSettings)
	assert.Equal(t, 1, settings.Questions[0].ID)
	assert.Equal(t, 2, settings.Questions[1].ID)

	mod, err = svc.Update(ctx, mod, "", &CriterionSettings{Questions: []CriterionQuestion{
		{ID: 2, Question: "Do you have headphones?"},
		{ID: 99, Question: "Are you in a quiet room?"},
	}})
	require.NoError(t, err)
	settings = mod.Settings.(*CriterionSettings)
	assert.Equal(t, 2, settings.Questions[0].ID)
	assert.Equal(t, 3, settings.Questions[1].ID)
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	text, err := svc.Create(ctx, 1, Text, "", &TextSettings{Heading: "Hello"})
	require.NoError(t, err)
	start, err := svc.Create(ctx, 1, BreakStart, "", newBreakStartSettings())
	require.NoError(t, err)
	mods, err := svc.Query(ctx, 1)
	require.NoError(t, err)
	require.Len(t, mods, 3)
	end := mods[2]

	repo.DataModules[text.ID] = true
	err = svc.Delete(ctx, text)
	require.Error(t, err)
	assert.Equal(t, hasDataText, err.Error())

	// deleting the end of a break deletes its start
	require.NoError(t, svc.Delete(ctx, end))
	mods, err = svc.Query(ctx, 1)
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, text.ID, mods[0].ID)

	_, err = svc.GetByID(ctx, start.ID)
	assert.Equal(t, ErrNotFound, err)

	// and the other way around
	start, err = svc.Create(ctx, 1, BreakStart, "", newBreakStartSettings())
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, start))
	mods, err = svc.Query(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, mods, 1)
}

func TestService_Reorder(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	text, err := svc.Create(ctx, 1, Text, "", &TextSettings{Heading: "Hello"})
	require.NoError(t, err)
	start, err := svc.Create(ctx, 1, BreakStart, "", newBreakStartSettings())
	require.NoError(t, err)
	end := start.ID + 1
	repo.Locks = nil

	for _, order := range []map[int]int{
		{text.ID: 0, start.ID: 2, end: 1},
		{text.ID: MaxSortOrder + 1, start.ID: 1, end: 2},
	} {
		require.Error(t, svc.Reorder(ctx, 1, order))
		mods, err := svc.Query(ctx, 1)
		require.NoError(t, err)
		require.Len(t, mods, 3)
		assert.Equal(t, []int{0, 1, 2}, []int{mods[0].SortOrder, mods[1].SortOrder, mods[2].SortOrder})
		assert.Equal(t, []int{text.ID, start.ID, end}, []int{mods[0].ID, mods[1].ID, mods[2].ID})
	}
	assert.Equal(t, []int{1, 1}, repo.Locks)

	err = svc.Reorder(ctx, 1, map[int]int{text.ID: 0, start.ID: 2, end: 1})
	require.Error(t, err)
	assert.Equal(t, breakEndsEarlyText, orderFieldError(t, err))

	require.NoError(t, svc.Reorder(ctx, 1, map[int]int{text.ID: 1, start.ID: 0, end: 2}))
	mods, err := svc.Query(ctx, 1)
	require.NoError(t, err)
	require.Len(t, mods, 3)
	assert.Equal(t, []int{start.ID, text.ID, end}, []int{mods[0].ID, mods[1].ID, mods[2].ID})
}
