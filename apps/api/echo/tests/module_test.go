package tests

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	echoapi "github.com/flare-portal/flare/apps/api/echo"
	"github.com/flare-portal/flare/core"
)

// moduleResp is a module as rendered by the API, with its config left encoded.
type moduleResp struct {
	ID           int             `json:"id"`
	Type         string          `json:"type"`
	Label        string          `json:"label"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	SortOrder    int             `json:"sortorder"`
	BreakStartID null.Int        `json:"break_start_id"`
	Config       json.RawMessage `json:"config"`
}

func (f researcherFixture) createModule(t *testing.T, app *testApp, slug string, body string) moduleResp {
	t.Helper()
	var mod moduleResp
	req, rec := newAuthRequest(http.MethodPost, f.expPath("/modules/"+slug), f.token, []byte(body))
	app.do(t, req, rec, http.StatusCreated, &mod)
	return mod
}

func (f researcherFixture) listModules(t *testing.T, app *testApp) []moduleResp {
	t.Helper()
	var mods []moduleResp
	req, rec := newAuthRequest(http.MethodGet, f.expPath("/modules"), f.token)
	app.do(t, req, rec, http.StatusOK, &mods)
	return mods
}

func Test_moduleApi_types(t *testing.T) {
	app := setup(t)
	f := newResearcherFixture(t, app)

	var types []echoapi.ModuleType
	req, rec := newAuthRequest(http.MethodGet, f.expPath("/modules/types"), f.token)
	app.do(t, req, rec, http.StatusOK, &types)

	bySlug := make(map[string]echoapi.ModuleType, len(types))
	for _, mt := range types {
		bySlug[mt.Slug] = mt
	}
	require.Contains(t, bySlug, "fear-conditioning")
	assert.NotContains(t, bySlug, "break-end")
	assert.Equal(t, "FEAR_CONDITIONING", bySlug["fear-conditioning"].Type)
	assert.Equal(t, f.expPath("/modules/fear-conditioning"), bySlug["fear-conditioning"].CreatePath)
}

func Test_moduleApi_crud(t *testing.T) {
	app := setup(t)
	f := newResearcherFixture(t, app)

	t.Run("invalid config", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, f.expPath("/modules/text"), f.token, []byte(`{"config": {}}`))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: []byte(`{"heading": "this field is required"}`)}, rec)
	})

	t.Run("internal kinds cannot be created", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, f.expPath("/modules/break-end"), f.token, []byte(`{}`))
		app.ServeHTTP(rec, req)
		assert.NotEqual(t, http.StatusCreated, rec.Code)
	})

	instr := f.createModule(t, app, "instructions", `{"label": "Intro"}`)
	assert.Equal(t, "INSTRUCTIONS", instr.Type)
	assert.Equal(t, 1, instr.SortOrder)

	crit := f.createModule(t, app, "criterion", `{"config": {"questions": [{"question": "Are you 18?", "required_answer": true}]}}`)
	assert.Equal(t, 2, crit.SortOrder)

	t.Run("criterion question ids are kept on update", func(t *testing.T) {
		path := f.expPath(fmt.Sprintf("/modules/criterion/%d", crit.ID))
		body := `{"config": {"questions": [{"id": 1, "question": "Are you 18 or over?", "required_answer": true}, {"question": "Headphones?"}]}}`
		var got moduleResp
		req, rec := newAuthRequest(http.MethodPut, path, f.token, []byte(body))
		app.do(t, req, rec, http.StatusOK, &got)
		assert.Equal(t, "Questions: 2", got.Description)
	})

	t.Run("module of another kind", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, f.expPath(fmt.Sprintf("/modules/text/%d", crit.ID)), f.token)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	brk := f.createModule(t, app, "break-start", `{"config": {"duration": 60}}`)
	mods := f.listModules(t, app)
	require.Len(t, mods, 4)
	assert.Equal(t, brk.ID, mods[2].ID)
	assert.Equal(t, "BREAK_END", mods[3].Type)
	assert.Equal(t, brk.ID, mods[3].BreakStartID.Int)

	t.Run("deleting a break end removes its start", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, f.expPath(fmt.Sprintf("/modules/break-end/%d", mods[3].ID)), f.token)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Len(t, f.listModules(t, app), 2)
	})
}

func Test_moduleApi_sort(t *testing.T) {
	app := setup(t)
	f := newResearcherFixture(t, app)

	a := f.createModule(t, app, "instructions", `{}`)
	b := f.createModule(t, app, "task-instructions", `{}`)
	brk := f.createModule(t, app, "break-start", `{}`)
	end := f.listModules(t, app)[3]

	sort := func(order map[int]int) *httptestResult {
		body := make(map[string]int, len(order))
		for id, pos := range order {
			body[fmt.Sprint(id)] = pos
		}
		req, rec := newAuthRequest(http.MethodPost, f.expPath("/modules/sort"), f.token, marchallObj(t, body))
		app.ServeHTTP(rec, req)
		return &httptestResult{code: rec.Code, body: rec.Body.String()}
	}

	sortOrders := func() map[int]int {
		orders := make(map[int]int)
		for _, mod := range f.listModules(t, app) {
			orders[mod.ID] = mod.SortOrder
		}
		return orders
	}
	before := sortOrders()
	require.Equal(t, map[int]int{a.ID: 0, b.ID: 1, brk.ID: 2, end.ID: 3}, before)

	tests := []struct {
		name     string
		order    map[int]int
		wantCode int
		wantData string
	}{
		{
			name: "incomplete", order: map[int]int{a.ID: 1}, wantCode: http.StatusBadRequest,
			wantData: `{"modules": "The submitted order must include every module of the experiment exactly once."}`,
		},
		{
			name: "negative", order: map[int]int{a.ID: -1, b.ID: 1, brk.ID: 2, end.ID: 3}, wantCode: http.StatusBadRequest,
			wantData: `{"modules": "Sort orders cannot be negative."}`,
		},
		{
			name: "beyond the column range", order: map[int]int{a.ID: 3000000000, b.ID: 1, brk.ID: 2, end.ID: 3}, wantCode: http.StatusBadRequest,
			wantData: `{"modules": "Sort orders cannot be greater than 2147483647."}`,
		},
		{
			name: "break ends before it starts", order: map[int]int{a.ID: 1, b.ID: 2, brk.ID: 4, end.ID: 3}, wantCode: http.StatusBadRequest,
			wantData: `{"modules": "A break cannot end before it starts."}`,
		},
		{
			name: "reordered", order: map[int]int{a.ID: 3, b.ID: 0, brk.ID: 1, end.ID: 2}, wantCode: http.StatusOK,
			wantData: `{"message": "Modules have been reordered."}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := sort(tt.order)
			assert.Equal(t, tt.wantCode, res.code)
			assert.JSONEq(t, tt.wantData, res.body)
			if tt.wantCode != http.StatusOK {
				assert.Equal(t, before, sortOrders(), "a rejected order leaves the modules untouched")
			}
		})
	}

	var ids []int
	for _, mod := range f.listModules(t, app) {
		ids = append(ids, mod.ID)
	}
	assert.Equal(t, []int{b.ID, brk.ID, end.ID, a.ID}, ids)

	t.Run("invalid body", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, f.expPath("/modules/sort"), f.token, []byte(`{"lol": 1}`))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: []byte(`{"modules": "Submit a mapping of module ids to sort orders."}`)}, rec)
	})

	t.Run("config cache dropped", func(t *testing.T) {
		assert.False(t, app.cache.Has(core.ExperimentConfigCacheKey(f.exp.ID)))
	})
}

type httptestResult struct {
	code int
	body string
}
