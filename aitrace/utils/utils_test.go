package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePagination(t *testing.T) {
	cases := []struct {
		query    string
		page     int
		pageSize int
		valid    bool
	}{
		{"", 1, DefaultPageSize, true},
		{"?page=3&page_size=100", 3, 100, true},
		{"?page=0", 0, 0, false},
		{"?page_size=101", 0, 0, false},
		{"?page_size=abc", 0, 0, false},
	}

	for _, c := range cases {
		r := httptest.NewRequest("GET", "/items"+c.query, nil)
		p, err := ParsePagination(r)
		if !c.valid {
			require.Error(t, err, c.query)
			assert.Equal(t, http.StatusBadRequest, GetResponseCode(err))
			continue
		}
		require.NoError(t, err, c.query)
		assert.Equal(t, c.page, p.Page)
		assert.Equal(t, c.pageSize, p.PageSize)
	}

	assert.Equal(t, 40, Pagination{Page: 3, PageSize: 20}.Offset())
}

func TestWriteErrorCodedAndUncoded(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, "error getting dataset", NotFound(errors.New("dataset not found")))

	assert.Equal(t, http.StatusNotFound, w.Code)
	var res ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, "NOT_FOUND", res.Code)
	assert.Equal(t, "error getting dataset: dataset not found", res.Message)

	w = httptest.NewRecorder()
	WriteError(w, "error getting dataset", errors.New("pq: relation does not exist"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, "INTERNAL_ERROR", res.Code)
	assert.NotContains(t, res.Message, "relation")
}

func TestCodedErrorUnwraps(t *testing.T) {
	base := errors.New("base")
	err := Duplicate(base)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, http.StatusConflict, GetResponseCode(err))
	assert.Equal(t, "DUPLICATE", ErrorCode(GetResponseCode(err)))
}

func TestNewPageResponseNeverNil(t *testing.T) {
	res := NewPageResponse[int](nil, 0, Pagination{Page: 1, PageSize: 20})
	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[],"total":0,"page":1,"page_size":20}`, string(data))
}
