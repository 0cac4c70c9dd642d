package utils

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Pagination struct {
	Page     int
	PageSize int
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

func intQueryParam(r *http.Request, key string, defaultValue int) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value '%v' for query parameter %v", value, key)
	}
	return parsed, nil
}

func ParsePagination(r *http.Request) (Pagination, error) {
	page, err := intQueryParam(r, "page", 1)
	if err != nil {
		return Pagination{}, Validation(err)
	}
	pageSize, err := intQueryParam(r, "page_size", DefaultPageSize)
	if err != nil {
		return Pagination{}, Validation(err)
	}

	if page < 1 {
		return Pagination{}, Validationf("page must be at least 1, got %d", page)
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return Pagination{}, Validationf("page_size must be between 1 and %d, got %d", MaxPageSize, pageSize)
	}

	return Pagination{Page: page, PageSize: pageSize}, nil
}

type PageResponse[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

func NewPageResponse[T any](items []T, total int64, p Pagination) PageResponse[T] {
	if items == nil {
		items = []T{}
	}
	return PageResponse[T]{Items: items, Total: total, Page: p.Page, PageSize: p.PageSize}
}
