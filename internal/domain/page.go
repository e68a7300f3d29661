package domain

import "errors"

// ErrInvalidCursor marks a continuation token that cannot be decoded.
var ErrInvalidCursor = errors.New("invalid continuation token")

// DefaultPageSize is used whenever a requested page size is not allowed.
const DefaultPageSize = 10

var allowedPageSizes = map[int]struct{}{
	10:  {},
	20:  {},
	50:  {},
	100: {},
}

// PaginationMode tells the read API which continuation contract a store honors.
type PaginationMode string

const (
	PaginationOffset PaginationMode = "offset"
	PaginationCursor PaginationMode = "cursor"
)

// PageRequest carries read-side pagination input. Page is used by offset stores,
// Cursor by cursor stores.
type PageRequest struct {
	Page     int
	PageSize int
	Cursor   string
}

// PageResult is one page of stored articles, newest first.
type PageResult struct {
	Articles   []StoredArticle
	TotalCount int
	TotalPages int
	Page       int
	PageSize   int
	NextCursor string
}

// NormalizePageSize clamps a requested size to the allowed set, falling back to 10.
func NormalizePageSize(size int) int {
	if _, ok := allowedPageSizes[size]; ok {
		return size
	}
	return DefaultPageSize
}

// Normalize returns a copy with a valid page number and page size.
func (r PageRequest) Normalize() PageRequest {
	if r.Page < 1 {
		r.Page = 1
	}
	r.PageSize = NormalizePageSize(r.PageSize)
	return r
}

// TotalPages computes ceil(total / size).
func TotalPages(total, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}
