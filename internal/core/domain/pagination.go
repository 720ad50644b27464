package domain

const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 50
)

// PageRequest is a 1-based page selection. Zero values fall back to the
// defaults; anything else outside range is rejected.
type PageRequest struct {
	Page     int
	PageSize int
}

// Normalize applies defaults and validates the bounds.
func (p PageRequest) Normalize() (PageRequest, error) {
	if p.Page == 0 {
		p.Page = DefaultPage
	}
	if p.PageSize == 0 {
		p.PageSize = DefaultPageSize
	}

	verr := NewValidationError()
	if p.Page < 1 {
		verr.Add("page", "must be greater than or equal to 1")
	}
	if p.PageSize < 1 || p.PageSize > MaxPageSize {
		verr.Add("page_size", "must be between 1 and 50")
	}
	if verr.HasErrors() {
		return p, verr
	}
	return p, nil
}

// Offset is the number of rows to skip.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Page is one page of results plus the total row count.
type Page[T any] struct {
	Items      []T
	Total      int64
	Page       int
	PageSize   int
	TotalPages int
}

// NewPage fills in TotalPages from total and the request size.
func NewPage[T any](items []T, total int64, req PageRequest) Page[T] {
	pages := 0
	if req.PageSize > 0 {
		pages = int((total + int64(req.PageSize) - 1) / int64(req.PageSize))
	}
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Total: total, Page: req.Page, PageSize: req.PageSize, TotalPages: pages}
}
