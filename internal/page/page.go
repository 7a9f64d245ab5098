// Package page implements the pagination arithmetic shared by list endpoints
// and their responses: page counts, navigation clamping, and the sliding
// window of page numbers rendered by pagers.
package page

// Pagination describes one resolved page of a collection.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// New resolves the requested page against the collection size. The page is
// clamped into [1, TotalPages]; TotalPages is ceil(total/pageSize) and never
// below 1, so an empty collection still has a valid first page.
func New(page, pageSize int, total int64) Pagination {
	if pageSize < 1 {
		pageSize = 1
	}
	if total < 0 {
		total = 0
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	if totalPages < 1 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	return Pagination{Page: page, PageSize: pageSize, Total: total, TotalPages: totalPages}
}

// HasNext reports whether a page follows the current one.
func (p Pagination) HasNext() bool { return p.Page < p.TotalPages }

// HasPrevious reports whether a page precedes the current one.
func (p Pagination) HasPrevious() bool { return p.Page > 1 }

// Offset returns the zero-based item offset of the current page.
func (p Pagination) Offset() int { return (p.Page - 1) * p.PageSize }

// Window returns up to maxVisible page numbers centered on the current page,
// shifted so the window never extends past either end of [1, TotalPages].
func (p Pagination) Window(maxVisible int) []int {
	if maxVisible < 1 {
		maxVisible = 1
	}
	if maxVisible > p.TotalPages {
		maxVisible = p.TotalPages
	}
	start := p.Page - maxVisible/2
	if start < 1 {
		start = 1
	}
	if start+maxVisible-1 > p.TotalPages {
		start = p.TotalPages - maxVisible + 1
	}
	pages := make([]int, maxVisible)
	for i := range pages {
		pages[i] = start + i
	}
	return pages
}

// Pager is the stateful counterpart used where navigation happens in place.
type Pager struct {
	page     int
	pageSize int
	total    int64
}

// NewPager starts on page 1 with the given page size.
func NewPager(pageSize int, total int64) *Pager {
	if pageSize < 1 {
		pageSize = 1
	}
	if total < 0 {
		total = 0
	}
	return &Pager{page: 1, pageSize: pageSize, total: total}
}

// Current resolves the pager state into a Pagination.
func (p *Pager) Current() Pagination { return New(p.page, p.pageSize, p.total) }

// GoToPage navigates to the requested page, clamped to the valid range, and
// returns the page actually landed on.
func (p *Pager) GoToPage(page int) int {
	p.page = New(page, p.pageSize, p.total).Page
	return p.page
}

// SetPageSize changes the page size and resets to page 1. Resetting is
// deliberate: it keeps the pager from pointing past the new last page.
func (p *Pager) SetPageSize(pageSize int) {
	if pageSize < 1 {
		pageSize = 1
	}
	p.pageSize = pageSize
	p.page = 1
}

// SetTotal updates the collection size and re-clamps the current page.
func (p *Pager) SetTotal(total int64) {
	if total < 0 {
		total = 0
	}
	p.total = total
	p.page = New(p.page, p.pageSize, p.total).Page
}

// Next advances one page when possible.
func (p *Pager) Next() int { return p.GoToPage(p.page + 1) }

// Previous steps back one page when possible.
func (p *Pager) Previous() int { return p.GoToPage(p.page - 1) }
