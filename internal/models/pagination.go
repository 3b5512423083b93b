package models

import "math"

const (
	DefaultPostsLimit    = 10
	DefaultFeedLimit     = 10
	DefaultExploreLimit  = 12
	DefaultCommentsLimit = 20
	DefaultFollowLimit   = 20
	DefaultProfileLimit  = 12
	DefaultSearchLimit   = 10
	MaxPageLimit         = 100
)

type PageRequest struct {
	Page  int
	Limit int
}

// NewPageRequest page 小于 1 取 1，limit 为 0 时取默认值并限制在 [1, MaxPageLimit]
func NewPageRequest(page, limit, defaultLimit int) PageRequest {
	return NewPageRequestWithMax(page, limit, defaultLimit, MaxPageLimit)
}

// NewPageRequestWithMax page 上限保证 Offset()+limit 不会溢出
func NewPageRequestWithMax(page, limit, defaultLimit, maxLimit int) PageRequest {
	if maxLimit < 1 {
		maxLimit = MaxPageLimit
	}
	if limit == 0 {
		limit = defaultLimit
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if page < 1 {
		page = 1
	}
	if maxPage := math.MaxInt / limit; page > maxPage {
		page = maxPage
	}
	return PageRequest{Page: page, Limit: limit}
}

func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.Limit
}

type Pagination struct {
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	Total       int64 `json:"total"`
	HasNext     bool  `json:"hasNext"`
	HasPrev     bool  `json:"hasPrev"`
}

func NewPagination(p PageRequest, total int64) Pagination {
	limit := int64(p.Limit)
	return Pagination{
		CurrentPage: p.Page,
		TotalPages:  int((total + limit - 1) / limit),
		Total:       total,
		HasNext:     int64(p.Offset())+limit < total,
		HasPrev:     p.Page > 1,
	}
}
