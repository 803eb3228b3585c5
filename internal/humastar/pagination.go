package humastar

import (
	"net/url"
	"strconv"
)

// Pager is implemented by response bodies that can link to their sibling
// pages. The links keep every query parameter of the request except offset
// and limit.
type Pager interface {
	PaginationLinks(request url.URL) []string
}

// PageBody is one page of Total items starting at Offset.
type PageBody[T any] struct {
	Total  int `json:"total" doc:"Total number of items"`
	Offset int `json:"offset" doc:"Offset of the first item"`
	Limit  int `json:"limit" doc:"Page size"`
	Data   []T `json:"data" doc:"Items"`
}

// PaginationLinks returns first, prev, next and last links. Prev and next
// are omitted at the ends.
func (p PageBody[T]) PaginationLinks(request url.URL) []string {
	if p.Limit <= 0 {
		return nil
	}
	page := func(offset int, rel string) string {
		q := request.Query()
		q.Set("offset", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(p.Limit))
		u := url.URL{Path: request.Path, RawQuery: q.Encode()}
		return Action{Rel: rel, Href: u.String()}.LinkHeader()
	}

	links := []string{page(0, "first")}
	if p.Offset > 0 {
		links = append(links, page(max(p.Offset-p.Limit, 0), "prev"))
	}
	if p.Offset+p.Limit < p.Total {
		links = append(links, page(p.Offset+p.Limit, "next"))
	}
	last := max((p.Total-1)/p.Limit*p.Limit, 0)
	return append(links, page(last, "last"))
}
