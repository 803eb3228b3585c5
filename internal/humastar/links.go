package humastar

import (
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
)

// EntryPoint is the path every collection links back to.
const EntryPoint = "/health"

// StreamTags mark operations that answer with an SSE stream. They get no
// links and are never linked to.
var StreamTags = []string{"editor", "events"}

// Links derives RFC 8288 Link headers from an OpenAPI document. Build it
// once all routes are registered; the Transformer may be installed earlier.
type Links struct {
	mu     sync.RWMutex
	byPath map[string][]string
}

// NewLinks returns an empty registry.
func NewLinks() *Links {
	return &Links{byPath: map[string][]string{}}
}

type route struct {
	path string
	tags []string
	pi   *huma.PathItem
}

// Build walks api's paths and records the links of every route:
//   - item routes point up to their collection, and collections to their items
//   - writable routes get create-form and edit rels
//   - collections sharing a tag link to each other by last path segment
//   - the entry point links to every collection and the API description
//
// The links are also written into the OpenAPI responses.
func (l *Links) Build(api huma.API) {
	oapi := api.OpenAPI()
	var collections, items []route
	for p, pi := range oapi.Paths {
		r := route{path: p, tags: primaryTags(pi), pi: pi}
		if isStream(r.tags) {
			continue
		}
		if strings.Contains(p, "{") {
			items = append(items, r)
		} else {
			collections = append(collections, r)
		}
	}
	// Map iteration order is random; keep the headers stable.
	byPath := func(a, b route) int { return strings.Compare(a.path, b.path) }
	slices.SortFunc(collections, byPath)
	slices.SortFunc(items, byPath)

	set := map[string][]string{}
	add := func(from, to, rel string) {
		v := "<" + to + ">; rel=" + strconv.Quote(rel)
		if !slices.Contains(set[from], v) {
			set[from] = append(set[from], v)
		}
	}

	for _, it := range items {
		parent := path.Dir(it.path)
		if _, ok := oapi.Paths[parent]; ok {
			add(it.path, parent, "collection")
			add(parent, it.path, "item")
		}
		if it.pi.Put != nil || it.pi.Patch != nil {
			add(it.path, it.path, "edit")
		}
	}
	for _, c := range collections {
		if c.path != EntryPoint {
			add(c.path, EntryPoint, "up")
			add(EntryPoint, c.path, lastSegment(c.path))
		}
		if c.pi.Post != nil {
			add(c.path, c.path, "create-form")
		}
		for _, o := range collections {
			if o.path != c.path && sharesTag(c.tags, o.tags) {
				add(c.path, o.path, lastSegment(o.path))
			}
		}
		if ref := responseSchema(c.pi); ref != "" {
			add(c.path, "/openapi.json#/components/schemas/"+ref, "describedby")
		}
	}
	add(EntryPoint, "/openapi.json", "service-desc")
	add(EntryPoint, "/docs", "service-doc")

	for p, headers := range set {
		if pi, ok := oapi.Paths[p]; ok {
			for _, op := range operationsOf(pi) {
				documentLinks(op, headers)
			}
		}
	}

	l.mu.Lock()
	l.byPath = set
	l.mu.Unlock()
}

// For returns the links recorded for an operation path.
func (l *Links) For(opPath string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byPath[opPath]
}

// Root returns the entry point links, for handlers outside Huma.
func (l *Links) Root() []string {
	return l.For(EntryPoint)
}

// Transformer appends the recorded links, a self link for item routes,
// pagination links from a Pager body and action links from an Actor body.
func (l *Links) Transformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}
		for _, link := range l.For(op.Path) {
			ctx.AppendHeader("Link", link)
		}
		u := ctx.URL()
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", "<"+u.Path+`>; rel="self"`)
		}
		if p, ok := v.(Pager); ok {
			for _, link := range p.PaginationLinks(u) {
				ctx.AppendHeader("Link", link)
			}
		}
		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}
		return v, nil
	}
}

func primaryTags(pi *huma.PathItem) []string {
	for _, op := range operationsOf(pi) {
		if len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func operationsOf(pi *huma.PathItem) []*huma.Operation {
	var ops []*huma.Operation
	for _, op := range []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete} {
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops
}

func isStream(tags []string) bool {
	for _, t := range tags {
		if slices.Contains(StreamTags, t) {
			return true
		}
	}
	return false
}

func sharesTag(a, b []string) bool {
	for _, t := range a {
		if slices.Contains(b, t) {
			return true
		}
	}
	return false
}

func lastSegment(p string) string {
	return path.Base(strings.TrimRight(p, "/"))
}

// documentLinks adds the headers as OpenAPI Link objects on the first 2xx
// response of op.
func documentLinks(op *huma.Operation, headers []string) {
	var resp *huma.Response
	for code, r := range op.Responses {
		if strings.HasPrefix(code, "2") {
			resp = r
			break
		}
	}
	if resp == nil {
		return
	}
	if resp.Links == nil {
		resp.Links = map[string]*huma.Link{}
	}
	for _, h := range headers {
		if rel, href := parseLink(h); rel != "" {
			resp.Links[rel] = &huma.Link{OperationRef: href, Description: "Related: " + rel}
		}
	}
}

// responseSchema is the component name of the GET 2xx response body.
func responseSchema(pi *huma.PathItem) string {
	if pi.Get == nil {
		return ""
	}
	for code, resp := range pi.Get.Responses {
		if !strings.HasPrefix(code, "2") {
			continue
		}
		for _, mt := range resp.Content {
			if mt.Schema != nil && mt.Schema.Ref != "" {
				return path.Base(mt.Schema.Ref)
			}
		}
	}
	return ""
}

// parseLink splits `<href>; rel="name"`.
func parseLink(h string) (rel, href string) {
	target, params, ok := strings.Cut(h, ";")
	if !ok {
		return "", ""
	}
	href = strings.Trim(strings.TrimSpace(target), "<>")
	if v, ok := strings.CutPrefix(strings.TrimSpace(params), "rel="); ok {
		rel = strings.Trim(v, `"`)
	}
	return rel, href
}
