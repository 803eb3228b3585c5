package cluster

import (
	"sort"
	"strings"

	"github.com/joeblew999/kickbox/internal/templates"
)

var classPunct = strings.NewReplacer(
	".", "", ",", "", "/", "", "#", "", "!", "", "$", "", "%", "", "^", "",
	"&", "", "*", "", ";", "", ":", "", "{", "", "}", "", "=", "", "_", "",
	"`", "", "~", "", "(", "", ")", "",
)

// Classify turns a property key into a CSS class: spaces become dashes, the
// result is lower-cased and punctuation other than dashes is dropped.
func Classify(name string) string {
	s := strings.ToLower(strings.ReplaceAll(name, " ", "-"))
	return classPunct.Replace(s)
}

// PropertiesToList renders props as the cluster popup's key/value list,
// sorted by key.
func PropertiesToList(r *templates.Renderer, props Properties) (string, error) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]templates.ClusterProperty, 0, len(keys))
	for _, k := range keys {
		items = append(items, templates.ClusterProperty{Key: k, Class: Classify(k), Value: props[k]})
	}
	return r.Render(templates.ClusterProperties, items)
}
