// Package layers adds, restyles and removes the WMS raster layers kickbox
// renders from the analytics backend: plain rasters, heatmaps, contours,
// class-break rasters and labels.
package layers

import (
	"fmt"
	"sort"
	"strings"
)

type entry struct {
	key   string
	value any
}

// Options is an ordered, case-insensitive parameter set. Keys keep the case
// they were first set with; lookups ignore case through a lower-cased index.
// The zero value is empty and ready to use.
type Options struct {
	entries []entry
	index   map[string]int
}

// NewOptions indexes m. Keys that differ only by case collapse to one entry;
// which value wins is unspecified.
func NewOptions(m map[string]any) *Options {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	o := &Options{}
	for _, k := range keys {
		o.Set(k, m[k])
	}
	return o
}

// Get returns the value stored under key in any case.
func (o *Options) Get(key string) (any, bool) {
	if o == nil || o.index == nil {
		return nil, false
	}
	i, ok := o.index[strings.ToLower(key)]
	if !ok {
		return nil, false
	}
	return o.entries[i].value, true
}

// GetOr returns the value under key, or def when absent.
func (o *Options) GetOr(key string, def any) any {
	if v, ok := o.Get(key); ok {
		return v
	}
	return def
}

// String returns the value under key formatted as a WMS parameter, or "" when
// absent or nil.
func (o *Options) String(key string) string {
	v, ok := o.Get(key)
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Set stores value under key. An existing key in another case is overwritten
// in place and keeps its original spelling.
func (o *Options) Set(key string, value any) {
	if o.index == nil {
		o.index = make(map[string]int)
	}
	lk := strings.ToLower(key)
	if i, ok := o.index[lk]; ok {
		o.entries[i].value = value
		return
	}
	o.index[lk] = len(o.entries)
	o.entries = append(o.entries, entry{key: key, value: value})
}

// Delete removes key in any case.
func (o *Options) Delete(key string) {
	if o == nil || o.index == nil {
		return
	}
	lk := strings.ToLower(key)
	i, ok := o.index[lk]
	if !ok {
		return
	}
	o.entries = append(o.entries[:i], o.entries[i+1:]...)
	delete(o.index, lk)
	for j := i; j < len(o.entries); j++ {
		o.index[strings.ToLower(o.entries[j].key)] = j
	}
}

// Merge sets every entry of others in order.
func (o *Options) Merge(others ...*Options) *Options {
	for _, other := range others {
		if other == nil {
			continue
		}
		for _, e := range other.entries {
			o.Set(e.key, e.value)
		}
	}
	return o
}

// Clone returns an independent copy.
func (o *Options) Clone() *Options {
	return (&Options{}).Merge(o)
}

// Len is the number of entries.
func (o *Options) Len() int {
	if o == nil {
		return 0
	}
	return len(o.entries)
}

// Keys returns the keys in insertion order.
func (o *Options) Keys() []string {
	if o == nil {
		return nil
	}
	keys := make([]string, len(o.entries))
	for i, e := range o.entries {
		keys[i] = e.key
	}
	return keys
}

// Map returns the entries as a plain map.
func (o *Options) Map() map[string]any {
	m := make(map[string]any, o.Len())
	if o == nil {
		return m
	}
	for _, e := range o.entries {
		m[e.key] = e.value
	}
	return m
}
