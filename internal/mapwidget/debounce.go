package mapwidget

import (
	"sync"
	"time"
)

// Debouncer runs fn once a burst of calls has been quiet for wait. Only the
// last call in a burst fires.
type Debouncer struct {
	mu    sync.Mutex
	wait  time.Duration
	fn    func()
	timer *time.Timer
}

// NewDebouncer returns a debouncer for fn.
func NewDebouncer(wait time.Duration, fn func()) *Debouncer {
	return &Debouncer{wait: wait, fn: fn}
}

// Call schedules fn, resetting any pending run.
func (d *Debouncer) Call() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, d.fn)
}

// Cancel drops a pending run.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Binding is the set of subscriptions one layer holds on a map, removed
// together.
type Binding struct {
	Subs      []Subscription
	Debouncer *Debouncer
}

// Unbind removes every subscription and cancels pending work.
func (b *Binding) Unbind(m Map) {
	if b == nil {
		return
	}
	for _, s := range b.Subs {
		m.Off(s)
	}
	if b.Debouncer != nil {
		b.Debouncer.Cancel()
	}
	b.Subs = nil
}

// BindDebounced subscribes fn, debounced by wait, to each event and returns
// the binding holding the handles.
func BindDebounced(m Map, wait time.Duration, fn func(), events ...string) *Binding {
	d := NewDebouncer(wait, fn)
	b := &Binding{Debouncer: d}
	for _, ev := range events {
		b.Subs = append(b.Subs, m.On(ev, func(Event) { d.Call() }))
	}
	return b
}

// Bind subscribes fn to each event. With wait > 0 the calls are debounced.
func Bind(m Map, wait time.Duration, fn func(), events ...string) *Binding {
	if wait > 0 {
		return BindDebounced(m, wait, fn, events...)
	}
	b := &Binding{}
	for _, ev := range events {
		b.Subs = append(b.Subs, m.On(ev, func(Event) { fn() }))
	}
	return b
}
