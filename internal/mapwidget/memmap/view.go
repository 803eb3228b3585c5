package memmap

import (
	"sync"

	"github.com/joeblew999/kickbox/internal/mapwidget"
)

type binding struct {
	selector string
	event    string
	fn       func()
}

// View is an in-memory popup view. Visibility and input values are tracked
// per selector; Trigger fires bound handlers.
type View struct {
	mu       sync.Mutex
	html     string
	bindings []binding
	hidden   map[string]bool
	values   map[string]string
	active   int
	renders  int
}

var _ mapwidget.PopupView = (*View)(nil)

// NewView returns an empty view.
func NewView() *View {
	return &View{hidden: map[string]bool{}, values: map[string]string{}, active: -1}
}

func (v *View) Render(html string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.html = html
	v.renders++
}

func (v *View) Bind(selector, event string, fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bindings = append(v.bindings, binding{selector: selector, event: event, fn: fn})
}

func (v *View) UnbindAll() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bindings = nil
}

func (v *View) Show(selector string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hidden[selector] = false
}

func (v *View) Hide(selector string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hidden[selector] = true
}

func (v *View) Toggle(selector string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hidden[selector] = !v.hidden[selector]
}

func (v *View) Value(selector string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.values[selector]
}

func (v *View) SetValue(selector, value string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values[selector] = value
}

func (v *View) SetActiveRecord(index int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active = index
}

// Trigger runs the handlers bound to selector for event.
func (v *View) Trigger(selector, event string) {
	v.mu.Lock()
	var fns []func()
	for _, b := range v.bindings {
		if b.selector == selector && b.event == event {
			fns = append(fns, b.fn)
		}
	}
	v.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// HTML returns the last rendered markup.
func (v *View) HTML() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.html
}

// Visible reports whether selector is shown. Selectors never hidden count as
// visible.
func (v *View) Visible(selector string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.hidden[selector]
}

// Active returns the highlighted record slot, or -1.
func (v *View) Active() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

// Bindings returns the number of bound handlers.
func (v *View) Bindings() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.bindings)
}

// Renders returns how many times Render was called.
func (v *View) Renders() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.renders
}
