// Package events carries kickbox lifecycle hooks and resource change
// notifications.
package events

import (
	"sync"

	"github.com/google/uuid"
)

// Lifecycle hook names fired around mutating operations.
const (
	BeforeClusterLayerAdded   = "beforeClusterLayerAdded"
	AfterClusterLayerAdded    = "afterClusterLayerAdded"
	BeforeWmsLayerAdded       = "beforeWmsLayerAdded"
	AfterWmsLayerAdded        = "afterWmsLayerAdded"
	BeforeWmsLayerUpdated     = "beforeWmsLayerUpdated"
	AfterWmsLayerUpdated      = "afterWmsLayerUpdated"
	BeforeUpdateWmsLayerType  = "beforeUpdateWmsLayerType"
	AfterUpdateWmsLayerType   = "afterUpdateWmsLayerType"
	BeforeZoomToBounds        = "beforeZoomToBounds"
	AfterZoomToBounds         = "afterZoomToBounds"
	BeforeWmsLayerRemoved     = "beforeWmsLayerRemoved"
	AfterWmsLayerRemoved      = "afterWmsLayerRemoved"
	BeforeWmsSourceRemoved    = "beforeWmsSourceRemoved"
	AfterWmsSourceRemoved     = "afterWmsSourceRemoved"
	BeforeClusterLayerRemoved = "beforeClusterLayerRemoved"
	AfterClusterLayerRemoved  = "afterClusterLayerRemoved"
)

// Event is a lifecycle hook or a resource mutation.
type Event struct {
	Name     string `json:"name"`               // hook name, e.g. afterWmsLayerAdded
	Resource string `json:"resource,omitempty"` // e.g. "layers"
	Action   string `json:"action,omitempty"`   // "created", "updated", "deleted"
	ID       string `json:"id,omitempty"`       // layer or resource ID
}

// Callback handles a triggered event.
type Callback func(Event)

type entry struct {
	id string
	fn Callback
}

// Bus dispatches named callbacks synchronously and fans every event out to
// channel subscribers.
type Bus struct {
	mu        sync.RWMutex
	callbacks map[string][]entry
	subs      map[chan Event]struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		callbacks: make(map[string][]entry),
		subs:      make(map[chan Event]struct{}),
	}
}

// On registers fn for name and returns its callback ID.
func (b *Bus) On(name string, fn Callback) string {
	id := uuid.NewString()
	b.OnID(name, id, fn)
	return id
}

// OnID registers fn for name under a caller-chosen ID, replacing any callback
// already registered with that ID.
func (b *Bus) OnID(name, id string, fn Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.callbacks[name]
	for i, e := range list {
		if e.id == id {
			list[i].fn = fn
			return
		}
	}
	b.callbacks[name] = append(list, entry{id: id, fn: fn})
}

// Off unregisters the callback with id from name. Unknown IDs are ignored.
func (b *Bus) Off(name, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.callbacks[name]
	for i, e := range list {
		if e.id == id {
			b.callbacks[name] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Trigger runs the callbacks for e.Name in registration order, then publishes
// e to channel subscribers.
func (b *Bus) Trigger(e Event) {
	b.mu.RLock()
	list := append([]entry(nil), b.callbacks[e.Name]...)
	b.mu.RUnlock()

	for _, cb := range list {
		cb.fn(e)
	}
	b.Publish(e)
}

// Publish sends an event to all subscribers (non-blocking).
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}
