package pageaction

import "sync"

// Registry remembers whether the page-action indicator is shown for each tab.
// The extension reads it back after reporting an event.
type Registry struct {
	mu       sync.RWMutex
	visible  map[string]bool
	onChange func(tabID string, visible bool)
}

func NewRegistry() *Registry {
	return &Registry{visible: make(map[string]bool)}
}

// OnChange registers a callback invoked whenever a tab's visibility flips.
func (r *Registry) OnChange(fn func(tabID string, visible bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

func (r *Registry) Show(tabID string) { r.set(tabID, true) }

func (r *Registry) Hide(tabID string) { r.set(tabID, false) }

func (r *Registry) Visible(tabID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.visible[tabID]
}

func (r *Registry) Forget(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.visible, tabID)
}

func (r *Registry) set(tabID string, visible bool) {
	r.mu.Lock()
	prev, known := r.visible[tabID]
	r.visible[tabID] = visible
	fn := r.onChange
	r.mu.Unlock()

	if fn != nil && (!known || prev != visible) {
		fn(tabID, visible)
	}
}
