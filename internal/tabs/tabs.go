package tabs

import "sync"

// Tab identifies a browser tab and the page it currently shows.
type Tab struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Registry tracks the last known URL of each tab and which tab is active.
type Registry struct {
	mu     sync.Mutex
	tabs   map[string]Tab
	active string
}

func NewRegistry() *Registry {
	return &Registry{tabs: make(map[string]Tab)}
}

// Activate records t and marks it as the active tab.
func (r *Registry) Activate(t Tab) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tabs[t.ID] = t
	r.active = t.ID
}

// Update records t's URL and returns the URL it had before, if any.
func (r *Registry) Update(t Tab) (previous string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous = r.tabs[t.ID].URL
	r.tabs[t.ID] = t
	if r.active == "" {
		r.active = t.ID
	}
	return previous
}

// Remove forgets the tab and returns it.
func (r *Registry) Remove(id string) (Tab, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tabs[id]
	delete(r.tabs, id)
	if r.active == id {
		r.active = ""
	}
	return t, ok
}

func (r *Registry) Get(id string) (Tab, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tabs[id]
	return t, ok
}

func (r *Registry) Active() (Tab, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == "" {
		return Tab{}, false
	}
	t, ok := r.tabs[r.active]
	return t, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs)
}
