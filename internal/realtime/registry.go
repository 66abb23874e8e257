package realtime

import "sync"

// Registry holds the process-wide Client. Instance builds it on first use;
// Remove closes it so the next Instance starts fresh.
type Registry struct {
	factory func() *Client

	mu       sync.Mutex
	instance *Client
}

func NewRegistry(factory func() *Client) *Registry {
	if factory == nil {
		panic("realtime.NewRegistry: factory must not be nil")
	}
	return &Registry{factory: factory}
}

func (r *Registry) Instance() *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.instance == nil {
		r.instance = r.factory()
	}
	return r.instance
}

// Remove discards the current instance and closes it. It returns once the
// old socket is closed and is safe to call from a subscriber callback.
func (r *Registry) Remove() {
	r.mu.Lock()
	inst := r.instance
	r.instance = nil
	r.mu.Unlock()
	if inst != nil {
		inst.Close()
	}
}
