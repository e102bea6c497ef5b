package throttle

import (
	"path/filepath"
	"sync"

	"github.com/bobmcallan/quotefeed/internal/storage/jsonfile"
)

// Registry hands out one Throttle per backing file so that a provider swap
// and swap-back reuse the same counters instead of racing two instances.
type Registry struct {
	dir  string
	opts []Option

	mu        sync.Mutex
	throttles map[string]*Throttle
}

// NewRegistry stores throttle files under dir.
func NewRegistry(dir string, opts ...Option) *Registry {
	return &Registry{
		dir:       dir,
		opts:      opts,
		throttles: make(map[string]*Throttle),
	}
}

// PathFor returns the state file for provider.
func (r *Registry) PathFor(provider string) string {
	return jsonfile.Path(r.dir, provider)
}

// For returns the throttle for provider, creating it on first use. Limits
// are refreshed on every call.
func (r *Registry) For(provider string, limits Limits) *Throttle {
	path := filepath.Clean(r.PathFor(provider))

	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.throttles[path]; ok {
		t.SetLimits(limits)
		return t
	}
	t := New(path, provider, limits, r.opts...)
	r.throttles[path] = t
	return t
}

// Close flushes every throttle.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.throttles {
		t.Close()
	}
	return nil
}
