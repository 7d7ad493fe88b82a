package freespace

import (
	"sort"
	"sync"

	"github.com/cuemby/layerstore/pkg/types"
)

// Registry holds one Tracker per free space manager name. Pools sharing a
// backing device share a name and therefore a tracker.
type Registry struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
	pools    map[string]map[types.StoragePoolKey]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		trackers: make(map[string]*Tracker),
		pools:    make(map[string]map[types.StoragePoolKey]struct{}),
	}
}

// GetOrCreate returns the tracker for name, creating it on first use
func (r *Registry) GetOrCreate(name string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(name)
}

func (r *Registry) getOrCreateLocked(name string) *Tracker {
	t, ok := r.trackers[name]
	if !ok {
		t = NewTracker(name)
		r.trackers[name] = t
	}
	return t
}

// Get returns the tracker for name
func (r *Registry) Get(name string) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[name]
	return t, ok
}

// Names returns the names of all trackers in ascending order
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.trackers))
	for name := range r.trackers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AttachPool registers sp with the tracker of its free space manager
func (r *Registry) AttachPool(sp *types.StoragePool) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := sp.SharedSpaceName()
	if r.pools[name] == nil {
		r.pools[name] = make(map[types.StoragePoolKey]struct{})
	}
	r.pools[name][sp.Key()] = struct{}{}
	return r.getOrCreateLocked(name)
}

// DetachPool unregisters sp. The tracker is deleted with its last pool.
func (r *Registry) DetachPool(sp *types.StoragePool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := sp.SharedSpaceName()
	delete(r.pools[name], sp.Key())
	if len(r.pools[name]) == 0 {
		delete(r.pools, name)
		r.deleteLocked(name)
	}
}

// Delete removes the tracker for name regardless of attached pools
func (r *Registry) Delete(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pools, name)
	r.deleteLocked(name)
}

func (r *Registry) deleteLocked(name string) {
	if t, ok := r.trackers[name]; ok {
		t.close()
		delete(r.trackers, name)
	}
}

// PutVolume records that v is being created in sp
func (r *Registry) PutVolume(sp *types.StoragePool, v Volume) {
	r.AttachPool(sp).VlmCreating(v)
}

// RemoveVolume records that v no longer exists in sp
func (r *Registry) RemoveVolume(sp *types.StoragePool, v Volume) {
	if t, ok := r.Get(sp.SharedSpaceName()); ok {
		t.EnsureVlmNoLongerCreating(v)
	}
}

// Pools returns the keys of the storage pools attached to name
func (r *Registry) Pools(name string) []types.StoragePoolKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]types.StoragePoolKey, 0, len(r.pools[name]))
	for k := range r.pools[name] {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
