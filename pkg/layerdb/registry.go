package layerdb

import (
	"sync"

	"github.com/cuemby/layerstore/pkg/codec"
	"github.com/cuemby/layerstore/pkg/log"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/types"
	"github.com/rs/zerolog"
)

// Registry is the persistence facade for layer stacks. It dispatches to
// one Driver per layer kind and owns the shared LAYER_RESOURCE_IDS table.
type Registry struct {
	drivers map[types.LayerKind]Driver
	logger  zerolog.Logger

	mu      sync.Mutex
	session *LoadSession
}

// NewRegistry creates a registry with a driver for every layer kind
func NewRegistry() *Registry {
	r := &Registry{
		drivers: make(map[types.LayerKind]Driver, len(types.AllLayerKinds)),
		logger:  log.WithComponent("layerdb"),
	}
	for _, d := range []Driver{
		drbdDriver{},
		luksDriver{},
		cacheDriver{},
		bcacheDriver{},
		writecacheDriver{},
		nvmeDriver{},
		openflexDriver{},
		storageDriver{},
	} {
		r.drivers[d.Kind()] = d
	}
	return r
}

// Driver returns the driver of kind
func (r *Registry) Driver(kind types.LayerKind) (Driver, error) {
	switch kind {
	case types.LayerKindDRBD, types.LayerKindLUKS, types.LayerKindCache, types.LayerKindBCache,
		types.LayerKindWritecache, types.LayerKindNVMe, types.LayerKindOpenflex, types.LayerKindStorage:
		return r.drivers[kind], nil
	default:
		return nil, storage.NewImplementationError("unknown layer kind %q", kind)
	}
}

// OpenLoadSession starts a load pass reading from tx. The caller must
// Close the session; only one session may be open at a time.
func (r *Registry) OpenLoadSession(tx storage.Tx) (*LoadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return nil, storage.NewImplementationError("a load session is already open")
	}
	s := newLoadSession(r, tx)
	if err := s.FetchForLoadAll(); err != nil {
		s.closed = true
		return nil, err
	}
	r.session = s
	return s, nil
}

func (r *Registry) releaseSession(s *LoadSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == s {
		r.session = nil
	}
}

// PersistObject writes the id row of obj and its layer data. Parents must
// be persisted before their children. The kind of an already persisted
// layer id never changes.
func (r *Registry) PersistObject(tx storage.Tx, obj types.LayerObject) error {
	d, err := r.Driver(obj.Base().Kind)
	if err != nil {
		return err
	}
	spec, err := layerRscIDSpec(obj)
	if err != nil {
		return err
	}
	stored, _, found, err := fetch(tx, codec.LayerRscIDs, &spec)
	if err != nil {
		return err
	}
	if found && stored.Kind != spec.Kind {
		return storage.NewImplementationError("layer resource id %d is %s and cannot become %s",
			spec.ID, stored.Kind, spec.Kind)
	}
	if err := upsert(tx, codec.LayerRscIDs, &spec); err != nil {
		return err
	}
	return d.Persist(tx, obj)
}

// DeleteObject removes the layer data of obj and then its id row
func (r *Registry) DeleteObject(tx storage.Tx, obj types.LayerObject) error {
	d, err := r.Driver(obj.Base().Kind)
	if err != nil {
		return err
	}
	if err := d.Delete(tx, obj); err != nil {
		return err
	}
	spec := codec.LayerRscIDSpec{ID: obj.Base().ID}
	if err := remove(tx, codec.LayerRscIDs, &spec); err != nil {
		return err
	}
	r.logger.Debug().Str("layer", obj.Base().String()).Msg("Layer object deleted")
	return nil
}

// AllocateID returns the next free layer resource id
func (r *Registry) AllocateID(tx storage.Tx) (int, error) {
	recs, err := tx.FetchAll(storage.LayerResourceIDs)
	if err != nil {
		return 0, err
	}
	specs, err := codec.LayerRscIDs.DecodeAll(tx.Backend(), recs)
	if err != nil {
		return 0, undecodable(storage.LayerResourceIDs, err)
	}
	next := 0
	for _, s := range specs {
		if s.ID >= next {
			next = s.ID + 1
		}
	}
	return next, nil
}

func layerRscIDSpec(obj types.LayerObject) (codec.LayerRscIDSpec, error) {
	b := obj.Base()
	if b.Owner == nil {
		return codec.LayerRscIDSpec{}, storage.NewImplementationError("%s has no owning resource", b)
	}
	spec := codec.LayerRscIDSpec{
		ID:           b.ID,
		NodeName:     b.Owner.GetNodeName(),
		ResourceName: b.Owner.GetResourceName(),
		Kind:         string(b.Kind),
		ParentID:     b.ParentID,
		Suffix:       b.Suffix,
	}
	if b.Owner.IsSnapshot() {
		snap := b.Owner.GetSnapshotName()
		spec.SnapshotName = &snap
	}
	if b.SuspendIO != nil {
		suspended := *b.SuspendIO
		spec.Suspended = &suspended
	}
	return spec, nil
}
