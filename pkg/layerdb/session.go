package layerdb

import (
	"errors"
	"sort"

	"github.com/cuemby/layerstore/pkg/codec"
	"github.com/cuemby/layerstore/pkg/log"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/types"
	"github.com/rs/zerolog"
)

// layerTables are the per-kind tables keyed by LAYER_RESOURCE_ID
var layerTables = []*storage.Table{
	storage.LayerDrbdResources,
	storage.LayerDrbdVolumes,
	storage.LayerLuksVolumes,
	storage.LayerCacheVolumes,
	storage.LayerBCacheVolumes,
	storage.LayerWritecacheVolumes,
	storage.LayerOpenflexVolumes,
	storage.LayerStorageVolumes,
}

type ownerKey struct {
	node string
	rsc  string
	snap string
}

// dfnKey identifies a replication definition
type dfnKey struct {
	rsc    string
	suffix string
	snap   string
}

// LoadSession scopes one load pass. Backends that cannot filter server
// side (key-value, custom resources) have every layer row fetched once by
// FetchForLoadAll and served from memory until Close; the relational
// backend queries per call.
//
// A session is not safe for concurrent use, and a Registry allows one open
// session at a time.
type LoadSession struct {
	registry *Registry
	tx       storage.Tx
	backend  storage.BackendType
	querier  storage.Querier
	logger   zerolog.Logger

	// filled by FetchForLoadAll for bulk backends
	bulk    bool
	byOwner map[ownerKey][]codec.LayerRscIDSpec
	byTable map[string]map[int][]any
	rscDfns map[dfnKey]codec.DrbdRscDfnSpec
	vlmDfns map[dfnKey][]codec.DrbdVlmDfnSpec

	// replication definitions built so far, shared by every node
	drbdDfns map[dfnKey]*types.DrbdRscDfnData

	// rows seen so far, by id, and their children
	rows     map[int]codec.LayerRscIDSpec
	children map[int][]int

	closed bool
}

func newLoadSession(r *Registry, tx storage.Tx) *LoadSession {
	s := &LoadSession{
		registry: r,
		tx:       tx,
		backend:  tx.Backend(),
		logger:   log.WithBackend(string(tx.Backend())),
		rows:     make(map[int]codec.LayerRscIDSpec),
		children: make(map[int][]int),
		drbdDfns: make(map[dfnKey]*types.DrbdRscDfnData),
	}
	if q, ok := tx.(storage.Querier); ok {
		s.querier = q
	} else {
		s.bulk = true
	}
	return s
}

// Tx returns the transaction the session reads from
func (s *LoadSession) Tx() storage.Tx { return s.tx }

// FetchForLoadAll fills the in-memory cache of bulk backends. It is called
// by Registry.OpenLoadSession and is a no-op for the relational backend.
func (s *LoadSession) FetchForLoadAll() error {
	if s.closed {
		return storage.NewImplementationError("load session already closed")
	}
	if !s.bulk || s.byOwner != nil {
		return nil
	}

	recs, err := s.tx.FetchAll(storage.LayerResourceIDs)
	if err != nil {
		return err
	}
	specs, err := codec.LayerRscIDs.DecodeAll(s.backend, recs)
	if err != nil {
		return undecodable(storage.LayerResourceIDs, err)
	}
	s.byOwner = make(map[ownerKey][]codec.LayerRscIDSpec)
	for _, spec := range specs {
		k := ownerKey{node: spec.NodeName, rsc: spec.ResourceName, snap: deref(spec.SnapshotName)}
		s.byOwner[k] = append(s.byOwner[k], spec)
		s.remember(spec)
	}

	s.byTable = make(map[string]map[int][]any, len(layerTables))
	for _, table := range layerTables {
		recs, err := s.tx.FetchAll(table)
		if err != nil {
			return err
		}
		idx, err := indexByLayer(s.backend, table, recs)
		if err != nil {
			return err
		}
		s.byTable[table.Name] = idx
	}
	if err := s.cacheDrbdDfns(); err != nil {
		return err
	}

	s.logger.Debug().Int("layer_rsc_ids", len(specs)).Msg("Layer data cached for load")
	return nil
}

// Close releases the cache. It is safe to call more than once.
func (s *LoadSession) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.byOwner = nil
	s.byTable = nil
	s.rscDfns = nil
	s.vlmDfns = nil
	s.drbdDfns = nil
	s.rows = nil
	s.children = nil
	s.registry.releaseSession(s)
}

func (s *LoadSession) remember(spec codec.LayerRscIDSpec) {
	if _, seen := s.rows[spec.ID]; seen {
		return
	}
	s.rows[spec.ID] = spec
	if spec.ParentID != nil {
		s.children[*spec.ParentID] = append(s.children[*spec.ParentID], spec.ID)
	}
}

// rscIDRows returns the layer rows of one resource or snapshot ordered by id
func (s *LoadSession) rscIDRows(node, rsc, snap string) ([]codec.LayerRscIDSpec, error) {
	if s.closed {
		return nil, storage.NewImplementationError("load session already closed")
	}

	var specs []codec.LayerRscIDSpec
	if s.bulk {
		if s.byOwner == nil {
			return nil, storage.NewImplementationError("FetchForLoadAll was not called")
		}
		specs = append(specs, s.byOwner[ownerKey{node: node, rsc: rsc, snap: snap}]...)
	} else {
		var snapName any
		if snap != "" {
			snapName = snap
		}
		match, err := codec.LayerRscIDs.Match(s.backend, map[string]any{
			storage.ColNodeName:     node,
			storage.ColResourceName: rsc,
			storage.ColSnapshotName: snapName,
		})
		if err != nil {
			return nil, err
		}
		recs, err := s.querier.FetchWhere(storage.LayerResourceIDs, match)
		if err != nil {
			return nil, err
		}
		specs, err = codec.LayerRscIDs.DecodeAll(s.backend, recs)
		if err != nil {
			return nil, undecodable(storage.LayerResourceIDs, err)
		}
		for _, spec := range specs {
			s.remember(spec)
		}
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs, nil
}

func (s *LoadSession) cacheDrbdDfns() error {
	recs, err := s.tx.FetchAll(storage.LayerDrbdResourceDefinitions)
	if err != nil {
		return err
	}
	s.rscDfns = make(map[dfnKey]codec.DrbdRscDfnSpec, len(recs))
	err = indexSpecs(s.backend, codec.DrbdRscDfns, recs, func(spec codec.DrbdRscDfnSpec) {
		s.rscDfns[dfnKey{spec.ResourceName, spec.Suffix, deref(spec.SnapshotName)}] = spec
	})
	if err != nil {
		return undecodable(storage.LayerDrbdResourceDefinitions, err)
	}

	recs, err = s.tx.FetchAll(storage.LayerDrbdVolumeDefinitions)
	if err != nil {
		return err
	}
	s.vlmDfns = make(map[dfnKey][]codec.DrbdVlmDfnSpec)
	err = indexSpecs(s.backend, codec.DrbdVlmDfns, recs, func(spec codec.DrbdVlmDfnSpec) {
		k := dfnKey{spec.ResourceName, spec.Suffix, deref(spec.SnapshotName)}
		s.vlmDfns[k] = append(s.vlmDfns[k], spec)
	})
	if err != nil {
		return undecodable(storage.LayerDrbdVolumeDefinitions, err)
	}
	return nil
}

// drbdDfnRows returns the stored replication definition of k and its
// volume definitions
func (s *LoadSession) drbdDfnRows(k dfnKey) (codec.DrbdRscDfnSpec, bool, []codec.DrbdVlmDfnSpec, error) {
	if s.closed {
		return codec.DrbdRscDfnSpec{}, false, nil, storage.NewImplementationError("load session already closed")
	}
	if s.bulk {
		if s.rscDfns == nil {
			return codec.DrbdRscDfnSpec{}, false, nil, storage.NewImplementationError("FetchForLoadAll was not called")
		}
		spec, ok := s.rscDfns[k]
		return spec, ok, s.vlmDfns[k], nil
	}

	var snapName *string
	if k.snap != "" {
		snapName = &k.snap
	}
	spec, _, found, err := fetch(s.tx, codec.DrbdRscDfns, &codec.DrbdRscDfnSpec{
		ResourceName: k.rsc,
		Suffix:       k.suffix,
		SnapshotName: snapName,
	})
	if err != nil || !found {
		return spec, false, nil, err
	}

	match, err := codec.DrbdVlmDfns.Match(s.backend, map[string]any{
		storage.ColResourceName:  k.rsc,
		storage.ColRscNameSuffix: k.suffix,
		storage.ColSnapshotName:  snapName,
	})
	if err != nil {
		return spec, false, nil, err
	}
	recs, err := s.querier.FetchWhere(storage.LayerDrbdVolumeDefinitions, match)
	if err != nil {
		return spec, false, nil, err
	}
	vlms, err := codec.DrbdVlmDfns.DecodeAll(s.backend, recs)
	if err != nil {
		return spec, false, nil, undecodable(storage.LayerDrbdVolumeDefinitions, err)
	}
	return spec, true, vlms, nil
}

// childIDs returns the ids whose parent is id, ascending
func (s *LoadSession) childIDs(id int) []int {
	ids := append([]int(nil), s.children[id]...)
	sort.Ints(ids)
	return ids
}

// fetchByLayer returns the decoded rows of c's table for one layer object
func fetchByLayer[S any](s *LoadSession, c *codec.Codec[S], layerRscID int) ([]S, error) {
	if s.closed {
		return nil, storage.NewImplementationError("load session already closed")
	}
	if s.bulk {
		idx, ok := s.byTable[c.Table.Name]
		if !ok {
			return nil, storage.NewImplementationError("table %s is not cached", c.Table.Name)
		}
		cached := idx[layerRscID]
		out := make([]S, 0, len(cached))
		for _, v := range cached {
			spec, ok := v.(S)
			if !ok {
				return nil, storage.NewImplementationError("table %s cached %T", c.Table.Name, v)
			}
			out = append(out, spec)
		}
		return out, nil
	}

	match, err := c.Match(s.backend, map[string]any{storage.ColLayerResourceID: layerRscID})
	if err != nil {
		return nil, err
	}
	recs, err := s.querier.FetchWhere(c.Table, match)
	if err != nil {
		return nil, err
	}
	out, err := c.DecodeAll(s.backend, recs)
	if err != nil {
		return nil, storage.Corrupted(c.Table.Name, layerRscID, "cannot decode row", err)
	}
	return out, nil
}

// indexByLayer decodes recs of a layer table and groups them by layer id
func indexByLayer(backend storage.BackendType, table *storage.Table, recs []storage.Record) (map[int][]any, error) {
	idx := make(map[int][]any)
	add := func(id int, spec any) { idx[id] = append(idx[id], spec) }

	var err error
	switch table {
	case storage.LayerDrbdResources:
		err = indexSpecs(backend, codec.DrbdRscs, recs, func(s codec.DrbdRscSpec) { add(s.LayerRscID, s) })
	case storage.LayerDrbdVolumes:
		err = indexSpecs(backend, codec.DrbdVlms, recs, func(s codec.DrbdVlmSpec) { add(s.LayerRscID, s) })
	case storage.LayerLuksVolumes:
		err = indexSpecs(backend, codec.LuksVlms, recs, func(s codec.LuksVlmSpec) { add(s.LayerRscID, s) })
	case storage.LayerCacheVolumes:
		err = indexSpecs(backend, codec.CacheVlms, recs, func(s codec.CacheVlmSpec) { add(s.LayerRscID, s) })
	case storage.LayerBCacheVolumes:
		err = indexSpecs(backend, codec.BCacheVlms, recs, func(s codec.BCacheVlmSpec) { add(s.LayerRscID, s) })
	case storage.LayerWritecacheVolumes:
		err = indexSpecs(backend, codec.WritecacheVlms, recs, func(s codec.WritecacheVlmSpec) { add(s.LayerRscID, s) })
	case storage.LayerOpenflexVolumes:
		err = indexSpecs(backend, codec.OpenflexVlms, recs, func(s codec.OpenflexVlmSpec) { add(s.LayerRscID, s) })
	case storage.LayerStorageVolumes:
		err = indexSpecs(backend, codec.StorageVlms, recs, func(s codec.StorageVlmSpec) { add(s.LayerRscID, s) })
	default:
		return nil, storage.NewImplementationError("no layer codec for table %s", table.Name)
	}
	if err != nil {
		return nil, undecodable(table, err)
	}
	return idx, nil
}

func indexSpecs[S any](backend storage.BackendType, c *codec.Codec[S], recs []storage.Record, add func(S)) error {
	for _, rec := range recs {
		spec, err := c.Decode(backend, rec)
		if err != nil {
			return err
		}
		add(spec)
	}
	return nil
}

func undecodable(table *storage.Table, err error) error {
	var impl *storage.ImplementationError
	if errors.As(err, &impl) {
		return err
	}
	return &storage.CorruptedStateError{Table: table.Name, Reason: "cannot decode row", Err: err}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

