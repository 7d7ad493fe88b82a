package layerdb

import (
	"errors"
	"sort"
	"strconv"

	"github.com/cuemby/layerstore/pkg/codec"
	"github.com/cuemby/layerstore/pkg/freespace"
	"github.com/cuemby/layerstore/pkg/log"
	"github.com/cuemby/layerstore/pkg/metrics"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/types"
	"github.com/rs/zerolog"
)

// State is everything a full load reconstructs
type State struct {
	Nodes     map[string]*types.Node
	Pools     types.StoragePoolMap
	Resources []*types.Resource
	Snapshots []*types.Snapshot
	FreeSpace *freespace.Registry
}

// Resource returns the live resource name on node
func (st *State) Resource(node, name string) (*types.Resource, bool) {
	for _, rsc := range st.Resources {
		if rsc.NodeName == node && rsc.Name == name {
			return rsc, true
		}
	}
	return nil, false
}

// Snapshot returns snapshot snap of resource name on node
func (st *State) Snapshot(node, name, snap string) (*types.Snapshot, bool) {
	for _, s := range st.Snapshots {
		if s.NodeName == node && s.ResourceName == name && s.Name == snap {
			return s, true
		}
	}
	return nil, false
}

// ResourceError is a layer stack that failed to load during Check
type ResourceError struct {
	NodeName     string
	ResourceName string
	SnapshotName string
	Err          error
}

// Loader performs the full database load: nodes, storage pools,
// resources and snapshots, volumes and finally every layer stack inside
// one load session.
type Loader struct {
	registry  *Registry
	freeSpace *freespace.Registry
	logger    zerolog.Logger
}

// NewLoader creates a loader. Loaded storage pools are attached to fs.
func NewLoader(registry *Registry, fs *freespace.Registry) *Loader {
	return &Loader{
		registry:  registry,
		freeSpace: fs,
		logger:    log.WithComponent("loader"),
	}
}

// LoadAll reconstructs the complete state visible to tx. The first
// corrupted row aborts the load.
func (l *Loader) LoadAll(tx storage.Tx) (*State, error) {
	st, _, err := l.load(tx, false)
	return st, err
}

// Check loads like LoadAll but keeps going when a layer stack fails and
// reports every failing resource. Errors outside layer stacks still abort.
func (l *Loader) Check(tx storage.Tx) (*State, []ResourceError, error) {
	return l.load(tx, true)
}

func (l *Loader) load(tx storage.Tx, collect bool) (st *State, failed []ResourceError, err error) {
	backend := tx.Backend()
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.LoadDuration, string(backend))
		if err != nil && errors.Is(err, storage.ErrCorruptedState) {
			metrics.CorruptedStateErrorsTotal.Inc()
		}
	}()

	st = &State{
		Nodes:     make(map[string]*types.Node),
		Pools:     make(types.StoragePoolMap),
		FreeSpace: l.freeSpace,
	}
	if err := l.loadNodes(tx, st); err != nil {
		return nil, nil, err
	}
	if err := l.loadPools(tx, st); err != nil {
		return nil, nil, err
	}
	if err := l.loadResources(tx, st); err != nil {
		return nil, nil, err
	}
	if err := l.loadVolumes(tx, st); err != nil {
		return nil, nil, err
	}

	session, err := l.registry.OpenLoadSession(tx)
	if err != nil {
		return nil, nil, err
	}
	defer session.Close()

	owners := make([]types.AbsResource, 0, len(st.Resources)+len(st.Snapshots))
	for _, rsc := range st.Resources {
		owners = append(owners, rsc)
	}
	for _, snap := range st.Snapshots {
		owners = append(owners, snap)
	}
	for _, rsc := range owners {
		if err := l.registry.LoadStack(session, rsc, st.Pools); err != nil {
			if !collect {
				return nil, nil, err
			}
			if errors.Is(err, storage.ErrCorruptedState) {
				metrics.CorruptedStateErrorsTotal.Inc()
			}
			failed = append(failed, ResourceError{
				NodeName:     rsc.GetNodeName(),
				ResourceName: rsc.GetResourceName(),
				SnapshotName: rsc.GetSnapshotName(),
				Err:          err,
			})
		}
	}

	l.logger.Info().
		Str("backend", string(backend)).
		Int("nodes", len(st.Nodes)).
		Int("storage_pools", len(st.Pools)).
		Int("resources", len(st.Resources)).
		Int("snapshots", len(st.Snapshots)).
		Int("failed", len(failed)).
		Dur("duration", timer.Duration()).
		Msg("Database loaded")
	return st, failed, nil
}

func (l *Loader) loadNodes(tx storage.Tx, st *State) error {
	recs, err := tx.FetchAll(storage.Nodes)
	if err != nil {
		return err
	}
	specs, err := codec.Nodes.DecodeAll(tx.Backend(), recs)
	if err != nil {
		return undecodable(storage.Nodes, err)
	}
	for _, spec := range specs {
		if err := types.ValidateName("node name", spec.Name); err != nil {
			return rowCorrupted(storage.Nodes, spec.Name, "invalid node name", err)
		}
		nodeType := types.NodeType(spec.Type)
		if !nodeType.Valid() {
			return rowCorrupted(storage.Nodes, spec.Type, "unknown node type", nil)
		}
		st.Nodes[spec.Name] = &types.Node{Name: spec.Name, Type: nodeType, Flags: spec.Flags}
	}
	return nil
}

func (l *Loader) loadPools(tx storage.Tx, st *State) error {
	recs, err := tx.FetchAll(storage.StorPools)
	if err != nil {
		return err
	}
	specs, err := codec.StorPools.DecodeAll(tx.Backend(), recs)
	if err != nil {
		return undecodable(storage.StorPools, err)
	}
	for _, spec := range specs {
		if _, ok := st.Nodes[spec.NodeName]; !ok {
			return rowCorrupted(storage.StorPools, spec.NodeName, "storage pool references unknown node", nil)
		}
		if err := types.ValidateName("storage pool name", spec.PoolName); err != nil {
			return rowCorrupted(storage.StorPools, spec.PoolName, "invalid storage pool name", err)
		}
		kind, err := types.ParseProviderKind(spec.DriverName)
		if err != nil {
			return rowCorrupted(storage.StorPools, spec.DriverName, "unknown provider kind", err)
		}
		sp := &types.StoragePool{
			NodeName:         spec.NodeName,
			Name:             spec.PoolName,
			ProviderKind:     kind,
			FreeSpaceMgrName: spec.FreeSpaceMgrName,
		}
		st.Pools[sp.Key()] = sp
		if l.freeSpace != nil {
			l.freeSpace.AttachPool(sp)
		}
	}
	return nil
}

func (l *Loader) loadResources(tx storage.Tx, st *State) error {
	recs, err := tx.FetchAll(storage.Resources)
	if err != nil {
		return err
	}
	specs, err := codec.Resources.DecodeAll(tx.Backend(), recs)
	if err != nil {
		return undecodable(storage.Resources, err)
	}
	for _, spec := range specs {
		if _, ok := st.Nodes[spec.NodeName]; !ok {
			return rowCorrupted(storage.Resources, spec.NodeName, "resource references unknown node", nil)
		}
		if err := types.ValidateName("resource name", spec.ResourceName); err != nil {
			return rowCorrupted(storage.Resources, spec.ResourceName, "invalid resource name", err)
		}
		if spec.SnapshotName == nil {
			rsc := types.NewResource(spec.NodeName, spec.ResourceName)
			rsc.Flags = spec.Flags
			st.Resources = append(st.Resources, rsc)
			continue
		}
		if err := types.ValidateName("snapshot name", *spec.SnapshotName); err != nil {
			return rowCorrupted(storage.Resources, *spec.SnapshotName, "invalid snapshot name", err)
		}
		snap := types.NewSnapshot(spec.NodeName, spec.ResourceName, *spec.SnapshotName)
		snap.Flags = spec.Flags
		st.Snapshots = append(st.Snapshots, snap)
	}

	sort.Slice(st.Resources, func(i, j int) bool {
		a, b := st.Resources[i], st.Resources[j]
		if a.NodeName != b.NodeName {
			return a.NodeName < b.NodeName
		}
		return a.Name < b.Name
	})
	sort.Slice(st.Snapshots, func(i, j int) bool {
		a, b := st.Snapshots[i], st.Snapshots[j]
		if a.NodeName != b.NodeName {
			return a.NodeName < b.NodeName
		}
		if a.ResourceName != b.ResourceName {
			return a.ResourceName < b.ResourceName
		}
		return a.Name < b.Name
	})
	return nil
}

func (l *Loader) loadVolumes(tx storage.Tx, st *State) error {
	recs, err := tx.FetchAll(storage.Volumes)
	if err != nil {
		return err
	}
	specs, err := codec.Volumes.DecodeAll(tx.Backend(), recs)
	if err != nil {
		return undecodable(storage.Volumes, err)
	}

	resources := make(map[ownerKey]*types.Resource, len(st.Resources))
	for _, rsc := range st.Resources {
		resources[ownerKey{node: rsc.NodeName, rsc: rsc.Name}] = rsc
	}
	snapshots := make(map[ownerKey]*types.Snapshot, len(st.Snapshots))
	for _, snap := range st.Snapshots {
		snapshots[ownerKey{node: snap.NodeName, rsc: snap.ResourceName, snap: snap.Name}] = snap
	}

	for _, spec := range specs {
		nr, err := types.ValidateVolumeNumber(spec.VlmNr)
		if err != nil {
			return rowCorrupted(storage.Volumes, strconv.FormatInt(spec.VlmNr, 10), "invalid volume number", err)
		}
		key := ownerKey{node: spec.NodeName, rsc: spec.ResourceName, snap: deref(spec.SnapshotName)}
		if spec.SnapshotName == nil {
			rsc, ok := resources[key]
			if !ok {
				return rowCorrupted(storage.Volumes, spec.NodeName+"/"+spec.ResourceName, "volume of unknown resource", nil)
			}
			rsc.AddVolume(nr).Flags = spec.Flags
			continue
		}
		snap, ok := snapshots[key]
		if !ok {
			return rowCorrupted(storage.Volumes, spec.NodeName+"/"+spec.ResourceName+"@"+*spec.SnapshotName,
				"volume of unknown snapshot", nil)
		}
		snap.AddVolume(nr)
	}
	return nil
}

// rowCorrupted reports an invalid row of a table without layer ids
func rowCorrupted(table *storage.Table, value, reason string, err error) error {
	return &storage.CorruptedStateError{Table: table.Name, Value: value, Reason: reason, Err: err}
}
