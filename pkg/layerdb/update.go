package layerdb

import (
	"github.com/cuemby/layerstore/pkg/codec"
	"github.com/cuemby/layerstore/pkg/log"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/types"
)

// ColumnDriver writes one field of an already persisted entity E without
// re-persisting the rest of it. The stored row is read, the field is
// replaced and the row is written back. The caller updates its in-memory
// object itself.
type ColumnDriver[E any, S any, V any] struct {
	name  string
	codec *codec.Codec[S]
	key   func(e E) S
	get   func(s *S) V
	set   func(s *S, v V)

	// secret values are not logged
	secret bool
}

// Name returns the field the driver updates
func (d *ColumnDriver[E, S, V]) Name() string { return d.name }

// Update stores v as the new value of the field of e
func (d *ColumnDriver[E, S, V]) Update(tx storage.Tx, e E, v V) error {
	backend := tx.Backend()
	keySpec := d.key(e)
	cur, key, found, err := fetch(tx, d.codec, &keySpec)
	if err != nil {
		return err
	}
	if !found {
		return storage.NewImplementationError("cannot update %s: %s row %s is not persisted",
			d.name, d.codec.Table.Name, key)
	}

	old := d.get(&cur)
	d.set(&cur, v)
	if err := upsert(tx, d.codec, &cur); err != nil {
		return err
	}

	logger := log.WithBackend(string(backend))
	ev := logger.Trace().
		Str("table", d.codec.Table.Name).
		Str("key", key.String())
	if !d.secret {
		ev = ev.Interface("old", old).Interface("new", v)
	}
	ev.Msgf("%s updated", d.name)
	return nil
}

func layerKey(obj types.LayerObject) codec.LayerRscIDSpec {
	return codec.LayerRscIDSpec{ID: obj.Base().ID}
}

// LayerParentIDDriver moves a layer object below another parent. A nil
// parent makes the object a root.
var LayerParentIDDriver = &ColumnDriver[types.LayerObject, codec.LayerRscIDSpec, *int]{
	name:  "layer parent id",
	codec: codec.LayerRscIDs,
	key:   layerKey,
	get:   func(s *codec.LayerRscIDSpec) *int { return s.ParentID },
	set:   func(s *codec.LayerRscIDSpec, v *int) { s.ParentID = v },
}

// LayerSuspendIODriver stores the IO-suspended flag of a layer object
var LayerSuspendIODriver = &ColumnDriver[types.LayerObject, codec.LayerRscIDSpec, bool]{
	name:  "layer suspend io",
	codec: codec.LayerRscIDs,
	key:   layerKey,
	get: func(s *codec.LayerRscIDSpec) bool {
		return s.Suspended != nil && *s.Suspended
	},
	set: func(s *codec.LayerRscIDSpec, v bool) { s.Suspended = &v },
}

func drbdKey(d *types.DrbdRscData) codec.DrbdRscSpec {
	return codec.DrbdRscSpec{LayerRscID: d.ID}
}

var DrbdFlagsDriver = &ColumnDriver[*types.DrbdRscData, codec.DrbdRscSpec, int64]{
	name:  "replication flags",
	codec: codec.DrbdRscs,
	key:   drbdKey,
	get:   func(s *codec.DrbdRscSpec) int64 { return s.Flags },
	set:   func(s *codec.DrbdRscSpec, v int64) { s.Flags = v },
}

var DrbdPeerSlotsDriver = &ColumnDriver[*types.DrbdRscData, codec.DrbdRscSpec, int16]{
	name:  "replication peer slots",
	codec: codec.DrbdRscs,
	key:   drbdKey,
	get:   func(s *codec.DrbdRscSpec) int16 { return s.PeerSlots },
	set:   func(s *codec.DrbdRscSpec, v int16) { s.PeerSlots = v },
}

// DrbdExtMetaPoolDriver stores the external metadata pool of a
// replication volume. A nil pool switches to internal metadata.
var DrbdExtMetaPoolDriver = &ColumnDriver[*types.DrbdVlmData, codec.DrbdVlmSpec, *types.StoragePool]{
	name:  "replication external metadata pool",
	codec: codec.DrbdVlms,
	key: func(v *types.DrbdVlmData) codec.DrbdVlmSpec {
		return codec.DrbdVlmSpec{LayerRscID: v.RscLayerID, VlmNr: int64(v.VolumeNumber)}
	},
	get: func(s *codec.DrbdVlmSpec) *types.StoragePool {
		if s.NodeName == nil || s.PoolName == nil {
			return nil
		}
		return &types.StoragePool{NodeName: *s.NodeName, Name: *s.PoolName}
	},
	set: func(s *codec.DrbdVlmSpec, sp *types.StoragePool) {
		if sp == nil {
			s.NodeName, s.PoolName = nil, nil
			return
		}
		node := sp.NodeName
		s.NodeName = &node
		s.PoolName = poolName(sp)
	},
}

var LuksPasswordDriver = &ColumnDriver[*types.LuksVlmData, codec.LuksVlmSpec, []byte]{
	name:  "encrypted password",
	codec: codec.LuksVlms,
	key: func(v *types.LuksVlmData) codec.LuksVlmSpec {
		return codec.LuksVlmSpec{LayerRscID: v.RscLayerID, VlmNr: int64(v.VolumeNumber)}
	},
	get:    func(s *codec.LuksVlmSpec) []byte { return s.EncryptedPassword },
	set:    func(s *codec.LuksVlmSpec, v []byte) { s.EncryptedPassword = v },
	secret: true,
}

// StorPoolFreeSpaceMgrDriver reassigns a storage pool to another free
// space manager. The tracker side is handled by freespace.Registry.
var StorPoolFreeSpaceMgrDriver = &ColumnDriver[*types.StoragePool, codec.StorPoolSpec, string]{
	name:  "free space manager name",
	codec: codec.StorPools,
	key: func(sp *types.StoragePool) codec.StorPoolSpec {
		return codec.StorPoolSpec{NodeName: sp.NodeName, PoolName: sp.Name}
	},
	get: func(s *codec.StorPoolSpec) string { return s.FreeSpaceMgrName },
	set: func(s *codec.StorPoolSpec, v string) { s.FreeSpaceMgrName = v },
}
