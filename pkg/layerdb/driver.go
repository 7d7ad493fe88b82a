package layerdb

import (
	"errors"
	"strconv"

	"github.com/cuemby/layerstore/pkg/codec"
	"github.com/cuemby/layerstore/pkg/log"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/types"
)

// Driver loads and stores the data of one layer kind. The shared
// LAYER_RESOURCE_IDS row is handled by the Registry; drivers only touch
// their own tables.
type Driver interface {
	Kind() types.LayerKind

	// Load builds the layer object id of rsc and returns the ids of its
	// children. Volumes are resolved against rsc and storage pools
	// against pools.
	Load(s *LoadSession, rsc types.AbsResource, id int, suffix string,
		parent types.LayerObject, pools types.StoragePoolMap) (types.LayerObject, []int, error)

	Persist(tx storage.Tx, obj types.LayerObject) error
	Delete(tx storage.Tx, obj types.LayerObject) error
}

func newRscBase(kind types.LayerKind, rsc types.AbsResource, id int, suffix string, parent types.LayerObject) types.RscLayerBase {
	base := types.RscLayerBase{ID: id, Kind: kind, Suffix: suffix, Owner: rsc}
	if parent != nil {
		p := parent.Base().ID
		base.ParentID = &p
	}
	return base
}

func newVlmBase(id, nr int, vlm types.AbsVolume, rsc types.AbsResource) types.VlmLayerBase {
	return types.VlmLayerBase{RscLayerID: id, VolumeNumber: nr, Volume: vlm, Owner: rsc}
}

// resolveVolume validates a stored volume number and finds the volume
// of rsc. A missing volume means the persisted state was written by a
// broken controller.
func resolveVolume(table *storage.Table, id int, vlmNr int64, rsc types.AbsResource) (types.AbsVolume, int, error) {
	nr, err := types.ValidateVolumeNumber(vlmNr)
	if err != nil {
		return nil, 0, storage.Corrupted(table.Name, id, "invalid volume number", err).WithValue(strconv.FormatInt(vlmNr, 10))
	}
	vlm, ok := rsc.GetAbsVolume(nr)
	if !ok {
		impl := storage.NewImplementationError("layer data references volume %d missing from %s/%s",
			nr, rsc.GetNodeName(), rsc.GetResourceName())
		return nil, 0, storage.Corrupted(table.Name, id, "volume not found", impl).WithVolume(nr)
	}
	return vlm, nr, nil
}

// resolvePool validates a stored storage pool reference and looks it up
func resolvePool(table *storage.Table, id, nr int, node, pool string, pools types.StoragePoolMap) (*types.StoragePool, error) {
	if err := types.ValidateName("node name", node); err != nil {
		return nil, storage.Corrupted(table.Name, id, "invalid node name", err).WithVolume(nr).WithValue(node)
	}
	if err := types.ValidateName("storage pool name", pool); err != nil {
		return nil, storage.Corrupted(table.Name, id, "invalid storage pool name", err).WithVolume(nr).WithValue(pool)
	}
	sp, ok := pools.Lookup(node, pool)
	if !ok {
		key := types.StoragePoolKey{NodeName: node, PoolName: pool}
		return nil, storage.Corrupted(table.Name, id, "storage pool not found", nil).WithVolume(nr).WithValue(key.String())
	}
	return sp, nil
}

// resolveOptPool is resolvePool for nullable references
func resolveOptPool(table *storage.Table, id, nr int, node string, pool *string, pools types.StoragePoolMap) (*types.StoragePool, error) {
	if pool == nil {
		return nil, nil
	}
	return resolvePool(table, id, nr, node, *pool, pools)
}

func poolName(sp *types.StoragePool) *string {
	if sp == nil {
		return nil
	}
	name := sp.Name
	return &name
}

func upsert[S any](tx storage.Tx, c *codec.Codec[S], s *S) error {
	rec, err := c.Encode(tx.Backend(), s)
	if err != nil {
		return encodeFailed(c.Table, err)
	}
	return tx.Upsert(c.Table, rec)
}

// fetch reads the stored row with the key of s
func fetch[S any](tx storage.Tx, c *codec.Codec[S], s *S) (S, storage.Key, bool, error) {
	var zero S
	key, err := c.KeyOf(tx.Backend(), s)
	if err != nil {
		return zero, nil, false, encodeFailed(c.Table, err)
	}
	rec, found, err := tx.FetchByKey(c.Table, key)
	if err != nil || !found {
		return zero, key, false, err
	}
	cur, err := c.Decode(tx.Backend(), rec)
	if err != nil {
		return zero, key, false, undecodable(c.Table, err)
	}
	return cur, key, true, nil
}

func remove[S any](tx storage.Tx, c *codec.Codec[S], s *S) error {
	key, err := c.KeyOf(tx.Backend(), s)
	if err != nil {
		return encodeFailed(c.Table, err)
	}
	return tx.Delete(c.Table, key)
}

// encodeFailed reports a domain value that does not fit its column
func encodeFailed(table *storage.Table, err error) error {
	var impl *storage.ImplementationError
	if errors.As(err, &impl) {
		return err
	}
	return &storage.ImplementationError{Msg: "cannot encode " + table.Name + " row", Err: err}
}

// wrongType reports a layer object handed to the driver of another kind
func wrongType(kind types.LayerKind, obj types.LayerObject) error {
	return storage.NewImplementationError("%s driver got %T", kind, obj)
}

func logPersisted(obj types.LayerObject, msg string) {
	b := obj.Base()
	logger := log.WithLayerID(string(b.Kind), b.ID)
	logger.Trace().Str("suffix", b.Suffix).Msg(msg)
}
