package layerdb

import (
	"github.com/cuemby/layerstore/pkg/codec"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/types"
)

// storageDriver handles the provider layer at the bottom of every stack
type storageDriver struct{}

func (storageDriver) Kind() types.LayerKind { return types.LayerKindStorage }

func (d storageDriver) Load(s *LoadSession, rsc types.AbsResource, id int, suffix string,
	parent types.LayerObject, pools types.StoragePoolMap) (types.LayerObject, []int, error) {

	data := &types.StorageRscData{
		RscLayerBase: newRscBase(types.LayerKindStorage, rsc, id, suffix, parent),
		Volumes:      make(map[int]*types.StorageVlmData),
	}

	specs, err := fetchByLayer(s, codec.StorageVlms, id)
	if err != nil {
		return nil, nil, err
	}
	for _, vs := range specs {
		vlm, nr, err := resolveVolume(storage.LayerStorageVolumes, id, vs.VlmNr, rsc)
		if err != nil {
			return nil, nil, err
		}
		kind, err := types.ParseProviderKind(vs.ProviderKind)
		if err != nil {
			return nil, nil, storage.Corrupted(storage.LayerStorageVolumes.Name, id, "unknown provider kind", err).
				WithVolume(nr).WithValue(vs.ProviderKind)
		}
		pool, err := resolvePool(storage.LayerStorageVolumes, id, nr, vs.NodeName, vs.StorPoolName, pools)
		if err != nil {
			return nil, nil, err
		}
		data.Volumes[nr] = &types.StorageVlmData{
			VlmLayerBase: newVlmBase(id, nr, vlm, rsc),
			ProviderKind: kind,
			Pool:         pool,
			Suffix:       suffix,
		}
	}
	return data, s.childIDs(id), nil
}

func storageVlmSpec(data *types.StorageRscData, v *types.StorageVlmData) (codec.StorageVlmSpec, error) {
	if v.Pool == nil {
		return codec.StorageVlmSpec{}, storage.NewImplementationError("%s volume %d has no storage pool",
			data.Base(), v.VolumeNumber)
	}
	return codec.StorageVlmSpec{
		LayerRscID:   data.ID,
		VlmNr:        int64(v.VolumeNumber),
		ProviderKind: string(v.ProviderKind),
		NodeName:     v.Pool.NodeName,
		StorPoolName: v.Pool.Name,
	}, nil
}

func (d storageDriver) Persist(tx storage.Tx, obj types.LayerObject) error {
	data, ok := obj.(*types.StorageRscData)
	if !ok {
		return wrongType(d.Kind(), obj)
	}
	for _, nr := range data.VolumeNumbers() {
		vs, err := storageVlmSpec(data, data.Volumes[nr])
		if err != nil {
			return err
		}
		if err := upsert(tx, codec.StorageVlms, &vs); err != nil {
			return err
		}
	}
	logPersisted(obj, "Provider layer data persisted")
	return nil
}

func (d storageDriver) Delete(tx storage.Tx, obj types.LayerObject) error {
	data, ok := obj.(*types.StorageRscData)
	if !ok {
		return wrongType(d.Kind(), obj)
	}
	for _, nr := range data.VolumeNumbers() {
		vs := codec.StorageVlmSpec{LayerRscID: data.ID, VlmNr: int64(nr)}
		if err := remove(tx, codec.StorageVlms, &vs); err != nil {
			return err
		}
	}
	logPersisted(obj, "Provider layer data deleted")
	return nil
}
