package layerdb

import (
	"github.com/google/uuid"

	"github.com/cuemby/layerstore/pkg/codec"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/types"
)

// dm-cache

type cacheDriver struct{}

func (cacheDriver) Kind() types.LayerKind { return types.LayerKindCache }

func (d cacheDriver) Load(s *LoadSession, rsc types.AbsResource, id int, suffix string,
	parent types.LayerObject, pools types.StoragePoolMap) (types.LayerObject, []int, error) {

	data := &types.CacheRscData{
		RscLayerBase: newRscBase(types.LayerKindCache, rsc, id, suffix, parent),
		Volumes:      make(map[int]*types.CacheVlmData),
	}

	specs, err := fetchByLayer(s, codec.CacheVlms, id)
	if err != nil {
		return nil, nil, err
	}
	for _, vs := range specs {
		vlm, nr, err := resolveVolume(storage.LayerCacheVolumes, id, vs.VlmNr, rsc)
		if err != nil {
			return nil, nil, err
		}
		cachePool, err := resolveOptPool(storage.LayerCacheVolumes, id, nr, vs.NodeName, vs.PoolNameCache, pools)
		if err != nil {
			return nil, nil, err
		}
		metaPool, err := resolveOptPool(storage.LayerCacheVolumes, id, nr, vs.NodeName, vs.PoolNameMeta, pools)
		if err != nil {
			return nil, nil, err
		}
		data.Volumes[nr] = &types.CacheVlmData{
			VlmLayerBase: newVlmBase(id, nr, vlm, rsc),
			CachePool:    cachePool,
			MetaPool:     metaPool,
		}
	}
	return data, s.childIDs(id), nil
}

func cacheVlmSpec(data *types.CacheRscData, v *types.CacheVlmData) codec.CacheVlmSpec {
	return codec.CacheVlmSpec{
		LayerRscID:    data.ID,
		VlmNr:         int64(v.VolumeNumber),
		NodeName:      data.Owner.GetNodeName(),
		PoolNameCache: poolName(v.CachePool),
		PoolNameMeta:  poolName(v.MetaPool),
	}
}

func (d cacheDriver) Persist(tx storage.Tx, obj types.LayerObject) error {
	data, ok := obj.(*types.CacheRscData)
	if !ok {
		return wrongType(d.Kind(), obj)
	}
	for _, nr := range data.VolumeNumbers() {
		vs := cacheVlmSpec(data, data.Volumes[nr])
		if err := upsert(tx, codec.CacheVlms, &vs); err != nil {
			return err
		}
	}
	logPersisted(obj, "Cache layer data persisted")
	return nil
}

func (d cacheDriver) Delete(tx storage.Tx, obj types.LayerObject) error {
	data, ok := obj.(*types.CacheRscData)
	if !ok {
		return wrongType(d.Kind(), obj)
	}
	for _, nr := range data.VolumeNumbers() {
		vs := cacheVlmSpec(data, data.Volumes[nr])
		if err := remove(tx, codec.CacheVlms, &vs); err != nil {
			return err
		}
	}
	logPersisted(obj, "Cache layer data deleted")
	return nil
}

// bcache

type bcacheDriver struct{}

func (bcacheDriver) Kind() types.LayerKind { return types.LayerKindBCache }

func (d bcacheDriver) Load(s *LoadSession, rsc types.AbsResource, id int, suffix string,
	parent types.LayerObject, pools types.StoragePoolMap) (types.LayerObject, []int, error) {

	data := &types.BCacheRscData{
		RscLayerBase: newRscBase(types.LayerKindBCache, rsc, id, suffix, parent),
		Volumes:      make(map[int]*types.BCacheVlmData),
	}

	specs, err := fetchByLayer(s, codec.BCacheVlms, id)
	if err != nil {
		return nil, nil, err
	}
	for _, vs := range specs {
		vlm, nr, err := resolveVolume(storage.LayerBCacheVolumes, id, vs.VlmNr, rsc)
		if err != nil {
			return nil, nil, err
		}
		cachePool, err := resolveOptPool(storage.LayerBCacheVolumes, id, nr, vs.NodeName, vs.PoolName, pools)
		if err != nil {
			return nil, nil, err
		}

		// the device uuid is only known once the satellite created the device
		var devUUID *uuid.UUID
		if vs.DevUUID != nil {
			u, err := uuid.Parse(*vs.DevUUID)
			if err != nil {
				return nil, nil, storage.Corrupted(storage.LayerBCacheVolumes.Name, id, "invalid device uuid", err).
					WithVolume(nr).WithValue(*vs.DevUUID)
			}
			devUUID = &u
		}

		data.Volumes[nr] = &types.BCacheVlmData{
			VlmLayerBase: newVlmBase(id, nr, vlm, rsc),
			CachePool:    cachePool,
			DeviceUUID:   devUUID,
		}
	}
	return data, s.childIDs(id), nil
}

func bcacheVlmSpec(data *types.BCacheRscData, v *types.BCacheVlmData) codec.BCacheVlmSpec {
	spec := codec.BCacheVlmSpec{
		LayerRscID: data.ID,
		VlmNr:      int64(v.VolumeNumber),
		NodeName:   data.Owner.GetNodeName(),
		PoolName:   poolName(v.CachePool),
	}
	if v.DeviceUUID != nil {
		u := v.DeviceUUID.String()
		spec.DevUUID = &u
	}
	return spec
}

func (d bcacheDriver) Persist(tx storage.Tx, obj types.LayerObject) error {
	data, ok := obj.(*types.BCacheRscData)
	if !ok {
		return wrongType(d.Kind(), obj)
	}
	for _, nr := range data.VolumeNumbers() {
		vs := bcacheVlmSpec(data, data.Volumes[nr])
		if err := upsert(tx, codec.BCacheVlms, &vs); err != nil {
			return err
		}
	}
	logPersisted(obj, "BCache layer data persisted")
	return nil
}

func (d bcacheDriver) Delete(tx storage.Tx, obj types.LayerObject) error {
	data, ok := obj.(*types.BCacheRscData)
	if !ok {
		return wrongType(d.Kind(), obj)
	}
	for _, nr := range data.VolumeNumbers() {
		vs := bcacheVlmSpec(data, data.Volumes[nr])
		if err := remove(tx, codec.BCacheVlms, &vs); err != nil {
			return err
		}
	}
	logPersisted(obj, "BCache layer data deleted")
	return nil
}

// dm-writecache

type writecacheDriver struct{}

func (writecacheDriver) Kind() types.LayerKind { return types.LayerKindWritecache }

func (d writecacheDriver) Load(s *LoadSession, rsc types.AbsResource, id int, suffix string,
	parent types.LayerObject, pools types.StoragePoolMap) (types.LayerObject, []int, error) {

	data := &types.WritecacheRscData{
		RscLayerBase: newRscBase(types.LayerKindWritecache, rsc, id, suffix, parent),
		Volumes:      make(map[int]*types.WritecacheVlmData),
	}

	specs, err := fetchByLayer(s, codec.WritecacheVlms, id)
	if err != nil {
		return nil, nil, err
	}
	for _, vs := range specs {
		vlm, nr, err := resolveVolume(storage.LayerWritecacheVolumes, id, vs.VlmNr, rsc)
		if err != nil {
			return nil, nil, err
		}
		cachePool, err := resolveOptPool(storage.LayerWritecacheVolumes, id, nr, vs.NodeName, vs.PoolName, pools)
		if err != nil {
			return nil, nil, err
		}
		data.Volumes[nr] = &types.WritecacheVlmData{
			VlmLayerBase: newVlmBase(id, nr, vlm, rsc),
			CachePool:    cachePool,
		}
	}
	return data, s.childIDs(id), nil
}

func writecacheVlmSpec(data *types.WritecacheRscData, v *types.WritecacheVlmData) codec.WritecacheVlmSpec {
	return codec.WritecacheVlmSpec{
		LayerRscID: data.ID,
		VlmNr:      int64(v.VolumeNumber),
		NodeName:   data.Owner.GetNodeName(),
		PoolName:   poolName(v.CachePool),
	}
}

func (d writecacheDriver) Persist(tx storage.Tx, obj types.LayerObject) error {
	data, ok := obj.(*types.WritecacheRscData)
	if !ok {
		return wrongType(d.Kind(), obj)
	}
	for _, nr := range data.VolumeNumbers() {
		vs := writecacheVlmSpec(data, data.Volumes[nr])
		if err := upsert(tx, codec.WritecacheVlms, &vs); err != nil {
			return err
		}
	}
	logPersisted(obj, "Writecache layer data persisted")
	return nil
}

func (d writecacheDriver) Delete(tx storage.Tx, obj types.LayerObject) error {
	data, ok := obj.(*types.WritecacheRscData)
	if !ok {
		return wrongType(d.Kind(), obj)
	}
	for _, nr := range data.VolumeNumbers() {
		vs := writecacheVlmSpec(data, data.Volumes[nr])
		if err := remove(tx, codec.WritecacheVlms, &vs); err != nil {
			return err
		}
	}
	logPersisted(obj, "Writecache layer data deleted")
	return nil
}
