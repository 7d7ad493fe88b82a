package layerdb

import (
	"github.com/cuemby/layerstore/pkg/codec"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/types"
)

// NVMe-oF layer objects carry no persisted payload. Their volumes mirror
// the volumes of the owning resource.

type nvmeDriver struct{}

func (nvmeDriver) Kind() types.LayerKind { return types.LayerKindNVMe }

func (nvmeDriver) Load(s *LoadSession, rsc types.AbsResource, id int, suffix string,
	parent types.LayerObject, _ types.StoragePoolMap) (types.LayerObject, []int, error) {

	data := &types.NvmeRscData{
		RscLayerBase: newRscBase(types.LayerKindNVMe, rsc, id, suffix, parent),
		Volumes:      make(map[int]*types.NvmeVlmData),
	}
	for _, nr := range rsc.VolumeNumbers() {
		vlm, _ := rsc.GetAbsVolume(nr)
		data.Volumes[nr] = &types.NvmeVlmData{VlmLayerBase: newVlmBase(id, nr, vlm, rsc)}
	}
	return data, s.childIDs(id), nil
}

func (d nvmeDriver) Persist(_ storage.Tx, obj types.LayerObject) error {
	if _, ok := obj.(*types.NvmeRscData); !ok {
		return wrongType(d.Kind(), obj)
	}
	return nil
}

func (d nvmeDriver) Delete(_ storage.Tx, obj types.LayerObject) error {
	if _, ok := obj.(*types.NvmeRscData); !ok {
		return wrongType(d.Kind(), obj)
	}
	return nil
}

type openflexDriver struct{}

func (openflexDriver) Kind() types.LayerKind { return types.LayerKindOpenflex }

func (d openflexDriver) Load(s *LoadSession, rsc types.AbsResource, id int, suffix string,
	parent types.LayerObject, pools types.StoragePoolMap) (types.LayerObject, []int, error) {

	data := &types.OpenflexRscData{
		RscLayerBase: newRscBase(types.LayerKindOpenflex, rsc, id, suffix, parent),
		Volumes:      make(map[int]*types.OpenflexVlmData),
	}

	specs, err := fetchByLayer(s, codec.OpenflexVlms, id)
	if err != nil {
		return nil, nil, err
	}
	for _, vs := range specs {
		vlm, nr, err := resolveVolume(storage.LayerOpenflexVolumes, id, vs.VlmNr, rsc)
		if err != nil {
			return nil, nil, err
		}
		pool, err := resolvePool(storage.LayerOpenflexVolumes, id, nr, vs.NodeName, vs.PoolName, pools)
		if err != nil {
			return nil, nil, err
		}
		data.Volumes[nr] = &types.OpenflexVlmData{
			VlmLayerBase: newVlmBase(id, nr, vlm, rsc),
			Pool:         pool,
		}
	}
	return data, s.childIDs(id), nil
}

func openflexVlmSpec(data *types.OpenflexRscData, v *types.OpenflexVlmData) (codec.OpenflexVlmSpec, error) {
	if v.Pool == nil {
		return codec.OpenflexVlmSpec{}, storage.NewImplementationError("%s volume %d has no storage pool",
			data.Base(), v.VolumeNumber)
	}
	return codec.OpenflexVlmSpec{
		LayerRscID: data.ID,
		VlmNr:      int64(v.VolumeNumber),
		NodeName:   v.Pool.NodeName,
		PoolName:   v.Pool.Name,
	}, nil
}

func (d openflexDriver) Persist(tx storage.Tx, obj types.LayerObject) error {
	data, ok := obj.(*types.OpenflexRscData)
	if !ok {
		return wrongType(d.Kind(), obj)
	}
	for _, nr := range data.VolumeNumbers() {
		vs, err := openflexVlmSpec(data, data.Volumes[nr])
		if err != nil {
			return err
		}
		if err := upsert(tx, codec.OpenflexVlms, &vs); err != nil {
			return err
		}
	}
	logPersisted(obj, "Openflex layer data persisted")
	return nil
}

func (d openflexDriver) Delete(tx storage.Tx, obj types.LayerObject) error {
	data, ok := obj.(*types.OpenflexRscData)
	if !ok {
		return wrongType(d.Kind(), obj)
	}
	for _, nr := range data.VolumeNumbers() {
		vs := codec.OpenflexVlmSpec{LayerRscID: data.ID, VlmNr: int64(nr)}
		if err := remove(tx, codec.OpenflexVlms, &vs); err != nil {
			return err
		}
	}
	logPersisted(obj, "Openflex layer data deleted")
	return nil
}
