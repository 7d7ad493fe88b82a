package layerdb

import (
	"github.com/cuemby/layerstore/pkg/codec"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/types"
)

type luksDriver struct{}

func (luksDriver) Kind() types.LayerKind { return types.LayerKindLUKS }

func (d luksDriver) Load(s *LoadSession, rsc types.AbsResource, id int, suffix string,
	parent types.LayerObject, _ types.StoragePoolMap) (types.LayerObject, []int, error) {

	data := &types.LuksRscData{
		RscLayerBase: newRscBase(types.LayerKindLUKS, rsc, id, suffix, parent),
		Volumes:      make(map[int]*types.LuksVlmData),
	}

	specs, err := fetchByLayer(s, codec.LuksVlms, id)
	if err != nil {
		return nil, nil, err
	}
	for _, vs := range specs {
		vlm, nr, err := resolveVolume(storage.LayerLuksVolumes, id, vs.VlmNr, rsc)
		if err != nil {
			return nil, nil, err
		}
		data.Volumes[nr] = &types.LuksVlmData{
			VlmLayerBase:      newVlmBase(id, nr, vlm, rsc),
			EncryptedPassword: vs.EncryptedPassword,
		}
	}
	return data, s.childIDs(id), nil
}

func luksVlmSpec(data *types.LuksRscData, v *types.LuksVlmData) codec.LuksVlmSpec {
	return codec.LuksVlmSpec{
		LayerRscID:        data.ID,
		VlmNr:             int64(v.VolumeNumber),
		EncryptedPassword: v.EncryptedPassword,
	}
}

func (d luksDriver) Persist(tx storage.Tx, obj types.LayerObject) error {
	data, ok := obj.(*types.LuksRscData)
	if !ok {
		return wrongType(d.Kind(), obj)
	}
	for _, nr := range data.VolumeNumbers() {
		vs := luksVlmSpec(data, data.Volumes[nr])
		if err := upsert(tx, codec.LuksVlms, &vs); err != nil {
			return err
		}
	}
	logPersisted(obj, "Encryption layer data persisted")
	return nil
}

func (d luksDriver) Delete(tx storage.Tx, obj types.LayerObject) error {
	data, ok := obj.(*types.LuksRscData)
	if !ok {
		return wrongType(d.Kind(), obj)
	}
	for _, nr := range data.VolumeNumbers() {
		vs := luksVlmSpec(data, data.Volumes[nr])
		if err := remove(tx, codec.LuksVlms, &vs); err != nil {
			return err
		}
	}
	logPersisted(obj, "Encryption layer data deleted")
	return nil
}
