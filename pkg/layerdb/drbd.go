package layerdb

import (
	"strconv"

	"github.com/cuemby/layerstore/pkg/codec"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/types"
)

type drbdDriver struct{}

func (drbdDriver) Kind() types.LayerKind { return types.LayerKindDRBD }

func (d drbdDriver) Load(s *LoadSession, rsc types.AbsResource, id int, suffix string,
	parent types.LayerObject, pools types.StoragePoolMap) (types.LayerObject, []int, error) {

	rscSpecs, err := fetchByLayer(s, codec.DrbdRscs, id)
	if err != nil {
		return nil, nil, err
	}
	if len(rscSpecs) != 1 {
		return nil, nil, storage.Corrupted(storage.LayerDrbdResources.Name, id, "replication layer data missing", nil)
	}
	rs := rscSpecs[0]

	dfn, err := loadDrbdRscDfn(s, id, dfnKey{rsc.GetResourceName(), suffix, rsc.GetSnapshotName()})
	if err != nil {
		return nil, nil, err
	}

	data := &types.DrbdRscData{
		RscLayerBase: newRscBase(types.LayerKindDRBD, rsc, id, suffix, parent),
		NodeID:       rs.NodeID,
		PeerSlots:    rs.PeerSlots,
		AlStripes:    rs.AlStripes,
		AlStripeSize: rs.AlStripeSize,
		Flags:        rs.Flags,
		Dfn:          dfn,
		Volumes:      make(map[int]*types.DrbdVlmData),
	}

	vlmSpecs, err := fetchByLayer(s, codec.DrbdVlms, id)
	if err != nil {
		return nil, nil, err
	}
	for _, vs := range vlmSpecs {
		vlm, nr, err := resolveVolume(storage.LayerDrbdVolumes, id, vs.VlmNr, rsc)
		if err != nil {
			return nil, nil, err
		}

		// internal metadata leaves both columns empty
		var extMeta *types.StoragePool
		switch {
		case vs.NodeName == nil && vs.PoolName == nil:
		case vs.NodeName == nil || vs.PoolName == nil:
			return nil, nil, storage.Corrupted(storage.LayerDrbdVolumes.Name, id, "external metadata pool half set", nil).
				WithVolume(nr).WithValue(deref(vs.NodeName) + "/" + deref(vs.PoolName))
		default:
			extMeta, err = resolvePool(storage.LayerDrbdVolumes, id, nr, *vs.NodeName, *vs.PoolName, pools)
			if err != nil {
				return nil, nil, err
			}
		}

		vlmDfn, ok := dfn.Volumes[nr]
		if !ok {
			return nil, nil, storage.Corrupted(storage.LayerDrbdVolumeDefinitions.Name, id, "replication volume definition missing", nil).
				WithVolume(nr).WithValue(rsc.GetResourceName())
		}

		data.Volumes[nr] = &types.DrbdVlmData{
			VlmLayerBase: newVlmBase(id, nr, vlm, rsc),
			ExtMetaPool:  extMeta,
			Dfn:          vlmDfn,
		}
	}

	return data, s.childIDs(id), nil
}

// loadDrbdRscDfn returns the replication definition of k. Every node
// loaded through the same session gets the same object.
func loadDrbdRscDfn(s *LoadSession, id int, k dfnKey) (*types.DrbdRscDfnData, error) {
	if dfn, ok := s.drbdDfns[k]; ok {
		return dfn, nil
	}

	spec, found, vlmSpecs, err := s.drbdDfnRows(k)
	if err != nil {
		return nil, err
	}
	table := storage.LayerDrbdResourceDefinitions.Name
	if !found {
		return nil, storage.Corrupted(table, id, "replication definition missing", nil).WithValue(k.rsc + k.suffix)
	}

	transport, err := types.ParseTransportType(spec.TransportType)
	if err != nil {
		return nil, storage.Corrupted(table, id, "unknown transport type", err).WithValue(spec.TransportType)
	}

	dfn := &types.DrbdRscDfnData{
		ResourceName:  k.rsc,
		Suffix:        k.suffix,
		SnapshotName:  k.snap,
		PeerSlots:     spec.PeerSlots,
		AlStripes:     spec.AlStripes,
		AlStripeSize:  spec.AlStripeSize,
		TransportType: transport,
		Secret:        spec.Secret,
		Volumes:       make(map[int]*types.DrbdVlmDfnData, len(vlmSpecs)),
	}

	switch {
	case spec.TCPPort != nil:
		port, err := types.ValidateTCPPort(int64(*spec.TCPPort))
		if err != nil {
			return nil, storage.Corrupted(table, id, "invalid tcp port", err).WithValue(strconv.Itoa(*spec.TCPPort))
		}
		dfn.TCPPort = &port
	case !dfn.IsSnapshot():
		return nil, storage.Corrupted(table, id, "tcp port missing", nil).WithValue(k.rsc + k.suffix)
	}

	vlmTable := storage.LayerDrbdVolumeDefinitions.Name
	for _, vs := range vlmSpecs {
		nr, err := types.ValidateVolumeNumber(vs.VlmNr)
		if err != nil {
			return nil, storage.Corrupted(vlmTable, id, "invalid volume number", err).WithValue(strconv.FormatInt(vs.VlmNr, 10))
		}
		vlmDfn := &types.DrbdVlmDfnData{VolumeNumber: nr}
		switch {
		case vs.MinorNr != nil:
			minor, err := types.ValidateMinorNr(int64(*vs.MinorNr))
			if err != nil {
				return nil, storage.Corrupted(vlmTable, id, "invalid minor number", err).WithVolume(nr).WithValue(strconv.Itoa(*vs.MinorNr))
			}
			vlmDfn.MinorNr = &minor
		case !dfn.IsSnapshot():
			return nil, storage.Corrupted(vlmTable, id, "minor number missing", nil).WithVolume(nr)
		}
		dfn.Volumes[nr] = vlmDfn
	}

	s.drbdDfns[k] = dfn
	return dfn, nil
}

func drbdRscDfnSpec(dfn *types.DrbdRscDfnData) codec.DrbdRscDfnSpec {
	spec := codec.DrbdRscDfnSpec{
		ResourceName:  dfn.ResourceName,
		Suffix:        dfn.Suffix,
		PeerSlots:     dfn.PeerSlots,
		AlStripes:     dfn.AlStripes,
		AlStripeSize:  dfn.AlStripeSize,
		TCPPort:       dfn.TCPPort,
		TransportType: string(dfn.TransportType),
		Secret:        dfn.Secret,
	}
	if dfn.IsSnapshot() {
		snap := dfn.SnapshotName
		spec.SnapshotName = &snap
	}
	return spec
}

func drbdVlmDfnSpec(dfn *types.DrbdRscDfnData, v *types.DrbdVlmDfnData) codec.DrbdVlmDfnSpec {
	rs := drbdRscDfnSpec(dfn)
	return codec.DrbdVlmDfnSpec{
		ResourceName: rs.ResourceName,
		Suffix:       rs.Suffix,
		SnapshotName: rs.SnapshotName,
		VlmNr:        int64(v.VolumeNumber),
		MinorNr:      v.MinorNr,
	}
}

// PersistDrbdRscDfn writes a replication definition and its volume
// definitions
func PersistDrbdRscDfn(tx storage.Tx, dfn *types.DrbdRscDfnData) error {
	if !dfn.IsSnapshot() && dfn.TCPPort == nil {
		return storage.NewImplementationError("replication definition %s%s has no tcp port", dfn.ResourceName, dfn.Suffix)
	}
	rs := drbdRscDfnSpec(dfn)
	if err := upsert(tx, codec.DrbdRscDfns, &rs); err != nil {
		return err
	}
	for _, nr := range dfn.VolumeNumbers() {
		vs := drbdVlmDfnSpec(dfn, dfn.Volumes[nr])
		if err := upsert(tx, codec.DrbdVlmDfns, &vs); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDrbdRscDfn removes a replication definition. The replication
// layers of the nodes do not own it and leave it in place.
func DeleteDrbdRscDfn(tx storage.Tx, dfn *types.DrbdRscDfnData) error {
	for _, nr := range dfn.VolumeNumbers() {
		vs := drbdVlmDfnSpec(dfn, dfn.Volumes[nr])
		if err := remove(tx, codec.DrbdVlmDfns, &vs); err != nil {
			return err
		}
	}
	rs := drbdRscDfnSpec(dfn)
	return remove(tx, codec.DrbdRscDfns, &rs)
}

func drbdRscSpec(data *types.DrbdRscData) codec.DrbdRscSpec {
	return codec.DrbdRscSpec{
		LayerRscID:   data.ID,
		PeerSlots:    data.PeerSlots,
		AlStripes:    data.AlStripes,
		AlStripeSize: data.AlStripeSize,
		Flags:        data.Flags,
		NodeID:       data.NodeID,
	}
}

func drbdVlmSpec(data *types.DrbdRscData, v *types.DrbdVlmData) codec.DrbdVlmSpec {
	spec := codec.DrbdVlmSpec{LayerRscID: data.ID, VlmNr: int64(v.VolumeNumber)}
	if v.ExtMetaPool != nil {
		node := v.ExtMetaPool.NodeName
		spec.NodeName = &node
		spec.PoolName = poolName(v.ExtMetaPool)
	}
	return spec
}

func (d drbdDriver) Persist(tx storage.Tx, obj types.LayerObject) error {
	data, ok := obj.(*types.DrbdRscData)
	if !ok {
		return wrongType(d.Kind(), obj)
	}
	if data.Dfn == nil {
		return storage.NewImplementationError("replication layer %d has no definition", data.ID)
	}
	for _, nr := range data.VolumeNumbers() {
		if _, ok := data.Dfn.Volumes[nr]; !ok {
			return storage.NewImplementationError("replication layer %d volume %d has no definition", data.ID, nr)
		}
	}
	if err := PersistDrbdRscDfn(tx, data.Dfn); err != nil {
		return err
	}
	rs := drbdRscSpec(data)
	if err := upsert(tx, codec.DrbdRscs, &rs); err != nil {
		return err
	}
	for _, nr := range data.VolumeNumbers() {
		vs := drbdVlmSpec(data, data.Volumes[nr])
		if err := upsert(tx, codec.DrbdVlms, &vs); err != nil {
			return err
		}
	}
	logPersisted(obj, "Replication layer data persisted")
	return nil
}

func (d drbdDriver) Delete(tx storage.Tx, obj types.LayerObject) error {
	data, ok := obj.(*types.DrbdRscData)
	if !ok {
		return wrongType(d.Kind(), obj)
	}
	for _, nr := range data.VolumeNumbers() {
		vs := drbdVlmSpec(data, data.Volumes[nr])
		if err := remove(tx, codec.DrbdVlms, &vs); err != nil {
			return err
		}
	}
	rs := drbdRscSpec(data)
	if err := remove(tx, codec.DrbdRscs, &rs); err != nil {
		return err
	}
	logPersisted(obj, "Replication layer data deleted")
	return nil
}
