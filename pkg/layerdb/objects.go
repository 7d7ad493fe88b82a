package layerdb

import (
	"github.com/cuemby/layerstore/pkg/codec"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/types"
)

// Core objects referenced by layer data. Their full lifecycle belongs to
// the controller; these helpers only write and remove their rows.

func PersistNode(tx storage.Tx, n *types.Node) error {
	spec := codec.NodeSpec{Name: n.Name, Type: string(n.Type), Flags: n.Flags}
	return upsert(tx, codec.Nodes, &spec)
}

func DeleteNode(tx storage.Tx, n *types.Node) error {
	spec := codec.NodeSpec{Name: n.Name}
	return remove(tx, codec.Nodes, &spec)
}

func storPoolSpec(sp *types.StoragePool) codec.StorPoolSpec {
	return codec.StorPoolSpec{
		NodeName:         sp.NodeName,
		PoolName:         sp.Name,
		DriverName:       string(sp.ProviderKind),
		FreeSpaceMgrName: sp.SharedSpaceName(),
	}
}

func PersistStorPool(tx storage.Tx, sp *types.StoragePool) error {
	spec := storPoolSpec(sp)
	return upsert(tx, codec.StorPools, &spec)
}

func DeleteStorPool(tx storage.Tx, sp *types.StoragePool) error {
	spec := storPoolSpec(sp)
	return remove(tx, codec.StorPools, &spec)
}

func resourceSpec(rsc types.AbsResource, flags int64) codec.ResourceSpec {
	spec := codec.ResourceSpec{
		NodeName:     rsc.GetNodeName(),
		ResourceName: rsc.GetResourceName(),
		Flags:        flags,
	}
	if rsc.IsSnapshot() {
		snap := rsc.GetSnapshotName()
		spec.SnapshotName = &snap
	}
	return spec
}

func volumeSpec(rsc types.AbsResource, nr int, flags int64) codec.VolumeSpec {
	rs := resourceSpec(rsc, 0)
	return codec.VolumeSpec{
		NodeName:     rs.NodeName,
		ResourceName: rs.ResourceName,
		SnapshotName: rs.SnapshotName,
		VlmNr:        int64(nr),
		Flags:        flags,
	}
}

// PersistResource writes the resource row and its volume rows. The layer
// stack is written separately by PersistStack.
func PersistResource(tx storage.Tx, rsc *types.Resource) error {
	spec := resourceSpec(rsc, rsc.Flags)
	if err := upsert(tx, codec.Resources, &spec); err != nil {
		return err
	}
	for _, nr := range rsc.VolumeNumbers() {
		vs := volumeSpec(rsc, nr, rsc.Volumes[nr].Flags)
		if err := upsert(tx, codec.Volumes, &vs); err != nil {
			return err
		}
	}
	return nil
}

// PersistSnapshot writes the snapshot row and its volume rows
func PersistSnapshot(tx storage.Tx, snap *types.Snapshot) error {
	spec := resourceSpec(snap, snap.Flags)
	if err := upsert(tx, codec.Resources, &spec); err != nil {
		return err
	}
	for _, nr := range snap.VolumeNumbers() {
		vs := volumeSpec(snap, nr, 0)
		if err := upsert(tx, codec.Volumes, &vs); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAbsResource removes the layer stack, the volume rows and the row
// of a resource or snapshot
func (r *Registry) DeleteAbsResource(tx storage.Tx, rsc types.AbsResource) error {
	if err := r.DeleteStack(tx, rsc); err != nil {
		return err
	}
	for _, nr := range rsc.VolumeNumbers() {
		vs := volumeSpec(rsc, nr, 0)
		if err := remove(tx, codec.Volumes, &vs); err != nil {
			return err
		}
	}
	spec := resourceSpec(rsc, 0)
	return remove(tx, codec.Resources, &spec)
}
