package layerdb

import (
	"context"
	"testing"

	"github.com/cuemby/layerstore/pkg/freespace"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/types"
	"github.com/stretchr/testify/require"
)

// fixture is one backend holding node N1 with the pools P and meta
type fixture struct {
	t    *testing.T
	b    storage.Backend
	reg  *Registry
	node *types.Node
	pool *types.StoragePool
	meta *types.StoragePool
}

func newFixture(t *testing.T, b storage.Backend) *fixture {
	t.Helper()
	f := &fixture{
		t:    t,
		b:    b,
		reg:  NewRegistry(),
		node: &types.Node{Name: "N1", Type: types.NodeTypeSatellite},
		pool: &types.StoragePool{NodeName: "N1", Name: "P", ProviderKind: types.ProviderLVM},
		meta: &types.StoragePool{NodeName: "N1", Name: "meta", ProviderKind: types.ProviderLVMThin},
	}
	f.update(func(tx storage.Tx) error {
		if err := PersistNode(tx, f.node); err != nil {
			return err
		}
		if err := PersistStorPool(tx, f.pool); err != nil {
			return err
		}
		return PersistStorPool(tx, f.meta)
	})
	return f
}

func (f *fixture) update(fn func(tx storage.Tx) error) {
	f.t.Helper()
	require.NoError(f.t, storage.Update(context.Background(), f.b, fn))
}

func (f *fixture) view(fn func(tx storage.Tx) error) error {
	return storage.View(context.Background(), f.b, fn)
}

// persist writes rsc with its volumes and layer stack
func (f *fixture) persist(rsc *types.Resource) {
	f.t.Helper()
	f.update(func(tx storage.Tx) error {
		if err := PersistResource(tx, rsc); err != nil {
			return err
		}
		return f.reg.PersistStack(tx, rsc)
	})
}

func (f *fixture) load() *State {
	f.t.Helper()
	var st *State
	err := f.view(func(tx storage.Tx) error {
		var err error
		st, err = NewLoader(f.reg, freespace.NewRegistry()).LoadAll(tx)
		return err
	})
	require.NoError(f.t, err)
	return st
}

// loadStack rebuilds the stack of rsc against pools in its own session
func (f *fixture) loadStack(rsc types.AbsResource, pools types.StoragePoolMap) error {
	return f.view(func(tx storage.Tx) error {
		s, err := f.reg.OpenLoadSession(tx)
		if err != nil {
			return err
		}
		defer s.Close()
		return f.reg.LoadStack(s, rsc, pools)
	})
}

func (f *fixture) pools() types.StoragePoolMap {
	return types.NewStoragePoolMap(f.pool, f.meta)
}

func intPtr(i int) *int { return &i }

func rscBase(kind types.LayerKind, id int, parent *int, owner types.AbsResource, suffix string) types.RscLayerBase {
	return types.RscLayerBase{ID: id, Kind: kind, Suffix: suffix, ParentID: parent, Owner: owner}
}

func vlmBase(id, nr int, owner types.AbsResource) types.VlmLayerBase {
	vlm, _ := owner.GetAbsVolume(nr)
	return types.VlmLayerBase{RscLayerID: id, VolumeNumber: nr, Volume: vlm, Owner: owner}
}

// drbdDfn builds the replication definition of rsc for the volumes nrs.
// Live resources get port 7000 and minor 1000+nr.
func drbdDfn(rsc types.AbsResource, suffix string, nrs ...int) *types.DrbdRscDfnData {
	dfn := &types.DrbdRscDfnData{
		ResourceName:  rsc.GetResourceName(),
		Suffix:        suffix,
		SnapshotName:  rsc.GetSnapshotName(),
		PeerSlots:     7,
		AlStripes:     1,
		AlStripeSize:  32,
		TransportType: types.TransportIP,
		Volumes:       make(map[int]*types.DrbdVlmDfnData),
	}
	if !dfn.IsSnapshot() {
		secret := "shared-secret"
		dfn.TCPPort = intPtr(7000)
		dfn.Secret = &secret
	}
	for _, nr := range nrs {
		v := &types.DrbdVlmDfnData{VolumeNumber: nr}
		if !dfn.IsSnapshot() {
			v.MinorNr = intPtr(1000 + nr)
		}
		dfn.Volumes[nr] = v
	}
	return dfn
}

// replicatedEncrypted builds DRBD(0) -> LUKS(1) -> STORAGE(2) over volume 0
// of rsc, with external metadata in meta
func replicatedEncrypted(t *testing.T, rsc types.AbsResource, pool, meta *types.StoragePool) *types.LayerStack {
	t.Helper()
	drbd := &types.DrbdRscData{
		RscLayerBase: rscBase(types.LayerKindDRBD, 0, nil, rsc, ""),
		NodeID:       1,
		PeerSlots:    7,
		AlStripes:    1,
		AlStripeSize: 32,
		Flags:        2,
		Dfn:          drbdDfn(rsc, "", 0),
		Volumes: map[int]*types.DrbdVlmData{
			0: {VlmLayerBase: vlmBase(0, 0, rsc), ExtMetaPool: meta},
		},
	}
	drbd.Volumes[0].Dfn = drbd.Dfn.Volumes[0]
	luks := &types.LuksRscData{
		RscLayerBase: rscBase(types.LayerKindLUKS, 1, intPtr(0), rsc, ""),
		Volumes: map[int]*types.LuksVlmData{
			0: {VlmLayerBase: vlmBase(1, 0, rsc), EncryptedPassword: []byte{0x00, 0xff, 'k', 'e', 'y'}},
		},
	}
	stor := &types.StorageRscData{
		RscLayerBase: rscBase(types.LayerKindStorage, 2, intPtr(1), rsc, ""),
		Volumes: map[int]*types.StorageVlmData{
			0: {VlmLayerBase: vlmBase(2, 0, rsc), ProviderKind: types.ProviderLVM, Pool: pool},
		},
	}

	stack := types.NewLayerStack()
	for _, obj := range []types.LayerObject{drbd, luks, stor} {
		require.NoError(t, stack.Add(obj))
	}
	return stack
}
