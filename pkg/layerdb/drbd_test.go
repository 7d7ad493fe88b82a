package layerdb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/layerstore/pkg/codec"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/storage/storagetest"
	"github.com/cuemby/layerstore/pkg/types"
)

// replicatedOn builds DRBD(id) -> STORAGE(id+1) over volume 0 of rsc
func replicatedOn(t *testing.T, rsc types.AbsResource, id int, dfn *types.DrbdRscDfnData, pool *types.StoragePool) *types.LayerStack {
	t.Helper()
	drbd := &types.DrbdRscData{
		RscLayerBase: rscBase(types.LayerKindDRBD, id, nil, rsc, ""),
		NodeID:       id,
		PeerSlots:    dfn.PeerSlots,
		AlStripes:    dfn.AlStripes,
		AlStripeSize: dfn.AlStripeSize,
		Dfn:          dfn,
		Volumes: map[int]*types.DrbdVlmData{
			0: {VlmLayerBase: vlmBase(id, 0, rsc), Dfn: dfn.Volumes[0]},
		},
	}
	stor := &types.StorageRscData{
		RscLayerBase: rscBase(types.LayerKindStorage, id+1, intPtr(id), rsc, ""),
		Volumes: map[int]*types.StorageVlmData{
			0: {VlmLayerBase: vlmBase(id+1, 0, rsc), ProviderKind: types.ProviderLVM, Pool: pool},
		},
	}
	stack := types.NewLayerStack()
	require.NoError(t, stack.Add(drbd))
	require.NoError(t, stack.Add(stor))
	return stack
}

func drbdRoot(t *testing.T, rsc types.AbsResource) *types.DrbdRscData {
	t.Helper()
	require.NotNil(t, rsc.GetLayerStack())
	root, ok := rsc.GetLayerStack().Root()
	require.True(t, ok)
	drbd, ok := root.(*types.DrbdRscData)
	require.True(t, ok, "root is %T", root)
	return drbd
}

func TestDrbdDefinitionSharedAcrossNodes(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		f := newFixture(t, b)
		n2 := &types.Node{Name: "N2", Type: types.NodeTypeSatellite}
		n2Pool := &types.StoragePool{NodeName: "N2", Name: "P", ProviderKind: types.ProviderLVM}
		f.update(func(tx storage.Tx) error {
			if err := PersistNode(tx, n2); err != nil {
				return err
			}
			return PersistStorPool(tx, n2Pool)
		})

		on1 := types.NewResource("N1", "rsc1")
		on1.AddVolume(0)
		dfn := drbdDfn(on1, "", 0)
		dfn.TransportType = types.TransportRDMA
		on1.SetLayerStack(replicatedOn(t, on1, 0, dfn, f.pool))

		on2 := types.NewResource("N2", "rsc1")
		on2.AddVolume(0)
		on2.SetLayerStack(replicatedOn(t, on2, 10, dfn, n2Pool))

		f.persist(on1)
		f.persist(on2)

		st := f.load()
		got1, ok := st.Resource("N1", "rsc1")
		require.True(t, ok)
		got2, ok := st.Resource("N2", "rsc1")
		require.True(t, ok)

		drbd1 := drbdRoot(t, got1)
		drbd2 := drbdRoot(t, got2)
		require.NotNil(t, drbd1.Dfn)
		assert.Same(t, drbd1.Dfn, drbd2.Dfn)
		assert.Same(t, drbd1.Dfn.Volumes[0], drbd1.Volumes[0].Dfn)
		assert.Same(t, drbd1.Dfn.Volumes[0], drbd2.Volumes[0].Dfn)

		assert.Equal(t, "rsc1", drbd1.Dfn.ResourceName)
		assert.Equal(t, int16(7), drbd1.Dfn.PeerSlots)
		assert.Equal(t, int64(32), drbd1.Dfn.AlStripeSize)
		assert.Equal(t, types.TransportRDMA, drbd1.Dfn.TransportType)
		assert.Equal(t, intPtr(7000), drbd1.Dfn.TCPPort)
		require.NotNil(t, drbd1.Dfn.Secret)
		assert.Equal(t, "shared-secret", *drbd1.Dfn.Secret)
		assert.Equal(t, intPtr(1000), drbd1.Dfn.Volumes[0].MinorNr)
	})
}

func TestDrbdSnapshotDefinition(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		f := newFixture(t, b)

		live := types.NewResource("N1", "rsc1")
		live.AddVolume(0)
		live.SetLayerStack(replicatedOn(t, live, 0, drbdDfn(live, "", 0), f.pool))
		f.persist(live)

		snap := types.NewSnapshot("N1", "rsc1", "snap1")
		snap.AddVolume(0)
		snap.SetLayerStack(replicatedOn(t, snap, 5, drbdDfn(snap, "", 0), f.pool))
		f.update(func(tx storage.Tx) error {
			if err := PersistSnapshot(tx, snap); err != nil {
				return err
			}
			return f.reg.PersistStack(tx, snap)
		})

		st := f.load()
		loadedSnap, ok := st.Snapshot("N1", "rsc1", "snap1")
		require.True(t, ok)
		snapDfn := drbdRoot(t, loadedSnap).Dfn
		require.NotNil(t, snapDfn)
		assert.True(t, snapDfn.IsSnapshot())
		assert.Nil(t, snapDfn.TCPPort)
		assert.Nil(t, snapDfn.Secret)
		require.Contains(t, snapDfn.Volumes, 0)
		assert.Nil(t, snapDfn.Volumes[0].MinorNr)

		loadedLive, ok := st.Resource("N1", "rsc1")
		require.True(t, ok)
		liveDfn := drbdRoot(t, loadedLive).Dfn
		assert.NotSame(t, liveDfn, snapDfn)
		assert.Equal(t, intPtr(7000), liveDfn.TCPPort)
	})
}

func TestDrbdDefinitionOutlivesLayerDelete(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		f := newFixture(t, b)
		rsc := types.NewResource("N1", "rsc1")
		rsc.AddVolume(0)
		rsc.SetLayerStack(replicatedEncrypted(t, rsc, f.pool, f.meta))
		f.persist(rsc)
		dfn := drbdRoot(t, rsc).Dfn

		f.update(func(tx storage.Tx) error {
			return f.reg.DeleteAbsResource(tx, rsc)
		})
		countRows := func() (int, int) {
			var rscRows, vlmRows []storage.Record
			err := f.view(func(tx storage.Tx) error {
				var err error
				if rscRows, err = tx.FetchAll(storage.LayerDrbdResourceDefinitions); err != nil {
					return err
				}
				vlmRows, err = tx.FetchAll(storage.LayerDrbdVolumeDefinitions)
				return err
			})
			require.NoError(t, err)
			return len(rscRows), len(vlmRows)
		}
		rscRows, vlmRows := countRows()
		assert.Equal(t, 1, rscRows)
		assert.Equal(t, 1, vlmRows)

		f.update(func(tx storage.Tx) error {
			return DeleteDrbdRscDfn(tx, dfn)
		})
		rscRows, vlmRows = countRows()
		assert.Zero(t, rscRows)
		assert.Zero(t, vlmRows)
	})
}

func TestDrbdDefinitionMissing(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		f := newFixture(t, b)
		rsc := types.NewResource("N1", "rsc1")
		rsc.AddVolume(0)
		rsc.SetLayerStack(replicatedEncrypted(t, rsc, f.pool, f.meta))
		f.persist(rsc)
		f.update(func(tx storage.Tx) error {
			return DeleteDrbdRscDfn(tx, drbdRoot(t, rsc).Dfn)
		})

		fresh := types.NewResource("N1", "rsc1")
		fresh.AddVolume(0)
		err := f.loadStack(fresh, f.pools())
		var corrupted *storage.CorruptedStateError
		require.ErrorAs(t, err, &corrupted)
		assert.Equal(t, storage.LayerDrbdResourceDefinitions.Name, corrupted.Table)
		assert.Equal(t, "replication definition missing", corrupted.Reason)
		assert.Nil(t, fresh.GetLayerStack())
	})
}

func TestDrbdDefinitionCorrupted(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(tx storage.Tx) error
		table  string
		reason string
	}{
		{
			name: "live without port",
			mutate: func(tx storage.Tx) error {
				return upsert(tx, codec.DrbdRscDfns, &codec.DrbdRscDfnSpec{
					ResourceName: "rsc1", PeerSlots: 7, AlStripes: 1, AlStripeSize: 32, TransportType: "IP",
				})
			},
			table:  storage.LayerDrbdResourceDefinitions.Name,
			reason: "tcp port missing",
		},
		{
			name: "port out of range",
			mutate: func(tx storage.Tx) error {
				return upsert(tx, codec.DrbdRscDfns, &codec.DrbdRscDfnSpec{
					ResourceName: "rsc1", PeerSlots: 7, AlStripes: 1, AlStripeSize: 32, TransportType: "IP", TCPPort: intPtr(70000),
				})
			},
			table:  storage.LayerDrbdResourceDefinitions.Name,
			reason: "invalid tcp port",
		},
		{
			name: "unknown transport",
			mutate: func(tx storage.Tx) error {
				return upsert(tx, codec.DrbdRscDfns, &codec.DrbdRscDfnSpec{
					ResourceName: "rsc1", PeerSlots: 7, AlStripes: 1, AlStripeSize: 32, TransportType: "CARRIER_PIGEON", TCPPort: intPtr(7000),
				})
			},
			table:  storage.LayerDrbdResourceDefinitions.Name,
			reason: "unknown transport type",
		},
		{
			name: "live volume without minor",
			mutate: func(tx storage.Tx) error {
				return upsert(tx, codec.DrbdVlmDfns, &codec.DrbdVlmDfnSpec{ResourceName: "rsc1", VlmNr: 0})
			},
			table:  storage.LayerDrbdVolumeDefinitions.Name,
			reason: "minor number missing",
		},
		{
			name: "volume definition gone",
			mutate: func(tx storage.Tx) error {
				return remove(tx, codec.DrbdVlmDfns, &codec.DrbdVlmDfnSpec{ResourceName: "rsc1", VlmNr: 0})
			},
			table:  storage.LayerDrbdVolumeDefinitions.Name,
			reason: "replication volume definition missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storagetest.Each(t, func(t *testing.T, b storage.Backend) {
				f := newFixture(t, b)
				rsc := types.NewResource("N1", "rsc1")
				rsc.AddVolume(0)
				rsc.SetLayerStack(replicatedEncrypted(t, rsc, f.pool, f.meta))
				f.persist(rsc)
				f.update(tt.mutate)

				fresh := types.NewResource("N1", "rsc1")
				fresh.AddVolume(0)
				err := f.loadStack(fresh, f.pools())
				var corrupted *storage.CorruptedStateError
				require.ErrorAs(t, err, &corrupted)
				assert.Equal(t, tt.table, corrupted.Table)
				assert.Equal(t, tt.reason, corrupted.Reason)
			})
		})
	}
}

func TestDrbdPersistRequiresDefinition(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		f := newFixture(t, b)
		rsc := types.NewResource("N1", "rsc1")
		rsc.AddVolume(0)
		stack := replicatedEncrypted(t, rsc, f.pool, f.meta)
		rsc.SetLayerStack(stack)

		drbd := drbdRoot(t, rsc)
		dfn := drbd.Dfn
		drbd.Dfn = nil
		err := storage.Update(context.Background(), b, func(tx storage.Tx) error {
			return f.reg.PersistObject(tx, drbd)
		})
		assert.True(t, errors.Is(err, storage.ErrImplementation))

		drbd.Dfn = drbdDfn(rsc, "")
		err = storage.Update(context.Background(), b, func(tx storage.Tx) error {
			return f.reg.PersistObject(tx, drbd)
		})
		assert.True(t, errors.Is(err, storage.ErrImplementation), "volume 0 has no definition")

		drbd.Dfn = dfn
		dfn.TCPPort = nil
		err = storage.Update(context.Background(), b, func(tx storage.Tx) error {
			return PersistDrbdRscDfn(tx, dfn)
		})
		assert.True(t, errors.Is(err, storage.ErrImplementation))
	})
}

func TestDrbdExtMetaPoolHalfSet(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		f := newFixture(t, b)
		rsc := types.NewResource("N1", "rsc1")
		rsc.AddVolume(0)
		rsc.SetLayerStack(replicatedEncrypted(t, rsc, f.pool, f.meta))
		f.persist(rsc)

		node := "N1"
		f.update(func(tx storage.Tx) error {
			return upsert(tx, codec.DrbdVlms, &codec.DrbdVlmSpec{LayerRscID: 0, VlmNr: 0, NodeName: &node})
		})

		fresh := types.NewResource("N1", "rsc1")
		fresh.AddVolume(0)
		err := f.loadStack(fresh, f.pools())
		var corrupted *storage.CorruptedStateError
		require.ErrorAs(t, err, &corrupted)
		assert.Equal(t, storage.LayerDrbdVolumes.Name, corrupted.Table)
		assert.Equal(t, "external metadata pool half set", corrupted.Reason)
		require.NotNil(t, corrupted.VolumeNumber)
		assert.Equal(t, 0, *corrupted.VolumeNumber)
		assert.Equal(t, "N1/", corrupted.Value)
	})
}
