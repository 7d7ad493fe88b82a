package layerdb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/layerstore/pkg/codec"
	"github.com/cuemby/layerstore/pkg/freespace"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/storage/storagetest"
	"github.com/cuemby/layerstore/pkg/types"
)

func TestDriverDispatch(t *testing.T) {
	reg := NewRegistry()
	for _, kind := range types.AllLayerKinds {
		d, err := reg.Driver(kind)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, d.Kind())
	}

	_, err := reg.Driver(types.LayerKind("RAID"))
	assert.True(t, errors.Is(err, storage.ErrImplementation))
}

func TestDriverRejectsForeignObject(t *testing.T) {
	reg := NewRegistry()
	d, err := reg.Driver(types.LayerKindDRBD)
	require.NoError(t, err)

	luks := &types.LuksRscData{RscLayerBase: types.RscLayerBase{ID: 1, Kind: types.LayerKindLUKS}}
	err = d.Persist(storagetest.Begin(t, storagetest.NewSQL(t)), luks)
	assert.True(t, errors.Is(err, storage.ErrImplementation))
}

func TestLoadSessionGuard(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		f := newFixture(t, b)
		err := f.view(func(tx storage.Tx) error {
			s, err := f.reg.OpenLoadSession(tx)
			require.NoError(t, err)

			_, err = f.reg.OpenLoadSession(tx)
			assert.True(t, errors.Is(err, storage.ErrImplementation))

			s.Close()
			s.Close()

			err = f.reg.LoadStack(s, types.NewResource("N1", "rsc1"), f.pools())
			assert.True(t, errors.Is(err, storage.ErrImplementation))

			again, err := f.reg.OpenLoadSession(tx)
			require.NoError(t, err)
			again.Close()
			return nil
		})
		require.NoError(t, err)
	})
}

func TestLoadSessionBulkMode(t *testing.T) {
	reg := NewRegistry()

	tx := storagetest.Begin(t, storagetest.NewSQL(t))
	s, err := reg.OpenLoadSession(tx)
	require.NoError(t, err)
	assert.False(t, s.bulk)
	assert.Nil(t, s.byOwner)
	s.Close()

	tx = storagetest.Begin(t, storagetest.NewKV(t))
	s, err = reg.OpenLoadSession(tx)
	require.NoError(t, err)
	assert.True(t, s.bulk)
	assert.NotNil(t, s.byOwner)
	s.Close()
	assert.Nil(t, s.byOwner)
}

func TestAllocateID(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		f := newFixture(t, b)
		f.update(func(tx storage.Tx) error {
			id, err := f.reg.AllocateID(tx)
			require.NoError(t, err)
			assert.Equal(t, 0, id)
			return nil
		})

		rsc := types.NewResource("N1", "rsc1")
		rsc.AddVolume(0)
		rsc.SetLayerStack(replicatedEncrypted(t, rsc, f.pool, f.meta))
		f.persist(rsc)

		f.update(func(tx storage.Tx) error {
			id, err := f.reg.AllocateID(tx)
			require.NoError(t, err)
			assert.Equal(t, 3, id)
			return nil
		})
	})
}

func TestDeleteResource(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		f := newFixture(t, b)
		rsc := types.NewResource("N1", "rsc1")
		rsc.AddVolume(0)
		rsc.SetLayerStack(replicatedEncrypted(t, rsc, f.pool, f.meta))
		f.persist(rsc)

		f.update(func(tx storage.Tx) error {
			return f.reg.DeleteAbsResource(tx, rsc)
		})

		err := f.view(func(tx storage.Tx) error {
			for _, table := range append([]*storage.Table{storage.LayerResourceIDs, storage.Resources, storage.Volumes}, layerTables...) {
				recs, err := tx.FetchAll(table)
				require.NoError(t, err)
				assert.Empty(t, recs, table.Name)
			}
			return nil
		})
		require.NoError(t, err)

		st := f.load()
		assert.Empty(t, st.Resources)
	})
}

func TestPersistRejectsInvalidStack(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		f := newFixture(t, b)
		rsc := types.NewResource("N1", "rsc1")
		stack := types.NewLayerStack()
		require.NoError(t, stack.Add(&types.NvmeRscData{RscLayerBase: rscBase(types.LayerKindNVMe, 0, nil, rsc, "")}))
		require.NoError(t, stack.Add(&types.NvmeRscData{RscLayerBase: rscBase(types.LayerKindNVMe, 1, nil, rsc, "")}))
		rsc.SetLayerStack(stack)

		err := storage.Update(context.Background(), b, func(tx storage.Tx) error {
			return f.reg.PersistStack(tx, rsc)
		})
		assert.True(t, errors.Is(err, storage.ErrImplementation))
		assert.True(t, errors.Is(err, types.ErrInvalidTree))
	})
}

func TestColumnDrivers(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		f := newFixture(t, b)
		rsc := types.NewResource("N1", "rsc1")
		rsc.AddVolume(0)
		stack := replicatedEncrypted(t, rsc, f.pool, f.meta)
		rsc.SetLayerStack(stack)
		f.persist(rsc)

		root, _ := stack.Root()
		drbd := root.(*types.DrbdRscData)
		obj, _ := stack.Get(1)
		luks := obj.(*types.LuksRscData)
		stor, _ := stack.Get(2)

		f.update(func(tx storage.Tx) error {
			require.NoError(t, DrbdPeerSlotsDriver.Update(tx, drbd, 16))
			require.NoError(t, DrbdFlagsDriver.Update(tx, drbd, 5))
			require.NoError(t, DrbdExtMetaPoolDriver.Update(tx, drbd.Volumes[0], nil))
			require.NoError(t, LayerSuspendIODriver.Update(tx, luks, true))
			require.NoError(t, LuksPasswordDriver.Update(tx, luks.Volumes[0], []byte("rotated")))
			require.NoError(t, LayerParentIDDriver.Update(tx, stor, intPtr(0)))
			return StorPoolFreeSpaceMgrDriver.Update(tx, f.pool, "shared")
		})

		st := f.load()
		loaded, _ := st.Resource("N1", "rsc1")
		ls := loaded.GetLayerStack()

		root, ok := ls.Root()
		require.True(t, ok)
		gotDrbd := root.(*types.DrbdRscData)
		assert.Equal(t, int16(16), gotDrbd.PeerSlots)
		assert.Equal(t, int64(5), gotDrbd.Flags)
		assert.Nil(t, gotDrbd.Volumes[0].ExtMetaPool)
		assert.Equal(t, []int{1, 2}, ls.Children(0))

		obj, _ = ls.Get(1)
		gotLuks := obj.(*types.LuksRscData)
		assert.True(t, gotLuks.IOSuspended())
		assert.Equal(t, []byte("rotated"), gotLuks.Volumes[0].EncryptedPassword)

		assert.Equal(t, "shared", st.Pools[f.pool.Key()].SharedSpaceName())
		_, ok = st.FreeSpace.Get("shared")
		assert.True(t, ok)
	})
}

func TestColumnDriverNotPersisted(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		drbd := &types.DrbdRscData{RscLayerBase: types.RscLayerBase{ID: 42, Kind: types.LayerKindDRBD}}

		err := storage.Update(context.Background(), b, func(tx storage.Tx) error {
			return DrbdFlagsDriver.Update(tx, drbd, 1)
		})
		assert.True(t, errors.Is(err, storage.ErrImplementation))
		assert.Equal(t, "replication flags", DrbdFlagsDriver.Name())
	})
}

func TestLoaderCheck(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		f := newFixture(t, b)

		good := types.NewResource("N1", "good")
		good.AddVolume(0)
		good.SetLayerStack(replicatedEncrypted(t, good, f.pool, f.meta))

		bad := types.NewResource("N1", "bad")
		bad.AddVolume(0)
		gone := &types.StoragePool{NodeName: "N1", Name: "gone", ProviderKind: types.ProviderLVM}
		badStack := types.NewLayerStack()
		require.NoError(t, badStack.Add(&types.StorageRscData{
			RscLayerBase: rscBase(types.LayerKindStorage, 20, nil, bad, ""),
			Volumes: map[int]*types.StorageVlmData{
				0: {VlmLayerBase: vlmBase(20, 0, bad), ProviderKind: types.ProviderLVM, Pool: gone},
			},
		}))
		bad.SetLayerStack(badStack)

		f.persist(good)
		f.persist(bad)

		loader := NewLoader(f.reg, freespace.NewRegistry())
		err := f.view(func(tx storage.Tx) error {
			_, err := loader.LoadAll(tx)
			return err
		})
		assert.True(t, errors.Is(err, storage.ErrCorruptedState))

		err = f.view(func(tx storage.Tx) error {
			st, failed, err := loader.Check(tx)
			require.NoError(t, err)
			require.Len(t, failed, 1)
			assert.Equal(t, "bad", failed[0].ResourceName)
			assert.True(t, errors.Is(failed[0].Err, storage.ErrCorruptedState))

			loaded, ok := st.Resource("N1", "good")
			require.True(t, ok)
			assert.Equal(t, 3, loaded.GetLayerStack().Len())
			return nil
		})
		require.NoError(t, err)
	})
}

func TestLoaderRejectsDanglingRows(t *testing.T) {
	tests := []struct {
		name  string
		write func(tx storage.Tx) error
		table string
	}{
		{
			name: "pool on unknown node",
			write: func(tx storage.Tx) error {
				return PersistStorPool(tx, &types.StoragePool{NodeName: "N9", Name: "P", ProviderKind: types.ProviderLVM})
			},
			table: storage.StorPools.Name,
		},
		{
			name: "volume of unknown resource",
			write: func(tx storage.Tx) error {
				vs := codec.VolumeSpec{NodeName: "N1", ResourceName: "ghost", VlmNr: 0}
				return upsert(tx, codec.Volumes, &vs)
			},
			table: storage.Volumes.Name,
		},
		{
			name: "unknown node type",
			write: func(tx storage.Tx) error {
				spec := codec.NodeSpec{Name: "N2", Type: "ROUTER"}
				return upsert(tx, codec.Nodes, &spec)
			},
			table: storage.Nodes.Name,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storagetest.Each(t, func(t *testing.T, b storage.Backend) {
				f := newFixture(t, b)
				f.update(tt.write)

				err := f.view(func(tx storage.Tx) error {
					_, err := NewLoader(f.reg, nil).LoadAll(tx)
					return err
				})
				var corrupted *storage.CorruptedStateError
				require.True(t, errors.As(err, &corrupted), "got %v", err)
				assert.Equal(t, tt.table, corrupted.Table)
			})
		})
	}
}

func TestPersistObjectKeepsKind(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		f := newFixture(t, b)
		rsc := types.NewResource("N1", "rsc1")
		rsc.AddVolume(0)
		rsc.SetLayerStack(replicatedEncrypted(t, rsc, f.pool, f.meta))
		f.persist(rsc)

		impostor := &types.NvmeRscData{
			RscLayerBase: rscBase(types.LayerKindNVMe, 1, intPtr(0), rsc, ""),
			Volumes:      map[int]*types.NvmeVlmData{},
		}
		err := storage.Update(context.Background(), b, func(tx storage.Tx) error {
			return f.reg.PersistObject(tx, impostor)
		})
		assert.True(t, errors.Is(err, storage.ErrImplementation))

		st := f.load()
		loaded, ok := st.Resource("N1", "rsc1")
		require.True(t, ok)
		obj, ok := loaded.GetLayerStack().Get(1)
		require.True(t, ok)
		assert.Equal(t, types.LayerKindLUKS, obj.Base().Kind)
	})
}

func TestResourceNamesDifferingInCase(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		f := newFixture(t, b)
		for id, name := range []string{"rsc", "RSC"} {
			rsc := types.NewResource("N1", name)
			rsc.AddVolume(0)
			stack := types.NewLayerStack()
			require.NoError(t, stack.Add(&types.StorageRscData{
				RscLayerBase: rscBase(types.LayerKindStorage, id, nil, rsc, ""),
				Volumes: map[int]*types.StorageVlmData{
					0: {VlmLayerBase: vlmBase(id, 0, rsc), ProviderKind: types.ProviderLVM, Pool: f.pool},
				},
			}))
			rsc.SetLayerStack(stack)
			f.persist(rsc)
		}

		st := f.load()
		require.Len(t, st.Resources, 2)
		for id, name := range []string{"rsc", "RSC"} {
			loaded, ok := st.Resource("N1", name)
			require.True(t, ok, name)
			root, ok := loaded.GetLayerStack().Root()
			require.True(t, ok, name)
			assert.Equal(t, id, root.Base().ID, name)
			assert.Equal(t, 1, loaded.GetLayerStack().Len(), name)
		}
	})
}

func TestSuspendIORoundTrip(t *testing.T) {
	falseVal, trueVal := false, true
	tests := []struct {
		name    string
		suspend *bool
	}{
		{name: "unset", suspend: nil},
		{name: "false", suspend: &falseVal},
		{name: "true", suspend: &trueVal},
	}

	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		f := newFixture(t, b)
		for id, tt := range tests {
			rsc := types.NewResource("N1", "rsc-"+tt.name)
			rsc.AddVolume(0)
			base := rscBase(types.LayerKindStorage, id, nil, rsc, "")
			base.SuspendIO = tt.suspend
			stack := types.NewLayerStack()
			require.NoError(t, stack.Add(&types.StorageRscData{
				RscLayerBase: base,
				Volumes: map[int]*types.StorageVlmData{
					0: {VlmLayerBase: vlmBase(id, 0, rsc), ProviderKind: types.ProviderLVM, Pool: f.pool},
				},
			}))
			rsc.SetLayerStack(stack)
			f.persist(rsc)
		}

		st := f.load()
		for _, tt := range tests {
			loaded, ok := st.Resource("N1", "rsc-"+tt.name)
			require.True(t, ok, tt.name)
			root, ok := loaded.GetLayerStack().Root()
			require.True(t, ok, tt.name)
			assert.Equal(t, tt.suspend, root.Base().SuspendIO, tt.name)
		}
	})
}
