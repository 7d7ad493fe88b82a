package storage_test

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuemby/layerstore/pkg/config"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	bolt "go.etcd.io/bbolt"
)

// native converts a test value into the representation b stores
func native(b storage.Backend, v any) any {
	if v == nil {
		return nil
	}
	if b.Type() == storage.BackendKV {
		return fmt.Sprint(v)
	}
	return v
}

func layerRow(b storage.Backend, id int64, parent any, suspended any) storage.Record {
	rec := storage.Record{
		storage.ColLayerResourceID: native(b, id),
		storage.ColNodeName:        "N1",
		storage.ColResourceName:    "rsc1",
		storage.ColSnapshotName:    "",
		storage.ColLayerKind:       "STORAGE",
		storage.ColLayerSuffix:     "",
	}
	if parent != nil {
		rec[storage.ColLayerParentID] = native(b, parent)
	}
	if suspended != nil {
		rec[storage.ColLayerSuspended] = native(b, suspended)
	}
	return rec
}

func TestBackendUpsertFetch(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		ctx := context.Background()
		err := storage.Update(ctx, b, func(tx storage.Tx) error {
			if err := tx.Upsert(storage.LayerResourceIDs, layerRow(b, 1, nil, nil)); err != nil {
				return err
			}
			return tx.Upsert(storage.LayerResourceIDs, layerRow(b, 2, int64(1), true))
		})
		require.NoError(t, err)

		err = storage.View(ctx, b, func(tx storage.Tx) error {
			recs, err := tx.FetchAll(storage.LayerResourceIDs)
			require.NoError(t, err)
			require.Len(t, recs, 2)

			root, ok, err := tx.FetchByKey(storage.LayerResourceIDs, storage.Key{native(b, int64(1))})
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "N1", root[storage.ColNodeName])
			assert.Equal(t, "", root[storage.ColSnapshotName])
			assert.Nil(t, root[storage.ColLayerParentID], "NULL column must be absent")
			assert.Nil(t, root[storage.ColLayerSuspended])

			child, ok, err := tx.FetchByKey(storage.LayerResourceIDs, storage.Key{native(b, int64(2))})
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, native(b, int64(1)), child[storage.ColLayerParentID])
			assert.Equal(t, native(b, true), child[storage.ColLayerSuspended])

			_, ok, err = tx.FetchByKey(storage.LayerResourceIDs, storage.Key{native(b, int64(3))})
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		})
		require.NoError(t, err)
	})
}

func TestBackendUpsertReplaces(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		ctx := context.Background()
		require.NoError(t, storage.Update(ctx, b, func(tx storage.Tx) error {
			return tx.Upsert(storage.LayerResourceIDs, layerRow(b, 7, int64(3), false))
		}))
		require.NoError(t, storage.Update(ctx, b, func(tx storage.Tx) error {
			return tx.Upsert(storage.LayerResourceIDs, layerRow(b, 7, nil, nil))
		}))

		require.NoError(t, storage.View(ctx, b, func(tx storage.Tx) error {
			rec, ok, err := tx.FetchByKey(storage.LayerResourceIDs, storage.Key{native(b, int64(7))})
			require.NoError(t, err)
			require.True(t, ok)
			assert.Nil(t, rec[storage.ColLayerParentID])
			assert.Nil(t, rec[storage.ColLayerSuspended])

			recs, err := tx.FetchAll(storage.LayerResourceIDs)
			require.NoError(t, err)
			assert.Len(t, recs, 1)
			return nil
		}))
	})
}

func TestBackendDelete(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		ctx := context.Background()
		node := storage.Record{
			storage.ColNodeName:  "N1",
			storage.ColNodeType:  "SATELLITE",
			storage.ColNodeFlags: native(b, int64(0)),
		}
		require.NoError(t, storage.Update(ctx, b, func(tx storage.Tx) error {
			return tx.Upsert(storage.Nodes, node)
		}))

		require.NoError(t, storage.Update(ctx, b, func(tx storage.Tx) error {
			if err := tx.Delete(storage.Nodes, storage.Key{"N1"}); err != nil {
				return err
			}
			// deleting a missing row is not an error
			return tx.Delete(storage.Nodes, storage.Key{"N2"})
		}))

		require.NoError(t, storage.View(ctx, b, func(tx storage.Tx) error {
			recs, err := tx.FetchAll(storage.Nodes)
			require.NoError(t, err)
			assert.Empty(t, recs)
			return nil
		}))
	})
}

func TestBackendRollback(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		ctx := context.Background()
		tx, err := b.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Upsert(storage.LayerResourceIDs, layerRow(b, 1, nil, nil)))

		// the transaction sees its own writes
		recs, err := tx.FetchAll(storage.LayerResourceIDs)
		require.NoError(t, err)
		assert.Len(t, recs, 1)
		require.NoError(t, tx.Rollback())

		require.NoError(t, storage.View(ctx, b, func(tx storage.Tx) error {
			recs, err := tx.FetchAll(storage.LayerResourceIDs)
			require.NoError(t, err)
			assert.Empty(t, recs)
			return nil
		}))
	})
}

func TestBackendCompositeKeys(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		ctx := context.Background()
		require.NoError(t, storage.Update(ctx, b, func(tx storage.Tx) error {
			for _, snap := range []string{"", "snap1"} {
				err := tx.Upsert(storage.Resources, storage.Record{
					storage.ColNodeName:      "N1",
					storage.ColResourceName:  "rsc1",
					storage.ColSnapshotName:  snap,
					storage.ColResourceFlags: native(b, int64(4)),
				})
				if err != nil {
					return err
				}
			}
			return nil
		}))

		require.NoError(t, storage.View(ctx, b, func(tx storage.Tx) error {
			recs, err := tx.FetchAll(storage.Resources)
			require.NoError(t, err)
			require.Len(t, recs, 2)

			rec, ok, err := tx.FetchByKey(storage.Resources, storage.Key{"N1", "rsc1", "snap1"})
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "snap1", rec[storage.ColSnapshotName])
			assert.Equal(t, native(b, int64(4)), rec[storage.ColResourceFlags])
			return nil
		}))
	})
}

func TestBackendKeysAreCaseSensitive(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		ctx := context.Background()
		require.NoError(t, storage.Update(ctx, b, func(tx storage.Tx) error {
			for i, name := range []string{"rsc", "RSC"} {
				err := tx.Upsert(storage.Resources, storage.Record{
					storage.ColNodeName:      "N1",
					storage.ColResourceName:  name,
					storage.ColSnapshotName:  "",
					storage.ColResourceFlags: native(b, int64(i)),
				})
				if err != nil {
					return err
				}
			}
			return nil
		}))

		require.NoError(t, storage.View(ctx, b, func(tx storage.Tx) error {
			recs, err := tx.FetchAll(storage.Resources)
			require.NoError(t, err)
			assert.Len(t, recs, 2)

			rec, ok, err := tx.FetchByKey(storage.Resources, storage.Key{"N1", "RSC", ""})
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, native(b, int64(1)), rec[storage.ColResourceFlags])
			return nil
		}))
	})
}

func TestBackendMissingPrimaryKey(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, b storage.Backend) {
		tx, err := b.Begin(context.Background())
		require.NoError(t, err)
		defer tx.Rollback()

		err = tx.Upsert(storage.Nodes, storage.Record{storage.ColNodeType: "SATELLITE"})
		assert.ErrorIs(t, err, storage.ErrDatabase)

		_, _, err = tx.FetchByKey(storage.Resources, storage.Key{"N1"})
		assert.ErrorIs(t, err, storage.ErrDatabase)
	})
}

func TestSQLFetchWhere(t *testing.T) {
	b := storagetest.NewSQL(t)
	ctx := context.Background()
	require.NoError(t, storage.Update(ctx, b, func(tx storage.Tx) error {
		for i := int64(1); i <= 3; i++ {
			rec := layerRow(b, i, nil, nil)
			if i == 3 {
				rec[storage.ColResourceName] = "rsc2"
			}
			if err := tx.Upsert(storage.LayerResourceIDs, rec); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, storage.View(ctx, b, func(tx storage.Tx) error {
		q, ok := tx.(storage.Querier)
		require.True(t, ok)
		recs, err := q.FetchWhere(storage.LayerResourceIDs, storage.Record{
			storage.ColNodeName:     "N1",
			storage.ColResourceName: "rsc1",
		})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, int64(1), recs[0][storage.ColLayerResourceID])
		assert.Equal(t, int64(2), recs[1][storage.ColLayerResourceID])

		_, err = q.FetchWhere(storage.LayerResourceIDs, storage.Record{"NOPE": "x"})
		assert.ErrorIs(t, err, storage.ErrDatabase)
		return nil
	}))
}

func TestKVKeyLayout(t *testing.T) {
	b := storagetest.NewKV(t)
	ctx := context.Background()
	require.NoError(t, storage.Update(ctx, b, func(tx storage.Tx) error {
		return tx.Upsert(storage.LayerDrbdVolumes, storage.Record{
			storage.ColLayerResourceID: "5",
			storage.ColVlmNr:           "0",
			storage.ColNodeName:        ":null",
		})
	}))

	var keys []string
	require.NoError(t, b.DB().View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte("layerstore")).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	}))
	assert.Equal(t, []string{
		"/LINSTOR/LAYER_DRBD_VOLUMES/5:0/LAYER_RESOURCE_ID",
		"/LINSTOR/LAYER_DRBD_VOLUMES/5:0/NODE_NAME",
		"/LINSTOR/LAYER_DRBD_VOLUMES/5:0/VLM_NR",
	}, keys)
}

func TestKVRejectsNonStringValues(t *testing.T) {
	b := storagetest.NewKV(t)
	tx, err := b.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	err = tx.Upsert(storage.Nodes, storage.Record{
		storage.ColNodeName:  "N1",
		storage.ColNodeType:  "SATELLITE",
		storage.ColNodeFlags: int64(0),
	})
	assert.ErrorIs(t, err, storage.ErrDatabase)
}

func TestCRDObjectShape(t *testing.T) {
	b, client := storagetest.NewCRDWithClient(t)
	ctx := context.Background()
	require.NoError(t, storage.Update(ctx, b, func(tx storage.Tx) error {
		return tx.Upsert(storage.LayerResourceIDs, layerRow(b, 12, int64(11), nil))
	}))

	list, err := client.Resource(b.GVR(storage.LayerResourceIDs)).List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)

	obj := list.Items[0]
	assert.Equal(t, "LayerResourceIds", obj.GetKind())
	assert.Equal(t, storage.ObjectName(storage.Key{int64(12)}), obj.GetName())
	spec := obj.Object["spec"].(map[string]interface{})
	assert.Equal(t, int64(12), spec["layerResourceId"])
	assert.Equal(t, int64(11), spec["layerResourceParentId"])
	assert.Equal(t, "rsc1", spec["resourceName"])
	_, hasSuspended := spec["layerResourceSuspended"]
	assert.False(t, hasSuspended)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	cfg.Backend = config.BackendKV
	cfg.KV.Path = filepath.Join(t.TempDir(), "open.bolt")
	b, err := storage.Open(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, storage.BackendKV, b.Type())
	require.NoError(t, b.Close())

	cfg = config.Default()
	cfg.SQL.DSN = "file:opentest?mode=memory&cache=shared"
	b, err = storage.Open(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, storage.BackendSQL, b.Type())
	require.NoError(t, b.Close())

	cfg.Backend = "etcd"
	_, err = storage.Open(ctx, cfg)
	assert.ErrorIs(t, err, storage.ErrImplementation)
	assert.True(t, strings.Contains(err.Error(), "etcd"))
}
