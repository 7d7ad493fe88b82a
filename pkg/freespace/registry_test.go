package freespace

import (
	"testing"

	"github.com/cuemby/layerstore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySharedPools(t *testing.T) {
	r := NewRegistry()
	spA := &types.StoragePool{NodeName: "N1", Name: "P", FreeSpaceMgrName: "shared-vg"}
	spB := &types.StoragePool{NodeName: "N2", Name: "P", FreeSpaceMgrName: "shared-vg"}
	local := &types.StoragePool{NodeName: "N1", Name: "local"}

	assert.Same(t, r.AttachPool(spA), r.AttachPool(spB))
	r.AttachPool(local)
	assert.Equal(t, []string{"N1;local", "shared-vg"}, r.Names())
	assert.Equal(t, []types.StoragePoolKey{spA.Key(), spB.Key()}, r.Pools("shared-vg"))

	r.PutVolume(spA, newVolume("rsc1", 0, 40))
	r.PutVolume(spB, newVolume("rsc2", 0, 60))
	shared, ok := r.Get("shared-vg")
	require.True(t, ok)
	assert.Equal(t, int64(100), shared.GetPendingAllocatedSum())

	r.DetachPool(spA)
	_, ok = r.Get("shared-vg")
	assert.True(t, ok, "tracker lives while a pool still uses it")

	r.DetachPool(spB)
	_, ok = r.Get("shared-vg")
	assert.False(t, ok)
}

func TestRegistryRemoveVolume(t *testing.T) {
	r := NewRegistry()
	sp := &types.StoragePool{NodeName: "N1", Name: "P"}
	v := newVolume("rsc1", 0, 100)

	r.PutVolume(sp, v)
	tracker, ok := r.Get("N1;P")
	require.True(t, ok)
	assert.Equal(t, int64(100), tracker.GetPendingAllocatedSum())

	r.RemoveVolume(sp, v)
	assert.Equal(t, int64(0), tracker.GetPendingAllocatedSum())

	// removing from an unknown pool is a no-op
	r.RemoveVolume(&types.StoragePool{NodeName: "N9", Name: "X"}, v)
}

func TestRegistryDelete(t *testing.T) {
	r := NewRegistry()
	tracker := r.GetOrCreate("N1;P")
	assert.Same(t, tracker, r.GetOrCreate("N1;P"))

	r.Delete("N1;P")
	_, ok := r.Get("N1;P")
	assert.False(t, ok)
	assert.Error(t, tracker.SetCapacityInfo(1, 1))
}
