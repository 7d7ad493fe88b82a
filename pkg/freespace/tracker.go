package freespace

import (
	"sort"
	"sync"

	"github.com/cuemby/layerstore/pkg/log"
	"github.com/cuemby/layerstore/pkg/metrics"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/txn"
	"github.com/cuemby/layerstore/pkg/types"
	"github.com/rs/zerolog"
)

// Volume is a provider volume whose allocation is tracked while it is
// being created. *types.StorageVlmData implements it.
type Volume interface {
	GetVolumeKey() types.ProviderVolumeKey
	GetAllocatedSize() int64
	GetAbsResource() types.AbsResource
}

// Capacity is the last capacity report of a pool. Both values are nil
// until the first report.
type Capacity struct {
	Free  *int64
	Total *int64
}

// Tracker keeps the committed capacity of one free space manager and the
// volumes whose allocation is still pending on it
type Tracker struct {
	name string

	// capMu serializes capacity transactions
	capMu    sync.Mutex
	capacity *txn.Value[Capacity]

	rscMu      sync.Mutex
	pendingRsc map[types.ProviderVolumeKey]Volume

	snapMu      sync.Mutex
	pendingSnap map[types.ProviderVolumeKey]Volume

	logger zerolog.Logger
}

// NewTracker creates an uninitialized tracker
func NewTracker(name string) *Tracker {
	return &Tracker{
		name:        name,
		capacity:    txn.NewValue(Capacity{}),
		pendingRsc:  make(map[types.ProviderVolumeKey]Volume),
		pendingSnap: make(map[types.ProviderVolumeKey]Volume),
		logger:      log.WithComponent("freespace").With().Str("free_space_mgr", name).Logger(),
	}
}

// Name returns the free space manager name
func (t *Tracker) Name() string { return t.name }

func (t *Tracker) pendingSet(v Volume) (*sync.Mutex, map[types.ProviderVolumeKey]Volume) {
	if owner := v.GetAbsResource(); owner != nil && owner.IsSnapshot() {
		return &t.snapMu, t.pendingSnap
	}
	return &t.rscMu, t.pendingRsc
}

// VlmCreating marks v as pending. Committed capacity is not touched.
func (t *Tracker) VlmCreating(v Volume) {
	mu, set := t.pendingSet(v)
	mu.Lock()
	set[v.GetVolumeKey()] = v
	mu.Unlock()

	t.logger.Debug().
		Str("volume", v.GetVolumeKey().String()).
		Int64("allocated_size", v.GetAllocatedSize()).
		Msg("Volume creating")
	t.publishPending()
}

// EnsureVlmNoLongerCreating drops v from the pending set, for creations
// abandoned before they reported capacity
func (t *Tracker) EnsureVlmNoLongerCreating(v Volume) {
	if t.removePending(v) {
		t.logger.Debug().Str("volume", v.GetVolumeKey().String()).Msg("Abandoned volume creation")
	}
	t.publishPending()
}

// VlmCreationFinished drops v from the pending set. When both capacities
// are given they replace the committed values; with both nil the call
// only ends the pending state. If the capacity cannot be staged v stays
// pending.
func (t *Tracker) VlmCreationFinished(v Volume, free, total *int64) error {
	t.capMu.Lock()
	defer t.capMu.Unlock()

	t.capacity.Begin()
	if free != nil && total != nil {
		if err := t.stageCapacity(*free, *total); err != nil {
			return err
		}
	}
	t.removePending(v)
	t.commitCapacity(free != nil && total != nil)
	t.publishPending()
	return nil
}

func (t *Tracker) removePending(v Volume) bool {
	mu, set := t.pendingSet(v)
	mu.Lock()
	defer mu.Unlock()
	_, ok := set[v.GetVolumeKey()]
	delete(set, v.GetVolumeKey())
	return ok
}

// SetCapacityInfo replaces the committed free and total capacity
func (t *Tracker) SetCapacityInfo(free, total int64) error {
	t.capMu.Lock()
	defer t.capMu.Unlock()

	t.capacity.Begin()
	if err := t.stageCapacity(free, total); err != nil {
		return err
	}
	t.commitCapacity(true)
	return nil
}

// stageCapacity sets the capacity in the open transaction and rolls it
// back on failure
func (t *Tracker) stageCapacity(free, total int64) error {
	if err := t.capacity.Set(Capacity{Free: &free, Total: &total}); err != nil {
		t.capacity.Rollback()
		return &storage.ImplementationError{Msg: "failed to set capacity of free space manager " + t.name, Err: err}
	}
	return nil
}

func (t *Tracker) commitCapacity(changed bool) {
	staged := t.capacity.Pending()
	t.capacity.Commit()
	if !changed {
		return
	}
	metrics.FreeSpaceFreeBytes.WithLabelValues(t.name).Set(float64(*staged.Free))
	metrics.FreeSpaceTotalBytes.WithLabelValues(t.name).Set(float64(*staged.Total))
	t.logger.Debug().Int64("free", *staged.Free).Int64("total", *staged.Total).Msg("Capacity updated")
}

// GetPendingAllocatedSum sums the allocated size of every pending volume.
// It is recomputed on each call.
func (t *Tracker) GetPendingAllocatedSum() int64 {
	var sum int64
	for _, v := range t.PendingVolumes() {
		sum += v.GetAllocatedSize()
	}
	return sum
}

// PendingVolumes returns a snapshot of both pending sets ordered by key
func (t *Tracker) PendingVolumes() []Volume {
	t.rscMu.Lock()
	vols := make([]Volume, 0, len(t.pendingRsc))
	for _, v := range t.pendingRsc {
		vols = append(vols, v)
	}
	t.rscMu.Unlock()

	t.snapMu.Lock()
	for _, v := range t.pendingSnap {
		vols = append(vols, v)
	}
	t.snapMu.Unlock()

	sort.Slice(vols, func(i, j int) bool {
		return vols[i].GetVolumeKey().String() < vols[j].GetVolumeKey().String()
	})
	return vols
}

// GetFreeCapacityLastUpdated returns the committed free capacity, ignoring
// pending volumes
func (t *Tracker) GetFreeCapacityLastUpdated() *int64 {
	return copyInt(t.capacity.Get().Free)
}

// GetTotalCapacity returns the committed total capacity
func (t *Tracker) GetTotalCapacity() *int64 {
	return copyInt(t.capacity.Get().Total)
}

// IsInitialized reports whether a capacity report was committed
func (t *Tracker) IsInitialized() bool {
	c := t.capacity.Get()
	return c.Free != nil && c.Total != nil
}

func (t *Tracker) publishPending() {
	metrics.FreeSpacePendingBytes.WithLabelValues(t.name).Set(float64(t.GetPendingAllocatedSum()))
}

func (t *Tracker) close() {
	t.capacity.Close()
	metrics.FreeSpacePendingBytes.DeleteLabelValues(t.name)
	metrics.FreeSpaceFreeBytes.DeleteLabelValues(t.name)
	metrics.FreeSpaceTotalBytes.DeleteLabelValues(t.name)
}

func copyInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
