package layerdb

import (
	"strconv"

	"github.com/cuemby/layerstore/pkg/codec"
	"github.com/cuemby/layerstore/pkg/log"
	"github.com/cuemby/layerstore/pkg/metrics"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/types"
)

// LoadStack rebuilds the layer stack of rsc from the rows visible to s and
// hands it to rsc. Storage pools are resolved against pools, volumes
// against rsc. A resource without layer rows gets an empty stack.
func (r *Registry) LoadStack(s *LoadSession, rsc types.AbsResource, pools types.StoragePoolMap) error {
	rows, err := s.rscIDRows(rsc.GetNodeName(), rsc.GetResourceName(), rsc.GetSnapshotName())
	if err != nil {
		return err
	}
	stack := types.NewLayerStack()
	if len(rows) == 0 {
		rsc.SetLayerStack(stack)
		return nil
	}

	byID := make(map[int]codec.LayerRscIDSpec, len(rows))
	var roots []int
	for _, row := range rows {
		// Rows are fetched by an owner key that includes the snapshot name,
		// so a mismatch here means the session returned foreign rows.
		if deref(row.SnapshotName) != rsc.GetSnapshotName() {
			return storage.NewImplementationError("layer resource id %d of %q served for snapshot %q",
				row.ID, deref(row.SnapshotName), rsc.GetSnapshotName())
		}
		byID[row.ID] = row
		if row.ParentID == nil {
			roots = append(roots, row.ID)
		}
	}
	for _, row := range rows {
		if row.ParentID != nil {
			if _, ok := byID[*row.ParentID]; !ok {
				return storage.Corrupted(storage.LayerResourceIDs.Name, row.ID, "parent layer not found", nil).
					WithValue(strconv.Itoa(*row.ParentID))
			}
		}
	}
	if len(roots) != 1 {
		return storage.Corrupted(storage.LayerResourceIDs.Name, rows[0].ID,
			"expected exactly one root layer, found "+strconv.Itoa(len(roots)), nil)
	}

	logger := log.WithResource(rsc.GetNodeName(), rsc.GetResourceName(), rsc.GetSnapshotName())

	type pending struct {
		id     int
		parent types.LayerObject
	}
	queue := []pending{{id: roots[0]}}
	visited := make(map[int]bool, len(rows))

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if visited[next.id] {
			return storage.Corrupted(storage.LayerResourceIDs.Name, next.id, "layer visited twice", nil)
		}
		visited[next.id] = true

		row := byID[next.id]
		kind, err := types.ParseLayerKind(row.Kind)
		if err != nil {
			return storage.Corrupted(storage.LayerResourceIDs.Name, row.ID, "unknown layer kind", err).WithValue(row.Kind)
		}
		d, err := r.Driver(kind)
		if err != nil {
			return err
		}

		obj, children, err := d.Load(s, rsc, row.ID, row.Suffix, next.parent, pools)
		if err != nil {
			return err
		}
		if row.Suspended != nil {
			suspended := *row.Suspended
			obj.Base().SuspendIO = &suspended
		}
		if err := stack.Add(obj); err != nil {
			return storage.Corrupted(storage.LayerResourceIDs.Name, row.ID, "cannot add layer", err)
		}
		metrics.LayerObjectsLoadedTotal.WithLabelValues(string(kind)).Inc()
		logger.Trace().Str("layer", obj.Base().String()).Ints("children", children).Msg("Layer object loaded")

		for _, child := range children {
			if _, ok := byID[child]; !ok {
				return storage.Corrupted(storage.LayerResourceIDs.Name, child, "child layer belongs to another resource", nil).
					WithValue(strconv.Itoa(row.ID))
			}
			queue = append(queue, pending{id: child, parent: obj})
		}
	}

	if len(visited) != len(rows) {
		for _, row := range rows {
			if !visited[row.ID] {
				return storage.Corrupted(storage.LayerResourceIDs.Name, row.ID, "layer not reachable from root", nil)
			}
		}
	}
	if err := stack.Validate(); err != nil {
		return storage.Corrupted(storage.LayerResourceIDs.Name, roots[0], "invalid layer tree", err)
	}

	rsc.SetLayerStack(stack)
	logger.Debug().Int("layers", stack.Len()).Msg("Layer stack loaded")
	return nil
}
