package layerdb

import (
	"fmt"

	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/types"
)

// PersistStack writes every layer object of rsc, parents before children
func (r *Registry) PersistStack(tx storage.Tx, rsc types.AbsResource) error {
	stack := rsc.GetLayerStack()
	if stack == nil || stack.Len() == 0 {
		return nil
	}
	if err := stack.Validate(); err != nil {
		return &storage.ImplementationError{
			Msg: fmt.Sprintf("refusing to persist layer stack of %s/%s", rsc.GetNodeName(), rsc.GetResourceName()),
			Err: err,
		}
	}
	return stack.Walk(func(obj types.LayerObject, _ int) error {
		return r.PersistObject(tx, obj)
	})
}

// DeleteStack removes every layer object of rsc, children before parents
func (r *Registry) DeleteStack(tx storage.Tx, rsc types.AbsResource) error {
	stack := rsc.GetLayerStack()
	if stack == nil {
		return nil
	}
	for _, obj := range stack.BottomUp() {
		if err := r.DeleteObject(tx, obj); err != nil {
			return err
		}
	}
	return nil
}
