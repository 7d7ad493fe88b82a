package types

import (
	"errors"
	"fmt"
)

// ErrInvalidTree is returned when a layer stack violates its tree shape
var ErrInvalidTree = errors.New("invalid layer tree")

// TreeError describes which layer object broke the tree shape
type TreeError struct {
	ID     int
	Reason string
}

func (e *TreeError) Error() string {
	return fmt.Sprintf("invalid layer tree at LayerRscId=%d: %s", e.ID, e.Reason)
}

func (e *TreeError) Unwrap() error { return ErrInvalidTree }

// LayerStack is the layer tree of one resource or snapshot. Objects are
// kept in an arena keyed by layer resource id; edges are ids, never
// pointers.
type LayerStack struct {
	nodes map[int]LayerObject
	// children are derived from each node's ParentID
	children map[int][]int
}

// NewLayerStack creates an empty layer stack
func NewLayerStack() *LayerStack {
	return &LayerStack{
		nodes:    make(map[int]LayerObject),
		children: make(map[int][]int),
	}
}

// Add inserts obj into the stack. The parent, if any, need not be added yet.
func (s *LayerStack) Add(obj LayerObject) error {
	b := obj.Base()
	if _, exists := s.nodes[b.ID]; exists {
		return &TreeError{ID: b.ID, Reason: "duplicate layer resource id"}
	}
	s.nodes[b.ID] = obj
	if b.ParentID != nil {
		s.children[*b.ParentID] = append(s.children[*b.ParentID], b.ID)
	}
	return nil
}

// Remove deletes the object with the given id. Children keep their parent id.
func (s *LayerStack) Remove(id int) {
	obj, ok := s.nodes[id]
	if !ok {
		return
	}
	if p := obj.Base().ParentID; p != nil {
		s.children[*p] = removeID(s.children[*p], id)
		if len(s.children[*p]) == 0 {
			delete(s.children, *p)
		}
	}
	delete(s.nodes, id)
}

// SetParent moves the object with the given id under parent, or makes it a
// root when parent is nil
func (s *LayerStack) SetParent(id int, parent *int) error {
	obj, ok := s.nodes[id]
	if !ok {
		return &TreeError{ID: id, Reason: "unknown layer resource id"}
	}
	b := obj.Base()
	if b.ParentID != nil {
		s.children[*b.ParentID] = removeID(s.children[*b.ParentID], id)
		if len(s.children[*b.ParentID]) == 0 {
			delete(s.children, *b.ParentID)
		}
	}
	if parent == nil {
		b.ParentID = nil
		return nil
	}
	p := *parent
	b.ParentID = &p
	s.children[p] = append(s.children[p], id)
	return nil
}

// Get returns the object with the given id
func (s *LayerStack) Get(id int) (LayerObject, bool) {
	obj, ok := s.nodes[id]
	return obj, ok
}

// Len returns the number of layer objects in the stack
func (s *LayerStack) Len() int { return len(s.nodes) }

// IDs returns all layer resource ids in ascending order
func (s *LayerStack) IDs() []int {
	return sortedKeys(s.nodes)
}

// Root returns the only object without a parent. It does not validate the
// rest of the tree.
func (s *LayerStack) Root() (LayerObject, bool) {
	var root LayerObject
	for _, id := range s.IDs() {
		obj := s.nodes[id]
		if obj.Base().ParentID == nil {
			if root != nil {
				return nil, false
			}
			root = obj
		}
	}
	return root, root != nil
}

// Parent returns the parent of the object with the given id
func (s *LayerStack) Parent(id int) (LayerObject, bool) {
	obj, ok := s.nodes[id]
	if !ok || obj.Base().ParentID == nil {
		return nil, false
	}
	return s.Get(*obj.Base().ParentID)
}

// Children returns the child ids of the object with the given id in
// ascending order
func (s *LayerStack) Children(id int) []int {
	return sortedIDs(s.children[id])
}

// Walk visits every object reachable from the root in pre-order, children
// in ascending id order. Returning an error from fn stops the walk.
func (s *LayerStack) Walk(fn func(obj LayerObject, depth int) error) error {
	root, ok := s.Root()
	if !ok {
		return nil
	}
	visited := make(map[int]bool, len(s.nodes))
	var visit func(obj LayerObject, depth int) error
	visit = func(obj LayerObject, depth int) error {
		id := obj.Base().ID
		if visited[id] {
			return &TreeError{ID: id, Reason: "cycle in parent chain"}
		}
		visited[id] = true
		if err := fn(obj, depth); err != nil {
			return err
		}
		for _, cid := range s.Children(id) {
			if err := visit(s.nodes[cid], depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(root, 0)
}

// BottomUp returns every object ordered so that children come before
// their parents
func (s *LayerStack) BottomUp() []LayerObject {
	var order []LayerObject
	_ = s.Walk(func(obj LayerObject, _ int) error {
		order = append(order, obj)
		return nil
	})
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// Validate checks that the stack forms a single tree: exactly one root,
// every parent present, no cycles and every object reachable from the root
func (s *LayerStack) Validate() error {
	if len(s.nodes) == 0 {
		return nil
	}
	var roots []int
	for _, id := range s.IDs() {
		b := s.nodes[id].Base()
		if b.ParentID == nil {
			roots = append(roots, id)
			continue
		}
		if *b.ParentID == id {
			return &TreeError{ID: id, Reason: "object is its own parent"}
		}
		if _, ok := s.nodes[*b.ParentID]; !ok {
			return &TreeError{ID: id, Reason: fmt.Sprintf("parent LayerRscId=%d does not exist", *b.ParentID)}
		}
	}
	switch len(roots) {
	case 0:
		// every object has a parent, so the parent chains must loop
		return &TreeError{ID: s.IDs()[0], Reason: "no root, cycle in parent chain"}
	case 1:
	default:
		return &TreeError{ID: roots[1], Reason: fmt.Sprintf("second root next to LayerRscId=%d", roots[0])}
	}

	seen := 0
	if err := s.Walk(func(LayerObject, int) error {
		seen++
		return nil
	}); err != nil {
		return err
	}
	if seen != len(s.nodes) {
		for _, id := range s.IDs() {
			if !s.reachable(id, roots[0]) {
				return &TreeError{ID: id, Reason: "not reachable from root, cycle in parent chain"}
			}
		}
	}
	return nil
}

func (s *LayerStack) reachable(id, root int) bool {
	steps := 0
	for cur := id; ; {
		if cur == root {
			return true
		}
		if steps > len(s.nodes) {
			return false
		}
		p := s.nodes[cur].Base().ParentID
		if p == nil {
			return false
		}
		cur = *p
		steps++
	}
}

func removeID(ids []int, id int) []int {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
