package types

import (
	"fmt"
	"sort"
)

// NodeType defines the role of a node in the cluster
type NodeType string

const (
	NodeTypeController NodeType = "CONTROLLER"
	NodeTypeSatellite  NodeType = "SATELLITE"
	NodeTypeCombined   NodeType = "COMBINED"
	NodeTypeAuxiliary  NodeType = "AUXILIARY"
)

// Valid reports whether t is a known node type
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeController, NodeTypeSatellite, NodeTypeCombined, NodeTypeAuxiliary:
		return true
	}
	return false
}

// Node represents a controller or satellite node
type Node struct {
	Name  string
	Type  NodeType
	Flags int64
}

// ProviderKind identifies the physical storage provider behind a storage pool
type ProviderKind string

const (
	ProviderDiskless       ProviderKind = "DISKLESS"
	ProviderLVM            ProviderKind = "LVM"
	ProviderLVMThin        ProviderKind = "LVM_THIN"
	ProviderZFS            ProviderKind = "ZFS"
	ProviderZFSThin        ProviderKind = "ZFS_THIN"
	ProviderFile           ProviderKind = "FILE"
	ProviderFileThin       ProviderKind = "FILE_THIN"
	ProviderSPDK           ProviderKind = "SPDK"
	ProviderRemoteSPDK     ProviderKind = "REMOTE_SPDK"
	ProviderOpenflexTarget ProviderKind = "OPENFLEX_TARGET"
	ProviderExos           ProviderKind = "EXOS"
	ProviderEBSInit        ProviderKind = "EBS_INIT"
	ProviderEBSTarget      ProviderKind = "EBS_TARGET"
	ProviderStorageSpaces  ProviderKind = "STORAGE_SPACES"
)

var providerKinds = map[ProviderKind]struct{}{
	ProviderDiskless:       {},
	ProviderLVM:            {},
	ProviderLVMThin:        {},
	ProviderZFS:            {},
	ProviderZFSThin:        {},
	ProviderFile:           {},
	ProviderFileThin:       {},
	ProviderSPDK:           {},
	ProviderRemoteSPDK:     {},
	ProviderOpenflexTarget: {},
	ProviderExos:           {},
	ProviderEBSInit:        {},
	ProviderEBSTarget:      {},
	ProviderStorageSpaces:  {},
}

// ParseProviderKind converts a stored provider kind name into a ProviderKind
func ParseProviderKind(s string) (ProviderKind, error) {
	k := ProviderKind(s)
	if _, ok := providerKinds[k]; !ok {
		return "", &InvalidNameError{What: "provider kind", Name: s}
	}
	return k, nil
}

// StoragePoolKey is the composite (node, pool) key of a storage pool
type StoragePoolKey struct {
	NodeName string
	PoolName string
}

func (k StoragePoolKey) String() string {
	return fmt.Sprintf("%s/%s", k.NodeName, k.PoolName)
}

// StoragePool is a named, per-node allocation source for volumes.
// Pools sharing the same backing device share one FreeSpaceMgrName.
type StoragePool struct {
	NodeName         string
	Name             string
	ProviderKind     ProviderKind
	FreeSpaceMgrName string
}

// Key returns the composite key of the pool
func (sp *StoragePool) Key() StoragePoolKey {
	return StoragePoolKey{NodeName: sp.NodeName, PoolName: sp.Name}
}

// SharedSpaceName returns the free space manager name of the pool, falling
// back to the node-local default when none was configured
func (sp *StoragePool) SharedSpaceName() string {
	if sp.FreeSpaceMgrName != "" {
		return sp.FreeSpaceMgrName
	}
	return DefaultFreeSpaceMgrName(sp.NodeName, sp.Name)
}

// DefaultFreeSpaceMgrName builds the free space manager name of a non-shared pool
func DefaultFreeSpaceMgrName(nodeName, poolName string) string {
	return nodeName + ";" + poolName
}

// StoragePoolMap indexes already loaded storage pools by their composite key
type StoragePoolMap map[StoragePoolKey]*StoragePool

// NewStoragePoolMap builds a StoragePoolMap from a list of pools
func NewStoragePoolMap(pools ...*StoragePool) StoragePoolMap {
	m := make(StoragePoolMap, len(pools))
	for _, sp := range pools {
		m[sp.Key()] = sp
	}
	return m
}

// Lookup returns the pool stored under (nodeName, poolName)
func (m StoragePoolMap) Lookup(nodeName, poolName string) (*StoragePool, bool) {
	sp, ok := m[StoragePoolKey{NodeName: nodeName, PoolName: poolName}]
	return sp, ok
}

// AbsResource is implemented by *Resource and *Snapshot. Both own a layer
// stack built from the same layer resource id rows.
type AbsResource interface {
	GetNodeName() string
	GetResourceName() string
	// GetSnapshotName returns "" for a live resource
	GetSnapshotName() string
	IsSnapshot() bool
	GetAbsVolume(nr int) (AbsVolume, bool)
	VolumeNumbers() []int
	GetLayerStack() *LayerStack
	SetLayerStack(stack *LayerStack)
}

// AbsVolume is implemented by *Volume and *SnapshotVolume
type AbsVolume interface {
	GetVolumeNumber() int
	GetVolumeKey() VolumeKey
}

// VolumeKey identifies a logical volume of a resource or snapshot
type VolumeKey struct {
	NodeName     string
	ResourceName string
	SnapshotName string
	VolumeNumber int
}

func (k VolumeKey) String() string {
	if k.SnapshotName == "" {
		return fmt.Sprintf("%s/%s/%d", k.NodeName, k.ResourceName, k.VolumeNumber)
	}
	return fmt.Sprintf("%s/%s@%s/%d", k.NodeName, k.ResourceName, k.SnapshotName, k.VolumeNumber)
}

// Resource is a deployed resource on one node
type Resource struct {
	NodeName   string
	Name       string
	Flags      int64
	Volumes    map[int]*Volume
	LayerStack *LayerStack
}

// NewResource creates a resource without volumes
func NewResource(nodeName, name string) *Resource {
	return &Resource{
		NodeName: nodeName,
		Name:     name,
		Volumes:  make(map[int]*Volume),
	}
}

// AddVolume creates and registers the logical volume nr
func (r *Resource) AddVolume(nr int) *Volume {
	v := &Volume{NodeName: r.NodeName, ResourceName: r.Name, Number: nr}
	r.Volumes[nr] = v
	return v
}

func (r *Resource) GetNodeName() string     { return r.NodeName }
func (r *Resource) GetResourceName() string { return r.Name }
func (r *Resource) GetSnapshotName() string { return "" }
func (r *Resource) IsSnapshot() bool        { return false }

func (r *Resource) GetAbsVolume(nr int) (AbsVolume, bool) {
	v, ok := r.Volumes[nr]
	if !ok {
		return nil, false
	}
	return v, true
}

func (r *Resource) VolumeNumbers() []int {
	return sortedKeys(r.Volumes)
}

func (r *Resource) GetLayerStack() *LayerStack      { return r.LayerStack }
func (r *Resource) SetLayerStack(stack *LayerStack) { r.LayerStack = stack }

// Volume is a logical volume of a resource
type Volume struct {
	NodeName     string
	ResourceName string
	Number       int
	Flags        int64
}

func (v *Volume) GetVolumeNumber() int { return v.Number }

func (v *Volume) GetVolumeKey() VolumeKey {
	return VolumeKey{NodeName: v.NodeName, ResourceName: v.ResourceName, VolumeNumber: v.Number}
}

// Snapshot is a point-in-time copy of a resource on one node
type Snapshot struct {
	NodeName     string
	ResourceName string
	Name         string
	Flags        int64
	Volumes      map[int]*SnapshotVolume
	LayerStack   *LayerStack
}

// NewSnapshot creates a snapshot without volumes
func NewSnapshot(nodeName, rscName, snapName string) *Snapshot {
	return &Snapshot{
		NodeName:     nodeName,
		ResourceName: rscName,
		Name:         snapName,
		Volumes:      make(map[int]*SnapshotVolume),
	}
}

// AddVolume creates and registers the snapshot volume nr
func (s *Snapshot) AddVolume(nr int) *SnapshotVolume {
	v := &SnapshotVolume{NodeName: s.NodeName, ResourceName: s.ResourceName, SnapshotName: s.Name, Number: nr}
	s.Volumes[nr] = v
	return v
}

func (s *Snapshot) GetNodeName() string     { return s.NodeName }
func (s *Snapshot) GetResourceName() string { return s.ResourceName }
func (s *Snapshot) GetSnapshotName() string { return s.Name }
func (s *Snapshot) IsSnapshot() bool        { return true }

func (s *Snapshot) GetAbsVolume(nr int) (AbsVolume, bool) {
	v, ok := s.Volumes[nr]
	if !ok {
		return nil, false
	}
	return v, true
}

func (s *Snapshot) VolumeNumbers() []int {
	return sortedKeys(s.Volumes)
}

func (s *Snapshot) GetLayerStack() *LayerStack      { return s.LayerStack }
func (s *Snapshot) SetLayerStack(stack *LayerStack) { s.LayerStack = stack }

// SnapshotVolume is a logical volume of a snapshot
type SnapshotVolume struct {
	NodeName     string
	ResourceName string
	SnapshotName string
	Number       int
}

func (v *SnapshotVolume) GetVolumeNumber() int { return v.Number }

func (v *SnapshotVolume) GetVolumeKey() VolumeKey {
	return VolumeKey{
		NodeName:     v.NodeName,
		ResourceName: v.ResourceName,
		SnapshotName: v.SnapshotName,
		VolumeNumber: v.Number,
	}
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
