package types

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// LayerKind is the closed set of storage layer kinds a layer stack is built from
type LayerKind string

const (
	LayerKindDRBD       LayerKind = "DRBD"
	LayerKindLUKS       LayerKind = "LUKS"
	LayerKindCache      LayerKind = "CACHE"
	LayerKindBCache     LayerKind = "BCACHE"
	LayerKindWritecache LayerKind = "WRITECACHE"
	LayerKindNVMe       LayerKind = "NVME"
	LayerKindOpenflex   LayerKind = "OPENFLEX"
	LayerKindStorage    LayerKind = "STORAGE"
)

// AllLayerKinds lists every layer kind in dispatch order
var AllLayerKinds = []LayerKind{
	LayerKindDRBD,
	LayerKindLUKS,
	LayerKindCache,
	LayerKindBCache,
	LayerKindWritecache,
	LayerKindNVMe,
	LayerKindOpenflex,
	LayerKindStorage,
}

// ParseLayerKind converts a stored layer kind name into a LayerKind
func ParseLayerKind(s string) (LayerKind, error) {
	for _, k := range AllLayerKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", &InvalidNameError{What: "layer kind", Name: s}
}

// LayerObject is one node of a layer stack
type LayerObject interface {
	Base() *RscLayerBase
	VolumeNumbers() []int
	LayerVolume(nr int) (LayerVolume, bool)
}

// LayerVolume is the per-volume data of a layer object
type LayerVolume interface {
	VlmBase() *VlmLayerBase
}

// RscLayerBase holds the fields every layer object shares
type RscLayerBase struct {
	ID        int
	Kind      LayerKind
	Suffix    string
	ParentID  *int
	SuspendIO *bool
	Owner     AbsResource
}

func (b *RscLayerBase) Base() *RscLayerBase { return b }

// IOSuspended reports whether IO is suspended. An unset flag is false.
func (b *RscLayerBase) IOSuspended() bool { return b.SuspendIO != nil && *b.SuspendIO }

// SuffixedResourceName returns the resource name with the layer suffix appended
func (b *RscLayerBase) SuffixedResourceName() string {
	if b.Owner == nil {
		return b.Suffix
	}
	return b.Owner.GetResourceName() + b.Suffix
}

func (b *RscLayerBase) String() string {
	return fmt.Sprintf("(%s, LayerRscId=%d)", b.Kind, b.ID)
}

// IsRoot reports whether the object has no parent
func (b *RscLayerBase) IsRoot() bool { return b.ParentID == nil }

// VlmLayerBase holds the fields every layer volume shares
type VlmLayerBase struct {
	RscLayerID   int
	VolumeNumber int
	Volume       AbsVolume
	Owner        AbsResource
}

func (b *VlmLayerBase) VlmBase() *VlmLayerBase { return b }

// TransportType is the network transport of a replicated resource
type TransportType string

const (
	TransportIP   TransportType = "IP"
	TransportRDMA TransportType = "RDMA"
)

// ParseTransportType converts a stored transport name into a TransportType
func ParseTransportType(s string) (TransportType, error) {
	switch t := TransportType(s); t {
	case TransportIP, TransportRDMA:
		return t, nil
	}
	return "", &InvalidNameError{What: "transport type", Name: s}
}

// DrbdRscDfnData is the replication definition of a resource, shared by
// the replication layer of every node. Snapshot definitions have no port
// and no secret.
type DrbdRscDfnData struct {
	ResourceName  string
	Suffix        string
	SnapshotName  string
	PeerSlots     int16
	AlStripes     int
	AlStripeSize  int64
	TransportType TransportType
	TCPPort       *int
	Secret        *string
	Volumes       map[int]*DrbdVlmDfnData
}

// IsSnapshot reports whether d belongs to a snapshot
func (d *DrbdRscDfnData) IsSnapshot() bool { return d.SnapshotName != "" }

// VolumeNumbers returns the defined volume numbers in ascending order
func (d *DrbdRscDfnData) VolumeNumbers() []int { return sortedKeys(d.Volumes) }

// DrbdVlmDfnData is the replication definition of one volume. MinorNr is
// nil for snapshots.
type DrbdVlmDfnData struct {
	VolumeNumber int
	MinorNr      *int
}

// DrbdRscData is the replication layer of a resource
type DrbdRscData struct {
	RscLayerBase
	NodeID       int
	PeerSlots    int16
	AlStripes    int
	AlStripeSize int64
	Flags        int64
	Dfn          *DrbdRscDfnData
	Volumes      map[int]*DrbdVlmData
}

// DrbdVlmData is a replication layer volume. ExtMetaPool is nil for
// internal metadata.
type DrbdVlmData struct {
	VlmLayerBase
	ExtMetaPool *StoragePool
	Dfn         *DrbdVlmDfnData
}

// LuksRscData is the encryption layer of a resource
type LuksRscData struct {
	RscLayerBase
	Volumes map[int]*LuksVlmData
}

// LuksVlmData is an encryption layer volume
type LuksVlmData struct {
	VlmLayerBase
	EncryptedPassword []byte
}

// CacheRscData is the dm-cache layer of a resource
type CacheRscData struct {
	RscLayerBase
	Volumes map[int]*CacheVlmData
}

// CacheVlmData is a dm-cache layer volume
type CacheVlmData struct {
	VlmLayerBase
	CachePool *StoragePool
	MetaPool  *StoragePool
}

// BCacheRscData is the bcache layer of a resource
type BCacheRscData struct {
	RscLayerBase
	Volumes map[int]*BCacheVlmData
}

// BCacheVlmData is a bcache layer volume
type BCacheVlmData struct {
	VlmLayerBase
	CachePool  *StoragePool
	DeviceUUID *uuid.UUID
}

// WritecacheRscData is the dm-writecache layer of a resource
type WritecacheRscData struct {
	RscLayerBase
	Volumes map[int]*WritecacheVlmData
}

// WritecacheVlmData is a dm-writecache layer volume
type WritecacheVlmData struct {
	VlmLayerBase
	CachePool *StoragePool
}

// NvmeRscData is the NVMe-oF layer of a resource
type NvmeRscData struct {
	RscLayerBase
	Volumes map[int]*NvmeVlmData
}

// NvmeVlmData is an NVMe-oF layer volume. It has no persisted payload.
type NvmeVlmData struct {
	VlmLayerBase
}

// OpenflexRscData is the Openflex layer of a resource
type OpenflexRscData struct {
	RscLayerBase
	Volumes map[int]*OpenflexVlmData
}

// OpenflexVlmData is an Openflex layer volume
type OpenflexVlmData struct {
	VlmLayerBase
	Pool *StoragePool
}

// StorageRscData is the provider layer at the bottom of every stack
type StorageRscData struct {
	RscLayerBase
	Volumes map[int]*StorageVlmData
}

// StorageVlmData is a provider volume. AllocatedSize is reported by the
// satellite at runtime and is never persisted.
type StorageVlmData struct {
	VlmLayerBase
	ProviderKind  ProviderKind
	Pool          *StoragePool
	Suffix        string
	AllocatedSize int64
}

// GetVolumeKey identifies the provider volume across layer suffixes
func (v *StorageVlmData) GetVolumeKey() ProviderVolumeKey {
	var vk VolumeKey
	if v.Volume != nil {
		vk = v.Volume.GetVolumeKey()
	}
	return ProviderVolumeKey{VolumeKey: vk, Suffix: v.Suffix}
}

func (v *StorageVlmData) GetAllocatedSize() int64 { return v.AllocatedSize }

func (v *StorageVlmData) GetAbsResource() AbsResource { return v.Owner }

// ProviderVolumeKey identifies one provider volume
type ProviderVolumeKey struct {
	VolumeKey
	Suffix string
}

func (k ProviderVolumeKey) String() string {
	return k.VolumeKey.String() + k.Suffix
}

func (d *DrbdRscData) VolumeNumbers() []int { return sortedKeys(d.Volumes) }
func (d *DrbdRscData) LayerVolume(nr int) (LayerVolume, bool) { return layerVolume(d.Volumes, nr) }

func (d *LuksRscData) VolumeNumbers() []int { return sortedKeys(d.Volumes) }
func (d *LuksRscData) LayerVolume(nr int) (LayerVolume, bool) { return layerVolume(d.Volumes, nr) }

func (d *CacheRscData) VolumeNumbers() []int { return sortedKeys(d.Volumes) }
func (d *CacheRscData) LayerVolume(nr int) (LayerVolume, bool) { return layerVolume(d.Volumes, nr) }

func (d *BCacheRscData) VolumeNumbers() []int { return sortedKeys(d.Volumes) }
func (d *BCacheRscData) LayerVolume(nr int) (LayerVolume, bool) { return layerVolume(d.Volumes, nr) }

func (d *WritecacheRscData) VolumeNumbers() []int { return sortedKeys(d.Volumes) }
func (d *WritecacheRscData) LayerVolume(nr int) (LayerVolume, bool) { return layerVolume(d.Volumes, nr) }

func (d *NvmeRscData) VolumeNumbers() []int { return sortedKeys(d.Volumes) }
func (d *NvmeRscData) LayerVolume(nr int) (LayerVolume, bool) { return layerVolume(d.Volumes, nr) }

func (d *OpenflexRscData) VolumeNumbers() []int { return sortedKeys(d.Volumes) }
func (d *OpenflexRscData) LayerVolume(nr int) (LayerVolume, bool) { return layerVolume(d.Volumes, nr) }

func (d *StorageRscData) VolumeNumbers() []int { return sortedKeys(d.Volumes) }
func (d *StorageRscData) LayerVolume(nr int) (LayerVolume, bool) { return layerVolume(d.Volumes, nr) }

func layerVolume[V LayerVolume](m map[int]V, nr int) (LayerVolume, bool) {
	v, ok := m[nr]
	if !ok {
		return nil, false
	}
	return v, true
}

// sortedIDs returns a sorted copy of ids
func sortedIDs(ids []int) []int {
	out := append([]int(nil), ids...)
	sort.Ints(out)
	return out
}
