package codec

import (
	"github.com/cuemby/layerstore/pkg/storage"
)

// Spec structs hold raw decoded columns. Names and numbers are not
// validated here.

type NodeSpec struct {
	Name  string
	Type  string
	Flags int64
}

type StorPoolSpec struct {
	NodeName         string
	PoolName         string
	DriverName       string
	FreeSpaceMgrName string
}

type ResourceSpec struct {
	NodeName     string
	ResourceName string
	SnapshotName *string
	Flags        int64
}

type VolumeSpec struct {
	NodeName     string
	ResourceName string
	SnapshotName *string
	VlmNr        int64
	Flags        int64
}

// LayerRscIDSpec is one node of a layer tree
type LayerRscIDSpec struct {
	ID           int
	NodeName     string
	ResourceName string
	SnapshotName *string
	Kind         string
	ParentID     *int
	Suffix       string
	Suspended    *bool
}

// DrbdRscDfnSpec has nil port and secret for snapshots
type DrbdRscDfnSpec struct {
	ResourceName  string
	Suffix        string
	SnapshotName  *string
	PeerSlots     int16
	AlStripes     int
	AlStripeSize  int64
	TCPPort       *int
	TransportType string
	Secret        *string
}

type DrbdVlmDfnSpec struct {
	ResourceName string
	Suffix       string
	SnapshotName *string
	VlmNr        int64
	MinorNr      *int
}

type DrbdRscSpec struct {
	LayerRscID   int
	PeerSlots    int16
	AlStripes    int
	AlStripeSize int64
	Flags        int64
	NodeID       int
}

// DrbdVlmSpec has a nil pool for internal metadata
type DrbdVlmSpec struct {
	LayerRscID int
	VlmNr      int64
	NodeName   *string
	PoolName   *string
}

type LuksVlmSpec struct {
	LayerRscID        int
	VlmNr             int64
	EncryptedPassword []byte
}

type CacheVlmSpec struct {
	LayerRscID    int
	VlmNr         int64
	NodeName      string
	PoolNameCache *string
	PoolNameMeta  *string
}

type BCacheVlmSpec struct {
	LayerRscID int
	VlmNr      int64
	NodeName   string
	PoolName   *string
	DevUUID    *string
}

type WritecacheVlmSpec struct {
	LayerRscID int
	VlmNr      int64
	NodeName   string
	PoolName   *string
}

type OpenflexVlmSpec struct {
	LayerRscID int
	VlmNr      int64
	NodeName   string
	PoolName   string
}

type StorageVlmSpec struct {
	LayerRscID   int
	VlmNr        int64
	ProviderKind string
	NodeName     string
	StorPoolName string
}

var Nodes = &Codec[NodeSpec]{
	Table: storage.Nodes,
	encode: func(b *RowBuilder, s *NodeSpec) {
		b.Set(storage.ColNodeName, s.Name).
			Set(storage.ColNodeType, s.Type).
			Set(storage.ColNodeFlags, s.Flags)
	},
	decode: func(r *Row) NodeSpec {
		return NodeSpec{
			Name:  r.String(storage.ColNodeName),
			Type:  r.String(storage.ColNodeType),
			Flags: r.Int64(storage.ColNodeFlags),
		}
	},
	key: func(s *NodeSpec) []any { return []any{s.Name} },
}

var StorPools = &Codec[StorPoolSpec]{
	Table: storage.StorPools,
	encode: func(b *RowBuilder, s *StorPoolSpec) {
		b.Set(storage.ColNodeName, s.NodeName).
			Set(storage.ColPoolName, s.PoolName).
			Set(storage.ColDriverName, s.DriverName).
			Set(storage.ColFreeSpaceMgrName, s.FreeSpaceMgrName)
	},
	decode: func(r *Row) StorPoolSpec {
		return StorPoolSpec{
			NodeName:         r.String(storage.ColNodeName),
			PoolName:         r.String(storage.ColPoolName),
			DriverName:       r.String(storage.ColDriverName),
			FreeSpaceMgrName: r.String(storage.ColFreeSpaceMgrName),
		}
	},
	key: func(s *StorPoolSpec) []any { return []any{s.NodeName, s.PoolName} },
}

var Resources = &Codec[ResourceSpec]{
	Table: storage.Resources,
	encode: func(b *RowBuilder, s *ResourceSpec) {
		b.Set(storage.ColNodeName, s.NodeName).
			Set(storage.ColResourceName, s.ResourceName).
			Set(storage.ColSnapshotName, s.SnapshotName).
			Set(storage.ColResourceFlags, s.Flags)
	},
	decode: func(r *Row) ResourceSpec {
		return ResourceSpec{
			NodeName:     r.String(storage.ColNodeName),
			ResourceName: r.String(storage.ColResourceName),
			SnapshotName: r.OptString(storage.ColSnapshotName),
			Flags:        r.Int64(storage.ColResourceFlags),
		}
	},
	key: func(s *ResourceSpec) []any { return []any{s.NodeName, s.ResourceName, s.SnapshotName} },
}

var Volumes = &Codec[VolumeSpec]{
	Table: storage.Volumes,
	encode: func(b *RowBuilder, s *VolumeSpec) {
		b.Set(storage.ColNodeName, s.NodeName).
			Set(storage.ColResourceName, s.ResourceName).
			Set(storage.ColSnapshotName, s.SnapshotName).
			Set(storage.ColVlmNr, s.VlmNr).
			Set(storage.ColVlmFlags, s.Flags)
	},
	decode: func(r *Row) VolumeSpec {
		return VolumeSpec{
			NodeName:     r.String(storage.ColNodeName),
			ResourceName: r.String(storage.ColResourceName),
			SnapshotName: r.OptString(storage.ColSnapshotName),
			VlmNr:        r.Int64(storage.ColVlmNr),
			Flags:        r.Int64(storage.ColVlmFlags),
		}
	},
	key: func(s *VolumeSpec) []any { return []any{s.NodeName, s.ResourceName, s.SnapshotName, s.VlmNr} },
}

var LayerRscIDs = &Codec[LayerRscIDSpec]{
	Table: storage.LayerResourceIDs,
	encode: func(b *RowBuilder, s *LayerRscIDSpec) {
		b.Set(storage.ColLayerResourceID, s.ID).
			Set(storage.ColNodeName, s.NodeName).
			Set(storage.ColResourceName, s.ResourceName).
			Set(storage.ColSnapshotName, s.SnapshotName).
			Set(storage.ColLayerKind, s.Kind).
			Set(storage.ColLayerParentID, s.ParentID).
			Set(storage.ColLayerSuffix, s.Suffix).
			Set(storage.ColLayerSuspended, s.Suspended)
	},
	decode: func(r *Row) LayerRscIDSpec {
		return LayerRscIDSpec{
			ID:           r.Int(storage.ColLayerResourceID),
			NodeName:     r.String(storage.ColNodeName),
			ResourceName: r.String(storage.ColResourceName),
			SnapshotName: r.OptString(storage.ColSnapshotName),
			Kind:         r.String(storage.ColLayerKind),
			ParentID:     r.OptInt(storage.ColLayerParentID),
			Suffix:       r.String(storage.ColLayerSuffix),
			Suspended:    r.OptBool(storage.ColLayerSuspended),
		}
	},
	key: func(s *LayerRscIDSpec) []any { return []any{s.ID} },
}

var DrbdRscDfns = &Codec[DrbdRscDfnSpec]{
	Table: storage.LayerDrbdResourceDefinitions,
	encode: func(b *RowBuilder, s *DrbdRscDfnSpec) {
		b.Set(storage.ColResourceName, s.ResourceName).
			Set(storage.ColRscNameSuffix, s.Suffix).
			Set(storage.ColSnapshotName, s.SnapshotName).
			Set(storage.ColPeerSlots, s.PeerSlots).
			Set(storage.ColAlStripes, s.AlStripes).
			Set(storage.ColAlStripeSize, s.AlStripeSize).
			Set(storage.ColTCPPort, s.TCPPort).
			Set(storage.ColTransportType, s.TransportType).
			Set(storage.ColSecret, s.Secret)
	},
	decode: func(r *Row) DrbdRscDfnSpec {
		return DrbdRscDfnSpec{
			ResourceName:  r.String(storage.ColResourceName),
			Suffix:        r.String(storage.ColRscNameSuffix),
			SnapshotName:  r.OptString(storage.ColSnapshotName),
			PeerSlots:     r.Int16(storage.ColPeerSlots),
			AlStripes:     r.Int(storage.ColAlStripes),
			AlStripeSize:  r.Int64(storage.ColAlStripeSize),
			TCPPort:       r.OptInt(storage.ColTCPPort),
			TransportType: r.String(storage.ColTransportType),
			Secret:        r.OptString(storage.ColSecret),
		}
	},
	key: func(s *DrbdRscDfnSpec) []any { return []any{s.ResourceName, s.Suffix, s.SnapshotName} },
}

var DrbdVlmDfns = &Codec[DrbdVlmDfnSpec]{
	Table: storage.LayerDrbdVolumeDefinitions,
	encode: func(b *RowBuilder, s *DrbdVlmDfnSpec) {
		b.Set(storage.ColResourceName, s.ResourceName).
			Set(storage.ColRscNameSuffix, s.Suffix).
			Set(storage.ColSnapshotName, s.SnapshotName).
			Set(storage.ColVlmNr, s.VlmNr).
			Set(storage.ColVlmMinorNr, s.MinorNr)
	},
	decode: func(r *Row) DrbdVlmDfnSpec {
		return DrbdVlmDfnSpec{
			ResourceName: r.String(storage.ColResourceName),
			Suffix:       r.String(storage.ColRscNameSuffix),
			SnapshotName: r.OptString(storage.ColSnapshotName),
			VlmNr:        r.Int64(storage.ColVlmNr),
			MinorNr:      r.OptInt(storage.ColVlmMinorNr),
		}
	},
	key: func(s *DrbdVlmDfnSpec) []any { return []any{s.ResourceName, s.Suffix, s.SnapshotName, s.VlmNr} },
}

var DrbdRscs = &Codec[DrbdRscSpec]{
	Table: storage.LayerDrbdResources,
	encode: func(b *RowBuilder, s *DrbdRscSpec) {
		b.Set(storage.ColLayerResourceID, s.LayerRscID).
			Set(storage.ColPeerSlots, s.PeerSlots).
			Set(storage.ColAlStripes, s.AlStripes).
			Set(storage.ColAlStripeSize, s.AlStripeSize).
			Set(storage.ColFlags, s.Flags).
			Set(storage.ColNodeID, s.NodeID)
	},
	decode: func(r *Row) DrbdRscSpec {
		return DrbdRscSpec{
			LayerRscID:   r.Int(storage.ColLayerResourceID),
			PeerSlots:    r.Int16(storage.ColPeerSlots),
			AlStripes:    r.Int(storage.ColAlStripes),
			AlStripeSize: r.Int64(storage.ColAlStripeSize),
			Flags:        r.Int64(storage.ColFlags),
			NodeID:       r.Int(storage.ColNodeID),
		}
	},
	key: func(s *DrbdRscSpec) []any { return []any{s.LayerRscID} },
}

var DrbdVlms = &Codec[DrbdVlmSpec]{
	Table: storage.LayerDrbdVolumes,
	encode: func(b *RowBuilder, s *DrbdVlmSpec) {
		b.Set(storage.ColLayerResourceID, s.LayerRscID).
			Set(storage.ColVlmNr, s.VlmNr).
			Set(storage.ColNodeName, s.NodeName).
			Set(storage.ColPoolName, s.PoolName)
	},
	decode: func(r *Row) DrbdVlmSpec {
		return DrbdVlmSpec{
			LayerRscID: r.Int(storage.ColLayerResourceID),
			VlmNr:      r.Int64(storage.ColVlmNr),
			NodeName:   r.OptString(storage.ColNodeName),
			PoolName:   r.OptString(storage.ColPoolName),
		}
	},
	key: func(s *DrbdVlmSpec) []any { return []any{s.LayerRscID, s.VlmNr} },
}

var LuksVlms = &Codec[LuksVlmSpec]{
	Table: storage.LayerLuksVolumes,
	encode: func(b *RowBuilder, s *LuksVlmSpec) {
		b.Set(storage.ColLayerResourceID, s.LayerRscID).
			Set(storage.ColVlmNr, s.VlmNr).
			Set(storage.ColEncryptedPasswd, s.EncryptedPassword)
	},
	decode: func(r *Row) LuksVlmSpec {
		return LuksVlmSpec{
			LayerRscID:        r.Int(storage.ColLayerResourceID),
			VlmNr:             r.Int64(storage.ColVlmNr),
			EncryptedPassword: r.Bytes(storage.ColEncryptedPasswd),
		}
	},
	key: func(s *LuksVlmSpec) []any { return []any{s.LayerRscID, s.VlmNr} },
}

var CacheVlms = &Codec[CacheVlmSpec]{
	Table: storage.LayerCacheVolumes,
	encode: func(b *RowBuilder, s *CacheVlmSpec) {
		b.Set(storage.ColLayerResourceID, s.LayerRscID).
			Set(storage.ColVlmNr, s.VlmNr).
			Set(storage.ColNodeName, s.NodeName).
			Set(storage.ColPoolNameCache, s.PoolNameCache).
			Set(storage.ColPoolNameMeta, s.PoolNameMeta)
	},
	decode: func(r *Row) CacheVlmSpec {
		return CacheVlmSpec{
			LayerRscID:    r.Int(storage.ColLayerResourceID),
			VlmNr:         r.Int64(storage.ColVlmNr),
			NodeName:      r.String(storage.ColNodeName),
			PoolNameCache: r.OptString(storage.ColPoolNameCache),
			PoolNameMeta:  r.OptString(storage.ColPoolNameMeta),
		}
	},
	key: func(s *CacheVlmSpec) []any { return []any{s.LayerRscID, s.VlmNr} },
}

var BCacheVlms = &Codec[BCacheVlmSpec]{
	Table: storage.LayerBCacheVolumes,
	encode: func(b *RowBuilder, s *BCacheVlmSpec) {
		b.Set(storage.ColLayerResourceID, s.LayerRscID).
			Set(storage.ColVlmNr, s.VlmNr).
			Set(storage.ColNodeName, s.NodeName).
			Set(storage.ColPoolName, s.PoolName).
			Set(storage.ColDevUUID, s.DevUUID)
	},
	decode: func(r *Row) BCacheVlmSpec {
		return BCacheVlmSpec{
			LayerRscID: r.Int(storage.ColLayerResourceID),
			VlmNr:      r.Int64(storage.ColVlmNr),
			NodeName:   r.String(storage.ColNodeName),
			PoolName:   r.OptString(storage.ColPoolName),
			DevUUID:    r.OptString(storage.ColDevUUID),
		}
	},
	key: func(s *BCacheVlmSpec) []any { return []any{s.LayerRscID, s.VlmNr} },
}

var WritecacheVlms = &Codec[WritecacheVlmSpec]{
	Table: storage.LayerWritecacheVolumes,
	encode: func(b *RowBuilder, s *WritecacheVlmSpec) {
		b.Set(storage.ColLayerResourceID, s.LayerRscID).
			Set(storage.ColVlmNr, s.VlmNr).
			Set(storage.ColNodeName, s.NodeName).
			Set(storage.ColPoolName, s.PoolName)
	},
	decode: func(r *Row) WritecacheVlmSpec {
		return WritecacheVlmSpec{
			LayerRscID: r.Int(storage.ColLayerResourceID),
			VlmNr:      r.Int64(storage.ColVlmNr),
			NodeName:   r.String(storage.ColNodeName),
			PoolName:   r.OptString(storage.ColPoolName),
		}
	},
	key: func(s *WritecacheVlmSpec) []any { return []any{s.LayerRscID, s.VlmNr} },
}

var OpenflexVlms = &Codec[OpenflexVlmSpec]{
	Table: storage.LayerOpenflexVolumes,
	encode: func(b *RowBuilder, s *OpenflexVlmSpec) {
		b.Set(storage.ColLayerResourceID, s.LayerRscID).
			Set(storage.ColVlmNr, s.VlmNr).
			Set(storage.ColNodeName, s.NodeName).
			Set(storage.ColPoolName, s.PoolName)
	},
	decode: func(r *Row) OpenflexVlmSpec {
		return OpenflexVlmSpec{
			LayerRscID: r.Int(storage.ColLayerResourceID),
			VlmNr:      r.Int64(storage.ColVlmNr),
			NodeName:   r.String(storage.ColNodeName),
			PoolName:   r.String(storage.ColPoolName),
		}
	},
	key: func(s *OpenflexVlmSpec) []any { return []any{s.LayerRscID, s.VlmNr} },
}

var StorageVlms = &Codec[StorageVlmSpec]{
	Table: storage.LayerStorageVolumes,
	encode: func(b *RowBuilder, s *StorageVlmSpec) {
		b.Set(storage.ColLayerResourceID, s.LayerRscID).
			Set(storage.ColVlmNr, s.VlmNr).
			Set(storage.ColProviderKind, s.ProviderKind).
			Set(storage.ColNodeName, s.NodeName).
			Set(storage.ColStorPoolName, s.StorPoolName)
	},
	decode: func(r *Row) StorageVlmSpec {
		return StorageVlmSpec{
			LayerRscID:   r.Int(storage.ColLayerResourceID),
			VlmNr:        r.Int64(storage.ColVlmNr),
			ProviderKind: r.String(storage.ColProviderKind),
			NodeName:     r.String(storage.ColNodeName),
			StorPoolName: r.String(storage.ColStorPoolName),
		}
	},
	key: func(s *StorageVlmSpec) []any { return []any{s.LayerRscID, s.VlmNr} },
}
