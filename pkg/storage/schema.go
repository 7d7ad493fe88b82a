package storage

import "strings"

// ColumnType is the logical type of a column. Adapters map it to their own
// representation.
type ColumnType int

const (
	TypeString ColumnType = iota
	TypeInt
	TypeBigInt
	TypeBool
	TypeBlob
)

func (t ColumnType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeBigInt:
		return "bigint"
	case TypeBool:
		return "bool"
	case TypeBlob:
		return "blob"
	}
	return "unknown"
}

// Column describes one column of a logical table
type Column struct {
	Name     string
	Type     ColumnType
	PK       bool
	Nullable bool
}

// Table is a logical table shared by every backend
type Table struct {
	Name    string
	Columns []Column
}

// PKColumns returns the primary key columns in key order
func (t *Table) PKColumns() []Column {
	var pks []Column
	for _, c := range t.Columns {
		if c.PK {
			pks = append(pks, c)
		}
	}
	return pks
}

// Column returns the column with the given name
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// KeyOf extracts the primary key of rec
func (t *Table) KeyOf(rec Record) Key {
	pks := t.PKColumns()
	key := make(Key, len(pks))
	for i, c := range pks {
		key[i] = rec[c.Name]
	}
	return key
}

// ResourceName is the lowercase plural used for the table's custom resource
func (t *Table) ResourceName() string {
	return strings.ToLower(strings.ReplaceAll(t.Name, "_", ""))
}

// KindName is the custom resource kind of the table, e.g. LayerResourceIds
func (t *Table) KindName() string {
	var sb strings.Builder
	for _, part := range strings.Split(t.Name, "_") {
		if part == "" {
			continue
		}
		sb.WriteString(part[:1])
		sb.WriteString(strings.ToLower(part[1:]))
	}
	return sb.String()
}

// FieldName is the camelCase name of a column inside a custom resource spec
func FieldName(column string) string {
	parts := strings.Split(strings.ToLower(column), "_")
	var sb strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			sb.WriteString(p)
			continue
		}
		sb.WriteString(strings.ToUpper(p[:1]))
		sb.WriteString(p[1:])
	}
	return sb.String()
}

func pk(name string, t ColumnType) Column       { return Column{Name: name, Type: t, PK: true} }
func col(name string, t ColumnType) Column      { return Column{Name: name, Type: t} }
func nullable(name string, t ColumnType) Column { return Column{Name: name, Type: t, Nullable: true} }

// Column names shared across tables
const (
	ColNodeName         = "NODE_NAME"
	ColResourceName     = "RESOURCE_NAME"
	ColSnapshotName     = "SNAPSHOT_NAME"
	ColVlmNr            = "VLM_NR"
	ColLayerResourceID  = "LAYER_RESOURCE_ID"
	ColLayerKind        = "LAYER_RESOURCE_KIND"
	ColLayerParentID    = "LAYER_RESOURCE_PARENT_ID"
	ColLayerSuffix      = "LAYER_RESOURCE_SUFFIX"
	ColLayerSuspended   = "LAYER_RESOURCE_SUSPENDED"
	ColNodeType         = "NODE_TYPE"
	ColNodeFlags        = "NODE_FLAGS"
	ColPoolName         = "POOL_NAME"
	ColDriverName       = "DRIVER_NAME"
	ColFreeSpaceMgrName = "FREE_SPACE_MGR_NAME"
	ColResourceFlags    = "RESOURCE_FLAGS"
	ColVlmFlags         = "VLM_FLAGS"
	ColPeerSlots        = "PEER_SLOTS"
	ColAlStripes        = "AL_STRIPES"
	ColAlStripeSize     = "AL_STRIPE_SIZE"
	ColFlags            = "FLAGS"
	ColNodeID           = "NODE_ID"
	ColEncryptedPasswd  = "ENCRYPTED_PASSWORD"
	ColPoolNameCache    = "POOL_NAME_CACHE"
	ColPoolNameMeta     = "POOL_NAME_META"
	ColDevUUID          = "DEV_UUID"
	ColProviderKind     = "PROVIDER_KIND"
	ColStorPoolName     = "STOR_POOL_NAME"
	ColRscNameSuffix    = "RESOURCE_NAME_SUFFIX"
	ColTCPPort          = "TCP_PORT"
	ColTransportType    = "TRANSPORT_TYPE"
	ColSecret           = "SECRET"
	ColVlmMinorNr       = "VLM_MINOR_NR"
)

var (
	Nodes = &Table{Name: "NODES", Columns: []Column{
		pk(ColNodeName, TypeString),
		col(ColNodeType, TypeString),
		col(ColNodeFlags, TypeBigInt),
	}}

	StorPools = &Table{Name: "STOR_POOLS", Columns: []Column{
		pk(ColNodeName, TypeString),
		pk(ColPoolName, TypeString),
		col(ColDriverName, TypeString),
		col(ColFreeSpaceMgrName, TypeString),
	}}

	Resources = &Table{Name: "RESOURCES", Columns: []Column{
		pk(ColNodeName, TypeString),
		pk(ColResourceName, TypeString),
		pk(ColSnapshotName, TypeString),
		col(ColResourceFlags, TypeBigInt),
	}}

	Volumes = &Table{Name: "VOLUMES", Columns: []Column{
		pk(ColNodeName, TypeString),
		pk(ColResourceName, TypeString),
		pk(ColSnapshotName, TypeString),
		pk(ColVlmNr, TypeInt),
		col(ColVlmFlags, TypeBigInt),
	}}

	LayerResourceIDs = &Table{Name: "LAYER_RESOURCE_IDS", Columns: []Column{
		pk(ColLayerResourceID, TypeInt),
		col(ColNodeName, TypeString),
		col(ColResourceName, TypeString),
		col(ColSnapshotName, TypeString),
		col(ColLayerKind, TypeString),
		nullable(ColLayerParentID, TypeInt),
		col(ColLayerSuffix, TypeString),
		nullable(ColLayerSuspended, TypeBool),
	}}

	// PEER_SLOTS holds a 16 bit value in a 32 bit column
	LayerDrbdResources = &Table{Name: "LAYER_DRBD_RESOURCES", Columns: []Column{
		pk(ColLayerResourceID, TypeInt),
		col(ColPeerSlots, TypeInt),
		col(ColAlStripes, TypeInt),
		col(ColAlStripeSize, TypeBigInt),
		col(ColFlags, TypeBigInt),
		col(ColNodeID, TypeInt),
	}}

	// Definitions are keyed by resource, not by layer id. Snapshot
	// definitions leave port and secret empty.
	LayerDrbdResourceDefinitions = &Table{Name: "LAYER_DRBD_RESOURCE_DEFINITIONS", Columns: []Column{
		pk(ColResourceName, TypeString),
		pk(ColRscNameSuffix, TypeString),
		pk(ColSnapshotName, TypeString),
		col(ColPeerSlots, TypeInt),
		col(ColAlStripes, TypeInt),
		col(ColAlStripeSize, TypeBigInt),
		nullable(ColTCPPort, TypeInt),
		col(ColTransportType, TypeString),
		nullable(ColSecret, TypeString),
	}}

	LayerDrbdVolumeDefinitions = &Table{Name: "LAYER_DRBD_VOLUME_DEFINITIONS", Columns: []Column{
		pk(ColResourceName, TypeString),
		pk(ColRscNameSuffix, TypeString),
		pk(ColSnapshotName, TypeString),
		pk(ColVlmNr, TypeInt),
		nullable(ColVlmMinorNr, TypeInt),
	}}

	LayerDrbdVolumes = &Table{Name: "LAYER_DRBD_VOLUMES", Columns: []Column{
		pk(ColLayerResourceID, TypeInt),
		pk(ColVlmNr, TypeInt),
		nullable(ColNodeName, TypeString),
		nullable(ColPoolName, TypeString),
	}}

	LayerLuksVolumes = &Table{Name: "LAYER_LUKS_VOLUMES", Columns: []Column{
		pk(ColLayerResourceID, TypeInt),
		pk(ColVlmNr, TypeInt),
		col(ColEncryptedPasswd, TypeString),
	}}

	LayerCacheVolumes = &Table{Name: "LAYER_CACHE_VOLUMES", Columns: []Column{
		pk(ColLayerResourceID, TypeInt),
		pk(ColVlmNr, TypeInt),
		col(ColNodeName, TypeString),
		nullable(ColPoolNameCache, TypeString),
		nullable(ColPoolNameMeta, TypeString),
	}}

	LayerBCacheVolumes = &Table{Name: "LAYER_BCACHE_VOLUMES", Columns: []Column{
		pk(ColLayerResourceID, TypeInt),
		pk(ColVlmNr, TypeInt),
		col(ColNodeName, TypeString),
		nullable(ColPoolName, TypeString),
		nullable(ColDevUUID, TypeString),
	}}

	LayerWritecacheVolumes = &Table{Name: "LAYER_WRITECACHE_VOLUMES", Columns: []Column{
		pk(ColLayerResourceID, TypeInt),
		pk(ColVlmNr, TypeInt),
		col(ColNodeName, TypeString),
		nullable(ColPoolName, TypeString),
	}}

	LayerOpenflexVolumes = &Table{Name: "LAYER_OPENFLEX_VOLUMES", Columns: []Column{
		pk(ColLayerResourceID, TypeInt),
		pk(ColVlmNr, TypeInt),
		col(ColNodeName, TypeString),
		col(ColPoolName, TypeString),
	}}

	LayerStorageVolumes = &Table{Name: "LAYER_STORAGE_VOLUMES", Columns: []Column{
		pk(ColLayerResourceID, TypeInt),
		pk(ColVlmNr, TypeInt),
		col(ColProviderKind, TypeString),
		col(ColNodeName, TypeString),
		col(ColStorPoolName, TypeString),
	}}
)

// AllTables lists every table in dependency order
var AllTables = []*Table{
	Nodes,
	StorPools,
	Resources,
	Volumes,
	LayerResourceIDs,
	LayerDrbdResourceDefinitions,
	LayerDrbdVolumeDefinitions,
	LayerDrbdResources,
	LayerDrbdVolumes,
	LayerLuksVolumes,
	LayerCacheVolumes,
	LayerBCacheVolumes,
	LayerWritecacheVolumes,
	LayerOpenflexVolumes,
	LayerStorageVolumes,
}

// TableByName returns the table with the given name
func TableByName(name string) (*Table, bool) {
	for _, t := range AllTables {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}
