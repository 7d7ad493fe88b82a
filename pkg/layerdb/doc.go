/*
Package layerdb rebuilds layer stacks from the backend tables and writes
them back.

A layer stack is stored as flat rows: one LAYER_RESOURCE_IDS row per layer
object, linked to its parent by LAYER_RESOURCE_PARENT_ID, plus per-kind
rows keyed by (LAYER_RESOURCE_ID, VLM_NR):

	LAYER_RESOURCE_IDS                       per-kind tables
	┌────┬──────┬────────┬────────┐
	│ ID │ KIND │ PARENT │ SUFFIX │
	├────┼──────┼────────┼────────┤          LAYER_DRBD_RESOURCES (0)
	│  0 │ DRBD │  null  │        │ ──────▶  LAYER_DRBD_VOLUMES   (0, 0)
	│  1 │ LUKS │    0   │        │ ──────▶  LAYER_LUKS_VOLUMES   (1, 0)
	│  2 │ STOR │    1   │        │ ──────▶  LAYER_STORAGE_VOLUMES(2, 0)
	│  3 │ STOR │    0   │ .meta  │ ──────▶  LAYER_STORAGE_VOLUMES(3, 0)
	└────┴──────┴────────┴────────┘

# Loading

Registry.OpenLoadSession opens a LoadSession on a transaction. Backends
that cannot filter server side have all layer rows fetched once and
cached; the relational backend is queried per resource. The session must
be closed, and only one session per Registry may be open at a time.

Registry.LoadStack then rebuilds the stack of one resource or snapshot:

 1. fetch the id rows of the owner, scoped by its snapshot name
 2. require exactly one root and an existing parent for every other row
 3. walk from the root, dispatching every row to the Driver of its kind
 4. each driver reads its volume rows, resolving volumes against the
    owner and storage pools against the supplied StoragePoolMap
 5. reject rows not reachable from the root, then hand the stack to the
    owner

The replication driver also reads the definition of the resource from
LAYER_DRBD_RESOURCE_DEFINITIONS and LAYER_DRBD_VOLUME_DEFINITIONS, keyed by
resource name, suffix and snapshot name. It is built once per session and
shared by the replication layers of every node.

Any violation is a *storage.CorruptedStateError naming the table, the
layer resource id, the volume number and the offending value.

Loader.LoadAll runs a complete load: nodes, storage pools, resources and
snapshots, volumes and finally every layer stack. Loader.Check does the
same but collects failing stacks instead of stopping at the first.

# Writing

Registry.PersistStack writes parents before children and DeleteStack
removes children before parents. Persisting a replication layer upserts
its definition; deleting one leaves the definition to DeleteDrbdRscDfn.
A layer id keeps the kind it was first persisted with. ColumnDriver values such as
DrbdFlagsDriver or LayerSuspendIODriver rewrite a single field of an
already persisted row.

All calls take the transaction explicitly. Beginning, committing and
rolling back stay with the caller.

# Collecting

A Collector repeats Loader.Check on a ticker in its own read-only
transaction and publishes row counts, the number of unloadable stacks and
the "state" health component.
*/
package layerdb
