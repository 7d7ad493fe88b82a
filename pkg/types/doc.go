/*
Package types defines the domain model shared by every layerstore package.

The model covers the entities a layered resource is built from: nodes,
storage pools, resources and snapshots with their volumes, and the layer
stack that sits between a volume and its physical storage.

# Layer Stacks

A layer stack is a tree of layer objects. Each object has a kind (DRBD,
LUKS, CACHE, BCACHE, WRITECACHE, NVME, OPENFLEX, STORAGE), a numeric
layer resource id, a resource name suffix and an optional parent id:

	DRBD (id 10, parent -)
	  └── LUKS (id 11, parent 10)
	        └── STORAGE (id 12, parent 11)

	DRBD (id 20, parent -)
	  ├── STORAGE (id 21, parent 20, suffix "")
	  └── STORAGE (id 22, parent 20, suffix ".meta")

The tree is stored in a LayerStack arena keyed by layer resource id.
Edges are ids, never pointers, so the whole stack can be checked with
Validate: exactly one root, every parent present, no cycles.

Every layer object carries one layer volume per logical volume of its
owner. Layer volumes reference storage pools through the composite
StoragePoolKey (node name, pool name) and are resolved against a
StoragePoolMap during reconstruction.

# Resources and Snapshots

Resource and Snapshot both implement AbsResource. A snapshot shares the
layer stack shape of its resource but is a distinct owner, so persisted
rows carry the snapshot name as discriminator. Code that branches on the
owner kind uses IsSnapshot.

# Names

Node, resource, snapshot and pool names are validated with ValidateName;
volume numbers with ValidateVolumeNumber. Failures return
*InvalidNameError or *ValueOutOfRangeError so callers can attach their
own context.
*/
package types
