/*
Package codec converts between storage records and flat entity specs.

Each table has one Codec instance (Nodes, LayerRscIDs, DrbdVlms, ...)
describing how the fields of its spec struct map to columns. Encoding and
decoding go through two steps:

	spec field ──neutral value──▶ column conversion ──native value──▶ Record

The column conversion is the default for the column type and backend
(strings everywhere for the key-value store, base64 for blobs outside
SQL) unless the quirk table in quirks.go declares an override for that
table, column and backend. Overrides exist where persisted data has a
historical shape:

  - LAYER_DRBD_RESOURCES.PEER_SLOTS holds a 16 bit value in a wider
    column; it is range checked on read instead of reinterpreted.
  - LAYER_DRBD_VOLUMES.NODE_NAME and POOL_NAME store ":null" in the
    key-value store when the volume uses internal metadata.
  - SNAPSHOT_NAME stores "" for a live resource in every backend.
  - LAYER_LUKS_VOLUMES.ENCRYPTED_PASSWORD is base64 text in every backend.

Decoding failures are returned as *FieldError. Specs are not validated
beyond their column types; the caller attaches layer context and turns
failures into corrupted state errors.
*/
package codec
