/*
Package storage provides the record set abstraction over the three
supported backends.

Every backend holds the same logical tables (see AllTables). A table is a
list of typed columns with a composite primary key. Callers read and write
Records, maps from column name to value, through a Tx:

	┌───────────────────────────────────────────────┐
	│                   storage.Tx                  │
	│   FetchAll · FetchByKey · Upsert · Delete     │
	└──────┬─────────────────┬─────────────────┬────┘
	       │                 │                 │
	┌──────▼──────┐  ┌───────▼──────┐  ┌───────▼──────┐
	│ SQLBackend  │  │ BoltBackend  │  │  CRDBackend  │
	│  sqlite3    │  │  bbolt keys  │  │ dynamic k8s  │
	└─────────────┘  └──────────────┘  └──────────────┘

# Backends

SQLBackend creates one SQL table per logical table and filters rows in
the database. Its transactions also implement Querier.

BoltBackend stores every column as its own key,

	/LINSTOR/LAYER_RESOURCE_IDS/12/LAYER_RESOURCE_KIND = STORAGE

and rebuilds rows by prefix scanning. All values are strings.

CRDBackend stores one cluster scoped custom resource per row. The object
name is the SHA-256 of the primary key and the columns live in
.spec as camelCase fields. Writes are staged and applied on Commit.

# Values

Records carry backend native values and no conversion to domain types
happens here; that is the job of package codec. Reading a NULL column
yields no map entry.

# Errors

Every backend failure is returned as *DatabaseError and matches
ErrDatabase. Nothing is retried: the caller rolls back the unit of work.
CorruptedStateError and ImplementationError complete the error taxonomy
and are raised by the packages that interpret records.
*/
package storage
