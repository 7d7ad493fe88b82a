package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket holding the key namespace
var bucketLayerstore = []byte("layerstore")

// BoltBackend implements Backend on a flat key-value namespace. Every
// column of a row is one key:
//
//	/<root>/<TABLE>/<pk1>:<pk2>/<COLUMN> = <value>
//
// All values are strings; a NULL column has no key.
type BoltBackend struct {
	db   *bolt.DB
	root string
}

// NewBoltBackend opens the bbolt file at path
func NewBoltBackend(path, root string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, NewDatabaseError(BackendKV, "open", "", fmt.Errorf("failed to open database: %w", err))
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketLayerstore); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketLayerstore, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, NewDatabaseError(BackendKV, "open", "", err)
	}

	return &BoltBackend{db: db, root: root}, nil
}

func (b *BoltBackend) Type() BackendType { return BackendKV }

// Begin starts a writable bbolt transaction. bbolt allows one writer at a
// time, so a second Begin blocks until the first transaction ends.
func (b *BoltBackend) Begin(_ context.Context) (Tx, error) {
	tx, err := b.db.Begin(true)
	if err != nil {
		return nil, NewDatabaseError(BackendKV, "begin", "", err)
	}
	return &boltTx{tx: tx, bucket: tx.Bucket(bucketLayerstore), root: b.root}, nil
}

// Close closes the database
func (b *BoltBackend) Close() error {
	return b.db.Close()
}

// DB exposes the underlying database for backup and migration tooling
func (b *BoltBackend) DB() *bolt.DB { return b.db }

type boltTx struct {
	tx     *bolt.Tx
	bucket *bolt.Bucket
	root   string
}

func (t *boltTx) Backend() BackendType { return BackendKV }

func (t *boltTx) tablePrefix(table *Table) string {
	return "/" + t.root + "/" + table.Name + "/"
}

func (t *boltTx) rowPrefix(table *Table, key Key) (string, error) {
	segs := make([]string, len(key))
	for i, v := range key {
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("key value %v is %T, want string", v, v)
		}
		segs[i] = s
	}
	return t.tablePrefix(table) + strings.Join(segs, ":") + "/", nil
}

func (t *boltTx) FetchAll(table *Table) ([]Record, error) {
	countOp(BackendKV, "fetch_all")
	prefix := []byte(t.tablePrefix(table))

	var recs []Record
	var current string
	var rec Record
	c := t.bucket.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		rest := string(k[len(prefix):])
		idx := strings.LastIndex(rest, "/")
		if idx < 0 {
			return nil, NewDatabaseError(BackendKV, "fetch_all", table.Name, fmt.Errorf("malformed key %q", k))
		}
		seg, column := rest[:idx], rest[idx+1:]
		if rec == nil || seg != current {
			rec = make(Record)
			recs = append(recs, rec)
			current = seg
		}
		rec[column] = string(v)
	}
	return recs, nil
}

func (t *boltTx) FetchByKey(table *Table, key Key) (Record, bool, error) {
	countOp(BackendKV, "fetch_by_key")
	if err := checkKey(table, key); err != nil {
		return nil, false, NewDatabaseError(BackendKV, "fetch_by_key", table.Name, err)
	}
	prefix, err := t.rowPrefix(table, key)
	if err != nil {
		return nil, false, NewDatabaseError(BackendKV, "fetch_by_key", table.Name, err)
	}

	rec := make(Record)
	p := []byte(prefix)
	c := t.bucket.Cursor()
	for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
		rec[string(k[len(p):])] = string(v)
	}
	if len(rec) == 0 {
		return nil, false, nil
	}
	return rec, true, nil
}

func (t *boltTx) Upsert(table *Table, rec Record) error {
	countOp(BackendKV, "upsert")
	key, err := pkValues(table, rec)
	if err != nil {
		return NewDatabaseError(BackendKV, "upsert", table.Name, err)
	}
	prefix, err := t.rowPrefix(table, key)
	if err != nil {
		return NewDatabaseError(BackendKV, "upsert", table.Name, err)
	}

	for _, c := range table.Columns {
		k := []byte(prefix + c.Name)
		v, ok := rec[c.Name]
		if !ok || v == nil {
			if err := t.bucket.Delete(k); err != nil {
				return NewDatabaseError(BackendKV, "upsert", table.Name, err)
			}
			continue
		}
		s, isString := v.(string)
		if !isString {
			return NewDatabaseError(BackendKV, "upsert", table.Name,
				fmt.Errorf("column %s: value %v is %T, want string", c.Name, v, v))
		}
		if err := t.bucket.Put(k, []byte(s)); err != nil {
			return NewDatabaseError(BackendKV, "upsert", table.Name, err)
		}
	}
	return nil
}

func (t *boltTx) Delete(table *Table, key Key) error {
	countOp(BackendKV, "delete")
	if err := checkKey(table, key); err != nil {
		return NewDatabaseError(BackendKV, "delete", table.Name, err)
	}
	prefix, err := t.rowPrefix(table, key)
	if err != nil {
		return NewDatabaseError(BackendKV, "delete", table.Name, err)
	}

	p := []byte(prefix)
	var keys [][]byte
	c := t.bucket.Cursor()
	for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := t.bucket.Delete(k); err != nil {
			return NewDatabaseError(BackendKV, "delete", table.Name, err)
		}
	}
	return nil
}

func (t *boltTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return NewDatabaseError(BackendKV, "commit", "", err)
	}
	return nil
}

func (t *boltTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != bolt.ErrTxClosed {
		return NewDatabaseError(BackendKV, "rollback", "", err)
	}
	return nil
}
