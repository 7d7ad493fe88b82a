// Package storagetest provides throwaway instances of every backend for tests.
package storagetest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/cuemby/layerstore/pkg/storage"
	"k8s.io/apimachinery/pkg/runtime"
	dynamicfake "k8s.io/client-go/dynamic/fake"
)

const (
	Group   = "internal.linstor.linbit.com"
	Version = "v1"
	KVRoot  = "LINSTOR"
)

var memCounter atomic.Int64

// NewSQL returns a sqlite backend on a private in-memory database
func NewSQL(t testing.TB) *storage.SQLBackend {
	t.Helper()
	dsn := fmt.Sprintf("file:layerstore%d?mode=memory&cache=shared", memCounter.Add(1))
	b, err := storage.NewSQLBackend(context.Background(), dsn)
	if err != nil {
		t.Fatalf("failed to open sql backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

// NewKV returns a bbolt backend in a temporary directory
func NewKV(t testing.TB) *storage.BoltBackend {
	t.Helper()
	b, err := storage.NewBoltBackend(filepath.Join(t.TempDir(), "layerstore.bolt"), KVRoot)
	if err != nil {
		t.Fatalf("failed to open kv backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

// NewCRD returns a custom resource backend on a fake dynamic client
func NewCRD(t testing.TB) *storage.CRDBackend {
	t.Helper()
	b, _ := NewCRDWithClient(t)
	return b
}

// NewCRDWithClient is NewCRD that also returns the fake client for
// inspecting stored objects
func NewCRDWithClient(t testing.TB) (*storage.CRDBackend, *dynamicfake.FakeDynamicClient) {
	t.Helper()
	client := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), storage.ListKinds(Group, Version))
	return storage.NewCRDBackend(client, Group, Version), client
}

// Each runs fn once per backend as a subtest
func Each(t *testing.T, fn func(t *testing.T, b storage.Backend)) {
	t.Helper()
	t.Run("sql", func(t *testing.T) { fn(t, NewSQL(t)) })
	t.Run("kv", func(t *testing.T) { fn(t, NewKV(t)) })
	t.Run("crd", func(t *testing.T) { fn(t, NewCRD(t)) })
}

// Begin opens a transaction on b that is rolled back when the test ends
func Begin(t testing.TB, b storage.Backend) storage.Tx {
	t.Helper()
	tx, err := b.Begin(context.Background())
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}
	t.Cleanup(func() { _ = tx.Rollback() })
	return tx
}
