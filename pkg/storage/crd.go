package storage

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/tools/clientcmd"
)

// CRDBackend implements Backend on cluster scoped custom resources, one
// resource kind per table and one object per row. Columns live in .spec
// under their camelCase name; NULL columns are omitted.
//
// The API server has no multi-object transactions. Writes are staged in
// the transaction and applied in order on Commit; a failing Commit can
// leave earlier writes applied.
type CRDBackend struct {
	client  dynamic.Interface
	group   string
	version string
}

// NewCRDBackend creates a backend on an existing dynamic client
func NewCRDBackend(client dynamic.Interface, group, version string) *CRDBackend {
	return &CRDBackend{client: client, group: group, version: version}
}

// NewCRDBackendFromKubeconfig creates a backend from a kubeconfig file.
// An empty path selects the in-cluster configuration.
func NewCRDBackendFromKubeconfig(kubeconfig, group, version string) (*CRDBackend, error) {
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, NewDatabaseError(BackendCRD, "open", "", fmt.Errorf("failed to load kubeconfig: %w", err))
	}
	client, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, NewDatabaseError(BackendCRD, "open", "", fmt.Errorf("failed to create dynamic client: %w", err))
	}
	return NewCRDBackend(client, group, version), nil
}

// GVR returns the resource of table
func (b *CRDBackend) GVR(table *Table) schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: b.group, Version: b.version, Resource: table.ResourceName()}
}

// ListKinds maps every table resource to its list kind, as needed by
// dynamic fake clients
func ListKinds(group, version string) map[schema.GroupVersionResource]string {
	kinds := make(map[schema.GroupVersionResource]string, len(AllTables))
	for _, t := range AllTables {
		gvr := schema.GroupVersionResource{Group: group, Version: version, Resource: t.ResourceName()}
		kinds[gvr] = t.KindName() + "List"
	}
	return kinds
}

func (b *CRDBackend) Type() BackendType { return BackendCRD }

// Begin starts a staging transaction
func (b *CRDBackend) Begin(ctx context.Context) (Tx, error) {
	return &crdTx{ctx: ctx, backend: b, staged: make(map[string]*stagedWrite)}, nil
}

// Close releases nothing; the dynamic client has no connection to close
func (b *CRDBackend) Close() error { return nil }

type stagedWrite struct {
	table   *Table
	name    string
	rec     Record
	deleted bool
}

type crdTx struct {
	ctx     context.Context
	backend *CRDBackend
	staged  map[string]*stagedWrite
	order   []string
	done    bool
}

func (t *crdTx) Backend() BackendType { return BackendCRD }

// ObjectName derives the object name from a primary key. Keys are case
// sensitive like in the other backends.
func ObjectName(key Key) string {
	sum := sha256.Sum256([]byte(key.String()))
	return hex.EncodeToString(sum[:])
}

func stageKey(table *Table, name string) string { return table.Name + "/" + name }

func (t *crdTx) stage(w *stagedWrite) {
	k := stageKey(w.table, w.name)
	if _, exists := t.staged[k]; !exists {
		t.order = append(t.order, k)
	}
	t.staged[k] = w
}

func (t *crdTx) FetchAll(table *Table) ([]Record, error) {
	countOp(BackendCRD, "fetch_all")
	list, err := t.backend.client.Resource(t.backend.GVR(table)).List(t.ctx, metav1.ListOptions{})
	if err != nil {
		return nil, NewDatabaseError(BackendCRD, "fetch_all", table.Name, err)
	}

	byName := make(map[string]Record, len(list.Items))
	for i := range list.Items {
		obj := &list.Items[i]
		rec, err := fromObject(table, obj)
		if err != nil {
			return nil, NewDatabaseError(BackendCRD, "fetch_all", table.Name, err)
		}
		byName[obj.GetName()] = rec
	}
	for _, k := range t.order {
		w := t.staged[k]
		if w.table != table {
			continue
		}
		if w.deleted {
			delete(byName, w.name)
		} else {
			byName[w.name] = w.rec
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	recs := make([]Record, 0, len(names))
	for _, name := range names {
		recs = append(recs, byName[name])
	}
	return recs, nil
}

func (t *crdTx) FetchByKey(table *Table, key Key) (Record, bool, error) {
	countOp(BackendCRD, "fetch_by_key")
	if err := checkKey(table, key); err != nil {
		return nil, false, NewDatabaseError(BackendCRD, "fetch_by_key", table.Name, err)
	}
	name := ObjectName(key)
	if w, ok := t.staged[stageKey(table, name)]; ok {
		if w.deleted {
			return nil, false, nil
		}
		return w.rec, true, nil
	}

	obj, err := t.backend.client.Resource(t.backend.GVR(table)).Get(t.ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, NewDatabaseError(BackendCRD, "fetch_by_key", table.Name, err)
	}
	rec, err := fromObject(table, obj)
	if err != nil {
		return nil, false, NewDatabaseError(BackendCRD, "fetch_by_key", table.Name, err)
	}
	return rec, true, nil
}

func (t *crdTx) Upsert(table *Table, rec Record) error {
	countOp(BackendCRD, "upsert")
	if t.done {
		return NewDatabaseError(BackendCRD, "upsert", table.Name, fmt.Errorf("transaction already closed"))
	}
	key, err := pkValues(table, rec)
	if err != nil {
		return NewDatabaseError(BackendCRD, "upsert", table.Name, err)
	}
	clean := make(Record, len(rec))
	for _, c := range table.Columns {
		v, err := normalizeCRD(c, rec[c.Name])
		if err != nil {
			return NewDatabaseError(BackendCRD, "upsert", table.Name, err)
		}
		if v != nil {
			clean[c.Name] = v
		}
	}
	t.stage(&stagedWrite{table: table, name: ObjectName(key), rec: clean})
	return nil
}

func (t *crdTx) Delete(table *Table, key Key) error {
	countOp(BackendCRD, "delete")
	if t.done {
		return NewDatabaseError(BackendCRD, "delete", table.Name, fmt.Errorf("transaction already closed"))
	}
	if err := checkKey(table, key); err != nil {
		return NewDatabaseError(BackendCRD, "delete", table.Name, err)
	}
	t.stage(&stagedWrite{table: table, name: ObjectName(key), deleted: true})
	return nil
}

func (t *crdTx) Commit() error {
	if t.done {
		return NewDatabaseError(BackendCRD, "commit", "", fmt.Errorf("transaction already closed"))
	}
	t.done = true
	for _, k := range t.order {
		if err := t.apply(t.staged[k]); err != nil {
			return err
		}
	}
	return nil
}

func (t *crdTx) apply(w *stagedWrite) error {
	res := t.backend.client.Resource(t.backend.GVR(w.table))
	if w.deleted {
		err := res.Delete(t.ctx, w.name, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			return NewDatabaseError(BackendCRD, "delete", w.table.Name, err)
		}
		return nil
	}

	existing, err := res.Get(t.ctx, w.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		if _, err := res.Create(t.ctx, t.backend.toObject(w.table, w.name, w.rec), metav1.CreateOptions{}); err != nil {
			return NewDatabaseError(BackendCRD, "create", w.table.Name, err)
		}
		return nil
	}
	if err != nil {
		return NewDatabaseError(BackendCRD, "get", w.table.Name, err)
	}
	existing.Object["spec"] = toSpec(w.table, w.rec)
	if _, err := res.Update(t.ctx, existing, metav1.UpdateOptions{}); err != nil {
		return NewDatabaseError(BackendCRD, "update", w.table.Name, err)
	}
	return nil
}

func (t *crdTx) Rollback() error {
	t.done = true
	t.staged = nil
	t.order = nil
	return nil
}

func (b *CRDBackend) toObject(table *Table, name string, rec Record) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"spec": toSpec(table, rec),
	}}
	obj.SetAPIVersion(b.group + "/" + b.version)
	obj.SetKind(table.KindName())
	obj.SetName(name)
	return obj
}

func toSpec(table *Table, rec Record) map[string]interface{} {
	spec := make(map[string]interface{}, len(rec))
	for _, c := range table.Columns {
		if v, ok := rec[c.Name]; ok && v != nil {
			spec[FieldName(c.Name)] = v
		}
	}
	return spec
}

func fromObject(table *Table, obj *unstructured.Unstructured) (Record, error) {
	spec, _, err := unstructured.NestedMap(obj.Object, "spec")
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", obj.GetName(), err)
	}
	rec := make(Record, len(spec))
	for _, c := range table.Columns {
		raw, ok := spec[FieldName(c.Name)]
		if !ok || raw == nil {
			continue
		}
		v, err := normalizeCRD(c, raw)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", obj.GetName(), err)
		}
		rec[c.Name] = v
	}
	return rec, nil
}

// normalizeCRD maps a value onto the JSON types an unstructured object can
// hold: string, int64 or bool. Blobs are base64 strings.
func normalizeCRD(c Column, v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		if c.Type == TypeString || c.Type == TypeBlob {
			return x, nil
		}
	case bool:
		if c.Type == TypeBool {
			return x, nil
		}
	case int64:
		if c.Type == TypeInt || c.Type == TypeBigInt {
			return x, nil
		}
	case int:
		if c.Type == TypeInt || c.Type == TypeBigInt {
			return int64(x), nil
		}
	case int32:
		if c.Type == TypeInt || c.Type == TypeBigInt {
			return int64(x), nil
		}
	case float64:
		if (c.Type == TypeInt || c.Type == TypeBigInt) && x == float64(int64(x)) {
			return int64(x), nil
		}
	case []byte:
		if c.Type == TypeBlob {
			return base64.StdEncoding.EncodeToString(x), nil
		}
	}
	return nil, fmt.Errorf("column %s: unexpected %T for %s", c.Name, v, c.Type)
}
