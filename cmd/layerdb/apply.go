package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/cuemby/layerstore/pkg/layerdb"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a manifest file",
	Long: `Write the nodes, storage pools and resources of a YAML manifest.

Every resource gets a linear layer stack built from its "layers" list,
top layer first. Resources that already exist are skipped.

Examples:
  # Apply a manifest to the configured backend
  layerdb apply -f cluster.yaml

  # Apply to a throwaway bolt file
  layerdb apply --backend kv -f cluster.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// Manifest is the document read by apply
type Manifest struct {
	Nodes        []NodeManifest     `yaml:"nodes"`
	StoragePools []PoolManifest     `yaml:"storagePools"`
	Resources    []ResourceManifest `yaml:"resources"`
}

type NodeManifest struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type PoolManifest struct {
	Node         string `yaml:"node"`
	Name         string `yaml:"name"`
	Provider     string `yaml:"provider"`
	FreeSpaceMgr string `yaml:"freeSpaceMgr,omitempty"`
}

type ResourceManifest struct {
	Node     string   `yaml:"node"`
	Name     string   `yaml:"name"`
	Snapshot string   `yaml:"snapshot,omitempty"`
	Volumes  []int    `yaml:"volumes"`
	Layers   []string `yaml:"layers"`

	// Pool backs the provider and Openflex layers
	Pool      string `yaml:"pool"`
	MetaPool  string `yaml:"metaPool,omitempty"`
	CachePool string `yaml:"cachePool,omitempty"`
	PeerSlots int16  `yaml:"peerSlots,omitempty"`
	// Port, Transport, Secret and Minor describe the replication
	// definition. Volume nr gets minor Minor+nr.
	Port      int    `yaml:"port,omitempty"`
	Transport string `yaml:"transport,omitempty"`
	Secret    string `yaml:"secret,omitempty"`
	Minor     int    `yaml:"minor,omitempty"`
	// EncryptedPassword is base64
	EncryptedPassword string `yaml:"encryptedPassword,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse YAML: %v", err)
	}

	b, err := openBackend(cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	return storage.Update(cmd.Context(), b, func(tx storage.Tx) error {
		return applyManifest(tx, &m)
	})
}

func applyManifest(tx storage.Tx, m *Manifest) error {
	reg := layerdb.NewRegistry()
	st, err := layerdb.NewLoader(reg, nil).LoadAll(tx)
	if err != nil {
		return fmt.Errorf("failed to load current state: %w", err)
	}

	for _, nm := range m.Nodes {
		if err := types.ValidateName("node name", nm.Name); err != nil {
			return err
		}
		node := &types.Node{Name: nm.Name, Type: types.NodeType(nm.Type)}
		if !node.Type.Valid() {
			return fmt.Errorf("node %s: unknown type %q", nm.Name, nm.Type)
		}
		if err := layerdb.PersistNode(tx, node); err != nil {
			return fmt.Errorf("failed to persist node %s: %w", nm.Name, err)
		}
		st.Nodes[node.Name] = node
		fmt.Printf("✓ Node: %s\n", node.Name)
	}

	for _, pm := range m.StoragePools {
		if _, ok := st.Nodes[pm.Node]; !ok {
			return fmt.Errorf("storage pool %s: unknown node %s", pm.Name, pm.Node)
		}
		if err := types.ValidateName("storage pool name", pm.Name); err != nil {
			return err
		}
		kind, err := types.ParseProviderKind(pm.Provider)
		if err != nil {
			return fmt.Errorf("storage pool %s: %w", pm.Name, err)
		}
		sp := &types.StoragePool{NodeName: pm.Node, Name: pm.Name, ProviderKind: kind, FreeSpaceMgrName: pm.FreeSpaceMgr}
		if err := layerdb.PersistStorPool(tx, sp); err != nil {
			return fmt.Errorf("failed to persist storage pool %s: %w", sp.Key(), err)
		}
		st.Pools[sp.Key()] = sp
		fmt.Printf("✓ Storage pool: %s (%s)\n", sp.Key(), sp.SharedSpaceName())
	}

	nextID, err := reg.AllocateID(tx)
	if err != nil {
		return err
	}

	for i := range m.Resources {
		rm := &m.Resources[i]
		if _, ok := st.Nodes[rm.Node]; !ok {
			return fmt.Errorf("resource %s: unknown node %s", rm.Name, rm.Node)
		}
		if err := types.ValidateName("resource name", rm.Name); err != nil {
			return err
		}

		var rsc types.AbsResource
		if rm.Snapshot == "" {
			if _, exists := st.Resource(rm.Node, rm.Name); exists {
				fmt.Printf("Resource already exists: %s/%s (skipping)\n", rm.Node, rm.Name)
				continue
			}
			r := types.NewResource(rm.Node, rm.Name)
			for _, nr := range rm.Volumes {
				r.AddVolume(nr)
			}
			rsc = r
		} else {
			if err := types.ValidateName("snapshot name", rm.Snapshot); err != nil {
				return err
			}
			if _, exists := st.Snapshot(rm.Node, rm.Name, rm.Snapshot); exists {
				fmt.Printf("Snapshot already exists: %s/%s@%s (skipping)\n", rm.Node, rm.Name, rm.Snapshot)
				continue
			}
			s := types.NewSnapshot(rm.Node, rm.Name, rm.Snapshot)
			for _, nr := range rm.Volumes {
				s.AddVolume(nr)
			}
			rsc = s
		}

		stack, err := buildStack(rsc, rm, st.Pools, nextID)
		if err != nil {
			return fmt.Errorf("resource %s/%s: %w", rm.Node, rm.Name, err)
		}
		nextID += stack.Len()
		rsc.SetLayerStack(stack)

		switch r := rsc.(type) {
		case *types.Resource:
			err = layerdb.PersistResource(tx, r)
		case *types.Snapshot:
			err = layerdb.PersistSnapshot(tx, r)
		}
		if err != nil {
			return err
		}
		if err := reg.PersistStack(tx, rsc); err != nil {
			return err
		}
		fmt.Printf("✓ Resource: %s/%s %v\n", rm.Node, rm.Name, rm.Layers)
	}
	return nil
}

// buildStack creates the linear layer stack described by rm, numbering
// the layers from firstID
func buildStack(rsc types.AbsResource, rm *ResourceManifest, pools types.StoragePoolMap, firstID int) (*types.LayerStack, error) {
	if len(rm.Layers) == 0 {
		return nil, fmt.Errorf("no layers given")
	}

	lookup := func(name string) (*types.StoragePool, error) {
		if name == "" {
			return nil, nil
		}
		sp, ok := pools.Lookup(rm.Node, name)
		if !ok {
			return nil, fmt.Errorf("unknown storage pool %s/%s", rm.Node, name)
		}
		return sp, nil
	}

	pool, err := lookup(rm.Pool)
	if err != nil {
		return nil, err
	}
	metaPool, err := lookup(rm.MetaPool)
	if err != nil {
		return nil, err
	}
	cachePool, err := lookup(rm.CachePool)
	if err != nil {
		return nil, err
	}
	password, err := base64.StdEncoding.DecodeString(rm.EncryptedPassword)
	if err != nil {
		return nil, fmt.Errorf("encryptedPassword is not base64: %w", err)
	}

	stack := types.NewLayerStack()
	var parent *int
	for i, name := range rm.Layers {
		kind, err := types.ParseLayerKind(name)
		if err != nil {
			return nil, err
		}
		last := i == len(rm.Layers)-1
		if (kind == types.LayerKindStorage || kind == types.LayerKindOpenflex) != last {
			return nil, fmt.Errorf("%s must be the bottom layer and only the bottom layer", name)
		}
		if last && pool == nil {
			return nil, fmt.Errorf("layer %s: a storage pool is required", name)
		}

		id := firstID + i
		base := types.RscLayerBase{ID: id, Kind: kind, ParentID: parent, Owner: rsc}
		vbase := func(nr int) types.VlmLayerBase {
			vlm, _ := rsc.GetAbsVolume(nr)
			return types.VlmLayerBase{RscLayerID: id, VolumeNumber: nr, Volume: vlm, Owner: rsc}
		}

		var obj types.LayerObject
		switch kind {
		case types.LayerKindDRBD:
			dfn, err := drbdDefinition(rsc, rm)
			if err != nil {
				return nil, err
			}
			d := &types.DrbdRscData{RscLayerBase: base, PeerSlots: rm.PeerSlots, AlStripes: 1, AlStripeSize: 32, Dfn: dfn, Volumes: map[int]*types.DrbdVlmData{}}
			for _, nr := range rsc.VolumeNumbers() {
				d.Volumes[nr] = &types.DrbdVlmData{VlmLayerBase: vbase(nr), ExtMetaPool: metaPool, Dfn: dfn.Volumes[nr]}
			}
			obj = d
		case types.LayerKindLUKS:
			d := &types.LuksRscData{RscLayerBase: base, Volumes: map[int]*types.LuksVlmData{}}
			for _, nr := range rsc.VolumeNumbers() {
				d.Volumes[nr] = &types.LuksVlmData{VlmLayerBase: vbase(nr), EncryptedPassword: password}
			}
			obj = d
		case types.LayerKindCache:
			d := &types.CacheRscData{RscLayerBase: base, Volumes: map[int]*types.CacheVlmData{}}
			for _, nr := range rsc.VolumeNumbers() {
				d.Volumes[nr] = &types.CacheVlmData{VlmLayerBase: vbase(nr), CachePool: cachePool, MetaPool: metaPool}
			}
			obj = d
		case types.LayerKindBCache:
			d := &types.BCacheRscData{RscLayerBase: base, Volumes: map[int]*types.BCacheVlmData{}}
			for _, nr := range rsc.VolumeNumbers() {
				d.Volumes[nr] = &types.BCacheVlmData{VlmLayerBase: vbase(nr), CachePool: cachePool}
			}
			obj = d
		case types.LayerKindWritecache:
			d := &types.WritecacheRscData{RscLayerBase: base, Volumes: map[int]*types.WritecacheVlmData{}}
			for _, nr := range rsc.VolumeNumbers() {
				d.Volumes[nr] = &types.WritecacheVlmData{VlmLayerBase: vbase(nr), CachePool: cachePool}
			}
			obj = d
		case types.LayerKindNVMe:
			d := &types.NvmeRscData{RscLayerBase: base, Volumes: map[int]*types.NvmeVlmData{}}
			for _, nr := range rsc.VolumeNumbers() {
				d.Volumes[nr] = &types.NvmeVlmData{VlmLayerBase: vbase(nr)}
			}
			obj = d
		case types.LayerKindOpenflex:
			d := &types.OpenflexRscData{RscLayerBase: base, Volumes: map[int]*types.OpenflexVlmData{}}
			for _, nr := range rsc.VolumeNumbers() {
				d.Volumes[nr] = &types.OpenflexVlmData{VlmLayerBase: vbase(nr), Pool: pool}
			}
			obj = d
		case types.LayerKindStorage:
			d := &types.StorageRscData{RscLayerBase: base, Volumes: map[int]*types.StorageVlmData{}}
			for _, nr := range rsc.VolumeNumbers() {
				d.Volumes[nr] = &types.StorageVlmData{VlmLayerBase: vbase(nr), ProviderKind: pool.ProviderKind, Pool: pool}
			}
			obj = d
		}

		if err := stack.Add(obj); err != nil {
			return nil, err
		}
		p := id
		parent = &p
	}
	return stack, nil
}

// drbdDefinition builds the replication definition of rsc. Snapshots get
// neither port nor secret nor minor numbers.
func drbdDefinition(rsc types.AbsResource, rm *ResourceManifest) (*types.DrbdRscDfnData, error) {
	transport := types.TransportIP
	if rm.Transport != "" {
		t, err := types.ParseTransportType(rm.Transport)
		if err != nil {
			return nil, err
		}
		transport = t
	}
	dfn := &types.DrbdRscDfnData{
		ResourceName:  rsc.GetResourceName(),
		SnapshotName:  rsc.GetSnapshotName(),
		PeerSlots:     rm.PeerSlots,
		AlStripes:     1,
		AlStripeSize:  32,
		TransportType: transport,
		Volumes:       make(map[int]*types.DrbdVlmDfnData),
	}

	port, minor := rm.Port, rm.Minor
	if port == 0 {
		port = 7000
	}
	if minor == 0 {
		minor = 1000
	}
	if !dfn.IsSnapshot() {
		p, err := types.ValidateTCPPort(int64(port))
		if err != nil {
			return nil, err
		}
		dfn.TCPPort = &p
		if rm.Secret != "" {
			secret := rm.Secret
			dfn.Secret = &secret
		}
	}
	for _, nr := range rsc.VolumeNumbers() {
		v := &types.DrbdVlmDfnData{VolumeNumber: nr}
		if !dfn.IsSnapshot() {
			m, err := types.ValidateMinorNr(int64(minor + nr))
			if err != nil {
				return nil, err
			}
			v.MinorNr = &m
		}
		dfn.Volumes[nr] = v
	}
	return dfn, nil
}
