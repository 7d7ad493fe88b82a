package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/layerstore/pkg/config"
	"github.com/cuemby/layerstore/pkg/freespace"
	"github.com/cuemby/layerstore/pkg/layerdb"
	"github.com/cuemby/layerstore/pkg/log"
	"github.com/cuemby/layerstore/pkg/metrics"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/cuemby/layerstore/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "layerdb",
	Short: "layerdb - inspect and maintain persisted layer stacks",
	Long: `layerdb reads and writes the layer stacks of deployed resources
in one of the supported backends: a relational database (sqlite),
a key-value store (bbolt) or Kubernetes custom resources.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var cfg *config.Config

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"layerdb version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file (default: built-in defaults)")
	rootCmd.PersistentFlags().String("backend", "", "Override the configured backend (sql, kv, crd)")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve metrics and health endpoints on this address while running")

	serveCmd.Flags().Duration("interval", 0, "Override the configured collection interval")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(freespaceCmd)
	rootCmd.AddCommand(serveCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	backend, _ := cmd.Flags().GetString("backend")
	level, _ := cmd.Flags().GetString("log-level")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	var err error
	if path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if level != "" {
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})

	metrics.SetVersion(Version)
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
		go serveMetrics(cfg.Metrics.Addr)
	}
	return nil
}

func serveMetrics(addr string) {
	server := &http.Server{
		Addr:         addr,
		Handler:      metrics.NewServeMux(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		log.Errorf("metrics server stopped", err)
	}
}

func openBackend(cmd *cobra.Command) (storage.Backend, error) {
	b, err := storage.Open(cmd.Context(), cfg)
	if err != nil {
		metrics.UpdateComponent("backend", false, err.Error())
		return nil, fmt.Errorf("failed to open %s backend: %w", cfg.Backend, err)
	}
	metrics.UpdateComponent("backend", true, string(b.Type()))
	return b, nil
}

// loadState runs a full load in a read-only transaction
func loadState(ctx context.Context, b storage.Backend, check bool) (*layerdb.State, []layerdb.ResourceError, error) {
	loader := layerdb.NewLoader(layerdb.NewRegistry(), freespace.NewRegistry())
	var (
		st     *layerdb.State
		failed []layerdb.ResourceError
	)
	err := storage.View(ctx, b, func(tx storage.Tx) error {
		var err error
		if check {
			st, failed, err = loader.Check(tx)
		} else {
			st, err = loader.LoadAll(tx)
		}
		return err
	})
	return st, failed, err
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the backend schema",
	Long: `Open the configured backend, creating every table (relational),
the root bucket (key-value) or nothing (custom resources, whose
definitions are installed with the cluster).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		fmt.Printf("✓ %s backend ready (%d tables)\n", b.Type(), len(storage.AllTables))
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Load the database and print every layer stack",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		st, _, err := loadState(cmd.Context(), b, false)
		if err != nil {
			return err
		}

		fmt.Printf("Nodes: %d, storage pools: %d\n\n", len(st.Nodes), len(st.Pools))
		for _, rsc := range st.Resources {
			fmt.Printf("%s/%s\n", rsc.NodeName, rsc.Name)
			printStack(rsc.GetLayerStack())
		}
		for _, snap := range st.Snapshots {
			fmt.Printf("%s/%s@%s\n", snap.NodeName, snap.ResourceName, snap.Name)
			printStack(snap.GetLayerStack())
		}
		return nil
	},
}

func printStack(stack *types.LayerStack) {
	if stack == nil || stack.Len() == 0 {
		fmt.Println("  (no layers)")
		return
	}
	_ = stack.Walk(func(obj types.LayerObject, depth int) error {
		indent := strings.Repeat("  ", depth+1)
		fmt.Printf("%s%s %s\n", indent, obj.Base(), obj.Base().SuffixedResourceName())
		for _, nr := range obj.VolumeNumbers() {
			if v, ok := obj.(*types.StorageRscData); ok {
				vd := v.Volumes[nr]
				fmt.Printf("%s  vlm %d: %s on %s\n", indent, nr, vd.ProviderKind, vd.Pool.Key())
				continue
			}
			fmt.Printf("%s  vlm %d\n", indent, nr)
		}
		return nil
	})
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Load every layer stack and report corrupted ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		st, failed, err := loadState(cmd.Context(), b, true)
		if err != nil {
			return err
		}

		for _, f := range failed {
			name := f.NodeName + "/" + f.ResourceName
			if f.SnapshotName != "" {
				name += "@" + f.SnapshotName
			}
			fmt.Printf("✗ %s: %v\n", name, f.Err)
		}
		total := len(st.Resources) + len(st.Snapshots)
		if len(failed) > 0 {
			return fmt.Errorf("%d of %d layer stacks failed to load", len(failed), total)
		}
		fmt.Printf("✓ %d layer stacks loaded\n", total)
		return nil
	},
}

var freespaceCmd = &cobra.Command{
	Use:   "freespace",
	Short: "List free space managers and their storage pools",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		st, _, err := loadState(cmd.Context(), b, false)
		if err != nil {
			return err
		}

		for _, name := range st.FreeSpace.Names() {
			t, _ := st.FreeSpace.Get(name)
			capacity := "no capacity reported"
			if free, total := t.GetFreeCapacityLastUpdated(), t.GetTotalCapacity(); free != nil && total != nil {
				capacity = fmt.Sprintf("%d free of %d", *free, *total)
			}
			fmt.Printf("%s (%s, %d pending)\n", name, capacity, t.GetPendingAllocatedSum())
			for _, key := range st.FreeSpace.Pools(name) {
				fmt.Printf("  %s\n", key)
			}
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose metrics and health while periodically checking the database",
	Long: `Serve /metrics, /health, /ready and /live on the metrics address
and re-run a checking load every interval. The process stays up until
interrupted; readiness reflects the last check.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if interval, _ := cmd.Flags().GetDuration("interval"); interval > 0 {
			cfg.Metrics.Interval = interval
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		b, err := openBackend(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		if metricsAddr, _ := cmd.Flags().GetString("metrics-addr"); metricsAddr == "" {
			go serveMetrics(cfg.Metrics.Addr)
		}

		if path, _ := cmd.Flags().GetString("config"); path == "" {
			log.Warn("No config file given, serving with defaults")
		}

		loader := layerdb.NewLoader(layerdb.NewRegistry(), freespace.NewRegistry())
		collector := layerdb.NewCollector(b, loader, cfg.Metrics.Interval)
		collector.Start(ctx)
		log.Infof("Serving metrics on %s every %s", cfg.Metrics.Addr, cfg.Metrics.Interval)

		<-ctx.Done()
		collector.Stop()
		log.Info("Shutting down")
		return nil
	},
}
