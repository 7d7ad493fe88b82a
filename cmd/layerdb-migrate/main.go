package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/cuemby/layerstore/pkg/codec"
	"github.com/cuemby/layerstore/pkg/config"
	"github.com/cuemby/layerstore/pkg/layerdb"
	"github.com/cuemby/layerstore/pkg/log"
	"github.com/cuemby/layerstore/pkg/storage"
)

var (
	fromPath   = flag.String("from", "", "Configuration file of the source backend (required)")
	toPath     = flag.String("to", "", "Configuration file of the target backend (required)")
	dryRun     = flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	backupPath = flag.String("backup", "", "Path to back up a bolt target before migration (default: <path>.backup)")
)

func main() {
	flag.Parse()

	log.Init(log.Config{Level: log.InfoLevel, Output: os.Stderr})
	logger := log.WithComponent("migrate")

	if *fromPath == "" || *toPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	from, err := config.Load(*fromPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load source configuration")
	}
	to, err := config.Load(*toPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load target configuration")
	}

	logger.Info().Str("from", from.Backend).Str("to", to.Backend).Bool("dry_run", *dryRun).Msg("Starting migration")

	// Back up a bolt target unless in dry-run mode
	if !*dryRun && to.Backend == config.BackendKV {
		if _, err := os.Stat(to.KV.Path); err == nil {
			backupFile := *backupPath
			if backupFile == "" {
				backupFile = to.KV.Path + ".backup"
			}
			if err := copyFile(to.KV.Path, backupFile); err != nil {
				logger.Fatal().Err(err).Msg("Failed to create backup")
			}
			logger.Info().Str("path", backupFile).Msg("✓ Backup created")
		}
	}

	ctx := context.Background()
	if err := migrate(ctx, from, to, *dryRun); err != nil {
		logger.Fatal().Err(err).Msg("Migration failed")
	}

	if *dryRun {
		logger.Info().Msg("Dry run completed. No changes made.")
	} else {
		logger.Info().Msg("✓ Migration completed successfully")
	}
}

func migrate(ctx context.Context, from, to *config.Config, dryRun bool) error {
	logger := log.WithComponent("migrate")

	src, err := storage.Open(ctx, from)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	dst, err := storage.Open(ctx, to)
	if err != nil {
		return fmt.Errorf("failed to open target: %w", err)
	}
	defer dst.Close()

	// Refuse to copy a source that does not load cleanly
	rows := make(map[*storage.Table][]storage.Record, len(storage.AllTables))
	err = storage.View(ctx, src, func(tx storage.Tx) error {
		if _, err := layerdb.NewLoader(layerdb.NewRegistry(), nil).LoadAll(tx); err != nil {
			return fmt.Errorf("source does not load: %w", err)
		}
		for _, table := range storage.AllTables {
			recs, err := tx.FetchAll(table)
			if err != nil {
				return err
			}
			for _, rec := range recs {
				converted, err := codec.Convert(src.Type(), dst.Type(), table, rec)
				if err != nil {
					return fmt.Errorf("failed to convert %s row: %w", table.Name, err)
				}
				rows[table] = append(rows[table], converted)
			}
			logger.Info().Str("table", table.Name).Int("rows", len(recs)).Msg("Read table")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if dryRun {
		for _, table := range storage.AllTables {
			fmt.Printf("[DRY RUN] would copy %d rows into %s\n", len(rows[table]), table.Name)
		}
		return nil
	}

	err = storage.Update(ctx, dst, func(tx storage.Tx) error {
		for _, table := range storage.AllTables {
			for _, rec := range rows[table] {
				if err := tx.Upsert(table, rec); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write target: %w", err)
	}

	return storage.View(ctx, dst, func(tx storage.Tx) error {
		st, err := layerdb.NewLoader(layerdb.NewRegistry(), nil).LoadAll(tx)
		if err != nil {
			return fmt.Errorf("target does not load after migration: %w", err)
		}
		logger.Info().Int("resources", len(st.Resources)).Int("snapshots", len(st.Snapshots)).Msg("✓ Target verified")
		return nil
	})
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
