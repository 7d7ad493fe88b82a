package layerdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/layerstore/pkg/log"
	"github.com/cuemby/layerstore/pkg/metrics"
	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/rs/zerolog"
)

// Collector periodically counts the rows of every table and runs a
// checking load, publishing the results as metrics and component health.
type Collector struct {
	backend  storage.Backend
	loader   *Loader
	interval time.Duration
	logger   zerolog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCollector creates a collector for b. The loader must not share its
// registry with another goroutine.
func NewCollector(b storage.Backend, loader *Loader, interval time.Duration) *Collector {
	return &Collector{
		backend:  b,
		loader:   loader,
		interval: interval,
		logger:   log.WithComponent("collector"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins collecting until ctx is done or Stop is called
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer close(c.doneCh)
		defer ticker.Stop()

		c.collectAndLog(ctx)
		for {
			select {
			case <-ticker.C:
				c.collectAndLog(ctx)
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector and waits for a running collection to finish
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.doneCh
}

func (c *Collector) collectAndLog(ctx context.Context) {
	if err := c.Collect(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Collection failed")
	}
}

// Collect runs one collection in a read-only transaction
func (c *Collector) Collect(ctx context.Context) error {
	var failed []ResourceError
	err := storage.View(ctx, c.backend, func(tx storage.Tx) error {
		for _, table := range storage.AllTables {
			rows, err := tx.FetchAll(table)
			if err != nil {
				return err
			}
			metrics.StoredRows.WithLabelValues(table.Name).Set(float64(len(rows)))
		}
		var err error
		_, failed, err = c.loader.Check(tx)
		return err
	})
	if err != nil {
		metrics.UpdateComponent("state", false, err.Error())
		return err
	}

	metrics.UnloadableStacks.Set(float64(len(failed)))
	if len(failed) > 0 {
		metrics.UpdateComponent("state", false, fmt.Sprintf("%d layer stacks failed to load", len(failed)))
		for _, f := range failed {
			c.logger.Warn().
				Str("node", f.NodeName).
				Str("resource", f.ResourceName).
				Str("snapshot", f.SnapshotName).
				Err(f.Err).
				Msg("Layer stack failed to load")
		}
		return nil
	}
	metrics.UpdateComponent("state", true, "")
	return nil
}
