/*
Package log provides structured logging for layerstore using zerolog.

The package wraps one global zerolog.Logger and hands out child loggers
carrying the fields the database layer filters on: the component, the
backend, the layer object being loaded or written and the owning resource.

# Architecture

	┌──────────────── log.Init(Config) ────────────────┐
	│  level:  trace | debug | info | warn | error      │
	│  output: console (RFC3339) or JSON                │
	└────────────────────┬─────────────────────────────┘
	                     │
	               log.Logger (global)
	                     │
	   ┌─────────────┬───┴─────────┬──────────────────┐
	   ▼             ▼             ▼                  ▼
	WithComponent WithBackend  WithLayerID       WithResource
	"loader"      "sql"        kind, id          node, rsc, snap

The zero value of Logger discards everything, so packages may derive child
loggers before Init runs. Child loggers capture the global logger when they
are created; components built before Init stay silent.

# Levels

Trace is reserved for per-row and per-column output: every persisted layer
object and every column update (old and new value) is logged at trace
level. Secret columns such as the encrypted volume password never appear
in log output at any level.

Debug covers per-session events such as the bulk cache fill. Info is used
for load summaries and command progress. A corrupted database is reported
as an error by the caller that aborts the load.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stderr,
	})

	logger := log.WithResource("N1", "rsc1", "")
	logger.Info().Int("layers", 3).Msg("Layer stack loaded")

	log.Errorf("metrics server stopped", err)
*/
package log
