// racecored is the RACE node daemon: it loads a node's column/row/
// formula/constraint declarations and persisted cell data, serves the
// UDP wire protocol and (optionally) a NATS ingestion subject set,
// and runs the periodic checkpoint and constraint-sweep services on
// top of pkg/scheduler's EventScheduler. Its startup/shutdown shape
// (flag parsing, background server goroutines, signal-driven graceful
// shutdown through a shared context) follows cmd/cc-backend/main.go.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/race-platform/race-core/internal/constraint"
	"github.com/race-platform/race-core/internal/credstore"
	"github.com/race-platform/race-core/internal/ingest"
	"github.com/race-platform/race-core/internal/raceconfig"
	"github.com/race-platform/race-core/internal/tabular"
	"github.com/race-platform/race-core/internal/update"
	natsclient "github.com/race-platform/race-core/pkg/nats"
	"github.com/race-platform/race-core/pkg/scheduler"
	"github.com/race-platform/race-core/pkg/wire"
)

func main() {
	var flagConfigFile, flagAddr string
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Node configuration file")
	flag.StringVar(&flagAddr, "addr", ":9900", "UDP address to listen on for the wire protocol")
	flag.Parse()

	cfg, err := raceconfig.Load(flagConfigFile)
	if err != nil {
		cclog.Fatalf("racecored: %v", err)
	}

	node, err := loadNode(cfg)
	if err != nil {
		cclog.Fatalf("racecored: %v", err)
	}

	registry, err := loadConstraints(cfg)
	if err != nil {
		cclog.Fatalf("racecored: %v", err)
	}

	engine, err := update.New(node, registry)
	if err != nil {
		cclog.Fatalf("racecored: %v", err)
	}

	if cfg.UserCredentials != "" {
		if _, err := credstore.Open(cfg.UserCredentials); err != nil {
			cclog.Fatalf("racecored: open credential store: %v", err)
		}
		if _, err := credstore.NewRelyingParty(cfg.WebAuthn); err != nil {
			cclog.Fatalf("racecored: build relying party: %v", err)
		}
	}

	server, err := wire.NewServer(flagAddr, wire.WithDataSource(update.NewNodeDataSource(engine)))
	if err != nil {
		cclog.Fatalf("racecored: %v", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New()
	sched.ProcessEventsAsync(ctx, time.Now(), cfg.Scheduler.KeepAlive)
	startScheduledServices(sched, cfg, node, engine)

	go func() {
		if err := server.Serve(ctx); err != nil {
			cclog.Errorf("racecored: wire server: %v", err)
		}
	}()

	if len(cfg.Ingest.Subjects) > 0 {
		client, err := natsclient.NewClient(&cfg.Ingest.NATS)
		if err != nil {
			cclog.Warnf("racecored: NATS unavailable, ingestion disabled: %v", err)
		} else {
			defer client.Close()
			adapter := ingest.New(client, engine, func(rec wire.TrackRecord) string { return rec.ID }, cfg.Ingest.Workers)
			go func() {
				if err := adapter.Subscribe(ctx, cfg.Ingest.Subjects); err != nil {
					cclog.Errorf("racecored: NATS ingestion: %v", err)
				}
			}()
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	cclog.Info("racecored: shutting down")
	cancel()
	sched.Shutdown()
}

func loadNode(cfg *raceconfig.RaceConfig) (*tabular.Node, error) {
	columnsRaw, err := os.ReadFile(cfg.ColumnListPath)
	if err != nil {
		return nil, err
	}
	columns, err := tabular.ParseColumnList(columnsRaw)
	if err != nil {
		return nil, err
	}

	rowsRaw, err := os.ReadFile(cfg.RowListPath)
	if err != nil {
		return nil, err
	}
	rows, err := tabular.ParseRowList(rowsRaw)
	if err != nil {
		return nil, err
	}

	formulas := tabular.FormulaList{}
	if cfg.FormulaListPath != "" {
		raw, err := os.ReadFile(cfg.FormulaListPath)
		if err != nil {
			return nil, err
		}
		if formulas, err = tabular.ParseFormulaList(raw); err != nil {
			return nil, err
		}
	}

	node := tabular.NewNode(cfg.NodeID, "", columns, rows, formulas)

	if cfg.ColumnDataPath != "" {
		for _, col := range columns.Columns {
			path := filepath.Join(cfg.ColumnDataPath, col.ID+".json")
			raw, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, err
			}
			cd, err := tabular.ParseColumnData(raw, rows)
			if err != nil {
				return nil, err
			}
			if err := node.LoadColumnData(cd); err != nil {
				return nil, err
			}
		}
	}
	return node, nil
}

func loadConstraints(cfg *raceconfig.RaceConfig) (*constraint.Registry, error) {
	if cfg.ConstraintListPath == "" {
		return constraint.Compile(nil)
	}
	raw, err := os.ReadFile(cfg.ConstraintListPath)
	if err != nil {
		return nil, err
	}
	specs, err := constraint.ParseSpecs(raw)
	if err != nil {
		return nil, err
	}
	return constraint.Compile(specs)
}

// startScheduledServices registers the periodic checkpoint and
// constraint-sweep services. EventScheduler events fire once, so each
// service reschedules itself on completion.
func startScheduledServices(sched *scheduler.EventScheduler, cfg *raceconfig.RaceConfig, node *tabular.Node, engine *update.Engine) {
	checkpointEvery := parseIntervalOrDefault(cfg.Scheduler.CheckpointInterval, 30*time.Second)
	constraintEvery := parseIntervalOrDefault(cfg.Scheduler.ConstraintInterval, 5*time.Second)

	var checkpointTick, constraintTick scheduler.Action
	checkpointTick = func() {
		if cfg.ColumnDataPath != "" {
			if err := tabular.WriteCheckpoint(filepath.Join(cfg.ColumnDataPath, "checkpoint.bin"), node, tabular.FormatBinary); err != nil {
				cclog.Errorf("racecored: checkpoint: %v", err)
			}
		}
		sched.Schedule(checkpointEvery, checkpointTick)
	}
	constraintTick = func() {
		engine.SweepConstraints(time.Now())
		sched.Schedule(constraintEvery, constraintTick)
	}
	sched.Schedule(checkpointEvery, checkpointTick)
	sched.Schedule(constraintEvery, constraintTick)
}

func parseIntervalOrDefault(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		cclog.Warnf("racecored: bad interval %q, using %s", s, fallback)
		return fallback
	}
	return d
}
