// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/DataDog/datadog-agent/pkg/util/log"

	"github.com/DataDog/statsd-engine/pkg/config"
	"github.com/DataDog/statsd-engine/pkg/engine"
	"github.com/DataDog/statsd-engine/pkg/metrics"
	"github.com/DataDog/statsd-engine/pkg/models"
	"github.com/DataDog/statsd-engine/pkg/report"
	"github.com/DataDog/statsd-engine/pkg/telemetry"
	"github.com/DataDog/statsd-engine/pkg/uidmap"
)

var (
	configFile string
	installKey int64
	installUID int32
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine, dispatching events read from stdin as newline-delimited JSON",
	Long: `
run installs the configuration named by --config (if any), starts the
engine's alarm monitor and /metrics endpoint, and then dispatches one
models.Event per line of stdin (JSON-encoded) until interrupted. On every
bucket boundary and on exit it flushes every installed configuration's
report to stdout as newline-delimited JSON (pkg/report.JSONWriter).`,
	RunE: run,
}

func init() {
	runCmd.Flags().StringVar(&configFile, "config", "", "path to a JSON config.Configuration to install at startup")
	runCmd.Flags().Int64Var(&installKey, "config-id", 1, "ConfigKey.ID to install --config under")
	runCmd.Flags().Int32Var(&installUID, "config-uid", 0, "ConfigKey.UID to install --config under")
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	uidMap := uidmap.New(loaded.UidMapMaxBytes, loaded.UidMapMaxDeletedApps)
	recorder := telemetry.NewRecorder()
	recorder.WireUidMap(uidMap)
	if err := recorder.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	e := engine.New(uidMap, clock.New())
	recorder.WireCompiler(e.Compiler())

	key := config.Key{UID: installUID, ID: installKey}
	uidMap.OnConfigAdded(configKeyString(key))
	if configFile != "" {
		cfg, err := loadConfiguration(configFile, key)
		if err != nil {
			return err
		}
		if err := e.SetConfig(key, cfg); err != nil {
			return err
		}
		log.Infof("statsdengine: installed config %+v", key)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: loaded.MetricsAddr, Handler: mux}

	// The three background services (metrics HTTP server, alarm monitor,
	// stdin event reader) fan in independently and share ctx for shutdown;
	// errgroup collects whichever of them exits first instead of each
	// logging into the void on its own goroutine.
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		e.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		dispatchStdin(groupCtx, e)
		return nil
	})

	ticker := time.NewTicker(loaded.BucketSizeDefault)
	defer ticker.Stop()
	writer := report.NewJSONWriter(os.Stdout)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			flushReport(e, key, uidMap, writer, recorder, false)
		case <-signalCh:
			flushReport(e, key, uidMap, writer, recorder, true)
			cancel()
			_ = metricsSrv.Close()
			if err := group.Wait(); err != nil {
				log.Warnf("statsdengine: background service exited: %s", err)
			}
			log.Info("statsdengine: shutting down")
			return nil
		}
	}
}

// configKeyString renders a config.Key for uidmap.Map's string-keyed
// per-config last_report tracking (spec.md §4.5 "append_report").
func configKeyString(key config.Key) string {
	return fmt.Sprintf("%d:%d", key.UID, key.ID)
}

func loadConfiguration(path string, key config.Key) (*config.Configuration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg config.Configuration
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.Key = key
	return &cfg, nil
}

// dispatchStdin reads one JSON models.Event per line until ctx is done or
// stdin closes, feeding each into the engine exactly like any other
// event-ingestion transport would (spec.md §1 leaves the wire format out
// of scope; stdin stands in for it here).
func dispatchStdin(ctx context.Context, e *engine.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		var ev models.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			log.Warnf("statsdengine: skipping malformed event line: %s", err)
			continue
		}
		e.Dispatch(&ev)
	}
}

func flushReport(e *engine.Engine, key config.Key, uidMap *uidmap.Map, w *report.JSONWriter, recorder *telemetry.Recorder, clear bool) {
	nowNs := time.Now().UnixNano()

	var closed map[int64][]metrics.ClosedBucket
	var ok bool
	if clear {
		closed, ok = e.FlushAndClear(key, nowNs)
	} else {
		closed, ok = e.Flush(key, nowNs)
	}
	if !ok {
		return
	}

	uidReport := uidMap.AppendReport(nowNs, configKeyString(key), uidmap.ReportOptions{IncludeVersionStrings: true})
	r := report.Build(key, nowNs, clear, closed, &uidReport, recorder.Snapshot())
	if err := w.WriteReport(r); err != nil {
		log.Errorf("statsdengine: writing report: %s", err)
	}
}
