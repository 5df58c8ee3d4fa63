// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package command wires the statsdengine cobra CLI, the way
// cmd/dogstatsd/app.DogstatsdCmd roots the dogstatsd CLI in the teacher:
// a persistent --cfgpath flag resolved once in PersistentPreRunE, with
// run as the one subcommand hung off the root.
package command

import (
	"github.com/spf13/cobra"

	"github.com/DataDog/datadog-agent/pkg/util/log"

	"github.com/DataDog/statsd-engine/pkg/engineconfig"
)

// Root is the statsdengine root command.
var Root = &cobra.Command{
	Use:   "statsdengine [command]",
	Short: "On-device telemetry aggregation engine.",
	Long: `
statsdengine matches, conditions, aggregates and reports atom events
against one or more installed configurations, the way Android's statsd
does on-device. This binary drives the engine locally: it installs a
configuration, dispatches events read from stdin, and dumps reports
periodically and on exit.`,
	PersistentPreRunE: loadConfig,
}

var (
	cfgPath string
	loaded  *engineconfig.Config
)

func init() {
	Root.PersistentFlags().StringVarP(&cfgPath, "cfgpath", "c", "", "path to a statsdengine config file (YAML/JSON), env vars and defaults used otherwise")
	Root.AddCommand(runCmd)
}

func loadConfig(_ *cobra.Command, _ []string) error {
	cfg, err := engineconfig.Load(cfgPath)
	if err != nil {
		return err
	}
	loaded = cfg
	log.Infof("statsdengine: loaded bootstrap config, log_level=%s listen_addr=%s metrics_addr=%s", cfg.LogLevel, cfg.ListenAddr, cfg.MetricsAddr)
	return nil
}
