// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package engineconfig binds the engine's bootstrap configuration (log
// level, default bucket size, UidMap memory cap, listen addresses) to
// viper keys, the way pkg/config/setup's per-section functions
// (e.g. otlp.go's OTLP) bind a typed schema onto a shared
// *viper.Viper in the teacher. Everything here is process bootstrap, not
// the engine's own Configuration proto (spec.md §3) — that's pkg/config.
package engineconfig

import (
	"fmt"
	"time"

	"github.com/DataDog/viper"
)

// Keys are the viper paths this package binds, exported so cmd/statsdengine
// can register the same flags/env vars cobra exposes.
const (
	KeyLogLevel             = "log_level"
	KeyBucketSizeDefault    = "bucket_size_default"
	KeyUidMapMaxBytes       = "uidmap_max_bytes"
	KeyUidMapMaxDeletedApps = "uidmap_max_deleted_apps"
	KeyListenAddr           = "listen_addr"
	KeyMetricsAddr          = "metrics_addr"
)

// Config is the engine process's bootstrap configuration (spec.md §6's
// external interfaces assume these are already resolved before the first
// set_config call).
type Config struct {
	LogLevel             string        `mapstructure:"log_level"`
	BucketSizeDefault    time.Duration `mapstructure:"bucket_size_default"`
	UidMapMaxBytes       int64         `mapstructure:"uidmap_max_bytes"`
	UidMapMaxDeletedApps int           `mapstructure:"uidmap_max_deleted_apps"`
	ListenAddr           string        `mapstructure:"listen_addr"`
	MetricsAddr          string        `mapstructure:"metrics_addr"`
}

// SetupDefaults registers every key's default and environment-variable
// binding on v, mirroring pkg/config/setup's BindEnvAndSetDefault calls
// (here expressed as the two calls that sugar wraps, since engineconfig
// has no dependency on the teacher's own pkgconfigmodel.Setup interface).
func SetupDefaults(v *viper.Viper) {
	v.SetDefault(KeyLogLevel, "info")
	v.BindEnv(KeyLogLevel, "STATSD_ENGINE_LOG_LEVEL") //nolint:errcheck

	v.SetDefault(KeyBucketSizeDefault, time.Minute)
	v.BindEnv(KeyBucketSizeDefault, "STATSD_ENGINE_BUCKET_SIZE_DEFAULT") //nolint:errcheck

	v.SetDefault(KeyUidMapMaxBytes, 50*1024)
	v.BindEnv(KeyUidMapMaxBytes, "STATSD_ENGINE_UIDMAP_MAX_BYTES") //nolint:errcheck

	v.SetDefault(KeyUidMapMaxDeletedApps, 1000)
	v.BindEnv(KeyUidMapMaxDeletedApps, "STATSD_ENGINE_UIDMAP_MAX_DELETED_APPS") //nolint:errcheck

	v.SetDefault(KeyListenAddr, "127.0.0.1:9110")
	v.BindEnv(KeyListenAddr, "STATSD_ENGINE_LISTEN_ADDR") //nolint:errcheck

	v.SetDefault(KeyMetricsAddr, "127.0.0.1:9111")
	v.BindEnv(KeyMetricsAddr, "STATSD_ENGINE_METRICS_ADDR") //nolint:errcheck
}

// New builds a *viper.Viper with defaults applied, optionally reading a
// config file at path (empty means defaults plus environment only).
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("STATSD_ENGINE")
	v.AutomaticEnv()
	SetupDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}
	return v, nil
}

// Load builds a viper instance via New and unmarshals it into a Config.
func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling engine config: %w", err)
	}
	return &cfg, nil
}
