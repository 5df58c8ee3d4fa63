// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package engineconfig

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoConfigFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Minute, cfg.BucketSizeDefault)
	assert.Equal(t, int64(50*1024), cfg.UidMapMaxBytes)
	assert.Equal(t, 1000, cfg.UidMapMaxDeletedApps)
	assert.Equal(t, "127.0.0.1:9110", cfg.ListenAddr)
	assert.Equal(t, "127.0.0.1:9111", cfg.MetricsAddr)
}

func TestLoadHonorsEnvironmentOverride(t *testing.T) {
	t.Setenv("STATSD_ENGINE_LOG_LEVEL", "debug")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadReadsConfigFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "engineconfig-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("log_level: warn\nlisten_addr: 0.0.0.0:8080\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := Load(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddr)
}
