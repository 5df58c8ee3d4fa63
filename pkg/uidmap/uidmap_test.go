// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package uidmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	received []int64
	upgrades []string
	removed  []string
}

func (l *recordingListener) OnUidMapReceived(tsNs int64) { l.received = append(l.received, tsNs) }
func (l *recordingListener) OnAppUpgrade(tsNs int64, pkg string, uid int32, versionCode int64) {
	l.upgrades = append(l.upgrades, pkg)
}
func (l *recordingListener) OnAppRemoved(tsNs int64, pkg string, uid int32) {
	l.removed = append(l.removed, pkg)
}

func TestUpsertThenUpgradeNotifiesOnlyOnUpgrade(t *testing.T) {
	m := New(DefaultMaxBytes, DefaultMaxDeletedApps)
	l := &recordingListener{}
	m.SetListener(l)

	m.Upsert(1, 100, "com.example.a", 1, "1.0", "store", nil)
	assert.Empty(t, l.upgrades, "first install must not notify an upgrade")

	m.Upsert(2, 100, "com.example.a", 2, "2.0", "store", nil)
	assert.Equal(t, []string{"com.example.a"}, l.upgrades)
	assert.Equal(t, int64(2), m.AppVersion(100, "com.example.a"))
}

func TestRemoveFlagsDeletedAndHasAppReturnsFalse(t *testing.T) {
	m := New(DefaultMaxBytes, DefaultMaxDeletedApps)
	m.Upsert(1, 100, "com.example.a", 1, "1.0", "store", nil)
	require.True(t, m.HasApp(100, "com.example.a"))

	m.Remove(2, 100, "com.example.a")
	assert.False(t, m.HasApp(100, "com.example.a"))
}

func TestAppendReportIncludesChangesSinceLastReportThenEmptyOnRepeat(t *testing.T) {
	m := New(DefaultMaxBytes, DefaultMaxDeletedApps)
	m.OnConfigAdded("config_k")

	m.Upsert(1, 100, "a", 1, "1.0", "store", nil)
	m.Upsert(2, 100, "a", 2, "2.0", "store", nil)
	m.Remove(3, 100, "a")

	report := m.AppendReport(10, "config_k", ReportOptions{})
	require.Len(t, report.Changes, 3)

	var deletedEntry *SnapshotEntry
	for i := range report.Snapshot {
		if report.Snapshot[i].Package == "a" {
			deletedEntry = &report.Snapshot[i]
		}
	}
	require.NotNil(t, deletedEntry)
	assert.True(t, deletedEntry.Deleted)

	second := m.AppendReport(20, "config_k", ReportOptions{})
	assert.Empty(t, second.Changes)
}

func TestAssignIsolatedResolvesHostUID(t *testing.T) {
	m := New(DefaultMaxBytes, DefaultMaxDeletedApps)
	assert.Equal(t, int32(555), m.HostUIDOrSelf(555), "non-isolated uid resolves to itself")

	m.AssignIsolated(99001, 10050)
	assert.Equal(t, int32(10050), m.HostUIDOrSelf(99001))

	m.RemoveIsolated(99001)
	assert.Equal(t, int32(99001), m.HostUIDOrSelf(99001))
}

func TestDeletedAppsRingEvictsOldestBeyondCapacity(t *testing.T) {
	m := New(DefaultMaxBytes, 2)
	m.Upsert(1, 1, "a", 1, "", "", nil)
	m.Upsert(1, 2, "b", 1, "", "", nil)
	m.Upsert(1, 3, "c", 1, "", "", nil)

	m.Remove(2, 1, "a")
	m.Remove(3, 2, "b")
	m.Remove(4, 3, "c")

	assert.False(t, m.HasApp(1, "a"), "oldest deleted entry should have been evicted from the store entirely")
	assert.Len(t, m.AppendReport(5, "k", ReportOptions{}).Snapshot, 2, "only the two newest deleted entries stay in the store")
}

func TestAppNamesFromUIDLowerCasesAndSkipsDeleted(t *testing.T) {
	m := New(DefaultMaxBytes, DefaultMaxDeletedApps)
	m.Upsert(1, 42, "Com.Example.App", 1, "", "", nil)
	m.Upsert(1, 42, "com.other", 1, "", "", nil)
	m.Remove(2, 42, "com.other")

	names := m.AppNamesFromUID(42)
	assert.Equal(t, []string{"com.example.app"}, names)
}
