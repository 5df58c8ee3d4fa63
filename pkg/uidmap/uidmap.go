// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package uidmap tracks the engine's view of installed packages and
// isolated-process overlays (spec.md §4.5), grounded on
// pkg/tagger/tagstore/tagstore.go's store shape in the teacher (a
// sync.RWMutex-embedding map with an injected clock and a
// notify-after-unlock listener) adapted from entity tags to
// (uid, package) app records, with the change-log/byte-budget/
// deleted-apps-ring mechanics ported from
// _examples/original_source/statsd/src/packages/UidMap.cpp.
package uidmap

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/twmb/murmur3"

	"github.com/DataDog/datadog-agent/pkg/util/log"
	"github.com/DataDog/statsd-engine/pkg/matcher"
)

// BytesPerChangeRecord is the flat per-record accounting unit used to
// bound the change log's memory footprint, mirroring
// UidMap.cpp's kBytesChangeRecord.
const BytesPerChangeRecord = 112

// DefaultMaxBytes is the default change-log memory budget.
const DefaultMaxBytes = 50 * 1024

// DefaultMaxDeletedApps bounds how many deleted (uid, package) entries the
// map retains before evicting the oldest.
const DefaultMaxDeletedApps = 1000

// AppInfo is one entry of a full package table snapshot, as supplied to
// Update.
type AppInfo struct {
	UID             int32
	Package         string
	VersionCode     int64
	VersionString   string
	Installer       string
	CertificateHash []byte
}

// AppData is what the map stores per (uid, package).
type AppData struct {
	VersionCode     int64
	VersionString   string
	Installer       string
	CertificateHash []byte
	Deleted         bool
}

// ChangeRecord is one append-only log entry describing an upsert or
// removal, used to build the incremental report since a config's last
// append_report call.
type ChangeRecord struct {
	Deletion          bool
	TimestampNs       int64
	Package           string
	UID               int32
	NewVersion        int64
	PrevVersion       int64
	NewVersionString  string
	PrevVersionString string
}

// Listener receives UidMap notifications. Per spec.md §4.5 and §5,
// callbacks MUST be invoked after the map's lock is released.
type Listener interface {
	OnUidMapReceived(tsNs int64)
	OnAppUpgrade(tsNs int64, pkg string, uid int32, versionCode int64)
	OnAppRemoved(tsNs int64, pkg string, uid int32)
}

type appKey struct {
	uid int32
	pkg string
}

// Map is the UidMap of spec.md §4.5.
type Map struct {
	mu         sync.RWMutex
	store      map[appKey]AppData
	deleted    *lru.Cache[appKey, struct{}]
	changes    []ChangeRecord
	bytesUsed  int64
	maxBytes   int64
	lastReport map[string]int64

	isoMu    sync.RWMutex
	isolated map[int32]int32

	listenerMu sync.RWMutex
	listener   Listener

	// OnMemoryExceeded, if set, is invoked (without m.mu held) whenever the
	// change log is forced to evict entries to stay within maxBytes
	// (spec.md §7 "MAP_MEMORY_EXCEEDED"). It is a plain callback rather than
	// a Listener method because it has nothing to do with package state.
	OnMemoryExceeded func()
}

// New builds an empty Map. maxBytes bounds the change log; maxDeletedApps
// bounds the number of deleted-entry tombstones retained.
func New(maxBytes int64, maxDeletedApps int) *Map {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if maxDeletedApps <= 0 {
		maxDeletedApps = DefaultMaxDeletedApps
	}
	m := &Map{
		store:      make(map[appKey]AppData),
		isolated:   make(map[int32]int32),
		lastReport: make(map[string]int64),
		maxBytes:   maxBytes,
	}
	cache, err := lru.NewWithEvict[appKey, struct{}](maxDeletedApps, func(k appKey, _ struct{}) {
		delete(m.store, k)
	})
	if err != nil {
		// only occurs for a non-positive size, already guarded above.
		log.Errorf("uidmap: failed to build deleted-apps cache: %v", err)
	}
	m.deleted = cache
	return m
}

// SetListener installs l as the map's single subscriber.
func (m *Map) SetListener(l Listener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = l
}

func (m *Map) notify(fn func(Listener)) {
	m.listenerMu.RLock()
	l := m.listener
	m.listenerMu.RUnlock()
	if l != nil {
		fn(l)
	}
}

// Update atomically swaps the package table for apps, preserving any
// entries currently flagged deleted so the change log can still resolve
// them (spec.md §4.5 "update").
func (m *Map) Update(tsNs int64, apps []AppInfo) {
	m.mu.Lock()

	deletedEntries := make(map[appKey]AppData)
	for k, v := range m.store {
		if v.Deleted {
			deletedEntries[k] = v
		}
	}

	m.store = make(map[appKey]AppData, len(apps))
	for _, a := range apps {
		m.store[appKey{uid: a.UID, pkg: a.Package}] = AppData{
			VersionCode:     a.VersionCode,
			VersionString:   a.VersionString,
			Installer:       a.Installer,
			CertificateHash: a.CertificateHash,
		}
	}
	for k, v := range deletedEntries {
		if _, present := m.store[k]; !present {
			m.store[k] = v
		}
	}
	m.mu.Unlock()

	m.notify(func(l Listener) { l.OnUidMapReceived(tsNs) })
}

// Upsert installs or updates one (uid, package)'s version and listens
// (spec.md §4.5 "upsert"). Listeners only hear OnAppUpgrade for an actual
// upgrade of an existing entry, not a first-time install.
func (m *Map) Upsert(tsNs int64, uid int32, pkg string, versionCode int64, versionString, installer string, certHash []byte) {
	m.mu.Lock()
	key := appKey{uid: uid, pkg: pkg}
	existing, found := m.store[key]

	var prevVersion int64
	var prevVersionString string
	isUpgrade := false
	if found {
		prevVersion = existing.VersionCode
		prevVersionString = existing.VersionString
		isUpgrade = true
	}
	m.store[key] = AppData{
		VersionCode:     versionCode,
		VersionString:   versionString,
		Installer:       installer,
		CertificateHash: certHash,
	}

	m.changes = append(m.changes, ChangeRecord{
		TimestampNs:       tsNs,
		Package:           pkg,
		UID:               uid,
		NewVersion:        versionCode,
		PrevVersion:       prevVersion,
		NewVersionString:  versionString,
		PrevVersionString: prevVersionString,
	})
	m.bytesUsed += BytesPerChangeRecord
	evicted := m.ensureBytesUsedBelowLimitLocked()
	m.mu.Unlock()

	if evicted && m.OnMemoryExceeded != nil {
		m.OnMemoryExceeded()
	}
	if isUpgrade {
		m.notify(func(l Listener) { l.OnAppUpgrade(tsNs, pkg, uid, versionCode) })
	}
}

// Remove flags (uid, package) deleted, evicting the oldest deleted entry
// if the deleted-apps ring is over capacity (spec.md §4.5 "remove").
func (m *Map) Remove(tsNs int64, uid int32, pkg string) {
	m.mu.Lock()
	key := appKey{uid: uid, pkg: pkg}
	existing, found := m.store[key]

	var prevVersion int64
	var prevVersionString string
	if found && !existing.Deleted {
		prevVersion = existing.VersionCode
		prevVersionString = existing.VersionString
		existing.Deleted = true
		m.store[key] = existing
		m.deleted.Add(key, struct{}{})
	}

	m.changes = append(m.changes, ChangeRecord{
		Deletion:          true,
		TimestampNs:       tsNs,
		Package:           pkg,
		UID:               uid,
		PrevVersion:       prevVersion,
		PrevVersionString: prevVersionString,
	})
	m.bytesUsed += BytesPerChangeRecord
	evicted := m.ensureBytesUsedBelowLimitLocked()
	m.mu.Unlock()

	if evicted && m.OnMemoryExceeded != nil {
		m.OnMemoryExceeded()
	}
	m.notify(func(l Listener) { l.OnAppRemoved(tsNs, pkg, uid) })
}

// ensureBytesUsedBelowLimitLocked drops the oldest change records while
// the map is over its byte budget, and reports whether it had to. Callers
// must hold m.mu, and must invoke OnMemoryExceeded themselves after
// releasing it (spec.md §5: callbacks run after the lock is released).
func (m *Map) ensureBytesUsedBelowLimitLocked() (evicted bool) {
	for m.bytesUsed > m.maxBytes && len(m.changes) > 0 {
		m.changes = m.changes[1:]
		m.bytesUsed -= BytesPerChangeRecord
		evicted = true
	}
	return evicted
}

// HasApp reports whether a non-deleted (uid, package) entry exists.
func (m *Map) HasApp(uid int32, pkg string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.store[appKey{uid: uid, pkg: pkg}]
	return ok && !a.Deleted
}

// AppVersion returns the version code for a non-deleted entry, or 0.
func (m *Map) AppVersion(uid int32, pkg string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.store[appKey{uid: uid, pkg: pkg}]
	if !ok || a.Deleted {
		return 0
	}
	return a.VersionCode
}

// AppNamesFromUID returns every non-deleted package name installed at
// uid, lower-cased, for matcher string-field resolution (spec.md §4.1:
// "after lower-casing, any package name owning that UID").
func (m *Map) AppNamesFromUID(uid int32) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for k, v := range m.store {
		if k.uid == uid && !v.Deleted {
			names = append(names, normalizeAppName(k.pkg))
		}
	}
	sort.Strings(names)
	return names
}

// PackageNames implements pkg/matcher.UIDResolver.
func (m *Map) PackageNames(uid int32) []string { return m.AppNamesFromUID(uid) }

// AIDName implements pkg/matcher.UIDResolver by delegating to the
// built-in Android-ID table; the map itself tracks no AID entries since
// none of them are ever installed packages.
func (m *Map) AIDName(uid int32) (string, bool) { return matcher.AIDName(uid) }

func normalizeAppName(pkg string) string {
	b := []byte(pkg)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// AppUIDs returns every uid holding a non-deleted entry for package.
func (m *Map) AppUIDs(pkg string) []int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var uids []int32
	for k, v := range m.store {
		if k.pkg == pkg && !v.Deleted {
			uids = append(uids, k.uid)
		}
	}
	return uids
}

// AssignIsolated records isolatedUID as an alias for parentUID.
func (m *Map) AssignIsolated(isolatedUID, parentUID int32) {
	m.isoMu.Lock()
	defer m.isoMu.Unlock()
	m.isolated[isolatedUID] = parentUID
}

// RemoveIsolated forgets isolatedUID's alias.
func (m *Map) RemoveIsolated(isolatedUID int32) {
	m.isoMu.Lock()
	defer m.isoMu.Unlock()
	delete(m.isolated, isolatedUID)
}

// HostUIDOrSelf resolves an isolated uid to its parent, or returns uid
// unchanged if it is not an isolated process.
func (m *Map) HostUIDOrSelf(uid int32) int32 {
	m.isoMu.RLock()
	defer m.isoMu.RUnlock()
	if parent, ok := m.isolated[uid]; ok {
		return parent
	}
	return uid
}

// BytesUsed reports the change log's current memory accounting.
func (m *Map) BytesUsed() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bytesUsed
}

// SnapshotEntry is one package table row in an append_report snapshot.
type SnapshotEntry struct {
	UID               int32
	Package           string
	PackageHash       uint64
	VersionCode       int64
	VersionString     string
	VersionStringHash uint64
	Installer         string
	InstallerHash     uint64
	CertHash          []byte
	Deleted           bool
}

// ReportOptions controls what append_report includes, per spec.md §4.5.
type ReportOptions struct {
	IncludeVersionStrings bool
	IncludeInstaller      bool
	CertHashTruncateBytes int
	IncludeStringHashes   bool
}

// Report is the output of AppendReport: a full snapshot of the current
// table plus the change log accumulated since this config key's last
// report.
type Report struct {
	TimestampNs int64
	Snapshot    []SnapshotEntry
	Changes     []ChangeRecord
}

// AppendReport writes a snapshot of the current package table plus the
// change log since configKey's last report, advances
// last_report[configKey], and garbage-collects change records older than
// the minimum last_report across every config key (spec.md §4.5
// "append_report").
func (m *Map) AppendReport(tsNs int64, configKey string, opts ReportOptions) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	since := m.lastReport[configKey]
	var changes []ChangeRecord
	for _, c := range m.changes {
		if c.TimestampNs > since {
			changes = append(changes, c)
		}
	}

	snapshot := make([]SnapshotEntry, 0, len(m.store))
	for k, v := range m.store {
		entry := SnapshotEntry{UID: k.uid, Package: k.pkg, VersionCode: v.VersionCode, Deleted: v.Deleted}
		if opts.IncludeVersionStrings {
			entry.VersionString = v.VersionString
		}
		if opts.IncludeInstaller {
			entry.Installer = v.Installer
		}
		if n := opts.CertHashTruncateBytes; n > 0 {
			if n > len(v.CertificateHash) {
				n = len(v.CertificateHash)
			}
			entry.CertHash = append([]byte(nil), v.CertificateHash[:n]...)
		}
		if opts.IncludeStringHashes {
			entry.PackageHash = murmur3.Sum64([]byte(k.pkg))
			if opts.IncludeVersionStrings {
				entry.VersionStringHash = murmur3.Sum64([]byte(v.VersionString))
			}
			if opts.IncludeInstaller {
				entry.InstallerHash = murmur3.Sum64([]byte(v.Installer))
			}
		}
		snapshot = append(snapshot, entry)
	}

	m.lastReport[configKey] = tsNs
	cutoff := m.minimumReportTimestampLocked()
	kept := m.changes[:0]
	for _, c := range m.changes {
		if c.TimestampNs >= cutoff {
			kept = append(kept, c)
		} else {
			m.bytesUsed -= BytesPerChangeRecord
		}
	}
	m.changes = kept

	return Report{TimestampNs: tsNs, Snapshot: snapshot, Changes: changes}
}

func (m *Map) minimumReportTimestampLocked() int64 {
	var min int64
	first := true
	for _, ts := range m.lastReport {
		if first || ts < min {
			min = ts
			first = false
		}
	}
	return min
}

// OnConfigAdded registers configKey so its first AppendReport sees the
// entire change log accumulated so far.
func (m *Map) OnConfigAdded(configKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReport[configKey] = -1
}

// OnConfigRemoved forgets configKey's reporting cursor.
func (m *Map) OnConfigRemoved(configKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lastReport, configKey)
}
