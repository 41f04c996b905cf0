// Package recovery implements the Recovery Manager (spec §4.K): integrity
// validation before any restore, selective component restore, and filtered
// backup listing. A RecoveryPoint only tags a caller-supplied map of
// captures; Restore creates no recovery point and does not undo components
// that were restored before a failure.
package recovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tommy2118/tcf-platform/internal/apperrors"
	"github.com/tommy2118/tcf-platform/internal/backup"
)

// RestoreResult is one component's restore outcome.
type RestoreResult struct {
	Name     string
	Status   backup.Status
	Duration time.Duration
	Error    string
}

// RestoreReport is the aggregate result of Restore().
type RestoreReport struct {
	BackupID   string
	Status     backup.Status
	Components []RestoreResult
}

// RecoveryPoint tags a caller-supplied map of component names to
// pre-restore captures. This package neither takes those captures nor
// restores from them.
type RecoveryPoint struct {
	Tag       string
	CreatedAt time.Time
	Snapshot  map[string]string // component name -> path to its pre-restore capture
}

// Restorer restores one named component from its backup file.
type Restorer interface {
	Restore(ctx context.Context, component string, r io.Reader) error
}

// Manager validates and restores backups from a Manager's BaseDir.
type Manager struct {
	BaseDir   string
	Restorers map[string]Restorer // component name -> restorer

	now func() time.Time
}

// New builds a Manager reading backups from baseDir.
func New(baseDir string) *Manager {
	return &Manager{BaseDir: baseDir, Restorers: map[string]Restorer{}, now: time.Now}
}

func (m *Manager) dir(id string) string {
	return filepath.Join(m.BaseDir, id)
}

// ValidateIntegrity checks directory presence, per-component checksums,
// and metadata structure, before any restore is attempted.
func (m *Manager) ValidateIntegrity(id string) (backup.Metadata, error) {
	dir := m.dir(id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return backup.Metadata{}, apperrors.New(apperrors.KindBackupCorrupted, "backup directory not found").
			WithContext(map[string]any{"backup_id": id})
	}

	meta, err := m.readMetadata(id)
	if err != nil {
		return backup.Metadata{}, apperrors.Wrap(apperrors.KindBackupCorrupted, "failed to read metadata", err).
			WithContext(map[string]any{"backup_id": id})
	}

	var failures []string
	for _, comp := range meta.Components {
		if comp.Status != backup.StatusCompleted {
			continue
		}
		path, ok := componentPath(dir, comp)
		if !ok {
			failures = append(failures, comp.Name+": unknown artifact path")
			continue
		}
		sum, err := checksumFile(path)
		if err != nil {
			failures = append(failures, comp.Name+": "+err.Error())
			continue
		}
		if sum != comp.Checksum {
			failures = append(failures, comp.Name+": checksum mismatch")
		}
	}

	if len(failures) > 0 {
		return backup.Metadata{}, apperrors.New(apperrors.KindBackupCorrupted, "backup integrity check failed").
			WithContext(map[string]any{"backup_id": id, "failures": failures})
	}

	return meta, nil
}

func componentPath(dir string, comp backup.ComponentResult) (string, bool) {
	candidates := []string{
		filepath.Join(dir, comp.Name+".sql"),
		filepath.Join(dir, comp.Name+".rdb"),
		filepath.Join(dir, comp.Name+".snapshot"),
		filepath.Join(dir, comp.Name+".tar.gz"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, true
		}
	}
	return "", false
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func (m *Manager) readMetadata(id string) (backup.Metadata, error) {
	payload, err := os.ReadFile(filepath.Join(m.dir(id), "metadata.json"))
	if err != nil {
		return backup.Metadata{}, err
	}
	var meta backup.Metadata
	if err := json.Unmarshal(payload, &meta); err != nil {
		return backup.Metadata{}, err
	}
	return meta, nil
}

// CreateRecoveryPoint returns a RecoveryPoint holding tag, the current time,
// and components exactly as given; it copies no files.
func (m *Manager) CreateRecoveryPoint(tag string, components map[string]string) RecoveryPoint {
	return RecoveryPoint{Tag: tag, CreatedAt: m.now(), Snapshot: components}
}

// Restore validates integrity, then restores the requested component
// subset (every component in the backup if empty).
func (m *Manager) Restore(ctx context.Context, id string, components []string) (RestoreReport, error) {
	meta, err := m.ValidateIntegrity(id)
	if err != nil {
		return RestoreReport{}, err
	}

	wanted := make(map[string]bool, len(components))
	for _, c := range components {
		wanted[c] = true
	}

	dir := m.dir(id)
	var results []RestoreResult
	for _, comp := range meta.Components {
		if len(wanted) > 0 && !wanted[comp.Name] {
			continue
		}
		results = append(results, m.restoreOne(ctx, dir, comp))
	}

	return RestoreReport{BackupID: id, Status: overallStatus(results), Components: results}, nil
}

func overallStatus(results []RestoreResult) backup.Status {
	if len(results) == 0 {
		return backup.StatusCompleted
	}
	completed, failed := 0, 0
	for _, r := range results {
		switch r.Status {
		case backup.StatusCompleted:
			completed++
		case backup.StatusFailed:
			failed++
		}
	}
	switch {
	case failed == 0:
		return backup.StatusCompleted
	case completed == 0:
		return backup.StatusFailed
	default:
		return backup.StatusPartial
	}
}

func (m *Manager) restoreOne(ctx context.Context, dir string, comp backup.ComponentResult) RestoreResult {
	start := m.now()
	restorer, ok := m.Restorers[comp.Name]
	if !ok {
		return RestoreResult{Name: comp.Name, Status: backup.StatusFailed, Duration: m.now().Sub(start), Error: "no restorer registered"}
	}

	path, ok := componentPath(dir, comp)
	if !ok {
		return RestoreResult{Name: comp.Name, Status: backup.StatusFailed, Duration: m.now().Sub(start), Error: "artifact not found"}
	}

	f, err := os.Open(path)
	if err != nil {
		return RestoreResult{Name: comp.Name, Status: backup.StatusFailed, Duration: m.now().Sub(start), Error: err.Error()}
	}
	defer f.Close()

	if err := restorer.Restore(ctx, comp.Name, f); err != nil {
		return RestoreResult{Name: comp.Name, Status: backup.StatusFailed, Duration: m.now().Sub(start), Error: err.Error()}
	}
	return RestoreResult{Name: comp.Name, Status: backup.StatusCompleted, Duration: m.now().Sub(start)}
}

// List returns every backup's metadata, newest first, optionally filtered
// to an inclusive [from, to] creation-date range.
func (m *Manager) List(from, to *time.Time) ([]backup.Metadata, error) {
	entries, err := os.ReadDir(m.BaseDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStorage, "failed to list backups", err)
	}

	var metas []backup.Metadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := m.readMetadata(e.Name())
		if err != nil {
			continue
		}
		if from != nil && meta.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && meta.CreatedAt.After(*to) {
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].CreatedAt.After(metas[j].CreatedAt) })
	return metas, nil
}
