// Package backup implements the Backup Manager (spec §4.J): independent
// per-component capture (relational databases, cache, vector store,
// repositories, configuration), each caught so one failure never aborts
// the others, rolled up into an overall backup status and a metadata
// document whose presence on disk is the backup's existence.
package backup

import (
	"archive/tar"
	"compress/gzip"
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
)

// Status is a component or overall backup outcome.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPartial   Status = "partial"
)

// Kind distinguishes a full backup from an incremental one.
type Kind string

const (
	KindFull        Kind = "full"
	KindIncremental Kind = "incremental"
)

// ComponentResult is one component's capture outcome.
type ComponentResult struct {
	Name     string
	Status   Status
	SizeBytes int64
	Duration time.Duration
	Checksum string
	Kind     Kind
	Error    string
}

// Metadata is the plain-JSON document written into a backup's directory;
// its presence on disk is the backup's existence (spec §4.J).
type Metadata struct {
	ID           string            `json:"id"`
	CreatedAt    time.Time         `json:"created_at"`
	Kind         Kind              `json:"kind"`
	BaseBackupID string            `json:"base_backup_id,omitempty"`
	Status       Status            `json:"status"`
	Components   []ComponentResult `json:"components"`
}

// DatabaseDumper produces a logical dump of one database.
type DatabaseDumper interface {
	Dump(ctx context.Context, database string, w io.Writer) error
}

// CacheSnapshotter produces a point-in-time snapshot of the key-value cache.
type CacheSnapshotter interface {
	Snapshot(ctx context.Context, w io.Writer) error
}

// VectorStoreBackup archives a vector collection's storage.
type VectorStoreBackup interface {
	Backup(ctx context.Context, collection string, w io.Writer) error
}

// Manager coordinates per-component capture into a directory tree rooted
// at BaseDir, one subdirectory per backup id.
type Manager struct {
	BaseDir    string
	Databases  []string
	Collections []string
	RepoDirs   map[string]string // repo name -> path
	ConfigDir  string

	DatabaseDumper    DatabaseDumper
	CacheSnapshotter  CacheSnapshotter
	VectorStoreBackup VectorStoreBackup

	now func() time.Time
}

// New builds a Manager rooted at baseDir.
func New(baseDir string) *Manager {
	return &Manager{BaseDir: baseDir, RepoDirs: map[string]string{}, now: time.Now}
}

func (m *Manager) dir(id string) string {
	return filepath.Join(m.BaseDir, id)
}

// Create runs a backup of id, of the given kind, returning the written
// metadata document. baseBackupID is required (and recorded) for
// incremental backups.
func (m *Manager) Create(ctx context.Context, id string, kind Kind, baseBackupID string) (Metadata, error) {
	if kind == KindIncremental && baseBackupID == "" {
		return Metadata{}, apperrors.New(apperrors.KindValidation, "incremental backup requires a base backup id")
	}

	dir := m.dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Metadata{}, apperrors.Wrap(apperrors.KindStorage, "failed to create backup directory", err)
	}

	var results []ComponentResult
	for _, db := range m.Databases {
		results = append(results, m.captureDatabase(ctx, dir, db, kind))
	}
	if m.CacheSnapshotter != nil {
		results = append(results, m.captureCache(ctx, dir, kind))
	}
	for _, collection := range m.Collections {
		results = append(results, m.captureVectorCollection(ctx, dir, collection, kind))
	}
	for name, path := range m.RepoDirs {
		results = append(results, m.captureArchive(dir, "repo-"+name, path, kind))
	}
	if m.ConfigDir != "" {
		results = append(results, m.captureArchive(dir, "config", m.ConfigDir, kind))
	}

	meta := Metadata{
		ID:           id,
		CreatedAt:    m.now(),
		Kind:         kind,
		BaseBackupID: baseBackupID,
		Status:       overallStatus(results),
		Components:   results,
	}

	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Metadata{}, apperrors.Wrap(apperrors.KindStorage, "failed to encode metadata", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), payload, 0o644); err != nil {
		return Metadata{}, apperrors.Wrap(apperrors.KindStorage, "failed to write metadata", err)
	}

	return meta, nil
}

func overallStatus(results []ComponentResult) Status {
	if len(results) == 0 {
		return StatusCompleted
	}
	completed, failed := 0, 0
	for _, r := range results {
		switch r.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}
	switch {
	case failed == 0:
		return StatusCompleted
	case completed == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

func (m *Manager) captureDatabase(ctx context.Context, dir, database string, kind Kind) ComponentResult {
	name := "database-" + database
	start := m.now()
	path := filepath.Join(dir, name+".sql")

	f, err := os.Create(path)
	if err != nil {
		return failedResult(name, kind, start, m.now(), err)
	}
	defer f.Close()

	hasher := sha256.New()
	mw := io.MultiWriter(f, hasher)
	if err := m.DatabaseDumper.Dump(ctx, database, mw); err != nil {
		return failedResult(name, kind, start, m.now(), err)
	}
	return successResult(name, kind, start, m.now(), path, hasher)
}

func (m *Manager) captureCache(ctx context.Context, dir string, kind Kind) ComponentResult {
	name := "cache"
	start := m.now()
	path := filepath.Join(dir, name+".rdb")

	f, err := os.Create(path)
	if err != nil {
		return failedResult(name, kind, start, m.now(), err)
	}
	defer f.Close()

	hasher := sha256.New()
	mw := io.MultiWriter(f, hasher)
	if err := m.CacheSnapshotter.Snapshot(ctx, mw); err != nil {
		return failedResult(name, kind, start, m.now(), err)
	}
	return successResult(name, kind, start, m.now(), path, hasher)
}

func (m *Manager) captureVectorCollection(ctx context.Context, dir, collection string, kind Kind) ComponentResult {
	name := "vector-" + collection
	start := m.now()
	path := filepath.Join(dir, name+".snapshot")

	f, err := os.Create(path)
	if err != nil {
		return failedResult(name, kind, start, m.now(), err)
	}
	defer f.Close()

	hasher := sha256.New()
	mw := io.MultiWriter(f, hasher)
	if err := m.VectorStoreBackup.Backup(ctx, collection, mw); err != nil {
		return failedResult(name, kind, start, m.now(), err)
	}
	return successResult(name, kind, start, m.now(), path, hasher)
}

func (m *Manager) captureArchive(dir, name, sourceDir string, kind Kind) ComponentResult {
	start := m.now()
	path := filepath.Join(dir, name+".tar.gz")

	f, err := os.Create(path)
	if err != nil {
		return failedResult(name, kind, start, m.now(), err)
	}
	defer f.Close()

	hasher := sha256.New()
	mw := io.MultiWriter(f, hasher)
	gw := gzip.NewWriter(mw)
	tw := tar.NewWriter(gw)

	err = filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = rel
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err == nil {
		err = tw.Close()
	}
	if err == nil {
		err = gw.Close()
	}
	if err != nil {
		return failedResult(name, kind, start, m.now(), err)
	}
	return successResult(name, kind, start, m.now(), path, hasher)
}

func failedResult(name string, kind Kind, start, end time.Time, err error) ComponentResult {
	return ComponentResult{Name: name, Status: StatusFailed, Duration: end.Sub(start), Kind: kind, Error: err.Error()}
}

func successResult(name string, kind Kind, start, end time.Time, path string, hasher interface{ Sum([]byte) []byte }) ComponentResult {
	info, err := os.Stat(path)
	var size int64
	if err == nil {
		size = info.Size()
	}
	return ComponentResult{
		Name:      name,
		Status:    StatusCompleted,
		SizeBytes: size,
		Duration:  end.Sub(start),
		Checksum:  hex.EncodeToString(hasher.Sum(nil)),
		Kind:      kind,
	}
}

// LatestFullBackupID scans BaseDir for completed full backups and returns
// the most recent one's id, used as the base of an incremental backup.
func (m *Manager) LatestFullBackupID() (string, bool) {
	entries, err := os.ReadDir(m.BaseDir)
	if err != nil {
		return "", false
	}

	type candidate struct {
		id        string
		createdAt time.Time
	}
	var candidates []candidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := readMetadata(filepath.Join(m.BaseDir, e.Name()))
		if err != nil || meta.Kind != KindFull || meta.Status != StatusCompleted {
			continue
		}
		candidates = append(candidates, candidate{id: meta.ID, createdAt: meta.CreatedAt})
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].createdAt.After(candidates[j].createdAt) })
	return candidates[0].id, true
}

func readMetadata(dir string) (Metadata, error) {
	payload, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(payload, &meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}
