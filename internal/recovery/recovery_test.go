package recovery

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tommy2118/tcf-platform/internal/backup"
)

func makeBackup(t *testing.T, baseDir, id string) {
	t.Helper()
	bm := backup.New(baseDir)
	bm.Databases = []string{"platformdb"}
	bm.DatabaseDumper = fakeDumper{}
	_, err := bm.Create(context.Background(), id, backup.KindFull, "")
	require.NoError(t, err)
}

type fakeDumper struct{}

func (fakeDumper) Dump(ctx context.Context, database string, w io.Writer) error {
	_, err := w.Write([]byte("-- dump of " + database))
	return err
}

func TestValidateIntegritySucceedsForIntactBackup(t *testing.T) {
	baseDir := t.TempDir()
	makeBackup(t, baseDir, "backup-1")

	m := New(baseDir)
	meta, err := m.ValidateIntegrity("backup-1")
	require.NoError(t, err)
	assert.Equal(t, "backup-1", meta.ID)
}

func TestValidateIntegrityFailsOnMissingDirectory(t *testing.T) {
	m := New(t.TempDir())
	_, err := m.ValidateIntegrity("nonexistent")
	require.Error(t, err)
}

func TestValidateIntegrityFailsOnChecksumMismatch(t *testing.T) {
	baseDir := t.TempDir()
	makeBackup(t, baseDir, "backup-1")

	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "backup-1", "database-platformdb.sql"), []byte("tampered"), 0o644))

	m := New(baseDir)
	_, err := m.ValidateIntegrity("backup-1")
	require.Error(t, err)
}

type captureRestorer struct {
	payload []byte
	fail    bool
}

func (c *captureRestorer) Restore(ctx context.Context, component string, r io.Reader) error {
	if c.fail {
		return assertErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.payload = data
	return nil
}

type dummyErr struct{}

func (dummyErr) Error() string { return "restore failed" }

var assertErr = dummyErr{}

func TestRestoreAppliesSelectedComponents(t *testing.T) {
	baseDir := t.TempDir()
	makeBackup(t, baseDir, "backup-1")

	restorer := &captureRestorer{}
	m := New(baseDir)
	m.Restorers["database-platformdb"] = restorer

	report, err := m.Restore(context.Background(), "backup-1", []string{"database-platformdb"})
	require.NoError(t, err)
	assert.Equal(t, backup.StatusCompleted, report.Status)
	require.Len(t, report.Components, 1)
	assert.True(t, bytes.Contains(restorer.payload, []byte("platformdb")))
}

func TestRestoreReportsFailedWhenNoRestorerRegistered(t *testing.T) {
	baseDir := t.TempDir()
	makeBackup(t, baseDir, "backup-1")

	m := New(baseDir)
	report, err := m.Restore(context.Background(), "backup-1", nil)
	require.NoError(t, err)
	assert.Equal(t, backup.StatusFailed, report.Status)
}

func TestListFiltersByDateRangeAndSortsDescending(t *testing.T) {
	baseDir := t.TempDir()
	bm := backup.New(baseDir)
	bm.Databases = []string{"platformdb"}
	bm.DatabaseDumper = fakeDumper{}

	ctx := context.Background()
	_, err := bm.Create(ctx, "backup-old", backup.KindFull, "")
	require.NoError(t, err)
	from := time.Now()
	_, err = bm.Create(ctx, "backup-new", backup.KindFull, "")
	require.NoError(t, err)

	m := New(baseDir)
	all, err := m.List(nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "backup-new", all[0].ID)
	assert.Equal(t, "backup-old", all[1].ID)

	metas, err := m.List(&from, nil)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "backup-new", metas[0].ID)
}
