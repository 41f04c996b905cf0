package repocoord

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls   [][]string
	outputs map[string]string
	fail    map[string]bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outputs: map[string]string{}, fail: map[string]bool{}}
}

func (f *fakeRunner) run(ctx context.Context, dir string, args ...string) (string, error) {
	key := dir + "|" + args[0]
	f.calls = append(f.calls, append([]string{dir}, args...))
	if f.fail[key] {
		return "", assertErr
	}
	return f.outputs[key], nil
}

var assertErr = errDummy{}

type errDummy struct{}

func (errDummy) Error() string { return "git command failed" }

func TestDiscoverReportsMissingRepo(t *testing.T) {
	dir := t.TempDir()
	c := New(map[string]string{"gateway": "https://example.com/gateway.git"}, dir)
	states, err := c.Discover(context.Background())
	require.NoError(t, err)
	require.Contains(t, states, "gateway")
	assert.False(t, states["gateway"].Exists)
	assert.False(t, states["gateway"].IsGitTree)
}

func TestDiscoverDetectsExistingNonGitDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "gateway"), 0o755))
	c := New(map[string]string{"gateway": "https://example.com/gateway.git"}, dir)
	states, err := c.Discover(context.Background())
	require.NoError(t, err)
	assert.True(t, states["gateway"].Exists)
	assert.False(t, states["gateway"].IsGitTree)
}

func TestDiscoverReadsGitState(t *testing.T) {
	dir := t.TempDir()
	repoPath := filepath.Join(dir, "gateway")
	require.NoError(t, os.MkdirAll(filepath.Join(repoPath, ".git"), 0o755))

	fr := newFakeRunner()
	fr.outputs[repoPath+"|rev-parse"] = "main\n"
	fr.outputs[repoPath+"|status"] = ""
	fr.outputs[repoPath+"|log"] = "abc123\x1ffix bug\x1fJane Doe\x1f2026-01-01T00:00:00Z"

	c := New(map[string]string{"gateway": "https://example.com/gateway.git"}, dir)
	c.run = fr

	states, err := c.Discover(context.Background())
	require.NoError(t, err)
	state := states["gateway"]
	assert.True(t, state.IsGitTree)
	assert.Equal(t, "main", state.Branch)
	assert.True(t, state.Clean)
	require.NotNil(t, state.LastCommit)
	assert.Equal(t, "abc123", state.LastCommit.Hash)
	assert.Equal(t, "fix bug", state.LastCommit.Message)
}

func TestEnsureAllClonesMissingRepos(t *testing.T) {
	dir := t.TempDir()
	fr := newFakeRunner()
	c := New(map[string]string{"gateway": "https://example.com/gateway.git"}, dir)
	c.run = fr

	err := c.EnsureAll(context.Background())
	require.NoError(t, err)
	require.Len(t, fr.calls, 1)
	assert.Equal(t, "clone", fr.calls[0][1])
}

func TestEnsureAllReportsUnresolvedRepoNames(t *testing.T) {
	dir := t.TempDir()
	fr := newFakeRunner()
	fr.fail[dir+"|clone"] = true
	c := New(map[string]string{"gateway": "https://example.com/gateway.git"}, dir)
	c.run = fr

	err := c.EnsureAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway")
}

func TestUpdateAllReportsPerRepoOutcome(t *testing.T) {
	dir := t.TempDir()
	repoPath := filepath.Join(dir, "gateway")
	require.NoError(t, os.MkdirAll(repoPath, 0o755))

	fr := newFakeRunner()
	c := New(map[string]string{"gateway": "https://example.com/gateway.git"}, dir)
	c.run = fr

	outcomes := c.UpdateAll(context.Background(), nil)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Updated)
	assert.False(t, outcomes[0].Failed)
}

func TestUpdateAllFailsForMissingRepo(t *testing.T) {
	dir := t.TempDir()
	c := New(map[string]string{"gateway": "https://example.com/gateway.git"}, dir)
	outcomes := c.UpdateAll(context.Background(), []string{"gateway"})
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Failed)
}
