// Package repocoord implements the Repository Coordinator (spec §4.D):
// discovering, cloning, and updating the source tree for each configured
// service repository by shelling out to git.
package repocoord

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tommy2118/tcf-platform/internal/apperrors"
)

// Commit describes the latest commit of a repository's working tree.
type Commit struct {
	Hash    string
	Message string
	Author  string
	Date    time.Time
}

// State is the discovered state of one configured repository.
type State struct {
	Name       string
	Path       string
	Exists     bool
	IsGitTree  bool
	Branch     string
	Clean      bool
	LastCommit *Commit
}

// UpdateOutcome is the per-repo result of UpdateAll.
type UpdateOutcome struct {
	Name    string
	Updated bool
	Failed  bool
	Reason  string
}

// runner executes git commands; the seam repocoord_test.go substitutes.
type runner interface {
	run(ctx context.Context, dir string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return out.String(), nil
}

// Coordinator tracks and manages the on-disk source tree for every
// configured repository URL.
type Coordinator struct {
	// URLs maps repository name -> clone URL (spec §3's EnvironmentConfig
	// repository URL map).
	URLs map[string]string
	// BaseDir is where repositories are cloned, one subdirectory per name.
	BaseDir string

	run runner
	mu  sync.Mutex
}

// New builds a Coordinator for the given repository URL map rooted at baseDir.
func New(urls map[string]string, baseDir string) *Coordinator {
	return &Coordinator{URLs: urls, BaseDir: baseDir, run: execRunner{}}
}

func (c *Coordinator) path(name string) string {
	return filepath.Join(c.BaseDir, name)
}

// Discover inspects every configured repository's on-disk state.
func (c *Coordinator) Discover(ctx context.Context) (map[string]State, error) {
	result := make(map[string]State, len(c.URLs))
	names := c.sortedNames()
	for _, name := range names {
		result[name] = c.discoverOne(ctx, name)
	}
	return result, nil
}

func (c *Coordinator) sortedNames() []string {
	names := make([]string, 0, len(c.URLs))
	for name := range c.URLs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Coordinator) discoverOne(ctx context.Context, name string) State {
	path := c.path(name)
	state := State{Name: name, Path: path}

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return state
	}
	state.Exists = true

	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		return state
	}
	state.IsGitTree = true

	if branch, err := c.run.run(ctx, path, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		state.Branch = strings.TrimSpace(branch)
	}

	if status, err := c.run.run(ctx, path, "status", "--porcelain"); err == nil {
		state.Clean = strings.TrimSpace(status) == ""
	}

	if log, err := c.run.run(ctx, path, "log", "-1", "--format=%H%x1f%s%x1f%an%x1f%cI"); err == nil {
		if commit := parseCommit(log); commit != nil {
			state.LastCommit = commit
		}
	}

	return state
}

func parseCommit(log string) *Commit {
	log = strings.TrimSpace(log)
	if log == "" {
		return nil
	}
	fields := strings.Split(log, "\x1f")
	if len(fields) != 4 {
		return nil
	}
	date, _ := time.Parse(time.RFC3339, fields[3])
	return &Commit{Hash: fields[0], Message: fields[1], Author: fields[2], Date: date}
}

// EnsureAll clones every repository missing from disk. Failures accumulate
// and are surfaced as a single error listing every unresolved repository
// name, per spec §4.D.
func (c *Coordinator) EnsureAll(ctx context.Context) error {
	states, err := c.Discover(ctx)
	if err != nil {
		return err
	}

	var failed []string
	for _, name := range c.sortedNames() {
		if states[name].Exists {
			continue
		}
		url, ok := c.URLs[name]
		if !ok || url == "" {
			failed = append(failed, name)
			continue
		}
		if err := os.MkdirAll(c.BaseDir, 0o755); err != nil {
			failed = append(failed, name)
			continue
		}
		if _, err := c.run.run(ctx, c.BaseDir, "clone", url, c.path(name)); err != nil {
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		return apperrors.New(apperrors.KindStorage, "failed to clone repositories: "+strings.Join(failed, ", ")).
			WithContext(map[string]any{"repositories": failed})
	}
	return nil
}

// UpdateAll pulls every repository in subset (or every configured
// repository if subset is empty), reporting a per-repo outcome.
func (c *Coordinator) UpdateAll(ctx context.Context, subset []string) []UpdateOutcome {
	names := subset
	if len(names) == 0 {
		names = c.sortedNames()
	}

	outcomes := make([]UpdateOutcome, 0, len(names))
	for _, name := range names {
		outcomes = append(outcomes, c.updateOne(ctx, name))
	}
	return outcomes
}

func (c *Coordinator) updateOne(ctx context.Context, name string) UpdateOutcome {
	path := c.path(name)
	if _, err := os.Stat(path); err != nil {
		return UpdateOutcome{Name: name, Failed: true, Reason: "repository not found"}
	}
	if _, err := c.run.run(ctx, path, "pull", "--ff-only"); err != nil {
		return UpdateOutcome{Name: name, Failed: true, Reason: err.Error()}
	}
	return UpdateOutcome{Name: name, Updated: true}
}
