// Package build implements the Build Coordinator (spec §4.E): dependency
// DAG analysis, topological build ordering, and sequential or bounded
// parallel build execution with a cascade-skip failure policy.
package build

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tommy2118/tcf-platform/internal/apperrors"
	"github.com/tommy2118/tcf-platform/internal/registry"
)

// Status is the terminal (or in-flight) state of one service's build.
type Status string

const (
	StatusPending Status = "pending"
	StatusBuilding Status = "building"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
)

// Result is one service's build outcome.
type Result struct {
	Service  string
	Status   Status
	Reason   string
	Duration time.Duration
	Err      error
}

// ImageInfo mirrors orchestrator.ImageProbeResult fields needed for the
// build status report, kept decoupled from the orchestrator package so
// build has no import-time dependency on it.
type ImageInfo struct {
	Present   bool
	ImageID   string
	CreatedAt time.Time
	SizeBytes int64
}

// StatusReport is one service's entry in the build status report (§4.E).
type StatusReport struct {
	Service   string
	Present   bool
	ImageID   string
	CreatedAt time.Time
	SizeBytes int64
	AgeHours  float64
}

// resultMap is a mutex-guarded map used to share build results across the
// worker goroutines BuildParallel spawns.
type resultMap struct {
	mu sync.Mutex
	m  map[string]Result
}

func newResultMap() *resultMap {
	return &resultMap{m: make(map[string]Result)}
}

func (r *resultMap) set(svc string, res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[svc] = res
}

func (r *resultMap) snapshot() map[string]Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Result, len(r.m))
	for k, v := range r.m {
		out[k] = v
	}
	return out
}

// Builder runs the external build command for one service.
type Builder func(ctx context.Context, service string) error

// RepoChecker reports whether a service's source repository exists on disk.
type RepoChecker func(service string) bool

// ImageProber returns image metadata for a service, used by the status report.
type ImageProber func(ctx context.Context, service string) (ImageInfo, error)

// Coordinator drives dependency-ordered builds for a set of services.
type Coordinator struct {
	reg     *registry.Registry
	build   Builder
	hasRepo RepoChecker
	probe   ImageProber

	// Parallelism bounds how many builds run concurrently in parallel mode.
	// Zero means unbounded.
	Parallelism int
}

// New builds a Coordinator. hasRepo and probe may be nil; nil hasRepo
// means every repository is assumed present.
func New(reg *registry.Registry, builder Builder, hasRepo RepoChecker, probe ImageProber) *Coordinator {
	return &Coordinator{reg: reg, build: builder, hasRepo: hasRepo, probe: probe, Parallelism: 4}
}

// cycleError is returned by order() when the dependency graph contains a
// cycle; it carries the full node sequence per spec §4.E.
type cycleError struct {
	path []string
}

func (e *cycleError) Error() string {
	return "circular dependency: " + strings.Join(e.path, " -> ")
}

// allNames returns the name of every registered service.
func (c *Coordinator) allNames() []string {
	svcs := c.reg.Services()
	names := make([]string, 0, len(svcs))
	for _, s := range svcs {
		names = append(names, s.Name)
	}
	return names
}

// order computes the Kahn topological build order (dependencies first) for
// the closure of names under the registry's dependency relation. If names
// is empty, every registered service is included.
func (c *Coordinator) order(names []string) ([]string, error) {
	var universe []string
	if len(names) == 0 {
		universe = c.allNames()
	} else {
		closure, err := c.reg.Resolve(names...)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindValidation, "failed to resolve dependency closure", err)
		}
		universe = closure
	}

	if cyclePath := c.detectCycle(universe); cyclePath != nil {
		return nil, apperrors.New(apperrors.KindCircularDependency, (&cycleError{path: cyclePath}).Error()).
			WithContext(map[string]any{"cycle": cyclePath})
	}

	inSet := make(map[string]bool, len(universe))
	for _, n := range universe {
		inSet[n] = true
	}

	// indegree counts, within the universe, how many dependencies each node
	// still waits on, and dependents maps each dependency to the services
	// that need it, so that dependencies pop first.
	indegree := make(map[string]int, len(universe))
	dependents := make(map[string][]string, len(universe))
	for _, n := range universe {
		indegree[n] = 0
	}
	for _, n := range universe {
		svc, ok := c.reg.Get(n)
		if !ok {
			continue
		}
		for _, dep := range svc.Dependencies {
			if !inSet[dep] {
				continue
			}
			dependents[dep] = append(dependents[dep], n)
			indegree[n]++
		}
	}

	var queue []string
	for _, n := range universe {
		if indegree[n] == 0 {
			queue = append(queue, n)
		}
	}
	sort.Strings(queue)

	var out []string
	for len(queue) > 0 {
		sort.Strings(queue)
		node := queue[0]
		queue = queue[1:]
		out = append(out, node)
		for _, dep := range dependents[node] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(out) != len(universe) {
		// Kahn's algorithm failing to consume every node despite the DFS
		// cycle check finding none indicates a registry inconsistency;
		// report it the same way as an explicit cycle.
		return nil, apperrors.New(apperrors.KindCircularDependency, "dependency graph could not be fully ordered")
	}
	return out, nil
}

// detectCycle runs a DFS with a recursion stack across universe, returning
// the full cycle node sequence if one is found, or nil.
func (c *Coordinator) detectCycle(universe []string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(universe))
	var stack []string

	var visit func(node string) []string
	visit = func(node string) []string {
		color[node] = gray
		stack = append(stack, node)

		svc, ok := c.reg.Get(node)
		if ok {
			for _, dep := range svc.Dependencies {
				switch color[dep] {
				case white:
					if cyc := visit(dep); cyc != nil {
						return cyc
					}
				case gray:
					// Found a back edge; reconstruct the cycle from the stack.
					idx := 0
					for i, n := range stack {
						if n == dep {
							idx = i
							break
						}
					}
					cyc := append([]string{}, stack[idx:]...)
					cyc = append(cyc, dep)
					return cyc
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[node] = black
		return nil
	}

	for _, n := range universe {
		if color[n] == white {
			if cyc := visit(n); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// BuildSequential builds services (or every registered service if empty)
// one at a time in dependency order, applying the cascade-skip policy.
func (c *Coordinator) BuildSequential(ctx context.Context, services []string) ([]Result, error) {
	order, err := c.order(services)
	if err != nil {
		return nil, err
	}

	results := make(map[string]Result, len(order))
	out := make([]Result, 0, len(order))
	for _, svc := range order {
		res := c.buildOne(ctx, svc, results)
		results[svc] = res
		out = append(out, res)
	}
	return out, nil
}

// BuildParallel builds the dependency closure with a worker pool bounded by
// Parallelism, starting a service only once every dependency has reached a
// terminal status.
func (c *Coordinator) BuildParallel(ctx context.Context, services []string) ([]Result, error) {
	order, err := c.order(services)
	if err != nil {
		return nil, err
	}

	limit := int64(c.Parallelism)
	if limit <= 0 {
		limit = int64(len(order))
		if limit == 0 {
			limit = 1
		}
	}
	sem := semaphore.NewWeighted(limit)

	results := newResultMap()
	done := make(map[string]chan struct{}, len(order))
	for _, svc := range order {
		done[svc] = make(chan struct{})
	}

	svcDeps := make(map[string][]string, len(order))
	for _, svc := range order {
		s, ok := c.reg.Get(svc)
		if ok {
			svcDeps[svc] = s.Dependencies
		}
	}

	var wg sync.WaitGroup
	for _, svc := range order {
		svc := svc
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, dep := range svcDeps[svc] {
				if ch, ok := done[dep]; ok {
					<-ch
				}
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				results.set(svc, Result{Service: svc, Status: StatusSkipped, Reason: "context cancelled"})
				close(done[svc])
				return
			}
			res := c.buildOne(ctx, svc, results.snapshot())
			sem.Release(1)
			results.set(svc, res)
			close(done[svc])
		}()
	}
	wg.Wait()

	out := make([]Result, 0, len(order))
	snap := results.snapshot()
	for _, svc := range order {
		out = append(out, snap[svc])
	}
	return out, nil
}

func (c *Coordinator) buildOne(ctx context.Context, svc string, prior map[string]Result) Result {
	regSvc, ok := c.reg.Get(svc)
	if ok {
		for _, dep := range regSvc.Dependencies {
			if r, ok := prior[dep]; ok && (r.Status == StatusFailed || r.Status == StatusSkipped) {
				return Result{Service: svc, Status: StatusSkipped, Reason: "dependency failed"}
			}
		}
	}

	if c.hasRepo != nil && !c.hasRepo(svc) {
		return Result{Service: svc, Status: StatusSkipped, Reason: "repository not found"}
	}

	start := time.Now()
	if c.build == nil {
		return Result{Service: svc, Status: StatusFailed, Reason: "no build command configured", Duration: time.Since(start)}
	}
	if err := c.build(ctx, svc); err != nil {
		return Result{Service: svc, Status: StatusFailed, Reason: err.Error(), Duration: time.Since(start), Err: err}
	}
	return Result{Service: svc, Status: StatusSuccess, Duration: time.Since(start)}
}

// StatusReport produces the build status report (§4.E) for services.
func (c *Coordinator) StatusReport(ctx context.Context, services []string, now time.Time) ([]StatusReport, error) {
	if c.probe == nil {
		return nil, apperrors.New(apperrors.KindConfigurationMissing, "no image prober configured")
	}
	if len(services) == 0 {
		services = c.allNames()
	}

	reports := make([]StatusReport, 0, len(services))
	for _, svc := range services {
		info, err := c.probe(ctx, svc)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindCollection, fmt.Sprintf("image probe failed for %s", svc), err)
		}
		report := StatusReport{Service: svc, Present: info.Present, ImageID: info.ImageID, CreatedAt: info.CreatedAt, SizeBytes: info.SizeBytes}
		if info.Present && !info.CreatedAt.IsZero() {
			report.AgeHours = now.Sub(info.CreatedAt).Hours()
		}
		reports = append(reports, report)
	}
	return reports, nil
}
