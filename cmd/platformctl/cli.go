// Package main implements platformctl, the control plane's single command
// surface (spec §6): config, build, repos, monitor, backup, restore, and
// prod, each a typed option set over the core packages.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tommy2118/tcf-platform/internal/apperrors"
	"github.com/tommy2118/tcf-platform/internal/backup"
	"github.com/tommy2118/tcf-platform/internal/build"
	"github.com/tommy2118/tcf-platform/internal/config"
	"github.com/tommy2118/tcf-platform/internal/deploy"
	"github.com/tommy2118/tcf-platform/internal/metrics"
	"github.com/tommy2118/tcf-platform/internal/monitor"
	"github.com/tommy2118/tcf-platform/internal/orchestrator"
	"github.com/tommy2118/tcf-platform/internal/recovery"
	"github.com/tommy2118/tcf-platform/internal/registry"
	"github.com/tommy2118/tcf-platform/internal/repocoord"
	"github.com/tommy2118/tcf-platform/pkg/logger"
)

// CLI wraps every manager platformctl's verbs drive, mirroring the
// teacher's migrations CLI: one struct of collaborators, one
// GetRootCommand building the subcommand tree.
type CLI struct {
	reg       *registry.Registry
	cfgStore  *config.Store
	orch      orchestrator.Orchestrator
	builder   *build.Coordinator
	repos     *repocoord.Coordinator
	collector *metrics.Collector
	validator *deploy.Validator
	lb        *deploy.LoadBalancer
	history   *deploy.History
	deployer  *deploy.BlueGreenDeployer
	mon       *monitor.Monitor
	backups   *backup.Manager
	restores  *recovery.Manager
	logger    *slog.Logger

	// format is the rendering mode requested by --format; set by the
	// root command's PersistentPreRunE before any RunE executes.
	format string
}

// NewCLI builds a CLI with every collaborator wired from env, the given
// environment, and the compose file / binary used to drive the engine.
func NewCLI(env config.Environment, composeFile string, composeBinary []string) (*CLI, error) {
	cfgStore, err := config.NewStore(env)
	if err != nil {
		return nil, err
	}

	reg := registry.Default()
	orch := orchestrator.NewComposeOrchestrator(reg, composeFile, composeBinary)
	log := logger.New(logger.Config{Level: "info", Format: "text", Output: "stderr"})

	baseDir := "./data"
	backups := backup.New(baseDir)
	restores := recovery.New(baseDir)

	for _, svc := range reg.ApplicationServices() {
		for _, dep := range svc.Dependencies {
			switch dep {
			case "relational-db":
				backups.Databases = append(backups.Databases, svc.Name)
			case "vector-db":
				backups.Collections = append(backups.Collections, svc.Name)
			}
		}
	}
	if len(backups.Databases) > 0 {
		if dsn, err := cfgStore.Current().DatabaseURL(backups.Databases[0]); err == nil {
			if dumper, err := backup.NewPgxDumper(context.Background(), dsn); err == nil {
				backups.DatabaseDumper = dumper
			} else {
				log.Warn("postgres backup dumper unavailable, database capture disabled", "error", err)
			}
		}
	}
	if cacheURL := cfgStore.Current().CacheURLTemplate; cacheURL != "" {
		if opts, err := redis.ParseURL(cacheURL); err == nil {
			backups.CacheSnapshotter = backup.NewRedisCacheSnapshotter(redis.NewClient(opts))
		} else {
			log.Warn("cache snapshotter unavailable, cache capture disabled", "error", err)
		}
	}
	if vectorURL := cfgStore.Current().VectorStoreURL; vectorURL != "" {
		backups.VectorStoreBackup = backup.NewQdrantVectorBackup(vectorURL)
	}

	builder := build.New(reg, orch.Build, nil, nil)

	repos := repocoord.New(cfgStore.Current().RepositoryURLs, "./repos")

	var targets []metrics.Target
	for _, svc := range reg.ApplicationServices() {
		targets = append(targets, metrics.Target{Service: svc.Name, Port: svc.Port, ScrapeMetrics: true})
	}

	collector := metrics.New(func(ctx context.Context, service string) (metrics.ContainerStats, error) {
		stats, err := orch.Stats(ctx, service)
		if err != nil {
			return metrics.ContainerStats{}, err
		}
		return metrics.ContainerStats{
			CPUPercent:      stats.CPUPercent,
			MemoryUsed:      stats.MemoryUsed,
			MemoryPercent:   stats.MemoryPercent,
			NetRxBytes:      stats.NetRxBytes,
			NetTxBytes:      stats.NetTxBytes,
			BlockReadBytes:  stats.BlockReadBytes,
			BlockWriteBytes: stats.BlockWriteBytes,
			ProcessCount:    stats.ProcessCount,
		}, nil
	}, targets)

	prevLookup := func(ctx context.Context, service string) (bool, bool) {
		prev, err := orch.PreviousDeployment(ctx, service)
		if err != nil {
			return false, false
		}
		return prev.Version != "", prev.BackupAvailable
	}
	validator := deploy.NewValidator(orch, nil, nil, prevLookup)

	lb := deploy.NewLoadBalancer("./data/lb", nil)
	history := deploy.NewHistory("./data/deploy-history")
	deployer := deploy.NewBlueGreenDeployer(orch, lb, validator, nil, history.Lookup)

	mon := monitor.New(orch, reg, collector, validator, nil, func(ctx context.Context) (bool, error) {
		_, ok := backups.LatestFullBackupID()
		return ok, nil
	})

	return &CLI{
		reg:       reg,
		cfgStore:  cfgStore,
		orch:      orch,
		builder:   builder,
		repos:     repos,
		collector: collector,
		validator: validator,
		lb:        lb,
		history:   history,
		deployer:  deployer,
		mon:       mon,
		backups:   backups,
		restores:  restores,
		logger:    log,
		format:    "table",
	}, nil
}

// GetRootCommand builds the full platformctl command tree.
func (c *CLI) GetRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "platformctl",
		Short: "Control plane for the platform's services",
		Long:  "platformctl drives the service registry, builds, repositories, metrics, backups, restores, and production deployments of the platform from one command surface.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be %q or %q", "table", "json")
			}
			c.format = format
			return nil
		},
	}

	root.PersistentFlags().String("format", "table", "output format: table or json")

	root.AddCommand(
		c.configCommand(),
		c.buildCommand(),
		c.reposCommand(),
		c.monitorCommand(),
		c.backupCommand(),
		c.restoreCommand(),
		c.prodCommand(),
	)

	return root
}

// Execute runs platformctl to completion.
func (c *CLI) Execute() error {
	return c.GetRootCommand().Execute()
}

// renderErr prints err as a one-line summary, or in --format json's
// {status, error, context, suggestions} envelope (spec §6: "never a
// stack dump").
func (c *CLI) renderErr(err error) error {
	if c.format != "json" {
		fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
		return err
	}

	kind := apperrors.KindOf(err)
	var ctxFields map[string]any
	if e, ok := err.(*apperrors.Error); ok {
		ctxFields = e.Context
	}
	payload, _ := json.Marshal(struct {
		Status      string         `json:"status"`
		Error       string         `json:"error"`
		Context     map[string]any `json:"context"`
		Suggestions []string       `json:"suggestions"`
	}{"error", err.Error(), ctxFields, apperrors.Suggestions(kind)})
	fmt.Println(string(payload))
	return err
}

func (c *CLI) renderOK(message string) {
	if c.format == "json" {
		fmt.Printf("{\"status\":\"ok\",\"message\":%q}\n", message)
		return
	}
	fmt.Println(message)
}
