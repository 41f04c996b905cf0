package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tommy2118/tcf-platform/internal/apperrors"
	"github.com/tommy2118/tcf-platform/internal/scrape"
)

// monitorCommand implements the `monitor` verb family (spec §4.F/§4.I/
// §4.O): the metrics+health scrape server, and start/stop/status control
// of the Production Monitor's background loops.
func (c *CLI) monitorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve metrics and control the production monitor's background loops",
	}
	cmd.AddCommand(c.monitorServeCommand(), c.monitorControlCommand(), c.monitorAlertsCommand())
	return cmd
}

func (c *CLI) monitorServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /metrics, /health, and /info on --port",
		RunE: func(cmd *cobra.Command, args []string) error {
			port, _ := cmd.Flags().GetInt("port")
			if port == 0 {
				port = 9100
			}

			source := func() ([]scrape.Family, error) {
				snap, err := c.collector.Collect(context.Background(), false)
				if err != nil {
					return nil, err
				}
				cpu := scrape.Family{Name: "service_cpu_percent", Help: "per-service CPU utilization percent", Type: prometheus.GaugeValue}
				mem := scrape.Family{Name: "service_memory_percent", Help: "per-service memory utilization percent", Type: prometheus.GaugeValue}
				for name, sm := range snap.Services {
					cpu.Samples = append(cpu.Samples, scrape.FamilySample{Service: name, Value: sm.CPUPercent, Timestamp: snap.Timestamp})
					mem.Samples = append(mem.Samples, scrape.FamilySample{Service: name, Value: sm.MemoryPercent, Timestamp: snap.Timestamp})
				}
				return []scrape.Family{cpu, mem}, nil
			}

			handler := scrape.New(scrape.Config{Port: port, Version: "1", StartedAt: time.Now()}, source, func() bool { return false })
			stdMux := http.NewServeMux()
			handler.Routes(stdMux)

			// gorilla/mux fronts the stdlib mux so future routes (e.g.
			// path-variable admin endpoints) can be added without
			// touching scrape.Handler's fixed Routes signature.
			router := mux.NewRouter()
			router.PathPrefix("/").Handler(stdMux)

			limiter := scrape.NewRateLimiter(600, 20)

			c.renderOK(fmt.Sprintf("serving metrics on :%d", port))
			srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: limiter.Wrap(router)}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return c.renderErr(apperrors.Wrap(apperrors.KindServerStartup, "metrics server failed", err))
			}
			return nil
		},
	}
	cmd.Flags().Int("port", 9100, "port to serve /metrics, /health, and /info on")
	return cmd
}

func (c *CLI) monitorControlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "control",
		Short: "Start, stop, or report the status of the production monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			action, _ := cmd.Flags().GetString("action")
			switch action {
			case "start":
				if err := c.mon.Start(context.Background()); err != nil {
					return c.renderErr(err)
				}
				c.renderOK("production monitor started")
			case "stop":
				c.mon.Stop()
				c.renderOK("production monitor stopped")
			case "status":
				status, err := c.mon.DeploymentHealthStatus(context.Background())
				if err != nil {
					return c.renderErr(err)
				}
				if c.format == "json" {
					fmt.Printf("{\"running\":%v,\"deployment_health\":%q}\n", c.mon.Running(), status)
					return nil
				}
				fmt.Printf("running:           %v\n", c.mon.Running())
				fmt.Printf("deployment_health: %s\n", status)
			default:
				return fmt.Errorf("--action must be one of start, stop, status")
			}
			return nil
		},
	}
	cmd.Flags().String("action", "status", "start, stop, or status")
	return cmd
}

func (c *CLI) monitorAlertsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "alerts",
		Short: "List the production monitor's current real-time alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			alerts, err := c.mon.RealTimeAlerts(context.Background())
			if err != nil {
				return c.renderErr(err)
			}
			if c.format == "json" {
				fmt.Print("[")
				for i, a := range alerts {
					if i > 0 {
						fmt.Print(",")
					}
					fmt.Printf("{\"type\":%q,\"severity\":%q,\"message\":%q}", a.Type, a.Severity, a.Message)
				}
				fmt.Println("]")
				return nil
			}
			for _, a := range alerts {
				fmt.Printf("[%s] %-16s %s\n", a.Severity, a.Type, a.Message)
			}
			return nil
		},
	}
}
