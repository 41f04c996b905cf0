package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tommy2118/tcf-platform/internal/backup"
	"github.com/tommy2118/tcf-platform/internal/deploy"
)

// prodCommand implements the `prod` verb family (spec §4.L-§4.O): the
// closed set of six production verbs over one service at a time.
func (c *CLI) prodCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prod",
		Short: "Validate, deploy, roll back, and monitor production deployments",
	}
	cmd.AddCommand(
		c.prodDeployCommand(),
		c.prodRollbackCommand(),
		c.prodStatusCommand(),
		c.prodAuditCommand(),
		c.prodValidateCommand(),
		c.prodMonitorCommand(),
	)
	return cmd
}

func (c *CLI) serviceFlag(cmd *cobra.Command) string {
	service, _ := cmd.Flags().GetString("service")
	if service == "" {
		service = "gateway"
	}
	return service
}

func (c *CLI) requestFromFlags(cmd *cobra.Command, version string) deploy.DeploymentRequest {
	service := c.serviceFlag(cmd)
	svc, _ := c.reg.Get(service)
	return deploy.DeploymentRequest{
		Service:         service,
		Image:           "registry.example.com/" + service,
		Tag:             version,
		ReplicaCount:    1,
		RequestedCPU:    0.5,
		RequestedMemory: 512,
		LimitCPU:        1,
		LimitMemory:     1024,
		AvailableCPU:    4,
		AvailableMemory: 4096,
		HealthCheckPath: "/health",
		HealthTimeout:   5 * time.Second,
		HealthRetries:   3,
		Dependencies:    svc.Dependencies,
	}
}

func (c *CLI) prodDeployCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy VERSION",
		Short: "Run a blue/green (or rolling) deployment to VERSION",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy, _ := cmd.Flags().GetString("strategy")
			doBackup, _ := cmd.Flags().GetBool("backup")
			doValidate, _ := cmd.Flags().GetBool("validate")
			force, _ := cmd.Flags().GetBool("force")

			req := c.requestFromFlags(cmd, args[0])

			if doValidate && !force {
				outcome := c.mon.ValidateDeployment(context.Background(), req)
				if !outcome.Allowed {
					return c.renderErr(fmt.Errorf("preflight validation failed for %s: %d extra issue(s)", req.Service, len(outcome.Extra)))
				}
			}

			if doBackup {
				if _, err := c.backups.Create(context.Background(), req.Service+"-pre-deploy-"+args[0], backup.KindFull, ""); err != nil {
					c.logger.Warn("pre-deploy backup failed", "service", req.Service, "error", err)
				}
			}

			var result deploy.DeployResult
			switch strategy {
			case "rolling":
				result = c.deployer.SwitchInstant(context.Background(), req.Service, req.Service+"-"+args[0])
			default:
				result = c.deployer.Deploy(context.Background(), req, 2*time.Minute)
			}

			if !result.Success {
				return c.renderErr(fmt.Errorf("deployment failed: %s (manual_intervention_required=%v)", result.Reason, result.ManualInterventionNeeded))
			}

			serviceID := req.Service + "-" + args[0]
			if err := c.history.Record(req.Service, args[0], deploy.DeploymentRecord{
				Version:   args[0],
				ServiceID: serviceID,
				Image:     req.Image,
			}); err != nil {
				c.logger.Warn("failed to record deployment history", "service", req.Service, "version", args[0], "error", err)
			}

			c.renderOK(fmt.Sprintf("deployed %s %s via %s", req.Service, args[0], strategy))
			return nil
		},
	}
	cmd.Flags().String("strategy", "blue_green", "blue_green or rolling")
	cmd.Flags().String("service", "", "service to deploy (default: gateway)")
	cmd.Flags().Bool("backup", true, "create a pre-deploy backup")
	cmd.Flags().Bool("validate", true, "run preflight validation before deploying")
	cmd.Flags().Bool("force", false, "deploy even if preflight validation fails")
	return cmd
}

func (c *CLI) prodRollbackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback [VERSION]",
		Short: "Roll back a service to a recorded VERSION (positional arg or --to-version)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service := c.serviceFlag(cmd)
			toVersion, _ := cmd.Flags().GetString("to-version")
			if len(args) == 1 {
				toVersion = args[0]
			}
			if toVersion == "" {
				return fmt.Errorf("a target version is required, as a positional arg or --to-version")
			}

			result := c.deployer.RollbackManual(context.Background(), service, toVersion)
			if !result.Success {
				return c.renderErr(fmt.Errorf("rollback failed: %s (manual_intervention_required=%v)", result.Reason, result.ManualInterventionNeeded))
			}
			c.renderOK(fmt.Sprintf("rolled back %s to %s", service, toVersion))
			return nil
		},
	}
	cmd.Flags().String("service", "", "service to roll back (default: gateway)")
	cmd.Flags().String("to-version", "", "target version")
	return cmd
}

func (c *CLI) prodStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the blue/green state of --service",
		RunE: func(cmd *cobra.Command, args []string) error {
			service := c.serviceFlag(cmd)
			status := c.deployer.Status(service)
			if c.format == "json" {
				fmt.Printf("{\"service\":%q,\"current\":%q,\"blue_pct\":%d,\"green_pct\":%d}\n", service, status.Current, status.Blue.TrafficPct, status.Green.TrafficPct)
				return nil
			}
			fmt.Printf("service:   %s\n", service)
			fmt.Printf("current:   %s\n", status.Current)
			fmt.Printf("blue:      %d%% (%s)\n", status.Blue.TrafficPct, status.Blue.State)
			fmt.Printf("green:     %d%% (%s)\n", status.Green.TrafficPct, status.Green.State)
			return nil
		},
	}
}

func (c *CLI) prodAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run a production security and health audit",
		RunE: func(cmd *cobra.Command, args []string) error {
			comprehensive, _ := cmd.Flags().GetBool("comprehensive")
			output, _ := cmd.Flags().GetString("output")

			status, err := c.mon.DeploymentHealthStatus(context.Background())
			if err != nil {
				return c.renderErr(err)
			}
			alerts, err := c.mon.RealTimeAlerts(context.Background())
			if err != nil && c.mon.Running() {
				return c.renderErr(err)
			}

			report := map[string]any{
				"deployment_health": status,
				"alert_count":       len(alerts),
				"comprehensive":     comprehensive,
			}

			if output != "" {
				payload, _ := json.MarshalIndent(report, "", "  ")
				if err := os.WriteFile(output, payload, 0o644); err != nil {
					return c.renderErr(err)
				}
				c.renderOK("audit report written to " + output)
				return nil
			}

			if c.format == "json" {
				payload, _ := json.Marshal(report)
				fmt.Println(string(payload))
				return nil
			}
			fmt.Printf("deployment_health: %s\n", status)
			fmt.Printf("open alerts:       %d\n", len(alerts))
			return nil
		},
	}
	cmd.Flags().Bool("comprehensive", false, "mark the report as comprehensive (the same checks run either way)")
	cmd.Flags().String("output", "", "write the full report to this path instead of stdout")
	return cmd
}

func (c *CLI) prodValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate VERSION",
		Short: "Run the Deployment Validator's preflight checks without deploying",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := c.requestFromFlags(cmd, args[0])
			outcome := c.mon.ValidateDeployment(context.Background(), req)

			if c.format == "json" {
				payload, _ := json.Marshal(outcome)
				fmt.Println(string(payload))
			} else {
				fmt.Printf("allowed: %v\n", outcome.Allowed)
				for _, sub := range outcome.Report.SubValidations {
					fmt.Printf("  %-20s valid=%v %v\n", sub.Name, sub.Valid, sub.Errors)
				}
				for _, extra := range outcome.Extra {
					fmt.Printf("  extra: %s\n", extra)
				}
			}

			if !outcome.Allowed {
				return fmt.Errorf("validation failed")
			}
			return nil
		},
	}
	cmd.Flags().String("service", "", "service to validate (default: gateway)")
	return cmd
}

func (c *CLI) prodMonitorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor DEPLOYMENT_ID",
		Short: "Poll service health for one deployment id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.mon.MonitorDeployment(context.Background(), args[0])
			if err != nil {
				return c.renderErr(err)
			}
			if c.format == "json" {
				payload, _ := json.Marshal(report)
				fmt.Println(string(payload))
				return nil
			}
			fmt.Printf("deployment:     %s\n", report.DeploymentID)
			fmt.Printf("overall_health: %s\n", report.OverallHealth)
			for _, svc := range report.Services {
				fmt.Printf("  %-16s state=%-12s health=%s\n", svc.Service, svc.State, svc.Health)
			}
			return nil
		},
	}
}
