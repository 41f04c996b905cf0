package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// buildCommand implements the `build` verb family (spec §4.E): run a
// dependency-ordered build sequentially or in parallel, and report
// per-service image status.
func (c *CLI) buildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build service images in dependency order",
	}
	cmd.AddCommand(c.buildRunCommand(), c.buildStatusCommand())
	return cmd
}

func (c *CLI) buildRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [services...]",
		Short: "Build the given services, or every registered service",
		RunE: func(cmd *cobra.Command, args []string) error {
			parallel, _ := cmd.Flags().GetBool("parallel")
			ctx := context.Background()

			run := c.builder.BuildSequential
			if parallel {
				run = c.builder.BuildParallel
			}
			results, err := run(ctx, args)
			if err != nil {
				return c.renderErr(err)
			}

			if c.format == "json" {
				fmt.Print("[")
				for i, r := range results {
					if i > 0 {
						fmt.Print(",")
					}
					fmt.Printf("{\"service\":%q,\"status\":%q,\"reason\":%q}", r.Service, r.Status, r.Reason)
				}
				fmt.Println("]")
				return nil
			}
			fmt.Printf("%-16s %-10s %s\n", "SERVICE", "STATUS", "REASON")
			for _, r := range results {
				fmt.Printf("%-16s %-10s %s\n", r.Service, r.Status, r.Reason)
			}
			return nil
		},
	}
	cmd.Flags().Bool("parallel", false, "build independent services concurrently")
	return cmd
}

func (c *CLI) buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [services...]",
		Short: "Show image status for the given services, or every service",
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, err := c.builder.StatusReport(context.Background(), args, time.Now())
			if err != nil {
				return c.renderErr(err)
			}
			if c.format == "json" {
				var b strings.Builder
				b.WriteString("[")
				for i, r := range reports {
					if i > 0 {
						b.WriteString(",")
					}
					fmt.Fprintf(&b, "{\"service\":%q,\"present\":%v,\"image_id\":%q,\"age_hours\":%.1f}", r.Service, r.Present, r.ImageID, r.AgeHours)
				}
				b.WriteString("]")
				fmt.Println(b.String())
				return nil
			}
			fmt.Printf("%-16s %-8s %-20s %s\n", "SERVICE", "PRESENT", "IMAGE", "AGE (h)")
			for _, r := range reports {
				fmt.Printf("%-16s %-8v %-20s %.1f\n", r.Service, r.Present, r.ImageID, r.AgeHours)
			}
			return nil
		},
	}
	return cmd
}
