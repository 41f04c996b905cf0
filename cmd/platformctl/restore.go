package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// restoreCommand implements the `restore` verb family (spec §4.K):
// validate a backup's integrity, list available backups, and restore
// selected components (or everything).
func (c *CLI) restoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Validate and restore from backups",
	}
	cmd.AddCommand(c.restoreListCommand(), c.restoreValidateCommand(), c.restoreRunCommand())
	return cmd
}

func (c *CLI) restoreListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every available backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			metas, err := c.restores.List(nil, nil)
			if err != nil {
				return c.renderErr(err)
			}
			if c.format == "json" {
				fmt.Print("[")
				for i, m := range metas {
					if i > 0 {
						fmt.Print(",")
					}
					fmt.Printf("{\"id\":%q,\"kind\":%q,\"status\":%q}", m.ID, m.Kind, m.Status)
				}
				fmt.Println("]")
				return nil
			}
			fmt.Printf("%-24s %-12s %s\n", "ID", "KIND", "STATUS")
			for _, m := range metas {
				fmt.Printf("%-24s %-12s %s\n", m.ID, m.Kind, m.Status)
			}
			return nil
		},
	}
}

func (c *CLI) restoreValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <backup-id>",
		Short: "Validate a backup's integrity before restoring it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := c.restores.ValidateIntegrity(args[0])
			if err != nil {
				return c.renderErr(err)
			}
			c.renderOK(fmt.Sprintf("backup %s is valid: %d components", meta.ID, len(meta.Components)))
			return nil
		},
	}
}

func (c *CLI) restoreRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <backup-id> [components...]",
		Short: "Restore a backup, or only the named components",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			components := args[1:]

			if _, err := c.restores.ValidateIntegrity(id); err != nil {
				return c.renderErr(err)
			}

			report, err := c.restores.Restore(context.Background(), id, components)
			if err != nil {
				return c.renderErr(err)
			}

			if c.format == "json" {
				fmt.Printf("{\"backup_id\":%q,\"status\":%q,\"components\":%d}\n", report.BackupID, report.Status, len(report.Components))
				return nil
			}
			fmt.Printf("restore of %s: status=%s\n", report.BackupID, report.Status)
			for _, comp := range report.Components {
				fmt.Printf("  %-20s %s\n", comp.Name, comp.Status)
			}
			return nil
		},
	}
	return cmd
}
