package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tommy2118/tcf-platform/internal/backup"
)

// backupCommand implements the `backup` verb family (spec §4.J): create
// a full or incremental backup and report the most recent full backup.
func (c *CLI) backupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create and inspect backups",
	}
	cmd.AddCommand(c.backupCreateCommand(), c.backupLatestCommand())
	return cmd
}

func (c *CLI) backupCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			incremental, _ := cmd.Flags().GetBool("incremental")
			base, _ := cmd.Flags().GetString("base")

			kind := backup.KindFull
			if incremental {
				kind = backup.KindIncremental
			}

			meta, err := c.backups.Create(context.Background(), args[0], kind, base)
			if err != nil {
				return c.renderErr(err)
			}

			if c.format == "json" {
				fmt.Printf("{\"id\":%q,\"kind\":%q,\"status\":%q,\"components\":%d}\n", meta.ID, meta.Kind, meta.Status, len(meta.Components))
				return nil
			}
			fmt.Printf("backup %s created: status=%s kind=%s components=%d\n", meta.ID, meta.Status, meta.Kind, len(meta.Components))
			for _, comp := range meta.Components {
				fmt.Printf("  %-20s %-10s %d bytes\n", comp.Name, comp.Status, comp.SizeBytes)
			}
			return nil
		},
	}
	cmd.Flags().Bool("incremental", false, "create an incremental backup instead of a full one")
	cmd.Flags().String("base", "", "base backup id (required for --incremental)")
	return cmd
}

func (c *CLI) backupLatestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Report the most recent full backup's id",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, ok := c.backups.LatestFullBackupID()
			if !ok {
				c.renderOK("no full backup found")
				return nil
			}
			c.renderOK("latest full backup: " + id)
			return nil
		},
	}
}
