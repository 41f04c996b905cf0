package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// configCommand implements the `config` verb family (spec §4.B): show
// the current validated snapshot, reload it, or validate without
// installing.
func (c *CLI) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate environment configuration",
	}

	cmd.AddCommand(c.configShowCommand(), c.configReloadCommand(), c.configValidateCommand())
	return cmd
}

func (c *CLI) configShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current configuration snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := c.cfgStore.Current()
			if c.format == "json" {
				fmt.Printf("{\"environment\":%q,\"services\":%d}\n", snap.Environment, len(c.reg.Services()))
				return nil
			}
			fmt.Printf("environment: %s\n", snap.Environment)
			fmt.Printf("services:    %d\n", len(c.reg.Services()))
			return nil
		},
	}
}

func (c *CLI) configReloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-derive configuration and atomically swap it in",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.cfgStore.Reload(); err != nil {
				return c.renderErr(err)
			}
			c.renderOK("configuration reloaded")
			return nil
		},
	}
}

func (c *CLI) configValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the current configuration snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfgStore.Current().Validate(); err != nil {
				return c.renderErr(err)
			}
			c.renderOK("configuration is valid")
			return nil
		},
	}
}
