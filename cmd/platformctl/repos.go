package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// reposCommand implements the `repos` verb family (spec §4.D):
// discover, clone-if-missing, and pull-update the source repositories.
func (c *CLI) reposCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "Manage source repository checkouts",
	}
	cmd.AddCommand(c.reposDiscoverCommand(), c.reposEnsureCommand(), c.reposUpdateCommand())
	return cmd
}

func (c *CLI) reposDiscoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Report each repository's checkout state",
		RunE: func(cmd *cobra.Command, args []string) error {
			states, err := c.repos.Discover(context.Background())
			if err != nil {
				return c.renderErr(err)
			}
			if c.format == "json" {
				fmt.Print("{")
				first := true
				for name, st := range states {
					if !first {
						fmt.Print(",")
					}
					first = false
					fmt.Printf("%q:{\"exists\":%v,\"branch\":%q,\"clean\":%v}", name, st.Exists, st.Branch, st.Clean)
				}
				fmt.Println("}")
				return nil
			}
			fmt.Printf("%-16s %-8s %-16s %s\n", "REPO", "EXISTS", "BRANCH", "CLEAN")
			for name, st := range states {
				fmt.Printf("%-16s %-8v %-16s %v\n", name, st.Exists, st.Branch, st.Clean)
			}
			return nil
		},
	}
}

func (c *CLI) reposEnsureCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure",
		Short: "Clone every missing repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.repos.EnsureAll(context.Background()); err != nil {
				return c.renderErr(err)
			}
			c.renderOK("every repository is present")
			return nil
		},
	}
}

func (c *CLI) reposUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update [repos...]",
		Short: "Pull the latest commit for the given repositories, or all",
		RunE: func(cmd *cobra.Command, args []string) error {
			outcomes := c.repos.UpdateAll(context.Background(), args)
			if c.format == "json" {
				fmt.Print("[")
				for i, o := range outcomes {
					if i > 0 {
						fmt.Print(",")
					}
					fmt.Printf("{\"repo\":%q,\"updated\":%v}", o.Name, o.Updated)
				}
				fmt.Println("]")
				return nil
			}
			for _, o := range outcomes {
				fmt.Printf("%-16s updated=%v\n", o.Name, o.Updated)
			}
			return nil
		},
	}
}
