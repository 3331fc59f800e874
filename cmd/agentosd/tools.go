package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newToolsCommand(root *rootOptions) *cobra.Command {
	var hidden bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List registered tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIDE EFFECT\tLATENCY\tDESCRIPTION")
			for _, def := range a.registry.Definitions(hidden) {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", def.Name, def.SideEffect, def.Latency, def.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&hidden, "hidden", false, "include tools that are not offered to agent runs")
	return cmd
}
