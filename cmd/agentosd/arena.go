package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"AgentOS-Bridge/internal/arena"
)

func newArenaCommand(root *rootOptions) *cobra.Command {
	var (
		family string
		seed   int64
	)
	cmd := &cobra.Command{
		Use:   "arena",
		Short: "Run one arena match between the configured strategies and print the leaderboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !validFamily(arena.Family(family)) {
				return fmt.Errorf("未知的谜题类别 %q，可选: %s", family, familyNames())
			}
			cfg := root.cfg
			if cmd.Flags().Changed("seed") {
				cfg.Arena.Seed = seed
			}

			ctx := cmd.Context()
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			stderr := cmd.ErrOrStderr()
			match, err := a.arena.PlayFamily(ctx, arena.Family(family), func(msg string) {
				fmt.Fprintln(stderr, "…", msg)
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), match.Summary())
			return nil
		},
	}
	cmd.Flags().StringVar(&family, "family", string(arena.FamilyPattern), "puzzle family: "+familyNames())
	cmd.Flags().Int64Var(&seed, "seed", 0, "seed for puzzle generation")
	return cmd
}

func validFamily(f arena.Family) bool {
	for _, known := range arena.Families() {
		if f == known {
			return true
		}
	}
	return false
}

func familyNames() string {
	names := make([]string, 0, len(arena.Families()))
	for _, f := range arena.Families() {
		names = append(names, string(f))
	}
	return strings.Join(names, ", ")
}
