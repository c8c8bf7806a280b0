package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/infrastructure/persistence"
	"github.com/iota-uz/iota-hierarchy/pkg/configuration"
)

func parseDirection(arg string) (persistence.MigrateDirection, error) {
	switch d := persistence.MigrateDirection(arg); d {
	case persistence.MigrateUp, persistence.MigrateDown, persistence.MigrateStatus:
		return d, nil
	}
	return "", fmt.Errorf("unknown migration direction %q (expected up|down|status)", arg)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply or inspect the hierarchy schema migrations",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction, err := parseDirection(args[0])
			if err != nil {
				return err
			}
			conf := configuration.Use()
			return persistence.Migrate(cmd.Context(), conf.Database.Opts, direction, conf.Logger())
		},
	}
}
