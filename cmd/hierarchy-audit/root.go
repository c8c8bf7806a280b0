package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "hierarchy-audit",
		Short:         "Hierarchy integrity audits and schema migrations",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(newIntegrityCmd(), newPositionCmd(), newMigrateCmd())
	return cmd
}
