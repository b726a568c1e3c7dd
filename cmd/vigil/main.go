package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "vigil",
		Short: "Supervisory health monitor for managed process fleets",
		Long: "vigil watches a process manager's fleet, classifies each process's health\n" +
			"from rolling resource samples and liveness probes, and drives bounded\n" +
			"auto-remediation with alert delivery.",
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newHealthCmd())
	root.AddCommand(newAlertsCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newRestartCmd())
	root.AddCommand(newLogsCmd())
	return root
}
