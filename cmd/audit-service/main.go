package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.4.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "audit-service",
		Short: "SSO audit event correlation and workflow tracking",
		Long: `audit-service ingests audit events from SSO-integrated tools, correlates
them into cross-tool workflows and user sessions, and persists them to
PostgreSQL. Configuration is read from the environment and an optional .env file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRulesCmd())
	rootCmd.AddCommand(newTokenCmd())
	return rootCmd
}
