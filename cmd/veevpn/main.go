package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/veevpn/panel/internal/interfaces/cli/migrate"
	"github.com/veevpn/panel/internal/interfaces/cli/reconcile"
	"github.com/veevpn/panel/internal/interfaces/cli/server"
	"github.com/veevpn/panel/internal/shared/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "veevpn",
		Short:   "Vee VPN subscription and fleet control plane",
		Long:    `Vee VPN manages subscription lifecycle and keeps the Outline/V2Ray server fleet in sync with it.`,
		Version: version.Current,
	}

	rootCmd.Flags().BoolP("version", "v", false, "version for veevpn")

	rootCmd.AddCommand(
		server.NewCommand(),
		migrate.NewCommand(),
		reconcile.NewCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
