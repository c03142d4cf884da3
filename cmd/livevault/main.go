package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voyagen/livevault/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "livevault: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "livevault",
		Short:         "LiveVault catalogs IPTV playlists and prunes dead streams",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("please specify a subcommand. Use --help to see available subcommands")
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Optional config file path (YAML); else use environment")

	loadConfig := func() (*config.Config, error) {
		if configPath != "" {
			return config.LoadFromFile(configPath)
		}
		return config.Load()
	}

	rootCmd.AddCommand(serveCmd(loadConfig))
	rootCmd.AddCommand(importCmd(loadConfig))
	rootCmd.AddCommand(cleanupCmd(loadConfig))
	rootCmd.AddCommand(enrichCmd(loadConfig))
	return rootCmd
}
