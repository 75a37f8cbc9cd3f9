package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "snapcourier",
	Short: "Background screen capture with webhook delivery",
	Long: `snapcourier periodically captures the local display, enriches each
capture with system metrics and approximate IP-derived location, and
delivers it to a webhook endpoint, optionally keeping a local archive.

It runs in the foreground; stop it with Ctrl+C. The session record is
persisted on shutdown and can be inspected with "snapcourier sessions".`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the snapcourier version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(os.Stdout, "snapcourier version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: $XDG_CONFIG_HOME/snapcourier/config.json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(runCmd, onceCmd, sessionsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
