package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:           "watcher",
	Short:         "Monitor de preços de lojas online",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "nível de log (sobrepõe LOG_LEVEL)")

	rootCmd.AddCommand(runCommand())
	rootCmd.AddCommand(scrapeCommand())
	rootCmd.AddCommand(pruneCommand())
	rootCmd.AddCommand(reportCommand())
	rootCmd.AddCommand(sitesCommand())
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Erro: %v\n", err)
		os.Exit(1)
	}
}
