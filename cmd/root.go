package cmd

import (
	"fmt"
	"os"

	"github.com/cristianradulescu/mdfence-ls/internal/config"
	"github.com/spf13/cobra"
)

// rootCmd serves the language server when run without a subcommand.
var rootCmd = &cobra.Command{
	Use:   config.Name,
	Short: "Formats fenced code blocks in Markdown documents",
	Long: `mdfence-ls finds fenced code blocks in Markdown and rewrites the supported
ones (java, sql, javascript) with their formatter. Everything outside the
blocks is left untouched.

Without a subcommand it runs as a language server on stdin/stdout.`,
	Version:      config.Version,
	SilenceUsage: true,
	RunE:         runLSP,
}

// Execute is called by main.go to run the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging on stderr")
	// Kept for editor configurations that pass it; stdio is the only transport.
	rootCmd.Flags().Bool("stdin", true, "use stdin/stdout for communication")

	rootCmd.AddCommand(newFmtCmd())
}
