// Command nl2sql runs the natural-language-to-SQL assistant daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "nl2sql",
	Short:         "Natural-language-to-SQL assistant",
	Long:          "nl2sql answers questions about a SQL database: it classifies intent, generates and validates a query, asks for confirmation, executes it, and summarizes the result. Sessions are checkpointed and survive restarts.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
