// The admin binary manages the lead collection from the command line: an
// HTTP dashboard API and one-shot exports.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Lead management tooling",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Optional .env for local runs; ignored when absent.
		_ = godotenv.Load()
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, exportCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func leadsPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("leads")
	if path != "" {
		return path
	}
	if env := os.Getenv("LEADS_FILE"); env != "" {
		return env
	}
	return "leads.json"
}
