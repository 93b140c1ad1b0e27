package main

import (
	"github.com/spf13/cobra"

	"github.com/clincite/clincite/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running clincite server via HTTP.

These commands require a running server (clincite serve).
Use --server to specify a custom server URL.

Examples:
  clincite api health                 # Check server health
  clincite api jobs create note.pdf   # Upload a document for analysis
  clincite api jobs status <id>       # Poll job progress`,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Analysis job commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8420", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerEndpoint{}).Command(getServerURL))

	// Jobs as subcommand group
	jobsCmd.AddCommand((&endpoints.CreateJobEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.JobStatusEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.GetJobEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand(jobsCmd)

	rootCmd.AddCommand(apiCmd)
}
