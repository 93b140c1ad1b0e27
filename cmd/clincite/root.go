package main

import (
	"github.com/spf13/cobra"

	"github.com/clincite/clincite/internal/api"
	"github.com/clincite/clincite/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "clincite",
	Short: "Clinical document analysis with automatic literature citations",
	Long: `clincite analyzes uploaded clinical documents and produces a structured
summary backed by published literature.

The pipeline includes:
  - Text extraction with an OCR fallback for scanned documents
  - LLM-powered extraction of diagnoses, plan items, and warnings
  - PubMed reference retrieval merged with a curated citation pool
  - Citation assignment linking each finding to its references`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.clincite/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "clincite home directory (default: ~/.clincite)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
