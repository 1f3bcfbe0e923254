package commands

import (
	"github.com/spf13/cobra"
)

var (
	serverURL string
	jsonOut   bool
)

var rootCmd = &cobra.Command{
	Use:          "voiceswap",
	Short:        "Replace speaker voices in videos",
	Long:         "voiceswap drives a voiceswap server: submit a video, assign replacement voices per speaker, and download the re-voiced result.",
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8000", "voiceswap server base URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print raw JSON responses")
}
