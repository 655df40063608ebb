package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient is the admin-surface HTTP client, initialized in
	// PersistentPreRunE.
	httpClient *http.Client

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon's admin surface address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for flagbrokerctl.
var rootCmd = &cobra.Command{
	Use:   "flagbrokerctl",
	Short: "CLI client for the flagbroker daemon",
	Long:  "flagbrokerctl communicates with the flagbroker daemon's admin JSON surface to inspect scheduler status.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		httpClient = &http.Client{Timeout: 5 * time.Second}
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:9101",
		"flagbroker admin surface address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(versionCmd())
}

// adminURL builds the full URL for an admin surface path, e.g. "/sessions".
func adminURL(path string) string {
	return "http://" + serverAddr + path
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
