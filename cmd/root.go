package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "advisr",
	Short: "Advisr - conversational investment advisory service",
	Long: `Advisr runs a stage-based advisory conversation over HTTP.

The server walks each visitor through a fixed sequence of stages
(qualification, goals, amounts, portfolio, contact capture, analysis)
and fills the required slots from free-form messages using an AI
extractor. Run "advisr serve" to start the server, or "advisr sessions"
to inspect a running instance.

Running advisr with no arguments starts the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
