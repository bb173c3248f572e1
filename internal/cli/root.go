// Package cli implements the coachpoints command-line interface using Cobra.
// Commands other than serve open the store directly and act as the system
// administrator.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "coachpoints",
	Short: "coachpoints: points, levels and rewards for coaching platforms",
	Long: `coachpoints tracks student engagement for coaching platforms.
Activities earn points under a per-teacher policy; points build levels,
streaks and achievements and are spent on teacher-defined rewards.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
