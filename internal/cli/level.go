package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/coachpoints/coachpoints/internal/app/engagement"
)

func init() {
	rootCmd.AddCommand(levelCmd)
}

var levelCmd = &cobra.Command{
	Use:   "level <points>",
	Short: "Show the level and progress for a point total",
	Args:  cobra.ExactArgs(1),
	RunE:  runLevel,
}

func runLevel(cmd *cobra.Command, args []string) error {
	points, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("points %q: %w", args[0], err)
	}
	info, err := engagement.Level(points)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Level %d  (%d/%d, %.0f%% to level %d)\n",
		info.Level, info.Points, info.NextLevelPoints, info.Progress*100, info.Level+1)
	return nil
}
