package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coachpoints/coachpoints/internal/app/engagement"
	"github.com/coachpoints/coachpoints/internal/domain"
)

func init() {
	awardCmd.Flags().Int64Var(&awardPoints, "points", -1, "Custom point value (default: policy value)")
	awardCmd.Flags().StringVar(&awardDescription, "description", "", "Event description")
	awardCmd.Flags().StringArrayVar(&awardMeta, "meta", nil, "Metadata key=value (repeatable)")
	rootCmd.AddCommand(awardCmd)

	pointsCmd.Flags().IntVar(&pointsHistory, "history", 0, "Also list the latest N events")
	rootCmd.AddCommand(pointsCmd)

	leaderboardCmd.Flags().StringVar(&boardTeacher, "teacher", "", "Teacher id")
	leaderboardCmd.Flags().IntVar(&boardLimit, "limit", 10, "Number of entries")
	leaderboardCmd.MarkFlagRequired("teacher")
	rootCmd.AddCommand(leaderboardCmd)
}

var (
	awardPoints      int64
	awardDescription string
	awardMeta        []string
	pointsHistory    int
	boardTeacher     string
	boardLimit       int
)

var awardCmd = &cobra.Command{
	Use:   "award <user> <activity-type>",
	Short: "Record an activity for a user",
	Long: `Record a point-earning activity. Points come from the user's policy
unless --points is given; the daily cap applies either way.`,
	Args: cobra.ExactArgs(2),
	RunE: runAward,
}

func runAward(cmd *cobra.Command, args []string) error {
	meta, err := parseMeta(awardMeta)
	if err != nil {
		return err
	}
	a := engagement.Activity{
		UserID:      args[0],
		Type:        domain.ActivityType(args[1]),
		Description: awardDescription,
		Metadata:    meta,
	}
	if awardPoints >= 0 {
		pts := awardPoints
		a.CustomPoints = &pts
	}

	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	res, err := d.Ledger.RecordActivity(cmd.Context(), admin, a)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "+%d %s", res.Event.PointsEarned, res.Event.ActivityType)
	if res.Event.PointsEarned < res.Nominal {
		fmt.Fprintf(out, " (capped from %d)", res.Nominal)
	}
	fmt.Fprintln(out)
	if res.LeveledUp {
		fmt.Fprintf(out, "Level up! Now level %d\n", res.Points.Level)
	}
	for _, ua := range res.Unlocked {
		fmt.Fprintf(out, "Achievement unlocked: %s (+%d)\n", ua.AchievementID, ua.PointsEarned)
	}
	printPoints(cmd, res.Points)
	return nil
}

var pointsCmd = &cobra.Command{
	Use:   "points <user>",
	Short: "Show a user's points, level and streak",
	Args:  cobra.ExactArgs(1),
	RunE:  runPoints,
}

func runPoints(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	p, err := d.Ledger.Points(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printPoints(cmd, p)

	if pointsHistory <= 0 {
		return nil
	}
	events, err := d.Ledger.History(cmd.Context(), args[0], pointsHistory)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout())
	w := newTable(cmd.OutOrStdout())
	fmt.Fprintln(w, "WHEN\tTYPE\tPOINTS\tDESCRIPTION")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04"), e.ActivityType, e.PointsEarned, e.Description)
	}
	return w.Flush()
}

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Rank a teacher's students by points",
	Args:  cobra.NoArgs,
	RunE:  runLeaderboard,
}

func runLeaderboard(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	entries, err := d.Ledger.Leaderboard(cmd.Context(), boardTeacher, boardLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No students with points yet.")
		return nil
	}

	w := newTable(cmd.OutOrStdout())
	fmt.Fprintln(w, "RANK\tUSER\tPOINTS\tLEVEL\tSTREAK")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\n", e.Rank, e.UserID, e.TotalPoints, e.Level, e.CurrentStreak)
	}
	return w.Flush()
}
