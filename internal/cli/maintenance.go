package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coachpoints/coachpoints/internal/app/rewards"
)

func init() {
	resetCmd.Flags().StringVar(&resetTeacher, "teacher", "", "Teacher whose students are reset")
	resetCmd.Flags().StringVar(&resetReason, "reason", "", "Reason stored in the reset history")
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "Confirm the reset")
	resetCmd.MarkFlagRequired("teacher")
	rootCmd.AddCommand(resetCmd)

	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "Retention window in days (default scheduler.retention_days)")
	rootCmd.AddCommand(cleanupCmd)
}

var (
	resetTeacher string
	resetReason  string
	resetYes     bool
	cleanupDays  int
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Zero the points of every student of a teacher",
	Long: `Zero the points, levels and streaks of every student of a teacher.
A JSON backup of the previous rows is kept in the reset history.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetYes {
		return errors.New("reset is destructive; pass --yes to confirm")
	}
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	rec, err := d.Rewards.ResetAllStudentPoints(cmd.Context(), admin, resetTeacher, resetReason)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reset %d students of %s (%d points removed, record %s)\n",
		rec.StudentsAffected, rec.TeacherID, rec.PointsRemoved, rec.ID)
	return nil
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run due automatic resets and purge old activity events",
	Args:  cobra.NoArgs,
	RunE:  runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	days := cleanupDays
	if days <= 0 {
		days = d.Config.Scheduler.RetentionDays
	}
	m := rewards.NewMaintenance(d.Rewards, rewards.MaintenanceConfig{RetentionDays: days})
	report, err := m.RunOnce(cmd.Context())

	out := cmd.OutOrStdout()
	for _, rec := range report.Resets {
		fmt.Fprintf(out, "Scheduled reset of %s: %d students\n", rec.TeacherID, rec.StudentsAffected)
	}
	if days > 0 {
		fmt.Fprintf(out, "Purged %d events older than %d days\n", report.EventsPurged, days)
	} else {
		fmt.Fprintln(out, "Event retention disabled (set --days or scheduler.retention_days)")
	}
	return err
}
