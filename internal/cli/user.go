package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coachpoints/coachpoints/internal/domain"
)

func init() {
	userAddCmd.Flags().StringVar(&userRole, "role", "student", "Role: student, teacher or admin")
	userAddCmd.Flags().StringVar(&userTeacher, "teacher", "", "Teacher id (required for students)")
	userAddCmd.Flags().StringVar(&userTimezone, "timezone", "", "IANA timezone for the daily window")
	userCmd.AddCommand(userAddCmd)
	rootCmd.AddCommand(userCmd)
}

var (
	userRole     string
	userTeacher  string
	userTimezone string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage registered users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Register a user under a teacher",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserAdd,
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	u, err := d.Directory.RegisterUser(cmd.Context(), admin, domain.User{
		ID:        args[0],
		Role:      domain.Role(userRole),
		TeacherID: userTeacher,
		Timezone:  userTimezone,
	})
	if err != nil {
		return err
	}
	if u.TeacherID != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Registered %s %s (teacher %s)\n", u.Role, u.ID, u.TeacherID)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Registered %s %s\n", u.Role, u.ID)
	}
	return nil
}
