package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coachpoints/coachpoints/internal/domain"
)

func init() {
	rewardAddCmd.Flags().StringVar(&rewardTeacher, "teacher", "", "Owning teacher id")
	rewardAddCmd.Flags().Int64Var(&rewardCost, "cost", 0, "Point cost")
	rewardAddCmd.Flags().Int64Var(&rewardStock, "stock", -1, "Available units (default unlimited)")
	rewardAddCmd.Flags().StringVar(&rewardDescription, "description", "", "Reward description")
	rewardAddCmd.MarkFlagRequired("teacher")
	rewardCmd.AddCommand(rewardAddCmd, rewardListCmd)
	rewardListCmd.Flags().StringVar(&rewardTeacher, "teacher", "", "Owning teacher id")
	rewardListCmd.MarkFlagRequired("teacher")
	rootCmd.AddCommand(rewardCmd)

	rootCmd.AddCommand(redeemCmd)

	redemptionCmd.PersistentFlags().StringVar(&redemptionNotes, "notes", "", "Notes stored with the decision")
	redemptionCmd.AddCommand(
		redemptionDecisionCmd("approve", domain.RedemptionApproved),
		redemptionDecisionCmd("reject", domain.RedemptionRejected),
	)
	rootCmd.AddCommand(redemptionCmd)
}

var (
	rewardTeacher     string
	rewardCost        int64
	rewardStock       int64
	rewardDescription string
	redemptionNotes   string
)

var rewardCmd = &cobra.Command{
	Use:   "reward",
	Short: "Manage the rewards catalog",
}

var rewardAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a reward to a teacher's catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runRewardAdd,
}

func runRewardAdd(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	r := domain.Reward{
		TeacherID:   rewardTeacher,
		Title:       args[0],
		Description: rewardDescription,
		PointsCost:  rewardCost,
	}
	if rewardStock >= 0 {
		n := rewardStock
		r.Stock = &n
	}
	r, err = d.Rewards.CreateReward(cmd.Context(), admin, r)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created reward %s\n", r.ID)
	return nil
}

var rewardListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a teacher's catalog",
	Args:  cobra.NoArgs,
	RunE:  runRewardList,
}

func runRewardList(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	items, err := d.Rewards.ListRewards(cmd.Context(), rewardTeacher, false)
	if err != nil {
		return err
	}
	w := newTable(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tTITLE\tCOST\tSTOCK\tACTIVE")
	for _, r := range items {
		stock := "unlimited"
		if r.Stock != nil {
			stock = fmt.Sprint(*r.Stock)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%t\n", r.ID, r.Title, r.PointsCost, stock, r.IsActive)
	}
	return w.Flush()
}

var redeemCmd = &cobra.Command{
	Use:   "redeem <user> <reward-id>",
	Short: "Redeem a reward for a user",
	Args:  cobra.ExactArgs(2),
	RunE:  runRedeem,
}

func runRedeem(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	red, err := d.Rewards.Redeem(cmd.Context(), admin, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Redemption %s pending (-%d points)\n", red.ID, red.PointsSpent)
	return nil
}

var redemptionCmd = &cobra.Command{
	Use:   "redemption",
	Short: "Approve or reject pending redemptions",
}

func redemptionDecisionCmd(verb string, to domain.RedemptionStatus) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <redemption-id>",
		Short: "Mark a pending redemption " + string(to),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDaemon()
			if err != nil {
				return err
			}
			defer d.Close()

			red, err := d.Rewards.UpdateRedemptionStatus(cmd.Context(), admin, args[0], to, redemptionNotes)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Redemption %s %s\n", red.ID, red.Status)
			return nil
		},
	}
}
