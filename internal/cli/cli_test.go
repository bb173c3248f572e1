package cli

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachpoints/coachpoints/internal/api"
	"github.com/coachpoints/coachpoints/internal/daemon"
	"github.com/coachpoints/coachpoints/internal/domain"
)

// run executes the root command with args and returns its stdout. Flag
// values are restored afterwards since commands are package globals.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	resetFlags(rootCmd)
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, "coachpoints %s", strings.Join(args, " "))
	return out
}

func setup(t *testing.T) {
	t.Helper()
	t.Setenv(daemon.EnvHome, t.TempDir())
	t.Setenv(daemon.EnvJWTSecret, "")
	t.Setenv(daemon.EnvLogLevel, "error")
	t.Chdir(t.TempDir())
	mustRun(t, "init")
}

func TestInit(t *testing.T) {
	setup(t)

	_, err := run(t, "init")
	assert.Error(t, err, "refuses to overwrite")
	out := mustRun(t, "init", "--force")
	assert.Contains(t, out, "config.toml")

	cfg, err := daemon.LoadConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.Auth.JWTSecret, 64)
}

func TestToken(t *testing.T) {
	setup(t)

	out := mustRun(t, "token", "--user", "t1", "--role", "teacher")
	cfg, err := daemon.LoadConfig()
	require.NoError(t, err)

	signer := api.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.Issuer, 0)
	a, err := signer.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{UserID: "t1", Role: domain.RoleTeacher}, a)

	_, err = run(t, "token", "--user", "t1", "--role", "owner")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestLevel(t *testing.T) {
	out := mustRun(t, "level", "400")
	assert.Contains(t, out, "Level 3")

	_, err := run(t, "level", "--", "-5")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = run(t, "level", "many")
	assert.Error(t, err)
}

func TestWorkflow(t *testing.T) {
	setup(t)

	mustRun(t, "user", "add", "t1", "--role", "teacher")
	out := mustRun(t, "user", "add", "s1", "--teacher", "t1", "--timezone", "UTC")
	assert.Contains(t, out, "student s1 (teacher t1)")

	_, err := run(t, "user", "add", "s2", "--teacher", "nobody")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	out = mustRun(t, "award", "s1", "workout", "--meta", "gym=north")
	assert.Contains(t, out, "+10 workout")

	out = mustRun(t, "award", "s1", "checkin", "--points", "300")
	assert.Contains(t, out, "+190 checkin (capped from 300)")
	assert.Contains(t, out, "Level up!")

	_, err = run(t, "award", "s1", "achievement_unlock")
	assert.ErrorIs(t, err, domain.ErrInvalidActivityType)
	_, err = run(t, "award", "s1", "workout", "--meta", "Bad Key=1")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	out = mustRun(t, "points", "s1", "--history", "5")
	assert.Contains(t, out, "200")
	assert.Contains(t, out, "workout")

	out = mustRun(t, "reward", "add", "Shaker", "--teacher", "t1", "--cost", "50", "--stock", "1")
	rewardID := strings.Fields(out)[2]

	out = mustRun(t, "reward", "list", "--teacher", "t1")
	assert.Contains(t, out, "Shaker")

	out = mustRun(t, "redeem", "s1", rewardID)
	assert.Contains(t, out, "pending (-50 points)")
	redemptionID := strings.Fields(out)[1]

	_, err = run(t, "redeem", "s1", rewardID)
	assert.ErrorIs(t, err, domain.ErrOutOfStock)

	out = mustRun(t, "redemption", "reject", redemptionID, "--notes", "restocking")
	assert.Contains(t, out, "rejected")
	_, err = run(t, "redemption", "approve", redemptionID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	out = mustRun(t, "leaderboard", "--teacher", "t1")
	assert.Contains(t, out, "s1")

	_, err = run(t, "reset", "--teacher", "t1")
	assert.ErrorContains(t, err, "--yes")
	out = mustRun(t, "reset", "--teacher", "t1", "--yes", "--reason", "new term")
	assert.Contains(t, out, "Reset 1 students")
	assert.Contains(t, out, "200 points removed")

	out = mustRun(t, "cleanup", "--days", "30")
	assert.Contains(t, out, "Purged 0 events")
	out = mustRun(t, "cleanup")
	assert.Contains(t, out, "retention disabled")
}
