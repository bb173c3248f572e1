package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/coachpoints/coachpoints/internal/daemon"
	"github.com/coachpoints/coachpoints/internal/domain"
)

// admin is the actor of every store-level command.
var admin = domain.SystemActor

// openDaemon loads config and opens the store. Callers must Close it.
func openDaemon() (*daemon.Daemon, error) {
	return daemon.New()
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// parseMeta converts key=value pairs into event metadata.
func parseMeta(pairs []string) (domain.Metadata, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(domain.Metadata, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("metadata %q: want key=value", p)
		}
		m[k] = v
	}
	return m, m.Validate()
}

func printPoints(cmd *cobra.Command, p domain.UserPoints) {
	last := "-"
	if p.LastActivityDate != nil {
		last = domain.FormatDate(*p.LastActivityDate)
	}
	w := newTable(cmd.OutOrStdout())
	fmt.Fprintln(w, "USER\tPOINTS\tLEVEL\tSTREAK\tLONGEST\tLAST ACTIVITY")
	fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n",
		p.UserID, p.TotalPoints, p.Level, p.CurrentStreak, p.LongestStreak, last)
	w.Flush()
}
