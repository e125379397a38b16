package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/wolfeidau/authkeeper/internal/models"
)

type StatusCmd struct{}

func (c *StatusCmd) Run(ctx context.Context, globals *Globals) error {
	s, err := startSession(ctx, globals)
	if err != nil {
		return err
	}
	defer s.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "STATE\t%s\n", s.controller.Phase())

	session := s.controller.Session()
	if session == nil {
		return nil
	}

	fmt.Fprintf(w, "USER\t%s\n", displayUser(session))
	fmt.Fprintf(w, "REFRESH TOKEN\t%s...\n", models.Fingerprint(session.RefreshToken))
	if session.HasExpiry() {
		remaining := time.Until(session.Expiry()).Truncate(time.Second)
		fmt.Fprintf(w, "EXPIRES\t%s (%s)\n", session.Expiry().Format(time.RFC3339), remaining)
	} else {
		fmt.Fprintln(w, "EXPIRES\tnever")
	}
	fmt.Fprintf(w, "EXPIRING SOON\t%t\n", s.controller.IsTokenExpiring())

	return nil
}
