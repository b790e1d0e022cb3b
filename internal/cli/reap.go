package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/feichai0017/pdf-alttext/internal/workspace"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

func newReapCmd(opts *options) *cobra.Command {
	var (
		ttl    time.Duration
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Delete sessions idle for longer than the TTL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				ttl = opts.cfg.Sessions.TTL
			}
			sessions, err := workspace.NewManager(opts.cfg.Sessions.Dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dryRun {
				stale, err := sessions.Stale(ttl, time.Now())
				if err != nil {
					return err
				}
				for _, sid := range stale {
					fmt.Fprintf(out, "would remove %s\n", sid)
				}
				return nil
			}

			removed, err := sessions.Reap(ttl, time.Now())
			for _, sid := range removed {
				fmt.Fprintf(out, "removed %s\n", sid)
			}
			opts.log.Info("Reaped sessions",
				logger.Int("removed", len(removed)),
				logger.Duration("ttl", ttl),
			)
			return err
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "idle time after which a session is removed (default from SESSION_TTL)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list sessions without removing them")

	return cmd
}
