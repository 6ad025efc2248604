package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/odyssey-erp/odyssey-rbac/internal/auth"
)

// ErrUsage reports an unknown or incomplete command line.
var ErrUsage = errors.New("usage: odyssey [jobs trigger <name> | jobs stats | token hash <secret>]")

// Run executes an operator command. redisAddr is only needed by the jobs commands.
func Run(ctx context.Context, args []string, redisAddr string, out io.Writer) error {
	if len(args) < 2 {
		return ErrUsage
	}
	switch args[0] + " " + args[1] {
	case "token hash":
		if len(args) != 3 || args[2] == "" {
			return ErrUsage
		}
		hash, err := auth.HashSecret(args[2])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, hash)
		return err
	case "jobs trigger", "jobs stats":
		jobsCLI, err := NewJobsCLI(redisAddr)
		if err != nil {
			return err
		}
		defer jobsCLI.Close()
		if args[1] == "stats" {
			stats, err := jobsCLI.InspectQueue(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
			return err
		}
		if len(args) != 3 {
			return ErrUsage
		}
		info, err := jobsCLI.Trigger(ctx, args[2])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return err
	default:
		return ErrUsage
	}
}
