package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mixelka/mailsync/pkg/models"
)

func newCheckCmd() *cobra.Command {
	var apiAddr string

	cmd := &cobra.Command{
		Use:   "check <id>",
		Short: "Synchronize one account now and print the result",
		Long: `Synchronize one account now and print the result.

Without --api the sync runs in this process and does not see syncs started by
a running "mailsync serve". Two syncs of the same account can then overlap;
stored messages stay unique but the work is done twice. Pass --api with the
service address to submit the check to the service instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if apiAddr != "" {
				return remoteCheck(ctx, newControlClient(apiAddr), id, cmd.OutOrStdout())
			}

			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			ctl := &cliControl{ctx: ctx, out: cmd.ErrOrStderr()}
			result := a.newEngine().RunSync(ctx, id, ctl)
			printResult(cmd.OutOrStdout(), id, result)

			if !result.Success && !result.Cancelled {
				return fmt.Errorf("sync of account %d failed", id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&apiAddr, "api", "", "address of a running service, e.g. localhost:8080")
	return cmd
}

func remoteCheck(ctx context.Context, c *controlClient, id int64, out io.Writer) error {
	result, jobID, done, err := c.Check(ctx, id)
	if err != nil {
		return err
	}
	if !done {
		fmt.Fprintf(out, "account %d: still running as job %s\n", id, jobID)
		return nil
	}

	printResult(out, id, result)
	if !result.Success && !result.Cancelled {
		return fmt.Errorf("sync of account %d failed", id)
	}
	return nil
}

// cliControl prints progress and stops on interrupt
type cliControl struct {
	ctx context.Context
	out io.Writer
}

func (c *cliControl) Cancelled() bool {
	return c.ctx.Err() != nil
}

func (c *cliControl) Progress(percent int, message string) {
	fmt.Fprintf(c.out, "[%3d%%] %s\n", percent, message)
}

func printResult(w io.Writer, id int64, result models.SyncResult) {
	status := "ok"
	switch {
	case result.Cancelled:
		status = "cancelled"
	case !result.Success:
		status = "failed (" + result.ErrorKind + ")"
	}

	fmt.Fprintf(w, "account %d: %s\n", id, status)
	fmt.Fprintf(w, "  seen:     %d\n", result.TotalSeen)
	fmt.Fprintf(w, "  saved:    %d\n", result.TotalSaved)
	fmt.Fprintf(w, "  duration: %s\n", result.Duration)
	if result.Message != "" {
		fmt.Fprintf(w, "  message:  %s\n", result.Message)
	}
}
