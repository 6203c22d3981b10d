package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"

	"github.com/donatonuis/chatsync/internal/notify"
	"github.com/donatonuis/chatsync/internal/view"
)

func newBellCmd(g *globalFlags) *cobra.Command {
	var (
		limit int
		once  bool
	)

	cmd := &cobra.Command{
		Use:   "bell",
		Short: "Follow the notification bell",
		Long:  "Prints the newest notifications and the unread count, again on every change. While it runs, messages addressed to the user are recorded as notifications.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBell(cmd, g, limit, once)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "number of notifications listed (default from NOTIFICATION_LIMIT)")
	cmd.Flags().BoolVar(&once, "once", false, "print the bell and exit")
	return cmd
}

func runBell(cmd *cobra.Command, g *globalFlags, limit int, once bool) error {
	id, err := g.identity()
	if err != nil {
		return err
	}
	stack, cfg, logger, err := g.open(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	if limit < 1 {
		limit = cfg.NotificationLimit
	}
	agg, err := notify.NewAggregator(id, stack.Backend, limit, logger)
	if err != nil {
		return err
	}
	bell := view.NewBell(agg, stack.Loader, stack.Manager, logger, view.BellOptions{
		SubscribeTimeout: cfg.SubscribeTimeout,
		MarkReadOnClick:  cfg.MarkReadOnClick,
	})
	defer bell.Close()

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	render := func() {
		mu.Lock()
		defer mu.Unlock()
		printBell(out, bell)
	}
	bell.OnChange(render)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if err := bell.Open(ctx); err != nil {
		// The bell keeps whatever could be set up.
		fmt.Fprintf(out, "bell degraded: %v\n", err)
	}
	render()

	if once {
		return nil
	}
	<-ctx.Done()
	return nil
}

func printBell(out io.Writer, bell *view.Bell) {
	fmt.Fprintf(out, "%d unread\n", bell.UnreadCount())
	for _, n := range bell.Recent() {
		mark := " "
		if !n.Read {
			mark = "•"
		}
		fmt.Fprintf(out, " %s #%d %s (%s)\n", mark, n.ID, n.Text, bell.Label(n))
	}
}
