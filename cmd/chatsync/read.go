package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/donatonuis/chatsync/internal/notify"
)

func newReadCmd(g *globalFlags) *cobra.Command {
	var (
		id  int64
		all bool
	)

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Mark notifications read",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (id != 0) == all {
				return fmt.Errorf("pass exactly one of --id and --all")
			}
			return runRead(cmd, g, id, all)
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "notification to mark read")
	cmd.Flags().BoolVar(&all, "all", false, "mark every notification read")
	return cmd
}

func runRead(cmd *cobra.Command, g *globalFlags, id int64, all bool) error {
	user, err := g.identity()
	if err != nil {
		return err
	}
	stack, cfg, logger, err := g.open(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	agg, err := notify.NewAggregator(user, stack.Backend, cfg.NotificationLimit, logger)
	if err != nil {
		return err
	}
	if all {
		err = agg.MarkAllRead(cmd.Context())
	} else {
		err = agg.MarkRead(cmd.Context(), id)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d unread\n", agg.UnreadCount())
	return nil
}
