package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/donatonuis/chatsync/internal/view"
)

func newSendCmd(g *globalFlags) *cobra.Command {
	var conv conversationFlags

	cmd := &cobra.Command{
		Use:   "send [content...]",
		Short: "Send a message in a conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, g, conv, strings.Join(args, " "))
		},
	}

	conv.register(cmd)
	cmd.MarkFlagRequired("room")
	cmd.MarkFlagRequired("subject")
	cmd.MarkFlagRequired("owner")
	return cmd
}

func runSend(cmd *cobra.Command, g *globalFlags, conv conversationFlags, content string) error {
	id, err := g.identity()
	if err != nil {
		return err
	}
	p, err := conv.participants()
	if err != nil {
		return err
	}
	if p == nil || p.Counterpart == "" {
		return fmt.Errorf("room %q does not name a requester of item %d", conv.room, conv.subjectID)
	}
	msg, err := view.Compose(id, p, conv.room, content)
	if err != nil {
		return err
	}

	stack, _, _, err := g.open(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	saved, err := stack.Backend.InsertMessage(cmd.Context(), msg)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent #%d to %s\n", saved.ID, saved.UserDestino)
	return nil
}
