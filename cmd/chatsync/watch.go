package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"

	"github.com/donatonuis/chatsync/internal/models"
	"github.com/donatonuis/chatsync/internal/scope"
	"github.com/donatonuis/chatsync/internal/syncerr"
	"github.com/donatonuis/chatsync/internal/view"
)

type conversationFlags struct {
	room      string
	subjectID int64
	owner     string
}

func (f *conversationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.room, "room", "", "conversation key, e.g. 12ana")
	cmd.Flags().Int64Var(&f.subjectID, "subject", 0, "item id of the conversation")
	cmd.Flags().StringVar(&f.owner, "owner", "", "username of the item owner")
}

// participants returns the participant pair when item and owner are given.
func (f *conversationFlags) participants() (*scope.Participants, error) {
	if f.subjectID == 0 && f.owner == "" {
		return nil, nil
	}
	if f.subjectID <= 0 || f.owner == "" {
		return nil, fmt.Errorf("--subject and --owner go together")
	}
	p := &scope.Participants{SubjectID: f.subjectID, Owner: f.owner}
	if requester, ok := scope.Requester(f.subjectID, f.owner, models.Message{Room: f.room, Username: f.owner}); ok {
		p.Counterpart = requester
	}
	return p, nil
}

func newWatchCmd(g *globalFlags) *cobra.Command {
	var (
		conv conversationFlags
		once bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow one conversation live",
		Long:  "Prints the history of a conversation, then every new message as it arrives. With --subject and --owner, older rows stored under the item's legacy key are included.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if conv.room == "" {
				return fmt.Errorf("--room is required")
			}
			return runWatch(cmd, g, conv, once)
		},
	}

	conv.register(cmd)
	cmd.Flags().BoolVar(&once, "once", false, "print the history and exit")
	return cmd
}

func runWatch(cmd *cobra.Command, g *globalFlags, conv conversationFlags, once bool) error {
	id, err := g.identity()
	if err != nil {
		return err
	}
	p, err := conv.participants()
	if err != nil {
		return err
	}
	stack, cfg, logger, err := g.open(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	out := cmd.OutOrStdout()
	c := view.NewConversation(id, stack.Backend, stack.Loader, stack.Manager, logger, cfg.SubscribeTimeout)
	defer c.Close()

	printer := newMessagePrinter(out)
	c.OnChange(func() { printer.print(c.Snapshot()) })

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	err = c.Open(ctx, conv.room, p)
	switch {
	case errors.Is(err, syncerr.ErrSubscription):
		fmt.Fprintln(out, "live updates unavailable, showing history only")
	case err != nil:
		return err
	}
	printer.print(c.Snapshot())

	if once {
		return nil
	}
	fmt.Fprintf(out, "Watching %s... (Ctrl+C to stop)\n", conv.room)
	<-ctx.Done()
	return nil
}

// messagePrinter prints each message of a growing snapshot once.
type messagePrinter struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[string]bool
}

func newMessagePrinter(out io.Writer) *messagePrinter {
	return &messagePrinter{out: out, printed: make(map[string]bool)}
}

func (p *messagePrinter) print(msgs []models.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		if p.printed[m.Key()] {
			continue
		}
		p.printed[m.Key()] = true
		printMessage(p.out, m)
	}
}

func printMessage(out io.Writer, m models.Message) {
	fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("02 Jan 15:04"), m.Username, m.Content)
}
