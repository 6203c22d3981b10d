package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/donatonuis/chatsync/internal/app"
	"github.com/donatonuis/chatsync/internal/config"
	"github.com/donatonuis/chatsync/internal/session"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

type globalFlags struct {
	user    string
	verbose bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "chatsync",
		Short:         "Live conversations and notifications for the donation marketplace",
		Long:          "chatsync follows conversations and the notification bell of one user from the terminal. Backend and broker are configured through the same environment as the server.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&g.user, "as", "u", os.Getenv("CHATSYNC_USER"), "username to act as (defaults to $CHATSYNC_USER)")
	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log debug output to stderr")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newWatchCmd(g))
	cmd.AddCommand(newBellCmd(g))
	cmd.AddCommand(newSendCmd(g))
	cmd.AddCommand(newReadCmd(g))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatsync %s (commit: %s)\n", Version, Commit)
		},
	}
}

// identity returns the user the command acts as.
func (g *globalFlags) identity() (session.Identity, error) {
	if g.user == "" {
		return session.Identity{}, fmt.Errorf("no user: pass --as or set CHATSYNC_USER")
	}
	return session.Identity{ID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(g.user)), Username: g.user}, nil
}

func (g *globalFlags) logger(cmd *cobra.Command) zerolog.Logger {
	level := zerolog.WarnLevel
	if g.verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// open loads the configuration and wires the backend and broker.
func (g *globalFlags) open(cmd *cobra.Command) (*app.Stack, *config.Config, zerolog.Logger, error) {
	logger := g.logger(cmd)
	cfg, err := config.Parse()
	if err != nil {
		return nil, nil, logger, fmt.Errorf("load config: %w", err)
	}
	stack, err := app.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, logger, err
	}
	return stack, cfg, logger, nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
