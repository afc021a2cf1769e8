package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/PaulBabatuyi/marketchat/internal/chatsync"
	"github.com/PaulBabatuyi/marketchat/internal/shell"
)

const inboxHelp = "/open N to select, /refresh to reload the list, /quit to leave; other lines reply"

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Answer customer conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := newLogger()
		client, _, err := loggedIn(ctx, logger)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)

		scr := &screen{out: cmd.OutOrStdout(), help: inboxHelp}
		in := shell.NewInbox(shell.Config{
			API:       client,
			Navigator: shell.NavigatorFunc(func() { cancel(errSessionExpired) }),
			Logger:    logger,
			Interval:  pollEvery,
			OnRender:  scr.redraw,
		})
		scr.draw = func() string { return in.RenderList() + "\n" + in.RenderDetail() }
		defer in.Unmount()

		if err := in.Mount(ctx); err != nil {
			if chatsync.IsUnauthenticated(err) {
				return errSessionExpired
			}
			// The list failure is rendered; /refresh retries.
			logger.Debug("inbox list failed", "error", err)
		}
		scr.redraw()

		interact(ctx, cmd.InOrStdin(), func(ctx context.Context, line string) bool {
			name, arg := command(line)
			switch name {
			case "quit", "q":
				return false
			case "open", "o":
				id, err := pickConversation(in.Conversations(), arg)
				if err == nil {
					err = in.Select(ctx, id)
				}
				if err != nil {
					scr.setStatus(err.Error())
					return true
				}
				scr.setStatus("")
			case "refresh", "r":
				_ = in.Refresh(ctx)
				scr.setStatus("")
			case "":
				in.Input(arg)
				err := in.Send(ctx)
				switch {
				case errors.Is(err, shell.ErrNotMounted):
					scr.setStatus("select a conversation first")
				default:
					if err != nil && !errors.Is(err, chatsync.ErrEmptyBody) {
						logger.Debug("send failed", "error", err)
					}
					scr.setStatus("")
				}
			default:
				scr.setStatus("unknown command /" + name)
			}
			return true
		})
		if errors.Is(context.Cause(ctx), errSessionExpired) {
			return errSessionExpired
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inboxCmd)
}
