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

var (
	widgetProduct string
	widgetShop    string
)

var widgetCmd = &cobra.Command{
	Use:   "widget",
	Short: "Chat with the vendor of a product or shop",
	Long: `widget opens (or reuses) the conversation between you and the vendor
behind --product or --shop. Type a line to send it, /quit to leave.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if widgetProduct == "" && widgetShop == "" {
			return errors.New("one of --product or --shop is required")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := newLogger()
		client, _, err := loggedIn(ctx, logger)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)

		scr := &screen{out: cmd.OutOrStdout(), help: "type a message and press enter, /quit to leave"}
		w := shell.NewWidget(shell.Config{
			API:       client,
			Navigator: shell.NavigatorFunc(func() { cancel(errSessionExpired) }),
			Logger:    logger,
			Interval:  pollEvery,
			OnRender:  scr.redraw,
		})
		scr.draw = w.Render
		defer w.Unmount()

		if err := w.Mount(ctx, chatsync.Anchor{ProductID: widgetProduct, ShopID: widgetShop}); err != nil {
			scr.redraw()
			if chatsync.IsUnauthenticated(err) {
				return errSessionExpired
			}
			return err
		}
		scr.redraw()

		interact(ctx, cmd.InOrStdin(), func(ctx context.Context, line string) bool {
			name, text := command(line)
			switch name {
			case "quit", "q":
				return false
			case "":
				w.Input(text)
				if err := w.Send(ctx); err != nil && !errors.Is(err, chatsync.ErrEmptyBody) {
					logger.Debug("send failed", "error", err)
				}
				scr.setStatus("")
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
	widgetCmd.Flags().StringVar(&widgetProduct, "product", "", "product id to ask about")
	widgetCmd.Flags().StringVar(&widgetShop, "shop", "", "shop id to ask about")
	rootCmd.AddCommand(widgetCmd)
}
