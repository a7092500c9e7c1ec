package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bnema/homiez-cli/internal/application"
	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/bnema/homiez-cli/internal/realtime"
	"github.com/spf13/cobra"
)

func newChatCmd(app *app) *cobra.Command {
	var message string
	var startCall bool
	var follow bool

	cmd := &cobra.Command{
		Use:   "chat <userId>",
		Short: "Open the direct chat with a friend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var sess *realtime.Session
			err := withSpinner(ctx, cmd.ErrOrStderr(), "Connecting to chat...", func(ctx context.Context) error {
				var err error
				sess, err = app.chat.OpenChat(ctx, domain.UserID(args[0]))
				return err
			})
			if err != nil {
				return explain(err)
			}
			defer leave(app, application.ChatSlot)

			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Chat %s is open\n", sess.Resource.ID); err != nil {
				return err
			}

			if message != "" {
				if err := app.chat.Send(ctx, message); err != nil {
					return explain(err)
				}
			}
			if startCall {
				link, err := app.chat.StartCall(ctx)
				if err != nil {
					return explain(err)
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Video call started: %s\n", link); err != nil {
					return err
				}
			}
			if !follow {
				return nil
			}

			return followSession(ctx, app, sess, func(ev realtime.Event) (bool, error) {
				if ev.Kind != realtime.EventMessage {
					return false, nil
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", ev.Message.CreatedAt.Local().Format("15:04"), ev.Message.UserID, ev.Message.Text)
				return false, err
			})
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "Send a message once the chat is open")
	cmd.Flags().BoolVar(&startCall, "call", false, "Start a video call and post the link into the chat")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep the chat open and print incoming messages")

	return cmd
}

func newCallCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "call <callId>",
		Short: "Join a video call until it ends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var sess *realtime.Session
			err := withSpinner(ctx, cmd.ErrOrStderr(), "Joining call...", func(ctx context.Context) error {
				var err error
				sess, err = app.chat.JoinCall(ctx, args[0])
				return err
			})
			if err != nil {
				return explain(err)
			}
			defer leave(app, application.VideoSlot)

			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Joined call %s, press Ctrl+C to leave\n", sess.Resource.ID); err != nil {
				return err
			}

			return followSession(ctx, app, sess, func(ev realtime.Event) (bool, error) {
				if ev.Kind != realtime.EventCallState {
					return false, nil
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "call %s\n", ev.CallState); err != nil {
					return true, err
				}
				return ev.CallState == domain.CallingLeft, nil
			})
		},
	}
}

var errIdentityChanged = errors.New("logged in user changed, session closed")

// followSession feeds session events to handle until it asks to stop, the
// session ends, ctx is done or another process changes the logged in user.
func followSession(ctx context.Context, app *app, sess *realtime.Session, handle func(realtime.Event) (bool, error)) error {
	me, err := app.auth.CurrentIdentity(ctx)
	if err != nil {
		return explain(err)
	}

	switched := make(chan struct{})
	stopWatch, err := app.watchIdentity(ctx, me, func(identity domain.Identity) {
		if identity.ID != me.ID {
			select {
			case <-switched:
			default:
				close(switched)
			}
		}
	})
	if err != nil {
		return err
	}
	defer stopWatch()

	events := sess.Events()
	if events == nil {
		return fmt.Errorf("follow %s: %w", sess.Slot, domain.ErrNotReady)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-switched:
			return errIdentityChanged
		case ev, ok := <-events:
			if !ok {
				if err := sess.Err(); err != nil {
					return explain(err)
				}
				return nil
			}
			done, err := handle(ev)
			if err != nil || done {
				return err
			}
		}
	}
}

func leave(app *app, slot realtime.Slot) {
	if err := app.chat.Leave(context.Background(), slot); err != nil {
		app.logger.Warn("leave realtime session", "slot", slot.String(), "error", err)
	}
}
