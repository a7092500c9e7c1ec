package cmd

import (
	"context"
	"fmt"

	friendsview "github.com/bnema/homiez-cli/internal/adapters/render/friends"
	"github.com/bnema/homiez-cli/internal/application"
	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/spf13/cobra"
)

func newFriendsCmd(app *app, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "friends",
		Short: "List your friends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := app.auth.RequireIdentity(cmd.Context()); err != nil {
				return explain(err)
			}
			friends, err := app.friends.Friends(cmd.Context())
			if err != nil {
				return explain(err)
			}
			if flags.json {
				return writeJSON(cmd, friends)
			}
			rendered, renderErr := friendsview.Friends(friends)
			return writeRendered(cmd, rendered, renderErr)
		},
	}
}

func newHomeCmd(app *app, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "home",
		Short: "Show friends and people you may know",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := app.auth.RequireIdentity(cmd.Context()); err != nil {
				return explain(err)
			}

			var dashboard application.Dashboard
			err := withSpinner(cmd.Context(), cmd.ErrOrStderr(), "Loading...", func(ctx context.Context) error {
				var err error
				dashboard, err = app.friends.Dashboard(ctx)
				return err
			})
			if err != nil {
				return explain(err)
			}
			if flags.json {
				return writeJSON(cmd, dashboard)
			}
			rendered, renderErr := friendsview.Dashboard(dashboard)
			return writeRendered(cmd, rendered, renderErr)
		},
	}
}

func newRequestsCmd(app *app, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "requests",
		Short: "List friend requests you received",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := app.auth.RequireIdentity(cmd.Context()); err != nil {
				return explain(err)
			}
			requests, err := app.friends.Requests(cmd.Context())
			if err != nil {
				return explain(err)
			}
			if flags.json {
				return writeJSON(cmd, requests)
			}
			rendered, renderErr := friendsview.Requests(requests)
			return writeRendered(cmd, rendered, renderErr)
		},
	}
}

func newAcceptCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "accept <senderId>",
		Short: "Accept a friend request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.auth.RequireIdentity(cmd.Context()); err != nil {
				return explain(err)
			}
			// Load the list first so the accept shows up locally before the
			// backend answers.
			if _, err := app.friends.Requests(cmd.Context()); err != nil {
				app.logger.Debug("load friend requests before accept", "error", err)
			}
			if err := app.friends.AcceptRequest(cmd.Context(), domain.UserID(args[0])); err != nil {
				return explain(err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Accepted friend request from %s\n", args[0])
			return err
		},
	}
}

func newAddCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <userId>",
		Short: "Send a friend request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.auth.RequireIdentity(cmd.Context()); err != nil {
				return explain(err)
			}
			if err := app.friends.SendRequest(cmd.Context(), domain.UserID(args[0])); err != nil {
				return explain(err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Friend request sent to %s\n", args[0])
			return err
		},
	}
}
