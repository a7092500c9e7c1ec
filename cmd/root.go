package cmd

import (
	"github.com/spf13/cobra"
)

func Execute() error {
	return newRootCmd().Execute()
}

type globalFlags struct {
	json    bool
	metrics bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "hz",
		Short:         "Homiez CLI (hz): friends, chat and calls from the terminal",
		Long:          "hz is a terminal client for Homiez. It logs you in, lists friends and suggestions, manages friend requests, and opens direct chats and video calls.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().BoolVar(&flags.json, "json", false, "Print listings as JSON")
	rootCmd.PersistentFlags().BoolVar(&flags.metrics, "metrics", false, "Dump client metrics to stderr on exit")

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, _ []string) error {
		app.close(cmd.Context())
		if !flags.metrics {
			return nil
		}
		return app.metrics.WriteText(cmd.ErrOrStderr())
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newLoginCmd(app),
		newSignupCmd(app),
		newOnboardCmd(app),
		newLogoutCmd(app),
		newWhoamiCmd(app, flags),
		newFriendsCmd(app, flags),
		newHomeCmd(app, flags),
		newRequestsCmd(app, flags),
		newAcceptCmd(app),
		newAddCmd(app),
		newChatCmd(app),
		newCallCmd(app),
	)

	return rootCmd
}
