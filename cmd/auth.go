package cmd

import (
	"fmt"

	friendsview "github.com/bnema/homiez-cli/internal/adapters/render/friends"
	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/spf13/cobra"
)

func newLoginCmd(app *app) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := newPrompter(cmd)
			address, err := orPrompt(p, email, "Email: ")
			if err != nil {
				return err
			}
			password, err := p.secret("Password: ")
			if err != nil {
				return err
			}

			identity, err := app.auth.Login(cmd.Context(), domain.Credentials{Email: address, Password: password})
			if err != nil {
				return explain(err)
			}
			return greet(cmd, "Logged in as", identity)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email (prompted when empty)")

	return cmd
}

func newSignupCmd(app *app) *cobra.Command {
	var name string
	var email string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and log in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := newPrompter(cmd)
			fullName, err := orPrompt(p, name, "Full name: ")
			if err != nil {
				return err
			}
			address, err := orPrompt(p, email, "Email: ")
			if err != nil {
				return err
			}
			password, err := p.secret("Password: ")
			if err != nil {
				return err
			}

			identity, err := app.auth.Signup(cmd.Context(), domain.SignupRequest{FullName: fullName, Email: address, Password: password})
			if err != nil {
				return explain(err)
			}
			return greet(cmd, "Signed up as", identity)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Full name (prompted when empty)")
	cmd.Flags().StringVar(&email, "email", "", "Account email (prompted when empty)")

	return cmd
}

func newOnboardCmd(app *app) *cobra.Command {
	var profile domain.Profile

	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Complete your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			identity, err := app.auth.Onboard(cmd.Context(), profile)
			if err != nil {
				return explain(err)
			}
			return greet(cmd, "Profile updated for", identity)
		},
	}

	cmd.Flags().StringVar(&profile.FullName, "name", "", "Full name")
	cmd.Flags().StringVar(&profile.Bio, "bio", "", "Short bio")
	cmd.Flags().StringVar(&profile.Location, "location", "", "Where you are")
	cmd.Flags().StringVar(&profile.AvatarURL, "avatar", "", "Profile picture URL")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newLogoutCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.auth.Logout(cmd.Context()); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return err
		},
	}
}

func newWhoamiCmd(app *app, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			identity, err := app.auth.CurrentIdentity(cmd.Context())
			if err != nil {
				return explain(err)
			}
			if flags.json {
				return writeJSON(cmd, identity)
			}
			rendered, renderErr := friendsview.Profile(identity)
			return writeRendered(cmd, rendered, renderErr)
		},
	}
}

func greet(cmd *cobra.Command, verb string, identity domain.Identity) error {
	name := identity.DisplayName
	if name == "" {
		name = identity.Email
	}
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", verb, name, identity.ID); err != nil {
		return err
	}
	if !identity.Onboarded {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "Finish your profile with `hz onboard --name ...`")
		return err
	}
	return nil
}
