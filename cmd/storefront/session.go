package main

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"finitefield.org/hanko-storefront/internal/domain"
)

const passwordEnv = "STOREFRONT_PASSWORD"

var errNoSession = errors.New("not signed in")

type credentialFlags struct {
	username string
	email    string
	password string
}

func (f *credentialFlags) resolvedPassword() string {
	if f.password != "" {
		return f.password
	}
	return os.Getenv(passwordEnv)
}

func newLoginCommand(opts *rootOptions, deps runtimeDeps) *cobra.Command {
	flags := &credentialFlags{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and merge the device cart into the account cart",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, deps, func(ctx context.Context, a *app, _ []string) error {
			password := flags.resolvedPassword()
			if strings.TrimSpace(flags.username) == "" || password == "" {
				return errors.New("username and password are required")
			}
			result := a.container.Auth.Login(ctx, strings.TrimSpace(flags.username), password)
			if !result.Success {
				return errors.New(result.Error)
			}
			return a.out.identity(a.container.Auth.State())
		}),
	}
	cmd.Flags().StringVarP(&flags.username, "username", "u", "", "account username")
	cmd.Flags().StringVarP(&flags.password, "password", "p", "", "account password (defaults to $"+passwordEnv+")")
	return cmd
}

func newRegisterCommand(opts *rootOptions, deps runtimeDeps) *cobra.Command {
	flags := &credentialFlags{}
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, deps, func(ctx context.Context, a *app, _ []string) error {
			password := flags.resolvedPassword()
			username := strings.TrimSpace(flags.username)
			email := strings.TrimSpace(flags.email)
			if username == "" || email == "" || password == "" {
				return errors.New("username, email and password are required")
			}
			result := a.container.Auth.Register(ctx, username, email, password)
			if !result.Success {
				return errors.New(result.Error)
			}
			return a.out.identity(a.container.Auth.State())
		}),
	}
	cmd.Flags().StringVarP(&flags.username, "username", "u", "", "account username")
	cmd.Flags().StringVarP(&flags.email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&flags.password, "password", "p", "", "account password (defaults to $"+passwordEnv+")")
	return cmd
}

func newLogoutCommand(opts *rootOptions, deps runtimeDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and return to the device cart",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, deps, func(_ context.Context, a *app, _ []string) error {
			a.container.Auth.Logout()
			return a.out.identity(a.container.Auth.State())
		}),
	}
}

func newWhoamiCommand(opts *rootOptions, deps runtimeDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the restored session",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, deps, func(_ context.Context, a *app, _ []string) error {
			return a.out.identity(a.container.Auth.State())
		}),
	}
}

func newRefreshCommand(opts *rootOptions, deps runtimeDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, deps, func(ctx context.Context, a *app, _ []string) error {
			if a.container.Auth.State().Status != domain.IdentityAuthenticated {
				return errNoSession
			}
			if !a.container.Auth.RefreshToken(ctx) {
				return errors.New(domain.MessageSessionExpired)
			}
			return a.out.identity(a.container.Auth.State())
		}),
	}
}
