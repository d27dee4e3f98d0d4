package ctl

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// resolvePassword returns the flag value or prompts for one on stdin.
func resolvePassword(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fmt.Fprint(cmd.OutOrStdout(), "password: ")
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", fmt.Errorf("empty password")
	}
	return pw, nil
}

func newRegisterCmd(sessionFlag *string) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "register <user-id> <display-name>",
		Short: "Create a new account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*sessionFlag)
			if err != nil {
				return err
			}
			defer a.Close()

			pw, err := resolvePassword(cmd, password)
			if err != nil {
				return err
			}
			user, err := a.engine.Register(cmd.Context(), args[0], pw, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s); sign in with: msgrctl signin %s\n",
				user.DisplayName, user.UserID, user.UserID)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when omitted)")
	return cmd
}

func newSignInCmd(sessionFlag *string) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "signin <user-id>",
		Short: "Sign in and sync chats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*sessionFlag)
			if err != nil {
				return err
			}
			defer a.Close()

			pw, err := resolvePassword(cmd, password)
			if err != nil {
				return err
			}
			user, err := a.engine.SignIn(cmd.Context(), args[0], pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s)\n", user.DisplayName, user.UserID)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when omitted)")
	return cmd
}

func newSignOutCmd(sessionFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out and wipe local data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(*sessionFlag)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}
