package ctl

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// Execute runs the msgrctl command tree.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var sessionFlag string
	rootCmd := &cobra.Command{
		Use:           "msgrctl",
		Short:         "Command-line client for the msgr chat service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")

	rootCmd.AddCommand(
		newStatusCmd(&sessionFlag),
		newServerCmd(&sessionFlag),
		newRegisterCmd(&sessionFlag),
		newSignInCmd(&sessionFlag),
		newSignOutCmd(&sessionFlag),
		newChatsCmd(&sessionFlag),
		newCreateChatCmd(&sessionFlag),
		newJoinCmd(&sessionFlag),
		newLeaveCmd(&sessionFlag),
		newInviteCmd(&sessionFlag),
		newMembersCmd(&sessionFlag),
		newMessagesCmd(&sessionFlag),
		newSendCmd(&sessionFlag),
		newUsersCmd(&sessionFlag),
	)
	return rootCmd
}

func parseChatID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q", arg)
	}
	return id, nil
}

func newStatusCmd(sessionFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(*sessionFlag)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "session: %s\n", a.name)
			fmt.Fprintf(cmd.OutOrStdout(), "server:  %s\n", a.session.ServerURL())
			if u := a.session.CurrentUser(); u != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "user:    %s (%s)\n", u.DisplayName, u.UserID)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "user:    signed out")
			}
			return nil
		},
	}
}

func newServerCmd(sessionFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "server [url]",
		Short: "Show or change the server URL",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*sessionFlag)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), a.session.ServerURL())
				return nil
			}
			if err := a.session.SetServerURL(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "server set to %s\n", args[0])
			return nil
		},
	}
}
