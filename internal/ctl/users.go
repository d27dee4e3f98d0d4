package ctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUsersCmd(sessionFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "users <part-of-name>",
		Short: "Search users by part of their display name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*sessionFlag)
			if err != nil {
				return err
			}
			defer a.Close()

			// The server search refreshes the local cache; the cache answers.
			if err := a.engine.UpdateUsers(cmd.Context(), args[0]); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: user search failed: %v\n", err)
			}
			users, err := a.engine.UsersByPartOfName(args[0])
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", u.UserID, u.DisplayName)
			}
			return nil
		},
	}
}
