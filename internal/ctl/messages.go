package ctl

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newMessagesCmd(sessionFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "messages <chat-id>",
		Short: "Show the messages of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*sessionFlag)
			if err != nil {
				return err
			}
			defer a.Close()

			chatID, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			if err := a.engine.UpdateMessages(cmd.Context(), chatID); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: message sync failed: %v\n", err)
			}

			msgs, err := a.db.ChatMessages(chatID)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				when := time.UnixMilli(m.CreatedOn).Format("2006-01-02 15:04")
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", when, m.MemberDisplayName, m.Text)
			}
			return nil
		},
	}
}

func newSendCmd(sessionFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "send <chat-id> <text>...",
		Short: "Send a message to a chat",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*sessionFlag)
			if err != nil {
				return err
			}
			defer a.Close()

			chatID, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			msg, err := a.engine.SendMessage(cmd.Context(), chatID, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent message %d\n", msg.MessageID)
			return nil
		},
	}
}
