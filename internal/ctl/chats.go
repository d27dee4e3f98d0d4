package ctl

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newChatsCmd(sessionFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List chats with their latest message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(*sessionFlag)
			if err != nil {
				return err
			}
			defer a.Close()

			// Refresh opportunistically; the local list still renders offline.
			if err := a.engine.UpdateChatsList(cmd.Context()); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: chat sync failed: %v\n", err)
			}

			summaries, err := a.db.ListChatSummaries()
			if err != nil {
				return err
			}
			for _, s := range summaries {
				marker := " "
				if s.IsSystem {
					marker = "*"
				}
				if s.LastMessageText == "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %d\t%s\n", marker, s.ChatID, s.Name)
					continue
				}
				when := time.UnixMilli(s.LastMessageOn).Format("2006-01-02 15:04")
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d\t%s\t[%s] %s: %s\n",
					marker, s.ChatID, s.Name, when, s.LastMessageAuthor, s.LastMessageText)
			}
			return nil
		},
	}
}

func newCreateChatCmd(sessionFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "create-chat <name>",
		Short: "Create a new chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*sessionFlag)
			if err != nil {
				return err
			}
			defer a.Close()

			info, err := a.engine.CreateChat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created chat %d (%s)\n", info.ChatID, info.DefaultName)
			return nil
		},
	}
}

func newJoinCmd(sessionFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "join <chat-id> <secret>",
		Short: "Join a chat using an invite secret",
		Args:  cobra.ExactArgs(2),
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
			if err := a.engine.JoinChat(cmd.Context(), chatID, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "joined chat %d\n", chatID)
			return nil
		},
	}
}

func newLeaveCmd(sessionFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "leave <chat-id>",
		Short: "Leave a chat and drop its local history",
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
			if err := a.engine.LeaveChat(cmd.Context(), chatID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "left chat %d\n", chatID)
			return nil
		},
	}
}

func newInviteCmd(sessionFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "invite <chat-id> <user-id>",
		Short: "Invite a user to a chat",
		Args:  cobra.ExactArgs(2),
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
			if err := a.engine.SendInvite(cmd.Context(), chatID, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invited %s to chat %d; they receive the secret in their system chat\n",
				args[1], chatID)
			return nil
		},
	}
}

func newMembersCmd(sessionFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "members <chat-id>",
		Short: "List the members of a chat",
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
			if err := a.engine.UpdateChatsList(cmd.Context()); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: chat sync failed: %v\n", err)
			}

			members, err := a.db.ChatMembers(chatID)
			if err != nil {
				return err
			}
			for _, m := range members {
				state := ""
				if !m.IsActive {
					state = "\t(inactive)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s%s\n", m.UserID, m.MemberDisplayName, state)
			}
			return nil
		},
	}
}
