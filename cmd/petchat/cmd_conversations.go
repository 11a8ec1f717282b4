package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/chat"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List your conversations",
	RunE:    runConversations,
}

func init() {
	conversationsCmd.Flags().String("role", "", "Only conversations where you are the owner or the sitter")
}

func runConversations(cmd *cobra.Command, args []string) error {
	role, _ := cmd.Flags().GetString("role")
	filter := models.Role(role)
	if role != "" && !filter.Valid() {
		return fmt.Errorf("role must be owner or sitter")
	}

	log := newLogger()
	client := newClient(log)
	ctrl := chat.NewController(chat.Options{
		Session:    client,
		Gateway:    client,
		Notifier:   newTerminalNotifier(cmd.ErrOrStderr()),
		Logger:     log,
		RoleFilter: filter,
	})
	defer ctrl.Close()

	if err := ctrl.Mount(cmd.Context()); err != nil {
		return err
	}
	printConversations(cmd.OutOrStdout(), ctrl.Conversations(), time.Local)
	return nil
}

func printConversations(out io.Writer, conversations []models.ConversationSummary, loc *time.Location) {
	if len(conversations) == 0 {
		fmt.Fprintln(out, "No conversations yet.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWITH\tUNREAD\tLAST MESSAGE")
	for _, conv := range conversations {
		last := "-"
		if conv.LastMessage != nil {
			last = fmt.Sprintf("%s %s", conv.LastMessage.CreatedAt.In(loc).Format("Jan 2 3:04 PM"), preview(*conv.LastMessage))
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", conv.ID, participantName(conv.OtherParticipant), conv.UnreadCount, last)
	}
	_ = w.Flush()
}

func preview(msg models.Message) string {
	switch {
	case msg.Metadata != nil && msg.Metadata.Kind == models.MetadataBookingRequest:
		return "[booking request]"
	case msg.Content != "":
		return truncate(msg.Content, 40)
	case msg.AttachmentURL != nil:
		return "[attachment]"
	default:
		return ""
	}
}

func participantName(p models.Participant) string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("user %d", p.ID)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
