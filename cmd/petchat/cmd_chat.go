package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/attachment"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/chat"
)

const bookingLookupTimeout = 5 * time.Second

var chatCmd = &cobra.Command{
	Use:   "chat <conversation-id>",
	Short: "Open a conversation and send messages from stdin",
	Long: `Loads the history, follows new messages live and sends each line you type.

Commands:
  /attach <path>   attach a file to the next message
  /detach          drop the pending attachment
  /quit            leave the conversation`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().String("attach", "", "File to attach to the first message")
}

func runChat(cmd *cobra.Command, args []string) error {
	conversationID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || conversationID <= 0 {
		return fmt.Errorf("conversation id must be a positive integer")
	}

	ctx := cmd.Context()
	log := newLogger()
	client := newClient(log)
	out := cmd.OutOrStdout()

	var ctrl *chat.Controller
	printer := newTranscript(out, client, time.Local)
	ctrl = chat.NewController(chat.Options{
		Session:  client,
		Gateway:  client,
		Uploader: client,
		Notifier: newTerminalNotifier(cmd.ErrOrStderr()),
		Logger:   log,
		OnChange: func() { printer.Print(ctx, ctrl.Items(time.Local)) },
	})
	defer ctrl.Close()

	compose := chat.NewCompose(attachment.NewPreviews())
	defer compose.Close()

	if path, _ := cmd.Flags().GetString("attach"); path != "" {
		if err := attachFile(out, compose, path); err != nil {
			return err
		}
	}

	if err := ctrl.Mount(ctx); err != nil {
		return err
	}
	if err := ctrl.Select(ctx, conversationID); err != nil {
		if errors.Is(err, chat.ErrNotFound) || errors.Is(err, chat.ErrForbidden) {
			return fmt.Errorf("conversation %d is not available", conversationID)
		}
		return err
	}

	return readLoop(ctx, cmd.InOrStdin(), out, ctrl, compose)
}

func readLoop(ctx context.Context, in io.Reader, out io.Writer, ctrl *chat.Controller, compose *chat.Compose) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return nil
		case line == "/detach":
			compose.RemoveAttachment()
			fmt.Fprintln(out, "attachment removed")
			continue
		case strings.HasPrefix(line, "/attach "):
			if err := attachFile(out, compose, strings.TrimSpace(strings.TrimPrefix(line, "/attach "))); err != nil {
				fmt.Fprintf(out, "cannot attach: %v\n", err)
			}
			continue
		case line == "" && compose.Attachment() == nil:
			continue
		}

		compose.SetText(line)
		if _, err := ctrl.Send(ctx, compose); err != nil {
			if errors.Is(err, chat.ErrNotAuthenticated) {
				return err
			}
			fmt.Fprintln(out, "message not sent")
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

func attachFile(out io.Writer, compose *chat.Compose, path string) error {
	file, err := attachment.Open(path)
	if err != nil {
		return err
	}
	if err := compose.Attach(file); err != nil {
		return err
	}
	kind := "document"
	if preview := compose.Preview(); preview != nil {
		kind = "image " + preview.URL
	}
	fmt.Fprintf(out, "attached %s (%s, %d bytes)\n", file.Name, kind, file.Size)
	return nil
}

// transcript prints each rendered item once, in order.
type transcript struct {
	out      io.Writer
	bookings chat.BookingLookup
	loc      *time.Location

	mu      sync.Mutex
	printed map[int64]struct{}
}

func newTranscript(out io.Writer, bookings chat.BookingLookup, loc *time.Location) *transcript {
	return &transcript{out: out, bookings: bookings, loc: loc, printed: make(map[int64]struct{})}
}

func (t *transcript) Print(ctx context.Context, items []chat.DisplayItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, item := range items {
		if _, ok := t.printed[item.MessageID]; ok {
			continue
		}
		t.printed[item.MessageID] = struct{}{}
		fmt.Fprintln(t.out, t.format(ctx, item))
	}
}

func (t *transcript) format(ctx context.Context, item chat.DisplayItem) string {
	var b strings.Builder
	b.WriteString(item.Time)
	b.WriteString("  ")

	name := "you"
	if !item.IsOwn {
		name = participantName(item.Sender)
	}
	if item.ShowAvatar {
		b.WriteString(name + ": ")
	} else {
		b.WriteString(strings.Repeat(" ", len(name)+2))
	}

	if item.Kind == chat.ItemBookingCard {
		b.WriteString(t.bookingCard(ctx, item.BookingID))
		return b.String()
	}

	b.WriteString(item.Content)
	switch item.AttachmentMode {
	case chat.AttachmentImage:
		fmt.Fprintf(&b, " [image %s] %s", item.FileName, item.AttachmentURL)
	case chat.AttachmentDocument:
		label := item.FileName
		if label == "" {
			label = "file"
		}
		fmt.Fprintf(&b, " [%s] %s", label, item.AttachmentURL)
	}
	if item.IsOwn && item.IsRead {
		b.WriteString(" ✓")
	}
	return strings.TrimRight(b.String(), " ")
}

func (t *transcript) bookingCard(ctx context.Context, bookingID int64) string {
	if t.bookings == nil {
		return fmt.Sprintf("[booking #%d]", bookingID)
	}
	lookupCtx, cancel := context.WithTimeout(ctx, bookingLookupTimeout)
	defer cancel()
	booking, err := t.bookings.GetBooking(lookupCtx, bookingID)
	if err != nil {
		return fmt.Sprintf("[booking #%d: status unavailable]", bookingID)
	}
	return fmt.Sprintf("[booking #%d: %s, %s to %s, $%.2f]",
		booking.ID,
		booking.Status,
		booking.StartAt.In(t.loc).Format("Jan 2 3:04 PM"),
		booking.EndAt.In(t.loc).Format("Jan 2 3:04 PM"),
		booking.TotalPrice,
	)
}

type terminalNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

func newTerminalNotifier(out io.Writer) *terminalNotifier {
	return &terminalNotifier{out: out}
}

func (n *terminalNotifier) Toast(message string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err != nil {
		fmt.Fprintf(n.out, "! %s: %v\n", message, err)
		return
	}
	fmt.Fprintf(n.out, "! %s\n", message)
}

func (n *terminalNotifier) LoginRequired() {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintln(n.out, "! Session missing or expired. Run `petchat login` first.")
}
