package chat

import (
	"context"
	"time"

	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
)

const timeLayout = "3:04 PM"

type ItemKind string

const (
	ItemBubble      ItemKind = "bubble"
	ItemBookingCard ItemKind = "booking_card"
)

type AttachmentMode string

const (
	AttachmentNone     AttachmentMode = ""
	AttachmentImage    AttachmentMode = "image"
	AttachmentDocument AttachmentMode = "document"
)

// DisplayItem is one rendered row of a conversation.
type DisplayItem struct {
	Kind      ItemKind
	MessageID int64
	SenderID  int64
	IsOwn     bool
	// ShowAvatar is set on the first item and whenever the sender changes.
	ShowAvatar bool
	Sender     models.Participant
	Content    string
	IsRead     bool
	Time       string
	CreatedAt  time.Time

	// Booking cards only. The card's state is looked up live by id.
	BookingID int64

	AttachmentURL  string
	AttachmentMode AttachmentMode
	FileName       string
	FileSize       int64
}

// BookingLookup fetches the current state of a booking shown as a card.
type BookingLookup interface {
	GetBooking(ctx context.Context, bookingID int64) (*models.Booking, error)
}

// RenderItems renders messages in the local time zone.
func RenderItems(messages []models.Message, currentUserID int64, other models.Participant) []DisplayItem {
	return RenderItemsIn(messages, currentUserID, other, time.Local)
}

// RenderItemsIn maps each message to exactly one item, keeping input order.
func RenderItemsIn(messages []models.Message, currentUserID int64, other models.Participant, loc *time.Location) []DisplayItem {
	if loc == nil {
		loc = time.Local
	}
	items := make([]DisplayItem, 0, len(messages))
	for i, msg := range messages {
		item := DisplayItem{
			Kind:       ItemBubble,
			MessageID:  msg.ID,
			SenderID:   msg.SenderID,
			IsOwn:      msg.SenderID == currentUserID,
			ShowAvatar: i == 0 || messages[i-1].SenderID != msg.SenderID,
			Content:    msg.Content,
			IsRead:     msg.IsRead,
			Time:       msg.CreatedAt.In(loc).Format(timeLayout),
			CreatedAt:  msg.CreatedAt,
		}
		if item.IsOwn {
			item.Sender = models.Participant{ID: currentUserID}
		} else {
			item.Sender = other
		}

		if msg.Metadata != nil && msg.Metadata.Kind == models.MetadataBookingRequest && msg.Metadata.BookingRequest != nil {
			item.Kind = ItemBookingCard
			item.BookingID = msg.Metadata.BookingRequest.BookingID
			items = append(items, item)
			continue
		}

		if msg.AttachmentURL != nil && *msg.AttachmentURL != "" {
			item.AttachmentURL = *msg.AttachmentURL
			item.AttachmentMode = AttachmentDocument
			if msg.Metadata != nil && msg.Metadata.File != nil {
				item.FileName = msg.Metadata.File.FileName
				item.FileSize = msg.Metadata.File.FileSize
				if msg.Metadata.File.IsImage {
					item.AttachmentMode = AttachmentImage
				}
			}
		}
		items = append(items, item)
	}
	return items
}
