package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Conversation struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	SitterID  int64     `json:"sitter_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasParticipant reports whether userID is one of the two sides.
func (c Conversation) HasParticipant(userID int64) bool {
	return c.OwnerID == userID || c.SitterID == userID
}

// OtherParticipantID returns the id of the side that is not userID.
func (c Conversation) OtherParticipantID(userID int64) int64 {
	if c.OwnerID == userID {
		return c.SitterID
	}
	return c.OwnerID
}

// RoleOf returns the role userID holds in this conversation.
func (c Conversation) RoleOf(userID int64) Role {
	if c.SitterID == userID {
		return RoleSitter
	}
	return RoleOwner
}

type Message struct {
	ID             int64            `json:"id"`
	ConversationID int64            `json:"conversation_id"`
	SenderID       int64            `json:"sender_id"`
	Content        string           `json:"content"`
	AttachmentURL  *string          `json:"attachment_url,omitempty"`
	Metadata       *MessageMetadata `json:"metadata,omitempty"`
	IsRead         bool             `json:"is_read"`
	CreatedAt      time.Time        `json:"created_at"`
}

type ConversationSummary struct {
	Conversation
	OtherParticipant Participant `json:"other_participant"`
	LastMessage      *Message    `json:"last_message,omitempty"`
	UnreadCount      int         `json:"unread_count"`
}

type MetadataKind string

const (
	MetadataBookingRequest MetadataKind = "booking_request"
	MetadataFileAttachment MetadataKind = "file_attachment"
)

type BookingRequestMetadata struct {
	BookingID int64
}

type FileAttachment struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	IsImage  bool   `json:"isImage"`
}

// MessageMetadata is a tagged union. Exactly one of BookingRequest or File is set,
// matching Kind.
type MessageMetadata struct {
	Kind           MetadataKind
	BookingRequest *BookingRequestMetadata
	File           *FileAttachment
}

var ErrInvalidMetadata = errors.New("invalid message metadata")

func BookingRequestMeta(bookingID int64) *MessageMetadata {
	return &MessageMetadata{
		Kind:           MetadataBookingRequest,
		BookingRequest: &BookingRequestMetadata{BookingID: bookingID},
	}
}

func FileAttachmentMeta(file FileAttachment) *MessageMetadata {
	return &MessageMetadata{Kind: MetadataFileAttachment, File: &file}
}

func (m *MessageMetadata) Validate() error {
	if m == nil {
		return nil
	}
	switch m.Kind {
	case MetadataBookingRequest:
		if m.BookingRequest == nil || m.BookingRequest.BookingID <= 0 || m.File != nil {
			return ErrInvalidMetadata
		}
	case MetadataFileAttachment:
		if m.File == nil || m.File.FileName == "" || m.File.FileSize < 0 || m.BookingRequest != nil {
			return ErrInvalidMetadata
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMetadata, m.Kind)
	}
	return nil
}

type metadataWire struct {
	Type      MetadataKind `json:"type,omitempty"`
	BookingID *int64       `json:"bookingId,omitempty"`
	FileName  *string      `json:"fileName,omitempty"`
	FileSize  *int64       `json:"fileSize,omitempty"`
	IsImage   *bool        `json:"isImage,omitempty"`
}

func (m MessageMetadata) MarshalJSON() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	wire := metadataWire{Type: m.Kind}
	switch m.Kind {
	case MetadataBookingRequest:
		wire.BookingID = &m.BookingRequest.BookingID
	case MetadataFileAttachment:
		wire.FileName = &m.File.FileName
		wire.FileSize = &m.File.FileSize
		wire.IsImage = &m.File.IsImage
	}
	return json.Marshal(wire)
}

func (m *MessageMetadata) UnmarshalJSON(data []byte) error {
	var wire metadataWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	kind := wire.Type
	if kind == "" {
		// Rows written before metadata was tagged only carry the payload fields.
		switch {
		case wire.BookingID != nil:
			kind = MetadataBookingRequest
		case wire.FileName != nil:
			kind = MetadataFileAttachment
		}
	}

	switch kind {
	case MetadataBookingRequest:
		if wire.BookingID == nil {
			return ErrInvalidMetadata
		}
		*m = MessageMetadata{Kind: kind, BookingRequest: &BookingRequestMetadata{BookingID: *wire.BookingID}}
	case MetadataFileAttachment:
		if wire.FileName == nil {
			return ErrInvalidMetadata
		}
		file := FileAttachment{FileName: *wire.FileName}
		if wire.FileSize != nil {
			file.FileSize = *wire.FileSize
		}
		if wire.IsImage != nil {
			file.IsImage = *wire.IsImage
		}
		*m = MessageMetadata{Kind: kind, File: &file}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMetadata, kind)
	}
	return m.Validate()
}

// EncodeMetadata returns the jsonb payload for a message row; nil means SQL NULL.
func EncodeMetadata(m *MessageMetadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func DecodeMetadata(raw []byte) (*MessageMetadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var m MessageMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
