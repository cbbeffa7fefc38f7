package domain

import "time"

// MessageType discriminates the payload of a message.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeVoice    MessageType = "voice"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeFile     MessageType = "file"
	TypeLocation MessageType = "location"
	TypeContact  MessageType = "contact"
	TypeSystem   MessageType = "system"
)

// ValidMessageType reports whether t is one of the known types. System
// messages are produced internally, never accepted from clients.
func ValidMessageType(t MessageType) bool {
	switch t {
	case TypeText, TypeVoice, TypeImage, TypeVideo, TypeFile, TypeLocation, TypeContact, TypeSystem:
		return true
	}
	return false
}

// MessageStatus tracks delivery state.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

func statusRank(s MessageStatus) int {
	switch s {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return -1
}

// CanTransition enforces the monotonic status order
// sending -> sent -> delivered -> read, with failed reachable from any
// pre-read state. read and failed are terminal.
func (s MessageStatus) CanTransition(to MessageStatus) bool {
	if s == StatusRead || s == StatusFailed {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return statusRank(to) > statusRank(s)
}

// FileInfo is the file descriptor payload for non-text message types.
type FileInfo struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Duration int    `json:"duration,omitempty"` // seconds, voice/video only
}

// Message is an append-only chat record with mutable status/read/delete
// projections. Read receipts (group), delete markers and edit history live in
// side tables and are surfaced through MessageRepository.
type Message struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	Scope     Scope       `json:"-"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content,omitempty"`
	File      *FileInfo   `json:"file,omitempty"`
	Encrypted bool        `json:"encrypted"`

	Status MessageStatus `json:"status"`
	Read   bool          `json:"read"`
	ReadAt *time.Time    `json:"read_at,omitempty"`

	ReplyTo *string `json:"reply_to,omitempty"`

	Pinned   bool       `json:"pinned"`
	Edited   bool       `json:"edited"`
	EditedAt *time.Time `json:"edited_at,omitempty"`

	Deleted   bool      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// ReadReceipt is one group-message read mark.
type ReadReceipt struct {
	Reader string    `json:"reader"`
	ReadAt time.Time `json:"read_at"`
}

// EditRecord preserves pre-edit content.
type EditRecord struct {
	Content  string    `json:"content"`
	EditedAt time.Time `json:"edited_at"`
}
