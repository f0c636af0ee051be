package domain

import (
	"errors"
	"time"
)

// ErrDuplicateMessage reports an append whose sequence ID already exists for
// the conversation. Webhook redeliveries surface it and are safe to ignore.
var ErrDuplicateMessage = errors.New("duplicate message")

// PayloadKind identifies the inbound payload variant carried by a message.
type PayloadKind string

const (
	KindText  PayloadKind = "text"
	KindVoice PayloadKind = "voice"
	KindPhoto PayloadKind = "photo"
	KindVideo PayloadKind = "video"
	KindOther PayloadKind = "other"
)

// MessageStatus is the lifecycle state of a persisted conversation message.
// Messages move pending -> processing -> processed or error; the terminal
// states are never rewritten.
type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusProcessing MessageStatus = "processing"
	StatusProcessed  MessageStatus = "processed"
	StatusError      MessageStatus = "error"
)

// ConversationMessage is a single inbound message persisted for a conversation.
type ConversationMessage struct {
	ConversationID string
	// SequenceID is the platform message identifier, unique within the
	// conversation. It deduplicates webhook redeliveries and breaks
	// ordering ties between equal timestamps.
	SequenceID int64
	Kind       PayloadKind
	// Text holds the literal text for KindText and the caption, possibly
	// empty, for media kinds.
	Text     string
	MediaRef string
	// ReceivedAt is the platform timestamp. Clock skew is tolerated, not
	// corrected.
	ReceivedAt time.Time
	Status     MessageStatus
	// WaitUntil marks the earliest instant the message may be claimed for
	// dispatch. Appends initialize it; window deferrals push it forward.
	WaitUntil  time.Time
	DispatchID string
}

// HasMedia reports whether the message carries a platform file reference.
func (m ConversationMessage) HasMedia() bool {
	return m.MediaRef != ""
}
