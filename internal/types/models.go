// internal/types/models.go
package types

import "time"

// RequestStatus is the lifecycle state of a support request. Closed requests
// are never stored; closure is removal from the request store.
type RequestStatus string

const (
	StatusPending RequestStatus = "pending"
	StatusClaimed RequestStatus = "claimed"
)

// Sender tags a history or media entry with its author side.
type Sender string

const (
	SenderUser     Sender = "user"
	SenderOperator Sender = "operator"
)

// Initiator identifies who triggered the closing of a request.
type Initiator string

const (
	InitiatorUser     Initiator = "user"
	InitiatorOperator Initiator = "operator"
	InitiatorSystem   Initiator = "system"
)

// MediaKind distinguishes relayed attachment types.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaDocument MediaKind = "document"
)

// MessageRef locates a delivered message on the transport so it can later be
// edited or deleted.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// Zero reports whether the ref points at nothing.
func (r MessageRef) Zero() bool {
	return r.ChatID == 0 && r.MessageID == 0
}

// HistoryEntry is one text message exchanged inside a request.
type HistoryEntry struct {
	At     time.Time `json:"at"`
	Sender Sender    `json:"sender"`
	Text   string    `json:"text"`
}

// MediaRecord is one relayed attachment. SourceRef is the message the sender
// posted; DeliveredRef is set once a copy has been relayed to the other side
// and is what teardown deletes.
type MediaRecord struct {
	At           time.Time   `json:"at"`
	Kind         MediaKind   `json:"kind"`
	FileRef      string      `json:"file_ref"`
	Caption      string      `json:"caption"`
	Sender       Sender      `json:"sender"`
	SourceRef    MessageRef  `json:"source_ref"`
	DeliveredRef *MessageRef `json:"delivered_ref,omitempty"`
}

// Request is one help-desk conversation between a user and at most one
// operator, from first message to finalization.
type Request struct {
	ID          RequestID     `json:"id"`
	UserID      UserID        `json:"user_id"`
	DisplayName string        `json:"display_name"`
	Language    string        `json:"language"`
	Status      RequestStatus `json:"status"`

	// AssignedOperator is zero while Pending and set exactly once on claim.
	AssignedOperator OperatorID `json:"assigned_operator,omitempty"`
	OperatorName     string     `json:"operator_name,omitempty"`

	History []HistoryEntry `json:"history"`
	Media   []MediaRecord  `json:"media"`

	// Notifications maps each notified operator to the fan-out notice sent
	// to them, so the notice can be rewritten on claim and retracted on close.
	Notifications map[OperatorID]MessageRef `json:"notifications"`

	// SideNotes are the auxiliary messages produced while relaying
	// (acknowledgements, delivered copies); all are retracted on close.
	SideNotes []MessageRef `json:"side_notes"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	// EscalatedAt is the base of the unclaimed-request reminder clock. It
	// starts at CreatedAt and is advanced by each reminder, independently
	// of LastActivityAt.
	EscalatedAt time.Time `json:"escalated_at"`
}

// UserProfile is the persisted record of an end user.
type UserProfile struct {
	UserID          UserID `gorm:"primaryKey"`
	Username        string `gorm:"size:64"`
	FirstSeen       time.Time
	Language        string `gorm:"size:8;index"`
	Blocked         bool   `gorm:"default:false;index"`
	LastInteraction time.Time
}

// Audience selects the recipients of a scheduled post.
const (
	AudienceAll        = "all"
	AudienceByLanguage = "by_lang"
	AudienceExplicit   = "ids"
)

// ScheduledPost is one queued broadcast announcement.
type ScheduledPost struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	Text         string    `gorm:"type:text;not null"`
	ImageURL     string    `gorm:"size:512"`
	ButtonLabel  string    `gorm:"size:128"`
	ButtonURL    string    `gorm:"size:512"`
	SendAt       time.Time `gorm:"index"`
	Audience     string    `gorm:"size:16;not null"`
	AudienceLang string    `gorm:"size:8"`
	// AudienceIDs is a comma-separated user id list for AudienceExplicit.
	AudienceIDs string `gorm:"size:1024"`
	CreatedAt   time.Time
}
