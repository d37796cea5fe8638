// internal/types/interfaces.go
package types

import (
	"context"
	"time"
)

// Button is one inline action offered with a delivered message. Action
// buttons carry an opaque callback payload; URL buttons open a link.
type Button struct {
	Label  string
	Action string
	URL    string
}

// Content is the payload of a transport delivery or edit.
type Content struct {
	Text     string
	ImageURL string
	Buttons  [][]Button
}

// Transport is the chat-delivery capability consumed by the routing core.
// Every call can fail per recipient; callers log and continue.
type Transport interface {
	Deliver(ctx context.Context, chatID int64, c Content) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, c Content) error
	Delete(ctx context.Context, ref MessageRef) error
	DeliverMedia(ctx context.Context, chatID int64, kind MediaKind, fileRef, caption string, replyTo int) (MessageRef, error)
	DeliverDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) (MessageRef, error)
}

// Translator converts text into a target language. It never fails
// observably; implementations degrade to returning the input.
type Translator interface {
	Translate(ctx context.Context, text, target string) string
}

type ProfileStore interface {
	Upsert(ctx context.Context, p *UserProfile) error
	Get(ctx context.Context, id UserID) (*UserProfile, error)
	Language(ctx context.Context, id UserID) string
	SetBlocked(ctx context.Context, id UserID, blocked bool) error
	All(ctx context.Context) ([]*UserProfile, error)
	AllIDs(ctx context.Context) ([]UserID, error)
	IDsByLanguage(ctx context.Context, lang string) ([]UserID, error)
}

type PostStore interface {
	Add(ctx context.Context, p *ScheduledPost) error
	List(ctx context.Context) ([]*ScheduledPost, error)
	Remove(ctx context.Context, id uint) error
	// ClaimDue atomically removes and returns every post due at now.
	ClaimDue(ctx context.Context, now time.Time) ([]*ScheduledPost, error)
}
