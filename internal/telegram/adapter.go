// Package telegram bridges the Telegram Bot API to the routing engine. The
// Adapter is both the inbound update loop and the outbound Transport the
// core delivers through.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/semaphore"

	"github.com/user/switchboard/internal/directory"
	"github.com/user/switchboard/internal/engine"
	"github.com/user/switchboard/internal/types"
)

const maxTelegramMessage = 4096

type Adapter struct {
	bot      *tgbotapi.BotAPI
	engine   *engine.Engine
	profiles types.ProfileStore
	dir      *directory.Directory
	opLang   string
	sem      *semaphore.Weighted

	mu               sync.Mutex
	awaitingQuestion map[types.UserID]bool
	awaitingLanguage map[types.UserID]bool
}

var _ types.Transport = (*Adapter)(nil)

// New creates a Telegram adapter. maxConcurrent bounds the number of
// updates handled simultaneously.
func New(token string, profiles types.ProfileStore, dir *directory.Directory, operatorLanguage string, maxConcurrent int64) (*Adapter, error) {
	// Timeout must exceed the long-poll window or GetUpdates aborts early.
	client := &http.Client{Timeout: 50 * time.Second}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Adapter{
		bot:              bot,
		profiles:         profiles,
		dir:              dir,
		opLang:           operatorLanguage,
		sem:              semaphore.NewWeighted(maxConcurrent),
		awaitingQuestion: make(map[types.UserID]bool),
		awaitingLanguage: make(map[types.UserID]bool),
	}, nil
}

// AttachEngine wires the routing engine in after construction; the engine
// itself is built with the adapter as its Transport.
func (a *Adapter) AttachEngine(eng *engine.Engine) {
	a.engine = eng
}

// Start registers the bot commands and long-polls for updates until the
// context is cancelled. Each update runs in its own goroutine, bounded by
// the adapter's semaphore.
func (a *Adapter) Start(ctx context.Context) {
	commands := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "start", Description: "Show the main menu"},
		tgbotapi.BotCommand{Command: "support", Description: "Start a support chat"},
		tgbotapi.BotCommand{Command: "endchat", Description: "End the current support chat"},
		tgbotapi.BotCommand{Command: "stats", Description: "User statistics (admin only)"},
	)
	if _, err := a.bot.Request(commands); err != nil {
		slog.Warn("set bot commands failed", "error", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if err := a.sem.Acquire(ctx, 1); err != nil {
				return
			}
			go func(update tgbotapi.Update) {
				defer a.sem.Release(1)
				a.handleUpdate(ctx, update)
			}(update)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

// Deliver implements types.Transport. Long texts are split at the
// transport limit; the buttons ride on the final part and its ref is the
// one returned.
func (a *Adapter) Deliver(_ context.Context, chatID int64, c types.Content) (types.MessageRef, error) {
	keyboard := buildMarkup(c.Buttons)

	if c.ImageURL != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(c.ImageURL))
		photo.Caption = c.Text
		if keyboard != nil {
			photo.ReplyMarkup = *keyboard
		}
		sent, err := a.bot.Send(photo)
		if err != nil {
			return types.MessageRef{}, fmt.Errorf("send photo: %w", err)
		}
		return types.MessageRef{ChatID: chatID, MessageID: sent.MessageID}, nil
	}

	parts := splitMessage(c.Text)
	var last types.MessageRef
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		if keyboard != nil && i == len(parts)-1 {
			msg.ReplyMarkup = *keyboard
		}
		sent, err := a.bot.Send(msg)
		if err != nil {
			return types.MessageRef{}, fmt.Errorf("send message: %w", err)
		}
		last = types.MessageRef{ChatID: chatID, MessageID: sent.MessageID}
	}
	return last, nil
}

// Edit implements types.Transport.
func (a *Adapter) Edit(_ context.Context, ref types.MessageRef, c types.Content) error {
	var err error
	if keyboard := buildMarkup(c.Buttons); keyboard != nil {
		edit := tgbotapi.NewEditMessageTextAndMarkup(ref.ChatID, ref.MessageID, c.Text, *keyboard)
		_, err = a.bot.Send(edit)
	} else {
		edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, c.Text)
		_, err = a.bot.Send(edit)
	}
	if err != nil {
		return fmt.Errorf("edit message %d: %w", ref.MessageID, err)
	}
	return nil
}

// Delete implements types.Transport.
func (a *Adapter) Delete(_ context.Context, ref types.MessageRef) error {
	if _, err := a.bot.Request(tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID)); err != nil {
		return fmt.Errorf("delete message %d: %w", ref.MessageID, err)
	}
	return nil
}

// DeliverMedia implements types.Transport, re-sending stored media by its
// transport file id.
func (a *Adapter) DeliverMedia(_ context.Context, chatID int64, kind types.MediaKind, fileRef, caption string, replyTo int) (types.MessageRef, error) {
	var sent tgbotapi.Message
	var err error
	switch kind {
	case types.MediaPhoto:
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(fileRef))
		photo.Caption = caption
		photo.ReplyToMessageID = replyTo
		sent, err = a.bot.Send(photo)
	case types.MediaDocument:
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileID(fileRef))
		doc.Caption = caption
		doc.ReplyToMessageID = replyTo
		sent, err = a.bot.Send(doc)
	default:
		return types.MessageRef{}, fmt.Errorf("unsupported media kind %q", kind)
	}
	if err != nil {
		return types.MessageRef{}, fmt.Errorf("send %s: %w", kind, err)
	}
	return types.MessageRef{ChatID: chatID, MessageID: sent.MessageID}, nil
}

// DeliverDocument implements types.Transport, uploading in-memory bytes as
// a file attachment.
func (a *Adapter) DeliverDocument(_ context.Context, chatID int64, filename string, data []byte, caption string) (types.MessageRef, error) {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: filename, Bytes: data})
	doc.Caption = caption
	sent, err := a.bot.Send(doc)
	if err != nil {
		return types.MessageRef{}, fmt.Errorf("send document: %w", err)
	}
	return types.MessageRef{ChatID: chatID, MessageID: sent.MessageID}, nil
}

func buildMarkup(buttons [][]types.Button) *tgbotapi.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonURL(b.Label, b.URL))
			} else {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Action))
			}
		}
		rows = append(rows, btns)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end >= len(text) {
			end = len(text)
		} else {
			// Back off to a rune boundary; a part cut mid-rune is not
			// valid UTF-8 and the API rejects it.
			for end > 0 && !utf8.RuneStart(text[end]) {
				end--
			}
			if end == 0 {
				end = maxTelegramMessage
			}
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
