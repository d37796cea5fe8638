package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/switchboard/internal/engine"
	"github.com/user/switchboard/internal/locale"
	"github.com/user/switchboard/internal/store"
	"github.com/user/switchboard/internal/translate"
	"github.com/user/switchboard/internal/types"
)

func (a *Adapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		a.handleCallback(ctx, update.CallbackQuery)
	case update.MyChatMember != nil:
		a.handleChatMember(ctx, update.MyChatMember)
	case update.Message != nil:
		msg := update.Message
		switch {
		case msg.IsCommand():
			a.handleCommand(ctx, msg)
		case len(msg.Photo) > 0 || msg.Document != nil:
			a.handleMedia(ctx, msg)
		case msg.Text != "":
			a.handleText(ctx, msg)
		}
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := types.UserID(msg.From.ID)
	opID := types.OperatorID(msg.From.ID)

	switch msg.Command() {
	case "start":
		if a.dir.IsOperator(opID) {
			a.sendText(msg.Chat.ID, locale.T(a.opLang, "operator_welcome"), nil)
			return
		}
		known := a.knownUser(ctx, userID)
		lang := a.touchProfile(ctx, msg.From)
		if !known {
			a.setAwaitingLanguage(userID, true)
			a.sendText(msg.Chat.ID, locale.T(lang, "choose_lang"), langMenu())
			return
		}
		a.sendText(msg.Chat.ID, locale.T(lang, "hello"), mainMenu(lang))

	case "support":
		a.beginSupport(ctx, msg.Chat.ID, userID)

	case "endchat":
		a.endChat(ctx, msg.Chat.ID, msg.From.ID)

	case "stats":
		if msg.From.ID != int64(a.dir.Admin()) {
			lang := a.profiles.Language(ctx, userID)
			a.sendText(msg.Chat.ID, locale.T(lang, "admin_only"), nil)
			return
		}
		a.sendStats(ctx, msg.Chat.ID)
	}
}

func (a *Adapter) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	userID := types.UserID(q.From.ID)

	data := q.Data
	switch {
	case strings.HasPrefix(data, "claim:"):
		a.handleClaim(ctx, q, types.RequestID(strings.TrimPrefix(data, "claim:")))

	// Telegram omits Message for buttons older than 48h; those arms need
	// the originating chat, so just clear the spinner.
	case q.Message == nil:
		a.answer(q, "")

	case data == "support":
		a.answer(q, "")
		a.beginSupport(ctx, q.Message.Chat.ID, userID)

	case data == "endchat":
		a.answer(q, "")
		a.endChat(ctx, q.Message.Chat.ID, q.From.ID)

	case strings.HasPrefix(data, "lang:"):
		code, ok := translate.Normalize(strings.TrimPrefix(data, "lang:"))
		if !ok {
			a.answer(q, "")
			return
		}
		err := a.profiles.Upsert(ctx, &types.UserProfile{
			UserID:   userID,
			Username: q.From.UserName,
			Language: code,
		})
		if err != nil {
			slog.Error("language update failed", "user_id", int64(userID), "error", err)
		}
		a.setAwaitingLanguage(userID, false)
		a.answer(q, "")
		a.sendText(q.Message.Chat.ID, locale.T(code, "hello"), mainMenu(code))

	case data == "none":
		a.answer(q, "")
	}
}

// handleClaim runs the claim arbitration for an operator pressing the
// fan-out button and surfaces the outcome on the callback.
func (a *Adapter) handleClaim(ctx context.Context, q *tgbotapi.CallbackQuery, reqID types.RequestID) {
	opID := types.OperatorID(q.From.ID)
	_, err := a.engine.Claim(ctx, reqID, opID)

	var claimed *store.AlreadyClaimedError
	switch {
	case err == nil:
		a.answer(q, locale.T(a.opLang, "claim_ack"))
	case errors.As(err, &claimed):
		a.alert(q, locale.Tf(a.opLang, "already_claimed_by", claimed.OperatorName))
	case errors.Is(err, store.ErrOperatorBusy):
		a.alert(q, locale.T(a.opLang, "operator_busy"))
	case errors.Is(err, store.ErrNotFound):
		a.alert(q, locale.T(a.opLang, "request_not_found"))
	case errors.Is(err, engine.ErrNotOperator):
		a.alert(q, locale.T(a.opLang, "not_an_operator"))
	default:
		slog.Error("claim failed", "request_id", string(reqID), "operator", q.From.ID, "error", err)
		a.answer(q, "")
	}
}

func (a *Adapter) handleText(ctx context.Context, msg *tgbotapi.Message) {
	if a.dir.IsOperator(types.OperatorID(msg.From.ID)) {
		err := a.engine.RelayOperatorText(ctx, types.OperatorID(msg.From.ID), msg.Text)
		if errors.Is(err, store.ErrNotFound) {
			a.sendText(msg.Chat.ID, locale.T(a.opLang, "operator_no_active_chat"), nil)
		} else if err != nil {
			slog.Error("operator relay failed", "operator", msg.From.ID, "error", err)
		}
		return
	}

	userID := types.UserID(msg.From.ID)
	lang := a.touchProfile(ctx, msg.From)

	if a.isAwaitingLanguage(userID) {
		a.sendText(msg.Chat.ID, locale.T(lang, "choose_lang"), langMenu())
		return
	}

	if a.takeAwaitingQuestion(userID) {
		_, err := a.engine.CreateRequest(ctx, userID, msg.From.FirstName, lang, msg.Text)
		if errors.Is(err, store.ErrUserBusy) {
			a.sendText(msg.Chat.ID, locale.T(lang, "already_active"), nil)
			return
		}
		if err != nil {
			slog.Error("create request failed", "user_id", int64(userID), "error", err)
			return
		}
		a.sendText(msg.Chat.ID, locale.T(lang, "request_sent"), nil)
		return
	}

	err := a.engine.RelayUserText(ctx, userID, msg.Text)
	if errors.Is(err, store.ErrNotFound) {
		a.sendText(msg.Chat.ID, locale.T(lang, "press_support"), mainMenu(lang))
	} else if err != nil {
		slog.Error("user relay failed", "user_id", int64(userID), "error", err)
	}
}

func (a *Adapter) handleMedia(ctx context.Context, msg *tgbotapi.Message) {
	kind, fileRef := mediaPayload(msg)
	if fileRef == "" {
		return
	}
	source := types.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.MessageID}

	if a.dir.IsOperator(types.OperatorID(msg.From.ID)) {
		err := a.engine.RelayOperatorMedia(ctx, types.OperatorID(msg.From.ID), kind, fileRef, msg.Caption, source)
		if errors.Is(err, store.ErrNotFound) {
			a.sendText(msg.Chat.ID, locale.T(a.opLang, "operator_no_active_chat"), nil)
		} else if err != nil {
			slog.Error("operator media relay failed", "operator", msg.From.ID, "error", err)
		}
		return
	}

	userID := types.UserID(msg.From.ID)
	lang := a.touchProfile(ctx, msg.From)
	err := a.engine.RelayUserMedia(ctx, userID, kind, fileRef, msg.Caption, source)
	if errors.Is(err, store.ErrNotFound) {
		a.sendText(msg.Chat.ID, locale.T(lang, "press_support"), mainMenu(lang))
		return
	}
	if err != nil {
		slog.Error("user media relay failed", "user_id", int64(userID), "error", err)
		return
	}
	a.sendText(msg.Chat.ID, locale.T(lang, "media_forwarded"), nil)
}

// handleChatMember tracks the blocked flag from kick/unkick transitions in
// the bot's private chat.
func (a *Adapter) handleChatMember(ctx context.Context, m *tgbotapi.ChatMemberUpdated) {
	userID := types.UserID(m.From.ID)
	newKicked := m.NewChatMember.Status == "kicked"
	oldKicked := m.OldChatMember.Status == "kicked"
	if newKicked == oldKicked {
		return
	}
	if err := a.profiles.SetBlocked(ctx, userID, newKicked); err != nil {
		slog.Error("blocked flag update failed", "user_id", int64(userID), "error", err)
	} else {
		slog.Info("blocked flag updated", "user_id", int64(userID), "blocked", newKicked)
	}
}

// beginSupport arms the "next message opens a request" state for the user.
func (a *Adapter) beginSupport(ctx context.Context, chatID int64, userID types.UserID) {
	lang := a.profiles.Language(ctx, userID)
	if a.engine.ActiveForUser(userID) {
		a.sendText(chatID, locale.T(lang, "already_active"), nil)
		return
	}
	a.setAwaitingQuestion(userID, true)
	a.sendText(chatID, locale.T(lang, "waiting_question"), nil)
}

// endChat routes the end-of-chat action by the caller's role.
func (a *Adapter) endChat(ctx context.Context, chatID int64, fromID int64) {
	if a.dir.IsOperator(types.OperatorID(fromID)) {
		err := a.engine.EndChatForOperator(ctx, types.OperatorID(fromID))
		if errors.Is(err, store.ErrNotFound) {
			a.sendText(chatID, locale.T(a.opLang, "operator_no_active_chat"), nil)
		}
		return
	}
	userID := types.UserID(fromID)
	lang := a.profiles.Language(ctx, userID)
	err := a.engine.EndChatForUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		a.setAwaitingQuestion(userID, false)
		a.sendText(chatID, locale.T(lang, "no_chat_to_end"), mainMenu(lang))
	}
}

func (a *Adapter) sendStats(ctx context.Context, chatID int64) {
	profiles, err := a.profiles.All(ctx)
	if err != nil {
		slog.Error("stats query failed", "error", err)
		return
	}
	if len(profiles) == 0 {
		a.sendText(chatID, locale.T(a.opLang, "no_users"), nil)
		return
	}
	var sb strings.Builder
	sb.WriteString("User statistics:\n\n")
	for _, p := range profiles {
		fmt.Fprintf(&sb, "ID: %d\nUsername: %s\nFirst seen: %s\nLanguage: %s\nBlocked: %v\nLast interaction: %s\n",
			int64(p.UserID),
			orDash(p.Username),
			p.FirstSeen.Format(time.DateTime),
			p.Language,
			p.Blocked,
			p.LastInteraction.Format(time.DateTime),
		)
		sb.WriteString("------------------------\n")
	}
	a.sendText(chatID, sb.String(), nil)
}

// touchProfile upserts the user's record on every interaction and returns
// their language preference.
func (a *Adapter) touchProfile(ctx context.Context, from *tgbotapi.User) string {
	userID := types.UserID(from.ID)
	err := a.profiles.Upsert(ctx, &types.UserProfile{
		UserID:          userID,
		Username:        from.UserName,
		LastInteraction: time.Now(),
	})
	if err != nil {
		slog.Error("profile upsert failed", "user_id", from.ID, "error", err)
	}
	return a.profiles.Language(ctx, userID)
}

func (a *Adapter) knownUser(ctx context.Context, userID types.UserID) bool {
	_, err := a.profiles.Get(ctx, userID)
	return err == nil
}

func (a *Adapter) sendText(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		if keyboard != nil {
			msg.ReplyMarkup = *keyboard
		}
		if _, err := a.bot.Send(msg); err != nil {
			slog.Error("send message failed", "chat_id", chatID, "error", err)
		}
	}
}

func (a *Adapter) answer(q *tgbotapi.CallbackQuery, text string) {
	if _, err := a.bot.Request(tgbotapi.NewCallback(q.ID, text)); err != nil {
		slog.Warn("callback answer failed", "error", err)
	}
}

func (a *Adapter) alert(q *tgbotapi.CallbackQuery, text string) {
	if _, err := a.bot.Request(tgbotapi.NewCallbackWithAlert(q.ID, text)); err != nil {
		slog.Warn("callback alert failed", "error", err)
	}
}

func (a *Adapter) setAwaitingQuestion(userID types.UserID, v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v {
		a.awaitingQuestion[userID] = true
	} else {
		delete(a.awaitingQuestion, userID)
	}
}

// takeAwaitingQuestion consumes the flag so only one request is created
// per support-button press.
func (a *Adapter) takeAwaitingQuestion(userID types.UserID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.awaitingQuestion[userID] {
		return false
	}
	delete(a.awaitingQuestion, userID)
	return true
}

func (a *Adapter) setAwaitingLanguage(userID types.UserID, v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v {
		a.awaitingLanguage[userID] = true
	} else {
		delete(a.awaitingLanguage, userID)
	}
}

func (a *Adapter) isAwaitingLanguage(userID types.UserID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.awaitingLanguage[userID]
}

func mainMenu(lang string) *tgbotapi.InlineKeyboardMarkup {
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(locale.T(lang, "support_button"), "support"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(locale.T(lang, "end_chat_button"), "endchat"),
		),
	)
	return &markup
}

func langMenu() *tgbotapi.InlineKeyboardMarkup {
	labels := map[string]string{
		"en": "🇬🇧 English",
		"ru": "🇷🇺 Русский",
		"uk": "🇺🇦 Українська",
		"tr": "🇹🇷 Türkçe",
		"es": "🇪🇸 Español",
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(labels))
	for _, code := range locale.Supported() {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(labels[code], "lang:"+code),
		))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func mediaPayload(msg *tgbotapi.Message) (types.MediaKind, string) {
	if len(msg.Photo) > 0 {
		// Telegram lists photo sizes ascending; the last is the original.
		return types.MediaPhoto, msg.Photo[len(msg.Photo)-1].FileID
	}
	if msg.Document != nil {
		return types.MediaDocument, msg.Document.FileID
	}
	return "", ""
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
