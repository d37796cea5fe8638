// Package engine is the support-conversation routing core: request
// creation and fan-out, claim arbitration, bidirectional relay with
// translation, and finalization.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/switchboard/internal/archive"
	"github.com/user/switchboard/internal/directory"
	"github.com/user/switchboard/internal/locale"
	"github.com/user/switchboard/internal/store"
	"github.com/user/switchboard/internal/types"
)

// ErrNotOperator rejects claim or relay attempts from ids outside the pool.
var ErrNotOperator = errors.New("not a recognized operator")

type Engine struct {
	store      *store.RequestStore
	dir        *directory.Directory
	transport  types.Transport
	translator types.Translator
	archivist  *archive.Archivist
	opLang     string
}

func New(st *store.RequestStore, dir *directory.Directory, transport types.Transport, translator types.Translator, archivist *archive.Archivist, operatorLanguage string) *Engine {
	return &Engine{
		store:      st,
		dir:        dir,
		transport:  transport,
		translator: translator,
		archivist:  archivist,
		opLang:     operatorLanguage,
	}
}

// CreateRequest opens a Pending request for the user and fans the notice
// out to the operator pool. Per-operator delivery failures are logged and
// do not abort creation; a partial fan-out is acceptable.
func (e *Engine) CreateRequest(ctx context.Context, userID types.UserID, displayName, language, text string) (types.Request, error) {
	req, err := e.store.Create(userID, displayName, language, text, time.Now())
	if err != nil {
		return types.Request{}, err
	}
	slog.Info("support request created",
		"request_id", string(req.ID), "user_id", int64(userID), "language", language)

	notice := e.pendingNotice(ctx, &req)
	var g errgroup.Group
	for _, opID := range e.dir.Recipients() {
		opID := opID
		g.Go(func() error {
			ref, err := e.transport.Deliver(ctx, int64(opID), notice)
			if err != nil {
				slog.Error("fan-out delivery failed",
					"operator", int64(opID), "request_id", string(req.ID), "error", err)
				return nil
			}
			if err := e.store.SetNotification(req.ID, opID, ref); err != nil {
				// Request was closed mid-fan-out; retract the orphan notice.
				_ = e.transport.Delete(ctx, ref)
			}
			return nil
		})
	}
	_ = g.Wait()
	return req, nil
}

// Claim resolves concurrent operator claims for a request. Exactly one
// caller wins; losers receive a store.AlreadyClaimedError naming the
// winner. Downstream delivery failures never roll the claim back.
func (e *Engine) Claim(ctx context.Context, id types.RequestID, opID types.OperatorID) (types.Request, error) {
	if !e.dir.IsOperator(opID) {
		return types.Request{}, ErrNotOperator
	}
	req, err := e.store.Claim(id, opID, e.dir.Name(opID), time.Now())
	if err != nil {
		return types.Request{}, err
	}
	slog.Info("request claimed",
		"request_id", string(id), "operator", int64(opID), "operator_name", req.OperatorName)

	// Rewrite every fan-out notice to its accepted state.
	accepted := e.acceptedNotice(ctx, &req)
	for notifiedOp, ref := range req.Notifications {
		if err := e.transport.Edit(ctx, ref, accepted); err != nil {
			slog.Warn("notice rewrite failed",
				"operator", int64(notifiedOp), "request_id", string(id), "error", err)
		}
	}

	joined := locale.Tf(req.Language, "operator_joined", req.OperatorName)
	if _, err := e.transport.Deliver(ctx, int64(req.UserID), types.Content{Text: joined}); err != nil {
		slog.Warn("operator-joined notice failed", "user_id", int64(req.UserID), "error", err)
	}

	ack, err := e.transport.Deliver(ctx, int64(opID), types.Content{Text: locale.T(e.opLang, "operator_ack")})
	if err != nil {
		slog.Warn("claim acknowledgement failed", "operator", int64(opID), "error", err)
	} else if err := e.store.AddSideNote(id, ack); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("side note bookkeeping failed", "request_id", string(id), "error", err)
	}
	return req, nil
}

// RelayUserText routes an inbound user message. While Pending the
// aggregated fan-out notice is rewritten in place; once Claimed the text
// goes straight to the assigned operator.
func (e *Engine) RelayUserText(ctx context.Context, userID types.UserID, text string) error {
	req, err := e.store.ByUser(userID)
	if err != nil {
		return err
	}
	if err := e.store.AppendMessage(req.ID, types.SenderUser, text, time.Now()); err != nil {
		return err
	}

	if req.Status == types.StatusPending {
		e.refreshNotices(ctx, req.ID)
		return nil
	}

	display := text
	if req.Language != e.opLang {
		if translated := e.translator.Translate(ctx, text, e.opLang); translated != text {
			display = fmt.Sprintf("%s\n%s: %s", text, locale.T(e.opLang, "translation_label"), translated)
		}
	}
	ref, err := e.transport.Deliver(ctx, int64(req.AssignedOperator), types.Content{Text: display})
	if err != nil {
		slog.Error("relay to operator failed",
			"operator", int64(req.AssignedOperator), "request_id", string(req.ID), "error", err)
		return nil
	}
	if err := e.store.AddSideNote(req.ID, ref); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("side note bookkeeping failed", "request_id", string(req.ID), "error", err)
	}
	return nil
}

// RelayUserMedia records an inbound user attachment and, once an operator
// is assigned, relays a copy to them.
func (e *Engine) RelayUserMedia(ctx context.Context, userID types.UserID, kind types.MediaKind, fileRef, caption string, source types.MessageRef) error {
	req, err := e.store.ByUser(userID)
	if err != nil {
		return err
	}
	rec := types.MediaRecord{
		At:        time.Now(),
		Kind:      kind,
		FileRef:   fileRef,
		Caption:   caption,
		Sender:    types.SenderUser,
		SourceRef: source,
	}
	index, err := e.store.AppendMedia(req.ID, rec)
	if err != nil {
		return err
	}
	if req.Status != types.StatusClaimed {
		return nil
	}

	relayCaption := caption
	if req.Language != e.opLang && caption != "" {
		relayCaption = e.translator.Translate(ctx, caption, e.opLang)
	}
	ref, err := e.transport.DeliverMedia(ctx, int64(req.AssignedOperator), kind, fileRef, relayCaption, 0)
	if err != nil {
		slog.Error("media relay to operator failed",
			"operator", int64(req.AssignedOperator), "request_id", string(req.ID), "error", err)
		return nil
	}
	if err := e.store.SetDeliveredRef(req.ID, index, ref); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("media bookkeeping failed", "request_id", string(req.ID), "error", err)
	}
	return nil
}

// RelayOperatorText routes a message from the claiming operator to the
// user, translated into the conversation language when they differ.
func (e *Engine) RelayOperatorText(ctx context.Context, opID types.OperatorID, text string) error {
	if !e.dir.IsOperator(opID) {
		return ErrNotOperator
	}
	req, err := e.store.ByOperator(opID)
	if err != nil {
		return err
	}
	if err := e.store.AppendMessage(req.ID, types.SenderOperator, text, time.Now()); err != nil {
		return err
	}

	out := text
	if req.Language != e.opLang {
		out = e.translator.Translate(ctx, text, req.Language)
	}
	ref, err := e.transport.Deliver(ctx, int64(req.UserID), types.Content{Text: out})
	if err != nil {
		slog.Error("relay to user failed",
			"user_id", int64(req.UserID), "request_id", string(req.ID), "error", err)
		return nil
	}
	if err := e.store.AddSideNote(req.ID, ref); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("side note bookkeeping failed", "request_id", string(req.ID), "error", err)
	}
	return nil
}

// RelayOperatorMedia relays an operator attachment to the user.
func (e *Engine) RelayOperatorMedia(ctx context.Context, opID types.OperatorID, kind types.MediaKind, fileRef, caption string, source types.MessageRef) error {
	if !e.dir.IsOperator(opID) {
		return ErrNotOperator
	}
	req, err := e.store.ByOperator(opID)
	if err != nil {
		return err
	}
	relayCaption := caption
	if req.Language != e.opLang && caption != "" {
		relayCaption = e.translator.Translate(ctx, caption, req.Language)
	}
	rec := types.MediaRecord{
		At:        time.Now(),
		Kind:      kind,
		FileRef:   fileRef,
		Caption:   caption,
		Sender:    types.SenderOperator,
		SourceRef: source,
	}
	index, err := e.store.AppendMedia(req.ID, rec)
	if err != nil {
		return err
	}
	ref, err := e.transport.DeliverMedia(ctx, int64(req.UserID), kind, fileRef, relayCaption, 0)
	if err != nil {
		slog.Error("media relay to user failed",
			"user_id", int64(req.UserID), "request_id", string(req.ID), "error", err)
		return nil
	}
	if err := e.store.SetDeliveredRef(req.ID, index, ref); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("media bookkeeping failed", "request_id", string(req.ID), "error", err)
	}
	return nil
}

// Close finalizes a request. Both store indices are removed before any
// I/O, so concurrent relays fail fast with not-found instead of racing the
// teardown, and a second Close for the same id is a no-op.
func (e *Engine) Close(ctx context.Context, id types.RequestID, initiator types.Initiator) error {
	req, ok := e.store.Remove(id)
	if !ok {
		return nil
	}
	slog.Info("closing request",
		"request_id", string(id), "initiator", string(initiator), "status", string(req.Status))
	e.archivist.Finalize(ctx, req, initiator)
	return nil
}

// EndChatForUser closes the user's active request, if any.
func (e *Engine) EndChatForUser(ctx context.Context, userID types.UserID) error {
	req, err := e.store.ByUser(userID)
	if err != nil {
		return err
	}
	return e.Close(ctx, req.ID, types.InitiatorUser)
}

// EndChatForOperator closes the request the operator has claimed, if any.
func (e *Engine) EndChatForOperator(ctx context.Context, opID types.OperatorID) error {
	req, err := e.store.ByOperator(opID)
	if err != nil {
		return err
	}
	return e.Close(ctx, req.ID, types.InitiatorOperator)
}

// ActiveForUser reports whether the user has a request in flight.
func (e *Engine) ActiveForUser(userID types.UserID) bool {
	_, err := e.store.ByUser(userID)
	return err == nil
}

// refreshNotices rebuilds the aggregated Pending notice from the full
// history and pushes it to every recorded fan-out message, edit-in-place
// with a fresh send (and ref replacement) when the edit target is gone.
func (e *Engine) refreshNotices(ctx context.Context, id types.RequestID) {
	req, err := e.store.Get(id)
	if err != nil {
		return
	}
	notice := e.pendingNotice(ctx, &req)
	for opID, ref := range req.Notifications {
		if err := e.transport.Edit(ctx, ref, notice); err == nil {
			continue
		}
		fresh, err := e.transport.Deliver(ctx, int64(opID), notice)
		if err != nil {
			slog.Error("notice refresh failed",
				"operator", int64(opID), "request_id", string(id), "error", err)
			continue
		}
		if err := e.store.SetNotification(id, opID, fresh); err != nil {
			_ = e.transport.Delete(ctx, fresh)
		}
	}
}

// pendingNotice renders the operator-facing fan-out message: header, the
// concatenated history, a translation when the conversation language
// differs, and the claim button.
func (e *Engine) pendingNotice(ctx context.Context, req *types.Request) types.Content {
	parts := make([]string, 0, len(req.History))
	for _, h := range req.History {
		parts = append(parts, h.Text)
	}
	body := strings.Join(parts, "\n")

	text := locale.Tf(e.opLang, "new_request_header", req.DisplayName, int64(req.UserID)) + "\n" + body
	if req.Language != e.opLang {
		if translated := e.translator.Translate(ctx, body, e.opLang); translated != body {
			text += fmt.Sprintf("\n%s: %s", locale.T(e.opLang, "translation_label"), translated)
		}
	}
	return types.Content{
		Text: text,
		Buttons: [][]types.Button{{
			{Label: locale.T(e.opLang, "claim_button"), Action: "claim:" + string(req.ID)},
		}},
	}
}

// acceptedNotice is the post-claim rewrite of the fan-out message.
func (e *Engine) acceptedNotice(ctx context.Context, req *types.Request) types.Content {
	notice := e.pendingNotice(ctx, req)
	notice.Buttons = [][]types.Button{{
		{Label: locale.Tf(e.opLang, "claimed_button", req.OperatorName), Action: "none"},
	}}
	return notice
}
