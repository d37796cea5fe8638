// Package archive finalizes closed requests: it renders the transcript,
// ships it with the retained media to the operator pool, retracts every
// transient message, and delivers the closure notices.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/switchboard/internal/directory"
	"github.com/user/switchboard/internal/locale"
	"github.com/user/switchboard/internal/types"
)

type Archivist struct {
	transport  types.Transport
	translator types.Translator
	dir        *directory.Directory
	opLang     string
}

func New(transport types.Transport, translator types.Translator, dir *directory.Directory, operatorLanguage string) *Archivist {
	return &Archivist{
		transport:  transport,
		translator: translator,
		dir:        dir,
		opLang:     operatorLanguage,
	}
}

// Finalize archives and tears down a request that has already been removed
// from the store. Every external call is best-effort: failures log and the
// remaining steps still run.
func (a *Archivist) Finalize(ctx context.Context, req *types.Request, initiator types.Initiator) {
	transcript := a.Transcript(ctx, req)
	a.shipTranscript(ctx, req, transcript)
	a.retract(ctx, req)
	a.notifyClosure(ctx, req, initiator)
	slog.Info("request archived",
		"request_id", string(req.ID),
		"user_id", int64(req.UserID),
		"initiator", string(initiator),
		"messages", len(req.History),
		"media", len(req.Media),
	)
}

type transcriptLine struct {
	at     time.Time
	sender types.Sender
	text   string
}

// Transcript merges history and media records into one chronologically
// ordered flat text document, annotating foreign-language lines with a
// translation into the reader's language.
func (a *Archivist) Transcript(ctx context.Context, req *types.Request) []byte {
	lines := make([]transcriptLine, 0, len(req.History)+len(req.Media))
	for _, h := range req.History {
		lines = append(lines, transcriptLine{at: h.At, sender: h.Sender, text: h.Text})
	}
	for _, m := range req.Media {
		lines = append(lines, transcriptLine{
			at:     m.At,
			sender: m.Sender,
			text:   fmt.Sprintf("%s: %s (message %d)", m.Kind, m.Caption, m.SourceRef.MessageID),
		})
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].at.Before(lines[j].at) })

	var sb strings.Builder
	fmt.Fprintf(&sb, "Chat history with %s (ID: %d)\n\n", req.DisplayName, int64(req.UserID))
	foreign := req.Language != a.opLang
	for _, line := range lines {
		name := req.DisplayName
		if line.sender == types.SenderOperator {
			name = fmt.Sprintf("Operator %s", req.OperatorName)
		}
		fmt.Fprintf(&sb, "[%s] %s: %s\n", line.at.Format("02.01.2006 15:04:05"), name, line.text)
		if foreign {
			target := a.opLang
			if line.sender == types.SenderOperator {
				target = req.Language
			}
			if translated := a.translator.Translate(ctx, line.text, target); translated != line.text {
				fmt.Fprintf(&sb, "%s: %s\n", locale.T(a.opLang, "translation_label"), translated)
			}
		}
	}
	return []byte(sb.String())
}

// shipTranscript delivers the document plus re-sent media to every operator.
func (a *Archivist) shipTranscript(ctx context.Context, req *types.Request, transcript []byte) {
	opName := req.OperatorName
	if opName == "" {
		opName = "unassigned"
	}
	filename := fmt.Sprintf("chat_history_%d_%s.txt", int64(req.UserID), opName)
	caption := locale.Tf(a.opLang, "closed_chat_caption", req.DisplayName, int64(req.UserID))

	for _, opID := range a.dir.Recipients() {
		docRef, err := a.transport.DeliverDocument(ctx, int64(opID), filename, transcript, caption)
		if err != nil {
			slog.Error("transcript delivery failed", "operator", int64(opID), "request_id", string(req.ID), "error", err)
			continue
		}
		for _, m := range req.Media {
			mediaCaption := fmt.Sprintf("%s (message %d)", m.Caption, m.SourceRef.MessageID)
			if _, err := a.transport.DeliverMedia(ctx, int64(opID), m.Kind, m.FileRef, mediaCaption, docRef.MessageID); err != nil {
				slog.Error("archived media delivery failed", "operator", int64(opID), "request_id", string(req.ID), "error", err)
			}
		}
	}
}

// retract deletes every transient message recorded during the conversation.
// The deletes are independent; each failure logs and the rest proceed.
func (a *Archivist) retract(ctx context.Context, req *types.Request) {
	var refs []types.MessageRef
	for _, ref := range req.Notifications {
		refs = append(refs, ref)
	}
	refs = append(refs, req.SideNotes...)
	for _, m := range req.Media {
		if m.DeliveredRef != nil {
			refs = append(refs, *m.DeliveredRef)
		}
	}

	var g errgroup.Group
	for _, ref := range refs {
		if ref.Zero() {
			continue
		}
		ref := ref
		g.Go(func() error {
			if err := a.transport.Delete(ctx, ref); err != nil {
				slog.Warn("transient message delete failed",
					"chat_id", ref.ChatID, "message_id", ref.MessageID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (a *Archivist) notifyClosure(ctx context.Context, req *types.Request, initiator types.Initiator) {
	var userText string
	switch initiator {
	case types.InitiatorUser:
		userText = locale.T(req.Language, "chat_ended_by_user")
	case types.InitiatorOperator:
		userText = locale.Tf(req.Language, "chat_ended_by_operator", req.OperatorName)
	case types.InitiatorSystem:
		userText = locale.T(req.Language, "chat_timeout")
	}
	if _, err := a.transport.Deliver(ctx, int64(req.UserID), types.Content{Text: userText}); err != nil {
		slog.Warn("closure notice to user failed", "user_id", int64(req.UserID), "error", err)
	}

	if req.AssignedOperator == 0 {
		return
	}
	opText := locale.T(a.opLang, "operator_chat_ended")
	if initiator == types.InitiatorUser {
		opText = locale.T(a.opLang, "operator_chat_ended_by_user")
	}
	if _, err := a.transport.Deliver(ctx, int64(req.AssignedOperator), types.Content{Text: opText}); err != nil {
		slog.Warn("closure notice to operator failed", "operator", int64(req.AssignedOperator), "error", err)
	}
}
