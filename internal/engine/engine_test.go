package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/user/switchboard/internal/archive"
	"github.com/user/switchboard/internal/directory"
	"github.com/user/switchboard/internal/locale"
	"github.com/user/switchboard/internal/store"
	"github.com/user/switchboard/internal/types"
)

type sent struct {
	chatID int64
	text   string
}

// fakeTransport records every delivery, edit and delete. Failure modes are
// switchable per test.
type fakeTransport struct {
	mu        sync.Mutex
	nextID    int
	delivered []sent
	edits     map[types.MessageRef]string
	deletes   []types.MessageRef
	media     []sent
	documents []sent

	failDeliver map[int64]bool
	failEdit    bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		edits:       make(map[types.MessageRef]string),
		failDeliver: make(map[int64]bool),
	}
}

func (f *fakeTransport) Deliver(_ context.Context, chatID int64, c types.Content) (types.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDeliver[chatID] {
		return types.MessageRef{}, fmt.Errorf("chat %d unreachable", chatID)
	}
	f.nextID++
	f.delivered = append(f.delivered, sent{chatID: chatID, text: c.Text})
	return types.MessageRef{ChatID: chatID, MessageID: f.nextID}, nil
}

func (f *fakeTransport) Edit(_ context.Context, ref types.MessageRef, c types.Content) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEdit {
		return errors.New("message to edit not found")
	}
	f.edits[ref] = c.Text
	return nil
}

func (f *fakeTransport) Delete(_ context.Context, ref types.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, ref)
	return nil
}

func (f *fakeTransport) DeliverMedia(_ context.Context, chatID int64, _ types.MediaKind, fileRef, caption string, _ int) (types.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.media = append(f.media, sent{chatID: chatID, text: fileRef + "|" + caption})
	return types.MessageRef{ChatID: chatID, MessageID: f.nextID}, nil
}

func (f *fakeTransport) DeliverDocument(_ context.Context, chatID int64, filename string, data []byte, _ string) (types.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.documents = append(f.documents, sent{chatID: chatID, text: filename + "\n" + string(data)})
	return types.MessageRef{ChatID: chatID, MessageID: f.nextID}, nil
}

func (f *fakeTransport) sentTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.delivered {
		if s.chatID == chatID {
			out = append(out, s.text)
		}
	}
	return out
}

// taggingTranslator marks output so tests can tell translated text apart.
type taggingTranslator struct{}

func (taggingTranslator) Translate(_ context.Context, text, target string) string {
	return "[" + target + "] " + text
}

// brokenTranslator models the degraded path: output equals input.
type brokenTranslator struct{}

func (brokenTranslator) Translate(_ context.Context, text, _ string) string { return text }

func newTestEngine(operators []string, translator types.Translator) (*Engine, *store.RequestStore, *fakeTransport, *directory.Directory) {
	ft := newFakeTransport()
	dir := directory.New(1, operators)
	st := store.New()
	arch := archive.New(ft, translator, dir, "en")
	eng := New(st, dir, ft, translator, arch, "en")
	return eng, st, ft, dir
}

func TestCreateRequestFansOutToPool(t *testing.T) {
	eng, st, ft, _ := newTestEngine([]string{"100:Alice", "200:Bob"}, brokenTranslator{})

	req, err := eng.CreateRequest(context.Background(), 42, "Dana", "en", "printer on fire")
	if err != nil {
		t.Fatal(err)
	}
	for _, op := range []int64{100, 200} {
		notices := ft.sentTo(op)
		if len(notices) != 1 {
			t.Fatalf("operator %d got %d notices, want 1", op, len(notices))
		}
		if !strings.Contains(notices[0], "printer on fire") {
			t.Errorf("notice missing request text: %q", notices[0])
		}
	}
	got, err := st.Get(req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Notifications) != 2 {
		t.Errorf("expected 2 notification refs, got %d", len(got.Notifications))
	}
}

func TestCreateRequestFallsBackToAdmin(t *testing.T) {
	eng, _, ft, _ := newTestEngine(nil, brokenTranslator{})

	if _, err := eng.CreateRequest(context.Background(), 42, "Dana", "en", "help"); err != nil {
		t.Fatal(err)
	}
	if got := ft.sentTo(1); len(got) != 1 {
		t.Fatalf("admin got %d notices, want 1", len(got))
	}
}

func TestCreateRequestSurvivesPartialFanOut(t *testing.T) {
	eng, st, ft, _ := newTestEngine([]string{"100:Alice", "200:Bob"}, brokenTranslator{})
	ft.failDeliver[200] = true

	req, err := eng.CreateRequest(context.Background(), 42, "Dana", "en", "help")
	if err != nil {
		t.Fatal(err)
	}
	got, _ := st.Get(req.ID)
	if len(got.Notifications) != 1 {
		t.Errorf("expected 1 notification ref after partial fan-out, got %d", len(got.Notifications))
	}
	if got.Status != types.StatusPending {
		t.Errorf("request should stay pending, got %s", got.Status)
	}
}

func TestFanOutNoticeTranslated(t *testing.T) {
	eng, _, ft, _ := newTestEngine([]string{"100:Alice"}, taggingTranslator{})

	if _, err := eng.CreateRequest(context.Background(), 42, "Dana", "ru", "привет"); err != nil {
		t.Fatal(err)
	}
	notice := ft.sentTo(100)[0]
	if !strings.Contains(notice, "[en] привет") {
		t.Errorf("notice missing translation: %q", notice)
	}
}

func TestClaimRaceSingleWinner(t *testing.T) {
	eng, _, ft, dir := newTestEngine([]string{"100:Alice", "200:Bob", "300:Carol"}, brokenTranslator{})

	req, err := eng.CreateRequest(context.Background(), 42, "Dana", "en", "help")
	if err != nil {
		t.Fatal(err)
	}
	userNoticesBefore := len(ft.sentTo(42))

	ops := dir.Operators()
	errs := make([]error, len(ops))
	var wg sync.WaitGroup
	for i, op := range ops {
		wg.Add(1)
		go func(i int, id types.OperatorID) {
			defer wg.Done()
			_, errs[i] = eng.Claim(context.Background(), req.ID, id)
		}(i, op.ID)
	}
	wg.Wait()

	var wins int
	var winner types.OperatorID
	for i, err := range errs {
		if err == nil {
			wins++
			winner = ops[i].ID
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	for _, err := range errs {
		if err == nil {
			continue
		}
		var claimed *store.AlreadyClaimedError
		if !errors.As(err, &claimed) {
			t.Fatalf("loser got %v, want AlreadyClaimedError", err)
		}
		if claimed.Operator != winner {
			t.Errorf("loser told winner %d, want %d", claimed.Operator, winner)
		}
	}

	joined := ft.sentTo(42)[userNoticesBefore:]
	if len(joined) != 1 {
		t.Errorf("user received %d operator-joined notices, want 1", len(joined))
	}
}

func TestClaimRejectsStranger(t *testing.T) {
	eng, _, _, _ := newTestEngine([]string{"100:Alice"}, brokenTranslator{})
	req, err := eng.CreateRequest(context.Background(), 42, "Dana", "en", "help")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Claim(context.Background(), req.ID, 555); !errors.Is(err, ErrNotOperator) {
		t.Errorf("expected ErrNotOperator, got %v", err)
	}
}

func TestClaimRewritesNotices(t *testing.T) {
	eng, st, ft, _ := newTestEngine([]string{"100:Alice", "200:Bob"}, brokenTranslator{})
	req, err := eng.CreateRequest(context.Background(), 42, "Dana", "en", "help")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Claim(context.Background(), req.ID, 100); err != nil {
		t.Fatal(err)
	}

	got, _ := st.Get(req.ID)
	ft.mu.Lock()
	defer ft.mu.Unlock()
	for op, ref := range got.Notifications {
		text, ok := ft.edits[ref]
		if !ok {
			t.Errorf("notice for operator %d never rewritten", op)
			continue
		}
		if !strings.Contains(text, "Alice") {
			t.Errorf("rewritten notice does not name the winner: %q", text)
		}
	}
}

func TestRelayUserTextPendingEditsNotices(t *testing.T) {
	eng, st, ft, _ := newTestEngine([]string{"100:Alice"}, brokenTranslator{})
	req, err := eng.CreateRequest(context.Background(), 42, "Dana", "en", "first line")
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.RelayUserText(context.Background(), 42, "second line"); err != nil {
		t.Fatal(err)
	}

	got, _ := st.Get(req.ID)
	ref := got.Notifications[100]
	ft.mu.Lock()
	text := ft.edits[ref]
	ft.mu.Unlock()
	if !strings.Contains(text, "first line") || !strings.Contains(text, "second line") {
		t.Errorf("aggregated notice missing history: %q", text)
	}
	// No second operator message while pending; the notice is the surface.
	if n := len(ft.sentTo(100)); n != 1 {
		t.Errorf("operator got %d messages while pending, want 1", n)
	}
}

func TestRelayUserTextPendingFallsBackToFreshSend(t *testing.T) {
	eng, st, ft, _ := newTestEngine([]string{"100:Alice"}, brokenTranslator{})
	req, err := eng.CreateRequest(context.Background(), 42, "Dana", "en", "first")
	if err != nil {
		t.Fatal(err)
	}
	before, _ := st.Get(req.ID)
	oldRef := before.Notifications[100]

	ft.failEdit = true
	if err := eng.RelayUserText(context.Background(), 42, "second"); err != nil {
		t.Fatal(err)
	}

	after, _ := st.Get(req.ID)
	newRef := after.Notifications[100]
	if newRef == oldRef {
		t.Error("notification ref should point at the fresh send")
	}
	sent := ft.sentTo(100)
	if len(sent) != 2 {
		t.Fatalf("operator got %d messages, want original plus fresh send", len(sent))
	}
	if !strings.Contains(sent[1], "second") {
		t.Errorf("fresh send missing latest text: %q", sent[1])
	}
}

func TestRelayUserTextClaimedTranslates(t *testing.T) {
	eng, _, ft, _ := newTestEngine([]string{"100:Alice"}, taggingTranslator{})
	req, err := eng.CreateRequest(context.Background(), 42, "Dana", "ru", "привет")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Claim(context.Background(), req.ID, 100); err != nil {
		t.Fatal(err)
	}
	if err := eng.RelayUserText(context.Background(), 42, "как дела"); err != nil {
		t.Fatal(err)
	}

	msgs := ft.sentTo(100)
	last := msgs[len(msgs)-1]
	if !strings.Contains(last, "как дела") || !strings.Contains(last, "[en] как дела") {
		t.Errorf("relay should carry original and translation: %q", last)
	}
}

func TestRelayDegradesToOriginalWhenTranslationFails(t *testing.T) {
	eng, _, ft, _ := newTestEngine([]string{"100:Alice"}, brokenTranslator{})
	req, err := eng.CreateRequest(context.Background(), 42, "Dana", "ru", "привет")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Claim(context.Background(), req.ID, 100); err != nil {
		t.Fatal(err)
	}
	if err := eng.RelayUserText(context.Background(), 42, "как дела"); err != nil {
		t.Fatal(err)
	}

	msgs := ft.sentTo(100)
	last := msgs[len(msgs)-1]
	if last != "как дела" {
		t.Errorf("degraded relay should be the bare original, got %q", last)
	}
}

func TestRelayOperatorTextTranslatesForUser(t *testing.T) {
	eng, _, ft, _ := newTestEngine([]string{"100:Alice"}, taggingTranslator{})
	req, err := eng.CreateRequest(context.Background(), 42, "Dana", "ru", "привет")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Claim(context.Background(), req.ID, 100); err != nil {
		t.Fatal(err)
	}
	if err := eng.RelayOperatorText(context.Background(), 100, "hello there"); err != nil {
		t.Fatal(err)
	}

	msgs := ft.sentTo(42)
	last := msgs[len(msgs)-1]
	if last != "[ru] hello there" {
		t.Errorf("operator reply should arrive translated, got %q", last)
	}
}

func TestRelayUserMediaOnlyWhenClaimed(t *testing.T) {
	eng, st, ft, _ := newTestEngine([]string{"100:Alice"}, brokenTranslator{})
	req, err := eng.CreateRequest(context.Background(), 42, "Dana", "en", "help")
	if err != nil {
		t.Fatal(err)
	}
	src := types.MessageRef{ChatID: 42, MessageID: 5}
	if err := eng.RelayUserMedia(context.Background(), 42, types.MediaPhoto, "file-1", "screenshot", src); err != nil {
		t.Fatal(err)
	}
	if len(ft.media) != 0 {
		t.Fatal("pending media should be retained, not relayed")
	}

	if _, err := eng.Claim(context.Background(), req.ID, 100); err != nil {
		t.Fatal(err)
	}
	if err := eng.RelayUserMedia(context.Background(), 42, types.MediaPhoto, "file-2", "another", src); err != nil {
		t.Fatal(err)
	}
	if len(ft.media) != 1 {
		t.Fatalf("claimed media should reach the operator, got %d relays", len(ft.media))
	}

	got, _ := st.Get(req.ID)
	if len(got.Media) != 2 {
		t.Fatalf("expected both attachments in the log, got %d", len(got.Media))
	}
	if got.Media[0].DeliveredRef != nil {
		t.Error("pending attachment should have no delivered ref")
	}
	if got.Media[1].DeliveredRef == nil {
		t.Error("relayed attachment should carry its delivered ref")
	}
}

func TestCloseTearsDownAndIsIdempotent(t *testing.T) {
	eng, st, ft, _ := newTestEngine([]string{"100:Alice", "200:Bob"}, brokenTranslator{})
	req, err := eng.CreateRequest(context.Background(), 42, "Dana", "en", "one")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Claim(context.Background(), req.ID, 100); err != nil {
		t.Fatal(err)
	}
	for _, text := range []string{"two", "three"} {
		if err := eng.RelayUserText(context.Background(), 42, text); err != nil {
			t.Fatal(err)
		}
	}
	if err := eng.RelayOperatorText(context.Background(), 100, "four"); err != nil {
		t.Fatal(err)
	}
	if err := eng.RelayUserText(context.Background(), 42, "five"); err != nil {
		t.Fatal(err)
	}

	if err := eng.EndChatForOperator(context.Background(), 100); err != nil {
		t.Fatal(err)
	}

	if st.Len() != 0 {
		t.Error("store should be empty after close")
	}
	if _, err := st.ByUser(42); !errors.Is(err, store.ErrNotFound) {
		t.Error("user index should be gone after close")
	}
	if _, err := st.ByOperator(100); !errors.Is(err, store.ErrNotFound) {
		t.Error("operator index should be gone after close")
	}

	ft.mu.Lock()
	docs := len(ft.documents)
	var transcript string
	if docs > 0 {
		transcript = ft.documents[0].text
	}
	ft.mu.Unlock()
	if docs != 2 {
		t.Fatalf("transcript should reach both operators, got %d documents", docs)
	}
	for _, text := range []string{"one", "two", "three", "four", "five"} {
		if !strings.Contains(transcript, text) {
			t.Errorf("transcript missing %q", text)
		}
	}

	closing := ft.sentTo(42)
	last := closing[len(closing)-1]
	if last != locale.Tf("en", "chat_ended_by_operator", "Alice") {
		t.Errorf("closure notice = %q", last)
	}

	// Second close for the same id must be a silent no-op.
	if err := eng.Close(context.Background(), req.ID, types.InitiatorOperator); err != nil {
		t.Fatal(err)
	}
	ft.mu.Lock()
	docsAfter := len(ft.documents)
	ft.mu.Unlock()
	if docsAfter != docs {
		t.Error("second close re-ran the archival")
	}
}

func TestActiveForUser(t *testing.T) {
	eng, _, _, _ := newTestEngine([]string{"100:Alice"}, brokenTranslator{})
	if eng.ActiveForUser(42) {
		t.Error("no request yet")
	}
	if _, err := eng.CreateRequest(context.Background(), 42, "Dana", "en", "help"); err != nil {
		t.Fatal(err)
	}
	if !eng.ActiveForUser(42) {
		t.Error("request should be active")
	}
	if err := eng.EndChatForUser(context.Background(), 42); err != nil {
		t.Fatal(err)
	}
	if eng.ActiveForUser(42) {
		t.Error("request should be gone")
	}
}
