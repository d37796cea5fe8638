package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/user/switchboard/internal/types"
)

func TestCreateAndLookup(t *testing.T) {
	s := New()
	now := time.Now()

	req, err := s.Create(42, "Alice", "en", "help", now)
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != types.StatusPending {
		t.Errorf("expected pending status, got %s", req.Status)
	}
	if len(req.History) != 1 || req.History[0].Text != "help" {
		t.Errorf("expected initial message in history, got %+v", req.History)
	}

	byID, err := s.Get(req.ID)
	if err != nil {
		t.Fatal(err)
	}
	byUser, err := s.ByUser(42)
	if err != nil {
		t.Fatal(err)
	}
	if byID.ID != byUser.ID {
		t.Errorf("indices disagree: %s vs %s", byID.ID, byUser.ID)
	}
}

func TestCreateRejectsSecondActiveRequest(t *testing.T) {
	s := New()
	now := time.Now()

	if _, err := s.Create(42, "Alice", "en", "first", now); err != nil {
		t.Fatal(err)
	}
	_, err := s.Create(42, "Alice", "en", "second", now)
	if !errors.Is(err, ErrUserBusy) {
		t.Errorf("expected ErrUserBusy, got %v", err)
	}
}

func TestClaimExactlyOnce(t *testing.T) {
	s := New()
	req, err := s.Create(42, "Alice", "en", "help", time.Now())
	if err != nil {
		t.Fatal(err)
	}

	const operators = 8
	var wg sync.WaitGroup
	errs := make([]error, operators)
	for i := 0; i < operators; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			op := types.OperatorID(100 + i)
			_, errs[i] = s.Claim(req.ID, op, fmt.Sprintf("op-%d", i), time.Now())
		}(i)
	}
	wg.Wait()

	var wins int
	var winner string
	for i, err := range errs {
		if err == nil {
			wins++
			winner = fmt.Sprintf("op-%d", i)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", wins)
	}
	for _, err := range errs {
		if err == nil {
			continue
		}
		var claimed *AlreadyClaimedError
		if !errors.As(err, &claimed) {
			t.Fatalf("expected AlreadyClaimedError, got %v", err)
		}
		if claimed.OperatorName != winner {
			t.Errorf("loser told wrong winner: %s, want %s", claimed.OperatorName, winner)
		}
	}

	got, err := s.Get(req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.StatusClaimed {
		t.Errorf("expected claimed status, got %s", got.Status)
	}
	if _, err := s.ByOperator(got.AssignedOperator); err != nil {
		t.Errorf("operator index missing after claim: %v", err)
	}
}

func TestClaimRejectsBusyOperator(t *testing.T) {
	s := New()
	now := time.Now()
	first, err := s.Create(1, "Alice", "en", "first", now)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Create(2, "Bob", "en", "second", now)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(first.ID, 99, "Carol", now); err != nil {
		t.Fatal(err)
	}

	_, err = s.Claim(second.ID, 99, "Carol", now)
	if !errors.Is(err, ErrOperatorBusy) {
		t.Fatalf("expected ErrOperatorBusy, got %v", err)
	}

	// The rejected claim must leave the second request untouched and the
	// operator's session pointing at the first.
	got, _ := s.Get(second.ID)
	if got.Status != types.StatusPending || got.AssignedOperator != 0 {
		t.Errorf("second request mutated by rejected claim: %+v", got)
	}
	session, err := s.ByOperator(99)
	if err != nil {
		t.Fatal(err)
	}
	if session.ID != first.ID {
		t.Errorf("operator session = %s, want %s", session.ID, first.ID)
	}

	// Closing the first request frees the operator for the second.
	if _, ok := s.Remove(first.ID); !ok {
		t.Fatal("remove failed")
	}
	if _, err := s.Claim(second.ID, 99, "Carol", now); err != nil {
		t.Fatalf("claim after close: %v", err)
	}
	session, err = s.ByOperator(99)
	if err != nil {
		t.Fatal(err)
	}
	if session.ID != second.ID {
		t.Errorf("operator session = %s, want %s", session.ID, second.ID)
	}
}

func TestClaimMissingRequest(t *testing.T) {
	s := New()
	_, err := s.Claim("nope", 1, "op", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendMessageOrdering(t *testing.T) {
	s := New()
	req, err := s.Create(42, "Alice", "en", "one", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	for _, text := range []string{"two", "three", "four"} {
		if err := s.AppendMessage(req.ID, types.SenderUser, text, time.Now()); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Get(req.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"one", "two", "three", "four"}
	if len(got.History) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got.History))
	}
	for i, text := range want {
		if got.History[i].Text != text {
			t.Errorf("history[%d] = %q, want %q", i, got.History[i].Text, text)
		}
	}
}

func TestAppendBumpsActivity(t *testing.T) {
	s := New()
	start := time.Now()
	req, err := s.Create(42, "Alice", "en", "help", start)
	if err != nil {
		t.Fatal(err)
	}
	later := start.Add(5 * time.Minute)
	if err := s.AppendMessage(req.ID, types.SenderOperator, "hi", later); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(req.ID)
	if !got.LastActivityAt.Equal(later) {
		t.Errorf("LastActivityAt = %v, want %v", got.LastActivityAt, later)
	}
}

func TestMarkEscalatedLeavesActivityAlone(t *testing.T) {
	s := New()
	start := time.Now()
	req, err := s.Create(42, "Alice", "en", "help", start)
	if err != nil {
		t.Fatal(err)
	}
	later := start.Add(5 * time.Minute)
	if err := s.MarkEscalated(req.ID, later); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(req.ID)
	if !got.EscalatedAt.Equal(later) {
		t.Errorf("EscalatedAt = %v, want %v", got.EscalatedAt, later)
	}
	if !got.LastActivityAt.Equal(start) {
		t.Errorf("LastActivityAt moved to %v, want %v", got.LastActivityAt, start)
	}
}

func TestRemoveClearsBothIndices(t *testing.T) {
	s := New()
	req, err := s.Create(42, "Alice", "en", "help", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(req.ID, 7, "Bob", time.Now()); err != nil {
		t.Fatal(err)
	}

	removed, ok := s.Remove(req.ID)
	if !ok {
		t.Fatal("expected removal to succeed")
	}
	if removed.UserID != 42 {
		t.Errorf("removed wrong request: user %d", removed.UserID)
	}
	if _, err := s.Get(req.ID); !errors.Is(err, ErrNotFound) {
		t.Error("id index still populated after removal")
	}
	if _, err := s.ByUser(42); !errors.Is(err, ErrNotFound) {
		t.Error("user index still populated after removal")
	}
	if _, err := s.ByOperator(7); !errors.Is(err, ErrNotFound) {
		t.Error("operator index still populated after removal")
	}

	// Second removal is a no-op.
	if _, ok := s.Remove(req.ID); ok {
		t.Error("second removal should report not found")
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	s := New()
	req, err := s.Create(42, "Alice", "en", "help", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	snap, _ := s.Get(req.ID)
	snap.History[0].Text = "mutated"
	snap.Notifications[999] = types.MessageRef{ChatID: 1, MessageID: 1}

	got, _ := s.Get(req.ID)
	if got.History[0].Text != "help" {
		t.Error("snapshot mutation leaked into the store")
	}
	if len(got.Notifications) != 0 {
		t.Error("notification mutation leaked into the store")
	}
}

func TestMediaBookkeeping(t *testing.T) {
	s := New()
	req, err := s.Create(42, "Alice", "en", "help", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	index, err := s.AppendMedia(req.ID, types.MediaRecord{
		At:        time.Now(),
		Kind:      types.MediaPhoto,
		FileRef:   "file-1",
		Sender:    types.SenderUser,
		SourceRef: types.MessageRef{ChatID: 42, MessageID: 10},
	})
	if err != nil {
		t.Fatal(err)
	}
	ref := types.MessageRef{ChatID: 7, MessageID: 20}
	if err := s.SetDeliveredRef(req.ID, index, ref); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(req.ID)
	if got.Media[index].DeliveredRef == nil || *got.Media[index].DeliveredRef != ref {
		t.Errorf("delivered ref not recorded: %+v", got.Media[index])
	}
}
