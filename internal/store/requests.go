// Package store holds the in-process table of in-flight support requests.
// It owns every mutation of request state; callers never touch shared maps.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/switchboard/internal/types"
)

var (
	// ErrNotFound means the request id or user has no in-flight request.
	ErrNotFound = errors.New("request not found")
	// ErrUserBusy means the user already has an active request.
	ErrUserBusy = errors.New("user already has an active request")
	// ErrOperatorBusy means the operator already holds a claimed request.
	ErrOperatorBusy = errors.New("operator already has a claimed request")
)

// AlreadyClaimedError reports a lost claim race, naming the winner.
type AlreadyClaimedError struct {
	Operator     types.OperatorID
	OperatorName string
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("request already claimed by %s", e.OperatorName)
}

// RequestStore indexes in-flight requests by id and by requesting user.
// A single mutex covers both indices so that creation, claim, and removal
// are atomic with respect to each other.
type RequestStore struct {
	mu         sync.Mutex
	byID       map[types.RequestID]*types.Request
	byUser     map[types.UserID]types.RequestID
	byOperator map[types.OperatorID]types.RequestID
}

func New() *RequestStore {
	return &RequestStore{
		byID:       make(map[types.RequestID]*types.Request),
		byUser:     make(map[types.UserID]types.RequestID),
		byOperator: make(map[types.OperatorID]types.RequestID),
	}
}

// Create allocates a new Pending request for the user with the initial
// message already appended. Returns ErrUserBusy if the user has one in
// flight; the duplicate check and the insert are one critical section.
func (s *RequestStore) Create(userID types.UserID, displayName, lang, text string, now time.Time) (types.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.byUser[userID]; busy {
		return types.Request{}, ErrUserBusy
	}

	req := &types.Request{
		ID:          types.NewRequestID(),
		UserID:      userID,
		DisplayName: displayName,
		Language:    lang,
		Status:      types.StatusPending,
		History: []types.HistoryEntry{
			{At: now, Sender: types.SenderUser, Text: text},
		},
		Notifications:  make(map[types.OperatorID]types.MessageRef),
		CreatedAt:      now,
		LastActivityAt: now,
		EscalatedAt:    now,
	}
	s.byID[req.ID] = req
	s.byUser[userID] = req.ID
	return snapshot(req), nil
}

// Get returns a copy of the request.
func (s *RequestStore) Get(id types.RequestID) (types.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.byID[id]
	if !ok {
		return types.Request{}, ErrNotFound
	}
	return snapshot(req), nil
}

// ByUser returns a copy of the user's active request.
func (s *RequestStore) ByUser(userID types.UserID) (types.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byUser[userID]
	if !ok {
		return types.Request{}, ErrNotFound
	}
	return snapshot(s.byID[id]), nil
}

// ByOperator returns a copy of the request the operator has claimed.
func (s *RequestStore) ByOperator(opID types.OperatorID) (types.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byOperator[opID]
	if !ok {
		return types.Request{}, ErrNotFound
	}
	return snapshot(s.byID[id]), nil
}

// Claim atomically assigns the request to the operator. Exactly one
// concurrent Claim for a given id succeeds; the rest get an
// AlreadyClaimedError naming the holder. An operator holds at most one
// request at a time; a second claim while one is in flight returns
// ErrOperatorBusy.
func (s *RequestStore) Claim(id types.RequestID, opID types.OperatorID, opName string, now time.Time) (types.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.byID[id]
	if !ok {
		return types.Request{}, ErrNotFound
	}
	if req.AssignedOperator != 0 {
		return types.Request{}, &AlreadyClaimedError{
			Operator:     req.AssignedOperator,
			OperatorName: req.OperatorName,
		}
	}
	if _, busy := s.byOperator[opID]; busy {
		return types.Request{}, ErrOperatorBusy
	}
	req.AssignedOperator = opID
	req.OperatorName = opName
	req.Status = types.StatusClaimed
	req.LastActivityAt = now
	s.byOperator[opID] = id
	return snapshot(req), nil
}

// AppendMessage records one text exchange and bumps the activity clock.
func (s *RequestStore) AppendMessage(id types.RequestID, sender types.Sender, text string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	req.History = append(req.History, types.HistoryEntry{At: now, Sender: sender, Text: text})
	req.LastActivityAt = now
	return nil
}

// AppendMedia records one attachment and bumps the activity clock. The
// returned index addresses the record for a later SetDeliveredRef.
func (s *RequestStore) AppendMedia(id types.RequestID, rec types.MediaRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	req.Media = append(req.Media, rec)
	req.LastActivityAt = rec.At
	return len(req.Media) - 1, nil
}

// SetDeliveredRef marks the relayed copy of the media record at index.
func (s *RequestStore) SetDeliveredRef(id types.RequestID, index int, ref types.MessageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if index < 0 || index >= len(req.Media) {
		return fmt.Errorf("media index %d out of range", index)
	}
	req.Media[index].DeliveredRef = &ref
	return nil
}

// SetNotification records (or replaces) the fan-out notice sent to an
// operator.
func (s *RequestStore) SetNotification(id types.RequestID, opID types.OperatorID, ref types.MessageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	req.Notifications[opID] = ref
	return nil
}

// AddSideNote records an auxiliary relayed message for teardown retraction.
func (s *RequestStore) AddSideNote(id types.RequestID, ref types.MessageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	req.SideNotes = append(req.SideNotes, ref)
	return nil
}

// MarkEscalated advances the reminder clock without touching activity.
func (s *RequestStore) MarkEscalated(id types.RequestID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	req.EscalatedAt = now
	return nil
}

// Remove deletes every index entry for the request in one critical section
// and hands the request to the caller, which then owns it exclusively.
// A second Remove for the same id reports ok=false.
func (s *RequestStore) Remove(id types.RequestID) (*types.Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	delete(s.byID, id)
	delete(s.byUser, req.UserID)
	if req.AssignedOperator != 0 && s.byOperator[req.AssignedOperator] == id {
		delete(s.byOperator, req.AssignedOperator)
	}
	return req, true
}

// IDs returns a stable snapshot of in-flight request ids for sweeps.
func (s *RequestStore) IDs() []types.RequestID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]types.RequestID, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	return ids
}

func (s *RequestStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// snapshot copies a request so callers can read it outside the lock.
func snapshot(req *types.Request) types.Request {
	out := *req
	out.History = append([]types.HistoryEntry(nil), req.History...)
	out.Media = append([]types.MediaRecord(nil), req.Media...)
	out.SideNotes = append([]types.MessageRef(nil), req.SideNotes...)
	out.Notifications = make(map[types.OperatorID]types.MessageRef, len(req.Notifications))
	for op, ref := range req.Notifications {
		out.Notifications[op] = ref
	}
	return out
}
