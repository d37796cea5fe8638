// internal/types/ids.go
package types

import "github.com/google/uuid"

// UserID identifies an end user, which for the Telegram transport is also
// the private chat id.
type UserID int64

// OperatorID identifies a member of the operator pool (or the admin).
type OperatorID int64

// RequestID is the opaque claim key of a support request.
type RequestID string

func NewRequestID() RequestID {
	return RequestID(uuid.New().String())
}
