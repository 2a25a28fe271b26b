package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryState is the lifecycle state of one (destination, firing) delivery.
type DeliveryState string

const (
	DeliveryPending  DeliveryState = "pending"
	DeliverySuccess  DeliveryState = "success"
	DeliveryRetrying DeliveryState = "retrying"
	DeliveryFailed   DeliveryState = "failed"
)

func (s DeliveryState) String() string { return string(s) }

func (s DeliveryState) IsValid() bool {
	switch s {
	case DeliveryPending, DeliverySuccess, DeliveryRetrying, DeliveryFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic attempts will be made.
func (s DeliveryState) IsTerminal() bool {
	return s == DeliverySuccess || s == DeliveryFailed
}

func ParseDeliveryStateFromString(s string) (DeliveryState, error) {
	st := DeliveryState(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery state %q", ErrValidation, s)
	}
	return st, nil
}

// MaxResponseBodyChars bounds the stored response body.
const MaxResponseBodyChars = 1000

// DeliveryRecord is the ledger row for one destination within one firing.
// It is updated in place as attempts progress.
type DeliveryRecord struct {
	ID              string
	DispatchID      string
	DestinationID   string
	TenantID        string
	BranchID        *string
	Event           Event
	Payload         []byte
	Attempt         int
	State           DeliveryState
	ResponseStatus  *int
	ResponseBody    *string
	ResponseHeaders map[string]string
	DurationMs      *int64
	ErrorMessage    *string
	NextRetryAt     *time.Time
	TriggeredBy     *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DeliveryAttempt is the append-only audit row written after every attempt.
type DeliveryAttempt struct {
	ID             string
	DeliveryID     string
	AttemptNumber  int
	ResponseStatus *int
	ResponseBody   *string
	DurationMs     int64
	ErrorMessage   *string
	CreatedAt      time.Time
}

// TruncateBody cuts s to at most MaxResponseBodyChars characters.
func TruncateBody(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxResponseBodyChars {
		return s
	}
	return string(runes[:MaxResponseBodyChars])
}
