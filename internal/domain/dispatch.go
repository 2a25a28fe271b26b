package domain

import "time"

// DispatchStatus summarizes the first-attempt outcome of one firing.
type DispatchStatus string

const (
	DispatchProcessing     DispatchStatus = "processing"
	DispatchCompleted      DispatchStatus = "completed"
	DispatchPartialFailure DispatchStatus = "partial_failure"
	DispatchNoDestinations DispatchStatus = "no_destinations"
)

func (s DispatchStatus) String() string { return string(s) }

func (s DispatchStatus) IsValid() bool {
	switch s {
	case DispatchProcessing, DispatchCompleted, DispatchPartialFailure, DispatchNoDestinations:
		return true
	}
	return false
}

// Dispatch is one logical firing of a business event.
type Dispatch struct {
	ID               string
	TenantID         string
	BranchID         *string
	Event            Event
	DestinationCount int
	Status           DispatchStatus
	TriggeredBy      *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
