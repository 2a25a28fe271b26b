package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
)

// EventMessage is the broker payload for one business-event firing.
type EventMessage struct {
	MessageID   string          `json:"messageId"`
	Event       domain.Event    `json:"event"`
	TenantID    string          `json:"tenantId"`
	BranchID    *string         `json:"branchId,omitempty"`
	TriggeredBy *string         `json:"triggeredBy,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	FiredAt     time.Time       `json:"firedAt"`
}

func (m EventMessage) Validate() error {
	if strings.TrimSpace(m.MessageID) == "" {
		return fmt.Errorf("messageId is required")
	}
	if !m.Event.IsValid() {
		return fmt.Errorf("invalid event %q", m.Event)
	}
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("tenantId is required")
	}
	if len(m.Data) > 0 && !json.Valid(m.Data) {
		return fmt.Errorf("data must be valid JSON")
	}
	return nil
}
