package domain

import (
	"fmt"
	"strings"
)

// Event is a business event name that destinations subscribe to.
type Event string

const (
	EventLowStockAlert         Event = "low_stock_alert"
	EventOrderCompleted        Event = "order_completed"
	EventOrderCancelled        Event = "order_cancelled"
	EventPaymentReceived       Event = "payment_received"
	EventRefundIssued          Event = "refund_issued"
	EventInventoryAdjusted     Event = "inventory_adjusted"
	EventPurchaseOrderReceived Event = "purchase_order_received"
	EventReservationCreated    Event = "reservation_created"
	EventReservationCancelled  Event = "reservation_cancelled"
	EventShiftClosed           Event = "shift_closed"
	EventCustomerCreated       Event = "customer_created"
	EventSubscriptionChanged   Event = "subscription_changed"
)

var knownEvents = []Event{
	EventLowStockAlert,
	EventOrderCompleted,
	EventOrderCancelled,
	EventPaymentReceived,
	EventRefundIssued,
	EventInventoryAdjusted,
	EventPurchaseOrderReceived,
	EventReservationCreated,
	EventReservationCancelled,
	EventShiftClosed,
	EventCustomerCreated,
	EventSubscriptionChanged,
}

func (e Event) String() string { return string(e) }

func (e Event) IsValid() bool {
	for _, known := range knownEvents {
		if e == known {
			return true
		}
	}
	return false
}

// ParseEventFromString accepts both snake_case and kebab-case spellings.
func ParseEventFromString(s string) (Event, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	ev := Event(strings.ReplaceAll(normalized, "-", "_"))
	if !ev.IsValid() {
		return "", fmt.Errorf("%w: invalid event %q", ErrValidation, s)
	}
	return ev, nil
}

// KnownEvents returns every supported event name.
func KnownEvents() []Event {
	out := make([]Event, len(knownEvents))
	copy(out, knownEvents)
	return out
}
