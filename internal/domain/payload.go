package domain

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// TimestampLayout matches the millisecond ISO-8601 form receivers already parse.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Payload is the JSON body delivered to destinations. Field order is fixed
// by the struct declaration and map keys inside Data are sorted by the
// encoder, so the same payload always serializes to the same bytes.
type Payload struct {
	Event     Event           `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
	TenantID  string          `json:"tenantId"`
	BranchID  *string         `json:"branchId,omitempty"`
	Signature string          `json:"signature,omitempty"`
}

// NewPayload builds the unsigned payload for one firing. The timestamp is
// taken once and shared by every destination and every retry of the firing.
func NewPayload(event Event, data any, tenantID string, branchID *string, firedAt time.Time) (Payload, error) {
	raw, err := encodeData(data)
	if err != nil {
		return Payload{}, err
	}

	return Payload{
		Event:     event,
		Data:      raw,
		Timestamp: firedAt.UTC().Format(TimestampLayout),
		TenantID:  tenantID,
		BranchID:  branchID,
	}, nil
}

// encodeData normalizes data through a generic decode so that pre-encoded
// input and structs alike end up with sorted object keys.
func encodeData(data any) (json.RawMessage, error) {
	if data == nil {
		return json.RawMessage("null"), nil
	}

	var raw []byte
	switch v := data.(type) {
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("%w: data is not JSON serializable: %v", ErrValidation, err)
		}
		raw = encoded
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null"), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: data is not valid JSON: %v", ErrValidation, err)
	}

	normalized, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("%w: data is not JSON serializable: %v", ErrValidation, err)
	}
	return normalized, nil
}

// Canonical returns the bytes that get signed: the payload without its
// signature field.
func (p Payload) Canonical() ([]byte, error) {
	unsigned := p
	unsigned.Signature = ""
	out, err := json.Marshal(unsigned)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return out, nil
}

// Body returns the bytes sent over the wire, including the signature when set.
func (p Payload) Body() ([]byte, error) {
	out, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return out, nil
}

// DecodePayload restores a payload frozen in the ledger. The store may hand
// back Data with reordered keys and extra whitespace (jsonb does both), so it
// is normalized again to reproduce the bytes of the first attempt.
func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("failed to decode stored payload: %w", err)
	}

	data, err := encodeData(p.Data)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to decode stored payload: %w", err)
	}
	p.Data = data
	p.Signature = ""
	return p, nil
}
