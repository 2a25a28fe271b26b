package domain

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTimeoutMs   = 30000
	MinTimeoutMs       = 100
	MaxTimeoutMs       = 120000
	DefaultMaxAttempts = 3
	MaxAttemptsLimit   = 20
)

// Destination is a configured notification target owned by a tenant and
// optionally narrowed to one branch.
type Destination struct {
	ID          string
	TenantID    string
	BranchID    *string
	Event       Event
	URL         string
	Secret      *string
	Headers     map[string]string
	TimeoutMs   int
	MaxAttempts int
	Active      bool
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasSecret reports whether payloads for this destination are signed.
func (d *Destination) HasSecret() bool {
	return d != nil && d.Secret != nil && *d.Secret != ""
}

// Timeout returns the per-attempt deadline.
func (d *Destination) Timeout() time.Duration {
	ms := d.TimeoutMs
	if ms <= 0 {
		ms = DefaultTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

// Matches reports whether the destination should receive event for the given
// tenant and branch. Tenant-wide destinations match every branch.
func (d *Destination) Matches(event Event, tenantID string, branchID *string) bool {
	if d == nil || !d.Active {
		return false
	}
	if d.Event != event || d.TenantID != tenantID {
		return false
	}
	if d.BranchID == nil {
		return true
	}
	return branchID != nil && *d.BranchID == *branchID
}

// ApplyDefaults fills zero-valued policy fields.
func (d *Destination) ApplyDefaults() {
	if d.TimeoutMs == 0 {
		d.TimeoutMs = DefaultTimeoutMs
	}
	if d.MaxAttempts == 0 {
		d.MaxAttempts = DefaultMaxAttempts
	}
	if d.BranchID != nil && strings.TrimSpace(*d.BranchID) == "" {
		d.BranchID = nil
	}
	if d.Secret != nil && *d.Secret == "" {
		d.Secret = nil
	}
}

func (d *Destination) Validate() error {
	if strings.TrimSpace(d.TenantID) == "" {
		return fmt.Errorf("%w: tenantId is required", ErrValidation)
	}
	if !d.Event.IsValid() {
		return fmt.Errorf("%w: invalid event %q", ErrValidation, d.Event)
	}

	parsed, err := url.ParseRequestURI(strings.TrimSpace(d.URL))
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("%w: url must be an absolute URL", ErrValidation)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: url scheme must be http or https", ErrValidation)
	}

	if d.MaxAttempts < 1 || d.MaxAttempts > MaxAttemptsLimit {
		return fmt.Errorf("%w: maxAttempts must be between 1 and %d", ErrValidation, MaxAttemptsLimit)
	}
	if d.TimeoutMs < MinTimeoutMs || d.TimeoutMs > MaxTimeoutMs {
		return fmt.Errorf("%w: timeoutMs must be between %d and %d", ErrValidation, MinTimeoutMs, MaxTimeoutMs)
	}

	for name := range d.Headers {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: header names must not be empty", ErrValidation)
		}
		if http.CanonicalHeaderKey(name) == "Content-Type" {
			return fmt.Errorf("%w: content-type header cannot be overridden", ErrValidation)
		}
	}

	return nil
}
