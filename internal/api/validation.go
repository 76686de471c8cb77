package api

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Spatial-NVR/cctv-hub/internal/events"
)

// ValidationError represents a validation error with field information
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Pagination limits
const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Page is a validated limit/offset pair
type Page struct {
	Limit  int
	Offset int
}

// QueryValidator reads and validates query parameters, collecting every
// problem instead of stopping at the first
type QueryValidator struct {
	query  url.Values
	errors ValidationErrors
}

// NewQueryValidator creates a validator over q
func NewQueryValidator(q url.Values) *QueryValidator {
	return &QueryValidator{
		query:  q,
		errors: make(ValidationErrors, 0),
	}
}

// Errors returns the problems found so far
func (v *QueryValidator) Errors() ValidationErrors {
	return v.errors
}

func (v *QueryValidator) fail(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Int reads an integer parameter within [lo, hi], returning def when absent
func (v *QueryValidator) Int(field string, def, lo, hi int) int {
	raw := strings.TrimSpace(v.query.Get(field))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		v.fail(field, "must be an integer")
		return def
	}
	if n < lo || n > hi {
		v.fail(field, fmt.Sprintf("must be between %d and %d", lo, hi))
		return def
	}
	return n
}

// Page reads limit and offset
func (v *QueryValidator) Page() Page {
	return Page{
		Limit:  v.Int("limit", DefaultLimit, 1, MaxLimit),
		Offset: v.Int("offset", 0, 0, math.MaxInt32),
	}
}

// Camera reads the camera filter. known reports whether a name is tracked.
func (v *QueryValidator) Camera(known func(string) bool) string {
	name := strings.TrimSpace(v.query.Get("camera"))
	if name == "" {
		return ""
	}
	if err := ValidateCameraName(name); err != nil {
		v.fail("camera", err.Error())
		return ""
	}
	if known != nil && !known(name) {
		v.fail("camera", fmt.Sprintf("unknown camera %q", name))
		return ""
	}
	return name
}

// EventType reads the event type filter
func (v *QueryValidator) EventType() events.EventType {
	raw := strings.TrimSpace(v.query.Get("type"))
	if raw == "" {
		return ""
	}
	t := events.EventType(raw)
	if !t.Valid() {
		v.fail("type", fmt.Sprintf("must be one of %s, %s, %s",
			events.EventMotion, events.EventCameraOnline, events.EventCameraOffline))
		return ""
	}
	return t
}

// Time reads an RFC 3339 timestamp, returning the zero time when absent
func (v *QueryValidator) Time(field string) time.Time {
	raw := strings.TrimSpace(v.query.Get(field))
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		v.fail(field, "must be an RFC 3339 timestamp")
		return time.Time{}
	}
	return t
}

// ValidateCameraName validates a camera name taken from a request
func ValidateCameraName(name string) error {
	if name == "" {
		return fmt.Errorf("camera name is required")
	}
	if len(name) > 100 {
		return fmt.Errorf("camera name must be less than 100 characters")
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("camera name contains invalid characters")
	}
	return nil
}
