package service

import (
	"time"

	"github.com/tidwall/gjson"
)

// PollAttempt is the transient record of a single status probe.
// Observed is nil when the probe failed.
type PollAttempt struct {
	Observed *bool
	At       time.Time
}

// ParseActive reads the "active" member of a status payload.
// A boolean true, the number 1 and the string "1" mean active; any other
// value, a missing member or a malformed payload means inactive.
func ParseActive(payload []byte) bool {
	return IsActive(gjson.GetBytes(payload, "active"))
}

// IsActive normalizes a single JSON value to an activity flag
func IsActive(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return v.Num == 1
	case gjson.String:
		return v.Str == "1"
	default:
		return false
	}
}
