package memberships

import "strings"

// NormalizeStatus maps a remote subscription status onto the local enum.
// Unknown or empty values are treated as incomplete.
func NormalizeStatus(s string) Status {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusTrialing, StatusActive, StatusPastDue, StatusUnpaid,
		StatusCanceled, StatusIncomplete, StatusIncompleteExpired, StatusEnded:
		return st
	case "paused":
		return StatusPastDue
	}
	return StatusIncomplete
}

// Live reports whether the subscription still entitles the customer.
func (s Status) Live() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	}
	return false
}

// Terminal statuses never transition back to a live state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCanceled, StatusIncompleteExpired, StatusEnded:
		return true
	}
	return false
}
