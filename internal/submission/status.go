// Package submission defines the ledger record of a submission and its
// status lifecycle.
package submission

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a submission.
//
//	pending -> publishing -> approved
//	        \            \-> pending (publish failed, claim released)
//	         -> rejected
//	direct | failed are written once for privileged posts and failed forwards.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPublishing Status = "publishing"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusDirect     Status = "direct"
	StatusFailed     Status = "failed"
)

// Statuses lists every status in display order.
var Statuses = []Status{
	StatusPending,
	StatusPublishing,
	StatusApproved,
	StatusRejected,
	StatusDirect,
	StatusFailed,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Decided reports whether no further decision can change the submission.
func (s Status) Decided() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusDirect, StatusFailed:
		return true
	}
	return false
}

// ParseStatus parses a status name, case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}
