package workflows

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of an eTMF document
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusInReview Status = "IN_REVIEW"
	StatusApproved Status = "APPROVED"
	StatusFinal    Status = "FINAL"
	StatusArchived Status = "ARCHIVED"
)

// AllStatuses returns every legal status in lifecycle order
func AllStatuses() []Status {
	return []Status{StatusDraft, StatusInReview, StatusApproved, StatusFinal, StatusArchived}
}

// Valid reports whether s is one of the five lifecycle statuses
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusInReview, StatusApproved, StatusFinal, StatusArchived:
		return true
	}
	return false
}

// ParseStatus parses a status case-insensitively and rejects anything outside the enumeration
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown document status %q", raw)
	}
	return s, nil
}

// UnmarshalText keeps invalid statuses out of decoded payloads
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Role is the actor role used by the policy table
type Role string

const (
	RoleSubmitter Role = "SUBMITTER"
	RoleReviewer  Role = "REVIEWER"
	RoleApprover  Role = "APPROVER"
	RoleAdmin     Role = "ADMIN"
)

// AllRoles returns every known role
func AllRoles() []Role {
	return []Role{RoleSubmitter, RoleReviewer, RoleApprover, RoleAdmin}
}

// ParseRole maps a raw role name to a Role. Unknown names yield the empty
// role, which the policy table grants nothing.
func ParseRole(raw string) Role {
	r := Role(strings.ToUpper(strings.TrimSpace(raw)))
	switch r {
	case RoleSubmitter, RoleReviewer, RoleApprover, RoleAdmin:
		return r
	}
	return ""
}

// Action is a named workflow operation
type Action string

const (
	ActionSubmitForReview Action = "SUBMIT_FOR_REVIEW"
	ActionReview          Action = "REVIEW"
	ActionApproval        Action = "APPROVAL"
	ActionFinalize        Action = "FINALIZE"
	ActionArchive         Action = "ARCHIVE"
)

// Valid reports whether a is a known action
func (a Action) Valid() bool {
	switch a {
	case ActionSubmitForReview, ActionReview, ActionApproval, ActionFinalize, ActionArchive:
		return true
	}
	return false
}

// NeedsDecision reports whether the action carries an APPROVED/REJECTED decision
func (a Action) NeedsDecision() bool {
	return a == ActionReview || a == ActionApproval
}

// Decision is the outcome of a review or approval
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// Valid reports whether d is APPROVED or REJECTED
func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// UnmarshalText normalizes case. Values outside the enumeration are kept so
// callers can report them with Valid.
func (d *Decision) UnmarshalText(text []byte) error {
	*d = Decision(strings.ToUpper(strings.TrimSpace(string(text))))
	return nil
}
