package documents

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"etmf-portal/portal-backend/pkg/workflows"
)

// SystemActor names audit entries with no recorded actor
const SystemActor = "System"

type Document struct {
	ID             string           `json:"id"`
	Status         workflows.Status `json:"status"`
	CurrentVersion int              `json:"currentVersion"`
	VersionHistory []Version        `json:"versionHistory,omitempty"`
	Metadata       Metadata         `json:"metadata"`
	AuditTrail     []AuditEntry     `json:"auditTrail,omitempty"`
}

// Metadata holds the fixed descriptive fields of a document
type Metadata struct {
	Title     string     `json:"title"`
	Category  string     `json:"category"`
	StudyID   string     `json:"studyId"`
	Site      string     `json:"site"`
	Author    string     `json:"author"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

type Version struct {
	VersionNumber     int              `json:"versionNumber"`
	UploadedBy        string           `json:"uploadedBy"`
	UploadedAt        time.Time        `json:"uploadedAt"`
	ChangeDescription string           `json:"changeDescription"`
	Status            workflows.Status `json:"status"`
	Reviews           []Review         `json:"reviews,omitempty"`
	Approvals         []Approval       `json:"approvals,omitempty"`
}

type Review struct {
	ReviewerID   string             `json:"reviewerId"`
	ReviewerName string             `json:"reviewerName"`
	Status       workflows.Decision `json:"status"`
	Comments     string             `json:"comments"`
	CreatedAt    time.Time          `json:"createdAt"`
}

type Approval struct {
	ApproverID   string             `json:"approverId"`
	ApproverName string             `json:"approverName"`
	Status       workflows.Decision `json:"status"`
	Comments     string             `json:"comments"`
	Signature    string             `json:"signature"`
	CreatedAt    time.Time          `json:"createdAt"`
}

type AuditEntry struct {
	ID        string          `json:"id,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	UserName  string          `json:"userName,omitempty"`
	Action    string          `json:"action"`
	Details   json.RawMessage `json:"details,omitempty"`
	IPAddress string          `json:"ipAddress,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Actor returns the display name of whoever performed the entry
func (e AuditEntry) Actor() string {
	if e.UserName != "" {
		return e.UserName
	}
	if e.UserID != "" {
		return e.UserID
	}
	return SystemActor
}

// Reviewer is a user assigned to review a document
type Reviewer struct {
	ReviewerID   string     `json:"reviewerId"`
	ReviewerName string     `json:"reviewerName"`
	AssignedAt   *time.Time `json:"assignedAt,omitempty"`
}

// ListFilter narrows document listings
type ListFilter struct {
	Status   *workflows.Status
	StudyID  string
	Category string
}

// Validate checks the invariants a backend payload must satisfy before it is
// projected
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("document id is empty")
	}
	if !d.Status.Valid() {
		return fmt.Errorf("document %s has invalid status %q", d.ID, d.Status)
	}
	if n := len(d.VersionHistory); n > 0 {
		last := d.VersionHistory[n-1].VersionNumber
		if d.CurrentVersion != last {
			return fmt.Errorf("document %s current version %d does not match latest version %d", d.ID, d.CurrentVersion, last)
		}
		for i := 1; i < n; i++ {
			if d.VersionHistory[i].VersionNumber <= d.VersionHistory[i-1].VersionNumber {
				return fmt.Errorf("document %s version history is not increasing at index %d", d.ID, i)
			}
		}
	}
	return nil
}

// Clone returns a deep copy so projections never share slices with callers
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	if d.VersionHistory != nil {
		out.VersionHistory = make([]Version, len(d.VersionHistory))
		for i, v := range d.VersionHistory {
			v.Reviews = append([]Review(nil), v.Reviews...)
			v.Approvals = append([]Approval(nil), v.Approvals...)
			out.VersionHistory[i] = v
		}
	}
	out.AuditTrail = append([]AuditEntry(nil), d.AuditTrail...)
	if d.Metadata.CreatedAt != nil {
		t := *d.Metadata.CreatedAt
		out.Metadata.CreatedAt = &t
	}
	return &out
}

// auditKey identifies an entry across fetches. Entries without a backend id
// fall back to their content.
func auditKey(e AuditEntry) string {
	if e.ID != "" {
		return "id:" + e.ID
	}
	return fmt.Sprintf("%s|%s|%s|%s", e.Timestamp.UTC().Format(time.RFC3339Nano), e.UserID, e.Action, string(e.Details))
}

// MergeAuditTrail appends the entries of fetched not already in held. Held
// entries are never removed or reordered.
func MergeAuditTrail(held, fetched []AuditEntry) []AuditEntry {
	seen := make(map[string]bool, len(held))
	merged := make([]AuditEntry, 0, len(held)+len(fetched))
	for _, e := range held {
		seen[auditKey(e)] = true
		merged = append(merged, e)
	}
	for _, e := range fetched {
		k := auditKey(e)
		if seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, e)
	}
	return merged
}

// SortedForDisplay returns a copy of the trail ordered newest first. Entries
// with equal timestamps keep creation order.
func SortedForDisplay(trail []AuditEntry) []AuditEntry {
	out := append([]AuditEntry(nil), trail...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
