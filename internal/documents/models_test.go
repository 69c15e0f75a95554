package documents

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etmf-portal/portal-backend/pkg/workflows"
)

func TestValidate(t *testing.T) {
	ok := testDocument("doc-1", workflows.StatusDraft)
	ok.CurrentVersion = 2
	ok.VersionHistory = []Version{{VersionNumber: 1}, {VersionNumber: 2}}
	assert.NoError(t, ok.Validate())

	noHistory := testDocument("doc-1", workflows.StatusFinal)
	noHistory.CurrentVersion = 7
	assert.NoError(t, noHistory.Validate())

	cases := map[string]func(*Document){
		"empty id":       func(d *Document) { d.ID = "" },
		"bad status":     func(d *Document) { d.Status = "SUPERSEDED" },
		"stale current":  func(d *Document) { d.CurrentVersion = 1 },
		"not increasing": func(d *Document) { d.VersionHistory = []Version{{VersionNumber: 2}, {VersionNumber: 2}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := ok.Clone()
			mutate(d)
			assert.Error(t, d.Validate())
		})
	}
}

func TestMergeAuditTrail(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	held := []AuditEntry{
		{ID: "a1", Action: "CREATED", Timestamp: t0},
		{Action: "VIEWED", UserID: "u-1", Timestamp: t0.Add(time.Minute)},
	}
	fetched := []AuditEntry{
		{Action: "VIEWED", UserID: "u-1", Timestamp: t0.Add(time.Minute)},
		{ID: "a1", Action: "CREATED", Timestamp: t0},
		{ID: "a3", Action: "SUBMITTED", Timestamp: t0.Add(time.Hour)},
	}

	merged := MergeAuditTrail(held, fetched)
	require.Len(t, merged, 3)
	assert.Equal(t, held, merged[:2])
	assert.Equal(t, "a3", merged[2].ID)

	// never shrinks
	assert.Equal(t, held, MergeAuditTrail(held, nil))
}

func TestSortedForDisplay(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	trail := []AuditEntry{
		{ID: "a1", Timestamp: t0},
		{ID: "a2", Timestamp: t0.Add(time.Hour)},
		{ID: "a3", Timestamp: t0.Add(time.Hour)},
		{ID: "a4", Timestamp: t0.Add(time.Minute)},
	}

	sorted := SortedForDisplay(trail)
	var ids []string
	for _, e := range sorted {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"a2", "a3", "a4", "a1"}, ids)
	assert.Equal(t, "a1", trail[0].ID)
}

func TestAuditEntryActor(t *testing.T) {
	assert.Equal(t, "Dana", AuditEntry{UserID: "u-1", UserName: "Dana"}.Actor())
	assert.Equal(t, "u-1", AuditEntry{UserID: "u-1"}.Actor())
	assert.Equal(t, SystemActor, AuditEntry{}.Actor())
}

func TestDocumentDecoding(t *testing.T) {
	payload := `{
		"id": "doc-9",
		"status": "approved",
		"currentVersion": 1,
		"metadata": {"title": "Monitoring Plan", "category": "Trial Management", "createdAt": "2024-02-01T10:00:00Z"},
		"auditTrail": [{"id": "a1", "action": "APPROVED", "details": {"comment": "ok"}, "timestamp": "2024-02-02T10:00:00Z"}]
	}`

	var doc Document
	require.NoError(t, json.Unmarshal([]byte(payload), &doc))
	assert.Equal(t, workflows.StatusApproved, doc.Status)
	require.NotNil(t, doc.Metadata.CreatedAt)
	assert.JSONEq(t, `{"comment":"ok"}`, string(doc.AuditTrail[0].Details))

	clone := doc.Clone()
	*clone.Metadata.CreatedAt = time.Time{}
	assert.False(t, doc.Metadata.CreatedAt.IsZero())
}
