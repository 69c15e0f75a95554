package notifications

import (
	"time"

	"etmf-portal/portal-backend/internal/documents"
	"etmf-portal/portal-backend/pkg/workflows"
)

// Message types exchanged with dashboard clients
const (
	WSMessageTypeSubscribe       = "subscribe"
	WSMessageTypeUnsubscribe     = "unsubscribe"
	WSMessageTypeStatus          = "status"
	WSMessageTypeDocumentUpdated = "document.updated"
)

// EventDocumentTransitioned is published when a projection changes status
const EventDocumentTransitioned = "document.transitioned"

// WebSocketMessage represents WebSocket message format
type WebSocketMessage struct {
	Type        string         `json:"type"`
	DocumentIDs []string       `json:"document_ids,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Target      string         `json:"target,omitempty"`
}

// DocumentEvent describes a projected document for subscribers
type DocumentEvent struct {
	Type           string           `json:"type"`
	DocumentID     string           `json:"document_id"`
	Status         workflows.Status `json:"status"`
	PreviousStatus workflows.Status `json:"previous_status,omitempty"`
	CurrentVersion int              `json:"current_version"`
	Title          string           `json:"title,omitempty"`
	StudyID        string           `json:"study_id,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// NewDocumentEvent builds an event from a projected document
func NewDocumentEvent(eventType string, doc *documents.Document, previous workflows.Status) DocumentEvent {
	return DocumentEvent{
		Type:           eventType,
		DocumentID:     doc.ID,
		Status:         doc.Status,
		PreviousStatus: previous,
		CurrentVersion: doc.CurrentVersion,
		Title:          doc.Metadata.Title,
		StudyID:        doc.Metadata.StudyID,
		OccurredAt:     time.Now().UTC(),
	}
}

// Transitioned reports whether the event records a status change
func (e DocumentEvent) Transitioned() bool {
	return e.PreviousStatus != "" && e.PreviousStatus != e.Status
}
