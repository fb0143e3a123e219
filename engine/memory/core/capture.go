package core

import (
	"time"

	"github.com/capsulehq/capsule/engine/core"
)

// CaptureRole enumerates conversation roles accepted by the capture scorer.
type CaptureRole string

const (
	RoleUser      CaptureRole = "user"
	RoleAssistant CaptureRole = "assistant"
	RoleSystem    CaptureRole = "system"
)

// CaptureCategory buckets a scored event by the kind of signal detected.
type CaptureCategory string

const (
	CategoryPreference CaptureCategory = "preference"
	CategoryFact       CaptureCategory = "fact"
	CategoryTask       CaptureCategory = "task"
	CategoryContext    CaptureCategory = "context"
	CategoryOther      CaptureCategory = "other"
)

// CaptureStatus is the candidate lifecycle state. Transitions to approved or
// rejected are only legal from pending; ignored is terminal at creation.
type CaptureStatus string

const (
	CapturePending  CaptureStatus = "pending"
	CaptureApproved CaptureStatus = "approved"
	CaptureRejected CaptureStatus = "rejected"
	CaptureIgnored  CaptureStatus = "ignored"
)

// CaptureCandidate is a scored conversation event awaiting a decision.
type CaptureCandidate struct {
	ID                 core.ID         `json:"id"`
	Tenancy            Tenancy         `json:"tenancy"`
	SourceEventID      string          `json:"sourceEventId,omitempty"`
	Role               CaptureRole     `json:"role"`
	Content            string          `json:"content"`
	Metadata           map[string]any  `json:"metadata,omitempty"`
	Score              float64         `json:"score"`
	Threshold          float64         `json:"threshold"`
	Recommended        bool            `json:"recommended"`
	Category           CaptureCategory `json:"category"`
	Reasons            []string        `json:"reasons"`
	Status             CaptureStatus   `json:"status"`
	AutoAccepted       bool            `json:"autoAccepted,omitempty"`
	AutoDecisionReason string          `json:"autoDecisionReason,omitempty"`
	MemoryID           core.ID         `json:"memoryId,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}
