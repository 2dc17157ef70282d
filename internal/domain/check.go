package domain

import (
	"fmt"
	"time"
)

// CheckStatus represents the lifecycle status of a check
type CheckStatus string

const (
	CheckStatusQueued     CheckStatus = "queued"
	CheckStatusProcessing CheckStatus = "processing"
	CheckStatusCompleted  CheckStatus = "completed"
	CheckStatusFailed     CheckStatus = "failed"
	CheckStatusCancelled  CheckStatus = "cancelled"
)

// IsTerminal reports whether no further status transition can occur
func (s CheckStatus) IsTerminal() bool {
	switch s {
	case CheckStatusCompleted, CheckStatusFailed, CheckStatusCancelled:
		return true
	}
	return false
}

// InputType distinguishes plain text submissions from image submissions
// whose text was extracted upstream
type InputType string

const (
	InputTypeText  InputType = "text"
	InputTypeImage InputType = "image"
)

// Check represents one text-screening request and its lifecycle
type Check struct {
	ID            string
	OrgID         string
	UserID        string
	Status        CheckStatus
	InputType     InputType
	OriginalText  string
	ExtractedText string // set for image input, text recovered upstream
	ImageKey      string // storage key of the archived source image
	ModifiedText  *string
	ErrorMessage  *string
	CreatedAt     time.Time
	CompletedAt   *time.Time
	DeletedAt     *time.Time
}

// Text returns the text the pipeline screens: the extracted text for
// image input, the original text otherwise.
func (c *Check) Text() string {
	if c.InputType == InputTypeImage && c.ExtractedText != "" {
		return c.ExtractedText
	}
	return c.OriginalText
}

// NewCheck creates a new Check in the queued state
func NewCheck(id, orgID, userID, text string, inputType InputType, createdAt time.Time) *Check {
	return &Check{
		ID:           id,
		OrgID:        orgID,
		UserID:       userID,
		Status:       CheckStatusQueued,
		InputType:    inputType,
		OriginalText: text,
		CreatedAt:    createdAt,
	}
}

// ValidateCheck validates a Check instance
func ValidateCheck(c *Check) error {
	if c == nil {
		return fmt.Errorf("check cannot be nil")
	}
	if c.ID == "" {
		return fmt.Errorf("check ID is required")
	}
	if c.OrgID == "" {
		return fmt.Errorf("check OrgID is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("check UserID is required")
	}
	if c.OriginalText == "" && c.ExtractedText == "" {
		return fmt.Errorf("check must have text to screen")
	}
	if !isValidCheckStatus(c.Status) {
		return fmt.Errorf("check Status is invalid: %s", c.Status)
	}
	if !isValidInputType(c.InputType) {
		return fmt.Errorf("check InputType is invalid: %s", c.InputType)
	}
	return nil
}

func isValidCheckStatus(s CheckStatus) bool {
	switch s {
	case CheckStatusQueued, CheckStatusProcessing, CheckStatusCompleted,
		CheckStatusFailed, CheckStatusCancelled:
		return true
	}
	return false
}

func isValidInputType(t InputType) bool {
	return t == InputTypeText || t == InputTypeImage
}

// Violation represents a detected regulated-claim instance within a
// check's text. Offsets are half-open character ranges [Start, End)
// into the screened text.
type Violation struct {
	ID           string
	CheckID      string
	StartPos     int
	EndPos       int
	Reason       string
	DictionaryID *string // nil when the detector found no direct dictionary match
	CreatedAt    time.Time
}

// ValidateViolation validates a Violation instance
func ValidateViolation(v *Violation) error {
	if v == nil {
		return fmt.Errorf("violation cannot be nil")
	}
	if v.ID == "" {
		return fmt.Errorf("violation ID is required")
	}
	if v.CheckID == "" {
		return fmt.Errorf("violation CheckID is required")
	}
	if v.StartPos < 0 || v.EndPos < v.StartPos {
		return fmt.Errorf("violation offsets are invalid: [%d, %d)", v.StartPos, v.EndPos)
	}
	if v.Reason == "" {
		return fmt.Errorf("violation Reason is required")
	}
	return nil
}

// ClampOffsets clamps a violation's offsets into [0, textLen].
// Detector-supplied offsets are not trusted as-is.
func (v *Violation) ClampOffsets(textLen int) {
	if v.StartPos < 0 {
		v.StartPos = 0
	}
	if v.StartPos > textLen {
		v.StartPos = textLen
	}
	if v.EndPos < v.StartPos {
		v.EndPos = v.StartPos
	}
	if v.EndPos > textLen {
		v.EndPos = textLen
	}
}
