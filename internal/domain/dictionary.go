package domain

import (
	"fmt"
	"time"
)

// PhraseCategory labels a dictionary entry as disallowed or permitted
type PhraseCategory string

const (
	PhraseCategoryNG    PhraseCategory = "NG"
	PhraseCategoryAllow PhraseCategory = "ALLOW"
)

// DictionaryEntry is an organization-curated phrase, optionally carrying
// a precomputed embedding. The embedding is nil until creation-time
// generation or the batch queue succeeds for it.
type DictionaryEntry struct {
	ID        string
	OrgID     string
	Phrase    string
	Category  PhraseCategory
	Notes     string
	Embedding []float32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewDictionaryEntry creates a new DictionaryEntry instance
func NewDictionaryEntry(id, orgID, phrase string, category PhraseCategory, notes string, createdAt time.Time) *DictionaryEntry {
	return &DictionaryEntry{
		ID:        id,
		OrgID:     orgID,
		Phrase:    phrase,
		Category:  category,
		Notes:     notes,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// ValidateDictionaryEntry validates a DictionaryEntry instance
func ValidateDictionaryEntry(e *DictionaryEntry) error {
	if e == nil {
		return fmt.Errorf("dictionary entry cannot be nil")
	}
	if e.ID == "" {
		return fmt.Errorf("dictionary entry ID is required")
	}
	if e.OrgID == "" {
		return fmt.Errorf("dictionary entry OrgID is required")
	}
	if e.Phrase == "" {
		return fmt.Errorf("dictionary entry Phrase is required")
	}
	if !isValidPhraseCategory(e.Category) {
		return fmt.Errorf("dictionary entry Category is invalid: %s", e.Category)
	}
	return nil
}

func isValidPhraseCategory(c PhraseCategory) bool {
	return c == PhraseCategoryNG || c == PhraseCategoryAllow
}

// RankedCandidate is a dictionary entry judged similar to submitted text,
// annotated with its ranking scores. LexicalScore is always present;
// VectorScore is zero for entries without an embedding.
type RankedCandidate struct {
	EntryID      string
	Phrase       string
	Category     PhraseCategory
	LexicalScore float64
	VectorScore  float64
	Score        float64
}
