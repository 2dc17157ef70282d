package service

import (
	"context"
	"log"
	"time"

	"github.com/claimguard-jp/claimguard/internal/domain"
)

// DictionaryRepository is the administrative persistence surface for
// dictionary entries.
type DictionaryRepository interface {
	Create(ctx context.Context, e *domain.DictionaryEntry) error
	GetByID(ctx context.Context, id string) (*domain.DictionaryEntry, error)
	ListByOrg(ctx context.Context, orgID string) ([]*domain.DictionaryEntry, error)
	Update(ctx context.Context, e *domain.DictionaryEntry) error
	Delete(ctx context.Context, id string) error
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
}

// DictionaryService handles administrative edits to the phrase
// dictionary. Creation generates the entry's embedding best-effort: an
// embedding failure leaves the vector column empty for the batch queue
// to fill in later.
type DictionaryService struct {
	repo      DictionaryRepository
	embedding EmbeddingClient // nil when no embedding capability is configured
	uuidGen   UUIDGenerator
}

func NewDictionaryService(repo DictionaryRepository, embedding EmbeddingClient, uuidGen UUIDGenerator) *DictionaryService {
	return &DictionaryService{
		repo:      repo,
		embedding: embedding,
		uuidGen:   uuidGen,
	}
}

type CreateEntryInput struct {
	OrgID    string
	Phrase   string
	Category domain.PhraseCategory
	Notes    string
}

func (s *DictionaryService) Create(ctx context.Context, input CreateEntryInput) (*domain.DictionaryEntry, error) {
	entry := domain.NewDictionaryEntry(
		s.uuidGen.NewString(), input.OrgID, input.Phrase, input.Category, input.Notes, time.Now().UTC(),
	)
	if err := domain.ValidateDictionaryEntry(entry); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid dictionary entry", err)
	}

	if s.embedding != nil {
		vec, err := s.embedding.GenerateEmbedding(ctx, entry.Phrase)
		if err != nil {
			log.Printf("dictionary: embedding for new entry %q failed, saving without vector: %v", entry.Phrase, err)
		} else {
			entry.Embedding = vec
		}
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *DictionaryService) Get(ctx context.Context, id string) (*domain.DictionaryEntry, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *DictionaryService) List(ctx context.Context, orgID string) ([]*domain.DictionaryEntry, error) {
	return s.repo.ListByOrg(ctx, orgID)
}

type UpdateEntryInput struct {
	Phrase   string
	Category domain.PhraseCategory
	Notes    string
}

// Update edits an entry's phrase, category, and notes. A changed phrase
// invalidates the stored embedding; it is regenerated best-effort.
func (s *DictionaryService) Update(ctx context.Context, id string, input UpdateEntryInput) (*domain.DictionaryEntry, error) {
	entry, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	phraseChanged := entry.Phrase != input.Phrase
	entry.Phrase = input.Phrase
	entry.Category = input.Category
	entry.Notes = input.Notes
	if err := domain.ValidateDictionaryEntry(entry); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid dictionary entry", err)
	}

	if err := s.repo.Update(ctx, entry); err != nil {
		return nil, err
	}

	if phraseChanged && s.embedding != nil {
		vec, err := s.embedding.GenerateEmbedding(ctx, entry.Phrase)
		if err != nil {
			log.Printf("dictionary: re-embedding for entry %s failed: %v", entry.ID, err)
		} else if err := s.repo.UpdateEmbedding(ctx, entry.ID, vec); err != nil {
			log.Printf("dictionary: storing re-embedding for entry %s failed: %v", entry.ID, err)
		} else {
			entry.Embedding = vec
		}
	}

	return entry, nil
}

func (s *DictionaryService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}
