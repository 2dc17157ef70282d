package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/claimguard-jp/claimguard/internal/cache"
	"github.com/claimguard-jp/claimguard/internal/domain"
	"github.com/google/uuid"
)

// CandidateCacheTTL is how long a resolved candidate list stays
// memoized for identical resubmissions within one organization.
const CandidateCacheTTL = 5 * time.Minute

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// CheckStatusRepository is the slice of check persistence the processor
// drives status transitions through.
type CheckStatusRepository interface {
	MarkProcessing(ctx context.Context, id string) error
	Fail(ctx context.Context, id, errMsg string) error
}

// UsageRepository records completed checks against the organization.
type UsageRepository interface {
	IncrementUsage(ctx context.Context, id string) error
}

// ViolationDetector sends text plus candidate NG phrases to the
// language model and returns its structured verdict.
type ViolationDetector interface {
	DetectViolations(ctx context.Context, text string, candidates []*domain.RankedCandidate) (*domain.DetectionResult, error)
}

// CandidateResolver produces the ranked candidate list for a text.
type CandidateResolver interface {
	Resolve(ctx context.Context, text, orgID string) ([]*domain.RankedCandidate, error)
}

// CheckProcessor orchestrates resolver -> detector -> persistence ->
// status transition for one check. All outcomes are observed through
// the persisted status, never a return value.
type CheckProcessor struct {
	checkRepo CheckStatusRepository
	orgRepo   UsageRepository
	resolver  CandidateResolver
	detector  ViolationDetector
	tx        TxRunner
	cache     *cache.Cache[[]*domain.RankedCandidate]
	uuidGen   UUIDGenerator
}

func NewCheckProcessor(
	checkRepo CheckStatusRepository,
	orgRepo UsageRepository,
	resolver CandidateResolver,
	detector ViolationDetector,
	tx TxRunner,
	candidateCache *cache.Cache[[]*domain.RankedCandidate],
	uuidGen UUIDGenerator,
) *CheckProcessor {
	return &CheckProcessor{
		checkRepo: checkRepo,
		orgRepo:   orgRepo,
		resolver:  resolver,
		detector:  detector,
		tx:        tx,
		cache:     candidateCache,
		uuidGen:   uuidGen,
	}
}

// Process runs the full pipeline for one check. The returned error is
// for the caller's log only; every failure is already persisted as a
// terminal failed status before Process returns.
func (p *CheckProcessor) Process(ctx context.Context, checkID, text, orgID string, inputType domain.InputType) error {
	if err := p.checkRepo.MarkProcessing(ctx, checkID); err != nil {
		// Cancelled while queued, or already claimed. Nothing to do.
		return err
	}

	if err := p.run(ctx, checkID, text, orgID); err != nil {
		if failErr := p.checkRepo.Fail(ctx, checkID, err.Error()); failErr != nil {
			log.Printf("processor: check %s: failed to persist failure: %v (original: %v)", checkID, failErr, err)
		}
		return err
	}

	// A single idempotent increment against the backing store, so the
	// counter stays correct under concurrent checks.
	if err := p.orgRepo.IncrementUsage(ctx, orgID); err != nil {
		log.Printf("processor: check %s: failed to increment usage for org %s: %v", checkID, orgID, err)
	}
	return nil
}

func (p *CheckProcessor) run(ctx context.Context, checkID, text, orgID string) error {
	candidates, err := p.resolveCandidates(ctx, text, orgID)
	if err != nil {
		return fmt.Errorf("similarity lookup failed: %w", err)
	}

	// No candidate phrases means nothing to screen against: skip the
	// detector call entirely and complete violation-free.
	if len(candidates) == 0 {
		return p.persist(ctx, checkID, text, nil)
	}

	result, err := p.detector.DetectViolations(ctx, text, candidates)
	if err != nil {
		return fmt.Errorf("violation detection failed: %w", err)
	}

	violations := p.buildViolations(checkID, text, result)
	modified := result.ModifiedText
	if modified == "" {
		modified = text
	}
	return p.persist(ctx, checkID, modified, violations)
}

func (p *CheckProcessor) resolveCandidates(ctx context.Context, text, orgID string) ([]*domain.RankedCandidate, error) {
	key := cache.Key(orgID, text)
	if cached, ok := p.cache.Get(key); ok {
		return cached, nil
	}

	candidates, err := p.resolver.Resolve(ctx, text, orgID)
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, candidates)
	return candidates, nil
}

func (p *CheckProcessor) buildViolations(checkID, text string, result *domain.DetectionResult) []*domain.Violation {
	now := time.Now().UTC()
	textLen := len([]rune(text))

	violations := make([]*domain.Violation, 0, len(result.Violations))
	for _, d := range result.Violations {
		v := &domain.Violation{
			ID:        p.uuidGen.NewString(),
			CheckID:   checkID,
			StartPos:  d.StartPos,
			EndPos:    d.EndPos,
			Reason:    d.Reason,
			CreatedAt: now,
		}
		if d.DictionaryID != "" {
			id := d.DictionaryID
			v.DictionaryID = &id
		}
		// Detector offsets are not trusted as-is.
		v.ClampOffsets(textLen)
		violations = append(violations, v)
	}
	return violations
}

// persist writes the terminal completed state and all violations in one
// transaction: a failed run persists nothing, all-or-nothing per check.
func (p *CheckProcessor) persist(ctx context.Context, checkID, modifiedText string, violations []*domain.Violation) error {
	err := p.tx.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Checks().Complete(ctx, checkID, modifiedText); err != nil {
			return err
		}
		return repos.Violations().CreateBatch(ctx, violations)
	})
	if err != nil {
		return fmt.Errorf("failed to persist check result: %w", err)
	}
	return nil
}
