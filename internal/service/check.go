package service

import (
	"context"
	"log"
	"time"

	"github.com/claimguard-jp/claimguard/internal/domain"
	"github.com/claimguard-jp/claimguard/internal/pagination"
	"github.com/claimguard-jp/claimguard/internal/queue"
)

// CheckRepository is the persistence surface the submission service
// drives. Status transitions belong to the processor, not here.
type CheckRepository interface {
	Create(ctx context.Context, c *domain.Check) error
	GetByID(ctx context.Context, id string) (*domain.Check, error)
	Cancel(ctx context.Context, id string) error
	SoftDelete(ctx context.Context, id string) error
}

// CheckLister pages an organization's checks. A non-empty userID
// restricts the page to that user's own submissions.
type CheckLister interface {
	ListByOrgWithCursor(ctx context.Context, orgID, userID string, cursor *pagination.Cursor, limit int) (*CheckPage, error)
}

// CheckPage is one page of checks plus the opaque cursor for the next.
type CheckPage struct {
	Checks     []*domain.Check
	NextCursor string
	HasMore    bool
}

// Enqueuer admits a created check into the processing pipeline.
type Enqueuer interface {
	Enqueue(checkID, text, orgID string, inputType domain.InputType)
	Remove(checkID string) bool
	Position(checkID string) int
	Status() queue.QueueStatus
}

// ImageArchive stores the original image of an image-input check and
// hands out short-lived URLs for retrieving it.
type ImageArchive interface {
	Store(ctx context.Context, checkID string, data []byte, contentType string) (string, error)
	DownloadURL(ctx context.Context, key string) (string, error)
}

// CheckService owns check submission, lookup, listing, and the
// cancellation path. Processing itself happens behind the Enqueuer.
type CheckService struct {
	repo    CheckRepository
	lister  CheckLister
	queue   Enqueuer
	archive ImageArchive // nil when no object storage is configured
	uuidGen UUIDGenerator
}

func NewCheckService(repo CheckRepository, lister CheckLister, q Enqueuer, archive ImageArchive, uuidGen UUIDGenerator) *CheckService {
	return &CheckService{
		repo:    repo,
		lister:  lister,
		queue:   q,
		archive: archive,
		uuidGen: uuidGen,
	}
}

type SubmitCheckInput struct {
	OrgID     string
	UserID    string
	InputType domain.InputType
	Text      string
	// Image submission only. ExtractedText comes from the upstream OCR
	// step; the raw image is archived for audit.
	ImageData        []byte
	ImageContentType string
	ExtractedText    string
}

// Submit creates a queued check and admits it into the pipeline. The
// returned check carries its wait position when all worker slots are
// busy.
func (s *CheckService) Submit(ctx context.Context, input SubmitCheckInput) (*domain.Check, int, error) {
	check := domain.NewCheck(s.uuidGen.NewString(), input.OrgID, input.UserID, input.Text, input.InputType, time.Now().UTC())
	if input.InputType == domain.InputTypeImage {
		check.ExtractedText = input.ExtractedText
	}
	if err := domain.ValidateCheck(check); err != nil {
		return nil, 0, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid check", err)
	}

	if input.InputType == domain.InputTypeImage && len(input.ImageData) > 0 && s.archive != nil {
		key, err := s.archive.Store(ctx, check.ID, input.ImageData, input.ImageContentType)
		if err != nil {
			log.Printf("check %s: archiving source image failed: %v", check.ID, err)
		} else {
			check.ImageKey = key
		}
	}

	if err := s.repo.Create(ctx, check); err != nil {
		return nil, 0, err
	}

	s.queue.Enqueue(check.ID, check.Text(), check.OrgID, check.InputType)
	return check, s.queue.Position(check.ID), nil
}

// Get returns a check the user is allowed to view.
func (s *CheckService) Get(ctx context.Context, id string, user *domain.User) (*domain.Check, error) {
	check, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.CanViewCheck(check) {
		return nil, domain.ErrCheckAccessDenied
	}
	return check, nil
}

// List pages the organization's checks, newest first. Admins see the
// whole organization; members only their own submissions, filtered in
// the query so their pages stay full-sized.
func (s *CheckService) List(ctx context.Context, user *domain.User, encodedCursor string, limit int) (*CheckPage, error) {
	var cursor *pagination.Cursor
	if encodedCursor != "" {
		c, err := pagination.DecodeCursor(encodedCursor)
		if err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
		}
		cursor = c
	}

	userID := ""
	if user.Role != domain.UserRoleAdmin {
		userID = user.ID
	}
	return s.lister.ListByOrgWithCursor(ctx, user.OrgID, userID, cursor, limit)
}

// ImageURL returns a presigned URL for the archived source image of an
// image-input check.
func (s *CheckService) ImageURL(ctx context.Context, id string, user *domain.User) (string, error) {
	check, err := s.Get(ctx, id, user)
	if err != nil {
		return "", err
	}
	if check.ImageKey == "" {
		return "", domain.NewDomainError(domain.ErrCodeNotFound, "check has no archived image")
	}
	if s.archive == nil {
		return "", domain.NewDomainError(domain.ErrCodeCapability, "object storage is not configured")
	}
	return s.archive.DownloadURL(ctx, check.ImageKey)
}

// Cancel stops a check that has not finished. A still-waiting check is
// pulled from the queue; one already claimed by a worker keeps running
// but its result is discarded because the terminal status is taken.
func (s *CheckService) Cancel(ctx context.Context, id string, user *domain.User) (*domain.Check, error) {
	check, err := s.Get(ctx, id, user)
	if err != nil {
		return nil, err
	}
	if check.Status.IsTerminal() {
		return nil, domain.ErrCheckNotCancellable
	}

	s.queue.Remove(id)
	if err := s.repo.Cancel(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// Delete soft-deletes a check. Only organization admins may delete.
func (s *CheckService) Delete(ctx context.Context, id string, user *domain.User) error {
	check, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if user.OrgID != check.OrgID || user.Role != domain.UserRoleAdmin {
		return domain.ErrCheckAccessDenied
	}
	return s.repo.SoftDelete(ctx, id)
}

// QueueStatus exposes the admission queue snapshot for operators.
func (s *CheckService) QueueStatus() queue.QueueStatus {
	return s.queue.Status()
}
