package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/claimguard-jp/claimguard/internal/domain"
)

const tokenPrefix = "cgd_"

type OrgRepository interface {
	Create(ctx context.Context, org *domain.Organization) error
	GetByID(ctx context.Context, id string) (*domain.Organization, error)
	GetByName(ctx context.Context, name string) (*domain.Organization, error)
	List(ctx context.Context) ([]*domain.Organization, error)
}

type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

type TokenRepository interface {
	Create(ctx context.Context, t *domain.AccessToken) error
	GetByHash(ctx context.Context, hash string) (*domain.AccessToken, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.AccessToken, error)
	Revoke(ctx context.Context, id string) error
}

// AuthService issues and validates user access tokens and owns
// organization/user provisioning for the admin CLI.
type AuthService struct {
	orgRepo   OrgRepository
	userRepo  UserRepository
	tokenRepo TokenRepository
	uuidGen   UUIDGenerator
}

func NewAuthService(orgRepo OrgRepository, userRepo UserRepository, tokenRepo TokenRepository, uuidGen UUIDGenerator) *AuthService {
	return &AuthService{
		orgRepo:   orgRepo,
		userRepo:  userRepo,
		tokenRepo: tokenRepo,
		uuidGen:   uuidGen,
	}
}

func (s *AuthService) CreateOrg(ctx context.Context, name string) (*domain.Organization, error) {
	if name == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "organization name is required")
	}

	org := &domain.Organization{
		ID:        s.uuidGen.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	if err := domain.ValidateOrganization(org); err != nil {
		return nil, err
	}

	if err := s.orgRepo.Create(ctx, org); err != nil {
		return nil, err
	}

	return org, nil
}

func (s *AuthService) CreateUser(ctx context.Context, orgID string, role domain.UserRole) (*domain.User, error) {
	if _, err := s.orgRepo.GetByID(ctx, orgID); err != nil {
		return nil, err
	}

	user := &domain.User{
		ID:        s.uuidGen.NewString(),
		OrgID:     orgID,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if err := domain.ValidateUser(user); err != nil {
		return nil, err
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// IssueToken creates an access token for a user and returns its
// plaintext exactly once.
func (s *AuthService) IssueToken(ctx context.Context, userID, name string) (string, error) {
	if name == "" {
		return "", domain.NewDomainError(domain.ErrCodeValidation, "token name is required")
	}
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return "", err
	}

	plaintext, err := generateToken()
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to generate token", err)
	}

	token := &domain.AccessToken{
		ID:        s.uuidGen.NewString(),
		UserID:    userID,
		Name:      name,
		TokenHash: hashToken(plaintext),
		CreatedAt: time.Now().UTC(),
	}
	if err := domain.ValidateAccessToken(token); err != nil {
		return "", err
	}
	if err := s.tokenRepo.Create(ctx, token); err != nil {
		return "", err
	}
	return plaintext, nil
}

func (s *AuthService) ListTokens(ctx context.Context, userID string) ([]*domain.AccessToken, error) {
	return s.tokenRepo.ListByUser(ctx, userID)
}

func (s *AuthService) RevokeToken(ctx context.Context, id string) error {
	return s.tokenRepo.Revoke(ctx, id)
}

// ValidateToken resolves a bearer token to its user, for the broker's
// access check and the HTTP middleware.
func (s *AuthService) ValidateToken(ctx context.Context, plaintext string) (*domain.User, error) {
	if !strings.HasPrefix(plaintext, tokenPrefix) {
		return nil, domain.ErrInvalidToken
	}

	token, err := s.tokenRepo.GetByHash(ctx, hashToken(plaintext))
	if err != nil {
		return nil, err
	}
	if token.IsRevoked() {
		return nil, domain.ErrTokenRevoked
	}

	return s.userRepo.GetByID(ctx, token.UserID)
}

func generateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return tokenPrefix + hex.EncodeToString(raw), nil
}

func hashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
