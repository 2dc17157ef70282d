package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/claimguard-jp/claimguard/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOrgRepository is a mock implementation of OrgRepository
type MockOrgRepository struct {
	mock.Mock
}

func (m *MockOrgRepository) Create(ctx context.Context, org *domain.Organization) error {
	args := m.Called(ctx, org)
	return args.Error(0)
}

func (m *MockOrgRepository) GetByID(ctx context.Context, id string) (*domain.Organization, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Organization), args.Error(1)
}

func (m *MockOrgRepository) GetByName(ctx context.Context, name string) (*domain.Organization, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Organization), args.Error(1)
}

func (m *MockOrgRepository) List(ctx context.Context) ([]*domain.Organization, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Organization), args.Error(1)
}

// MockUserRepository is a mock implementation of UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

// MockTokenRepository is a mock implementation of TokenRepository
type MockTokenRepository struct {
	mock.Mock
}

func (m *MockTokenRepository) Create(ctx context.Context, t *domain.AccessToken) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockTokenRepository) GetByHash(ctx context.Context, hash string) (*domain.AccessToken, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AccessToken), args.Error(1)
}

func (m *MockTokenRepository) ListByUser(ctx context.Context, userID string) ([]*domain.AccessToken, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.AccessToken), args.Error(1)
}

func (m *MockTokenRepository) Revoke(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func newAuthService(orgs *MockOrgRepository, users *MockUserRepository, tokens *MockTokenRepository) *AuthService {
	return NewAuthService(orgs, users, tokens, &seqUUIDGenerator{})
}

func TestAuthService_CreateOrg(t *testing.T) {
	orgs := new(MockOrgRepository)
	orgs.On("Create", mock.Anything, mock.MatchedBy(func(o *domain.Organization) bool {
		return o.Name == "acme" && o.ID != ""
	})).Return(nil)

	s := newAuthService(orgs, new(MockUserRepository), new(MockTokenRepository))
	org, err := s.CreateOrg(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", org.Name)

	_, err = s.CreateOrg(context.Background(), "")
	require.Error(t, err)
	var de *domain.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.ErrCodeValidation, de.Code)
}

func TestAuthService_CreateUserRequiresExistingOrg(t *testing.T) {
	orgs := new(MockOrgRepository)
	orgs.On("GetByID", mock.Anything, "missing").Return(nil, domain.ErrOrganizationNotFound)

	s := newAuthService(orgs, new(MockUserRepository), new(MockTokenRepository))
	_, err := s.CreateUser(context.Background(), "missing", domain.UserRoleMember)
	assert.ErrorIs(t, err, domain.ErrOrganizationNotFound)
}

func TestAuthService_IssueTokenReturnsPlaintextOnce(t *testing.T) {
	orgs := new(MockOrgRepository)
	users := new(MockUserRepository)
	tokens := new(MockTokenRepository)

	users.On("GetByID", mock.Anything, "user1").Return(&domain.User{
		ID: "user1", OrgID: "org1", Role: domain.UserRoleMember,
	}, nil)

	var storedHash string
	tokens.On("Create", mock.Anything, mock.MatchedBy(func(tok *domain.AccessToken) bool {
		storedHash = tok.TokenHash
		return tok.UserID == "user1" && tok.Name == "ci"
	})).Return(nil)

	s := newAuthService(orgs, users, tokens)
	plaintext, err := s.IssueToken(context.Background(), "user1", "ci")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(plaintext, tokenPrefix))
	assert.Equal(t, hashToken(plaintext), storedHash)
	assert.NotContains(t, storedHash, plaintext)
}

func TestAuthService_ValidateToken(t *testing.T) {
	orgs := new(MockOrgRepository)
	users := new(MockUserRepository)
	tokens := new(MockTokenRepository)
	s := newAuthService(orgs, users, tokens)

	plaintext := tokenPrefix + strings.Repeat("ab", 32)
	user := &domain.User{ID: "user1", OrgID: "org1", Role: domain.UserRoleAdmin}

	tokens.On("GetByHash", mock.Anything, hashToken(plaintext)).Return(&domain.AccessToken{
		ID: "tok1", UserID: "user1", TokenHash: hashToken(plaintext),
	}, nil)
	users.On("GetByID", mock.Anything, "user1").Return(user, nil)

	got, err := s.ValidateToken(context.Background(), plaintext)
	require.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestAuthService_ValidateTokenRejectsBadPrefix(t *testing.T) {
	s := newAuthService(new(MockOrgRepository), new(MockUserRepository), new(MockTokenRepository))
	_, err := s.ValidateToken(context.Background(), "sk_not_ours")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestAuthService_ValidateTokenRejectsRevoked(t *testing.T) {
	tokens := new(MockTokenRepository)
	plaintext := tokenPrefix + strings.Repeat("cd", 32)
	revokedAt := time.Now().UTC()

	tokens.On("GetByHash", mock.Anything, hashToken(plaintext)).Return(&domain.AccessToken{
		ID: "tok1", UserID: "user1", TokenHash: hashToken(plaintext), RevokedAt: &revokedAt,
	}, nil)

	s := newAuthService(new(MockOrgRepository), new(MockUserRepository), tokens)
	_, err := s.ValidateToken(context.Background(), plaintext)
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)
}
