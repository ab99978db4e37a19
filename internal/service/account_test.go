package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/tutorbook/internal/domain"
)

type fakeAccountStore struct {
	createdEmail string
	createdName  string
	refs         []string
}

func (s *fakeAccountStore) CreateAccount(ctx context.Context, email, name string, now time.Time) (*domain.Account, error) {
	s.createdEmail = email
	s.createdName = name
	return &domain.Account{
		ID:                    uuid.New(),
		Email:                 email,
		Name:                  name,
		Plan:                  domain.PlanFree,
		FreeSessionsRemaining: domain.FreeSessionGrant,
		LastWeekStart:         domain.CurrentWeekStart(now),
	}, nil
}

func (s *fakeAccountStore) GetAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return nil, domain.NotFound("repository.GetAccountByID", "account", id.String())
}

func (s *fakeAccountStore) SetBillingRefs(ctx context.Context, id uuid.UUID, customerID, subscriptionID string) error {
	s.refs = append(s.refs, customerID, subscriptionID)
	return nil
}

func TestAccountCreate_NormalizesEmail(t *testing.T) {
	store := &fakeAccountStore{}
	svc := NewAccountService(store, testLogger())

	account, err := svc.Create(context.Background(), "  Parent@Example.COM ", " Sam ")
	require.NoError(t, err)

	assert.Equal(t, "parent@example.com", store.createdEmail)
	assert.Equal(t, "Sam", store.createdName)
	assert.Equal(t, domain.PlanFree, account.Plan)
	assert.Equal(t, domain.FreeSessionGrant, account.FreeSessionsRemaining)
}

func TestAccountCreate_RequiresEmail(t *testing.T) {
	svc := NewAccountService(&fakeAccountStore{}, testLogger())

	_, err := svc.Create(context.Background(), "   ", "Sam")
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestAttachSubscription_RequiresSubscriptionID(t *testing.T) {
	store := &fakeAccountStore{}
	svc := NewAccountService(store, testLogger())

	err := svc.AttachSubscription(context.Background(), uuid.New(), "cus_1", "")
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	assert.Empty(t, store.refs)

	err = svc.AttachSubscription(context.Background(), uuid.New(), "cus_1", "sub_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"cus_1", "sub_1"}, store.refs)
}
