package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/vpnsync/internal/application"
	"github.com/ericfisherdev/vpnsync/internal/domain/model"
	"github.com/ericfisherdev/vpnsync/internal/domain/port/driven"
)

func newCredentialStore(t *testing.T) (*application.CredentialStore, *memStorage) {
	t.Helper()
	storage := newMemStorage()
	return application.NewCredentialStore(storage, application.NewEvents(nil), nil), storage
}

func TestCredentialStore_EmptySlots(t *testing.T) {
	store, _ := newCredentialStore(t)
	ctx := context.Background()

	assert.Nil(t, store.FetchAuthenticated(ctx))
	assert.Nil(t, store.FetchUnauthenticated(ctx))
}

func TestCredentialStore_StoreRetiresUnauthenticated(t *testing.T) {
	store, _ := newCredentialStore(t)
	ctx := context.Background()

	store.StoreUnauthenticated(ctx, model.Credential{SessionID: "anon", AccessToken: "a"})
	require.NotNil(t, store.FetchUnauthenticated(ctx))
	assert.True(t, store.FetchUnauthenticated(ctx).Unauthenticated)

	require.NoError(t, store.Store(ctx, authCredential(model.TierFree)))

	assert.Nil(t, store.FetchUnauthenticated(ctx))
	got := store.FetchAuthenticated(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "uid-1", got.SessionID)
	assert.False(t, got.Unauthenticated)
}

func TestCredentialStore_StoreFailureKeepsPrevious(t *testing.T) {
	store, storage := newCredentialStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, authCredential(model.TierFree)))
	storage.failWrites(errors.New("keychain locked"))

	next := authCredential(model.TierPlus)
	next.AccessToken = "access-2"
	err := store.Store(ctx, next)

	var storeErr *model.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, application.AuthCredentialsKey, storeErr.Key)
	assert.Equal(t, "access-1", store.FetchAuthenticated(ctx).AccessToken)
}

func TestCredentialStore_UnreadableSlotIsEmpty(t *testing.T) {
	store, storage := newCredentialStore(t)
	ctx := context.Background()

	require.NoError(t, storage.Set(ctx, application.AuthCredentialsKey, []byte("{not json")))
	assert.Nil(t, store.FetchAuthenticated(ctx))
}

func TestCredentialStore_PlanChangeEvent(t *testing.T) {
	store, _ := newCredentialStore(t)
	ctx := context.Background()

	planCh, cancel := store.Events().PlanChanged.Subscribe()
	defer cancel()

	require.NoError(t, store.Store(ctx, authCredential(model.TierPlus)))
	require.NoError(t, store.Store(ctx, authCredential(model.TierPlus)))
	assert.Empty(t, planCh, "first store and same-tier store raise nothing")

	require.NoError(t, store.Store(ctx, authCredential(model.TierFree)))

	select {
	case ev := <-planCh:
		assert.Equal(t, model.PlanChangeEvent{OldTier: model.TierPlus, NewTier: model.TierFree, Subject: "alex"}, ev)
		assert.True(t, ev.Downgrade())
	case <-time.After(time.Second):
		t.Fatal("expected plan change event")
	}
}

func TestCredentialStore_DelinquencyEvent(t *testing.T) {
	store, _ := newCredentialStore(t)
	ctx := context.Background()

	ch, cancel := store.Events().Delinquent.Subscribe()
	defer cancel()

	require.NoError(t, store.Store(ctx, authCredential(model.TierPlus)))

	delinquent := authCredential(model.TierPlus)
	delinquent.Delinquent = true
	require.NoError(t, store.Store(ctx, delinquent))
	require.NoError(t, store.Store(ctx, delinquent))

	require.Len(t, ch, 1, "only the transition raises an event")
	ev := <-ch
	assert.Equal(t, "alex", ev.Subject)
}

func TestCredentialStore_RotateTokens(t *testing.T) {
	store, _ := newCredentialStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, authCredential(model.TierPlus)))
	require.NoError(t, store.RotateTokens(ctx, "uid-1", "access-2", "refresh-2"))

	got := store.FetchAuthenticated(ctx)
	assert.Equal(t, "access-2", got.AccessToken)
	assert.Equal(t, "refresh-2", got.RefreshToken)
	assert.Equal(t, model.TierPlus, got.PlanTier)
}

func TestCredentialStore_RotateTokensUnauthenticatedSlot(t *testing.T) {
	store, _ := newCredentialStore(t)
	ctx := context.Background()

	store.StoreUnauthenticated(ctx, model.Credential{SessionID: "anon", AccessToken: "a", RefreshToken: "r"})
	require.NoError(t, store.RotateTokens(ctx, "anon", "a2", "r2"))
	assert.Equal(t, "a2", store.FetchUnauthenticated(ctx).AccessToken)
}

func TestCredentialStore_RotateAfterClearDoesNotResurrect(t *testing.T) {
	store, _ := newCredentialStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, authCredential(model.TierPlus)))
	store.Clear(ctx)

	err := store.RotateTokens(ctx, "uid-1", "access-2", "refresh-2")
	require.ErrorIs(t, err, driven.ErrSessionMismatch)
	assert.Nil(t, store.FetchAuthenticated(ctx))
}

func TestCredentialStore_UpdateAccount(t *testing.T) {
	store, _ := newCredentialStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, authCredential(model.TierPlus)))

	planCh, cancel := store.Events().PlanChanged.Subscribe()
	defer cancel()

	err := store.UpdateAccount(ctx, "uid-1", func(c *model.Credential) {
		c.PlanTier = model.TierFree
		c.SessionID = "other"
	})
	require.NoError(t, err)

	got := store.FetchAuthenticated(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "uid-1", got.SessionID)
	assert.Equal(t, model.TierFree, got.PlanTier)
	assert.Equal(t, "access-1", got.AccessToken)

	select {
	case ev := <-planCh:
		assert.Equal(t, model.TierPlus, ev.OldTier)
		assert.Equal(t, model.TierFree, ev.NewTier)
	case <-time.After(time.Second):
		t.Fatal("expected plan change event")
	}
}

func TestCredentialStore_UpdateAccountAfterClearDoesNotResurrect(t *testing.T) {
	store, _ := newCredentialStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, authCredential(model.TierPlus)))
	store.Clear(ctx)

	called := false
	err := store.UpdateAccount(ctx, "uid-1", func(*model.Credential) { called = true })
	require.ErrorIs(t, err, driven.ErrSessionMismatch)
	assert.False(t, called)
	assert.Nil(t, store.FetchAuthenticated(ctx))
}

func TestCredentialStore_ClearIsIdempotent(t *testing.T) {
	store, _ := newCredentialStore(t)
	ctx := context.Background()

	store.Clear(ctx)
	store.Clear(ctx)
	assert.Nil(t, store.FetchAuthenticated(ctx))
}

func TestCredentialStore_InvalidateSessionClearsThenNotifies(t *testing.T) {
	store, _ := newCredentialStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, authCredential(model.TierPlus)))
	store.StoreUnauthenticated(ctx, model.Credential{SessionID: "anon", AccessToken: "a"})

	ch, cancel := store.Events().SessionInvalidated.Subscribe()
	defer cancel()

	store.InvalidateSession(ctx, "uid-1")

	select {
	case ev := <-ch:
		assert.Equal(t, "uid-1", ev.SessionID)
		assert.Nil(t, store.FetchAuthenticated(ctx))
		assert.Nil(t, store.FetchUnauthenticated(ctx))
	case <-time.After(time.Second):
		t.Fatal("expected invalidation event")
	}
}

func TestCredentialStore_InvalidateStaleSessionIgnored(t *testing.T) {
	store, _ := newCredentialStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, authCredential(model.TierPlus)))

	ch, cancel := store.Events().SessionInvalidated.Subscribe()
	defer cancel()

	store.InvalidateSession(ctx, "uid-old")

	assert.NotNil(t, store.FetchAuthenticated(ctx))
	assert.Empty(t, ch)
}
