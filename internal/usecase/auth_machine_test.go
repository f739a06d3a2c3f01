package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"yba-auth/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCacheKey = "yba:auth:test-session"

func newTestMachine(idp *fakeIdentity, dir *fakeDirectory, c *mockCache) *AuthMachine {
	return NewAuthMachine(idp, dir, c, AuthMachineConfig{
		CacheKey:      testCacheKey,
		LookupTimeout: time.Second,
		Logger:        slog.Default(),
	})
}

func TestAuthMachine_InitializeConcurrentCallsResolveOnce(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	dir := newFakeDirectory().withActiveMember("zalo-1")
	dir.accountGate = make(chan struct{})
	m := newTestMachine(idp, dir, newMockCache())

	var wg sync.WaitGroup
	views := make([]domain.AuthView, 20)
	for i := range views {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := m.Initialize(context.Background())
			assert.NoError(t, err)
			views[i] = v
		}(i)
	}

	<-dir.accountStarted
	time.Sleep(20 * time.Millisecond)
	close(dir.accountGate)
	wg.Wait()

	assert.Equal(t, int32(1), dir.accountCalls.Load())
	assert.Equal(t, int32(1), dir.memberCalls.Load())
	assert.Equal(t, int32(1), idp.identityCalls.Load())
	for _, v := range views {
		assert.Equal(t, domain.UserMember, v.UserType)
	}

	// Later calls return the settled view without new lookups.
	_, err := m.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), dir.accountCalls.Load())
}

func TestAuthMachine_InitializeMemberFlow(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	dir := newFakeDirectory().withActiveMember("zalo-1")
	c := newMockCache()
	m := newTestMachine(idp, dir, c)

	v, err := m.Initialize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.StateReady, v.State)
	assert.True(t, v.IsAuthenticated)
	assert.False(t, v.HasProfilePermission)
	assert.Equal(t, domain.UserMember, v.UserType)
	assert.True(t, v.IsMember)
	assert.False(t, v.IsAdmin)
	assert.False(t, v.IsLoading)
	require.NotNil(t, v.Member)
	assert.Equal(t, "mem-1", v.Member.ID)
	assert.Empty(t, v.Error)
	assert.Equal(t, int32(1), c.saves.Load())
}

func TestAuthMachine_AdministratorWithoutMember(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	dir := newFakeDirectory()
	dir.account = &domain.Account{ID: "acc-9", ZaloID: "zalo-1", Type: domain.AccountAdministrator}
	m := newTestMachine(idp, dir, newMockCache())

	v, err := m.Initialize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.UserAdmin, v.UserType)
	assert.True(t, v.IsAdmin)
	assert.False(t, v.IsMember)
	assert.Equal(t, int32(0), dir.memberCalls.Load(), "no member fetch without a member link")
}

func TestAuthMachine_GuestFallbackOnBackendFailure(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	dir := newFakeDirectory()
	dir.accountErr = domain.ErrBackendUnreachable
	m := newTestMachine(idp, dir, newMockCache())

	v, err := m.Initialize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.StateReady, v.State)
	assert.True(t, v.IsAuthenticated)
	assert.Nil(t, v.Account)
	assert.Equal(t, domain.UserGuest, v.UserType)
	assert.Equal(t, domain.CodeBackendUnreachable, v.Error)
	assert.False(t, v.IsLoading)
}

func TestAuthMachine_AccountNotFoundIsGuestWithoutError(t *testing.T) {
	idp := newFakeIdentity("zalo-unknown")
	dir := newFakeDirectory().withActiveMember("zalo-1")
	m := newTestMachine(idp, dir, newMockCache())

	v, err := m.Initialize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.UserGuest, v.UserType)
	assert.Nil(t, v.Account)
	assert.Empty(t, v.Error)
}

func TestAuthMachine_IdentityFailureIsFatal(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	idp.idErr = errors.New("bridge down")
	dir := newFakeDirectory()
	m := newTestMachine(idp, dir, newMockCache())

	v, err := m.Initialize(context.Background())
	assert.True(t, errors.Is(err, domain.ErrIdentityUnavailable))

	assert.Equal(t, domain.StateError, v.State)
	assert.False(t, v.IsAuthenticated)
	assert.Equal(t, domain.UserGuest, v.UserType)
	assert.Equal(t, domain.CodeIdentityUnavailable, v.Error)
	assert.Equal(t, int32(0), dir.accountCalls.Load())
}

func TestAuthMachine_CacheHitSkipsDirectory(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	dir := newFakeDirectory().withActiveMember("zalo-1")
	c := newMockCache()
	c.entries[testCacheKey] = domain.Fragment{
		IdentityID: "zalo-1",
		Grants:     domain.Grants{BasicInfo: true},
		Profile:    &domain.Profile{ID: "zalo-1", Name: "Cached"},
		Account:    &domain.Account{ID: "acc-1", ZaloID: "zalo-1", Type: domain.AccountMember, MemberID: "mem-1"},
		Member:     &domain.Member{ID: "mem-1", Status: domain.MemberActive},
	}
	m := newTestMachine(idp, dir, c)

	v, err := m.Initialize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.UserMember, v.UserType)
	assert.True(t, v.HasProfilePermission)
	assert.Equal(t, "Cached", v.Profile.Name)
	assert.Equal(t, int32(0), dir.accountCalls.Load())
	assert.Equal(t, int32(0), idp.profileCalls.Load())
}

func TestAuthMachine_CacheForOtherIdentityIgnored(t *testing.T) {
	idp := newFakeIdentity("zalo-2")
	dir := newFakeDirectory()
	c := newMockCache()
	c.entries[testCacheKey] = domain.Fragment{
		IdentityID: "zalo-1",
		Account:    &domain.Account{ID: "acc-1", Type: domain.AccountAdministrator},
	}
	m := newTestMachine(idp, dir, c)

	v, err := m.Initialize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.UserGuest, v.UserType)
	assert.Equal(t, int32(1), dir.accountCalls.Load())
}

func TestAuthMachine_ActivateGuestSessionMakesNoProfileOrDirectoryCalls(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	dir := newFakeDirectory().withActiveMember("zalo-1")
	m := newTestMachine(idp, dir, newMockCache())

	v, err := m.ActivateGuestSession(context.Background())
	require.NoError(t, err)

	assert.True(t, v.IsAuthenticated)
	assert.Equal(t, domain.UserGuest, v.UserType)
	assert.False(t, v.IsMember)
	assert.Equal(t, domain.StateReady, v.State)
	assert.Equal(t, int32(0), idp.profileCalls.Load())
	assert.Equal(t, int32(0), idp.permissionCalls.Load())
	assert.Equal(t, int32(0), dir.accountCalls.Load())

	// Second activation is a no-op.
	_, err = m.ActivateGuestSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), idp.identityCalls.Load())
}

func TestAuthMachine_PermissionGrantResolvesMember(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	idp.grant = []domain.Scope{domain.ScopeBasicInfo}
	dir := newFakeDirectory().withActiveMember("zalo-1")
	m := newTestMachine(idp, dir, newMockCache())

	v, err := m.RequestProfilePermission(context.Background(), []domain.Scope{domain.ScopeBasicInfo})
	require.NoError(t, err)

	assert.True(t, v.HasProfilePermission)
	require.NotNil(t, v.Profile)
	assert.Equal(t, "Tran Thi B", v.Profile.Name)
	assert.Equal(t, domain.UserMember, v.UserType)
	assert.True(t, v.IsMember)
	require.NotNil(t, v.Member)
	assert.Equal(t, "mem-1", v.Member.ID)
	assert.Equal(t, domain.StateReady, v.State)
}

func TestAuthMachine_PartialGrantIsFieldByField(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	idp.grant = []domain.Scope{domain.ScopeBasicInfo}
	m := newTestMachine(idp, newFakeDirectory(), newMockCache())

	v, err := m.RequestProfilePermission(context.Background(), []domain.Scope{domain.ScopeBasicInfo, domain.ScopePhone})
	require.NoError(t, err)

	assert.True(t, v.HasProfilePermission)
	assert.False(t, v.HasPhonePermission)
	assert.Empty(t, m.PhoneToken())
	assert.ElementsMatch(t, []domain.Scope{domain.ScopeBasicInfo, domain.ScopePhone}, idp.requested())
}

func TestAuthMachine_PhoneGrantStoresToken(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	idp.grant = []domain.Scope{domain.ScopePhone}
	m := newTestMachine(idp, newFakeDirectory(), newMockCache())

	v, err := m.RequestProfilePermission(context.Background(), []domain.Scope{domain.ScopePhone})
	require.NoError(t, err)

	assert.True(t, v.HasPhonePermission)
	assert.False(t, v.HasProfilePermission)
	assert.Equal(t, "phone-token-1", m.PhoneToken())
}

func TestAuthMachine_PermissionDenied(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	idp.permErr = domain.ErrPermissionDenied
	dir := newFakeDirectory().withActiveMember("zalo-1")
	m := newTestMachine(idp, dir, newMockCache())

	v, err := m.RequestProfilePermission(context.Background(), []domain.Scope{domain.ScopeBasicInfo})
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))

	assert.Equal(t, domain.StateReady, v.State)
	assert.Equal(t, domain.CodePermissionDenied, v.Error)
	assert.False(t, v.HasProfilePermission)
	assert.Equal(t, int32(1), idp.permissionCalls.Load(), "no automatic retry")
	assert.Equal(t, int32(0), dir.accountCalls.Load())
}

func TestAuthMachine_RequestPermissionRejectsEmptyScopes(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	m := newTestMachine(idp, newFakeDirectory(), newMockCache())

	_, err := m.RequestProfilePermission(context.Background(), nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidRequest))
	assert.Equal(t, int32(0), idp.permissionCalls.Load())
}

func TestAuthMachine_PendingDialogDoesNotBlockReads(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	idp.permGate = make(chan struct{})
	idp.grant = []domain.Scope{domain.ScopeBasicInfo}
	m := newTestMachine(idp, newFakeDirectory(), newMockCache())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.RequestProfilePermission(context.Background(), []domain.Scope{domain.ScopeBasicInfo})
	}()

	require.Eventually(t, func() bool {
		return m.Snapshot().State == domain.StatePermissionPending
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	v, err := m.Settled(ctx)
	require.NoError(t, err, "an open dialog is not an in-flight resolution")
	assert.True(t, v.IsAuthenticated)

	close(idp.permGate)
	<-done
	assert.True(t, m.Snapshot().HasProfilePermission)
}

func TestAuthMachine_MemberTimeoutKeepsPreviousMember(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	dir := newFakeDirectory().withActiveMember("zalo-1")
	m := NewAuthMachine(idp, dir, newMockCache(), AuthMachineConfig{
		CacheKey:      testCacheKey,
		LookupTimeout: 30 * time.Millisecond,
	})

	_, err := m.Initialize(context.Background())
	require.NoError(t, err)
	require.True(t, m.Snapshot().IsMember)

	dir.memberGate = make(chan struct{})
	defer close(dir.memberGate)

	v, err := m.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.CodeBackendUnreachable, v.Error)
	assert.False(t, v.IsLoading)
	require.NotNil(t, v.Member)
	assert.Equal(t, "mem-1", v.Member.ID)
	assert.True(t, v.IsMember)
}

func TestAuthMachine_MemberTimeoutWithoutPreviousMember(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	dir := newFakeDirectory().withActiveMember("zalo-1")
	dir.memberGate = make(chan struct{})
	defer close(dir.memberGate)
	m := NewAuthMachine(idp, dir, newMockCache(), AuthMachineConfig{
		CacheKey:      testCacheKey,
		LookupTimeout: 30 * time.Millisecond,
	})

	v, err := m.Initialize(context.Background())
	require.NoError(t, err)

	assert.Nil(t, v.Member)
	assert.Equal(t, domain.UserGuest, v.UserType)
	assert.Equal(t, domain.CodeBackendUnreachable, v.Error)
	assert.False(t, v.IsLoading)
}

func TestAuthMachine_RefreshMember(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	dir := newFakeDirectory().withActiveMember("zalo-1")
	m := newTestMachine(idp, dir, newMockCache())

	_, err := m.Initialize(context.Background())
	require.NoError(t, err)

	t.Run("status change is derived", func(t *testing.T) {
		dir.set(func(f *fakeDirectory) {
			f.members["mem-1"] = &domain.Member{ID: "mem-1", Status: domain.MemberLeft}
		})
		v, err := m.RefreshMember(context.Background(), "mem-1")
		require.NoError(t, err)
		assert.Equal(t, domain.MemberLeft, v.Member.Status)
		assert.Equal(t, domain.UserGuest, v.UserType)
		assert.False(t, v.IsMember)
	})

	t.Run("failure keeps previous member", func(t *testing.T) {
		dir.set(func(f *fakeDirectory) { f.memberErr = domain.ErrBackendUnreachable })
		v, err := m.RefreshMember(context.Background(), "mem-1")
		require.NoError(t, err)
		require.NotNil(t, v.Member)
		assert.Equal(t, domain.MemberLeft, v.Member.Status)
		assert.Equal(t, domain.CodeBackendUnreachable, v.Error)
	})

	t.Run("not found keeps previous member", func(t *testing.T) {
		dir.set(func(f *fakeDirectory) {
			f.memberErr = nil
			delete(f.members, "mem-1")
		})
		v, err := m.RefreshMember(context.Background(), "")
		require.NoError(t, err)
		require.NotNil(t, v.Member)
		assert.Equal(t, "mem-1", v.Member.ID)
		assert.Equal(t, domain.CodeMemberNotFound, v.Error)
	})

	t.Run("empty id refreshes linked member", func(t *testing.T) {
		dir.set(func(f *fakeDirectory) {
			f.members["mem-1"] = &domain.Member{ID: "mem-1", Status: domain.MemberActive}
		})
		v, err := m.RefreshMember(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, domain.MemberActive, v.Member.Status)
		assert.True(t, v.IsMember)
		assert.Empty(t, v.Error)
		assert.False(t, v.IsLoading)
	})

	t.Run("other member id is rejected", func(t *testing.T) {
		dir.set(func(f *fakeDirectory) {
			f.members["mem-2"] = &domain.Member{ID: "mem-2", Status: domain.MemberActive}
		})
		before := dir.memberCalls.Load()
		v, err := m.RefreshMember(context.Background(), "mem-2")
		assert.True(t, errors.Is(err, domain.ErrInvalidRequest))
		assert.Equal(t, "mem-1", v.Member.ID)
		assert.Equal(t, before, dir.memberCalls.Load())
	})
}

func TestAuthMachine_RefreshMemberWithoutLinkedAccount(t *testing.T) {
	idp := newFakeIdentity("zalo-guest")
	dir := newFakeDirectory()
	dir.members["mem-other"] = &domain.Member{ID: "mem-other", Status: domain.MemberActive}
	c := newMockCache()
	m := newTestMachine(idp, dir, c)

	_, err := m.Initialize(context.Background())
	require.NoError(t, err)
	saves := c.saves.Load()

	for _, id := range []string{"mem-other", ""} {
		v, err := m.RefreshMember(context.Background(), id)
		assert.True(t, errors.Is(err, domain.ErrInvalidRequest), "member id %q", id)
		assert.Nil(t, v.Member)
		assert.False(t, v.IsMember)
		assert.Equal(t, domain.UserGuest, v.UserType)
	}
	assert.Zero(t, dir.memberCalls.Load())
	assert.Equal(t, saves, c.saves.Load())
}

func TestAuthMachine_AccountFailureSkipsMemberLookup(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	dir := newFakeDirectory().withActiveMember("zalo-1")
	m := newTestMachine(idp, dir, newMockCache())

	v, err := m.Initialize(context.Background())
	require.NoError(t, err)
	require.True(t, v.IsMember)

	dir.set(func(f *fakeDirectory) {
		f.accountErr = domain.ErrBackendUnreachable
		f.members["mem-1"] = &domain.Member{ID: "mem-1", Status: domain.MemberLeft}
	})
	calls := dir.memberCalls.Load()

	v, err = m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, calls, dir.memberCalls.Load())
	require.NotNil(t, v.Member)
	assert.Equal(t, domain.MemberActive, v.Member.Status)
	assert.True(t, v.IsMember)
	assert.Equal(t, domain.CodeBackendUnreachable, v.Error)
	assert.False(t, v.IsLoading)
}

func TestAuthMachine_InitializedIsLoadingUntilReady(t *testing.T) {
	for i := 0; i < 100; i++ {
		m := newTestMachine(newFakeIdentity("zalo-1"), newFakeDirectory().withActiveMember("zalo-1"), newMockCache())

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = m.Initialize(context.Background())
		}()

		for running := true; running; {
			select {
			case <-done:
				running = false
			default:
			}
			m.mu.RLock()
			started, idle, state := m.initialized, m.inflight == 0, m.view.State
			m.mu.RUnlock()
			if started && idle {
				require.Equal(t, domain.StateReady, state, "iteration %d", i)
			}
		}
	}
}

func TestAuthMachine_LogoutResetsCompletely(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	idp.grant = []domain.Scope{domain.ScopeBasicInfo}
	dir := newFakeDirectory().withActiveMember("zalo-1")
	c := newMockCache()
	m := newTestMachine(idp, dir, c)

	_, err := m.RequestProfilePermission(context.Background(), []domain.Scope{domain.ScopeBasicInfo})
	require.NoError(t, err)
	_, cached := c.Load(context.Background(), testCacheKey)
	require.True(t, cached)

	v := m.Logout(context.Background())

	assert.Equal(t, domain.GuestView(), v)
	assert.Equal(t, domain.GuestView(), m.Snapshot())
	_, cached = c.Load(context.Background(), testCacheKey)
	assert.False(t, cached)

	// A new initialize after logout resolves again.
	v, err = m.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.UserMember, v.UserType)
	assert.False(t, v.HasProfilePermission)
	assert.Equal(t, int32(2), dir.accountCalls.Load())
}

func TestAuthMachine_LogoutDropsInFlightResults(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	dir := newFakeDirectory().withActiveMember("zalo-1")
	dir.accountGate = make(chan struct{})
	c := newMockCache()
	m := newTestMachine(idp, dir, c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Initialize(context.Background())
	}()
	<-dir.accountStarted

	m.Logout(context.Background())
	close(dir.accountGate)
	<-done

	v := m.Snapshot()
	assert.Equal(t, domain.UserGuest, v.UserType)
	assert.Nil(t, v.Member)
	assert.False(t, v.IsAuthenticated)
	_, cached := c.Load(context.Background(), testCacheKey)
	assert.False(t, cached)
}

func TestAuthMachine_SubscribeReceivesLatestSnapshot(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	dir := newFakeDirectory().withActiveMember("zalo-1")
	m := newTestMachine(idp, dir, newMockCache())

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	first := <-ch
	assert.Equal(t, domain.StateUninitialized, first.State)

	_, err := m.Initialize(context.Background())
	require.NoError(t, err)

	latest := <-ch
	assert.Equal(t, domain.StateReady, latest.State)
	assert.True(t, latest.IsMember)

	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
}

func TestAuthMachine_SnapshotIsImmutable(t *testing.T) {
	idp := newFakeIdentity("zalo-1")
	dir := newFakeDirectory().withActiveMember("zalo-1")
	m := newTestMachine(idp, dir, newMockCache())

	v, err := m.Initialize(context.Background())
	require.NoError(t, err)

	v.Member.Status = domain.MemberInactive
	v.IsAdmin = true

	fresh := m.Snapshot()
	assert.Equal(t, domain.MemberActive, fresh.Member.Status)
	assert.False(t, fresh.IsAdmin)
}
