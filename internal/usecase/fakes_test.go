package usecase

import (
	"context"
	"sync"
	"sync/atomic"

	"yba-auth/internal/domain"
)

// fakeIdentity implements domain.IdentityProvider for testing.
type fakeIdentity struct {
	mu         sync.Mutex
	id         string
	idErr      error
	profile    *domain.Profile
	profileErr error
	phoneToken string
	grant      []domain.Scope
	permErr    error
	permGate   chan struct{}

	identityCalls   atomic.Int32
	profileCalls    atomic.Int32
	permissionCalls atomic.Int32
	lastRequested   []domain.Scope
}

func newFakeIdentity(id string) *fakeIdentity {
	return &fakeIdentity{
		id:         id,
		profile:    &domain.Profile{ID: id, Name: "Tran Thi B", Avatar: "https://avatar.example/b.png"},
		phoneToken: "phone-token-1",
	}
}

func (f *fakeIdentity) GetIdentity(_ context.Context) (*domain.Identity, error) {
	f.identityCalls.Add(1)
	if f.idErr != nil {
		return nil, f.idErr
	}
	return &domain.Identity{ID: f.id}, nil
}

func (f *fakeIdentity) GetProfile(_ context.Context) (*domain.Profile, error) {
	f.profileCalls.Add(1)
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	p := *f.profile
	return &p, nil
}

func (f *fakeIdentity) GetPhoneToken(_ context.Context) (string, error) {
	return f.phoneToken, nil
}

func (f *fakeIdentity) RequestPermission(ctx context.Context, scopes []domain.Scope) ([]domain.Scope, error) {
	f.permissionCalls.Add(1)
	f.mu.Lock()
	f.lastRequested = append([]domain.Scope(nil), scopes...)
	gate := f.permGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.permErr != nil {
		return nil, f.permErr
	}
	return f.grant, nil
}

func (f *fakeIdentity) requested() []domain.Scope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRequested
}

// fakeDirectory implements domain.Directory for testing.
type fakeDirectory struct {
	mu         sync.Mutex
	account    *domain.Account
	accountErr error
	members    map[string]*domain.Member
	memberErr  error

	accountGate chan struct{}
	memberGate  chan struct{}

	accountStarted chan struct{}
	memberStarted  chan struct{}
	accountOnce    sync.Once
	memberOnce     sync.Once

	accountCalls atomic.Int32
	memberCalls  atomic.Int32
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		members:        make(map[string]*domain.Member),
		accountStarted: make(chan struct{}),
		memberStarted:  make(chan struct{}),
	}
}

func (f *fakeDirectory) withActiveMember(zaloID string) *fakeDirectory {
	f.account = &domain.Account{ID: "acc-1", ZaloID: zaloID, Type: domain.AccountMember, MemberID: "mem-1"}
	f.members["mem-1"] = &domain.Member{ID: "mem-1", Name: "Tran Thi B", Status: domain.MemberActive, Chapter: "HCM"}
	return f
}

func (f *fakeDirectory) ResolveAccount(ctx context.Context, identity domain.Identity) (*domain.Account, error) {
	f.accountCalls.Add(1)
	f.accountOnce.Do(func() { close(f.accountStarted) })
	if f.accountGate != nil {
		select {
		case <-f.accountGate:
		case <-ctx.Done():
			return nil, domain.ErrBackendUnreachable
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	if f.account == nil || f.account.ZaloID != identity.ID {
		return nil, domain.ErrAccountNotFound
	}
	a := *f.account
	return &a, nil
}

func (f *fakeDirectory) ResolveMember(ctx context.Context, memberID string) (*domain.Member, error) {
	f.memberCalls.Add(1)
	f.memberOnce.Do(func() { close(f.memberStarted) })
	if f.memberGate != nil {
		select {
		case <-f.memberGate:
		case <-ctx.Done():
			return nil, domain.ErrBackendUnreachable
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memberErr != nil {
		return nil, f.memberErr
	}
	m, ok := f.members[memberID]
	if !ok {
		return nil, domain.ErrMemberNotFound
	}
	c := *m
	return &c, nil
}

func (f *fakeDirectory) set(fn func(f *fakeDirectory)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// mockCache implements domain.SessionCache for testing.
type mockCache struct {
	mu      sync.Mutex
	entries map[string]domain.Fragment
	saves   atomic.Int32
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string]domain.Fragment)}
}

func (m *mockCache) Load(_ context.Context, key string) (*domain.Fragment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	return &f, true
}

func (m *mockCache) Save(_ context.Context, key string, fragment domain.Fragment) {
	m.saves.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = fragment
}

func (m *mockCache) Clear(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}
