package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"yba-auth/internal/domain"
	ybaotel "yba-auth/utils/otel"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const defaultLookupTimeout = 10 * time.Second

// AuthMachineConfig configures an AuthMachine.
type AuthMachineConfig struct {
	// CacheKey is the session cache key owned by this machine.
	CacheKey string
	// LookupTimeout bounds each identity and directory call.
	LookupTimeout time.Duration
	Logger        *slog.Logger
	Metrics       *ybaotel.AuthMetrics
}

// AuthMachine owns the AuthView of one mini app session. Every mutation of
// the view goes through its transitions; consumers only read snapshots.
type AuthMachine struct {
	identity  domain.IdentityProvider
	directory domain.Directory
	cache     domain.SessionCache
	cacheKey  string
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *ybaotel.AuthMetrics
	tracer    trace.Tracer

	group singleflight.Group

	mu          sync.RWMutex
	view        domain.AuthView
	grants      domain.Grants
	phoneToken  string
	initialized bool
	// epoch is bumped by Logout; results of work started in an older epoch
	// are dropped.
	epoch    uint64
	inflight int
	idle     chan struct{}
	subs     map[int]chan domain.AuthView
	nextSub  int
}

// NewAuthMachine creates a machine in the Uninitialized state.
func NewAuthMachine(idp domain.IdentityProvider, dir domain.Directory, c domain.SessionCache, cfg AuthMachineConfig) *AuthMachine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupTimeout
	}
	return &AuthMachine{
		identity:  idp,
		directory: dir,
		cache:     c,
		cacheKey:  cfg.CacheKey,
		timeout:   cfg.LookupTimeout,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		tracer:    otel.Tracer("yba-auth/usecase"),
		view:      domain.GuestView(),
		subs:      make(map[int]chan domain.AuthView),
	}
}

// Snapshot returns the current AuthView.
func (m *AuthMachine) Snapshot() domain.AuthView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view.Clone()
}

// Subscribe returns a channel that receives the latest AuthView after every
// change. Slow readers only see the most recent snapshot. The returned func
// unsubscribes and closes the channel.
func (m *AuthMachine) Subscribe() (<-chan domain.AuthView, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan domain.AuthView, 1)
	ch <- m.view.Clone()
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if sub, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(sub)
			}
		})
	}
}

// Settled waits until no identity or directory resolution is in flight.
// Open permission dialogs are not waited for.
func (m *AuthMachine) Settled(ctx context.Context) (domain.AuthView, error) {
	for {
		m.mu.RLock()
		if m.inflight == 0 {
			v := m.view.Clone()
			m.mu.RUnlock()
			return v, nil
		}
		idle := m.idle
		m.mu.RUnlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return m.Snapshot(), ctx.Err()
		}
	}
}

// Initialize resolves identity, account and member once. Concurrent and
// repeated calls share the first resolution. Only identity failures are
// returned as errors; directory failures are reported through the view.
func (m *AuthMachine) Initialize(ctx context.Context) (domain.AuthView, error) {
	m.mu.RLock()
	epoch := m.epoch
	m.mu.RUnlock()

	_, err, shared := m.group.Do("initialize:"+strconv.FormatUint(epoch, 10), func() (any, error) {
		m.mu.Lock()
		if m.initialized || m.epoch != epoch {
			m.mu.Unlock()
			return nil, nil
		}
		m.initialized = true
		m.beginWorkLocked()
		m.mu.Unlock()
		defer m.endWork()

		return nil, m.resolveAll(context.WithoutCancel(ctx), epoch, true)
	})
	if shared {
		m.logger.DebugContext(ctx, "initialize joined in-flight resolution")
	}
	return m.Snapshot(), err
}

// Refresh re-resolves the account and member for the known identity,
// bypassing the session cache. Without an identity it performs a full
// resolution.
func (m *AuthMachine) Refresh(ctx context.Context) (domain.AuthView, error) {
	m.mu.Lock()
	epoch := m.epoch
	id := m.view.IdentityID
	m.initialized = true
	m.beginWorkLocked()
	m.mu.Unlock()

	var err error
	if id == "" {
		err = m.resolveAll(context.WithoutCancel(ctx), epoch, false)
	} else {
		m.resolveDirectory(ctx, epoch, domain.Identity{ID: id})
	}
	m.endWork()
	return m.Snapshot(), err
}

// RefreshMember re-fetches the member linked to the session's account. An
// empty memberID means the linked member; any other id must match it or
// ErrInvalidRequest is returned and the view is left untouched. On failure
// the previous member is kept and the view error is set. Concurrent
// refreshes are not deduplicated; the one that finishes last wins.
func (m *AuthMachine) RefreshMember(ctx context.Context, memberID string) (domain.AuthView, error) {
	m.mu.Lock()
	epoch := m.epoch
	account := m.view.Account
	if !account.HasMember() {
		m.mu.Unlock()
		return m.Snapshot(), fmt.Errorf("%w: account has no linked member", domain.ErrInvalidRequest)
	}
	if memberID == "" {
		memberID = account.MemberID
	}
	if memberID != account.MemberID {
		m.mu.Unlock()
		return m.Snapshot(), fmt.Errorf("%w: member %q is not linked to this account", domain.ErrInvalidRequest, memberID)
	}
	m.beginWorkLocked()
	m.mu.Unlock()

	m.fetchLinkedMember(ctx, epoch, memberID)
	m.endWork()
	return m.Snapshot(), nil
}

// fetchLinkedMember looks up memberID and commits it if the account still
// links it.
func (m *AuthMachine) fetchLinkedMember(ctx context.Context, epoch uint64, memberID string) {
	ctx, span := m.tracer.Start(ctx, "auth.refresh_member", trace.WithAttributes(attribute.String("member.id", memberID)))
	defer span.End()

	member, err := m.lookupMember(ctx, memberID)
	relinked := false
	m.commit(epoch, func(v *domain.AuthView) {
		if !v.Account.HasMember() || v.Account.MemberID != memberID {
			relinked = true
			return
		}
		if err != nil {
			v.Error = domain.ErrorCode(err)
			return
		}
		v.Member = member
		v.Error = ""
	})
	switch {
	case relinked:
		m.logger.DebugContext(ctx, "account relinked during member refresh, dropping result", "member_id", memberID)
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		m.logger.WarnContext(ctx, "member refresh failed, keeping previous member", "member_id", memberID, "error", err)
	default:
		m.saveCache(ctx, epoch)
	}
}

// RequestProfilePermission asks the platform for the given scopes. Granted
// scopes are merged one by one; any grant triggers a new account/member
// resolution. If nothing is granted the view error becomes
// "permission_denied" and ErrPermissionDenied is returned. There is no retry.
func (m *AuthMachine) RequestProfilePermission(ctx context.Context, scopes []domain.Scope) (domain.AuthView, error) {
	requested := domain.Grants{}.Missing(scopes...)
	if len(requested) == 0 {
		return m.Snapshot(), fmt.Errorf("%w: no scopes requested", domain.ErrInvalidRequest)
	}

	ctx, span := m.tracer.Start(ctx, "auth.request_permission")
	defer span.End()

	identity, err := m.ensureIdentity(ctx)
	if err != nil {
		return m.Snapshot(), err
	}

	m.mu.Lock()
	epoch := m.epoch
	m.view.State = domain.StatePermissionPending
	m.publishLocked()
	m.mu.Unlock()

	granted, err := m.identity.RequestPermission(ctx, requested)
	granted = intersect(requested, granted)
	if err != nil && !errors.Is(err, domain.ErrPermissionDenied) {
		m.logger.WarnContext(ctx, "permission request failed", "error", err)
	}

	if len(granted) == 0 {
		m.metrics.RecordPermission(ctx, "denied")
		m.commit(epoch, func(v *domain.AuthView) {
			v.State = domain.StateReady
			v.Error = domain.CodePermissionDenied
		})
		return m.Snapshot(), domain.ErrPermissionDenied
	}
	if len(granted) < len(requested) {
		m.metrics.RecordPermission(ctx, "partial")
	} else {
		m.metrics.RecordPermission(ctx, "granted")
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return m.Snapshot(), nil
	}
	m.grants = m.grants.With(granted...)
	m.mu.Unlock()

	profile := m.fetchGrantedProfile(ctx, granted)

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return m.Snapshot(), nil
	}
	if profile != nil {
		m.view.Profile = profile
	}
	m.view.Error = ""
	m.applyGrantsLocked()
	m.initialized = true
	m.beginWorkLocked()
	m.mu.Unlock()

	m.resolveDirectory(ctx, epoch, identity)
	m.endWork()
	return m.Snapshot(), nil
}

// ActivateGuestSession resolves the identity without asking for consent and
// without touching the directory, so screens can render as guest.
func (m *AuthMachine) ActivateGuestSession(ctx context.Context) (domain.AuthView, error) {
	if v := m.Snapshot(); v.IsAuthenticated {
		return v, nil
	}
	_, err := m.ensureIdentity(ctx)
	return m.Snapshot(), err
}

// Logout clears the session cache and resets the view to guest defaults.
// The platform identity itself is not revoked.
func (m *AuthMachine) Logout(ctx context.Context) domain.AuthView {
	m.mu.Lock()
	m.epoch++
	m.initialized = false
	m.grants = domain.Grants{}
	m.phoneToken = ""
	m.view = domain.GuestView()
	m.publishLocked()
	v := m.view.Clone()
	m.mu.Unlock()

	m.cache.Clear(ctx, m.cacheKey)
	m.logger.InfoContext(ctx, "session logged out")
	return v
}

// PhoneToken returns the phone token obtained with the phone scope, if any.
func (m *AuthMachine) PhoneToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phoneToken
}

// resolveAll runs identity → cache → account → member.
func (m *AuthMachine) resolveAll(ctx context.Context, epoch uint64, useCache bool) error {
	ctx, span := m.tracer.Start(ctx, "auth.resolve")
	defer span.End()

	m.beginWork()
	defer m.endWork()

	identity, err := m.resolveIdentity(ctx, epoch)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.String("identity.id", identity.ID))

	if useCache && m.applyCache(ctx, epoch, identity) {
		return nil
	}

	m.mu.RLock()
	needProfile := m.grants.BasicInfo && m.view.Profile == nil
	m.mu.RUnlock()
	if needProfile {
		profile := m.fetchGrantedProfile(ctx, []domain.Scope{domain.ScopeBasicInfo})
		m.commit(epoch, func(v *domain.AuthView) {
			if profile != nil {
				v.Profile = profile
			}
		})
	}

	m.resolveDirectory(ctx, epoch, identity)
	return nil
}

// ensureIdentity returns the known identity or resolves it once.
func (m *AuthMachine) ensureIdentity(ctx context.Context) (domain.Identity, error) {
	m.mu.RLock()
	id := m.view.IdentityID
	epoch := m.epoch
	m.mu.RUnlock()
	if id != "" {
		return domain.Identity{ID: id}, nil
	}

	v, err, _ := m.group.Do("identity:"+strconv.FormatUint(epoch, 10), func() (any, error) {
		m.beginWork()
		defer m.endWork()

		identity, err := m.resolveIdentity(context.WithoutCancel(ctx), epoch)
		if err != nil {
			return nil, err
		}
		m.commit(epoch, func(v *domain.AuthView) {
			if v.State == domain.StateResolvingIdentity {
				v.State = domain.StateReady
			}
		})
		return identity, nil
	})
	if err != nil {
		return domain.Identity{}, err
	}
	return v.(domain.Identity), nil
}

func (m *AuthMachine) resolveIdentity(ctx context.Context, epoch uint64) (domain.Identity, error) {
	m.commit(epoch, func(v *domain.AuthView) {
		v.State = domain.StateResolvingIdentity
	})

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	identity, err := m.identity.GetIdentity(ctx)
	if err == nil && (identity == nil || identity.ID == "") {
		err = errors.New("empty identity")
	}
	if err != nil {
		m.metrics.RecordResolution(ctx, "identity", "error")
		m.logger.ErrorContext(ctx, "identity resolution failed", "error", err)
		m.commit(epoch, func(v *domain.AuthView) {
			*v = domain.GuestView()
			v.State = domain.StateError
			v.Error = domain.CodeIdentityUnavailable
		})
		return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrIdentityUnavailable, err)
	}

	m.metrics.RecordResolution(ctx, "identity", "ok")
	m.commit(epoch, func(v *domain.AuthView) {
		v.IdentityID = identity.ID
		v.IsAuthenticated = true
	})
	return *identity, nil
}

// applyCache restores a fresh fragment for identity. It reports whether the
// view became Ready from the cache.
func (m *AuthMachine) applyCache(ctx context.Context, epoch uint64, identity domain.Identity) bool {
	fragment, found := m.cache.Load(ctx, m.cacheKey)
	hit := found && fragment.IdentityID == identity.ID
	m.metrics.RecordCacheLoad(ctx, hit)
	if !hit {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return true
	}
	m.grants = fragment.Grants
	m.view.Profile = fragment.Profile
	m.view.Account = fragment.Account
	m.view.Member = fragment.Member
	m.view.State = domain.StateReady
	m.view.Error = ""
	m.applyGrantsLocked()
	m.view.Derive()
	m.publishLocked()
	m.logger.DebugContext(ctx, "auth view restored from session cache", "identity_id", identity.ID)
	return true
}

// resolveDirectory resolves account then member for identity. Calls for the
// same identity share one flight.
func (m *AuthMachine) resolveDirectory(ctx context.Context, epoch uint64, identity domain.Identity) {
	key := "resolve:" + strconv.FormatUint(epoch, 10) + ":" + identity.ID
	_, _, _ = m.group.Do(key, func() (any, error) {
		m.resolveAccountAndMember(context.WithoutCancel(ctx), epoch, identity)
		return nil, nil
	})
}

func (m *AuthMachine) resolveAccountAndMember(ctx context.Context, epoch uint64, identity domain.Identity) {
	ctx, span := m.tracer.Start(ctx, "auth.resolve_directory", trace.WithAttributes(attribute.String("identity.id", identity.ID)))
	defer span.End()

	m.beginWork()
	defer m.endWork()

	m.mu.RLock()
	prevAccount := m.view.Account
	prevMember := m.view.Member
	m.mu.RUnlock()

	m.commit(epoch, func(v *domain.AuthView) { v.State = domain.StateResolvingAccount })

	account, accountErr := m.lookupAccount(ctx, identity)
	var resolveErr error
	switch {
	case accountErr == nil:
	case errors.Is(accountErr, domain.ErrAccountNotFound):
		account = nil
	default:
		account = prevAccount
		resolveErr = accountErr
	}

	var member *domain.Member
	switch {
	case resolveErr != nil:
		member = prevMember
	case account.HasMember():
		m.commit(epoch, func(v *domain.AuthView) {
			v.State = domain.StateResolvingMember
			v.Account = account
		})
		var memberErr error
		member, memberErr = m.lookupMember(ctx, account.MemberID)
		switch {
		case memberErr == nil:
		case errors.Is(memberErr, domain.ErrMemberNotFound):
			member = nil
		default:
			member = prevMember
			resolveErr = memberErr
		}
	}

	m.commit(epoch, func(v *domain.AuthView) {
		v.Account = account
		v.Member = member
		v.State = domain.StateReady
		v.Error = ""
		if resolveErr != nil {
			v.Error = domain.CodeBackendUnreachable
		}
	})

	if resolveErr != nil {
		span.SetStatus(codes.Error, resolveErr.Error())
		m.logger.WarnContext(ctx, "directory resolution failed, keeping last known view",
			"identity_id", identity.ID, "error", resolveErr)
		return
	}
	m.saveCache(ctx, epoch)
}

func (m *AuthMachine) lookupAccount(ctx context.Context, identity domain.Identity) (*domain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	account, err := m.directory.ResolveAccount(ctx, identity)
	if err == nil && account == nil {
		err = domain.ErrAccountNotFound
	}
	m.metrics.RecordResolution(ctx, "account", outcome(err))
	return account, err
}

func (m *AuthMachine) lookupMember(ctx context.Context, memberID string) (*domain.Member, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	member, err := m.directory.ResolveMember(ctx, memberID)
	if err == nil && member == nil {
		err = domain.ErrMemberNotFound
	}
	m.metrics.RecordResolution(ctx, "member", outcome(err))
	return member, err
}

// fetchGrantedProfile reads the profile and phone token for granted scopes.
// A scope the platform refuses to serve is revoked locally.
func (m *AuthMachine) fetchGrantedProfile(ctx context.Context, granted []domain.Scope) *domain.Profile {
	var profile *domain.Profile
	for _, s := range granted {
		switch s {
		case domain.ScopeBasicInfo:
			p, err := m.identity.GetProfile(ctx)
			if err != nil {
				m.logger.WarnContext(ctx, "profile unavailable after grant", "error", err)
				if errors.Is(err, domain.ErrPermissionDenied) {
					m.revoke(domain.ScopeBasicInfo)
				}
				continue
			}
			profile = p
		case domain.ScopePhone:
			token, err := m.identity.GetPhoneToken(ctx)
			if err != nil {
				m.logger.WarnContext(ctx, "phone token unavailable after grant", "error", err)
				if errors.Is(err, domain.ErrPermissionDenied) {
					m.revoke(domain.ScopePhone)
				}
				continue
			}
			m.mu.Lock()
			m.phoneToken = token
			m.mu.Unlock()
		}
	}
	return profile
}

func (m *AuthMachine) revoke(s domain.Scope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants = m.grants.Without(s)
	m.applyGrantsLocked()
}

func (m *AuthMachine) saveCache(ctx context.Context, epoch uint64) {
	m.mu.RLock()
	if m.epoch != epoch || m.view.IdentityID == "" {
		m.mu.RUnlock()
		return
	}
	v := m.view.Clone()
	fragment := domain.Fragment{
		IdentityID: v.IdentityID,
		Grants:     m.grants,
		Profile:    v.Profile,
		Account:    v.Account,
		Member:     v.Member,
	}
	m.mu.RUnlock()

	m.cache.Save(ctx, m.cacheKey, fragment)
}

// commit applies fn to the view and publishes it, unless a Logout happened
// since epoch. Derived fields are always recomputed.
func (m *AuthMachine) commit(epoch uint64, fn func(v *domain.AuthView)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return false
	}
	fn(&m.view)
	m.view.Derive()
	m.publishLocked()
	return true
}

func (m *AuthMachine) applyGrantsLocked() {
	m.view.HasProfilePermission = m.grants.BasicInfo
	m.view.HasPhonePermission = m.grants.Phone
}

func (m *AuthMachine) beginWork() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beginWorkLocked()
}

// beginWorkLocked marks a resolution as in flight. m.mu must be held.
func (m *AuthMachine) beginWorkLocked() {
	if m.inflight == 0 {
		m.idle = make(chan struct{})
	}
	m.inflight++
	m.publishLocked()
}

func (m *AuthMachine) endWork() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight--
	if m.inflight == 0 {
		close(m.idle)
	}
	m.publishLocked()
}

// publishLocked pushes the current view to subscribers. m.mu must be held.
func (m *AuthMachine) publishLocked() {
	m.view.IsLoading = m.inflight > 0
	snap := m.view.Clone()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func intersect(requested, granted []domain.Scope) []domain.Scope {
	var out []domain.Scope
	for _, r := range requested {
		for _, g := range granted {
			if r == g {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrMemberNotFound):
		return "not_found"
	default:
		return "error"
	}
}
