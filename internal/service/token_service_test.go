package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/config"
	domainErrors "github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/errors"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/models"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/governor"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/infrastructure/security"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/utils/backoff"
)

// --- In-memory fakes ---

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session
	failWith error
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[uuid.UUID]*models.Session)}
}

func (r *memSessionRepo) Create(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	copied := *session
	r.sessions[session.ID] = &copied
	return nil
}

func (r *memSessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	session, ok := r.sessions[id]
	if !ok {
		return nil, domainErrors.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (r *memSessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	delete(r.sessions, id)
	return nil
}

func (r *memSessionRepo) DeleteByUserID(ctx context.Context, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, session := range r.sessions {
		if session.UserID == userID {
			delete(r.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *memSessionRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Session
	for _, session := range r.sessions {
		if session.UserID == userID {
			copied := *session
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var deleted int64
	for id, session := range r.sessions {
		if session.IsExpired(now) {
			delete(r.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *memSessionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

type memSessionCache struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session
	failWith error
	sets     int
}

func newMemSessionCache() *memSessionCache {
	return &memSessionCache{sessions: make(map[uuid.UUID]*models.Session)}
}

func (c *memSessionCache) Set(ctx context.Context, session *models.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	copied := *session
	c.sessions[session.ID] = &copied
	c.sets++
	return nil
}

func (c *memSessionCache) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return nil, c.failWith
	}
	session, ok := c.sessions[id]
	if !ok {
		return nil, domainErrors.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (c *memSessionCache) Delete(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
	return nil
}

func (c *memSessionCache) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, session := range c.sessions {
		if session.UserID == userID {
			delete(c.sessions, id)
		}
	}
	return nil
}

type memRevocations struct {
	mu       sync.Mutex
	revoked  map[string]string
	failWith error
}

func newMemRevocations() *memRevocations {
	return &memRevocations{revoked: make(map[string]string)}
}

func (r *memRevocations) Revoke(ctx context.Context, tokenID string, ttl time.Duration, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	if ttl <= 0 {
		return nil
	}
	r.revoked[tokenID] = reason
	return nil
}

func (r *memRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return false, r.failWith
	}
	_, ok := r.revoked[tokenID]
	return ok, nil
}

func (r *memRevocations) reason(tokenID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revoked[tokenID]
}

type fakeIdentity struct {
	users map[uuid.UUID]*models.User
}

func (f *fakeIdentity) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, domainErrors.ErrUserNotFound
	}
	return user, nil
}

type fakeLimiter struct {
	allow bool
	err   error
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return f.allow, f.err
}

func (f *fakeLimiter) Reset(ctx context.Context, key string) error { return nil }

// --- Test fixture ---

type tokenFixture struct {
	svc         *TokenService
	repo        *memSessionRepo
	cache       *memSessionCache
	revocations *memRevocations
	limiter     *fakeLimiter
	breaker     *governor.CircuitBreaker
	jwt         *security.JWTManager
	clock       *clock.Mock
	userID      uuid.UUID
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()

	// Сроки сессий сверяются с настоящими часами, поэтому симулируемые
	// часы стартуют от текущего момента, а не от фиксированной даты
	mockClock := clock.NewMock()
	mockClock.Set(time.Now().Truncate(time.Second))

	jwtManager := security.NewJWTManager(config.JWTConfig{
		Secret:          "test-secret",
		Issuer:          "session-service",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 720 * time.Hour,
	}).WithNowFunc(mockClock.Now)

	repo := newMemSessionRepo()
	cache := newMemSessionCache()
	revocations := newMemRevocations()
	limiter := &fakeLimiter{allow: true}
	userID := uuid.New()
	identity := &fakeIdentity{users: map[uuid.UUID]*models.User{
		userID: {ID: userID, Role: "user", IsVerified: true},
	}}

	breaker := governor.NewCircuitBreaker("cache-test",
		5, 10*time.Second, time.Second, clock.New(), zap.NewNop())
	breaker.MarkBenign(domainErrors.ErrSessionNotFound)

	retry := backoff.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	svc := NewTokenService(
		jwtManager, repo, cache, revocations, identity, limiter, breaker,
		retry,
		config.RateLimitConfig{
			Enabled:             true,
			ValidationsPerToken: 60,
			ValidationsWindow:   time.Minute,
		},
		zap.NewNop(),
	)

	return &tokenFixture{
		svc:         svc,
		repo:        repo,
		cache:       cache,
		revocations: revocations,
		limiter:     limiter,
		breaker:     breaker,
		jwt:         jwtManager,
		clock:       mockClock,
		userID:      userID,
	}
}

func (f *tokenFixture) issue(t *testing.T) *models.IssueResult {
	t.Helper()
	result, err := f.svc.Issue(context.Background(), f.userID.String(), models.SessionMetadata{
		DeviceInfo: "test-device",
		IPAddress:  "127.0.0.1",
	})
	require.NoError(t, err)
	return result
}

// --- Issue ---

func TestIssue_CreatesSessionAndDistinctTokenIDs(t *testing.T) {
	f := newTokenFixture(t)

	result := f.issue(t)

	assert.NotEmpty(t, result.Pair.AccessToken)
	assert.NotEmpty(t, result.Pair.RefreshToken)
	assert.NotEqual(t, result.Pair.AccessToken, result.Pair.RefreshToken)
	assert.False(t, result.CacheDegraded)
	assert.Equal(t, 1, f.repo.count())
	assert.Equal(t, 1, f.cache.sets)

	accessClaims, err := f.jwt.Parse(result.Pair.AccessToken)
	require.NoError(t, err)
	refreshClaims, err := f.jwt.Parse(result.Pair.RefreshToken)
	require.NoError(t, err)

	assert.Equal(t, accessClaims.SessionID, refreshClaims.SessionID)
	assert.NotEqual(t, accessClaims.ID, refreshClaims.ID)
	assert.Equal(t, string(models.AccessToken), accessClaims.TokenType)
	assert.Equal(t, string(models.RefreshToken), refreshClaims.TokenType)
}

func TestIssue_InvalidSubject(t *testing.T) {
	f := newTokenFixture(t)

	_, err := f.svc.Issue(context.Background(), "not-a-uuid", models.SessionMetadata{})
	assert.ErrorIs(t, err, domainErrors.ErrInvalidSubject)

	_, err = f.svc.Issue(context.Background(), uuid.Nil.String(), models.SessionMetadata{})
	assert.ErrorIs(t, err, domainErrors.ErrInvalidSubject)
}

func TestIssue_UnknownSubject(t *testing.T) {
	f := newTokenFixture(t)

	_, err := f.svc.Issue(context.Background(), uuid.New().String(), models.SessionMetadata{})
	assert.ErrorIs(t, err, domainErrors.ErrSubjectNotFound)
	assert.Equal(t, 0, f.repo.count())
}

func TestIssue_PersistFailureAborts(t *testing.T) {
	f := newTokenFixture(t)
	f.repo.failWith = errors.New("connection refused")

	_, err := f.svc.Issue(context.Background(), f.userID.String(), models.SessionMetadata{})
	assert.ErrorIs(t, err, domainErrors.ErrSessionPersistFailed)
	assert.Equal(t, 0, f.cache.sets)
}

func TestIssue_CacheFailureDegradesButSucceeds(t *testing.T) {
	f := newTokenFixture(t)
	f.cache.failWith = errors.New("redis down")

	result := f.issue(t)
	assert.True(t, result.CacheDegraded)
	assert.Equal(t, 1, f.repo.count())
}

// --- ValidateAccess ---

func TestValidateAccess_HappyPath(t *testing.T) {
	f := newTokenFixture(t)
	result := f.issue(t)

	validation := f.svc.ValidateAccess(context.Background(), result.Pair.AccessToken)
	require.True(t, validation.Valid)
	assert.Equal(t, f.userID.String(), validation.Claims.UserID)
	assert.Equal(t, result.SessionID, validation.Claims.SessionID)
}

func TestValidateAccess_RejectionReasons(t *testing.T) {
	f := newTokenFixture(t)
	result := f.issue(t)

	tests := []struct {
		name   string
		token  string
		setup  func()
		reason models.ValidationReason
	}{
		{
			name:   "empty token",
			token:  "",
			reason: models.ReasonInvalidFormat,
		},
		{
			name:   "not a jwt",
			token:  "garbage-without-dots",
			reason: models.ReasonInvalidFormat,
		},
		{
			name:   "tampered signature",
			token:  result.Pair.AccessToken + "x",
			reason: models.ReasonMalformed,
		},
		{
			name:   "refresh token presented as access",
			token:  result.Pair.RefreshToken,
			reason: models.ReasonWrongTokenType,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setup != nil {
				tc.setup()
			}
			validation := f.svc.ValidateAccess(context.Background(), tc.token)
			assert.False(t, validation.Valid)
			assert.Equal(t, tc.reason, validation.Reason)
		})
	}
}

func TestValidateAccess_ExpiredToken(t *testing.T) {
	f := newTokenFixture(t)
	result := f.issue(t)

	f.clock.Add(16 * time.Minute)

	validation := f.svc.ValidateAccess(context.Background(), result.Pair.AccessToken)
	assert.False(t, validation.Valid)
	assert.Equal(t, models.ReasonExpired, validation.Reason)
}

func TestValidateAccess_RevokedToken(t *testing.T) {
	f := newTokenFixture(t)
	result := f.issue(t)

	claims, err := f.jwt.Parse(result.Pair.AccessToken)
	require.NoError(t, err)
	require.NoError(t, f.revocations.Revoke(context.Background(), claims.ID, time.Hour, "test"))

	validation := f.svc.ValidateAccess(context.Background(), result.Pair.AccessToken)
	assert.False(t, validation.Valid)
	assert.Equal(t, models.ReasonRevoked, validation.Reason)
}

func TestValidateAccess_SessionGone(t *testing.T) {
	f := newTokenFixture(t)
	result := f.issue(t)

	sessionID := uuid.MustParse(result.SessionID)
	require.NoError(t, f.cache.Delete(context.Background(), sessionID))
	require.NoError(t, f.repo.Delete(context.Background(), sessionID))

	validation := f.svc.ValidateAccess(context.Background(), result.Pair.AccessToken)
	assert.False(t, validation.Valid)
	assert.Equal(t, models.ReasonSessionNotFound, validation.Reason)
}

func TestValidateAccess_CacheMissFallsBackToStore(t *testing.T) {
	f := newTokenFixture(t)
	result := f.issue(t)

	// Промах кэша не авторитетен: строка в хранилище еще жива
	require.NoError(t, f.cache.Delete(context.Background(), uuid.MustParse(result.SessionID)))

	validation := f.svc.ValidateAccess(context.Background(), result.Pair.AccessToken)
	assert.True(t, validation.Valid)
}

func TestLookupSession_RepeatedCacheMissesKeepBreakerClosed(t *testing.T) {
	f := newTokenFixture(t)
	result := f.issue(t)

	// Зеркала в кэше нет, но Redis жив: промахи не должны копиться как
	// сбои зависимости и отключать валидацию целиком
	require.NoError(t, f.cache.Delete(context.Background(), uuid.MustParse(result.SessionID)))

	for i := 0; i < 8; i++ {
		session, err := f.svc.lookupSession(context.Background(), result.SessionID)
		require.NoError(t, err, "lookup %d must fall back to the durable store", i)
		require.NotNil(t, session)
	}

	assert.Equal(t, governor.BreakerClosed, f.breaker.State())
	validation := f.svc.ValidateAccess(context.Background(), result.Pair.AccessToken)
	assert.True(t, validation.Valid)
}

func TestValidateAccess_RevocationOutageFailsClosed(t *testing.T) {
	f := newTokenFixture(t)
	result := f.issue(t)

	f.revocations.failWith = errors.New("redis timeout")

	validation := f.svc.ValidateAccess(context.Background(), result.Pair.AccessToken)
	assert.False(t, validation.Valid)
	assert.Equal(t, models.ReasonDependencyUnavailable, validation.Reason)
}

func TestValidateAccess_RateLimited(t *testing.T) {
	f := newTokenFixture(t)
	result := f.issue(t)

	f.limiter.allow = false

	validation := f.svc.ValidateAccess(context.Background(), result.Pair.AccessToken)
	assert.False(t, validation.Valid)
	assert.Equal(t, models.ReasonRateLimited, validation.Reason)
}

func TestValidateAccess_LimiterOutageFailsOpen(t *testing.T) {
	f := newTokenFixture(t)
	result := f.issue(t)

	f.limiter.allow = false
	f.limiter.err = errors.New("redis timeout")

	validation := f.svc.ValidateAccess(context.Background(), result.Pair.AccessToken)
	assert.True(t, validation.Valid)
}

// --- Refresh ---

func TestRefresh_RotatesPairAndRevokesOldRefresh(t *testing.T) {
	f := newTokenFixture(t)
	first := f.issue(t)

	oldClaims, err := f.jwt.Parse(first.Pair.RefreshToken)
	require.NoError(t, err)

	second, err := f.svc.Refresh(context.Background(), first.Pair.RefreshToken)
	require.NoError(t, err)

	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, "rotated", f.revocations.reason(oldClaims.ID))
	assert.Equal(t, 1, f.repo.count())

	// Старый refresh токен больше не принимается
	_, err = f.svc.Refresh(context.Background(), first.Pair.RefreshToken)
	assert.ErrorIs(t, err, domainErrors.ErrRevokedToken)

	// Новая пара полностью рабочая
	validation := f.svc.ValidateAccess(context.Background(), second.Pair.AccessToken)
	assert.True(t, validation.Valid)
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	f := newTokenFixture(t)
	result := f.issue(t)

	_, err := f.svc.Refresh(context.Background(), result.Pair.AccessToken)
	assert.ErrorIs(t, err, domainErrors.ErrWrongTokenType)
}

func TestRefresh_RejectsGarbage(t *testing.T) {
	f := newTokenFixture(t)

	_, err := f.svc.Refresh(context.Background(), "")
	assert.ErrorIs(t, err, domainErrors.ErrInvalidToken)

	_, err = f.svc.Refresh(context.Background(), "not.a.token")
	assert.ErrorIs(t, err, domainErrors.ErrInvalidToken)
}

func TestRefresh_StaleSessionRowIsReaped(t *testing.T) {
	f := newTokenFixture(t)
	result := f.issue(t)

	// Строка сессии искусственно состарена, сам токен еще валиден
	sessionID := uuid.MustParse(result.SessionID)
	session, err := f.repo.GetByID(context.Background(), sessionID)
	require.NoError(t, err)
	session.ExpiresAt = f.clock.Now().Add(-time.Minute)
	f.repo.sessions[sessionID] = session
	require.NoError(t, f.cache.Set(context.Background(), session))

	_, err = f.svc.Refresh(context.Background(), result.Pair.RefreshToken)
	assert.ErrorIs(t, err, domainErrors.ErrSessionExpired)
	assert.Equal(t, 0, f.repo.count())
}

func TestRefresh_MissingSessionReadsAsExpired(t *testing.T) {
	f := newTokenFixture(t)
	result := f.issue(t)

	// Сессия удалена целиком: для клиента это то же, что истечение
	sessionID := uuid.MustParse(result.SessionID)
	require.NoError(t, f.repo.Delete(context.Background(), sessionID))
	require.NoError(t, f.cache.Delete(context.Background(), sessionID))

	_, err := f.svc.Refresh(context.Background(), result.Pair.RefreshToken)
	assert.ErrorIs(t, err, domainErrors.ErrSessionExpired)
}

func TestRefresh_SupersededRefreshTokenRejected(t *testing.T) {
	f := newTokenFixture(t)
	first := f.issue(t)

	// Сессия продолжает жить, но ее refresh jti уже другой
	sessionID := uuid.MustParse(first.SessionID)
	session, err := f.repo.GetByID(context.Background(), sessionID)
	require.NoError(t, err)
	session.RefreshTokenID = uuid.New()
	f.repo.sessions[sessionID] = session
	require.NoError(t, f.cache.Set(context.Background(), session))

	_, err = f.svc.Refresh(context.Background(), first.Pair.RefreshToken)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidToken)
}

// --- Logout ---

func TestLogout_RevokesBothTokensAndDeletesSession(t *testing.T) {
	f := newTokenFixture(t)
	result := f.issue(t)

	accessClaims, err := f.jwt.Parse(result.Pair.AccessToken)
	require.NoError(t, err)
	refreshClaims, err := f.jwt.Parse(result.Pair.RefreshToken)
	require.NoError(t, err)

	f.svc.Logout(context.Background(), result.Pair.AccessToken)

	assert.Equal(t, "logout", f.revocations.reason(accessClaims.ID))
	assert.Equal(t, "logout", f.revocations.reason(refreshClaims.ID))
	assert.Equal(t, 0, f.repo.count())

	validation := f.svc.ValidateAccess(context.Background(), result.Pair.AccessToken)
	assert.False(t, validation.Valid)
	assert.Equal(t, models.ReasonRevoked, validation.Reason)
}

func TestLogout_ExpiredTokenStillRevoked(t *testing.T) {
	f := newTokenFixture(t)
	result := f.issue(t)

	f.clock.Add(16 * time.Minute)

	// Не должно паниковать и не должно возвращать ошибку наружу
	f.svc.Logout(context.Background(), result.Pair.AccessToken)
	assert.Equal(t, 0, f.repo.count())
}

func TestLogout_GarbageTokenIsNoOp(t *testing.T) {
	f := newTokenFixture(t)
	f.issue(t)

	f.svc.Logout(context.Background(), "garbage")
	assert.Equal(t, 1, f.repo.count())
}

// --- LogoutAll ---

func TestLogoutAll_RevokesEverySession(t *testing.T) {
	f := newTokenFixture(t)
	first := f.issue(t)
	second := f.issue(t)

	f.svc.LogoutAll(context.Background(), f.userID.String())

	assert.Equal(t, 0, f.repo.count())
	for _, result := range []*models.IssueResult{first, second} {
		validation := f.svc.ValidateAccess(context.Background(), result.Pair.AccessToken)
		assert.False(t, validation.Valid)
		assert.Equal(t, models.ReasonRevoked, validation.Reason)
	}
}
