package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/workflo/cmsauth/internal/logutil"
	"github.com/workflo/cmsauth/store"
)

type (
	// Store is the subset of *store.Store used by the service
	Store interface {
		AuditStore
		CreateUser(ctx context.Context, u store.User) (*store.User, error)
		FindUserByLogin(ctx context.Context, login string) (*store.User, error)
		FindUserByID(ctx context.Context, id string) (*store.User, error)
		ListUsers(ctx context.Context, limit int) ([]store.User, error)
		TouchLastLogin(ctx context.Context, userID string, at time.Time) error
		UpdatePassword(ctx context.Context, userID string, hash string, changedAt time.Time) error
		UpdateRole(ctx context.Context, userID string, role store.Role) error
		SetUserActive(ctx context.Context, userID string, active bool) error

		CreateSession(ctx context.Context, ss store.Session) (*store.Session, error)
		FindActiveSession(ctx context.Context, token string, now time.Time) (*store.SessionWithUser, error)
		ExpireSession(ctx context.Context, token string, now time.Time) (bool, error)
		DeactivateSession(ctx context.Context, sessionID string) (bool, error)
		DeactivateUserSessions(ctx context.Context, userID string, exceptSessionID string) (int64, error)
		SweepExpired(ctx context.Context, now time.Time) (int64, error)
		ListUserSessions(ctx context.Context, userID string, activeOnly bool, limit int) ([]store.Session, error)

		ListAuditEvents(ctx context.Context, filter store.AuditFilter) ([]store.AuditEvent, error)
	}

	Service struct {
		store        Store
		tokens       *TokenIssuer
		hasher       Hasher
		audit        *Auditor
		rejected     *RejectCache
		clock        func() time.Time
		failureDelay time.Duration
		sessionTTL   time.Duration
		rememberTTL  time.Duration

		decoyOnce sync.Once
		decoy     string
	}

	Option func(*Service)

	// Client describes where a request came from, it ends up in
	// session rows and audit events.
	Client struct {
		IPAddress string
		UserAgent string
	}

	Credentials struct {
		Login      string
		Password   string
		RememberMe bool
		Client     Client
	}

	LoginResult struct {
		User    store.User
		Session store.Session
		// MaxAge is how long the client should keep the token
		MaxAge time.Duration
	}

	SessionContext struct {
		User    store.User
		Session store.Session
		Claims  Claims
	}
)

const (
	DefaultSessionTTL   = 24 * time.Hour
	DefaultRememberTTL  = 30 * 24 * time.Hour
	DefaultFailureDelay = time.Second
)

func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithFailureDelay sets the pause added before answering a failed login
func WithFailureDelay(d time.Duration) Option {
	return func(s *Service) { s.failureDelay = d }
}

func WithSessionTTL(normal, remember time.Duration) Option {
	return func(s *Service) {
		s.sessionTTL = normal
		s.rememberTTL = remember
	}
}

func WithRejectCache(rc *RejectCache) Option {
	return func(s *Service) { s.rejected = rc }
}

func WithPasswordCost(cost int) Option {
	return func(s *Service) { s.hasher = Hasher{Cost: cost} }
}

func New(st Store, tokens *TokenIssuer, opts ...Option) *Service {
	s := &Service{
		store:        st,
		tokens:       tokens,
		audit:        NewAuditor(st),
		clock:        time.Now,
		failureDelay: DefaultFailureDelay,
		sessionTTL:   DefaultSessionTTL,
		rememberTTL:  DefaultRememberTTL,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Wait blocks until pending audit writes are done
func (s *Service) Wait() {
	s.audit.Wait()
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// Login verifies cred and opens a new session. Every credential problem is
// reported as InvalidCredentials after the configured failure delay.
func (s *Service) Login(ctx context.Context, cred Credentials) (*LoginResult, error) {
	log := logutil.GetOrDefault(ctx)
	start := time.Now()
	login := strings.TrimSpace(cred.Login)
	if login == "" {
		return nil, validation("login", "email or username is required")
	}
	if cred.Password == "" {
		return nil, validation("password", "password is required")
	}

	user, err := s.store.FindUserByLogin(ctx, login)
	if errors.Is(err, store.UserNotFound{}) {
		// pay for a hash comparison anyway, the response time must not
		// depend on whether the login exists
		s.hasher.Verify(cred.Password, s.decoyHash())
		return nil, s.failLogin(ctx, start, nil, login, cred.Client, "unknown_user")
	} else if err != nil {
		return nil, s.fail(ctx, "lookup user", err)
	}
	ok, err := s.hasher.Verify(cred.Password, user.PasswordHash)
	if err != nil {
		return nil, s.fail(ctx, "verify password", err)
	}
	if !ok {
		return nil, s.failLogin(ctx, start, user, login, cred.Client, "wrong_password")
	}
	if !user.Active {
		return nil, s.failLogin(ctx, start, user, login, cred.Client, "inactive_user")
	}

	now := s.now()
	ttl := s.sessionTTL
	if cred.RememberMe {
		ttl = s.rememberTTL
	}
	// tokens carry expiry with second precision, keep the row in sync
	expiresAt := now.Add(ttl).Truncate(time.Second)
	sessionID := store.NewSessionID()
	token, err := s.tokens.Issue(Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	if err != nil {
		return nil, s.fail(ctx, "issue token", err)
	}
	ss, err := s.store.CreateSession(ctx, store.Session{
		ID:        sessionID,
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: expiresAt,
		IPAddress: cred.Client.IPAddress,
		UserAgent: cred.Client.UserAgent,
	})
	if err != nil {
		return nil, s.fail(ctx, "create session", err)
	}
	err = s.store.TouchLastLogin(ctx, user.ID, now)
	if err != nil {
		log.Warn().Err(err).Str("user.id", user.ID).Msg("Unable to update last login timestamp")
	} else {
		user.LastLoginAt = &now
	}
	s.audit.Record(ctx, store.AuditEvent{
		UserID:       user.ID,
		Action:       ActionLogin,
		ResourceType: "session",
		ResourceID:   ss.ID,
		Data:         map[string]interface{}{"remember_me": cred.RememberMe},
		IPAddress:    cred.Client.IPAddress,
		UserAgent:    cred.Client.UserAgent,
		CreatedAt:    now,
	})
	log.Info().Str("user.id", user.ID).Str("session.id", ss.ID).Msg("User logged in")
	return &LoginResult{User: *user, Session: *ss, MaxAge: ttl}, nil
}

// failLogin audits the failure when a user row was found, then waits until
// the failure delay has passed since start (or until ctx is done) before
// returning InvalidCredentials.
func (s *Service) failLogin(ctx context.Context, start time.Time, user *store.User, login string, client Client, reason string) error {
	log := logutil.GetOrDefault(ctx)
	log.Info().Str("login.reason", reason).Msg("Login failed")
	if user != nil {
		s.audit.Record(ctx, store.AuditEvent{
			UserID:       user.ID,
			Action:       ActionFailedLogin,
			ResourceType: "user",
			ResourceID:   user.ID,
			Data:         map[string]interface{}{"login": login, "reason": reason},
			IPAddress:    client.IPAddress,
			UserAgent:    client.UserAgent,
			CreatedAt:    s.now(),
		})
	}
	if wait := s.failureDelay - time.Since(start); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	return InvalidCredentials{}
}

// ValidateSession returns the session identified by token, or
// InvalidSession when any check fails. Expired rows are deactivated.
func (s *Service) ValidateSession(ctx context.Context, token string) (*SessionContext, error) {
	log := logutil.GetOrDefault(ctx)
	if token == "" {
		return nil, InvalidSession{}
	}
	if s.rejected != nil && s.rejected.Rejected(token) {
		return nil, InvalidSession{}
	}
	claims, err := s.tokens.Decode(token)
	if err != nil {
		log.Debug().Err(err).Msg("Rejecting session token")
		s.reject(ctx, token)
		return nil, InvalidSession{}
	}
	now := s.now()
	found, err := s.store.FindActiveSession(ctx, token, now)
	if err != nil {
		return nil, s.fail(ctx, "find session", err)
	}
	if found == nil {
		expired, err := s.store.ExpireSession(ctx, token, now)
		if err != nil {
			log.Warn().Err(err).Str("session.id", claims.ID).Msg("Unable to deactivate expired session")
		} else if expired {
			log.Info().Str("session.id", claims.ID).Msg("Session expired")
		}
		s.reject(ctx, token)
		return nil, InvalidSession{}
	}

	var reason string
	switch {
	case claims.Expired(now):
		reason = "token expired"
	case claims.ID != found.Session.ID, claims.UserID != found.Session.UserID:
		reason = "token does not match session"
	case claims.Role != found.User.Role:
		reason = "role changed since login"
	case !found.User.Active:
		reason = "user is not active"
	}
	if reason != "" {
		log.Info().Str("session.id", found.Session.ID).Str("reason", reason).Msg("Revoking session")
		_, err = s.store.DeactivateSession(ctx, found.Session.ID)
		if err != nil {
			log.Warn().Err(err).Str("session.id", found.Session.ID).Msg("Unable to deactivate session")
		}
		s.reject(ctx, token)
		return nil, InvalidSession{}
	}
	return &SessionContext{User: found.User, Session: found.Session, Claims: *claims}, nil
}

// RequireAuth validates token and checks that its user holds one of
// roles (any role when roles is empty).
func (s *Service) RequireAuth(ctx context.Context, token string, roles ...store.Role) (*SessionContext, error) {
	sc, err := s.ValidateSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if !HasRole(&sc.User, roles...) {
		return sc, InsufficientPermissions{}
	}
	return sc, nil
}

// RequirePermission validates token and checks the permission table.
func (s *Service) RequirePermission(ctx context.Context, token string, action, resource string) (*SessionContext, error) {
	sc, err := s.ValidateSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if !HasPermission(&sc.User, action, resource) {
		return sc, InsufficientPermissions{}
	}
	return sc, nil
}

// Logout deactivates the session identified by token.
func (s *Service) Logout(ctx context.Context, token string, client Client) error {
	sc, err := s.ValidateSession(ctx, token)
	if err != nil {
		return err
	}
	_, err = s.store.DeactivateSession(ctx, sc.Session.ID)
	if err != nil {
		return s.fail(ctx, "deactivate session", err)
	}
	s.reject(ctx, token)
	s.audit.Record(ctx, store.AuditEvent{
		UserID:       sc.User.ID,
		Action:       ActionLogout,
		ResourceType: "session",
		ResourceID:   sc.Session.ID,
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
		CreatedAt:    s.now(),
	})
	log := logutil.GetOrDefault(ctx)
	log.Info().Str("user.id", sc.User.ID).Str("session.id", sc.Session.ID).Msg("User logged out")
	return nil
}

// decoyHash is a hash of a random password with the configured cost, used
// to verify passwords of logins that do not exist.
func (s *Service) decoyHash() string {
	s.decoyOnce.Do(func() {
		buf := make([]byte, 24)
		rand.Read(buf)
		hash, err := s.hasher.Hash(base64.StdEncoding.EncodeToString(buf))
		if err == nil {
			s.decoy = hash
		}
	})
	return s.decoy
}

func (s *Service) reject(ctx context.Context, token string) {
	if s.rejected == nil {
		return
	}
	err := s.rejected.Reject(token)
	if err != nil {
		log := logutil.GetOrDefault(ctx)
		log.Warn().Err(err).Msg("Unable to cache rejected token")
	}
}

// fail logs err with full detail and returns the opaque ServiceFailure
func (s *Service) fail(ctx context.Context, op string, err error) error {
	log := logutil.GetOrDefault(ctx)
	log.Error().Err(err).Str("op", op).Msg("Authentication service failure")
	return ServiceFailure{cause: err}
}
