package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"goldilocks.org/internal/ids"
	"goldilocks.org/internal/obs"
)

const (
	defaultSessionTTL  = 24 * time.Hour
	defaultRememberTTL = 30 * 24 * time.Hour
	minPasswordLength  = 8
	recentLoginWindow  = 7 * 24 * time.Hour
)

// Service orchestrates the user directory, session registry, profile store and
// activity log. All collaborators arrive at construction; there is no ambient
// global state.
type Service struct {
	store Store
	now   func() time.Time

	sessionTTL  time.Duration
	rememberTTL time.Duration
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithSessionTTL configures the default session lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithRememberTTL configures the remember-me session lifetime.
func WithRememberTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.rememberTTL = ttl
		}
	}
}

// NewService constructs a Service over the given store.
func NewService(store Store, opts ...Option) *Service {
	svc := &Service{
		store:       store,
		now:         time.Now,
		sessionTTL:  defaultSessionTTL,
		rememberTTL: defaultRememberTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// NormalizeEmail lowercases and trims an email for case-insensitive matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a user plus its default profile in one transaction and
// records a user_registered activity entry. Duplicate email and username are
// reported distinctly; both kinds match ErrDuplicateIdentifier.
func (s *Service) Register(ctx context.Context, p RegisterParams, meta RequestMeta) (*User, error) {
	email := NormalizeEmail(p.Email)
	username := strings.TrimSpace(p.Username)
	if email == "" || username == "" {
		return nil, ErrInvalidInput
	}
	if len(p.Password) < minPasswordLength {
		return nil, ErrInvalidInput
	}
	role := p.Role
	if role == "" {
		role = RoleUser
	}
	switch role {
	case RoleUser, RoleAdmin, RoleModerator:
	default:
		return nil, ErrInvalidInput
	}

	hash, err := HashPassword(p.Password)
	if err != nil {
		return nil, s.internal("register: hash", err)
	}

	now := s.now().UTC()
	user := &User{
		UUID:         newUUID(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(p.FullName),
		Active:       true,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.store.WithTx(ctx, func(tx Store) error {
		// Pre-check for a friendly message; the storage constraint stays
		// authoritative and races surface as the same error kinds.
		if _, err := tx.Users(ctx).FindByEmail(ctx, email); err == nil {
			return ErrEmailTaken
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if _, err := tx.Users(ctx).FindByUsername(ctx, username); err == nil {
			return ErrUsernameTaken
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := tx.Users(ctx).Create(ctx, user); err != nil {
			return err
		}
		return tx.Profiles(ctx).Upsert(ctx, user.ID, ProfileUpdate{})
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateIdentifier) {
			return nil, err
		}
		return nil, s.internal("register", err)
	}

	s.record(ctx, &ActivityEntry{
		UserID: user.ID,
		Action: ActionUserRegistered,
		Metadata: map[string]any{
			"email":    email,
			"username": username,
			"role":     role,
		},
	}, meta)
	return user, nil
}

// Authenticate verifies credentials against an email or username. Unknown
// identifier and wrong password both return ErrInvalidCredentials so callers
// cannot enumerate accounts; a disabled account is reported distinctly.
func (s *Service) Authenticate(ctx context.Context, identifier, password string, meta RequestMeta) (*User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.Users(ctx).FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, s.internal("authenticate: lookup", err)
	}
	if !user.Active {
		return nil, ErrAccountDisabled
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		s.record(ctx, &ActivityEntry{
			UserID: user.ID,
			Action: ActionLoginFailed,
			Metadata: map[string]any{
				"reason":     "invalid_password",
				"identifier": identifier,
			},
		}, meta)
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.store.Users(ctx).UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, s.internal("authenticate: last login", err)
	}
	user.LastLoginAt = &now

	s.record(ctx, &ActivityEntry{
		UserID: user.ID,
		Action: ActionLoginSuccess,
		Metadata: map[string]any{
			"email":    user.Email,
			"username": user.Username,
		},
	}, meta)
	return user, nil
}

// CreateSession issues a fresh bearer session for the user. Remember-me
// stretches the lifetime from one day to thirty.
func (s *Service) CreateSession(ctx context.Context, userID int64, rememberMe bool, meta RequestMeta) (*Session, error) {
	token, err := NewSessionToken()
	if err != nil {
		return nil, s.internal("create session: token", err)
	}
	ttl := s.sessionTTL
	if rememberMe {
		ttl = s.rememberTTL
	}
	now := s.now().UTC()
	sess := &Session{
		ID:        ids.New(),
		Token:     token,
		UserID:    userID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Active:    true,
	}
	if err := s.store.Sessions(ctx).Create(ctx, sess); err != nil {
		return nil, s.internal("create session", err)
	}
	return sess, nil
}

// ResolveSession maps a bearer token to its owning user. It returns
// ErrNotFound for unknown, inactive or expired sessions and ErrAccountDisabled
// when the owner has been deactivated since login.
func (s *Service) ResolveSession(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	sess, err := s.store.Sessions(ctx).Find(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.internal("resolve session", err)
	}
	if !sess.Valid(s.now().UTC()) {
		return nil, ErrNotFound
	}
	user, err := s.store.Users(ctx).Find(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.internal("resolve session: user", err)
	}
	if !user.Active {
		return nil, ErrAccountDisabled
	}
	return user, nil
}

// InvalidateSession marks the session inactive. Unknown and already-revoked
// tokens report false; neither is an error.
func (s *Service) InvalidateSession(ctx context.Context, token string) (bool, error) {
	ok, err := s.store.Sessions(ctx).Invalidate(ctx, token)
	if err != nil {
		return false, s.internal("invalidate session", err)
	}
	return ok, nil
}

// InvalidateAllSessions revokes every session of the user, sparing exceptToken
// when non-empty.
func (s *Service) InvalidateAllSessions(ctx context.Context, userID int64, exceptToken string) (int64, error) {
	n, err := s.store.Sessions(ctx).InvalidateAllExcept(ctx, userID, exceptToken)
	if err != nil {
		return 0, s.internal("invalidate all sessions", err)
	}
	return n, nil
}

// ListSessions returns the user's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, userID int64) ([]*Session, error) {
	sessions, err := s.store.Sessions(ctx).ListByUser(ctx, userID)
	if err != nil {
		return nil, s.internal("list sessions", err)
	}
	return sessions, nil
}

// ChangePassword re-hashes the credential after verifying the current one and
// revokes every other session in the same transaction. A wrong current
// password mutates nothing.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next, exceptToken string) error {
	if len(next) < minPasswordLength {
		return ErrInvalidInput
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return s.internal("change password: lookup", err)
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return s.internal("change password: hash", err)
	}

	var revoked int64
	err = s.store.WithTx(ctx, func(tx Store) error {
		if err := tx.Users(ctx).UpdatePassword(ctx, userID, hash); err != nil {
			return err
		}
		n, err := tx.Sessions(ctx).InvalidateAllExcept(ctx, userID, exceptToken)
		if err != nil {
			return err
		}
		revoked = n
		return nil
	})
	if err != nil {
		return s.internal("change password", err)
	}

	s.record(ctx, &ActivityEntry{
		UserID: userID,
		Action: ActionPasswordChanged,
		Metadata: map[string]any{
			"sessions_invalidated": revoked,
		},
	}, RequestMeta{})
	return nil
}

// UpdateProfile applies a partial profile edit, patching the user's full name
// when provided. Only the provided fields change; the activity entry carries
// the explicit list of changed field names.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, update ProfileUpdate) error {
	if update.Theme != nil {
		switch strings.TrimSpace(*update.Theme) {
		case ThemeLight, ThemeDark, ThemeAuto, "":
		default:
			return ErrInvalidInput
		}
	}
	err := s.store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.Users(ctx).Find(ctx, userID); err != nil {
			return err
		}
		if update.FullName != nil {
			if err := tx.Users(ctx).UpdateFullName(ctx, userID, strings.TrimSpace(*update.FullName)); err != nil {
				return err
			}
		}
		return tx.Profiles(ctx).Upsert(ctx, userID, update)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return s.internal("update profile", err)
	}

	s.record(ctx, &ActivityEntry{
		UserID: userID,
		Action: ActionProfileUpdated,
		Metadata: map[string]any{
			"updated_fields": update.ChangedFields(),
		},
	}, RequestMeta{})
	return nil
}

// GetUser loads a user by id.
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	user, err := s.store.Users(ctx).Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.internal("get user", err)
	}
	return user, nil
}

// GetProfile loads the user's profile, materializing defaults when the lazy
// row does not exist yet.
func (s *Service) GetProfile(ctx context.Context, userID int64) (*Profile, error) {
	profile, err := s.store.Profiles(ctx).Find(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, s.internal("get profile", err)
	}
	if _, err := s.store.Users(ctx).Find(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.internal("get profile: user", err)
	}
	return &Profile{
		UserID:   userID,
		Timezone: "UTC",
		Language: "en",
		Theme:    ThemeAuto,
	}, nil
}

// DeleteUser removes the user and, by cascade, its profile, sessions and
// activity entries.
func (s *Service) DeleteUser(ctx context.Context, userID int64) error {
	if err := s.store.Users(ctx).Delete(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return s.internal("delete user", err)
	}
	return nil
}

// Stats returns the dashboard aggregates. A storage failure degrades to
// all-zero stats instead of propagating.
func (s *Service) Stats(ctx context.Context) Stats {
	since := s.now().UTC().Add(-recentLoginWindow)
	stats, err := s.store.Users(ctx).Stats(ctx, since)
	if err != nil {
		obs.LogError("account.stats", err, nil)
		return Stats{}
	}
	return stats
}

// CleanupExpiredSessions marks every expired session inactive and returns the
// number affected. Safe to run repeatedly.
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.store.Sessions(ctx).SweepExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, s.internal("cleanup sessions", err)
	}
	return n, nil
}

// RecordActivity appends an audit entry on behalf of the web layer (logouts,
// admin actions). Best-effort like every other activity write.
func (s *Service) RecordActivity(ctx context.Context, e *ActivityEntry, meta RequestMeta) {
	s.record(ctx, e, meta)
}

// record appends an activity entry. A failed append never aborts the caller's
// operation; it is logged operationally and swallowed.
func (s *Service) record(ctx context.Context, e *ActivityEntry, meta RequestMeta) {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	if e.IP == "" {
		e.IP = meta.IP
	}
	if e.UserAgent == "" {
		e.UserAgent = meta.UserAgent
	}
	if err := s.store.Activity(ctx).Append(ctx, e); err != nil {
		obs.LogError("account.activity", err, map[string]any{"action": e.Action})
	}
}

// internal logs the underlying storage failure with context and returns the
// generic internal error so raw storage errors never reach the web layer.
func (s *Service) internal(op string, err error) error {
	obs.LogError("account."+op, err, nil)
	return ErrInternal
}
