package account

import (
	"context"
	"time"
)

// Store describes persistence operations required by the account subsystem.
// WithTx runs fn against a store bound to a single transaction; fn returning
// an error rolls every write back.
type Store interface {
	Users(ctx context.Context) UserStore
	Sessions(ctx context.Context) SessionStore
	Profiles(ctx context.Context) ProfileStore
	Activity(ctx context.Context) ActivityStore
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// UserStore manages identity records and their uniqueness invariants.
type UserStore interface {
	// Create inserts the user and fills ID/CreatedAt/UpdatedAt. A uniqueness
	// violation is translated to ErrEmailTaken or ErrUsernameTaken.
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	// FindByIdentifier resolves an email (case-insensitive) or a username
	// (case-sensitive) to at most one user.
	FindByIdentifier(ctx context.Context, identifier string) (*User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	UpdateFullName(ctx context.Context, id int64, fullName string) error
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
	// Delete removes the user and cascades to profile, sessions and activity.
	Delete(ctx context.Context, id int64) error
	// Stats returns the dashboard aggregates; recentSince bounds the
	// last-login count.
	Stats(ctx context.Context, recentSince time.Time) (Stats, error)
}

// SessionStore issues, resolves and revokes bearer sessions.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, token string) (*Session, error)
	ListByUser(ctx context.Context, userID int64) ([]*Session, error)
	// Invalidate marks the matching active session inactive. It reports false
	// when no active session carries the token; calling it twice is not an
	// error.
	Invalidate(ctx context.Context, token string) (bool, error)
	// InvalidateAllExcept deactivates every session of the user, keeping the
	// one matching exceptToken when non-empty. Returns the number affected.
	InvalidateAllExcept(ctx context.Context, userID int64, exceptToken string) (int64, error)
	// SweepExpired marks sessions whose expiry has passed as inactive and
	// returns the number newly deactivated.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// ProfileStore manages the optional extended profile.
type ProfileStore interface {
	Find(ctx context.Context, userID int64) (*Profile, error)
	// Upsert creates the row with defaults when absent, then applies the
	// non-nil fields of update. ErrNotFound when the user does not exist.
	Upsert(ctx context.Context, userID int64, update ProfileUpdate) error
}

// ActivityStore appends immutable audit entries. No update or delete surface.
type ActivityStore interface {
	Append(ctx context.Context, e *ActivityEntry) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]*ActivityEntry, error)
}
