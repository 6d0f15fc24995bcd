package account

import (
	"time"

	"github.com/google/uuid"
)

// newUUID returns the public identifier assigned to a user at creation.
func newUUID() string { return uuid.NewString() }

// Roles a user row may carry. The column is an enum in Postgres; keep the
// constants in sync with ops/migrations.
const (
	RoleUser      = "user"
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
)

// Activity actions recorded by the service.
const (
	ActionUserRegistered  = "user_registered"
	ActionLoginSuccess    = "login_success"
	ActionLoginFailed     = "login_failed"
	ActionLogout          = "logout"
	ActionProfileUpdated  = "profile_updated"
	ActionPasswordChanged = "password_changed"
)

// Profile themes.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
	ThemeAuto  = "auto"
)

// User is an identity record. UUID is the public identifier, assigned exactly
// once at creation and immutable afterwards; ID is the storage surrogate key.
type User struct {
	ID           int64      `json:"id"`
	UUID         string     `json:"uuid"`
	Email        string     `json:"email"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	FullName     string     `json:"full_name,omitempty"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	Active       bool       `json:"is_active"`
	Verified     bool       `json:"is_verified"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// IsAdmin reports whether the user carries the admin role.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// Session is a bearer token representing one authenticated browser or client.
// A session is invalid when inactive or past its expiry.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"-"`
	UserID    int64     `json:"user_id"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"is_active"`
}

// Expired reports whether the session's expiry has passed at the given time.
func (s *Session) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// Valid reports whether the session may still authenticate requests.
func (s *Session) Valid(now time.Time) bool { return s.Active && !s.Expired(now) }

// Profile is the optional 1:1 extension of a user. Empty strings mean unset;
// the store persists them as NULL.
type Profile struct {
	UserID    int64     `json:"user_id"`
	Bio       string    `json:"bio,omitempty"`
	Location  string    `json:"location,omitempty"`
	Website   string    `json:"website,omitempty"`
	Company   string    `json:"company,omitempty"`
	JobTitle  string    `json:"job_title,omitempty"`
	Timezone  string    `json:"timezone"`
	Language  string    `json:"language"`
	Theme     string    `json:"theme"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileUpdate carries a partial profile edit. A nil field is left untouched;
// a pointer to the empty string clears the column. FullName patches the user
// row, not the profile row.
type ProfileUpdate struct {
	FullName *string
	Bio      *string
	Location *string
	Website  *string
	Company  *string
	JobTitle *string
	Timezone *string
	Language *string
	Theme    *string
}

// ChangedFields lists the names of the fields this update sets, in declaration
// order. The service passes the list verbatim into the activity metadata.
func (p ProfileUpdate) ChangedFields() []string {
	var out []string
	add := func(name string, v *string) {
		if v != nil {
			out = append(out, name)
		}
	}
	add("full_name", p.FullName)
	add("bio", p.Bio)
	add("location", p.Location)
	add("website", p.Website)
	add("company", p.Company)
	add("job_title", p.JobTitle)
	add("timezone", p.Timezone)
	add("language", p.Language)
	add("theme", p.Theme)
	return out
}

// ActivityEntry is an append-only audit record. UserID is zero for anonymous
// or system actions.
type ActivityEntry struct {
	ID           string         `json:"id"`
	UserID       int64          `json:"user_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Stats are the dashboard aggregates. All zero on storage failure.
type Stats struct {
	TotalUsers    int64 `json:"total_users"`
	ActiveUsers   int64 `json:"active_users"`
	VerifiedUsers int64 `json:"verified_users"`
	AdminUsers    int64 `json:"admin_users"`
	RecentLogins  int64 `json:"recent_logins"`
}

// RegisterParams are the inputs to Service.Register.
type RegisterParams struct {
	Email    string
	Username string
	Password string
	FullName string
	Role     string
}

// RequestMeta carries per-request diagnostics attached to sessions and
// activity entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}
