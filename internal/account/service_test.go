package account

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *Memory) {
	t.Helper()
	mem := NewMemory()
	return NewService(mem, opts...), mem
}

func register(t *testing.T, svc *Service, email, username string) *User {
	t.Helper()
	user, err := svc.Register(context.Background(), RegisterParams{
		Email:    email,
		Username: username,
		Password: "opensesame1",
		FullName: "Test User",
	}, RequestMeta{IP: "127.0.0.1", UserAgent: "go-test"})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return user
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user := register(t, svc, "Alice@Example.COM", "alice")
	if user.ID == 0 {
		t.Fatalf("expected assigned id")
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %s", user.Email)
	}
	if user.UUID == "" {
		t.Fatalf("expected uuid at creation")
	}
	if !user.Active || user.Role != RoleUser {
		t.Fatalf("unexpected defaults: active=%v role=%s", user.Active, user.Role)
	}
	if user.PasswordHash == "opensesame1" {
		t.Fatalf("password stored in the clear")
	}

	// Login by email, any case.
	got, err := svc.Authenticate(ctx, "ALICE@example.com", "opensesame1", RequestMeta{})
	if err != nil {
		t.Fatalf("Authenticate by email: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("wrong user: %d", got.ID)
	}
	if got.LastLoginAt == nil {
		t.Fatalf("expected last login recorded")
	}

	// Login by username.
	if _, err := svc.Authenticate(ctx, "alice", "opensesame1", RequestMeta{}); err != nil {
		t.Fatalf("Authenticate by username: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		params RegisterParams
	}{
		{"empty email", RegisterParams{Username: "bob", Password: "longenough"}},
		{"empty username", RegisterParams{Email: "bob@example.com", Password: "longenough"}},
		{"short password", RegisterParams{Email: "bob@example.com", Username: "bob", Password: "short"}},
		{"bad role", RegisterParams{Email: "bob@example.com", Username: "bob", Password: "longenough", Role: "superuser"}},
	}
	for _, tc := range cases {
		if _, err := svc.Register(ctx, tc.params, RequestMeta{}); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}
}

func TestRegisterDuplicates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "carol@example.com", "carol")

	_, err := svc.Register(ctx, RegisterParams{
		Email:    "CAROL@example.com",
		Username: "carol2",
		Password: "longenough",
	}, RequestMeta{})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if !errors.Is(err, ErrDuplicateIdentifier) {
		t.Fatalf("ErrEmailTaken must match ErrDuplicateIdentifier")
	}

	_, err = svc.Register(ctx, RegisterParams{
		Email:    "other@example.com",
		Username: "carol",
		Password: "longenough",
	}, RequestMeta{})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestAuthenticateFailuresIndistinguishable(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	user := register(t, svc, "dave@example.com", "dave")

	_, unknownErr := svc.Authenticate(ctx, "nobody@example.com", "whatever1", RequestMeta{})
	_, wrongErr := svc.Authenticate(ctx, "dave@example.com", "wrongpass1", RequestMeta{})
	if !errors.Is(unknownErr, ErrInvalidCredentials) || !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v / %v", unknownErr, wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatalf("error messages differ: %q vs %q", unknownErr, wrongErr)
	}

	// The failed attempt against an existing user leaves a trace.
	entries, err := mem.Activity(ctx).ListByUser(ctx, user.ID, 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	var sawFailure bool
	for _, e := range entries {
		if e.Action == ActionLoginFailed {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatalf("expected a login_failed activity entry, got %d entries", len(entries))
	}
}

func TestAuthenticateDisabledAccount(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	user := register(t, svc, "erin@example.com", "erin")

	mem.mu.Lock()
	mem.st.users[user.ID].Active = false
	mem.mu.Unlock()

	if _, err := svc.Authenticate(ctx, "erin@example.com", "opensesame1", RequestMeta{}); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	user := register(t, svc, "frank@example.com", "frank")

	sess, err := svc.CreateSession(ctx, user.ID, false, RequestMeta{IP: "10.0.0.1", UserAgent: "cli"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.Token == "" || sess.ID == "" {
		t.Fatalf("session missing token or id")
	}
	if got := sess.ExpiresAt.Sub(sess.CreatedAt); got != 24*time.Hour {
		t.Fatalf("default ttl = %v, want 24h", got)
	}

	remembered, err := svc.CreateSession(ctx, user.ID, true, RequestMeta{})
	if err != nil {
		t.Fatalf("CreateSession remember: %v", err)
	}
	if got := remembered.ExpiresAt.Sub(remembered.CreatedAt); got != 30*24*time.Hour {
		t.Fatalf("remember ttl = %v, want 720h", got)
	}

	resolved, err := svc.ResolveSession(ctx, sess.Token)
	if err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}
	if resolved.ID != user.ID {
		t.Fatalf("resolved wrong user: %d", resolved.ID)
	}

	// Past expiry the session stops resolving.
	now = now.Add(25 * time.Hour)
	if _, err := svc.ResolveSession(ctx, sess.Token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
	// The remembered session survives.
	if _, err := svc.ResolveSession(ctx, remembered.Token); err != nil {
		t.Fatalf("remembered session should still resolve: %v", err)
	}

	ok, err := svc.InvalidateSession(ctx, remembered.Token)
	if err != nil || !ok {
		t.Fatalf("InvalidateSession = %v, %v", ok, err)
	}
	// Second revoke is a no-op, not an error.
	ok, err = svc.InvalidateSession(ctx, remembered.Token)
	if err != nil || ok {
		t.Fatalf("second InvalidateSession = %v, %v", ok, err)
	}
	if _, err := svc.ResolveSession(ctx, remembered.Token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
}

func TestResolveSessionDisabledUser(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	user := register(t, svc, "gina@example.com", "gina")
	sess, err := svc.CreateSession(ctx, user.ID, false, RequestMeta{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	mem.mu.Lock()
	mem.st.users[user.ID].Active = false
	mem.mu.Unlock()

	if _, err := svc.ResolveSession(ctx, sess.Token); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := register(t, svc, "henry@example.com", "henry")

	current, err := svc.CreateSession(ctx, user.ID, false, RequestMeta{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	other, err := svc.CreateSession(ctx, user.ID, false, RequestMeta{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Wrong current password mutates nothing.
	err = svc.ChangePassword(ctx, user.ID, "not-the-password", "newpassword1", current.Token)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "henry", "opensesame1", RequestMeta{}); err != nil {
		t.Fatalf("old password should still work: %v", err)
	}

	if err := svc.ChangePassword(ctx, user.ID, "opensesame1", "newpassword1", current.Token); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "henry", "opensesame1", RequestMeta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should be rejected, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "henry", "newpassword1", RequestMeta{}); err != nil {
		t.Fatalf("new password: %v", err)
	}

	// The session used to change the password survives; the other does not.
	if _, err := svc.ResolveSession(ctx, current.Token); err != nil {
		t.Fatalf("current session should survive: %v", err)
	}
	if _, err := svc.ResolveSession(ctx, other.Token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other session should be revoked, got %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := register(t, svc, "iris@example.com", "iris")

	bio := "Distributed systems person"
	name := "Iris Chen"
	theme := ThemeDark
	err := svc.UpdateProfile(ctx, user.ID, ProfileUpdate{
		FullName: &name,
		Bio:      &bio,
		Theme:    &theme,
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}

	profile, err := svc.GetProfile(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if profile.Bio != bio || profile.Theme != ThemeDark {
		t.Fatalf("profile not applied: %+v", profile)
	}
	// Untouched fields keep their defaults.
	if profile.Timezone != "UTC" || profile.Language != "en" {
		t.Fatalf("defaults lost: tz=%s lang=%s", profile.Timezone, profile.Language)
	}

	got, err := svc.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.FullName != "Iris Chen" {
		t.Fatalf("full name not patched: %s", got.FullName)
	}

	// Empty string clears a field without touching the rest.
	empty := ""
	if err := svc.UpdateProfile(ctx, user.ID, ProfileUpdate{Bio: &empty}); err != nil {
		t.Fatalf("UpdateProfile clear: %v", err)
	}
	profile, err = svc.GetProfile(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if profile.Bio != "" {
		t.Fatalf("bio not cleared: %q", profile.Bio)
	}
	if profile.Theme != ThemeDark {
		t.Fatalf("theme lost on partial update: %s", profile.Theme)
	}
}

func TestUpdateProfileInvalidTheme(t *testing.T) {
	svc, _ := newTestService(t)
	user := register(t, svc, "jane@example.com", "jane")

	bad := "neon"
	err := svc.UpdateProfile(context.Background(), user.ID, ProfileUpdate{Theme: &bad})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUpdateProfileUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)
	bio := "ghost"
	err := svc.UpdateProfile(context.Background(), 404, ProfileUpdate{Bio: &bio})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChangedFieldsOrder(t *testing.T) {
	bio, theme, name := "b", ThemeLight, "n"
	update := ProfileUpdate{Theme: &theme, Bio: &bio, FullName: &name}
	got := update.ChangedFields()
	want := []string{"full_name", "bio", "theme"}
	if len(got) != len(want) {
		t.Fatalf("ChangedFields = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ChangedFields = %v, want %v", got, want)
		}
	}
}

func TestStats(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, mem := newTestService(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	a := register(t, svc, "a@example.com", "usera")
	register(t, svc, "b@example.com", "userb")
	admin, err := svc.Register(ctx, RegisterParams{
		Email:    "root@example.com",
		Username: "root",
		Password: "longenough",
		Role:     RoleAdmin,
	}, RequestMeta{})
	if err != nil {
		t.Fatalf("Register admin: %v", err)
	}

	mem.mu.Lock()
	mem.st.users[a.ID].Verified = true
	mem.st.users[admin.ID].Active = false
	old := now.Add(-8 * 24 * time.Hour)
	mem.st.users[a.ID].LastLoginAt = &old
	mem.mu.Unlock()

	if _, err := svc.Authenticate(ctx, "userb", "opensesame1", RequestMeta{}); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	stats := svc.Stats(ctx)
	if stats.TotalUsers != 3 || stats.ActiveUsers != 2 || stats.VerifiedUsers != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.AdminUsers != 1 {
		t.Fatalf("admin count = %d", stats.AdminUsers)
	}
	// Only userb logged in inside the seven-day window.
	if stats.RecentLogins != 1 {
		t.Fatalf("recent logins = %d", stats.RecentLogins)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	user := register(t, svc, "kate@example.com", "kate")

	shortLived, err := svc.CreateSession(ctx, user.ID, false, RequestMeta{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	longLived, err := svc.CreateSession(ctx, user.ID, true, RequestMeta{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	now = now.Add(48 * time.Hour)
	n, err := svc.CleanupExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d sessions, want 1", n)
	}
	// Idempotent.
	n, err = svc.CleanupExpiredSessions(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second sweep = %d, %v", n, err)
	}

	if _, err := svc.ResolveSession(ctx, shortLived.Token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired session should not resolve, got %v", err)
	}
	if _, err := svc.ResolveSession(ctx, longLived.Token); err != nil {
		t.Fatalf("remembered session should survive the sweep: %v", err)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	user := register(t, svc, "liam@example.com", "liam")
	sess, err := svc.CreateSession(ctx, user.ID, false, RequestMeta{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := svc.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := svc.GetUser(ctx, user.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("user should be gone, got %v", err)
	}
	if _, err := mem.Sessions(ctx).Find(ctx, sess.Token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("session should cascade, got %v", err)
	}
	if _, err := mem.Profiles(ctx).Find(ctx, user.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("profile should cascade, got %v", err)
	}
	entries, err := mem.Activity(ctx).ListByUser(ctx, user.ID, 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("activity should cascade, got %d entries", len(entries))
	}

	if err := svc.DeleteUser(ctx, user.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete should report ErrNotFound, got %v", err)
	}
}

func TestRegisterRollsBackOnProfileFailure(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	register(t, svc, "mona@example.com", "mona")

	// A duplicate registration fails inside the transaction; nothing new
	// may be left behind.
	_, err := svc.Register(ctx, RegisterParams{
		Email:    "mona@example.com",
		Username: "mona-two",
		Password: "longenough",
	}, RequestMeta{})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if _, err := mem.Users(ctx).FindByUsername(ctx, "mona-two"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("partial user left behind: %v", err)
	}
}

func TestActivityTrail(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	user := register(t, svc, "nina@example.com", "nina")
	if _, err := svc.Authenticate(ctx, "nina", "opensesame1", RequestMeta{IP: "10.1.1.1"}); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	bio := "hello"
	if err := svc.UpdateProfile(ctx, user.ID, ProfileUpdate{Bio: &bio}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}

	entries, err := mem.Activity(ctx).ListByUser(ctx, user.ID, 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	// Newest first.
	wantActions := []string{ActionProfileUpdated, ActionLoginSuccess, ActionUserRegistered}
	if len(entries) != len(wantActions) {
		t.Fatalf("got %d entries, want %d", len(entries), len(wantActions))
	}
	for i, want := range wantActions {
		if entries[i].Action != want {
			t.Fatalf("entry %d action = %s, want %s", i, entries[i].Action, want)
		}
		if entries[i].ID == "" || entries[i].CreatedAt.IsZero() {
			t.Fatalf("entry %d missing id or timestamp", i)
		}
	}
	fields, ok := entries[0].Metadata["updated_fields"].([]string)
	if !ok || len(fields) != 1 || fields[0] != "bio" {
		t.Fatalf("updated_fields = %v", entries[0].Metadata["updated_fields"])
	}
}
