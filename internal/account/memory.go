package account

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory implements Store in process. It backs the dev server and the test
// suite; the Postgres store is the production implementation.
type Memory struct {
	mu sync.Mutex
	st memState
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{st: newMemState()}
}

func (m *Memory) Users(ctx context.Context) UserStore       { return memUsers{m} }
func (m *Memory) Sessions(ctx context.Context) SessionStore { return memSessions{m} }
func (m *Memory) Profiles(ctx context.Context) ProfileStore { return memProfiles{m} }
func (m *Memory) Activity(ctx context.Context) ActivityStore {
	return memActivity{m}
}

// WithTx snapshots the state, runs fn under the store lock and restores the
// snapshot when fn fails, giving the same all-or-nothing semantics as a
// database transaction.
func (m *Memory) WithTx(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.st.clone()
	if err := fn(&memTx{st: &m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// memTx exposes the same sub-stores without re-locking; the enclosing WithTx
// already holds the mutex.
type memTx struct{ st *memState }

func (t *memTx) Users(ctx context.Context) UserStore        { return txUsers{t.st} }
func (t *memTx) Sessions(ctx context.Context) SessionStore  { return txSessions{t.st} }
func (t *memTx) Profiles(ctx context.Context) ProfileStore  { return txProfiles{t.st} }
func (t *memTx) Activity(ctx context.Context) ActivityStore { return txActivity{t.st} }

func (t *memTx) WithTx(ctx context.Context, fn func(tx Store) error) error {
	// Already transactional; nested calls just run in the same scope.
	return fn(t)
}

// --- state ---------------------------------------------------------------

type memState struct {
	nextUserID int64
	users      map[int64]*User
	sessions   map[string]*Session // token -> session
	profiles   map[int64]*Profile
	activity   []*ActivityEntry
}

func newMemState() memState {
	return memState{
		nextUserID: 1,
		users:      make(map[int64]*User),
		sessions:   make(map[string]*Session),
		profiles:   make(map[int64]*Profile),
	}
}

func (st *memState) clone() memState {
	out := memState{
		nextUserID: st.nextUserID,
		users:      make(map[int64]*User, len(st.users)),
		sessions:   make(map[string]*Session, len(st.sessions)),
		profiles:   make(map[int64]*Profile, len(st.profiles)),
		activity:   make([]*ActivityEntry, len(st.activity)),
	}
	for id, u := range st.users {
		cp := *u
		out.users[id] = &cp
	}
	for tok, s := range st.sessions {
		cp := *s
		out.sessions[tok] = &cp
	}
	for id, p := range st.profiles {
		cp := *p
		out.profiles[id] = &cp
	}
	copy(out.activity, st.activity)
	return out
}

func (st *memState) userCreate(u *User) error {
	email := NormalizeEmail(u.Email)
	for _, existing := range st.users {
		if existing.Email == email {
			return ErrEmailTaken
		}
		if existing.Username == u.Username {
			return ErrUsernameTaken
		}
	}
	now := time.Now().UTC()
	u.ID = st.nextUserID
	st.nextUserID++
	u.Email = email
	if u.UUID == "" {
		u.UUID = newUUID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	cp := *u
	st.users[u.ID] = &cp
	return nil
}

func (st *memState) userFind(id int64) (*User, error) {
	u, ok := st.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (st *memState) userByEmail(email string) (*User, error) {
	email = NormalizeEmail(email)
	for _, u := range st.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (st *memState) userByUsername(username string) (*User, error) {
	username = strings.TrimSpace(username)
	for _, u := range st.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (st *memState) userByIdentifier(identifier string) (*User, error) {
	if strings.ContainsRune(identifier, '@') {
		return st.userByEmail(identifier)
	}
	return st.userByUsername(identifier)
}

func (st *memState) userMutate(id int64, fn func(u *User)) error {
	u, ok := st.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (st *memState) userDelete(id int64) error {
	if _, ok := st.users[id]; !ok {
		return ErrNotFound
	}
	delete(st.users, id)
	delete(st.profiles, id)
	for tok, s := range st.sessions {
		if s.UserID == id {
			delete(st.sessions, tok)
		}
	}
	kept := st.activity[:0]
	for _, e := range st.activity {
		if e.UserID != id {
			kept = append(kept, e)
		}
	}
	st.activity = kept
	return nil
}

func (st *memState) userStats(recentSince time.Time) Stats {
	var stats Stats
	for _, u := range st.users {
		stats.TotalUsers++
		if u.Active {
			stats.ActiveUsers++
		}
		if u.Verified {
			stats.VerifiedUsers++
		}
		if u.Role == RoleAdmin {
			stats.AdminUsers++
		}
		if u.LastLoginAt != nil && !u.LastLoginAt.Before(recentSince) {
			stats.RecentLogins++
		}
	}
	return stats
}

func (st *memState) sessionCreate(s *Session) error {
	if _, exists := st.sessions[s.Token]; exists {
		return ErrInvalidInput
	}
	cp := *s
	st.sessions[s.Token] = &cp
	return nil
}

func (st *memState) sessionFind(token string) (*Session, error) {
	s, ok := st.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (st *memState) sessionList(userID int64) []*Session {
	var out []*Session
	for _, s := range st.sessions {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (st *memState) sessionInvalidate(token string) bool {
	s, ok := st.sessions[token]
	if !ok || !s.Active {
		return false
	}
	s.Active = false
	return true
}

func (st *memState) sessionInvalidateAll(userID int64, exceptToken string) int64 {
	var n int64
	for tok, s := range st.sessions {
		if s.UserID != userID || tok == exceptToken {
			continue
		}
		if s.Active {
			s.Active = false
			n++
		}
	}
	return n
}

func (st *memState) sessionSweep(now time.Time) int64 {
	var n int64
	for _, s := range st.sessions {
		if s.Active && s.Expired(now) {
			s.Active = false
			n++
		}
	}
	return n
}

func (st *memState) profileFind(userID int64) (*Profile, error) {
	p, ok := st.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (st *memState) profileUpsert(userID int64, update ProfileUpdate) error {
	if _, ok := st.users[userID]; !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	p, ok := st.profiles[userID]
	if !ok {
		p = &Profile{
			UserID:    userID,
			Timezone:  "UTC",
			Language:  "en",
			Theme:     ThemeAuto,
			CreatedAt: now,
		}
		st.profiles[userID] = p
	}
	patch := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	patch(&p.Bio, update.Bio)
	patch(&p.Location, update.Location)
	patch(&p.Website, update.Website)
	patch(&p.Company, update.Company)
	patch(&p.JobTitle, update.JobTitle)
	patch(&p.Timezone, update.Timezone)
	patch(&p.Language, update.Language)
	patch(&p.Theme, update.Theme)
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}
	if p.Language == "" {
		p.Language = "en"
	}
	if p.Theme == "" {
		p.Theme = ThemeAuto
	}
	p.UpdatedAt = now
	return nil
}

func (st *memState) activityAppend(e *ActivityEntry) {
	cp := *e
	if cp.Metadata != nil {
		meta := make(map[string]any, len(cp.Metadata))
		for k, v := range cp.Metadata {
			meta[k] = v
		}
		cp.Metadata = meta
	}
	st.activity = append(st.activity, &cp)
}

func (st *memState) activityList(userID int64, limit int) []*ActivityEntry {
	var out []*ActivityEntry
	for i := len(st.activity) - 1; i >= 0; i-- {
		e := st.activity[i]
		if e.UserID != userID {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// --- locked wrappers -----------------------------------------------------

type memUsers struct{ m *Memory }

func (s memUsers) Create(ctx context.Context, u *User) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.st.userCreate(u)
}

func (s memUsers) Find(ctx context.Context, id int64) (*User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.st.userFind(id)
}

func (s memUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.st.userByEmail(email)
}

func (s memUsers) FindByUsername(ctx context.Context, username string) (*User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.st.userByUsername(username)
}

func (s memUsers) FindByIdentifier(ctx context.Context, identifier string) (*User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.st.userByIdentifier(identifier)
}

func (s memUsers) UpdatePassword(ctx context.Context, id int64, hash string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.st.userMutate(id, func(u *User) { u.PasswordHash = hash })
}

func (s memUsers) UpdateFullName(ctx context.Context, id int64, fullName string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.st.userMutate(id, func(u *User) { u.FullName = fullName })
}

func (s memUsers) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.st.userMutate(id, func(u *User) { u.LastLoginAt = &at })
}

func (s memUsers) Delete(ctx context.Context, id int64) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.st.userDelete(id)
}

func (s memUsers) Stats(ctx context.Context, recentSince time.Time) (Stats, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.st.userStats(recentSince), nil
}

type memSessions struct{ m *Memory }

func (s memSessions) Create(ctx context.Context, sess *Session) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.st.sessionCreate(sess)
}

func (s memSessions) Find(ctx context.Context, token string) (*Session, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.st.sessionFind(token)
}

func (s memSessions) ListByUser(ctx context.Context, userID int64) ([]*Session, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.st.sessionList(userID), nil
}

func (s memSessions) Invalidate(ctx context.Context, token string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.st.sessionInvalidate(token), nil
}

func (s memSessions) InvalidateAllExcept(ctx context.Context, userID int64, exceptToken string) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.st.sessionInvalidateAll(userID, exceptToken), nil
}

func (s memSessions) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.st.sessionSweep(now), nil
}

type memProfiles struct{ m *Memory }

func (s memProfiles) Find(ctx context.Context, userID int64) (*Profile, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.st.profileFind(userID)
}

func (s memProfiles) Upsert(ctx context.Context, userID int64, update ProfileUpdate) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.st.profileUpsert(userID, update)
}

type memActivity struct{ m *Memory }

func (s memActivity) Append(ctx context.Context, e *ActivityEntry) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.st.activityAppend(e)
	return nil
}

func (s memActivity) ListByUser(ctx context.Context, userID int64, limit int) ([]*ActivityEntry, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.st.activityList(userID, limit), nil
}

// --- unlocked tx views ---------------------------------------------------

type txUsers struct{ st *memState }

func (s txUsers) Create(ctx context.Context, u *User) error { return s.st.userCreate(u) }
func (s txUsers) Find(ctx context.Context, id int64) (*User, error) {
	return s.st.userFind(id)
}
func (s txUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.st.userByEmail(email)
}
func (s txUsers) FindByUsername(ctx context.Context, username string) (*User, error) {
	return s.st.userByUsername(username)
}
func (s txUsers) FindByIdentifier(ctx context.Context, identifier string) (*User, error) {
	return s.st.userByIdentifier(identifier)
}
func (s txUsers) UpdatePassword(ctx context.Context, id int64, hash string) error {
	return s.st.userMutate(id, func(u *User) { u.PasswordHash = hash })
}
func (s txUsers) UpdateFullName(ctx context.Context, id int64, fullName string) error {
	return s.st.userMutate(id, func(u *User) { u.FullName = fullName })
}
func (s txUsers) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	return s.st.userMutate(id, func(u *User) { u.LastLoginAt = &at })
}
func (s txUsers) Delete(ctx context.Context, id int64) error { return s.st.userDelete(id) }
func (s txUsers) Stats(ctx context.Context, recentSince time.Time) (Stats, error) {
	return s.st.userStats(recentSince), nil
}

type txSessions struct{ st *memState }

func (s txSessions) Create(ctx context.Context, sess *Session) error {
	return s.st.sessionCreate(sess)
}
func (s txSessions) Find(ctx context.Context, token string) (*Session, error) {
	return s.st.sessionFind(token)
}
func (s txSessions) ListByUser(ctx context.Context, userID int64) ([]*Session, error) {
	return s.st.sessionList(userID), nil
}
func (s txSessions) Invalidate(ctx context.Context, token string) (bool, error) {
	return s.st.sessionInvalidate(token), nil
}
func (s txSessions) InvalidateAllExcept(ctx context.Context, userID int64, exceptToken string) (int64, error) {
	return s.st.sessionInvalidateAll(userID, exceptToken), nil
}
func (s txSessions) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.st.sessionSweep(now), nil
}

type txProfiles struct{ st *memState }

func (s txProfiles) Find(ctx context.Context, userID int64) (*Profile, error) {
	return s.st.profileFind(userID)
}
func (s txProfiles) Upsert(ctx context.Context, userID int64, update ProfileUpdate) error {
	return s.st.profileUpsert(userID, update)
}

type txActivity struct{ st *memState }

func (s txActivity) Append(ctx context.Context, e *ActivityEntry) error {
	s.st.activityAppend(e)
	return nil
}
func (s txActivity) ListByUser(ctx context.Context, userID int64, limit int) ([]*ActivityEntry, error) {
	return s.st.activityList(userID, limit), nil
}
