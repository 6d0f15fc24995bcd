package account

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PG implements Store on top of Postgres via database/sql and the pgx
// stdlib driver.
type PG struct {
	db *sql.DB
}

var _ Store = (*PG)(nil)

// OpenPG opens a pooled connection to Postgres.
func OpenPG(dsn string) (*PG, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PG{db: db}, nil
}

// NewPG wraps an existing handle; tests use it with sqlmock.
func NewPG(db *sql.DB) *PG { return &PG{db: db} }

func (p *PG) Close() error { return p.db.Close() }

func (p *PG) DB() *sql.DB { return p.db }

func (p *PG) Users(ctx context.Context) UserStore        { return pgUsers{p.db} }
func (p *PG) Sessions(ctx context.Context) SessionStore  { return pgSessions{p.db} }
func (p *PG) Profiles(ctx context.Context) ProfileStore  { return pgProfiles{p.db} }
func (p *PG) Activity(ctx context.Context) ActivityStore { return pgActivity{p.db} }

// WithTx runs fn inside a database transaction; any error rolls back.
func (p *PG) WithTx(ctx context.Context, fn func(tx Store) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(pgTx{tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// dbtx is the common surface of *sql.DB and *sql.Tx the queries need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type pgTx struct{ tx *sql.Tx }

func (t pgTx) Users(ctx context.Context) UserStore        { return pgUsers{t.tx} }
func (t pgTx) Sessions(ctx context.Context) SessionStore  { return pgSessions{t.tx} }
func (t pgTx) Profiles(ctx context.Context) ProfileStore  { return pgProfiles{t.tx} }
func (t pgTx) Activity(ctx context.Context) ActivityStore { return pgActivity{t.tx} }

func (t pgTx) WithTx(ctx context.Context, fn func(tx Store) error) error {
	// Already inside a transaction; run fn in the same scope.
	return fn(t)
}

// translateUnique maps unique-violation errors onto the duplicate sentinels
// using the constraint names from the migrations.
func translateUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "ux_users_email":
			return ErrEmailTaken
		case "ux_users_username":
			return ErrUsernameTaken
		}
		return ErrDuplicateIdentifier
	}
	return err
}

// --- users ---------------------------------------------------------------

type pgUsers struct{ q dbtx }

const userColumns = `id, uuid, email, username, password_hash, full_name, avatar_url,
	active, verified, role, created_at, updated_at, last_login_at`

func scanUser(row interface{ Scan(dest ...any) error }) (*User, error) {
	var u User
	var fullName, avatarURL sql.NullString
	var lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.UUID, &u.Email, &u.Username, &u.PasswordHash,
		&fullName, &avatarURL, &u.Active, &u.Verified, &u.Role,
		&u.CreatedAt, &u.UpdatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.FullName = fullName.String
	u.AvatarURL = avatarURL.String
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

func (s pgUsers) Create(ctx context.Context, u *User) error {
	u.Email = NormalizeEmail(u.Email)
	if u.UUID == "" {
		u.UUID = newUUID()
	}
	err := s.q.QueryRowContext(ctx, `
		insert into users(uuid, email, username, password_hash, full_name, active, verified, role)
		values ($1, $2, $3, $4, nullif($5,''), $6, $7, $8)
		returning id, created_at, updated_at
	`, u.UUID, u.Email, u.Username, u.PasswordHash, u.FullName, u.Active, u.Verified, u.Role).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return translateUnique(err)
	}
	return nil
}

func (s pgUsers) Find(ctx context.Context, id int64) (*User, error) {
	return scanUser(s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s pgUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, NormalizeEmail(email)))
}

func (s pgUsers) FindByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where username=$1`, username))
}

func (s pgUsers) FindByIdentifier(ctx context.Context, identifier string) (*User, error) {
	return scanUser(s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1 or username=$2`,
		NormalizeEmail(identifier), identifier))
}

func (s pgUsers) UpdatePassword(ctx context.Context, id int64, hash string) error {
	return s.exec(ctx, `update users set password_hash=$2, updated_at=now() where id=$1`, id, hash)
}

func (s pgUsers) UpdateFullName(ctx context.Context, id int64, fullName string) error {
	return s.exec(ctx, `update users set full_name=nullif($2,''), updated_at=now() where id=$1`, id, fullName)
}

func (s pgUsers) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	return s.exec(ctx, `update users set last_login_at=$2, updated_at=now() where id=$1`, id, at)
}

func (s pgUsers) Delete(ctx context.Context, id int64) error {
	// Sessions, profile and activity rows go with the user via FK cascade.
	return s.exec(ctx, `delete from users where id=$1`, id)
}

func (s pgUsers) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s pgUsers) Stats(ctx context.Context, recentSince time.Time) (Stats, error) {
	var st Stats
	err := s.q.QueryRowContext(ctx, `
		select count(*),
		       count(*) filter (where active),
		       count(*) filter (where verified),
		       count(*) filter (where role='admin'),
		       count(*) filter (where last_login_at >= $1)
		from users
	`, recentSince).Scan(&st.TotalUsers, &st.ActiveUsers, &st.VerifiedUsers, &st.AdminUsers, &st.RecentLogins)
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// --- sessions ------------------------------------------------------------

type pgSessions struct{ q dbtx }

const sessionColumns = `id, token, user_id, ip, user_agent, created_at, expires_at, active`

func scanSession(row interface{ Scan(dest ...any) error }) (*Session, error) {
	var s Session
	var ip, ua sql.NullString
	err := row.Scan(&s.ID, &s.Token, &s.UserID, &ip, &ua, &s.CreatedAt, &s.ExpiresAt, &s.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.IP = ip.String
	s.UserAgent = ua.String
	return &s, nil
}

func (s pgSessions) Create(ctx context.Context, sess *Session) error {
	_, err := s.q.ExecContext(ctx, `
		insert into sessions(id, token, user_id, ip, user_agent, created_at, expires_at, active)
		values ($1, $2, $3, nullif($4,''), nullif($5,''), $6, $7, $8)
	`, sess.ID, sess.Token, sess.UserID, sess.IP, sess.UserAgent, sess.CreatedAt, sess.ExpiresAt, sess.Active)
	return translateUnique(err)
}

func (s pgSessions) Find(ctx context.Context, token string) (*Session, error) {
	return scanSession(s.q.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where token=$1`, token))
}

func (s pgSessions) ListByUser(ctx context.Context, userID int64) ([]*Session, error) {
	rows, err := s.q.QueryContext(ctx,
		`select `+sessionColumns+` from sessions where user_id=$1 order by created_at desc`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s pgSessions) Invalidate(ctx context.Context, token string) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`update sessions set active=false where token=$1 and active`, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s pgSessions) InvalidateAllExcept(ctx context.Context, userID int64, exceptToken string) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`update sessions set active=false where user_id=$1 and token<>$2 and active`,
		userID, exceptToken)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s pgSessions) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`update sessions set active=false where active and expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- profiles ------------------------------------------------------------

type pgProfiles struct{ q dbtx }

func (s pgProfiles) Find(ctx context.Context, userID int64) (*Profile, error) {
	var p Profile
	var bio, location, website, company, jobTitle sql.NullString
	err := s.q.QueryRowContext(ctx, `
		select user_id, bio, location, website, company, job_title,
		       timezone, language, theme, created_at, updated_at
		from profiles where user_id=$1
	`, userID).Scan(&p.UserID, &bio, &location, &website, &company, &jobTitle,
		&p.Timezone, &p.Language, &p.Theme, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Bio = bio.String
	p.Location = location.String
	p.Website = website.String
	p.Company = company.String
	p.JobTitle = jobTitle.String
	return &p, nil
}

func (s pgProfiles) Upsert(ctx context.Context, userID int64, update ProfileUpdate) error {
	// NULL arguments keep the stored value; empty strings clear it. The
	// locale fields fall back to their defaults when cleared.
	_, err := s.q.ExecContext(ctx, `
		insert into profiles(user_id, bio, location, website, company, job_title, timezone, language, theme)
		values ($1, nullif($2,''), nullif($3,''), nullif($4,''), nullif($5,''), nullif($6,''),
		        coalesce(nullif($7,''),'UTC'), coalesce(nullif($8,''),'en'), coalesce(nullif($9,''),'auto'))
		on conflict (user_id) do update set
			bio        = case when $2::text is null then profiles.bio else nullif($2,'') end,
			location   = case when $3::text is null then profiles.location else nullif($3,'') end,
			website    = case when $4::text is null then profiles.website else nullif($4,'') end,
			company    = case when $5::text is null then profiles.company else nullif($5,'') end,
			job_title  = case when $6::text is null then profiles.job_title else nullif($6,'') end,
			timezone   = case when $7::text is null then profiles.timezone else coalesce(nullif($7,''),'UTC') end,
			language   = case when $8::text is null then profiles.language else coalesce(nullif($8,''),'en') end,
			theme      = case when $9::text is null then profiles.theme else coalesce(nullif($9,''),'auto') end,
			updated_at = now()
	`, userID, update.Bio, update.Location, update.Website, update.Company,
		update.JobTitle, update.Timezone, update.Language, update.Theme)
	return err
}

// --- activity ------------------------------------------------------------

type pgActivity struct{ q dbtx }

func (s pgActivity) Append(ctx context.Context, e *ActivityEntry) error {
	var meta []byte
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		meta = b
	}
	// Anonymous entries (failed logins, system actions) carry no user id.
	userID := sql.NullInt64{Int64: e.UserID, Valid: e.UserID != 0}
	_, err := s.q.ExecContext(ctx, `
		insert into activity_logs(id, user_id, action, resource_type, resource_id, ip, user_agent, metadata, created_at)
		values ($1, $2, $3, nullif($4,''), nullif($5,''), nullif($6,''), nullif($7,''), $8, $9)
	`, e.ID, userID, e.Action, e.ResourceType, e.ResourceID, e.IP, e.UserAgent, meta, e.CreatedAt)
	return err
}

func (s pgActivity) ListByUser(ctx context.Context, userID int64, limit int) ([]*ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.QueryContext(ctx, `
		select id, user_id, action, resource_type, resource_id, ip, user_agent, metadata, created_at
		from activity_logs where user_id=$1 order by created_at desc limit $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		var uid sql.NullInt64
		var resourceType, resourceID, ip, ua sql.NullString
		var meta []byte
		if err := rows.Scan(&e.ID, &uid, &e.Action, &resourceType, &resourceID,
			&ip, &ua, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.UserID = uid.Int64
		e.ResourceType = resourceType.String
		e.ResourceID = resourceID.String
		e.IP = ip.String
		e.UserAgent = ua.String
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
