package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"gatecode.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users() UserStore             { return &userStore{db: s.db} }
func (s *PGStore) AccessCodes() AccessCodeStore { return &codeStore{db: s.db} }
func (s *PGStore) Sessions() SessionStore       { return &sessionStore{db: s.db} }
func (s *PGStore) Audit() AuditStore            { return &auditStore{db: s.db} }

// User store ---------------------------------------------------------------

type userStore struct{ db *sql.DB }

const userColumns = `id, external_id, email, display_name, role, is_active, created_at, last_login_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u          User
		externalID sql.NullString
		email      sql.NullString
		lastLogin  sql.NullTime
	)
	if err := row.Scan(&u.ID, &externalID, &email, &u.DisplayName, &u.Role, &u.IsActive, &u.CreatedAt, &lastLogin); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.ExternalID = externalID.String
	u.Email = email.String
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, external_id, email, display_name, role, is_active)
		 values($1, nullif($2,''), nullif($3,''), $4, $5, $6)`,
		u.ID, u.ExternalID, u.Email, u.DisplayName, u.Role, u.IsActive,
	)
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *userStore) FindByExternalID(ctx context.Context, externalID string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where external_id=$1`, externalID)
	return scanUser(row)
}

func (s *userStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *userStore) Update(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`update users set
		   display_name = coalesce($2, display_name),
		   role         = coalesce($3, role),
		   is_active    = coalesce($4, is_active)
		 where id=$1
		 returning `+userColumns,
		id, upd.DisplayName, (*string)(upd.Role), upd.IsActive,
	)
	return scanUser(row)
}

func (s *userStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update users set last_login_at=$2 where id=$1`, id, at)
	return err
}

// Access code store --------------------------------------------------------

type codeStore struct{ db *sql.DB }

const codeColumns = `id, code_hash, display_code, role_to_assign, max_uses, uses_count,
	expires_at, is_disabled, note, created_by, created_at, last_used_at, last_used_by`

func scanCode(row interface{ Scan(...any) error }) (*AccessCode, error) {
	var (
		c          AccessCode
		maxUses    sql.NullInt64
		expiresAt  sql.NullTime
		createdBy  sql.NullString
		lastUsedAt sql.NullTime
		lastUsedBy sql.NullString
	)
	if err := row.Scan(&c.ID, &c.CodeHash, &c.DisplayCode, &c.RoleToAssign, &maxUses, &c.UsesCount,
		&expiresAt, &c.IsDisabled, &c.Note, &createdBy, &c.CreatedAt, &lastUsedAt, &lastUsedBy); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if maxUses.Valid {
		n := int(maxUses.Int64)
		c.MaxUses = &n
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		c.ExpiresAt = &t
	}
	c.CreatedBy = createdBy.String
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		c.LastUsedAt = &t
	}
	c.LastUsedBy = lastUsedBy.String
	return &c, nil
}

func (s *codeStore) Create(ctx context.Context, c *AccessCode) error {
	if c.ID == "" {
		c.ID = ids.New()
	}
	var maxUses any
	if c.MaxUses != nil {
		maxUses = *c.MaxUses
	}
	var expiresAt any
	if c.ExpiresAt != nil {
		expiresAt = *c.ExpiresAt
	}
	_, err := s.db.ExecContext(ctx,
		`insert into access_codes(id, code_hash, display_code, role_to_assign, max_uses, expires_at, note, created_by)
		 values($1,$2,$3,$4,$5,$6,$7,nullif($8,''))`,
		c.ID, c.CodeHash, c.DisplayCode, c.RoleToAssign, maxUses, expiresAt, c.Note, c.CreatedBy,
	)
	return err
}

func (s *codeStore) Find(ctx context.Context, id string) (*AccessCode, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+codeColumns+` from access_codes where id=$1`, id)
	return scanCode(row)
}

func (s *codeStore) ListActive(ctx context.Context) ([]*AccessCode, error) {
	return s.list(ctx,
		`select `+codeColumns+` from access_codes
		 where is_disabled=false and (expires_at is null or expires_at > now())
		 order by created_at asc`)
}

func (s *codeStore) List(ctx context.Context) ([]*AccessCode, error) {
	return s.list(ctx,
		`select `+codeColumns+` from access_codes order by created_at desc`)
}

func (s *codeStore) list(ctx context.Context, query string) ([]*AccessCode, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []*AccessCode
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// Redeem issues the increment as one conditional statement so the guard and
// the bump are atomic at the database. Losing the race leaves RowsAffected
// at zero, which is indistinguishable from an invalid code by design.
func (s *codeStore) Redeem(ctx context.Context, id, redeemedBy string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update access_codes
		 set uses_count = uses_count + 1, last_used_at=$3, last_used_by=nullif($2,'')
		 where id=$1
		   and is_disabled=false
		   and (expires_at is null or expires_at > $3)
		   and (max_uses is null or uses_count < max_uses)`,
		id, redeemedBy, at,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInvalidCode
	}
	return nil
}

func (s *codeStore) Disable(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update access_codes set is_disabled=true where id=$1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Session store ------------------------------------------------------------

type sessionStore struct{ db *sql.DB }

func (s *sessionStore) TouchActivity(ctx context.Context, tokenID, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`insert into user_sessions(token_id, user_id, last_activity_at)
		 values($1,$2,$3)
		 on conflict (token_id) do update set last_activity_at=excluded.last_activity_at`,
		tokenID, userID, at,
	)
	return err
}

// Audit store --------------------------------------------------------------

type auditStore struct{ db *sql.DB }

func (s *auditStore) Append(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	details, _ := json.Marshal(entry.Details)
	_, err := s.db.ExecContext(ctx,
		`insert into audit_log(id, occurred_at, actor_user_id, action, resource_type, resource_id, details, remote_addr, user_agent)
		 values($1,$2,nullif($3,''),$4,$5,nullif($6,''),$7,nullif($8,''),nullif($9,''))`,
		entry.ID, entry.OccurredAt, entry.ActorUserID, entry.Action,
		entry.ResourceType, entry.ResourceID, details, entry.RemoteAddr, entry.UserAgent,
	)
	return err
}

func (s *auditStore) List(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`select id, occurred_at, actor_user_id, action, resource_type, resource_id, details, remote_addr, user_agent
		 from audit_log
		 where ($1 = '' or actor_user_id = $1)
		   and ($2 = '' or resource_type = $2)
		 order by occurred_at desc
		 limit $3 offset $4`,
		filter.ActorUserID, filter.ResourceType, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var (
			e          AuditEntry
			actor      sql.NullString
			resourceID sql.NullString
			details    []byte
			remoteAddr sql.NullString
			userAgent  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &actor, &e.Action, &e.ResourceType, &resourceID, &details, &remoteAddr, &userAgent); err != nil {
			return nil, err
		}
		e.ActorUserID = actor.String
		e.ResourceID = resourceID.String
		e.RemoteAddr = remoteAddr.String
		e.UserAgent = userAgent.String
		_ = json.Unmarshal(details, &e.Details)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
