package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/andresmejia3/warden/internal/auth"
	"github.com/andresmejia3/warden/internal/types"
)

var (
	ErrIdentityExists   = errors.New("identity already exists")
	ErrIdentityNotFound = errors.New("identity not found")
)

// Conn is the subset of *pgx.Conn the store uses. pgxmock's connection mock satisfies it.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

// Store manages the PostgreSQL connection and pgvector operations.
type Store struct {
	conn Conn
}

// Identity is one enrolled face as listed to operators.
type Identity struct {
	ID        int
	Name      string
	Model     string
	Source    string
	CreatedAt time.Time
}

// Verification is one audited kiosk session that reached the backend.
type Verification struct {
	ID            uuid.UUID
	Code          string
	IdentityName  string
	TransactionID string
	Direction     string
	Outcome       string
	Detail        string
	VerifiedBy    string
	CreatedAt     time.Time
}

const (
	OutcomeConfirmed = "confirmed"
	OutcomeFailed    = "failed"
)

const (
	queryLoadGallery     = `SELECT id, name, embedding FROM known_identities WHERE model = $1 ORDER BY id`
	queryCreateIdentity  = `INSERT INTO known_identities (name, model, source, embedding) VALUES ($1, $2, $3, $4) RETURNING id`
	queryRenameIdentity  = `UPDATE known_identities SET name = $1 WHERE id = $2`
	queryDeleteIdentity  = `DELETE FROM known_identities WHERE id = $1`
	queryListIdentities  = `SELECT id, name, model, source, created_at FROM known_identities ORDER BY id`
	queryInsertVerify    = `INSERT INTO verifications (id, code, identity_name, transaction_id, direction, outcome, detail, verified_by) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	queryListVerify      = `SELECT id, code, identity_name, transaction_id, direction, outcome, detail, verified_by, created_at FROM verifications ORDER BY created_at DESC LIMIT $1`
	querySaveOperator    = `INSERT INTO operator_sessions (id, username, display_name, token, app_id, role_id, permissions, signed_in_at, expires_at) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, display_name = EXCLUDED.display_name, token = EXCLUDED.token, app_id = EXCLUDED.app_id, role_id = EXCLUDED.role_id, permissions = EXCLUDED.permissions, signed_in_at = EXCLUDED.signed_in_at, expires_at = EXCLUDED.expires_at`
	queryLoadOperator    = `SELECT username, display_name, token, app_id, role_id, permissions, signed_in_at, expires_at FROM operator_sessions WHERE id = 1`
	queryClearOperator   = `DELETE FROM operator_sessions`
	queryResetAllTables  = `DROP TABLE IF EXISTS verifications, operator_sessions, known_identities, schema_migrations CASCADE`
	queryCountIdentities = `SELECT COUNT(*) FROM known_identities WHERE model = $1`
)

// Open migrates the schema and connects.
func Open(ctx context.Context, connString string) (*Store, error) {
	if err := Migrate(ctx, connString); err != nil {
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &Store{conn: conn}, nil
}

// New wraps an existing connection without running migrations.
func New(conn Conn) *Store {
	return &Store{conn: conn}
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// LoadGallery returns every identity enrolled with the given embedding model.
func (s *Store) LoadGallery(ctx context.Context, model string) ([]types.GalleryEntry, error) {
	rows, err := s.conn.Query(ctx, queryLoadGallery, model)
	if err != nil {
		return nil, fmt.Errorf("load gallery: %w", err)
	}
	defer rows.Close()

	var entries []types.GalleryEntry
	for rows.Next() {
		var e types.GalleryEntry
		var embedding *pgvector.Vector
		if err := rows.Scan(&e.ID, &e.Name, &embedding); err != nil {
			return nil, fmt.Errorf("scan gallery entry: %w", err)
		}
		if embedding != nil {
			e.Embedding = types.Embedding(embedding.Slice())
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gallery: %w", err)
	}
	return entries, nil
}

// CountIdentities reports how many identities exist for model.
func (s *Store) CountIdentities(ctx context.Context, model string) (int, error) {
	var n int
	if err := s.conn.QueryRow(ctx, queryCountIdentities, model).Scan(&n); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return n, nil
}

// CreateIdentity enrolls a named face and returns its ID.
func (s *Store) CreateIdentity(ctx context.Context, name, model, source string, emb types.Embedding) (int, error) {
	vec := pgvector.NewVector([]float32(emb))

	var id int
	err := s.conn.QueryRow(ctx, queryCreateIdentity, name, model, source, &vec).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrIdentityExists, name)
		}
		return 0, fmt.Errorf("create identity: %w", err)
	}
	return id, nil
}

// RenameIdentity updates the name of a known identity.
func (s *Store) RenameIdentity(ctx context.Context, id int, newName string) error {
	tag, err := s.conn.Exec(ctx, queryRenameIdentity, newName, id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrIdentityExists, newName)
		}
		return fmt.Errorf("rename identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// DeleteIdentity removes an enrolled face.
func (s *Store) DeleteIdentity(ctx context.Context, id int) error {
	tag, err := s.conn.Exec(ctx, queryDeleteIdentity, id)
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// ListIdentities returns every enrolled face, oldest first.
func (s *Store) ListIdentities(ctx context.Context) ([]Identity, error) {
	rows, err := s.conn.Query(ctx, queryListIdentities)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		var i Identity
		if err := rows.Scan(&i.ID, &i.Name, &i.Model, &i.Source, &i.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// InsertVerification appends one audit row. A nil ID is replaced with a fresh UUID.
func (s *Store) InsertVerification(ctx context.Context, v Verification) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	_, err := s.conn.Exec(ctx, queryInsertVerify,
		v.ID, v.Code, v.IdentityName, v.TransactionID, v.Direction, v.Outcome, v.Detail, v.VerifiedBy)
	if err != nil {
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

// ListVerifications returns the most recent audit rows, newest first.
func (s *Store) ListVerifications(ctx context.Context, limit int) ([]Verification, error) {
	rows, err := s.conn.Query(ctx, queryListVerify, limit)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	var out []Verification
	for rows.Next() {
		var v Verification
		if err := rows.Scan(&v.ID, &v.Code, &v.IdentityName, &v.TransactionID, &v.Direction,
			&v.Outcome, &v.Detail, &v.VerifiedBy, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SaveOperatorSession implements auth.Store. Only one operator session exists at a time.
func (s *Store) SaveOperatorSession(ctx context.Context, c auth.Credentials) error {
	var expires *time.Time
	if !c.ExpiresAt.IsZero() {
		expires = &c.ExpiresAt
	}
	perms := c.Permissions
	if perms == nil {
		perms = []string{}
	}
	_, err := s.conn.Exec(ctx, querySaveOperator,
		c.Username, c.DisplayName, c.Token, c.AppID, c.RoleID, perms, c.SignedInAt, expires)
	if err != nil {
		return fmt.Errorf("save operator session: %w", err)
	}
	return nil
}

// LoadOperatorSession implements auth.Store. It returns nil without error when nobody is signed in.
func (s *Store) LoadOperatorSession(ctx context.Context) (*auth.Credentials, error) {
	var c auth.Credentials
	var expires *time.Time
	err := s.conn.QueryRow(ctx, queryLoadOperator).Scan(
		&c.Username, &c.DisplayName, &c.Token, &c.AppID, &c.RoleID, &c.Permissions, &c.SignedInAt, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load operator session: %w", err)
	}
	if expires != nil {
		c.ExpiresAt = *expires
	}
	return &c, nil
}

// ClearOperatorSession implements auth.Store.
func (s *Store) ClearOperatorSession(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, queryClearOperator); err != nil {
		return fmt.Errorf("clear operator session: %w", err)
	}
	return nil
}

// Reset drops all application tables, including the migration ledger, so the
// next Open rebuilds the schema from scratch.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, queryResetAllTables)
	return err
}

// isUniqueViolation checks if the error is a unique constraint violation
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}
