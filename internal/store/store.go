// Package store implements the durable per-account state: the C3 component
// of the master server's design. A single sqlite database holds one row per
// account, including its persistent progression blob, following the
// STRICT-table, numbered-migration idiom of the teacher's db/atlasdb package.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Alainx277/northstar-master-server/internal/uid"
)

// TokenFreshness is the maximum age of a session token before Authenticate
// rejects it (spec: 24 hours).
const TokenFreshness = 24 * time.Hour

// ErrNotFound is returned by operations that require an existing account.
var ErrNotFound = errors.New("store: account not found")

// ErrAlreadyExists is returned by Create when the account id is already
// present.
var ErrAlreadyExists = errors.New("store: account already exists")

// ErrNoAuthIP is returned by GetAuth when the account has no last_auth_ip on
// record.
var ErrNoAuthIP = errors.New("store: account has no last_auth_ip")

// Store is a sqlite-backed account store. The zero value is not usable; use
// Open.
type Store struct {
	db          *sqlx.DB
	defaultBlob []byte
}

// Open opens (creating if necessary) the sqlite database at dsn and applies
// any pending migrations. defaultBlob is the canonical default persistence
// blob (read once at process startup from the default.pdata asset) returned
// by GetData when an account has never had data written.
func Open(ctx context.Context, dsn string, defaultBlob []byte) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite does not support true concurrent writers; matches the teacher's atlasdb pattern
	if err := migrateUp(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &Store{db: db, defaultBlob: defaultBlob}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Exists reports whether an account with the given id is present.
func (s *Store) Exists(ctx context.Context, id uint32) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM accounts WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("check account existence: %w", err)
	}
	return n > 0, nil
}

// Create inserts an empty account record. It fails with ErrAlreadyExists if
// the id is already present.
func (s *Store) Create(ctx context.Context, id uint32) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO accounts (id) VALUES (?)`, id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// CreateToken generates a fresh session token for id, records it along with
// the issuing ip and the current time, and returns the token. It overwrites
// any prior token.
func (s *Store) CreateToken(ctx context.Context, id uint32, ip netip.Addr) (uid.UID, error) {
	token, err := uid.New()
	if err != nil {
		return uid.UID{}, fmt.Errorf("generate token: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET token = ?, token_created = ?, last_auth_ip = ?
		WHERE id = ?`,
		token.String(), time.Now().UTC().Unix(), ip.String(), id)
	if err != nil {
		return uid.UID{}, fmt.Errorf("create token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return uid.UID{}, ErrNotFound
	}
	return token, nil
}

// Authenticate reports whether token matches the account's current token and
// was issued within TokenFreshness of now.
func (s *Store) Authenticate(ctx context.Context, id uint32, token uid.UID) (bool, error) {
	var row struct {
		Token        sql.NullString
		TokenCreated sql.NullInt64
	}
	err := s.db.GetContext(ctx, &row, `SELECT token, token_created FROM accounts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("authenticate: %w", err)
	}
	if !row.Token.Valid || !row.TokenCreated.Valid {
		return false, nil
	}
	if row.Token.String != token.String() {
		return false, nil
	}
	created := time.Unix(row.TokenCreated.Int64, 0).UTC()
	return time.Since(created) < TokenFreshness, nil
}

// GetName returns the account's display name, or "" if unset.
func (s *Store) GetName(ctx context.Context, id uint32) (string, error) {
	var name sql.NullString
	err := s.db.GetContext(ctx, &name, `SELECT username FROM accounts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get name: %w", err)
	}
	return name.String, nil
}

// GetData returns the account's stored persistence blob, or the canonical
// default blob if the account exists but has never had data written. It
// fails with ErrNotFound if the account itself doesn't exist.
func (s *Store) GetData(ctx context.Context, id uint32) ([]byte, error) {
	var blob []byte
	err := s.db.GetContext(ctx, &blob, `SELECT persistent_blob FROM accounts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get data: %w", err)
	}
	if blob == nil {
		return s.defaultBlob, nil
	}
	return blob, nil
}

// SetData replaces the account's stored blob. The caller is responsible for
// length validation (see internal/broker's persistence-upload authorization).
func (s *Store) SetData(ctx context.Context, id uint32, data []byte) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET persistent_blob = ? WHERE id = ?`, data, id)
	if err != nil {
		return fmt.Errorf("set data: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Auth is the result of GetAuth.
type Auth struct {
	CurrentServer *uid.UID
	LastAuthIP    netip.Addr
}

// GetAuth returns the account's current server and last auth IP. It fails
// with ErrNoAuthIP if the account has never been issued a token.
func (s *Store) GetAuth(ctx context.Context, id uint32) (Auth, error) {
	var row struct {
		CurrentServer sql.NullString
		LastAuthIP    sql.NullString
	}
	err := s.db.GetContext(ctx, &row, `SELECT current_server, last_auth_ip FROM accounts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Auth{}, ErrNotFound
	}
	if err != nil {
		return Auth{}, fmt.Errorf("get auth: %w", err)
	}
	if !row.LastAuthIP.Valid || row.LastAuthIP.String == "" {
		return Auth{}, ErrNoAuthIP
	}
	ip, err := netip.ParseAddr(row.LastAuthIP.String)
	if err != nil {
		return Auth{}, fmt.Errorf("parse stored last_auth_ip: %w", err)
	}
	a := Auth{LastAuthIP: ip}
	if row.CurrentServer.Valid && row.CurrentServer.String != "" {
		id, err := uid.Parse(row.CurrentServer.String)
		if err != nil {
			return Auth{}, fmt.Errorf("parse stored current_server: %w", err)
		}
		a.CurrentServer = &id
	}
	return a, nil
}

// JoinServer records the server the account last joined through the broker.
func (s *Store) JoinServer(ctx context.Context, id uint32, server uid.UID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET current_server = ? WHERE id = ?`, server.String(), id)
	if err != nil {
		return fmt.Errorf("join server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// go-sqlite3 reports constraint violations with this substring; sqlx/database/sql
	// don't give us a portable sentinel, so this is the same string match the
	// sqlite ecosystem relies on.
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "PRIMARY KEY"))
}
