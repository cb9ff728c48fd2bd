package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up001, down001)
}

func up001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, strings.ReplaceAll(`
		CREATE TABLE accounts (
			id              INTEGER PRIMARY KEY NOT NULL,
			username        TEXT,
			token           TEXT,
			token_created   INTEGER,
			last_auth_ip    TEXT,
			current_server  TEXT,
			persistent_blob BLOB
		) STRICT;
	`, `
		`, "\n")); err != nil {
		return fmt.Errorf("create accounts table: %w", err)
	}
	return nil
}

func down001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `DROP TABLE accounts`); err != nil {
		return fmt.Errorf("drop accounts table: %w", err)
	}
	return nil
}
