package store

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
)

// migration is a pair of forward/backward steps for one schema version,
// mirroring the numbered-migration framework used for the teacher's sqlite
// stores (db/atlasdb, db/pdatadb): each NNN_*.go file registers itself from
// init() via the filename of its caller, so the version number lives in the
// filename rather than being repeated in source.
type migration struct {
	up, down func(ctx context.Context, tx *sqlx.Tx) error
}

var migrations = map[uint64]migration{}

func migrate(up, down func(ctx context.Context, tx *sqlx.Tx) error) {
	_, file, _, ok := runtime.Caller(1)
	if !ok {
		panic("store: migrate: failed to get caller")
	}
	name := filepath.Base(file)
	numStr, _, ok := strings.Cut(name, "_")
	if !ok {
		panic("store: migrate: filename " + name + " does not start with a version number")
	}
	v, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		panic("store: migrate: filename " + name + ": " + err.Error())
	}
	if _, exists := migrations[v]; exists {
		panic(fmt.Sprintf("store: migrate: duplicate migration version %d", v))
	}
	migrations[v] = migration{up: up, down: down}
}

// version returns the current schema version via PRAGMA user_version.
func version(ctx context.Context, db *sqlx.DB) (uint64, error) {
	var v uint64
	if err := db.GetContext(ctx, &v, `PRAGMA user_version`); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return v, nil
}

func setVersion(ctx context.Context, tx *sqlx.Tx, v uint64) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, v)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateUp applies every migration with a version greater than the current
// schema version, in order, each inside its own transaction.
func migrateUp(ctx context.Context, db *sqlx.DB) error {
	cur, err := version(ctx, db)
	if err != nil {
		return err
	}
	versions := make([]uint64, 0, len(migrations))
	for v := range migrations {
		if v > cur {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	for _, v := range versions {
		if err := func() error {
			tx, err := db.BeginTxx(ctx, nil)
			if err != nil {
				return fmt.Errorf("begin migration %d: %w", v, err)
			}
			defer tx.Rollback()
			if err := migrations[v].up(ctx, tx); err != nil {
				return fmt.Errorf("apply migration %d: %w", v, err)
			}
			if err := setVersion(ctx, tx, v); err != nil {
				return err
			}
			return tx.Commit()
		}(); err != nil {
			return err
		}
	}
	return nil
}
