// Package sqlxrepos implements the core repositories on top of sqlx, for both PostgreSQL and SQLite.
// Queries are written with `?` placeholders and rebound to the driver's bindvar.
package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/flare-portal/flare/core"
)

// repository is embedded by every repository. It runs queries in the transaction of the context, if any.
type repository struct {
	db core.DBExecutor
}

func (repo repository) getExec(ctx context.Context) core.DBExecutor {
	if tx, ok := core.TxFromContext(ctx); ok {
		return tx
	}
	return repo.db
}

func (repo repository) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	exec := repo.getExec(ctx)
	return sqlx.GetContext(ctx, exec, dest, exec.Rebind(query), args...)
}

func (repo repository) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	exec := repo.getExec(ctx)
	return sqlx.SelectContext(ctx, exec, dest, exec.Rebind(query), args...)
}

func (repo repository) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	exec := repo.getExec(ctx)
	return exec.ExecContext(ctx, exec.Rebind(query), args...)
}

func (repo repository) isPostgres(ctx context.Context) bool {
	return repo.getExec(ctx).DriverName() == "postgres"
}

// in expands the slice arguments of an `IN (?)` query.
func in(query string, args ...interface{}) (string, []interface{}) {
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		// sqlx.In only fails on empty slices, which callers never pass
		panic(errors.Wrap(err, "expanding IN query"))
	}
	return q, a
}

// trapNoRowsErr maps the "no rows" error to notFound.
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	switch e := errors.Cause(err).(type) {
	case *pq.Error:
		return e.Code == "23505"
	case *sqlite.Error:
		code := e.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
		return code == sqlite3.SQLITE_CONSTRAINT && strings.Contains(e.Error(), "UNIQUE constraint failed")
	}
	return false
}

// orderBy builds an ORDER BY clause from the orderings whose field is a key of columns,
// falling back to def when none is usable.
func orderBy(orderings []core.DBOrdering, columns map[string]string, def string) string {
	clauses := make([]string, 0, len(orderings))
	for _, ord := range orderings {
		col, ok := columns[ord.Field]
		if !ok {
			continue
		}
		clauses = append(clauses, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
	}
	if len(clauses) == 0 {
		return " ORDER BY " + def
	}
	return " ORDER BY " + strings.Join(clauses, ", ")
}
