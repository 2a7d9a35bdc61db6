// Package store persists FHIR resources and their search index rows (§3.1,
// §3.2, §6.2) against Postgres via pgx/v5. The resources table and the
// per-parameter-type index tables are both written inside one serializable
// transaction per mutating operation (§5), grounded on the
// querier-interface-over-context pattern used for resource_history access
// in other_examples' history.go/chain.go.
package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
)

//go:embed schema.sql
var schemaSQL string

// Resource is one persisted version row (§3.1).
type Resource struct {
	ResourceType string
	ID           string
	VersionID    int64
	LastUpdated  time.Time
	IsCurrent    bool
	Deleted      bool
	Body         json.RawMessage
}

// ETag renders the version as the ASCII encoding `W/"{version_id}"` (§3.4).
func (r *Resource) ETag() string {
	return fmt.Sprintf(`W/"%d"`, r.VersionID)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, mirroring the
// context-scoped querier interface other_examples' history.go uses to share
// one code path between ambient pool access and an active transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store wraps a pgxpool.Pool with the resource and search-index table
// operations the CRUD, history, and search subsystems depend on.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-constructed pool. Callers build the pool (DSN, max
// conns) from internal/config.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pool for read paths (history, search,
// terminology) that query it directly outside a transaction.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Tx runs fn inside a serializable transaction (§5's "transactions scoped
// to the operation" requirement) and commits on success.
func (s *Store) Tx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fhirerr.Internal(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fhirerr.Internal(err, "commit transaction")
	}
	return nil
}

// Migrate applies schema.sql, which is idempotent (every statement is
// `CREATE ... IF NOT EXISTS`), backing `gofhir migrate`.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fhirerr.Internal(err, "apply schema")
	}
	return nil
}

// GetCurrent fetches the current (possibly deleted/tombstoned) version of
// (resourceType, id). Returns a NotFound fhirerr if the pair has no rows at
// all, distinct from a current-but-deleted row (callers check r.Deleted to
// surface Gone instead, per §7).
func (s *Store) GetCurrent(ctx context.Context, q querier, resourceType, id string) (*Resource, error) {
	var r Resource
	err := q.QueryRow(ctx, `
		SELECT resource_type, id, version_id, last_updated, is_current, deleted, resource
		FROM resources
		WHERE resource_type = $1 AND id = $2 AND is_current = true`,
		resourceType, id).
		Scan(&r.ResourceType, &r.ID, &r.VersionID, &r.LastUpdated, &r.IsCurrent, &r.Deleted, &r.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fhirerr.NotFound(resourceType, id)
	}
	if err != nil {
		return nil, fhirerr.Internal(err, "fetch current version of %s/%s", resourceType, id)
	}
	return &r, nil
}

// GetVersion fetches a specific historical (or current) version.
func (s *Store) GetVersion(ctx context.Context, q querier, resourceType, id string, versionID int64) (*Resource, error) {
	var r Resource
	err := q.QueryRow(ctx, `
		SELECT resource_type, id, version_id, last_updated, is_current, deleted, resource
		FROM resources
		WHERE resource_type = $1 AND id = $2 AND version_id = $3`,
		resourceType, id, versionID).
		Scan(&r.ResourceType, &r.ID, &r.VersionID, &r.LastUpdated, &r.IsCurrent, &r.Deleted, &r.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fhirerr.NotFound(resourceType, id)
	}
	if err != nil {
		return nil, fhirerr.Internal(err, "fetch %s/%s version %d", resourceType, id, versionID)
	}
	return &r, nil
}

// ListVersions returns every version of (resourceType, id) oldest-first, the
// shape the history bundle assembler (internal/history) iterates over.
func (s *Store) ListVersions(ctx context.Context, q querier, resourceType, id string) ([]*Resource, error) {
	rows, err := q.Query(ctx, `
		SELECT resource_type, id, version_id, last_updated, is_current, deleted, resource
		FROM resources
		WHERE resource_type = $1 AND id = $2
		ORDER BY version_id ASC`,
		resourceType, id)
	if err != nil {
		return nil, fhirerr.Internal(err, "list versions of %s/%s", resourceType, id)
	}
	defer rows.Close()

	var out []*Resource
	for rows.Next() {
		var r Resource
		if err := rows.Scan(&r.ResourceType, &r.ID, &r.VersionID, &r.LastUpdated, &r.IsCurrent, &r.Deleted, &r.Body); err != nil {
			return nil, fhirerr.Internal(err, "scan version row")
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fhirerr.Internal(err, "iterate version rows")
	}
	return out, nil
}

// InsertVersion appends a new version row and demotes the previous current
// row (if any) within the caller's transaction, preserving the §3.1
// invariant that exactly one row per (type,id) has is_current=true and its
// version_id is the group maximum.
func (s *Store) InsertVersion(ctx context.Context, tx pgx.Tx, r *Resource) error {
	_, err := tx.Exec(ctx, `
		UPDATE resources SET is_current = false
		WHERE resource_type = $1 AND id = $2 AND is_current = true`,
		r.ResourceType, r.ID)
	if err != nil {
		return fhirerr.Internal(err, "demote previous current version of %s/%s", r.ResourceType, r.ID)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO resources (resource_type, id, version_id, last_updated, is_current, deleted, resource)
		VALUES ($1, $2, $3, $4, true, $5, $6)`,
		r.ResourceType, r.ID, r.VersionID, r.LastUpdated, r.Deleted, r.Body)
	if err != nil {
		return fhirerr.Internal(err, "insert version %d of %s/%s", r.VersionID, r.ResourceType, r.ID)
	}
	return nil
}

// NextVersionID returns 1 + the current maximum version_id for (type,id), or
// 1 if no rows exist yet — the §8 invariant `new.version_id = old.version_id + 1`.
func (s *Store) NextVersionID(ctx context.Context, tx pgx.Tx, resourceType, id string) (int64, error) {
	var maxVersion int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(version_id), 0) FROM resources
		WHERE resource_type = $1 AND id = $2`,
		resourceType, id).Scan(&maxVersion)
	if err != nil {
		return 0, fhirerr.Internal(err, "compute next version id for %s/%s", resourceType, id)
	}
	return maxVersion + 1, nil
}
