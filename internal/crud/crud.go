// Package crud implements the resource-level interactions of §4.6: read,
// vread, create, update, patch, delete, their conditional variants, and
// delete_history, wired against internal/store's version table and
// internal/search for conditional-criteria matching. Transactional shape
// (demote-then-insert under a serializable transaction) is grounded on
// internal/store.Store.Tx and the teacher's own db-layer request-scoped
// transaction pattern.
package crud

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/buger/jsonparser"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
	"github.com/robertoaraneda/gofhir/internal/store"
)

// Indexer re-derives and persists a resource version's search-index rows;
// implemented by internal/search's indexing pipeline, kept here as a
// narrow interface so this package doesn't import the full search stack.
type Indexer interface {
	Index(ctx context.Context, tx pgx.Tx, r *store.Resource) error
}

// Searcher resolves a conditional-interaction query string to the set of
// matching current resource ids, implemented by the search subsystem.
type Searcher interface {
	MatchIDs(ctx context.Context, resourceType, rawQuery string) ([]string, error)
}

// Service implements the CRUD interactions against a store.Store.
type Service struct {
	store   *store.Store
	indexer Indexer
	search  Searcher
	now     func() time.Time
}

// New constructs a Service. nowFn defaults to time.Now; a fixed clock may
// be substituted in tests.
func New(s *store.Store, indexer Indexer, search Searcher, nowFn func() time.Time) *Service {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Service{store: s, indexer: indexer, search: search, now: nowFn}
}

// Read returns the current version, surfacing Gone for a tombstoned
// current row rather than NotFound (§4.6 read precondition).
func (s *Service) Read(ctx context.Context, resourceType, id string) (*store.Resource, error) {
	r, err := s.store.GetCurrent(ctx, s.store.Pool(), resourceType, id)
	if err != nil {
		return nil, err
	}
	if r.Deleted {
		return nil, fhirerr.Gone(resourceType, id)
	}
	return r, nil
}

// VRead returns a specific historical (or current) version. A version that
// is itself a tombstone is reported as Gone rather than returned; a version
// that does not exist is the store's NotFound.
func (s *Service) VRead(ctx context.Context, resourceType, id string, versionID int64) (*store.Resource, error) {
	r, err := s.store.GetVersion(ctx, s.store.Pool(), resourceType, id, versionID)
	if err != nil {
		return nil, err
	}
	if r.Deleted {
		return nil, fhirerr.Gone(resourceType, id)
	}
	return r, nil
}

func resourceTypeOf(body []byte) (string, error) {
	rt, err := jsonparser.GetString(body, "resourceType")
	if err != nil || rt == "" {
		return "", fhirerr.InvalidResource("body is missing resourceType")
	}
	return rt, nil
}

// Create inserts version 1 of a new logical resource (or the next version
// past a prior tombstone under the same id, if the caller supplied one).
// `ifNoneExist` implements conditional create (§4.6): empty skips the
// check.
func (s *Service) Create(ctx context.Context, resourceType string, body []byte, id, ifNoneExist string) (*store.Resource, bool, error) {
	rt, err := resourceTypeOf(body)
	if err != nil {
		return nil, false, err
	}
	if rt != resourceType {
		return nil, false, fhirerr.InvalidResource("body resourceType %q does not match endpoint type %q", rt, resourceType)
	}

	if ifNoneExist != "" {
		matches, err := s.search.MatchIDs(ctx, resourceType, ifNoneExist)
		if err != nil {
			return nil, false, err
		}
		switch len(matches) {
		case 0:
			// proceed with create below
		case 1:
			existing, err := s.store.GetCurrent(ctx, s.store.Pool(), resourceType, matches[0])
			if err != nil {
				return nil, false, err
			}
			return existing, true, nil
		default:
			return nil, false, fhirerr.PreconditionFailed("If-None-Exist query %q matched %d resources", ifNoneExist, len(matches))
		}
	}

	var created *store.Resource
	err = s.store.Tx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		resolvedID := id
		if resolvedID == "" {
			resolvedID = uuid.NewString()
		}
		versionID, err := s.store.NextVersionID(ctx, tx, resourceType, resolvedID)
		if err != nil {
			return err
		}
		r := &store.Resource{
			ResourceType: resourceType,
			ID:           resolvedID,
			VersionID:    versionID,
			LastUpdated:  s.now(),
			IsCurrent:    true,
			Body:         stampMeta(body, resolvedID, versionID, s.now()),
		}
		if err := s.store.InsertVersion(ctx, tx, r); err != nil {
			return err
		}
		if err := s.indexer.Index(ctx, tx, r); err != nil {
			return err
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return created, false, nil
}

// Update writes current+1 for (resourceType, id), optionally creating it if
// absent. ifMatchVersion, when non-nil, enforces optimistic concurrency
// against the current version (§4.6 VersionConflict).
func (s *Service) Update(ctx context.Context, resourceType, id string, body []byte, ifMatchVersion *int64) (*store.Resource, bool, error) {
	rt, err := resourceTypeOf(body)
	if err != nil {
		return nil, false, err
	}
	if rt != resourceType {
		return nil, false, fhirerr.InvalidResource("body resourceType %q does not match endpoint type %q", rt, resourceType)
	}

	var updated *store.Resource
	created := false
	err = s.store.Tx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		current, err := s.store.GetCurrent(ctx, tx, resourceType, id)
		if err != nil && fhirerr.KindOf(err) != fhirerr.KindNotFound {
			return err
		}
		if current == nil && ifMatchVersion != nil {
			return fhirerr.VersionConflict(*ifMatchVersion, 0)
		}
		if current != nil && ifMatchVersion != nil && current.VersionID != *ifMatchVersion {
			return fhirerr.VersionConflict(*ifMatchVersion, current.VersionID)
		}
		created = current == nil

		versionID, err := s.store.NextVersionID(ctx, tx, resourceType, id)
		if err != nil {
			return err
		}
		r := &store.Resource{
			ResourceType: resourceType,
			ID:           id,
			VersionID:    versionID,
			LastUpdated:  s.now(),
			IsCurrent:    true,
			Body:         stampMeta(body, id, versionID, s.now()),
		}
		if err := s.store.InsertVersion(ctx, tx, r); err != nil {
			return err
		}
		if err := s.indexer.Index(ctx, tx, r); err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return updated, created, nil
}

// Patch applies a JSON Patch document to the current version and writes
// the result as a new version (§4.6).
func (s *Service) Patch(ctx context.Context, resourceType, id string, ops []PatchOp, ifMatchVersion *int64) (*store.Resource, error) {
	var patched *store.Resource
	err := s.store.Tx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		current, err := s.store.GetCurrent(ctx, tx, resourceType, id)
		if err != nil {
			return err
		}
		if current.Deleted {
			return fhirerr.Gone(resourceType, id)
		}
		if ifMatchVersion != nil && current.VersionID != *ifMatchVersion {
			return fhirerr.VersionConflict(*ifMatchVersion, current.VersionID)
		}

		newBody, err := ApplyJSONPatch(current.Body, ops)
		if err != nil {
			return err
		}
		rt, err := resourceTypeOf(newBody)
		if err != nil {
			return err
		}
		if rt != resourceType {
			return fhirerr.InvalidResource("patch changed resourceType from %q to %q", resourceType, rt)
		}

		versionID, err := s.store.NextVersionID(ctx, tx, resourceType, id)
		if err != nil {
			return err
		}
		r := &store.Resource{
			ResourceType: resourceType,
			ID:           id,
			VersionID:    versionID,
			LastUpdated:  s.now(),
			IsCurrent:    true,
			Body:         stampMeta(newBody, id, versionID, s.now()),
		}
		if err := s.store.InsertVersion(ctx, tx, r); err != nil {
			return err
		}
		if err := s.indexer.Index(ctx, tx, r); err != nil {
			return err
		}
		patched = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return patched, nil
}

// Delete appends a tombstone version (§4.6). Deleting an already-deleted
// resource is idempotent: the existing tombstone is returned and no new
// version is written. Deleting a logical id that has never existed
// returns the store's NotFound.
func (s *Service) Delete(ctx context.Context, resourceType, id string) (*store.Resource, error) {
	var tomb *store.Resource
	err := s.store.Tx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		current, err := s.store.GetCurrent(ctx, tx, resourceType, id)
		if err != nil {
			return err
		}
		if current.Deleted {
			tomb = current
			return nil
		}
		versionID, err := s.store.NextVersionID(ctx, tx, resourceType, id)
		if err != nil {
			return err
		}
		r := &store.Resource{
			ResourceType: resourceType,
			ID:           id,
			VersionID:    versionID,
			LastUpdated:  s.now(),
			IsCurrent:    true,
			Deleted:      true,
			Body:         current.Body,
		}
		if err := s.store.InsertVersion(ctx, tx, r); err != nil {
			return err
		}
		if err := s.indexer.Index(ctx, tx, r); err != nil {
			return err
		}
		tomb = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tomb, nil
}

// ConditionalDelete resolves a search query to a target set before
// deleting (§4.6): zero matches is NotFound, more than one is rejected
// unless multiDelete is enabled by configuration.
func (s *Service) ConditionalDelete(ctx context.Context, resourceType, rawQuery string, multiDelete bool) ([]*store.Resource, error) {
	matches, err := s.search.MatchIDs(ctx, resourceType, rawQuery)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fhirerr.New(fhirerr.KindNotFound, "conditional delete criteria %q matched no resources", rawQuery).WithPath(resourceType)
	}
	if len(matches) > 1 && !multiDelete {
		return nil, fhirerr.PreconditionFailed("conditional delete criteria %q matched %d resources", rawQuery, len(matches))
	}
	var deleted []*store.Resource
	for _, id := range matches {
		r, err := s.Delete(ctx, resourceType, id)
		if err != nil {
			return nil, err
		}
		deleted = append(deleted, r)
	}
	return deleted, nil
}

// ConditionalUpdate resolves the target id from a search query (§4.6):
// zero matches creates (using the body's id if supplied), one match
// updates that id, more than one is rejected as ambiguous.
func (s *Service) ConditionalUpdate(ctx context.Context, resourceType, rawQuery string, body []byte, ifMatchVersion *int64) (*store.Resource, bool, error) {
	matches, err := s.search.MatchIDs(ctx, resourceType, rawQuery)
	if err != nil {
		return nil, false, err
	}
	switch len(matches) {
	case 0:
		id, _ := jsonparser.GetString(body, "id")
		return s.Update(ctx, resourceType, id, body, ifMatchVersion)
	case 1:
		return s.Update(ctx, resourceType, matches[0], body, ifMatchVersion)
	default:
		return nil, false, fhirerr.PreconditionFailed("conditional update criteria %q matched %d resources", rawQuery, len(matches))
	}
}

// DeleteHistory purges every non-current version row for (resourceType,
// id), leaving only the current version in place.
func (s *Service) DeleteHistory(ctx context.Context, resourceType, id string) error {
	return s.store.Tx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			DELETE FROM resources
			WHERE resource_type = $1 AND id = $2 AND is_current = false`,
			resourceType, id)
		if err != nil {
			return fhirerr.Internal(err, "purge history for %s/%s", resourceType, id)
		}
		return nil
	})
}

// stampMeta rewrites meta.versionId/meta.lastUpdated on the stored body so
// read/vread responses carry accurate metadata without a second decode
// pass at read time.
func stampMeta(body []byte, id string, versionID int64, lastUpdated time.Time) []byte {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return body
	}
	doc["id"] = id
	meta, _ := doc["meta"].(map[string]interface{})
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["versionId"] = fmt.Sprintf("%d", versionID)
	meta["lastUpdated"] = lastUpdated.UTC().Format(time.RFC3339Nano)
	doc["meta"] = meta
	out, err := json.Marshal(doc)
	if err != nil {
		return body
	}
	return out
}
