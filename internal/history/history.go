// Package history assembles history bundles for the /_history family of
// interactions (§4.7), grounded on
// original_source/apps/server/src/api/handlers/crud.rs's
// parse_history_query/build_history_entry pair: `_since`/`_at` are mutually
// exclusive, `_sort` accepts `_lastUpdated`/`-_lastUpdated`/`none`, and each
// entry carries a method/status/ETag/Last-Modified derived from the version
// row's own Deleted flag (a tombstone is a synthetic DELETE entry with 204).
package history

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
	"github.com/robertoaraneda/gofhir/internal/store"
)

// Sort is the history bundle's entry ordering.
type Sort int

const (
	SortLastUpdatedDesc Sort = iota
	SortLastUpdatedAsc
	SortNone
)

// Query is one parsed /_history request (§4.7).
type Query struct {
	Count int // 0 means "unset", caller-provided default applies
	Since time.Time
	At    time.Time
	Sort  Sort
}

// Entry is one Bundle.entry of a history response.
type Entry struct {
	FullURL      string
	Method       string // POST | PUT | DELETE
	Status       string // "200 OK" | "201 Created" | "204 No Content"
	ETag         string
	LastModified time.Time
	Resource     *store.Resource // nil for a DELETE entry (§4.7: no body)
}

// Result is the fully materialized history, ready for Bundle rendering.
type Result struct {
	Total   int
	Entries []Entry
}

// ParseQuery parses a raw (possibly empty) query string into a Query,
// mirroring original_source's parse_history_query: history parameters must
// not repeat, `_since`/`_at` are RFC3339 instants and mutually exclusive,
// `_sort` is one of `-_lastUpdated`/`_lastUpdated`/`none`, `_list` is
// rejected as NotImplemented, and `_format`/`_pretty` are ignored here
// (handled by content negotiation upstream). Any other key is a validation
// error.
func ParseQuery(rawQuery string) (Query, error) {
	q := Query{Sort: SortLastUpdatedDesc}
	if rawQuery == "" {
		return q, nil
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return Query{}, fhirerr.Validation("malformed query string: %v", err)
	}

	seen := map[string]bool{}
	for key, vs := range values {
		if seen[key] || len(vs) > 1 {
			return Query{}, fhirerr.Validation("history parameter '%s' must not appear more than once", key)
		}
		seen[key] = true
		v := ""
		if len(vs) > 0 {
			v = vs[0]
		}

		switch key {
		case "_count":
			n, err := strconv.Atoi(v)
			if err != nil {
				return Query{}, fhirerr.Validation("invalid _count value: %s", v)
			}
			if n < 0 {
				return Query{}, fhirerr.Validation("_count must be a non-negative integer")
			}
			q.Count = n
		case "_since":
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return Query{}, fhirerr.Validation("invalid _since instant: %s", v)
			}
			q.Since = t.UTC()
		case "_at":
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return Query{}, fhirerr.Validation("invalid _at instant: %s", v)
			}
			q.At = t.UTC()
		case "_sort":
			switch v {
			case "-_lastUpdated":
				q.Sort = SortLastUpdatedDesc
			case "_lastUpdated":
				q.Sort = SortLastUpdatedAsc
			case "none":
				q.Sort = SortNone
			default:
				return Query{}, fhirerr.Validation("invalid _sort value for history: %s", v)
			}
		case "_list":
			return Query{}, fhirerr.NotImplemented("history parameter '_list' is not yet supported")
		case "_format", "_pretty":
			// handled via content negotiation upstream
		default:
			return Query{}, fhirerr.Validation("unsupported history parameter: %s", key)
		}
	}

	if !q.Since.IsZero() && !q.At.IsZero() {
		return Query{}, fhirerr.Validation("history parameters '_since' and '_at' cannot be used together")
	}
	return q, nil
}

// Service assembles history bundles.
type Service struct {
	store   *store.Store
	baseURL string
}

func New(s *store.Store, baseURL string) *Service {
	return &Service{store: s, baseURL: baseURL}
}

// Instance assembles /Type/id/_history.
func (s *Service) Instance(ctx context.Context, resourceType, id string, q Query) (*Result, error) {
	versions, err := s.store.ListVersions(ctx, s.store.Pool(), resourceType, id)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fhirerr.NotFound(resourceType, id)
	}
	return assemble(s.baseURL, versions, q)
}

// Type assembles /Type/_history across every logical resource of that type.
func (s *Service) Type(ctx context.Context, resourceType string, q Query) (*Result, error) {
	versions, err := s.fetchAllVersions(ctx, resourceType, "")
	if err != nil {
		return nil, err
	}
	return assemble(s.baseURL, versions, q)
}

// System assembles /_history across every resource type.
func (s *Service) System(ctx context.Context, q Query) (*Result, error) {
	versions, err := s.fetchAllVersions(ctx, "", "")
	if err != nil {
		return nil, err
	}
	return assemble(s.baseURL, versions, q)
}

func (s *Service) fetchAllVersions(ctx context.Context, resourceType, id string) ([]*store.Resource, error) {
	query := `SELECT resource_type, id, version_id, last_updated, is_current, deleted, resource FROM resources`
	var args []interface{}
	if resourceType != "" {
		query += ` WHERE resource_type = $1`
		args = append(args, resourceType)
	}
	query += ` ORDER BY last_updated ASC`

	rows, err := s.store.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fhirerr.Internal(err, "fetch history across %s", orAll(resourceType))
	}
	defer rows.Close()

	var out []*store.Resource
	for rows.Next() {
		var r store.Resource
		if err := rows.Scan(&r.ResourceType, &r.ID, &r.VersionID, &r.LastUpdated, &r.IsCurrent, &r.Deleted, &r.Body); err != nil {
			return nil, fhirerr.Internal(err, "scan history row")
		}
		out = append(out, &r)
	}
	return out, nil
}

func orAll(resourceType string) string {
	if resourceType == "" {
		return "all resource types"
	}
	return resourceType
}

// assemble applies _since/_at filtering, sorting, and _count pagination,
// and renders each surviving version as an Entry.
func assemble(baseURL string, versions []*store.Resource, q Query) (*Result, error) {
	if !q.Since.IsZero() && !q.At.IsZero() {
		return nil, fhirerr.Validation("history parameters '_since' and '_at' cannot be used together")
	}

	filtered := versions[:0]
	for _, v := range versions {
		if !q.Since.IsZero() && v.LastUpdated.Before(q.Since) {
			continue
		}
		if !q.At.IsZero() && v.LastUpdated.After(q.At) {
			continue
		}
		filtered = append(filtered, v)
	}

	switch q.Sort {
	case SortLastUpdatedAsc:
		sort.Slice(filtered, func(i, j int) bool { return filtered[i].LastUpdated.Before(filtered[j].LastUpdated) })
	case SortNone:
		// preserve insertion (commit) order: natural version_id ordering
		// the store already produced, reversed to descending per §4.7's
		// default history direction.
		reverseResources(filtered)
	default: // SortLastUpdatedDesc
		sort.Slice(filtered, func(i, j int) bool { return filtered[i].LastUpdated.After(filtered[j].LastUpdated) })
	}

	total := len(filtered)
	if q.Count > 0 && q.Count < total {
		filtered = filtered[:q.Count]
	}

	entries := make([]Entry, 0, len(filtered))
	for _, v := range filtered {
		entries = append(entries, toEntry(baseURL, v))
	}
	return &Result{Total: total, Entries: entries}, nil
}

func reverseResources(rs []*store.Resource) {
	for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
		rs[i], rs[j] = rs[j], rs[i]
	}
}

func toEntry(baseURL string, v *store.Resource) Entry {
	e := Entry{
		FullURL:      fmt.Sprintf("%s/%s/%s/_history/%d", baseURL, v.ResourceType, v.ID, v.VersionID),
		ETag:         v.ETag(),
		LastModified: v.LastUpdated,
	}
	switch {
	case v.Deleted:
		e.Method = "DELETE"
		e.Status = "204 No Content"
	case v.VersionID == 1:
		e.Method = "POST"
		e.Status = "201 Created"
		e.Resource = v
	default:
		e.Method = "PUT"
		e.Status = "200 OK"
		e.Resource = v
	}
	return e
}
