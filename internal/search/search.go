// Package search wires the §4 search pipeline end to end: raw query parsing
// (internal/search/params), parameter resolution against a per-type
// definition cache (internal/search/resolve), value normalization
// (internal/search/normalize), SQL compilation (internal/search/
// querybuilder), the `_filter` post-fetch predicate (internal/search/
// filter), and execution against internal/store. It is the single entry
// point both internal/httpapi's search handler and internal/crud's
// conditional-interaction matcher call through.
package search

import (
	"context"
	"net/url"
	"strings"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
	"github.com/robertoaraneda/gofhir/internal/search/compartment"
	"github.com/robertoaraneda/gofhir/internal/search/filter"
	"github.com/robertoaraneda/gofhir/internal/search/normalize"
	"github.com/robertoaraneda/gofhir/internal/search/params"
	"github.com/robertoaraneda/gofhir/internal/search/querybuilder"
	"github.com/robertoaraneda/gofhir/internal/search/resolve"
	"github.com/robertoaraneda/gofhir/internal/store"
)

// Service executes search requests against the store.
type Service struct {
	cache        *resolve.Cache
	compartments *compartment.Registry
	store        *store.Store
	expander     normalize.ValueSetExpander
	probe        normalize.TypeProbe
	defaultCount int
	maxCount     int
}

func New(cache *resolve.Cache, compartments *compartment.Registry, s *store.Store, expander normalize.ValueSetExpander, probe normalize.TypeProbe, defaultCount, maxCount int) *Service {
	return &Service{
		cache:        cache,
		compartments: compartments,
		store:        s,
		expander:     expander,
		probe:        probe,
		defaultCount: defaultCount,
		maxCount:     maxCount,
	}
}

// Page is one page of matched resources plus enough state to build Bundle
// links (self/next/previous) and a total (when requested).
type Page struct {
	Resources  []*store.Resource
	Total      int  // -1 when the total was not computed (Summary TotalNone etc.)
	NextCursor string
}

// filterOverfetchMultiplier bounds how many extra rows Execute fetches per
// page when a `_filter` predicate must be applied in-application after the
// SQL query runs: `_filter`'s element paths aren't search-parameter codes,
// so they can't narrow the SQL itself (see internal/search/filter), and a
// plain count+1 fetch would under-fill a page whenever the filter rejects
// some of the SQL-matched rows. This keeps pagination correct *within* the
// fetched window without scanning the full unfiltered result set.
const filterOverfetchMultiplier = 4

// Execute runs a type-level search (GET /Type?...). compartmentType/ID are
// empty for a non-compartment search.
func (s *Service) Execute(ctx context.Context, resourceType, rawQuery, compartmentType, compartmentID string) (*Page, error) {
	req, err := params.Parse(queryPairs(rawQuery))
	if err != nil {
		return nil, err
	}

	var filterNode filter.Node
	if req.Control.Filter != "" {
		if req.Control.Total == params.TotalAccurate || req.Control.Total == params.TotalEstimate {
			return nil, fhirerr.NotImplemented("_filter cannot be combined with _total=%s: an accurate count would require evaluating the filter against the full unfiltered result set", req.Control.Total)
		}
		filterNode, err = filter.Parse(req.Control.Filter)
		if err != nil {
			return nil, err
		}
		if err := filter.Validate(filterNode); err != nil {
			return nil, err
		}
	}

	resolved, _, err := resolve.Resolve(s.cache, resourceType, req.Params)
	if err != nil {
		return nil, err
	}

	qbParams := make([]querybuilder.Param, 0, len(resolved))
	var chains []querybuilder.ChainParam
	for _, rp := range resolved {
		if rp.Chain != nil {
			cp, cerr := s.compileChain(ctx, rp)
			if cerr != nil {
				return nil, cerr
			}
			chains = append(chains, cp)
			continue
		}
		qp, cerr := s.compileParam(ctx, rp)
		if cerr != nil {
			return nil, cerr
		}
		qbParams = append(qbParams, qp)
	}

	var reverseChains []querybuilder.ReverseChainParam
	for _, rc := range req.ReverseOnly {
		crc, rerr := s.compileReverseChain(ctx, rc)
		if rerr != nil {
			return nil, rerr
		}
		reverseChains = append(reverseChains, crc)
	}

	var comp *querybuilder.Compartment
	if compartmentType != "" {
		comp = s.compartments.Resolve(compartmentType, compartmentID, resourceType)
	}

	count := s.defaultCount
	if req.Control.Count != nil {
		count = *req.Control.Count
	}
	if count > s.maxCount {
		return nil, fhirerr.TooCostly("_count %d exceeds the maximum of %d", count, s.maxCount)
	}

	var cursor *querybuilder.Cursor
	dir := querybuilder.DirNext
	if req.Control.Cursor != "" {
		cursor, err = querybuilder.DecodeCursor(req.Control.Cursor)
		if err != nil {
			return nil, err
		}
	}
	if req.Control.CursorDirection == params.DirectionPrev {
		dir = querybuilder.DirPrev
	}

	sortKeys, err := s.resolveSortKeys(resourceType, req.Control.Sort)
	if err != nil {
		return nil, err
	}

	resourceTypes := []string{resourceType}
	if len(req.Control.Type) > 0 {
		resourceTypes = req.Control.Type
	}

	fetchCount := count + 1
	if filterNode != nil {
		fetchCount = (count + 1) * filterOverfetchMultiplier
	}

	sql, args, extraSortCols, err := querybuilder.Build(querybuilder.Options{
		ResourceType:  resourceType,
		ResourceTypes: resourceTypes,
		Params:        qbParams,
		Chains:        chains,
		ReverseChains: reverseChains,
		Compartment:   comp,
		Sort:          sortKeys,
		Count:         fetchCount,
		Cursor:        cursor,
		CursorDir:     dir,
	})
	if err != nil {
		return nil, err
	}

	rows, err := s.store.Pool().Query(ctx, sql, args...)
	if err != nil {
		return nil, fhirerr.Internal(err, "execute search query for %s", resourceType)
	}
	defer rows.Close()

	var results []*store.Resource
	for rows.Next() {
		var r store.Resource
		dest := []any{&r.ResourceType, &r.ID, &r.VersionID, &r.LastUpdated, &r.IsCurrent, &r.Deleted, &r.Body}
		extra := make([]any, extraSortCols)
		for i := range extra {
			extra[i] = new(any)
		}
		dest = append(dest, extra...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fhirerr.Internal(err, "scan search result row")
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fhirerr.Internal(err, "iterate search result rows")
	}

	if filterNode != nil {
		filtered := make([]*store.Resource, 0, len(results))
		for _, r := range results {
			ok, ferr := filter.Evaluate(filterNode, r.Body)
			if ferr != nil {
				return nil, ferr
			}
			if ok {
				filtered = append(filtered, r)
			}
			if len(filtered) > count {
				break
			}
		}
		results = filtered
	}

	page := &Page{Total: -1}
	if len(results) > count {
		results = results[:count]
		last := results[len(results)-1]
		page.NextCursor = querybuilder.EncodeCursor(last.LastUpdated.UnixNano(), last.ID)
	}
	page.Resources = results

	if req.Control.Total == params.TotalAccurate || req.Control.Total == params.TotalEstimate {
		total, terr := s.count(ctx, resourceType, resourceTypes, qbParams, chains, reverseChains, comp)
		if terr != nil {
			return nil, terr
		}
		page.Total = total
	}
	return page, nil
}

func (s *Service) count(ctx context.Context, resourceType string, resourceTypes []string, qbParams []querybuilder.Param, chains []querybuilder.ChainParam, reverseChains []querybuilder.ReverseChainParam, comp *querybuilder.Compartment) (int, error) {
	sql, args, _, err := querybuilder.Build(querybuilder.Options{
		ResourceType:  resourceType,
		ResourceTypes: resourceTypes,
		Params:        qbParams,
		Chains:        chains,
		ReverseChains: reverseChains,
		Compartment:   comp,
	})
	if err != nil {
		return 0, err
	}
	countSQL := "SELECT count(*) FROM (" + sql + ") sub"
	var n int
	if err := s.store.Pool().QueryRow(ctx, countSQL, args...).Scan(&n); err != nil {
		return 0, fhirerr.Internal(err, "count search results for %s", resourceType)
	}
	return n, nil
}

// MatchIDs satisfies internal/crud.Searcher: it runs a search and returns
// only the matched ids, used by conditional update/delete's match-count
// branching (§4.6).
func (s *Service) MatchIDs(ctx context.Context, resourceType, rawQuery string) ([]string, error) {
	page, err := s.Execute(ctx, resourceType, rawQuery, "", "")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(page.Resources))
	for _, r := range page.Resources {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// resolveSortKeys validates every `_sort` code against the definition cache
// (rejecting unknown codes instead of letting them reach SQL compilation
// unchecked) and attaches each one's resolved parameter type, so
// querybuilder can route it to the correct per-type index table rather
// than assuming every sort key is a string.
func (s *Service) resolveSortKeys(resourceType string, keys []params.SortKey) ([]querybuilder.SortKey, error) {
	out := make([]querybuilder.SortKey, 0, len(keys))
	for _, sk := range keys {
		qsk := querybuilder.SortKey{Code: sk.Code, Descending: sk.Descending}
		switch sk.Code {
		case "_id", "_lastUpdated":
			// sorts directly against the resources table; no index lookup.
		default:
			def, ok := s.cache.Lookup(resourceType, sk.Code)
			if !ok {
				return nil, fhirerr.Validation("_sort references unknown parameter %q", sk.Code)
			}
			qsk.Type = def.Type
		}
		out = append(out, qsk)
	}
	return out, nil
}

func (s *Service) compileParam(ctx context.Context, rp resolve.ResolvedParam) (querybuilder.Param, error) {
	values, err := s.compileValues(ctx, rp.Def, rp.Raw.Modifier, rp.Raw.Values)
	if err != nil {
		return querybuilder.Param{}, err
	}
	return querybuilder.Param{Def: rp.Def, Not: rp.Raw.Not, Values: values}, nil
}

// compileChain compiles one resolved chained parameter (`subject:Patient.
// name=Eve`, §4.2) into a querybuilder.ChainParam. Only a single hop is
// supported: resolve.resolveChain only fully re-validates the immediate
// chained parameter's own Def, leaving a 3rd+ hop's metadata unresolved, so
// compiling deeper chains here would silently apply the wrong predicate
// rather than the one the client asked for. Membership pseudo-chains
// (`_in`/`_list`) point at the structurally different
// search_index_membership table this builder doesn't compile against.
func (s *Service) compileChain(ctx context.Context, rp resolve.ResolvedParam) (querybuilder.ChainParam, error) {
	meta := rp.Chain
	if len(rp.Raw.Chain.Segments) > 2 {
		return querybuilder.ChainParam{}, fhirerr.NotImplemented(
			"chains deeper than one hop (%q) are not supported", rp.Raw.Code)
	}
	if meta.ParamType == resolve.TypeSpecial {
		return querybuilder.ChainParam{}, fhirerr.NotImplemented(
			"chaining into a membership pseudo-chain (_in/_list) is not supported")
	}

	var chainDef resolve.Def
	found := false
	for _, t := range meta.TargetTypes {
		if d, ok := s.cache.Lookup(t, meta.ParamCode); ok {
			chainDef = d
			found = true
			break
		}
	}
	if !found {
		return querybuilder.ChainParam{}, fhirerr.Internal(nil, "chained parameter %q could not be re-resolved", meta.ParamCode)
	}

	values, err := s.compileValues(ctx, chainDef, meta.Modifier, rp.Raw.Values)
	if err != nil {
		return querybuilder.ChainParam{}, err
	}
	return querybuilder.ChainParam{
		BaseCode:    rp.Def.Code,
		TargetTypes: meta.TargetTypes,
		ChainDef:    chainDef,
		Not:         rp.Raw.Not,
		Values:      values,
	}, nil
}

// compileReverseChain compiles one `_has:Type:refParam:filterParam`
// directive (possibly nested) into a querybuilder.ReverseChainParam,
// validating it against the cache with resolve.ResolveReverseChain first.
func (s *Service) compileReverseChain(ctx context.Context, spec params.ReverseChainSpec) (querybuilder.ReverseChainParam, error) {
	if err := resolve.ResolveReverseChain(s.cache, spec); err != nil {
		return querybuilder.ReverseChainParam{}, err
	}
	if spec.Nested != nil {
		nested, err := s.compileReverseChain(ctx, *spec.Nested)
		if err != nil {
			return querybuilder.ReverseChainParam{}, err
		}
		return querybuilder.ReverseChainParam{
			ReferencingType: spec.ReferencingType,
			ReferenceParam:  spec.ReferenceParam,
			Nested:          &nested,
		}, nil
	}

	filterDef, ok := s.cache.Lookup(spec.ReferencingType, spec.FilterParam)
	if !ok {
		return querybuilder.ReverseChainParam{}, fhirerr.Internal(nil, "_has filter parameter %q could not be re-resolved", spec.FilterParam)
	}
	values, err := s.compileValues(ctx, filterDef, spec.FilterModifier, spec.Values)
	if err != nil {
		return querybuilder.ReverseChainParam{}, err
	}
	return querybuilder.ReverseChainParam{
		ReferencingType: spec.ReferencingType,
		ReferenceParam:  spec.ReferenceParam,
		FilterDef:       filterDef,
		Values:          values,
	}, nil
}

// compileValues normalizes one parameter's raw OR-group values into
// querybuilder.Value, the step shared by a direct parameter, a chained
// parameter's own predicate, and a `_has` filter parameter's predicate.
func (s *Service) compileValues(ctx context.Context, def resolve.Def, modifier string, raw []string) ([]querybuilder.Value, error) {
	values := make([]querybuilder.Value, 0, len(raw))
	for _, r := range raw {
		v := querybuilder.Value{Raw: r, Modifier: modifier}

		switch {
		case def.Type == resolve.TypeReference:
			ref, err := normalize.Reference(ctx, s.probe, def, modifier, r)
			if err != nil {
				return nil, err
			}
			v.Ref = ref
		case def.Type == resolve.TypeToken && (modifier == "in" || modifier == "not-in"):
			pairs, rewritten, err := normalize.ExpandTokenSet(ctx, s.expander, r, modifier)
			if err != nil {
				return nil, err
			}
			v.TokenPairs = pairs
			v.Modifier = rewritten
		}
		values = append(values, v)
	}
	return values, nil
}

// StoreProbe satisfies normalize.TypeProbe by checking which resource
// types currently have a row with the given id, the "bare id -> Type/id by
// database probe" rule (§4.4).
type StoreProbe struct {
	store *store.Store
	types []string // every resource type the deployment serves
}

func NewStoreProbe(s *store.Store, resourceTypes []string) *StoreProbe {
	return &StoreProbe{store: s, types: resourceTypes}
}

func (p *StoreProbe) ProbeTypes(ctx context.Context, id string) ([]string, error) {
	rows, err := p.store.Pool().Query(ctx,
		`SELECT DISTINCT resource_type FROM resources WHERE id = $1 AND is_current = true AND resource_type = ANY($2)`,
		id, p.types)
	if err != nil {
		return nil, fhirerr.Internal(err, "probe resource types for id %s", id)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fhirerr.Internal(err, "scan probed resource type")
		}
		out = append(out, t)
	}
	return out, nil
}

// queryPairs decodes a raw query string into ordered key/value pairs,
// percent-decoded, the shape params.Parse expects. Multi-valued keys keep
// their relative order; keys are otherwise ordered by first appearance.
func queryPairs(rawQuery string) [][2]string {
	rawQuery = strings.TrimPrefix(rawQuery, "?")
	if rawQuery == "" {
		return nil
	}
	var pairs [][2]string
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		key, err := url.QueryUnescape(kv[0])
		if err != nil {
			key = kv[0]
		}
		value := ""
		if len(kv) == 2 {
			value, err = url.QueryUnescape(kv[1])
			if err != nil {
				value = kv[1]
			}
		}
		pairs = append(pairs, [2]string{key, value})
	}
	return pairs
}
