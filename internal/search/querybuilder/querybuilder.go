// Package querybuilder compiles resolved, normalized search parameters into
// the single parameterized SQL statement described by §4.5: a base
// predicate over the resources table, one EXISTS subquery per resolved
// parameter against its index table, nested EXISTS subqueries for chained
// and `_has` reverse-chain predicates, an optional compartment predicate, a
// keyset cursor predicate, and ORDER BY/LIMIT. Built with Masterminds/
// squirrel the way the teacher repo (robertoAraneda/gofhir) already depends
// on it, following the EXISTS-subquery shape sketched in other_examples'
// chain.go (ChainedSearchClause/ReverseChainClause) but against the
// generic per-type index tables in internal/store rather than per-resource
// columns.
package querybuilder

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
	"github.com/robertoaraneda/gofhir/internal/search/normalize"
	"github.com/robertoaraneda/gofhir/internal/search/resolve"
)

// Compartment restricts results to one compartment (§4.5).
type Compartment struct {
	Type           string
	ID             string
	AllowedTypes   []string
	ParameterNames []string // index parameter_name values that qualify membership
	IsDefMarker    bool     // the resource IS the compartment resource
}

// Cursor is a decoded keyset position (§4.5: base64url("ts,id")).
type Cursor struct {
	LastUpdatedNanos int64
	ID               string
}

// EncodeCursor renders a keyset position as the base64url("ts,id") token.
func EncodeCursor(lastUpdatedNanos int64, id string) string {
	raw := fmt.Sprintf("%d,%s", lastUpdatedNanos, id)
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(raw))
}

// DecodeCursor parses a keyset position token back to its parts.
func DecodeCursor(token string) (*Cursor, error) {
	raw, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(token)
	if err != nil {
		return nil, fhirerr.Validation("malformed _cursor token")
	}
	parts := strings.SplitN(string(raw), ",", 2)
	if len(parts) != 2 {
		return nil, fhirerr.Validation("malformed _cursor token")
	}
	var ts int64
	if _, err := fmt.Sscanf(parts[0], "%d", &ts); err != nil {
		return nil, fhirerr.Validation("malformed _cursor timestamp")
	}
	return &Cursor{LastUpdatedNanos: ts, ID: parts[1]}, nil
}

// Direction mirrors params.CursorDirection to avoid an import cycle back
// into the parsing package from this lower-level builder.
type Direction string

const (
	DirNext Direction = "next"
	DirPrev Direction = "prev"
	DirLast Direction = "last"
)

// Value is one normalized OR-group member ready for predicate compilation.
type Value struct {
	Raw        string
	Modifier   string
	Ref        *normalize.NormalizedReference
	TokenPairs []normalize.TokenPair // for :in/:not-in expansions
}

// Param is one fully resolved, normalized parameter ready to compile into
// an EXISTS subquery.
type Param struct {
	Def    resolve.Def
	Not    bool
	Values []Value // OR'd together within one parameter
}

// ChainParam is one chained parameter (`subject:Patient.name=Eve`, §4.2,
// §4.5): the base reference parameter on the searched resource, narrowed by
// an inner predicate against the chained parameter's own index table, keyed
// on the reference's target.
type ChainParam struct {
	BaseCode    string
	TargetTypes []string
	ChainDef    resolve.Def
	Not         bool
	Values      []Value
}

// ReverseChainParam is one `_has:Type:refParam:filterParam` directive
// (§4.2, §4.5), possibly nested (`_has:A:p1:_has:B:p2:code`).
type ReverseChainParam struct {
	ReferencingType string
	ReferenceParam  string
	FilterDef       resolve.Def
	Values          []Value
	Nested          *ReverseChainParam
}

// SortKey mirrors params.SortKey for the builder's own input surface, plus
// the parameter's resolved type so sort compilation can route to the
// correct index table instead of assuming every sort key is a string.
type SortKey struct {
	Code       string
	Descending bool
	Type       resolve.ParamType
}

// Options configures one search-query build.
type Options struct {
	ResourceType   string
	ResourceTypes  []string // for _type=A,B cross-type search; overrides ResourceType
	Params         []Param
	Chains         []ChainParam
	ReverseChains  []ReverseChainParam
	Compartment    *Compartment
	Sort           []SortKey
	Count          int
	Cursor         *Cursor
	CursorDir      Direction
	IncludeDeleted bool
}

// Build compiles Options into a parameterized SELECT against the resources
// table, following the §4.5 statement shape verbatim in clause order.
// extraSortCols reports how many synthetic sort-key columns were appended
// to the SELECT list beyond the fixed 7 resource columns, so the caller
// knows how many extra values to scan per row.
func Build(opts Options) (sql string, args []interface{}, extraSortCols int, err error) {
	b := sq.Select("r.resource_type", "r.id", "r.version_id", "r.last_updated", "r.is_current", "r.deleted", "r.resource").
		From("resources r").
		Where(sq.Eq{"r.is_current": true}).
		PlaceholderFormat(sq.Dollar)
	if !opts.IncludeDeleted {
		b = b.Where(sq.Eq{"r.deleted": false})
	}

	if len(opts.ResourceTypes) > 1 {
		b = b.Where(sq.Eq{"r.resource_type": opts.ResourceTypes})
	} else if opts.ResourceType != "" {
		b = b.Where(sq.Eq{"r.resource_type": opts.ResourceType})
	}

	if opts.Compartment != nil {
		pred, cerr := compartmentPredicate(*opts.Compartment)
		if cerr != nil {
			return "", nil, 0, cerr
		}
		b = b.Where(pred)
	}

	for _, p := range opts.Params {
		pred, perr := paramPredicate(p)
		if perr != nil {
			return "", nil, 0, perr
		}
		if p.Not {
			notPred, nerr := negate(pred)
			if nerr != nil {
				return "", nil, 0, nerr
			}
			b = b.Where(notPred)
		} else {
			b = b.Where(pred)
		}
	}

	for _, c := range opts.Chains {
		pred, cerr := chainPredicate(c)
		if cerr != nil {
			return "", nil, 0, cerr
		}
		if c.Not {
			notPred, nerr := negate(pred)
			if nerr != nil {
				return "", nil, 0, nerr
			}
			b = b.Where(notPred)
		} else {
			b = b.Where(pred)
		}
	}

	for _, rc := range opts.ReverseChains {
		pred, rerr := reverseChainPredicate(rc)
		if rerr != nil {
			return "", nil, 0, rerr
		}
		b = b.Where(pred)
	}

	if opts.Cursor != nil {
		b = b.Where(cursorPredicate(*opts.Cursor, opts.CursorDir))
	}

	b, orderBy, extraSortCols, err := applySort(b, opts.Sort, opts.CursorDir == DirLast)
	if err != nil {
		return "", nil, 0, err
	}
	b = b.OrderBy(orderBy...)

	if opts.Count > 0 {
		b = b.Limit(uint64(opts.Count))
	}

	sql, args, err = b.ToSql()
	return sql, args, extraSortCols, err
}

// negate wraps a predicate's own SQL and bind args in NOT(...), preserving
// argument order; squirrel renumbers $N placeholders when the outer
// Select.ToSql() walks the full tree, so a plain "?"-placeholder fragment
// with its args carried alongside is safe to nest here.
func negate(pred sq.Sqlizer) (sq.Sqlizer, error) {
	predSQL, predArgs, err := pred.ToSql()
	if err != nil {
		return nil, fhirerr.Internal(err, "build negated predicate")
	}
	return sq.Expr("NOT ("+predSQL+")", predArgs...), nil
}

// compartmentPredicate implements §4.5's compartment rule: either the
// resource IS the compartment resource (the `{def}` marker) or an
// index-reference row exists whose parameter_name is in the compartment's
// declared set and whose target matches (compartment_type, compartment_id).
// A compartment with neither yields `1=0` (empty result, never unscoped).
func compartmentPredicate(c Compartment) (sq.Sqlizer, error) {
	if c.IsDefMarker {
		return sq.And{
			sq.Eq{"r.resource_type": c.Type},
			sq.Eq{"r.id": c.ID},
		}, nil
	}
	if len(c.ParameterNames) == 0 {
		return sq.Expr("1=0"), nil
	}
	sub := sq.Select("1").From("search_index_reference sir").
		Where(sq.Expr("sir.resource_type = r.resource_type AND sir.id = r.id")).
		Where(sq.Eq{"sir.parameter_name": c.ParameterNames}).
		Where(sq.Eq{"sir.target_type": c.Type, "sir.target_id": c.ID})
	subSQL, subArgs, err := sub.ToSql()
	if err != nil {
		return nil, fhirerr.Internal(err, "build compartment predicate")
	}
	return sq.Expr("EXISTS ("+subSQL+")", subArgs...), nil
}

// paramPredicate compiles one resolved parameter into an EXISTS subquery
// joined to the main resource row (§4.5's "Modifier compilation
// highlights").
func paramPredicate(p Param) (sq.Sqlizer, error) {
	table, ors, err := valueConditions(p.Def, p.Values)
	if err != nil {
		return nil, err
	}
	return existsOr(table, p.Def.Code, ors), nil
}

// chainPredicate compiles a chained parameter into a nested EXISTS: the
// outer subquery walks the base reference parameter's index rows restricted
// to the chain's resolved target types, the inner one applies the chained
// parameter's own predicate scoped to that reference's target
// (resource_type, id) instead of the outer resource's.
func chainPredicate(c ChainParam) (sq.Sqlizer, error) {
	table, ors, err := valueConditions(c.ChainDef, c.Values)
	if err != nil {
		return nil, err
	}
	inner := existsOrJoined(table, c.ChainDef.Code, "sir.target_type", "sir.target_id", ors)
	innerSQL, innerArgs, ierr := inner.ToSql()
	if ierr != nil {
		return nil, fhirerr.Internal(ierr, "build chain inner predicate")
	}

	sub := sq.Select("1").From("search_index_reference sir").
		Where(sq.Expr("sir.resource_type = r.resource_type AND sir.id = r.id")).
		Where(sq.Eq{"sir.parameter_name": c.BaseCode}).
		Where(sq.Eq{"sir.target_type": c.TargetTypes}).
		Where(sq.Expr(innerSQL, innerArgs...))
	return existsWrap(sub), nil
}

// reverseChainPredicate compiles one `_has:Type:refParam:filterParam`
// directive (possibly nested) into a chain of EXISTS subqueries, each
// walking from the referencing resource's reference index row back to the
// searched resource. Nesting depth names each subquery's alias sirN so
// `_has:A:p1:_has:B:p2:code` doesn't let an inner subquery shadow an outer
// correlation reference.
func reverseChainPredicate(c ReverseChainParam) (sq.Sqlizer, error) {
	return reverseChainExists(c, "r.resource_type", "r.id", 0)
}

func reverseChainExists(c ReverseChainParam, baseType, baseID string, depth int) (sq.Sqlizer, error) {
	alias := fmt.Sprintf("sir%d", depth)

	var inner sq.Sqlizer
	var err error
	if c.Nested != nil {
		inner, err = reverseChainExists(*c.Nested, alias+".resource_type", alias+".id", depth+1)
		if err != nil {
			return nil, err
		}
	} else {
		table, ors, verr := valueConditions(c.FilterDef, c.Values)
		if verr != nil {
			return nil, verr
		}
		inner = existsOrJoined(table, c.FilterDef.Code, alias+".resource_type", alias+".id", ors)
	}
	innerSQL, innerArgs, ierr := inner.ToSql()
	if ierr != nil {
		return nil, fhirerr.Internal(ierr, "build _has inner predicate")
	}

	sub := sq.Select("1").From("search_index_reference " + alias).
		Where(sq.Eq{alias + ".resource_type": c.ReferencingType}).
		Where(sq.Eq{alias + ".parameter_name": c.ReferenceParam}).
		Where(sq.Expr(alias+".target_type = "+baseType+" AND "+alias+".target_id = "+baseID)).
		Where(sq.Expr(innerSQL, innerArgs...))
	return existsWrap(sub), nil
}

// existsOrJoined builds `EXISTS (SELECT 1 FROM table t WHERE t.resource_type
// = typeCol AND t.id = idCol AND t.parameter_name = code AND (ors...))`,
// parameterized over which columns identify the "left-hand" resource so the
// same predicate shape serves a direct parameter (joined to r.*), a chained
// parameter (joined to a reference index row's target), and a reverse-chain
// parameter (joined to a reference index row's own resource).
func existsOrJoined(table, code, typeCol, idCol string, ors []sq.Sqlizer) sq.Sqlizer {
	or := sq.Or{}
	for _, pr := range ors {
		or = append(or, pr)
	}
	sub := sq.Select("1").From(table + " t").
		Where(sq.Expr("t.resource_type = " + typeCol + " AND t.id = " + idCol)).
		Where(sq.Eq{"t.parameter_name": code}).
		Where(or)
	return existsWrap(sub)
}

func existsOr(table, code string, ors []sq.Sqlizer) sq.Sqlizer {
	return existsOrJoined(table, code, "r.resource_type", "r.id", ors)
}

func existsWrap(sub sq.SelectBuilder) sq.Sqlizer {
	subSQL, subArgs, err := sub.ToSql()
	if err != nil {
		return sq.Expr("1=0")
	}
	return sq.Expr("EXISTS ("+subSQL+")", subArgs...)
}

// valueConditions returns the index table a parameter's values live in and
// the OR'd column predicates for those values: the shared core both a
// direct EXISTS (paramPredicate) and a nested one (chainPredicate,
// reverseChainPredicate) wrap.
func valueConditions(def resolve.Def, values []Value) (table string, ors []sq.Sqlizer, err error) {
	switch def.Type {
	case resolve.TypeString:
		return "search_index_string", stringOrs(values), nil
	case resolve.TypeToken:
		return "search_index_token", tokenOrs(values), nil
	case resolve.TypeReference:
		refOrs, rerr := referenceOrs(def.Code, values)
		if rerr != nil {
			return "", nil, rerr
		}
		return "search_index_reference", refOrs, nil
	case resolve.TypeDate:
		dateOrsv, derr := dateOrs(values)
		if derr != nil {
			return "", nil, derr
		}
		return "search_index_date", dateOrsv, nil
	case resolve.TypeNumber:
		return "search_index_number", numberOrs(values), nil
	case resolve.TypeQuantity:
		return "search_index_quantity", numberOrs(values), nil
	case resolve.TypeURI:
		return "search_index_uri", uriOrs(values), nil
	case resolve.TypeComposite:
		return "search_index_composite", compositeOrs(values), nil
	default:
		return "", nil, fhirerr.Validation("parameter %q of type %s has no query compilation", def.Code, def.Type)
	}
}

func stringOrs(values []Value) []sq.Sqlizer {
	var ors []sq.Sqlizer
	for _, v := range values {
		switch v.Modifier {
		case "exact":
			ors = append(ors, sq.Eq{"t.value": v.Raw})
		case "contains":
			ors = append(ors, sq.ILike{"t.normalized": "%" + v.Raw + "%"})
		case "missing":
			// handled by caller via a separate NOT EXISTS branch; here a
			// bare "missing" value of "true"/"false" is resolved upstream.
			ors = append(ors, sq.Eq{"t.normalized": v.Raw})
		default:
			ors = append(ors, sq.ILike{"t.normalized": v.Raw + "%"})
		}
	}
	return ors
}

func tokenOrs(values []Value) []sq.Sqlizer {
	var ors []sq.Sqlizer
	for _, v := range values {
		if len(v.TokenPairs) > 0 {
			var pairOrs []sq.Sqlizer
			for _, tp := range v.TokenPairs {
				pairOrs = append(pairOrs, sq.Eq{"t.system": tp.System, "t.code_fold": strings.ToLower(tp.Code)})
			}
			ors = append(ors, sq.Or(pairOrs))
			continue
		}
		system, code := splitSystemCode(v.Raw)
		eq := sq.Eq{"t.code_fold": strings.ToLower(code)}
		if system != "" {
			eq["t.system"] = system
		}
		switch v.Modifier {
		case "text":
			ors = append(ors, sq.ILike{"t.display": "%" + v.Raw + "%"})
		case "of-type":
			ors = append(ors, sq.Eq{"t.identifier_typing": v.Raw})
		default:
			ors = append(ors, eq)
		}
	}
	return ors
}

func referenceOrs(code string, values []Value) ([]sq.Sqlizer, error) {
	var ors []sq.Sqlizer
	for _, v := range values {
		if v.Ref == nil {
			return nil, fhirerr.Internal(nil, "reference parameter %q value %q was not normalized", code, v.Raw)
		}
		if v.Ref.IsCanonical {
			eq := sq.Eq{"t.canonical_url": v.Ref.CanonicalURL}
			if v.Ref.CanonicalVer != "" {
				eq["t.canonical_version"] = v.Ref.CanonicalVer
			}
			ors = append(ors, eq)
			continue
		}
		eq := sq.Eq{"t.target_type": v.Ref.Type, "t.target_id": v.Ref.ID}
		if v.Ref.VersionID != nil {
			eq["t.target_version_id"] = *v.Ref.VersionID
		}
		ors = append(ors, eq)
	}
	return ors, nil
}

func dateOrs(values []Value) ([]sq.Sqlizer, error) {
	var ors []sq.Sqlizer
	for _, v := range values {
		prefix, rest := splitDatePrefix(v.Raw)
		lo, hi, err := parseDateRange(rest)
		if err != nil {
			return nil, err
		}
		pred, err := dateComparatorPredicate(prefix, lo, hi)
		if err != nil {
			return nil, err
		}
		ors = append(ors, pred)
	}
	return ors, nil
}

// dateComparatorPredicate implements §4.5's range-overlap semantics: `eq`
// requires full containment of the search value's range within the
// indexed [start,end]; `po` (period-overlaps) requires any overlap.
func dateComparatorPredicate(prefix string, lo, hi int64) (sq.Sqlizer, error) {
	switch prefix {
	case "eq", "":
		return sq.Expr("t.start_instant >= ? AND t.end_instant <= ?", lo, hi), nil
	case "ne":
		return sq.Expr("NOT (t.start_instant >= ? AND t.end_instant <= ?)", lo, hi), nil
	case "gt":
		return sq.Expr("t.start_instant > ?", hi), nil
	case "lt":
		return sq.Expr("t.end_instant < ?", lo), nil
	case "ge":
		return sq.Expr("t.start_instant >= ?", lo), nil
	case "le":
		return sq.Expr("t.end_instant <= ?", hi), nil
	case "sa":
		return sq.Expr("t.start_instant > ?", hi), nil
	case "eb":
		return sq.Expr("t.end_instant < ?", lo), nil
	case "ap":
		return sq.Expr("t.start_instant BETWEEN ? AND ?", lo, hi), nil
	case "po":
		return sq.Expr("t.start_instant <= ? AND t.end_instant >= ?", hi, lo), nil
	default:
		return nil, fhirerr.Validation("unknown date comparator prefix %q", prefix)
	}
}

// parseDateRange turns a FHIR partial date/dateTime literal into the
// inclusive [start,end] unix-nanosecond range implied by its precision
// (year < month < day < minute < second), mirroring the precision-bound
// semantics pkg/fhirpath's date literals already apply when comparing
// values of differing precision.
func parseDateRange(value string) (lo, hi int64, err error) {
	layouts := []struct {
		layout string
		unit   time.Duration
	}{
		{"2006", 365 * 24 * time.Hour},
		{"2006-01", 31 * 24 * time.Hour},
		{"2006-01-02", 24 * time.Hour},
		{"2006-01-02T15:04", time.Minute},
		{"2006-01-02T15:04:05", time.Second},
		{"2006-01-02T15:04:05.999999999Z07:00", time.Nanosecond},
		{"2006-01-02T15:04:05Z07:00", time.Second},
	}
	for _, l := range layouts {
		if t, perr := time.Parse(l.layout, value); perr == nil {
			start := t.UnixNano()
			end := t.Add(l.unit).UnixNano() - 1
			switch l.layout {
			case "2006":
				end = t.AddDate(1, 0, 0).UnixNano() - 1
			case "2006-01":
				end = t.AddDate(0, 1, 0).UnixNano() - 1
			}
			if l.unit == time.Nanosecond {
				end = start
			}
			return start, end, nil
		}
	}
	return 0, 0, fhirerr.Validation("unparseable date value %q", value)
}

func numberOrs(values []Value) []sq.Sqlizer {
	var ors []sq.Sqlizer
	for _, v := range values {
		prefix, numStr := splitNumberPrefix(v.Raw)
		col := "t.value"
		switch prefix {
		case "eq", "":
			ors = append(ors, sq.Expr(col+" = ?::numeric", numStr))
		case "ne":
			ors = append(ors, sq.Expr(col+" <> ?::numeric", numStr))
		case "gt":
			ors = append(ors, sq.Expr(col+" > ?::numeric", numStr))
		case "lt":
			ors = append(ors, sq.Expr(col+" < ?::numeric", numStr))
		case "ge":
			ors = append(ors, sq.Expr(col+" >= ?::numeric", numStr))
		case "le":
			ors = append(ors, sq.Expr(col+" <= ?::numeric", numStr))
		default:
			ors = append(ors, sq.Expr(col+" = ?::numeric", numStr))
		}
	}
	return ors
}

func uriOrs(values []Value) []sq.Sqlizer {
	var ors []sq.Sqlizer
	for _, v := range values {
		switch v.Modifier {
		case "below":
			ors = append(ors, sq.Like{"t.value": v.Raw + "%"})
		case "above":
			ors = append(ors, sq.Expr("? LIKE t.value || '%'", v.Raw))
		default:
			ors = append(ors, sq.Eq{"t.value": v.Raw})
		}
	}
	return ors
}

func compositeOrs(values []Value) []sq.Sqlizer {
	var ors []sq.Sqlizer
	for _, v := range values {
		ors = append(ors, sq.Expr("t.components @> ?::jsonb", v.Raw))
	}
	return ors
}

func cursorPredicate(c Cursor, dir Direction) sq.Sqlizer {
	op := ">"
	if dir == DirPrev {
		op = "<"
	}
	return sq.Expr(fmt.Sprintf("(r.last_updated, r.id) %s (to_timestamp(?::double precision / 1e9), ?)", op), c.LastUpdatedNanos, c.ID)
}

// sortIndexTarget names the index table and value column a sort key of the
// given parameter type compiles against (§4.5: "the parameter's index
// table", not one fixed table regardless of type).
func sortIndexTarget(t resolve.ParamType) (table, column string, ok bool) {
	switch t {
	case resolve.TypeString, resolve.TypeText:
		return "search_index_string", "value", true
	case resolve.TypeToken:
		return "search_index_token", "code_fold", true
	case resolve.TypeDate:
		return "search_index_date", "start_instant", true
	case resolve.TypeNumber:
		return "search_index_number", "value", true
	case resolve.TypeQuantity:
		return "search_index_quantity", "value", true
	case resolve.TypeURI:
		return "search_index_uri", "value", true
	case resolve.TypeReference:
		return "search_index_reference", "target_id", true
	default:
		return "", "", false
	}
}

// applySort implements §4.5's sort rule: each key becomes a MIN(...)
// correlated subquery over the parameter's own index table except
// `_id`/`_lastUpdated`, which sort directly on the main table; ties break
// on (last_updated, id). The sort code is never interpolated into the SQL
// text: it is appended as a synthetic, bound SELECT column ("sort_key_N")
// and the ORDER BY clause references only that column alias, so a
// client-supplied `_sort` value can never reach the query as anything but
// a bind parameter.
func applySort(b sq.SelectBuilder, keys []SortKey, reverseAll bool) (sq.SelectBuilder, []string, int, error) {
	var orderBy []string
	extra := 0
	for i, k := range keys {
		dir := "ASC"
		if k.Descending {
			dir = "DESC"
		}
		if reverseAll {
			if dir == "ASC" {
				dir = "DESC"
			} else {
				dir = "ASC"
			}
		}
		switch k.Code {
		case "_id":
			orderBy = append(orderBy, "r.id "+dir)
		case "_lastUpdated":
			orderBy = append(orderBy, "r.last_updated "+dir)
		default:
			table, col, ok := sortIndexTarget(k.Type)
			if !ok {
				return b, nil, 0, fhirerr.Validation("parameter %q of type %s cannot be used as a sort key", k.Code, k.Type)
			}
			alias := fmt.Sprintf("sort_key_%d", i)
			expr := fmt.Sprintf(
				"(SELECT MIN(t.%s) FROM %s t WHERE t.resource_type = r.resource_type AND t.id = r.id AND t.parameter_name = ?) AS %s",
				col, table, alias)
			b = b.Column(sq.Expr(expr, k.Code))
			extra++
			orderBy = append(orderBy, alias+" "+dir)
		}
	}
	tieDir := "ASC"
	if reverseAll {
		tieDir = "DESC"
	}
	orderBy = append(orderBy, "r.last_updated "+tieDir, "r.id "+tieDir)
	return b, orderBy, extra, nil
}

func splitSystemCode(v string) (system, code string) {
	if i := strings.Index(v, "|"); i >= 0 {
		return v[:i], v[i+1:]
	}
	return "", v
}

var datePrefixes = []string{"eq", "ne", "gt", "lt", "ge", "le", "sa", "eb", "ap"}

func splitDatePrefix(v string) (prefix, rest string) {
	for _, p := range datePrefixes {
		if strings.HasPrefix(v, p) {
			return p, strings.TrimPrefix(v, p)
		}
	}
	return "", v
}

func splitNumberPrefix(v string) (prefix, rest string) {
	for _, p := range []string{"eq", "ne", "gt", "lt", "ge", "le", "sa", "eb", "ap"} {
		if strings.HasPrefix(v, p) {
			return p, strings.TrimPrefix(v, p)
		}
	}
	return "", v
}
