package search

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
	"github.com/robertoaraneda/gofhir/internal/search/resolve"
	"github.com/robertoaraneda/gofhir/internal/store"
	"github.com/robertoaraneda/gofhir/pkg/fhirpath"
)

// Indexer extracts §6.2 search-index rows from a resource version using
// its resolve.Def.Expression FHIRPath expressions and writes them through
// internal/store.IndexWriter, satisfying internal/crud.Indexer. Grounded on
// the teacher's own FHIRPath evaluation entry points
// (pkg/fhirpath.EvaluateToStrings) rather than a bespoke resource walker.
type Indexer struct {
	cache  *resolve.Cache
	writer *store.IndexWriter
}

func NewIndexer(cache *resolve.Cache, writer *store.IndexWriter) *Indexer {
	return &Indexer{cache: cache, writer: writer}
}

// Index re-derives every search-index row for r's resource type and
// persists them under r's own version, first clearing any rows already
// stored for that same version. Rows of earlier versions stay in place.
func (ix *Indexer) Index(ctx context.Context, tx pgx.Tx, r *store.Resource) error {
	defs := ix.cache.DefsFor(r.ResourceType)

	var strs []store.StringIndexRow
	var tokens []store.TokenIndexRow
	var refs []store.ReferenceIndexRow
	var dates []store.DateIndexRow
	var nums []store.NumberIndexRow
	var quantities []store.QuantityIndexRow
	var uris []store.URIIndexRow

	for _, def := range defs {
		if def.Expression == "" {
			continue // builtin, derived from resources table columns directly
		}
		env := store.IndexRow{ResourceType: r.ResourceType, ID: r.ID, VersionID: r.VersionID, ParameterName: def.Code}

		switch def.Type {
		case resolve.TypeString, resolve.TypeText:
			vals, err := fhirpath.EvaluateToStrings(r.Body, def.Expression)
			if err != nil {
				continue // an expression that doesn't apply to this instance yields nothing
			}
			for _, v := range vals {
				if v == "" {
					continue
				}
				strs = append(strs, store.StringIndexRow{IndexRow: env, Value: v, Normalized: normalizeString(v)})
			}
		case resolve.TypeURI:
			vals, _ := fhirpath.EvaluateToStrings(r.Body, def.Expression)
			for _, v := range vals {
				if v != "" {
					uris = append(uris, store.URIIndexRow{IndexRow: env, Value: v})
				}
			}
		case resolve.TypeNumber:
			vals, _ := fhirpath.EvaluateToStrings(r.Body, def.Expression)
			for _, v := range vals {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					nums = append(nums, store.NumberIndexRow{IndexRow: env, Value: f})
				}
			}
		case resolve.TypeDate:
			vals, _ := fhirpath.EvaluateToStrings(r.Body, def.Expression)
			for _, v := range vals {
				lo, hi, err := dateRange(v)
				if err == nil {
					dates = append(dates, store.DateIndexRow{IndexRow: env, StartInstant: lo, EndInstant: hi})
				}
			}
		case resolve.TypeToken:
			codes, _ := fhirpath.EvaluateToStrings(r.Body, def.Expression+".code")
			systems, _ := fhirpath.EvaluateToStrings(r.Body, def.Expression+".system")
			if len(codes) == 0 {
				codes, _ = fhirpath.EvaluateToStrings(r.Body, def.Expression+".value")
				systems, _ = fhirpath.EvaluateToStrings(r.Body, def.Expression+".system")
			}
			if len(codes) == 0 {
				// plain code-valued element (e.g. Patient.gender)
				codes, _ = fhirpath.EvaluateToStrings(r.Body, def.Expression)
				systems = make([]string, len(codes))
			}
			for i, code := range codes {
				if code == "" {
					continue
				}
				system := ""
				if i < len(systems) {
					system = systems[i]
				}
				tokens = append(tokens, store.TokenIndexRow{
					IndexRow: env,
					System:   system,
					Code:     code,
					CodeFold: strings.ToLower(code),
				})
			}
		case resolve.TypeQuantity:
			vals, _ := fhirpath.EvaluateToStrings(r.Body, def.Expression+".value")
			systems, _ := fhirpath.EvaluateToStrings(r.Body, def.Expression+".system")
			codes, _ := fhirpath.EvaluateToStrings(r.Body, def.Expression+".code")
			for i, v := range vals {
				f, err := strconv.ParseFloat(v, 64)
				if err != nil {
					continue
				}
				row := store.QuantityIndexRow{IndexRow: env, Value: f}
				if i < len(systems) {
					row.System = systems[i]
				}
				if i < len(codes) {
					row.Code = codes[i]
					row.CanonicalUnit = codes[i]
				}
				quantities = append(quantities, row)
			}
		case resolve.TypeReference:
			vals, _ := fhirpath.EvaluateToStrings(r.Body, def.Expression+".reference")
			for _, v := range vals {
				if v == "" {
					continue
				}
				row := store.ReferenceIndexRow{IndexRow: env, Kind: store.ReferenceKindRelative, TargetURL: v}
				if parts := strings.SplitN(v, "/", 2); len(parts) == 2 {
					row.TargetType, row.TargetID = parts[0], parts[1]
				}
				refs = append(refs, row)
			}
		}
	}

	if err := ix.writer.DeleteForVersion(ctx, tx, r.ResourceType, r.ID, r.VersionID); err != nil {
		return err
	}
	if len(strs) > 0 {
		if err := ix.writer.InsertStrings(ctx, tx, strs); err != nil {
			return err
		}
	}
	if len(tokens) > 0 {
		if err := ix.writer.InsertTokens(ctx, tx, tokens); err != nil {
			return err
		}
	}
	if len(refs) > 0 {
		if err := ix.writer.InsertReferences(ctx, tx, refs); err != nil {
			return err
		}
	}
	if len(dates) > 0 {
		if err := ix.writer.InsertDates(ctx, tx, dates); err != nil {
			return err
		}
	}
	if len(nums) > 0 {
		if err := ix.writer.InsertNumbers(ctx, tx, nums); err != nil {
			return err
		}
	}
	if len(quantities) > 0 {
		if err := ix.writer.InsertQuantities(ctx, tx, quantities); err != nil {
			return err
		}
	}
	if len(uris) > 0 {
		if err := ix.writer.InsertURIs(ctx, tx, uris); err != nil {
			return err
		}
	}
	return nil
}

func normalizeString(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// dateRange converts a FHIRPath Date/DateTime rendering (YYYY, YYYY-MM,
// YYYY-MM-DD, or RFC3339) to the inclusive [start,end] unix-nanosecond
// range its declared precision covers, the same precision-range rule
// internal/search/querybuilder applies to search values.
func dateRange(v string) (int64, int64, error) {
	layouts := []struct {
		layout string
		unit   time.Duration
	}{
		{"2006", 365 * 24 * time.Hour},
		{"2006-01", 31 * 24 * time.Hour},
		{"2006-01-02", 24 * time.Hour},
	}
	for _, l := range layouts {
		if len(v) == len(l.layout) {
			t, err := time.Parse(l.layout, v)
			if err == nil {
				end := t.Add(l.unit)
				switch l.layout {
				case "2006":
					end = t.AddDate(1, 0, 0)
				case "2006-01":
					end = t.AddDate(0, 1, 0)
				}
				return t.UnixNano(), end.Add(-time.Nanosecond).UnixNano(), nil
			}
		}
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UnixNano(), t.UnixNano(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UnixNano(), t.UnixNano(), nil
	}
	return 0, 0, fhirerr.Validation("unparseable date/time value %q", v)
}
