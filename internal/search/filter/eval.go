package filter

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
	"github.com/robertoaraneda/gofhir/pkg/fhirpath/types"
)

// Evaluate runs a parsed `_filter` expression against one already-fetched
// resource's raw JSON body, the post-fetch predicate step §4.5 describes
// for `_filter` (its element paths are not search-parameter codes, so they
// cannot compile to the fixed per-type search-index SQL the way declared
// parameters do). A `_has:` leaf cannot be decided this way — it names a
// query over a *different* resource type — so it reports NotImplemented
// rather than silently passing or failing every candidate.
func Evaluate(n Node, data []byte) (bool, error) {
	switch v := n.(type) {
	case And:
		for _, t := range v.Terms {
			ok, err := Evaluate(t, data)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case Or:
		for _, t := range v.Terms {
			ok, err := Evaluate(t, data)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case Not:
		ok, err := Evaluate(v.Term, data)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case Test:
		return evalTest(v, data)
	case HasTest:
		return false, fhirerr.NotImplemented(
			"_filter: a _has:%s:%s:%s leaf cannot be evaluated against an already-fetched resource; it names a query over a different resource type that this post-fetch evaluator has no access to",
			v.ReferencingType, v.ReferenceParam, v.FilterParam)
	default:
		return false, fhirerr.Internal(nil, "_filter: unknown node type %T", n)
	}
}

// evalTest resolves a test's path against data and applies its operator to
// every resolved element, matching if any one satisfies it (FHIRPath
// collection semantics: a path step may fan out over a repeating element).
func evalTest(t Test, data []byte) (bool, error) {
	candidates := resolvePath(types.NewLazyJson(data, jsonparser.Object), t.Path)
	if t.Op == OpPr {
		present := len(candidates) > 0
		want := t.Value != "false"
		return present == want, nil
	}
	for _, c := range candidates {
		ok, err := compare(t.Op, c, t.Value)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// resolvePath walks root through each dotted segment, fanning out over
// arrays and applying any element-scoped `[...]` filter along the way.
func resolvePath(root types.Value, segs []Segment) []types.Value {
	cur := []types.Value{root}
	for _, seg := range segs {
		var next []types.Value
		for _, v := range cur {
			next = append(next, expand(v, seg.Name)...)
		}
		if seg.Filter != nil {
			var kept []types.Value
			for _, v := range next {
				ok, err := Evaluate(seg.Filter, dataOf(v))
				if err == nil && ok {
					kept = append(kept, v)
				}
			}
			next = kept
		}
		cur = next
	}
	return cur
}

// expand reads one field off v's underlying JSON, fanning out a repeating
// (array) field into one LazyJson per element.
func expand(v types.Value, field string) []types.Value {
	data := dataOf(v)
	if len(data) == 0 {
		return nil
	}
	val, dt, _, err := jsonparser.Get(data, field)
	if err != nil {
		return nil
	}
	if dt == jsonparser.Array {
		var out []types.Value
		_ = jsonparser.ArrayEach(val, func(el []byte, elType jsonparser.ValueType, _ int, _ error) {
			out = append(out, types.NewLazyJson(el, elType))
		})
		return out
	}
	return []types.Value{types.NewLazyJson(val, dt)}
}

// dataOf recovers the raw JSON bytes backing a types.Value, falling back to
// its string rendering for scalar-only Value implementations.
func dataOf(v types.Value) []byte {
	switch t := v.(type) {
	case *types.LazyJson:
		return t.Data()
	case *types.ObjectValue:
		return t.Data()
	default:
		return []byte(v.String())
	}
}

// compare applies op between a resolved path element and the filter's
// right-hand-side literal. Numeric operators try a numeric comparison
// first and fall back to lexical ordering, so `gt`/`lt`/etc. work whether
// the resolved element is a FHIRPath number or a plain string/date.
func compare(op Op, v types.Value, want string) (bool, error) {
	str := v.String()
	switch op {
	case OpEq:
		return str == want, nil
	case OpNe:
		return str != want, nil
	case OpCo:
		return strings.Contains(str, want), nil
	case OpSw:
		return strings.HasPrefix(str, want), nil
	case OpEw:
		return strings.HasSuffix(str, want), nil
	case OpRe:
		re, err := regexp.Compile(want)
		if err != nil {
			return false, fhirerr.Validation("_filter: invalid regular expression %q", want)
		}
		return re.MatchString(str), nil
	case OpGt, OpLt, OpGe, OpLe, OpSa, OpEb, OpAp:
		return orderedCompare(op, str, want), nil
	case OpSs, OpSb, OpIn, OpNi:
		return false, fhirerr.NotImplemented("_filter: operator %q requires ValueSet/closure-table expansion not wired into this evaluator", op)
	default:
		return false, fhirerr.Validation("_filter: operator %q cannot be used in a path comparison", op)
	}
}

func orderedCompare(op Op, a, b string) bool {
	if af, aerr := strconv.ParseFloat(a, 64); aerr == nil {
		if bf, berr := strconv.ParseFloat(b, 64); berr == nil {
			switch op {
			case OpGt, OpSa:
				return af > bf
			case OpLt, OpEb:
				return af < bf
			case OpGe:
				return af >= bf
			case OpLe:
				return af <= bf
			case OpAp:
				return af == bf
			}
		}
	}
	switch op {
	case OpGt, OpSa:
		return a > b
	case OpLt, OpEb:
		return a < b
	case OpGe:
		return a >= b
	case OpLe:
		return a <= b
	case OpAp:
		return a == b
	}
	return false
}
