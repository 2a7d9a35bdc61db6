// Package params decodes the raw (key, value) query items a client supplies
// into structured search requests (§4.1): result-control keys, OR-groups
// split on unescaped commas, and per-resource-parameter (code, modifier,
// chain, reverse-chain) tuples. It is grounded on the Nirmitee-tech
// headless-ehr-fhir chain.go parsing shapes (ChainedParam/HasParam), adapted
// from their per-column database mapping to the generic index-table model
// internal/store/index.go exposes.
package params

import (
	"strconv"
	"strings"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
)

// CursorDirection is the `_cursor_direction` result-control value (§4.1).
type CursorDirection string

const (
	DirectionNext CursorDirection = "next"
	DirectionPrev CursorDirection = "prev"
	DirectionLast CursorDirection = "last"
)

// TotalMode is the `_total` result-control value.
type TotalMode string

const (
	TotalNone     TotalMode = "none"
	TotalEstimate TotalMode = "estimate"
	TotalAccurate TotalMode = "accurate"
)

// SummaryMode is the `_summary` result-control value.
type SummaryMode string

const (
	SummaryTrue  SummaryMode = "true"
	SummaryText  SummaryMode = "text"
	SummaryData  SummaryMode = "data"
	SummaryCount SummaryMode = "count"
	SummaryFalse SummaryMode = "false"
)

// IncludeSpec is one `_include`/`_revinclude` directive.
type IncludeSpec struct {
	SourceType string // empty for a wildcard "_include=*"
	ParamCode  string
	TargetType string // optional [:TargetType] suffix
	Iterate    bool
	Reverse    bool
}

// SortKey is one `_sort` segment.
type SortKey struct {
	Code       string
	Descending bool
}

// ReverseChainSpec is a parsed `_has:Type:param:filter` directive (§4.1).
type ReverseChainSpec struct {
	ReferencingType  string
	ReferenceParam   string
	FilterParam      string
	FilterModifier   string
	Nested           *ReverseChainSpec // supports `_has:A:p1:_has:B:p2:code`
	Values           []string
}

// Chain describes a `param.chainedParam` or `param:Type.chainedParam` path.
type Chain struct {
	Segments []ChainSegment
}

// ChainSegment is one `refParam[:Type]` hop in a chain.
type ChainSegment struct {
	RefParam   string
	TargetType string // optional explicit :Type disambiguator
	Membership bool   // true for "_in"/"_list" pseudo-chains
}

// ResourceParam is a single decoded resource-parameter key with its OR-group
// of raw values (already comma-split, escapes resolved).
type ResourceParam struct {
	Code         string
	Modifier     string
	TypeModifier string // the "[Type]" reference modifier, e.g. subject:Patient
	Chain        *Chain
	ReverseChain *ReverseChainSpec
	Not          bool // :not on a membership chain
	Values       []string
}

// ResultControl collects every `_*` key recognized by §4.1.
type ResultControl struct {
	Count           *int
	Offset          *int
	Cursor          string
	CursorDirection CursorDirection
	MaxResults      *int
	Sort            []SortKey
	Include         []IncludeSpec
	Summary         SummaryMode
	Elements        []string
	Pretty          bool
	Filter          string
	Type            []string
	Format          string
	Total           TotalMode
}

// Request is the fully-parsed search request: result controls, resolved
// resource parameters, and reverse chains extracted from raw `_has:` keys.
type Request struct {
	Control     ResultControl
	Params      []ResourceParam
	ReverseOnly []ReverseChainSpec
}

var knownPrefixes = []string{
	"_count", "_offset", "_cursor", "_cursor_direction", "_maxresults",
	"_sort", "_total", "_include", "_revinclude", "_summary", "_elements",
	"_pretty", "_filter", "_type", "_format", "_id", "_lastUpdated",
	"_text", "_content", "_in", "_list", "_has", "_security", "_profile", "_tag",
}

// Parse decodes raw query items, preserving client order for `items`, into a
// Request. `items` must already be percent-decoded by the HTTP layer.
func Parse(items [][2]string) (*Request, error) {
	req := &Request{Control: ResultControl{Total: TotalNone, Summary: SummaryFalse}}
	sortSeen := false

	for _, kv := range items {
		key, rawValue := kv[0], kv[1]

		if !strings.HasPrefix(key, "_") {
			p, err := parseResourceParam(key, rawValue)
			if err != nil {
				return nil, err
			}
			if p.ReverseChain != nil {
				req.ReverseOnly = append(req.ReverseOnly, *p.ReverseChain)
				continue
			}
			req.Params = append(req.Params, *p)
			continue
		}

		base, modifier := splitKeyModifier(key)
		if base == "_has" {
			rc, err := parseHas(key, rawValue)
			if err != nil {
				return nil, err
			}
			req.ReverseOnly = append(req.ReverseOnly, *rc)
			continue
		}
		if !isKnownResultKey(base) {
			return nil, fhirerr.Validation("unknown result-control parameter %q", key)
		}

		switch base {
		case "_count":
			n, err := atoiStrict(key, rawValue)
			if err != nil {
				return nil, err
			}
			if n == 0 {
				req.Control.Summary = SummaryCount
				continue
			}
			req.Control.Count = &n
		case "_offset":
			n, err := atoiStrict(key, rawValue)
			if err != nil {
				return nil, err
			}
			req.Control.Offset = &n
		case "_cursor":
			req.Control.Cursor = rawValue
		case "_cursor_direction":
			switch CursorDirection(rawValue) {
			case DirectionNext, DirectionPrev, DirectionLast:
				req.Control.CursorDirection = CursorDirection(rawValue)
			default:
				return nil, fhirerr.Validation("invalid _cursor_direction %q", rawValue)
			}
		case "_maxresults":
			n, err := atoiStrict(key, rawValue)
			if err != nil {
				return nil, err
			}
			req.Control.MaxResults = &n
		case "_sort":
			if sortSeen {
				return nil, fhirerr.Validation("_sort may not be repeated")
			}
			sortSeen = true
			for _, seg := range strings.Split(rawValue, ",") {
				seg = strings.TrimSpace(seg)
				if seg == "" {
					continue
				}
				desc := strings.HasPrefix(seg, "-")
				code := strings.TrimPrefix(seg, "-")
				code = strings.TrimSuffix(strings.TrimSuffix(code, ":desc"), ":asc")
				if strings.HasSuffix(seg, ":desc") {
					desc = true
				}
				req.Control.Sort = append(req.Control.Sort, SortKey{Code: code, Descending: desc})
			}
		case "_include", "_revinclude":
			spec, err := parseInclude(rawValue, modifier, base == "_revinclude")
			if err != nil {
				return nil, err
			}
			req.Control.Include = append(req.Control.Include, *spec)
		case "_summary":
			switch SummaryMode(rawValue) {
			case SummaryTrue, SummaryText, SummaryData, SummaryCount, SummaryFalse:
				req.Control.Summary = SummaryMode(rawValue)
			default:
				return nil, fhirerr.Validation("invalid _summary %q", rawValue)
			}
		case "_elements":
			req.Control.Elements = splitUnescaped(rawValue, ',')
		case "_pretty":
			req.Control.Pretty = rawValue == "true"
		case "_filter":
			req.Control.Filter = rawValue
		case "_type":
			req.Control.Type = splitUnescaped(rawValue, ',')
		case "_format":
			req.Control.Format = rawValue
		case "_total":
			switch TotalMode(rawValue) {
			case TotalNone, TotalEstimate, TotalAccurate:
				req.Control.Total = TotalMode(rawValue)
			default:
				return nil, fhirerr.Validation("invalid _total %q", rawValue)
			}
		case "_id", "_lastUpdated", "_text", "_content", "_in", "_list",
			"_security", "_profile", "_tag":
			p, err := parseResourceParam(key, rawValue)
			if err != nil {
				return nil, err
			}
			req.Params = append(req.Params, *p)
		}
	}

	return req, nil
}

func isKnownResultKey(base string) bool {
	for _, p := range knownPrefixes {
		if p == base {
			return true
		}
	}
	return false
}

func atoiStrict(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fhirerr.Validation("%s must be an integer, got %q", key, value)
	}
	return n, nil
}

// splitKeyModifier splits "code:modifier" into ("code", "modifier").
func splitKeyModifier(key string) (string, string) {
	if i := strings.Index(key, ":"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

func parseInclude(value, modifier string, reverse bool) (*IncludeSpec, error) {
	iterate := modifier == "iterate"
	if modifier != "" && !iterate {
		return nil, fhirerr.Validation("unrecognized modifier %q on include directive", modifier)
	}
	parts := strings.Split(value, ":")
	spec := &IncludeSpec{Iterate: iterate, Reverse: reverse}
	switch len(parts) {
	case 2:
		spec.SourceType, spec.ParamCode = parts[0], parts[1]
	case 3:
		spec.SourceType, spec.ParamCode, spec.TargetType = parts[0], parts[1], parts[2]
	default:
		if value == "*" {
			return spec, nil
		}
		return nil, fhirerr.Validation("malformed include directive %q", value)
	}
	return spec, nil
}

// parseHas decodes "_has:Type:refParam:filterParam[:modifier]" (possibly
// nested: "_has:A:p1:_has:B:p2:code") paired with its value.
func parseHas(key, rawValue string) (*ReverseChainSpec, error) {
	rest := strings.TrimPrefix(key, "_has:")
	spec, err := parseHasChain(rest)
	if err != nil {
		return nil, err
	}
	leaf := spec
	for leaf.Nested != nil {
		leaf = leaf.Nested
	}
	leaf.Values = splitUnescaped(rawValue, ',')
	return spec, nil
}

func parseHasChain(rest string) (*ReverseChainSpec, error) {
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return nil, fhirerr.Validation("malformed _has directive: %q", rest)
	}
	spec := &ReverseChainSpec{ReferencingType: parts[0], ReferenceParam: parts[1]}
	if strings.HasPrefix(parts[2], "_has:") {
		nested, err := parseHasChain(strings.TrimPrefix(parts[2], "_has:"))
		if err != nil {
			return nil, err
		}
		spec.Nested = nested
		return spec, nil
	}
	filterAndMod := strings.SplitN(parts[2], ":", 2)
	spec.FilterParam = filterAndMod[0]
	if len(filterAndMod) == 2 {
		spec.FilterModifier = filterAndMod[1]
	}
	return spec, nil
}

// parseResourceParam decodes one non-underscore-prefixed key into a
// ResourceParam, including chain and `:not` detection. The key as a whole
// is "code[:modifier]" for a plain parameter, or a dot-joined chain where
// each hop may itself carry a ":Type" disambiguator, e.g.
// "subject:Patient.name" or "patient._in:not".
func parseResourceParam(key, rawValue string) (*ResourceParam, error) {
	p := &ResourceParam{}

	if strings.Contains(key, ".") {
		chain, not, err := parseChain(key)
		if err != nil {
			return nil, err
		}
		p.Chain = chain
		p.Not = not
		p.Code = chain.Segments[0].RefParam
		if chain.Segments[0].TargetType != "" {
			p.TypeModifier = chain.Segments[0].TargetType
		}
	} else {
		code, modifier := splitKeyModifier(key)
		p.Code = code
		if modifier != "" {
			if i := strings.Index(modifier, "]"); i >= 0 && strings.Contains(modifier, "[") {
				p.TypeModifier = modifier[strings.Index(modifier, "[")+1 : i]
				modifier = modifier[:strings.Index(modifier, "[")]
			}
			p.Modifier = modifier
		}
	}

	p.Values = splitUnescaped(rawValue, ',')
	return p, nil
}

// parseChain splits a dot-joined chain key into hops. Every hop but the
// last treats a ":suffix" as an explicit target-type disambiguator. On the
// final hop, a ":suffix" is a target type unless the hop's bare name is a
// membership pseudo-chain ("_in"/"_list"), in which case only ":not" is
// legal and is reported back as the chain's Not flag rather than a type.
func parseChain(code string) (*Chain, bool, error) {
	rawSegments := strings.Split(code, ".")
	if len(rawSegments) < 2 {
		return nil, false, fhirerr.Validation("malformed chain %q", code)
	}
	c := &Chain{}
	not := false
	for i, seg := range rawSegments {
		ref, suffix := seg, ""
		if idx := strings.Index(seg, ":"); idx >= 0 {
			ref, suffix = seg[:idx], seg[idx+1:]
		}
		membership := ref == "_in" || ref == "_list"
		targetType := suffix

		if i == len(rawSegments)-1 && membership {
			if suffix != "" && suffix != "not" {
				return nil, false, fhirerr.Validation("illegal modifier %q on membership chain %q", suffix, code)
			}
			if suffix == "not" {
				not = true
			}
			targetType = ""
		}

		c.Segments = append(c.Segments, ChainSegment{
			RefParam:   ref,
			TargetType: targetType,
			Membership: membership,
		})
	}
	return c, not, nil
}

// splitUnescaped splits s on sep, treating "\<sep>" as a literal separator
// character rather than a delimiter (§4.1).
func splitUnescaped(s string, sep byte) []string {
	var out []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && s[i+1] == sep {
			cur.WriteByte(sep)
			i++
			continue
		}
		if s[i] == sep {
			out = append(out, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(s[i])
	}
	out = append(out, cur.String())
	return out
}
