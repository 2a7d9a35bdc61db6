// Package resolve turns parsed search-parameter keys (internal/search/params)
// into ResolvedParam values against a parameter-definition cache (§4.2),
// validating modifier legality, chain target types, and cardinality. The
// definition shape is grounded on other_examples' Nirmitee-tech
// headless-ehr-fhir SearchParameterResource (code/base/type/target/modifier/
// multipleOr/multipleAnd), narrowed from its FHIR-resource representation to
// a plain lookup struct since this cache is populated once at startup from
// the bundled definitions rather than served as a CRUD resource itself.
package resolve

import (
	"fmt"
	"strings"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
	"github.com/robertoaraneda/gofhir/internal/search/params"
)

// ParamType is a SearchParameter.type value (§3.2, §4.2).
type ParamType string

const (
	TypeString    ParamType = "string"
	TypeToken     ParamType = "token"
	TypeReference ParamType = "reference"
	TypeDate      ParamType = "date"
	TypeNumber    ParamType = "number"
	TypeQuantity  ParamType = "quantity"
	TypeURI       ParamType = "uri"
	TypeComposite ParamType = "composite"
	TypeText      ParamType = "text"
	TypeContent   ParamType = "content"
	TypeSpecial   ParamType = "special"
)

// Def is one (resourceType, code) search parameter definition.
type Def struct {
	ResourceType string
	Code         string
	Type         ParamType
	Targets      []string // declared reference target types
	Modifiers    []string // allowed modifiers beyond the type-default table
	MultipleOr   bool
	MultipleAnd  bool
	Components   []CompositeComponent // for Type == composite
	// Expression is the FHIRPath expression that extracts this parameter's
	// value(s) from a resource of ResourceType, the indexing pipeline's
	// input (internal/search's Indexer). Builtins (_id, _lastUpdated, ...)
	// leave this empty since the store derives them directly from the
	// resources table's own columns.
	Expression string
}

// CompositeComponent names one component parameter of a composite (§4.2,
// §4.3 "composite := value is a $-separated tuple").
type CompositeComponent struct {
	Code string
	Type ParamType
}

// builtins resolve identically regardless of resource type (§4.2).
var builtins = map[string]Def{
	"_id":          {Code: "_id", Type: TypeSpecial, MultipleOr: true, MultipleAnd: true},
	"_lastUpdated": {Code: "_lastUpdated", Type: TypeSpecial},
	"_text":        {Code: "_text", Type: TypeText, Modifiers: []string{"missing", "exact", "contains"}},
	"_content":     {Code: "_content", Type: TypeContent, Modifiers: []string{"missing", "exact", "contains"}},
	"_in":          {Code: "_in", Type: TypeSpecial},
	"_list":        {Code: "_list", Type: TypeSpecial},
	"_security":    {Code: "_security", Type: TypeToken},
	"_profile":     {Code: "_profile", Type: TypeURI},
	"_tag":         {Code: "_tag", Type: TypeToken},
}

// Cache is a per-(resourceType,code) definition lookup, falling back to
// definitions declared against "Resource"/"DomainResource" bases.
type Cache struct {
	defs map[string]map[string]Def // resourceType -> code -> Def
}

// NewCache builds a lookup cache from a flat definition list; a definition
// whose ResourceType is "Resource" or "DomainResource" is visible to every
// concrete resource type queried.
func NewCache(defs []Def) *Cache {
	c := &Cache{defs: make(map[string]map[string]Def)}
	for _, d := range defs {
		if c.defs[d.ResourceType] == nil {
			c.defs[d.ResourceType] = make(map[string]Def)
		}
		c.defs[d.ResourceType][d.Code] = d
	}
	return c
}

// Lookup finds the definition for (resourceType, code), checking the exact
// resource type before falling back to DomainResource/Resource bases.
func (c *Cache) Lookup(resourceType, code string) (Def, bool) {
	if b, ok := builtins[code]; ok {
		b.ResourceType = resourceType
		return b, true
	}
	for _, base := range []string{resourceType, "DomainResource", "Resource"} {
		if m, ok := c.defs[base]; ok {
			if d, ok := m[code]; ok {
				return d, true
			}
		}
	}
	return Def{}, false
}

// DefsFor returns every registered (non-builtin) definition visible to
// resourceType — its own definitions plus the DomainResource/Resource
// base fallbacks — the set internal/search's Indexer walks to extract
// search-index rows from one resource instance.
func (c *Cache) DefsFor(resourceType string) []Def {
	var out []Def
	seen := map[string]bool{}
	for _, base := range []string{resourceType, "DomainResource", "Resource"} {
		for _, d := range c.defs[base] {
			if seen[d.Code] {
				continue
			}
			seen[d.Code] = true
			out = append(out, d)
		}
	}
	return out
}

// ChainMetadata attaches the resolved target-type set and the chained
// parameter's own definition shape to a chained ResourceParam (§4.2).
type ChainMetadata struct {
	TargetTypes []string
	ParamCode   string
	ParamType   ParamType
	Modifier    string
}

// ResolvedParam is one fully resolved client-supplied parameter.
type ResolvedParam struct {
	Raw      params.ResourceParam
	Def      Def
	Chain    *ChainMetadata
	Unknown  bool // accumulated rather than failing outright (§4.2)
}

// modifierLegality is keyed by ParamType; ":missing" is legal on every
// single-valued type and is therefore checked separately.
var modifierLegality = map[ParamType]map[string]bool{
	TypeString:    {"exact": true, "contains": true},
	TypeToken:     {"text": true, "not": true, "above": true, "below": true, "in": true, "not-in": true, "of-type": true, "code-text": true, "text-advanced": true},
	TypeReference: {"not": true, "above": true, "below": true, "contains": true, "missing": true, "identifier": true},
	TypeDate:      {"missing": true},
	TypeNumber:    {"missing": true},
	TypeQuantity:  {"missing": true},
	TypeURI:       {"missing": true, "above": true, "below": true},
}

func isModifierLegal(t ParamType, modifier string) bool {
	if modifier == "" || modifier == "missing" {
		return true
	}
	// A bracketed [Type] modifier is reference-only and checked by the
	// caller via TypeModifier, not through this table.
	m := modifierLegality[t]
	return m != nil && m[modifier]
}

// Resolve resolves every parsed resource parameter against the cache,
// producing ResolvedParam values. Unresolvable parameters are appended to
// `unknown` rather than failing the whole request (§4.2), letting the
// caller apply Prefer: handling=strict|lenient afterward.
func Resolve(cache *Cache, resourceType string, parsed []params.ResourceParam) (resolved []ResolvedParam, unknown []params.ResourceParam, err error) {
	occurrences := map[string]int{}
	for _, p := range parsed {
		occurrences[p.Code]++
	}

	for _, p := range parsed {
		rp, uerr := resolveOne(cache, resourceType, p, occurrences[p.Code])
		if uerr != nil {
			return nil, nil, uerr
		}
		if rp.Unknown {
			unknown = append(unknown, p)
			continue
		}
		resolved = append(resolved, rp)
	}
	return resolved, unknown, nil
}

func resolveOne(cache *Cache, resourceType string, p params.ResourceParam, occurrences int) (ResolvedParam, error) {
	def, ok := cache.Lookup(resourceType, p.Code)
	if !ok {
		return ResolvedParam{Raw: p, Unknown: true}, nil
	}

	if p.TypeModifier != "" && def.Type != TypeReference {
		return ResolvedParam{}, fhirerr.Validation(
			"[%s] modifier is only legal on reference parameters, not %q (%s)", p.TypeModifier, p.Code, def.Type)
	}

	if p.Modifier != "" && !isModifierLegal(def.Type, p.Modifier) && !contains(def.Modifiers, p.Modifier) {
		return ResolvedParam{}, fhirerr.Validation(
			"modifier %q is not legal on parameter %q of type %s", p.Modifier, p.Code, def.Type)
	}

	if occurrences > 1 && !def.MultipleAnd {
		return ResolvedParam{Raw: p, Unknown: true}, nil
	}
	if len(p.Values) > 1 && !def.MultipleOr {
		return ResolvedParam{Raw: p, Unknown: true}, nil
	}

	if def.Type == TypeComposite {
		if err := validateComposite(def, p.Values); err != nil {
			return ResolvedParam{}, err
		}
	}
	if def.Type == TypeSpecial || def.Type == TypeComposite {
		if p.Chain != nil {
			return ResolvedParam{}, fhirerr.Validation("parameters of type %s cannot be chained", def.Type)
		}
	}

	rp := ResolvedParam{Raw: p, Def: def}

	if p.Chain != nil && len(p.Chain.Segments) > 1 {
		meta, err := resolveChain(cache, resourceType, def, p)
		if err != nil {
			return ResolvedParam{}, err
		}
		rp.Chain = meta
	}

	return rp, nil
}

// resolveChain resolves a `param.chainedParam` path: the base parameter
// must be a reference; for each declared (or type-modifier-narrowed) target
// type, the chained parameter's own definition is looked up, and
// incompatible results across targets are rejected as ambiguous (§4.2).
func resolveChain(cache *Cache, resourceType string, base Def, p params.ResourceParam) (*ChainMetadata, error) {
	if base.Type != TypeReference {
		return nil, fhirerr.Validation("cannot chain through non-reference parameter %q", p.Code)
	}

	targets := base.Targets
	if p.TypeModifier != "" {
		targets = []string{p.TypeModifier}
	}
	if len(targets) == 0 {
		return nil, fhirerr.Validation("parameter %q has no declared reference targets to chain through", p.Code)
	}

	next := p.Chain.Segments[1]
	if next.Membership {
		return &ChainMetadata{TargetTypes: targets, ParamCode: next.RefParam, ParamType: TypeSpecial}, nil
	}

	var chainedType ParamType
	var found bool
	resolvedTargets := targets
	if next.TargetType != "" {
		resolvedTargets = []string{next.TargetType}
	}

	for _, t := range resolvedTargets {
		d, ok := cache.Lookup(t, next.RefParam)
		if !ok {
			continue
		}
		if found && d.Type != chainedType {
			return nil, fhirerr.Validation(
				"chain %q is ambiguous: %q resolves to incompatible types across targets %v", p.Code, next.RefParam, targets)
		}
		chainedType = d.Type
		found = true
	}
	if !found {
		return nil, fhirerr.Validation("chained parameter %q does not exist on any target of %q", next.RefParam, p.Code)
	}

	if len(p.Chain.Segments) > 2 {
		// Multi-hop: the immediate chained param must itself be a
		// reference for the remaining hops to resolve through.
		if chainedType != TypeReference {
			return nil, fhirerr.Validation("chain %q: %q is not a reference parameter, cannot continue chaining", p.Code, next.RefParam)
		}
	}

	return &ChainMetadata{TargetTypes: resolvedTargets, ParamCode: next.RefParam, ParamType: chainedType, Modifier: p.Modifier}, nil
}

// ResolveReverseChain validates a `_has:Type:refParam:filterParam` directive:
// the referring resource's reference parameter must exist and be of type
// reference, and the filter parameter must exist on the referring resource.
func ResolveReverseChain(cache *Cache, spec params.ReverseChainSpec) error {
	refDef, ok := cache.Lookup(spec.ReferencingType, spec.ReferenceParam)
	if !ok || refDef.Type != TypeReference {
		return fhirerr.Validation("_has:%s:%s is not a reference parameter on %s",
			spec.ReferencingType, spec.ReferenceParam, spec.ReferencingType)
	}
	if spec.Nested != nil {
		return ResolveReverseChain(cache, *spec.Nested)
	}
	if _, ok := cache.Lookup(spec.ReferencingType, spec.FilterParam); !ok {
		return fhirerr.Validation("_has filter parameter %q does not exist on %s", spec.FilterParam, spec.ReferencingType)
	}
	return nil
}

func validateComposite(def Def, values []string) error {
	for _, v := range values {
		parts := splitUnescapedDollar(v)
		if len(parts) != len(def.Components) {
			return fhirerr.Validation("composite parameter %q expects %d components, got %d in %q",
				def.Code, len(def.Components), len(parts), v)
		}
	}
	return nil
}

func splitUnescapedDollar(s string) []string {
	var out []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && s[i+1] == '$' {
			cur.WriteByte('$')
			i++
			continue
		}
		if s[i] == '$' {
			out = append(out, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(s[i])
	}
	out = append(out, cur.String())
	return out
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// String renders a Def for error messages and diagnostics.
func (d Def) String() string {
	return fmt.Sprintf("%s.%s(%s)", d.ResourceType, d.Code, d.Type)
}
