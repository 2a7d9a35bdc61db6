// Package normalize rewrites resolved search values before relational
// compilation (§4.4): ValueSet expansion for :in/:not-in token searches,
// reference normalization to Type/id form, and :above/:below legality on
// references and canonicals. It shares the fhirerr taxonomy with the rest
// of the search subsystem and is grounded on the reference-decomposition
// shape other_examples' chain.go ReferenceSearchClause/TokenSearchClause
// assume as already-normalized input.
package normalize

import (
	"context"
	"strconv"
	"strings"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
	"github.com/robertoaraneda/gofhir/internal/search/resolve"
)

// ValueSetExpander resolves a ValueSet reference to its member system|code
// pairs, backing :in/:not-in token normalization.
type ValueSetExpander interface {
	Expand(ctx context.Context, valueSetRef string) ([]TokenPair, error)
}

// TokenPair is one expanded system|code member of a ValueSet.
type TokenPair struct {
	System string
	Code   string
}

// TypeProbe resolves a bare id to its owning resource type(s), backing the
// "bare id -> Type/id by database probe" rule.
type TypeProbe interface {
	ProbeTypes(ctx context.Context, id string) ([]string, error)
}

var hierarchyParams = map[string]bool{
	"Location.partOf":     true,
	"Organization.partOf": true,
	"Task.part-of":        true,
}

// NormalizedReference is a decomposed reference value ready for the query
// builder (§4.4's Type/id canonical form, or a canonical URL + version).
type NormalizedReference struct {
	Type          string
	ID            string
	VersionID     *int64
	CanonicalURL  string
	CanonicalVer  string
	IsCanonical   bool
}

// Reference normalizes a single reference search value against the
// declared target types of its parameter definition.
func Reference(ctx context.Context, probe TypeProbe, def resolve.Def, modifier, value string) (*NormalizedReference, error) {
	if strings.Contains(value, "|") && !strings.Contains(value, "/") {
		// canonical|version form
		parts := strings.SplitN(value, "|", 2)
		ref := &NormalizedReference{IsCanonical: true, CanonicalURL: parts[0], CanonicalVer: parts[1]}
		if modifier == "above" || modifier == "below" {
			if !isDottedVersion(parts[1]) {
				return nil, fhirerr.Validation(":%s on a canonical reference requires a numeric dotted version, got %q", modifier, parts[1])
			}
		}
		return ref, nil
	}

	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") || strings.HasPrefix(value, "urn:") {
		return nil, fhirerr.Validation("absolute external reference %q is not supported", value)
	}
	if strings.Contains(value, "#") {
		return nil, fhirerr.Validation("fragment reference %q is not supported", value)
	}

	if (modifier == "above" || modifier == "below") && !strings.Contains(value, "/") {
		return nil, fhirerr.Validation(":%s requires an explicit Type/id reference, got bare id %q", modifier, value)
	}

	if modifier == "contains" {
		key := def.ResourceType + "." + def.Code
		if !hierarchyParams[key] {
			return nil, fhirerr.Validation(":contains is only valid on hierarchy parameters (Location.partOf, Organization.partOf, Task.part-of), not %s", key)
		}
	}

	if strings.Contains(value, "/") {
		typ, rest := splitTypeID(value)
		id, versionPart := rest, ""
		if i := strings.Index(rest, "/_history/"); i >= 0 {
			id = rest[:i]
			versionPart = rest[i+len("/_history/"):]
		}
		ref := &NormalizedReference{Type: typ, ID: id}
		if versionPart != "" {
			v, err := strconv.ParseInt(versionPart, 10, 64)
			if err != nil {
				return nil, fhirerr.Validation("invalid version segment in reference %q", value)
			}
			ref.VersionID = &v
		}
		return ref, nil
	}

	// Bare id: resolve via database probe against declared targets.
	if probe == nil {
		if len(def.Targets) == 1 {
			return &NormalizedReference{Type: def.Targets[0], ID: value}, nil
		}
		return nil, fhirerr.Validation("bare id %q on multi-target parameter %q requires a type probe", value, def.Code)
	}
	types, err := probe.ProbeTypes(ctx, value)
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return nil, fhirerr.Validation("reference id %q does not exist", value)
	}
	if len(types) > 1 {
		return nil, fhirerr.Validation("reference id %q is ambiguous across types %v", value, types)
	}
	return &NormalizedReference{Type: types[0], ID: value}, nil
}

// MembershipValue normalizes an `_in`/`patient._in` value to Type/id form,
// restricted to the CareTeam/Group/List collection types (§4.4).
func MembershipValue(value string) (typ, id string, err error) {
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return "", "", fhirerr.Validation("external absolute reference %q is not permitted in a membership search", value)
	}
	if strings.Contains(value, "#") {
		return "", "", fhirerr.Validation("fragment reference %q is not permitted in a membership search", value)
	}
	if strings.Contains(value, "|") {
		return "", "", fhirerr.Validation("canonical reference %q is not permitted in a membership search", value)
	}
	typ, id = splitTypeID(value)
	if id == "" {
		return "", "", fhirerr.Validation("membership value %q must be of the form Type/id", value)
	}
	switch typ {
	case "CareTeam", "Group", "List":
		return typ, id, nil
	default:
		return "", "", fhirerr.Validation("membership type must be CareTeam, Group, or List, got %q", typ)
	}
}

// ExpandTokenSet expands an :in/:not-in value (a ValueSet reference) into
// its member system|code pairs, rewriting :not-in to a plain :not modifier
// per §4.4 ("the modifier is removed and, for :not-in, rewritten to :not").
func ExpandTokenSet(ctx context.Context, expander ValueSetExpander, valueSetRef, modifier string) (pairs []TokenPair, rewrittenModifier string, err error) {
	pairs, err = expander.Expand(ctx, valueSetRef)
	if err != nil {
		return nil, "", err
	}
	if len(pairs) == 0 {
		return nil, "", fhirerr.Validation("ValueSet %q expanded to zero members", valueSetRef)
	}
	if modifier == "not-in" {
		return pairs, "not", nil
	}
	return pairs, "", nil
}

func splitTypeID(value string) (typ, id string) {
	i := strings.Index(value, "/")
	if i < 0 {
		return "", value
	}
	return value[:i], value[i+1:]
}

func isDottedVersion(v string) bool {
	if v == "" {
		return false
	}
	for _, seg := range strings.Split(v, ".") {
		if seg == "" {
			return false
		}
		if _, err := strconv.Atoi(seg); err != nil {
			return false
		}
	}
	return true
}
