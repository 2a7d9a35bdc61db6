// Package terminology implements ValueSet expansion and the terminology
// operations ($lookup, $validate-code, $subsumes, $translate, $closure),
// grounded on original_source/apps/server/src/services/terminology.rs,
// restructured from its async/Result style into Go's context/error-return
// idiom and the fhirerr taxonomy. CodeSystem/ValueSet/ConceptMap lookups
// go through internal/store since those are themselves persisted FHIR
// resources, the same way internal/crud reads any other resource type.
package terminology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
	"github.com/robertoaraneda/gofhir/internal/search/normalize"
	"github.com/robertoaraneda/gofhir/internal/store"
)

// Concept is one expanded ValueSet member.
type Concept struct {
	System       string
	Code         string
	Display      string
	Inactive     bool
	Designations json.RawMessage
}

// CanonicalResolver finds a resource by (resourceType, id) or by canonical
// url[+version]; satisfied by a thin wrapper over internal/store.
type CanonicalResolver interface {
	ByID(ctx context.Context, resourceType, id string) (map[string]interface{}, error)
	ByCanonicalURL(ctx context.Context, resourceType, url, version string) (map[string]interface{}, error)
}

// Service implements the terminology operations.
type Service struct {
	store    *store.Store
	resolver CanonicalResolver
}

func New(s *store.Store, resolver CanonicalResolver) *Service {
	return &Service{store: s, resolver: resolver}
}

// ExpandOperation implements the $expand operation (§ supplemented
// feature), applying filter/offset/count/activeOnly/includeDesignations/
// displayLanguage over the concepts produced by ExpandValueSet. Named
// distinctly from Expand, which satisfies normalize.ValueSetExpander for
// the narrower `:in`/`:not-in` token-set use.
func (s *Service) ExpandOperation(ctx context.Context, valueset map[string]interface{}, filter string, offset, count int, activeOnly, includeDesignations bool, displayLanguage string) (map[string]interface{}, error) {
	concepts, err := s.ExpandValueSet(ctx, valueset)
	if err != nil {
		return nil, err
	}

	if activeOnly {
		kept := concepts[:0]
		for _, c := range concepts {
			if !c.Inactive {
				kept = append(kept, c)
			}
		}
		concepts = kept
	}
	if filter != "" {
		f := strings.ToLower(filter)
		kept := concepts[:0]
		for _, c := range concepts {
			if strings.Contains(strings.ToLower(c.Code), f) || strings.Contains(strings.ToLower(c.Display), f) {
				kept = append(kept, c)
			}
		}
		concepts = kept
	}

	total := len(concepts)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + count
	if count <= 0 || end > total {
		end = total
	}
	page := concepts[offset:end]

	contains := make([]map[string]interface{}, 0, len(page))
	for _, c := range page {
		item := map[string]interface{}{"system": c.System, "code": c.Code}
		display := c.Display
		if displayLanguage != "" && len(c.Designations) > 0 {
			if d, ok := designationFor(c.Designations, displayLanguage); ok {
				display = d
			}
		}
		if display != "" {
			item["display"] = display
		}
		if c.Inactive {
			item["inactive"] = true
		}
		if includeDesignations && len(c.Designations) > 0 {
			var d interface{}
			_ = json.Unmarshal(c.Designations, &d)
			item["designation"] = d
		}
		contains = append(contains, item)
	}

	out := cloneMap(valueset)
	out["expansion"] = map[string]interface{}{
		"identifier": "urn:uuid:" + newPseudoUUID(),
		"total":      total,
		"offset":     offset,
		"contains":   contains,
	}
	return out, nil
}

// ExpandValueSet walks a ValueSet's expansion.contains and compose.include/
// exclude, following nested ValueSet references, mirroring
// process_valueset_for_expansion in the source. Returns TooCostly if the
// walk yields no concepts at all; a nested ValueSet reference that cannot
// be resolved returns NotFound.
func (s *Service) ExpandValueSet(ctx context.Context, valueset map[string]interface{}) ([]Concept, error) {
	out := map[string]Concept{}
	var pending []string
	visited := map[string]bool{}
	if url, _ := valueset["url"].(string); url != "" {
		visited[url] = true
	}

	if err := s.processValueSet(ctx, valueset, out, &pending); err != nil {
		return nil, err
	}
	for len(pending) > 0 {
		url := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if visited[url] {
			continue
		}
		visited[url] = true
		vs, err := s.resolver.ByCanonicalURL(ctx, "ValueSet", url, "")
		if err != nil {
			return nil, err
		}
		if vs == nil {
			return nil, fhirerr.NotFound("ValueSet", url)
		}
		if err := s.processValueSet(ctx, vs, out, &pending); err != nil {
			return nil, err
		}
	}

	if len(out) == 0 {
		return nil, fhirerr.TooCostly("ValueSet cannot be expanded with available terminology data")
	}
	concepts := make([]Concept, 0, len(out))
	for _, c := range out {
		concepts = append(concepts, c)
	}
	sort.Slice(concepts, func(i, j int) bool {
		if concepts[i].System != concepts[j].System {
			return concepts[i].System < concepts[j].System
		}
		return concepts[i].Code < concepts[j].Code
	})
	return concepts, nil
}

func (s *Service) processValueSet(ctx context.Context, valueset map[string]interface{}, out map[string]Concept, pending *[]string) error {
	if exp, ok := valueset["expansion"].(map[string]interface{}); ok {
		if contains, ok := exp["contains"].([]interface{}); ok {
			extractContains(contains, out)
		}
	}

	compose, ok := valueset["compose"].(map[string]interface{})
	if !ok {
		return nil
	}

	if includes, ok := compose["include"].([]interface{}); ok {
		for _, raw := range includes {
			include, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			system, _ := include["system"].(string)

			if concepts, ok := include["concept"].([]interface{}); ok && system != "" {
				for _, raw := range concepts {
					cm, ok := raw.(map[string]interface{})
					if !ok {
						continue
					}
					code, _ := cm["code"].(string)
					if code == "" {
						continue
					}
					display, _ := cm["display"].(string)
					var desig json.RawMessage
					if d, ok := cm["designation"]; ok {
						desig, _ = json.Marshal(d)
					}
					out[system+"|"+code] = Concept{System: system, Code: code, Display: display, Designations: desig}
				}
			} else if system != "" {
				rows, err := s.fetchSystemConcepts(ctx, system)
				if err != nil {
					return err
				}
				for _, row := range rows {
					out[system+"|"+row.Code] = row
				}
			}

			if vsRefs, ok := include["valueSet"].([]interface{}); ok {
				for _, v := range vsRefs {
					if url, ok := v.(string); ok {
						*pending = append(*pending, url)
					}
				}
			}
		}
	}

	if excludes, ok := compose["exclude"].([]interface{}); ok {
		for _, raw := range excludes {
			exclude, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			system, _ := exclude["system"].(string)
			concepts, ok := exclude["concept"].([]interface{})
			if !ok || system == "" {
				continue
			}
			for _, raw := range concepts {
				cm, ok := raw.(map[string]interface{})
				if !ok {
					continue
				}
				if code, _ := cm["code"].(string); code != "" {
					delete(out, system+"|"+code)
				}
			}
		}
	}
	return nil
}

func extractContains(items []interface{}, out map[string]Concept) {
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		system, _ := item["system"].(string)
		code, _ := item["code"].(string)
		display, _ := item["display"].(string)
		if system != "" && code != "" {
			out[system+"|"+code] = Concept{System: system, Code: code, Display: display}
		}
		if nested, ok := item["contains"].([]interface{}); ok {
			extractContains(nested, out)
		}
	}
}

// Expand satisfies internal/search/normalize.ValueSetExpander, resolving a
// `:in`/`:not-in` modifier's ValueSet reference (a bare canonical url, or
// `url|version`) and returning its expansion as system|code token pairs.
func (s *Service) Expand(ctx context.Context, valueSetRef string) ([]normalize.TokenPair, error) {
	url, version := valueSetRef, ""
	if i := strings.LastIndex(valueSetRef, "|"); i >= 0 {
		url, version = valueSetRef[:i], valueSetRef[i+1:]
	}
	vs, err := s.resolver.ByCanonicalURL(ctx, "ValueSet", url, version)
	if err != nil {
		return nil, err
	}
	if vs == nil {
		return nil, fhirerr.NotFound("ValueSet", valueSetRef)
	}
	concepts, err := s.ExpandValueSet(ctx, vs)
	if err != nil {
		return nil, err
	}
	pairs := make([]normalize.TokenPair, len(concepts))
	for i, c := range concepts {
		pairs[i] = normalize.TokenPair{System: c.System, Code: c.Code}
	}
	return pairs, nil
}

// Lookup implements $lookup: resolve a system+code to its display,
// requested properties, and designations. It takes the system and code
// as separate values; it does not accept a Coding.
func (s *Service) Lookup(ctx context.Context, system, code, version string, requestedProperties []string) (map[string]interface{}, error) {
	cs, err := s.resolver.ByCanonicalURL(ctx, "CodeSystem", system, version)
	if err != nil {
		return nil, err
	}
	csName := system
	if cs != nil {
		if name, _ := cs["name"].(string); name != "" {
			csName = name
		} else if title, _ := cs["title"].(string); title != "" {
			csName = title
		}
	}

	concept, err := s.findConceptInCodeSystem(ctx, system, version, code)
	if err != nil {
		return nil, err
	}
	if concept == nil {
		return nil, fhirerr.NotFound("CodeSystem-concept", fmt.Sprintf("%s|%s", system, code))
	}

	out := map[string]interface{}{"name": csName, "display": orElse(concept.Display, code)}
	if version != "" {
		out["version"] = version
	}

	if len(concept.Properties) > 0 {
		var props []map[string]interface{}
		_ = json.Unmarshal(concept.Properties, &props)
		var filtered []map[string]interface{}
		for _, p := range props {
			pc, _ := p["code"].(string)
			if len(requestedProperties) > 0 && !contains(requestedProperties, pc) {
				continue
			}
			filtered = append(filtered, p)
		}
		out["property"] = filtered
	}
	if len(concept.Designations) > 0 {
		var d interface{}
		_ = json.Unmarshal(concept.Designations, &d)
		out["designation"] = d
	}
	return out, nil
}

// ValidateCodeInCodeSystem implements $validate-code against a CodeSystem;
// ValidateCodeInValueSet is the ValueSet counterpart.
func (s *Service) ValidateCodeInCodeSystem(ctx context.Context, url, system, code string) (bool, string, error) {
	if system != "" && system != url {
		return false, "", fhirerr.Validation("code system does not match CodeSystem url")
	}
	concept, err := s.findConceptInCodeSystem(ctx, url, "", code)
	if err != nil {
		return false, "", err
	}
	if concept == nil {
		return false, fmt.Sprintf("unknown code %q in system %q", code, url), nil
	}
	return true, concept.Display, nil
}

func (s *Service) ValidateCodeInValueSet(ctx context.Context, valueset map[string]interface{}, system, code string) (bool, string, error) {
	concepts, err := s.ExpandValueSet(ctx, valueset)
	if err != nil {
		return false, "", err
	}
	for _, c := range concepts {
		if c.System == system && c.Code == code {
			return true, c.Display, nil
		}
	}
	return false, "code not in ValueSet", nil
}

// Subsumes implements $subsumes over a CodeSystem's explicit concept
// hierarchy (§ supplemented feature; live hierarchy traversal only — the
// closure-table fast path is Closure's concern).
func (s *Service) Subsumes(ctx context.Context, system, codeA, codeB string) (string, error) {
	if codeA == codeB {
		return "equivalent", nil
	}
	parents, err := s.loadCodeSystemParentMap(ctx, system)
	if err != nil {
		return "", err
	}
	if isAncestor(parents, codeA, codeB) {
		return "subsumes", nil
	}
	if isAncestor(parents, codeB, codeA) {
		return "subsumed-by", nil
	}
	return "not-subsumed", nil
}

// Translate implements $translate over a ConceptMap's group/element/target
// structure, honoring `reverse`.
func (s *Service) Translate(cm map[string]interface{}, system, code string, reverse bool) (bool, []TranslationMatch, error) {
	matches := translateWithMap(cm, system, code, reverse)
	result := false
	for _, m := range matches {
		if m.Equivalence != "unmatched" && m.Equivalence != "disjoint" {
			result = true
			break
		}
	}
	return result, matches, nil
}

type TranslationMatch struct {
	System      string
	Code        string
	Display     string
	Equivalence string
}

// ClosureRelation is one subsumption edge returned by Closure.
type ClosureRelation struct {
	SourceSystem, SourceCode string
	TargetSystem, TargetCode string
	Equivalence              string
}

// ClosureConcept is one member submitted to (or already tracked by) a named
// closure table.
type ClosureConcept struct {
	System, Code, Display string
}

// Closure implements $closure (§ supplemented feature): maintains a named,
// incrementally-versioned table of concepts and their pairwise subsumption
// relations, returning only the relations new since the client's last-seen
// version as a ConceptMap. Grounded on terminology.rs's closure handler;
// the O(n^2) pairwise subsumption recompute on every batch is carried over
// unchanged since closure tables are meant to stay small (a handful of
// systems' worth of codes a client is actively tracking).
func (s *Service) Closure(ctx context.Context, name string, sinceVersion int, newConcepts []ClosureConcept) (int, []ClosureRelation, error) {
	var currentVersion int
	err := s.store.Tx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		v, err := s.getClosureVersion(ctx, tx, name)
		if err != nil {
			return err
		}
		if v == 0 {
			if sinceVersion > 0 {
				return fhirerr.NotFound("closure", name)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO closure_tables (name, version) VALUES ($1, 1)`, name); err != nil {
				return fhirerr.Internal(err, "create closure table %q", name)
			}
			v = 1
		}
		currentVersion = v

		insertedAny := false
		for _, c := range newConcepts {
			if c.System == "" || c.Code == "" {
				continue
			}
			tag, err := tx.Exec(ctx, `
				INSERT INTO closure_concepts (name, system, code, display)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (name, system, code) DO NOTHING`,
				name, c.System, c.Code, c.Display)
			if err != nil {
				return fhirerr.Internal(err, "insert closure concept %s|%s", c.System, c.Code)
			}
			if tag.RowsAffected() > 0 {
				insertedAny = true
			}
		}

		if !insertedAny {
			return nil
		}

		currentVersion++
		if _, err := tx.Exec(ctx, `UPDATE closure_tables SET version = $2 WHERE name = $1`, name, currentVersion); err != nil {
			return fhirerr.Internal(err, "bump closure version for %q", name)
		}

		rows, err := tx.Query(ctx, `SELECT system, code FROM closure_concepts WHERE name = $1`, name)
		if err != nil {
			return fhirerr.Internal(err, "fetch closure concepts for %q", name)
		}
		bySystem := map[string][]string{}
		for rows.Next() {
			var system, code string
			if err := rows.Scan(&system, &code); err != nil {
				rows.Close()
				return fhirerr.Internal(err, "scan closure concept row")
			}
			bySystem[system] = append(bySystem[system], code)
		}
		rows.Close()

		for system, codes := range bySystem {
			parents, err := s.loadCodeSystemParentMap(ctx, system)
			if err != nil {
				continue
			}
			for _, a := range codes {
				for _, b := range codes {
					if a == b {
						continue
					}
					if isAncestor(parents, a, b) {
						_, _ = tx.Exec(ctx, `
							INSERT INTO closure_relations (name, source_system, source_code, target_system, target_code, equivalence, version)
							VALUES ($1, $2, $3, $2, $4, 'subsumes', $5)
							ON CONFLICT DO NOTHING`,
							name, system, b, a, currentVersion)
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	if sinceVersion > currentVersion {
		return 0, nil, fhirerr.Validation("requested version %d is newer than current version %d", sinceVersion, currentVersion)
	}

	relations, err := s.fetchClosureRelations(ctx, name, sinceVersion)
	if err != nil {
		return 0, nil, err
	}
	return currentVersion, relations, nil
}

func (s *Service) getClosureVersion(ctx context.Context, tx pgx.Tx, name string) (int, error) {
	var v int
	err := tx.QueryRow(ctx, `SELECT version FROM closure_tables WHERE name = $1`, name).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fhirerr.Internal(err, "fetch closure version for %q", name)
	}
	return v, nil
}

func (s *Service) fetchClosureRelations(ctx context.Context, name string, sinceVersion int) ([]ClosureRelation, error) {
	rows, err := s.store.Pool().Query(ctx, `
		SELECT source_system, source_code, target_system, target_code, equivalence
		FROM closure_relations
		WHERE name = $1 AND ($2 = 0 OR version > $2)`, name, sinceVersion)
	if err != nil {
		return nil, fhirerr.Internal(err, "fetch closure relations for %q", name)
	}
	defer rows.Close()
	var out []ClosureRelation
	for rows.Next() {
		var r ClosureRelation
		if err := rows.Scan(&r.SourceSystem, &r.SourceCode, &r.TargetSystem, &r.TargetCode, &r.Equivalence); err != nil {
			return nil, fhirerr.Internal(err, "scan closure relation row")
		}
		out = append(out, r)
	}
	return out, nil
}

// BuildClosureConceptMap renders Closure's relations into a ConceptMap
// resource body, grouped by (sourceSystem, targetSystem) per group/element.
func BuildClosureConceptMap(version int, relations []ClosureRelation) map[string]interface{} {
	type key struct{ src, tgt string }
	grouped := map[key]map[string][][2]string{}
	for _, r := range relations {
		k := key{r.SourceSystem, r.TargetSystem}
		if grouped[k] == nil {
			grouped[k] = map[string][][2]string{}
		}
		grouped[k][r.SourceCode] = append(grouped[k][r.SourceCode], [2]string{r.TargetCode, r.Equivalence})
	}

	var groups []map[string]interface{}
	for k, elements := range grouped {
		var elementArr []map[string]interface{}
		for srcCode, targets := range elements {
			var targetArr []map[string]interface{}
			for _, t := range targets {
				targetArr = append(targetArr, map[string]interface{}{"code": t[0], "equivalence": t[1]})
			}
			elementArr = append(elementArr, map[string]interface{}{"code": srcCode, "target": targetArr})
		}
		groups = append(groups, map[string]interface{}{
			"source": k.src, "target": k.tgt, "element": elementArr,
		})
	}

	return map[string]interface{}{
		"resourceType": "ConceptMap",
		"status":       "active",
		"experimental": true,
		"version":      fmt.Sprintf("%d", version),
		"group":        groups,
	}
}

func translateWithMap(cm map[string]interface{}, system, code string, reverse bool) []TranslationMatch {
	var out []TranslationMatch
	groups, _ := cm["group"].([]interface{})
	for _, raw := range groups {
		group, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		source, _ := group["source"].(string)
		target, _ := group["target"].(string)
		if !reverse && source != system {
			continue
		}
		if reverse && target != system {
			continue
		}
		elements, _ := group["element"].([]interface{})
		for _, raw := range elements {
			el, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			srcCode, _ := el["code"].(string)
			targets, _ := el["target"].([]interface{})
			if !reverse {
				if srcCode != code {
					continue
				}
				for _, raw := range targets {
					t, ok := raw.(map[string]interface{})
					if !ok {
						continue
					}
					tCode, _ := t["code"].(string)
					if tCode == "" {
						continue
					}
					tDisplay, _ := t["display"].(string)
					eq, _ := t["equivalence"].(string)
					if eq == "" {
						eq = "unmatched"
					}
					out = append(out, TranslationMatch{System: target, Code: tCode, Display: tDisplay, Equivalence: eq})
				}
			} else {
				for _, raw := range targets {
					t, ok := raw.(map[string]interface{})
					if !ok {
						continue
					}
					tCode, _ := t["code"].(string)
					if tCode != code {
						continue
					}
					eq, _ := t["equivalence"].(string)
					if eq == "" {
						eq = "unmatched"
					}
					display, _ := el["display"].(string)
					out = append(out, TranslationMatch{System: source, Code: srcCode, Display: display, Equivalence: eq})
				}
			}
		}
	}
	return out
}

func isAncestor(parents map[string][]string, ancestor, descendant string) bool {
	stack := []string{descendant}
	visited := map[string]bool{}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == ancestor {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		stack = append(stack, parents[cur]...)
	}
	return false
}

func (s *Service) loadCodeSystemParentMap(ctx context.Context, system string) (map[string][]string, error) {
	cs, err := s.resolver.ByCanonicalURL(ctx, "CodeSystem", system, "")
	if err != nil {
		return nil, err
	}
	if cs == nil {
		return nil, fhirerr.NotFound("CodeSystem", system)
	}
	concepts, ok := cs["concept"].([]interface{})
	if !ok {
		return nil, fhirerr.NotImplemented("CodeSystem %q has no concept hierarchy available", system)
	}
	out := map[string][]string{}
	buildParentMap(concepts, "", out)
	return out, nil
}

func buildParentMap(concepts []interface{}, parentCode string, out map[string][]string) {
	for _, raw := range concepts {
		c, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		code, _ := c["code"].(string)
		if code == "" {
			continue
		}
		if parentCode != "" {
			out[code] = append(out[code], parentCode)
		} else if _, exists := out[code]; !exists {
			out[code] = nil
		}
		if nested, ok := c["concept"].([]interface{}); ok {
			buildParentMap(nested, code, out)
		}
	}
}

type conceptDetails struct {
	Display      string
	Properties   json.RawMessage
	Designations json.RawMessage
}

func (s *Service) findConceptInCodeSystem(ctx context.Context, system, version, code string) (*conceptDetails, error) {
	cs, err := s.resolver.ByCanonicalURL(ctx, "CodeSystem", system, version)
	if err != nil {
		return nil, err
	}
	if cs == nil {
		return nil, nil
	}
	concepts, ok := cs["concept"].([]interface{})
	if !ok {
		return nil, nil
	}
	found := findConceptRecursive(concepts, code)
	if found == nil {
		return nil, nil
	}
	display, _ := found["display"].(string)
	var props, desigs json.RawMessage
	if p, ok := found["property"]; ok {
		props, _ = json.Marshal(p)
	}
	if d, ok := found["designation"]; ok {
		desigs, _ = json.Marshal(d)
	}
	return &conceptDetails{Display: display, Properties: props, Designations: desigs}, nil
}

func findConceptRecursive(concepts []interface{}, code string) map[string]interface{} {
	for _, raw := range concepts {
		c, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if cc, _ := c["code"].(string); cc == code {
			return c
		}
		if nested, ok := c["concept"].([]interface{}); ok {
			if found := findConceptRecursive(nested, code); found != nil {
				return found
			}
		}
	}
	return nil
}

func (s *Service) fetchSystemConcepts(ctx context.Context, system string) ([]Concept, error) {
	cs, err := s.resolver.ByCanonicalURL(ctx, "CodeSystem", system, "")
	if err != nil {
		return nil, err
	}
	if cs == nil {
		return nil, nil
	}
	concepts, ok := cs["concept"].([]interface{})
	if !ok {
		return nil, nil
	}
	var out []Concept
	var walk func([]interface{})
	walk = func(items []interface{}) {
		for _, raw := range items {
			c, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			code, _ := c["code"].(string)
			display, _ := c["display"].(string)
			if code != "" {
				out = append(out, Concept{System: system, Code: code, Display: display})
			}
			if nested, ok := c["concept"].([]interface{}); ok {
				walk(nested)
			}
		}
	}
	walk(concepts)
	return out, nil
}

func designationFor(raw json.RawMessage, lang string) (string, bool) {
	var desigs []map[string]interface{}
	if err := json.Unmarshal(raw, &desigs); err != nil {
		return "", false
	}
	for _, d := range desigs {
		if l, _ := d["language"].(string); l == lang {
			if v, _ := d["value"].(string); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func orElse(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// newPseudoUUID avoids time/rand dependencies inside this hand-rolled
// identifier helper; callers needing a real random UUID for a persisted
// resource use google/uuid (internal/crud), this is only ever embedded
// in a transient, non-persisted expansion "identifier" field.
var uuidSeq uint64

func newPseudoUUID() string {
	uuidSeq++
	return fmt.Sprintf("00000000-0000-4000-8000-%012x", uuidSeq)
}

// storeResolver adapts internal/store.Store to CanonicalResolver.
type storeResolver struct {
	store *store.Store
}

// NewStoreResolver builds the default CanonicalResolver backed by the
// resources table: ByID is a thin GetCurrent, ByCanonicalURL issues a raw
// query against the `url`/`version` top-level fields since canonical
// resources (ValueSet/CodeSystem/ConceptMap) are looked up by url far more
// often than by id.
func NewStoreResolver(s *store.Store) CanonicalResolver {
	return &storeResolver{store: s}
}

func (r *storeResolver) ByID(ctx context.Context, resourceType, id string) (map[string]interface{}, error) {
	res, err := r.store.GetCurrent(ctx, r.store.Pool(), resourceType, id)
	if err != nil {
		if fhirerr.KindOf(err) == fhirerr.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(res.Body, &doc); err != nil {
		return nil, fhirerr.Internal(err, "decode %s/%s", resourceType, id)
	}
	return doc, nil
}

func (r *storeResolver) ByCanonicalURL(ctx context.Context, resourceType, url, version string) (map[string]interface{}, error) {
	var body []byte
	var err error
	if version != "" {
		err = r.store.Pool().QueryRow(ctx, `
			SELECT resource FROM resources
			WHERE resource_type = $1 AND is_current = true AND deleted = false
			  AND resource->>'url' = $2 AND resource->>'version' = $3
			LIMIT 1`, resourceType, url, version).Scan(&body)
	} else {
		err = r.store.Pool().QueryRow(ctx, `
			SELECT resource FROM resources
			WHERE resource_type = $1 AND is_current = true AND deleted = false
			  AND resource->>'url' = $2
			ORDER BY last_updated DESC
			LIMIT 1`, resourceType, url).Scan(&body)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fhirerr.Internal(err, "lookup %s by canonical url %q", resourceType, url)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fhirerr.Internal(err, "decode %s canonical %q", resourceType, url)
	}
	return doc, nil
}
