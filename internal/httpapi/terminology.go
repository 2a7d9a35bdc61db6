package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
	"github.com/robertoaraneda/gofhir/internal/terminology"
)

// handleTypeOperation dispatches `POST /{type}/${op}` (§ supplemented
// terminology operations: ValueSet/$expand, CodeSystem/$lookup,
// CodeSystem/$subsumes, CodeSystem/$closure).
func (srv *Server) handleTypeOperation(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "type")
	op := chi.URLParam(r, "op")
	params, err := readParameters(r)
	if err != nil {
		writeError(w, err)
		return
	}

	switch {
	case resourceType == "ValueSet" && op == "expand":
		srv.expand(w, r, params, nil)
	case resourceType == "CodeSystem" && op == "lookup":
		srv.lookup(w, r, params)
	case resourceType == "CodeSystem" && op == "subsumes":
		srv.subsumes(w, r, params)
	case resourceType == "CodeSystem" && op == "closure":
		srv.closure(w, r, params)
	case resourceType == "ConceptMap" && op == "translate":
		srv.translate(w, r, params)
	default:
		writeError(w, fhirerr.NotImplemented("operation $%s is not supported on %s", op, resourceType))
	}
}

// handleInstanceOperation dispatches `POST /{type}/{id}/${op}`, resolving
// the instance by id before delegating to the same operation bodies.
func (srv *Server) handleInstanceOperation(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "type")
	id := chi.URLParam(r, "id")
	op := chi.URLParam(r, "op")
	params, err := readParameters(r)
	if err != nil {
		writeError(w, err)
		return
	}

	switch {
	case resourceType == "ValueSet" && op == "expand":
		res, err := srv.CRUD.Read(r.Context(), "ValueSet", id)
		if err != nil {
			writeError(w, err)
			return
		}
		var vs map[string]interface{}
		_ = json.Unmarshal(res.Body, &vs)
		srv.expand(w, r, params, vs)
	default:
		writeError(w, fhirerr.NotImplemented("operation $%s is not supported on %s instances", op, resourceType))
	}
}

func (srv *Server) expand(w http.ResponseWriter, r *http.Request, params parameters, inline map[string]interface{}) {
	vs := inline
	if vs == nil {
		if ref, ok := params.resource("valueSet"); ok {
			vs = ref
		} else if url, ok := params.string("url"); ok {
			vs = map[string]interface{}{"resourceType": "ValueSet", "url": url}
		}
	}
	if vs == nil {
		writeError(w, fhirerr.Validation("$expand requires a valueSet parameter, a url parameter, or an instance"))
		return
	}
	filter, _ := params.string("filter")
	offset := params.int("offset", 0)
	count := params.int("count", 0)
	activeOnly := params.bool("activeOnly", false)
	includeDesignations := params.bool("includeDesignations", false)
	displayLanguage, _ := params.string("displayLanguage")

	result, err := srv.Terminology.ExpandOperation(r.Context(), vs, filter, offset, count, activeOnly, includeDesignations, displayLanguage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (srv *Server) lookup(w http.ResponseWriter, r *http.Request, params parameters) {
	system, _ := params.string("system")
	code, _ := params.string("code")
	version, _ := params.string("version")
	if system == "" || code == "" {
		writeError(w, fhirerr.Validation("$lookup requires system and code parameters"))
		return
	}
	var props []string
	for _, p := range params.strings("property") {
		props = append(props, p)
	}
	out, err := srv.Terminology.Lookup(r.Context(), system, code, version, props)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, parametersFromMap(out))
}

func (srv *Server) subsumes(w http.ResponseWriter, r *http.Request, params parameters) {
	system, _ := params.string("system")
	codeA, _ := params.string("codeA")
	codeB, _ := params.string("codeB")
	if system == "" || codeA == "" || codeB == "" {
		writeError(w, fhirerr.Validation("$subsumes requires system, codeA, and codeB parameters"))
		return
	}
	outcome, err := srv.Terminology.Subsumes(r.Context(), system, codeA, codeB)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, parametersFromMap(map[string]interface{}{"outcome": outcome}))
}

func (srv *Server) translate(w http.ResponseWriter, r *http.Request, params parameters) {
	cm, ok := params.resource("conceptMap")
	if !ok {
		writeError(w, fhirerr.Validation("$translate requires a conceptMap parameter"))
		return
	}
	system, _ := params.string("system")
	code, _ := params.string("code")
	reverse := params.bool("reverse", false)

	result, matches, err := srv.Terminology.Translate(cm, system, code, reverse)
	if err != nil {
		writeError(w, err)
		return
	}
	out := map[string]interface{}{"result": result, "match": matches}
	writeJSON(w, http.StatusOK, parametersFromMap(out))
}

func (srv *Server) closure(w http.ResponseWriter, r *http.Request, params parameters) {
	name, _ := params.string("name")
	if name == "" {
		writeError(w, fhirerr.Validation("$closure requires a name parameter"))
		return
	}
	since := params.int("version", 0)
	var concepts []terminology.ClosureConcept
	for _, c := range params.concepts("concept") {
		concepts = append(concepts, c)
	}
	version, relations, err := srv.Terminology.Closure(r.Context(), name, since, concepts)
	if err != nil {
		writeError(w, err)
		return
	}
	out := map[string]interface{}{"version": version, "relation": relations}
	writeJSON(w, http.StatusOK, parametersFromMap(out))
}

// parameters is a decoded FHIR Parameters resource, narrowed to the
// lookups the terminology handlers need.
type parameters struct {
	byName map[string][]map[string]interface{}
}

func readParameters(r *http.Request) (parameters, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return parameters{byName: map[string][]map[string]interface{}{}}, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return parameters{}, fhirerr.InvalidResource("failed to read request body: %v", err)
	}
	if len(body) == 0 {
		return parameters{byName: map[string][]map[string]interface{}{}}, nil
	}
	var doc struct {
		Parameter []map[string]interface{} `json:"parameter"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return parameters{}, fhirerr.Validation("malformed Parameters body: %v", err)
	}
	p := parameters{byName: map[string][]map[string]interface{}{}}
	for _, entry := range doc.Parameter {
		name, _ := entry["name"].(string)
		p.byName[name] = append(p.byName[name], entry)
	}
	return p, nil
}

func (p parameters) string(name string) (string, bool) {
	entries := p.byName[name]
	if len(entries) == 0 {
		return "", false
	}
	for _, key := range []string{"valueString", "valueCode", "valueUri", "valueUrl"} {
		if v, ok := entries[0][key].(string); ok {
			return v, true
		}
	}
	return "", false
}

func (p parameters) strings(name string) []string {
	var out []string
	for _, e := range p.byName[name] {
		for _, key := range []string{"valueString", "valueCode"} {
			if v, ok := e[key].(string); ok {
				out = append(out, v)
			}
		}
	}
	return out
}

func (p parameters) bool(name string, def bool) bool {
	entries := p.byName[name]
	if len(entries) == 0 {
		return def
	}
	if v, ok := entries[0]["valueBoolean"].(bool); ok {
		return v
	}
	return def
}

func (p parameters) int(name string, def int) int {
	entries := p.byName[name]
	if len(entries) == 0 {
		return def
	}
	switch v := entries[0]["valueInteger"].(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (p parameters) resource(name string) (map[string]interface{}, bool) {
	entries := p.byName[name]
	if len(entries) == 0 {
		return nil, false
	}
	res, ok := entries[0]["resource"].(map[string]interface{})
	return res, ok
}

func (p parameters) concepts(name string) []terminology.ClosureConcept {
	var out []terminology.ClosureConcept
	for _, e := range p.byName[name] {
		parts, _ := e["part"].([]interface{})
		c := terminology.ClosureConcept{}
		for _, rawPart := range parts {
			part, ok := rawPart.(map[string]interface{})
			if !ok {
				continue
			}
			pname, _ := part["name"].(string)
			switch pname {
			case "system":
				c.System, _ = part["valueUri"].(string)
			case "code":
				c.Code, _ = part["valueCode"].(string)
			case "display":
				c.Display, _ = part["valueString"].(string)
			}
		}
		if c.System != "" && c.Code != "" {
			out = append(out, c)
		}
	}
	return out
}

// parametersFromMap renders a result as a minimal Parameters resource, one
// top-level part per key.
func parametersFromMap(m map[string]interface{}) map[string]interface{} {
	var params []map[string]interface{}
	for k, v := range m {
		params = append(params, map[string]interface{}{"name": k, "value": v})
	}
	return map[string]interface{}{"resourceType": "Parameters", "parameter": params}
}
