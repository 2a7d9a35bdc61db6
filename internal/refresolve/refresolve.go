// Package refresolve rewrites bundle-local reference placeholders
// (`urn:uuid:...` fullUrl references, §spec "Reference Resolver") within a
// submitted resource body once every entry of a batch/transaction bundle
// has been assigned a server id, following the same unmarshal-walk-
// remarshal style internal/crud.stampMeta uses to rewrite a stored body's
// meta fields.
package refresolve

import (
	"encoding/json"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
)

// Placeholders maps a bundle entry's fullUrl (e.g. "urn:uuid:...", or a
// conditional reference resolved during the same transaction) to the
// server-assigned "Type/id" it now refers to.
type Placeholders map[string]string

// Resolve rewrites every `reference` value in body that matches a key in
// placeholders, leaving references that match nothing untouched (they may
// be ordinary external or already-resolved references). Returns the
// rewritten body and the count of references actually rewritten.
func Resolve(body json.RawMessage, placeholders Placeholders) (json.RawMessage, int, error) {
	if len(placeholders) == 0 {
		return body, 0, nil
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, 0, fhirerr.InvalidResource("malformed JSON body: %v", err)
	}

	count := 0
	rewritten := walk(doc, placeholders, &count)
	if count == 0 {
		return body, 0, nil
	}

	out, err := json.Marshal(rewritten)
	if err != nil {
		return nil, 0, fhirerr.Internal(err, "re-marshal resource after reference resolution")
	}
	return out, count, nil
}

// RequireResolved checks that every urn:uuid: reference found in body has a
// corresponding placeholder entry, the transaction-bundle rule that every
// bundle-local reference must resolve within the same transaction.
func RequireResolved(body json.RawMessage, placeholders Placeholders) error {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fhirerr.InvalidResource("malformed JSON body: %v", err)
	}
	var unresolved []string
	collectUnresolved(doc, placeholders, &unresolved)
	if len(unresolved) > 0 {
		return fhirerr.Validation("unresolved bundle-local reference(s): %v", unresolved)
	}
	return nil
}

func walk(node interface{}, placeholders Placeholders, count *int) interface{} {
	switch v := node.(type) {
	case map[string]interface{}:
		if ref, ok := v["reference"].(string); ok {
			if resolved, ok := placeholders[ref]; ok {
				v["reference"] = resolved
				*count++
			}
		}
		for k, child := range v {
			v[k] = walk(child, placeholders, count)
		}
		return v
	case []interface{}:
		for i, child := range v {
			v[i] = walk(child, placeholders, count)
		}
		return v
	default:
		return v
	}
}

func collectUnresolved(node interface{}, placeholders Placeholders, unresolved *[]string) {
	switch v := node.(type) {
	case map[string]interface{}:
		if ref, ok := v["reference"].(string); ok && isBundleLocal(ref) {
			if _, ok := placeholders[ref]; !ok {
				*unresolved = append(*unresolved, ref)
			}
		}
		for _, child := range v {
			collectUnresolved(child, placeholders, unresolved)
		}
	case []interface{}:
		for _, child := range v {
			collectUnresolved(child, placeholders, unresolved)
		}
	}
}

func isBundleLocal(ref string) bool {
	return len(ref) > 9 && ref[:9] == "urn:uuid:"
}
