// JSON Patch (RFC 6902) application for the PATCH interaction (§4.6). No
// example repo in the retrieval pack imports a JSON Patch library, so this
// is a deliberate stdlib-only exception (documented in DESIGN.md): the
// operation set is small enough, and getting `test` failures correctly
// classified as UnprocessableEntity (distinct from a malformed patch
// document, InvalidResource) is easier to guarantee hand-rolled than to
// audit in a third-party implementation pulled in for this alone.
package crud

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
)

// PatchOp is one RFC 6902 JSON Patch operation.
type PatchOp struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	From  string          `json:"from,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// ApplyJSONPatch applies ops to doc in order, returning the patched
// document. A `test` op mismatch is reported as UnprocessableEntity; every
// other failure (malformed path, wrong type, missing member) is
// InvalidResource, per §4.6's error split.
func ApplyJSONPatch(doc []byte, ops []PatchOp) ([]byte, error) {
	var root interface{}
	if err := json.Unmarshal(doc, &root); err != nil {
		return nil, fhirerr.InvalidResource("patch target is not valid JSON: %v", err)
	}

	for i, op := range ops {
		var err error
		root, err = applyOne(root, op)
		if err != nil {
			if fhirerr.KindOf(err) == fhirerr.KindInternal {
				err = fhirerr.InvalidResource("%v", err)
			}
			return nil, fmt.Errorf("patch operation %d (%s %s): %w", i, op.Op, op.Path, err)
		}
	}

	out, err := json.Marshal(root)
	if err != nil {
		return nil, fhirerr.Internal(err, "marshal patched document")
	}
	return out, nil
}

func applyOne(root interface{}, op PatchOp) (interface{}, error) {
	ptr, err := parsePointer(op.Path)
	if err != nil {
		return nil, fhirerr.InvalidResource("%v", err)
	}

	switch op.Op {
	case "add":
		var v interface{}
		if len(op.Value) > 0 {
			if err := json.Unmarshal(op.Value, &v); err != nil {
				return nil, fhirerr.InvalidResource("add: invalid value: %v", err)
			}
		}
		return setPointer(root, ptr, v, true)
	case "remove":
		return removePointer(root, ptr)
	case "replace":
		var v interface{}
		if err := json.Unmarshal(op.Value, &v); err != nil {
			return nil, fhirerr.InvalidResource("replace: invalid value: %v", err)
		}
		if _, err := getPointer(root, ptr); err != nil {
			return nil, fhirerr.InvalidResource("replace: %v", err)
		}
		return setPointer(root, ptr, v, false)
	case "move":
		fromPtr, err := parsePointer(op.From)
		if err != nil {
			return nil, fhirerr.InvalidResource("%v", err)
		}
		v, err := getPointer(root, fromPtr)
		if err != nil {
			return nil, fhirerr.InvalidResource("move: %v", err)
		}
		root, err = removePointer(root, fromPtr)
		if err != nil {
			return nil, fhirerr.InvalidResource("move: %v", err)
		}
		return setPointer(root, ptr, v, true)
	case "copy":
		fromPtr, err := parsePointer(op.From)
		if err != nil {
			return nil, fhirerr.InvalidResource("%v", err)
		}
		v, err := getPointer(root, fromPtr)
		if err != nil {
			return nil, fhirerr.InvalidResource("copy: %v", err)
		}
		return setPointer(root, ptr, deepCopy(v), true)
	case "test":
		var want interface{}
		if err := json.Unmarshal(op.Value, &want); err != nil {
			return nil, fhirerr.InvalidResource("test: invalid value: %v", err)
		}
		got, err := getPointer(root, ptr)
		if err != nil {
			return nil, fhirerr.UnprocessableEntity("test: path %q does not exist", op.Path)
		}
		if !reflect.DeepEqual(normalizeNumbers(got), normalizeNumbers(want)) {
			return nil, fhirerr.UnprocessableEntity("test: value at %q does not match", op.Path)
		}
		return root, nil
	default:
		return nil, fhirerr.InvalidResource("unknown patch op %q", op.Op)
	}
}

// normalizeNumbers returns a recursive copy of v's maps and slices with
// leaf values unchanged. Both sides of a test op decode numbers as
// float64, so equality does not depend on numeric formatting.
func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, vv := range t {
			out[k] = normalizeNumbers(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, vv := range t {
			out[i] = normalizeNumbers(vv)
		}
		return out
	default:
		return v
	}
}

func deepCopy(v interface{}) interface{} {
	b, _ := json.Marshal(v)
	var out interface{}
	_ = json.Unmarshal(b, &out)
	return out
}

// parsePointer splits an RFC 6901 JSON Pointer into unescaped reference
// tokens.
func parsePointer(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("pointer %q must start with '/'", path)
	}
	parts := strings.Split(path[1:], "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		p = strings.ReplaceAll(p, "~0", "~")
		parts[i] = p
	}
	return parts, nil
}

func getPointer(root interface{}, ptr []string) (interface{}, error) {
	cur := root
	for _, tok := range ptr {
		switch c := cur.(type) {
		case map[string]interface{}:
			v, ok := c[tok]
			if !ok {
				return nil, fmt.Errorf("member %q not found", tok)
			}
			cur = v
		case []interface{}:
			idx, err := arrayIndex(tok, len(c))
			if err != nil {
				return nil, err
			}
			cur = c[idx]
		default:
			return nil, fmt.Errorf("cannot descend into scalar at %q", tok)
		}
	}
	return cur, nil
}

func setPointer(root interface{}, ptr []string, value interface{}, insert bool) (interface{}, error) {
	if len(ptr) == 0 {
		return value, nil
	}
	return setRecursive(root, ptr, value, insert)
}

func setRecursive(cur interface{}, ptr []string, value interface{}, insert bool) (interface{}, error) {
	tok := ptr[0]
	last := len(ptr) == 1

	switch c := cur.(type) {
	case map[string]interface{}:
		if last {
			c[tok] = value
			return c, nil
		}
		child, ok := c[tok]
		if !ok {
			return nil, fmt.Errorf("member %q not found", tok)
		}
		newChild, err := setRecursive(child, ptr[1:], value, insert)
		if err != nil {
			return nil, err
		}
		c[tok] = newChild
		return c, nil
	case []interface{}:
		if tok == "-" {
			if !last {
				return nil, fmt.Errorf("'-' may only appear as the final path segment")
			}
			return append(c, value), nil
		}
		idx, err := arrayIndexForInsert(tok, len(c), insert && last)
		if err != nil {
			return nil, err
		}
		if last {
			if insert {
				out := make([]interface{}, 0, len(c)+1)
				out = append(out, c[:idx]...)
				out = append(out, value)
				out = append(out, c[idx:]...)
				return out, nil
			}
			c[idx] = value
			return c, nil
		}
		newChild, err := setRecursive(c[idx], ptr[1:], value, insert)
		if err != nil {
			return nil, err
		}
		c[idx] = newChild
		return c, nil
	default:
		return nil, fmt.Errorf("cannot descend into scalar at %q", tok)
	}
}

func removePointer(root interface{}, ptr []string) (interface{}, error) {
	if len(ptr) == 0 {
		return nil, fmt.Errorf("cannot remove the document root")
	}
	return removeRecursive(root, ptr)
}

func removeRecursive(cur interface{}, ptr []string) (interface{}, error) {
	tok := ptr[0]
	last := len(ptr) == 1

	switch c := cur.(type) {
	case map[string]interface{}:
		if last {
			if _, ok := c[tok]; !ok {
				return nil, fmt.Errorf("member %q not found", tok)
			}
			delete(c, tok)
			return c, nil
		}
		child, ok := c[tok]
		if !ok {
			return nil, fmt.Errorf("member %q not found", tok)
		}
		newChild, err := removeRecursive(child, ptr[1:])
		if err != nil {
			return nil, err
		}
		c[tok] = newChild
		return c, nil
	case []interface{}:
		idx, err := arrayIndex(tok, len(c))
		if err != nil {
			return nil, err
		}
		if last {
			return append(c[:idx], c[idx+1:]...), nil
		}
		newChild, err := removeRecursive(c[idx], ptr[1:])
		if err != nil {
			return nil, err
		}
		c[idx] = newChild
		return c, nil
	default:
		return nil, fmt.Errorf("cannot descend into scalar at %q", tok)
	}
}

func arrayIndex(tok string, length int) (int, error) {
	idx, err := strconv.Atoi(tok)
	if err != nil || idx < 0 || idx >= length {
		return 0, fmt.Errorf("array index %q out of bounds (length %d)", tok, length)
	}
	return idx, nil
}

func arrayIndexForInsert(tok string, length int, forInsert bool) (int, error) {
	idx, err := strconv.Atoi(tok)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("invalid array index %q", tok)
	}
	max := length
	if !forInsert {
		max = length - 1
	}
	if idx > max {
		return 0, fmt.Errorf("array index %q out of bounds (length %d)", tok, length)
	}
	return idx, nil
}
