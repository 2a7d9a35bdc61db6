package types

import "github.com/buger/jsonparser"

// LazyJson wraps one JSON fragment that has not yet been converted to a
// concrete typed Value. Unlike ObjectValue, which eagerly infers its own
// FHIR type the first time Type() is called, LazyJson defers even that:
// callers that only need String()/IsEmpty() (a path-walk that discards most
// of what it visits, e.g. `_filter`'s element-path evaluator) never pay for
// jsonValueToFHIRValue's type dispatch at all. Resolve() runs that
// conversion once, lazily, and caches it.
type LazyJson struct {
	data     []byte
	dataType jsonparser.ValueType
	resolved Value
}

// NewLazyJson wraps a raw JSON fragment together with the jsonparser kind
// already known for it (from a prior jsonparser.Get/ArrayEach call), so
// Resolve never has to re-sniff the value's type from its bytes.
func NewLazyJson(data []byte, dataType jsonparser.ValueType) *LazyJson {
	return &LazyJson{data: data, dataType: dataType}
}

// Data returns the wrapped JSON fragment's raw bytes, unconverted.
func (l *LazyJson) Data() []byte { return l.data }

// Resolve converts the wrapped fragment to its concrete Value on first use.
func (l *LazyJson) Resolve() Value {
	if l.resolved == nil {
		l.resolved = jsonValueToFHIRValue(l.data, l.dataType)
	}
	return l.resolved
}

func (l *LazyJson) Type() string {
	if v := l.Resolve(); v != nil {
		return v.Type()
	}
	return typeObject
}

func (l *LazyJson) Equal(other Value) bool {
	v := l.Resolve()
	if v == nil {
		return false
	}
	if lj, ok := other.(*LazyJson); ok {
		other = lj.Resolve()
	}
	if other == nil {
		return false
	}
	return v.Equal(other)
}

func (l *LazyJson) Equivalent(other Value) bool {
	v := l.Resolve()
	if v == nil {
		return false
	}
	if lj, ok := other.(*LazyJson); ok {
		other = lj.Resolve()
	}
	if other == nil {
		return false
	}
	return v.Equivalent(other)
}

// String resolves the fragment and renders its concrete Value; unresolvable
// fragments (e.g. a JSON null) fall back to the raw bytes.
func (l *LazyJson) String() string {
	if v := l.Resolve(); v != nil {
		return v.String()
	}
	return string(l.data)
}

func (l *LazyJson) IsEmpty() bool {
	if l.dataType == jsonparser.NotExist || l.dataType == jsonparser.Null {
		return true
	}
	v := l.Resolve()
	return v == nil || v.IsEmpty()
}
