package types

import (
	"testing"

	"github.com/buger/jsonparser"
)

func TestLazyJson(t *testing.T) {
	t.Run("resolves string", func(t *testing.T) {
		lj := NewLazyJson([]byte("phone"), jsonparser.String)
		if lj.Type() != "String" {
			t.Errorf("expected String, got %s", lj.Type())
		}
		if lj.String() != "phone" {
			t.Errorf("expected phone, got %s", lj.String())
		}
		if lj.IsEmpty() {
			t.Error("expected non-empty")
		}
	})

	t.Run("resolves number once and caches", func(t *testing.T) {
		lj := NewLazyJson([]byte("42"), jsonparser.Number)
		first := lj.Resolve()
		second := lj.Resolve()
		if first != second {
			t.Error("expected Resolve to cache the converted value")
		}
		if lj.String() != "42" {
			t.Errorf("expected 42, got %s", lj.String())
		}
	})

	t.Run("resolves object", func(t *testing.T) {
		lj := NewLazyJson([]byte(`{"system":"phone","use":"home"}`), jsonparser.Object)
		if lj.Type() != "ContactPoint" {
			t.Errorf("expected ContactPoint, got %s", lj.Type())
		}
	})

	t.Run("null is empty", func(t *testing.T) {
		lj := NewLazyJson(nil, jsonparser.Null)
		if !lj.IsEmpty() {
			t.Error("expected null fragment to be empty")
		}
	})

	t.Run("equality delegates to resolved value", func(t *testing.T) {
		a := NewLazyJson([]byte("hello"), jsonparser.String)
		b := NewLazyJson([]byte("hello"), jsonparser.String)
		c := NewLazyJson([]byte("world"), jsonparser.String)
		if !a.Equal(b) {
			t.Error("expected hello == hello")
		}
		if a.Equal(c) {
			t.Error("expected hello != world")
		}
	})
}
