package querybuilder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertoaraneda/gofhir/internal/search/normalize"
	"github.com/robertoaraneda/gofhir/internal/search/resolve"
)

func TestBuildBasePredicate(t *testing.T) {
	sql, args, err := Build(Options{ResourceType: "Patient"})
	require.NoError(t, err)
	assert.Contains(t, sql, "r.is_current = $1")
	assert.Contains(t, sql, "r.resource_type = $")
	assert.Contains(t, sql, "ORDER BY")
	assert.NotEmpty(t, args)
}

func TestBuildStringParam(t *testing.T) {
	sql, _, err := Build(Options{
		ResourceType: "Patient",
		Params: []Param{{
			Def:    resolve.Def{Code: "name", Type: resolve.TypeString},
			Values: []Value{{Raw: "Smith"}},
		}},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "EXISTS")
	assert.Contains(t, sql, "search_index_string")
}

func TestBuildReferenceParamVersioned(t *testing.T) {
	v := int64(3)
	sql, args, err := Build(Options{
		ResourceType: "Observation",
		Params: []Param{{
			Def: resolve.Def{Code: "subject", Type: resolve.TypeReference},
			Values: []Value{{Ref: &normalize.NormalizedReference{Type: "Patient", ID: "1", VersionID: &v}}},
		}},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "search_index_reference")
	assert.Contains(t, args, int64(3))
}

func TestBuildNotModifierWrapsNotExists(t *testing.T) {
	sql, _, err := Build(Options{
		ResourceType: "Patient",
		Params: []Param{{
			Def:    resolve.Def{Code: "gender", Type: resolve.TypeToken},
			Not:    true,
			Values: []Value{{Raw: "male"}},
		}},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "NOT (EXISTS")
}

func TestBuildCursorPredicate(t *testing.T) {
	sql, args, err := Build(Options{
		ResourceType: "Patient",
		Cursor:       &Cursor{LastUpdatedNanos: 123, ID: "abc"},
		CursorDir:    DirNext,
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "to_timestamp")
	assert.Contains(t, args, "abc")
}

func TestBuildSortPlacesTieBreakLast(t *testing.T) {
	sql, _, err := Build(Options{
		ResourceType: "Patient",
		Sort:         []SortKey{{Code: "name"}},
	})
	require.NoError(t, err)
	orderIdx := strings.Index(sql, "ORDER BY")
	require.True(t, orderIdx >= 0)
	tail := sql[orderIdx:]
	assert.True(t, strings.Index(tail, "r.last_updated") < strings.LastIndex(tail, "r.id"))
}

func TestEncodeDecodeCursorRoundTrip(t *testing.T) {
	token := EncodeCursor(987654321, "res-1")
	c, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, int64(987654321), c.LastUpdatedNanos)
	assert.Equal(t, "res-1", c.ID)
}

func TestCompartmentDefMarker(t *testing.T) {
	sql, args, err := Build(Options{
		ResourceType: "Observation",
		Compartment:  &Compartment{Type: "Patient", ID: "1", IsDefMarker: true},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "r.resource_type = $")
	assert.Contains(t, args, "1")
}

func TestCompartmentEmptyYieldsUnsatisfiable(t *testing.T) {
	sql, _, err := Build(Options{
		ResourceType: "Observation",
		Compartment:  &Compartment{Type: "Patient", ID: "1"},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "1=0")
}
