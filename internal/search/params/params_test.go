package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCountZeroRewritesToSummaryCount(t *testing.T) {
	req, err := Parse([][2]string{{"_count", "0"}})
	require.NoError(t, err)
	assert.Equal(t, SummaryCount, req.Control.Summary)
	assert.Nil(t, req.Control.Count)
}

func TestParseUnescapedCommaSplitsOrGroup(t *testing.T) {
	req, err := Parse([][2]string{{"code", `a,b\,c`}})
	require.NoError(t, err)
	require.Len(t, req.Params, 1)
	assert.Equal(t, []string{"a", "b,c"}, req.Params[0].Values)
}

func TestParseFilterNeverSplitOnComma(t *testing.T) {
	req, err := Parse([][2]string{{"_filter", "name eq Smith,John"}})
	require.NoError(t, err)
	assert.Equal(t, "name eq Smith,John", req.Control.Filter)
}

func TestParseChainedParam(t *testing.T) {
	req, err := Parse([][2]string{{"subject:Patient.name", "Smith"}})
	require.NoError(t, err)
	require.Len(t, req.Params, 1)
	p := req.Params[0]
	require.NotNil(t, p.Chain)
	assert.Equal(t, "subject", p.Chain.Segments[0].RefParam)
	assert.Equal(t, "Patient", p.Chain.Segments[0].TargetType)
	assert.Equal(t, "name", p.Chain.Segments[1].RefParam)
}

func TestParseHasDirective(t *testing.T) {
	req, err := Parse([][2]string{{"_has:Observation:patient:code", "1234-5"}})
	require.NoError(t, err)
	require.Len(t, req.ReverseOnly, 1)
	rc := req.ReverseOnly[0]
	assert.Equal(t, "Observation", rc.ReferencingType)
	assert.Equal(t, "patient", rc.ReferenceParam)
	assert.Equal(t, "code", rc.FilterParam)
	assert.Equal(t, []string{"1234-5"}, rc.Values)
}

func TestParseNestedHasDirective(t *testing.T) {
	req, err := Parse([][2]string{{"_has:Observation:patient:_has:AuditEvent:entity:agent", "1234"}})
	require.NoError(t, err)
	require.Len(t, req.ReverseOnly, 1)
	rc := req.ReverseOnly[0]
	require.NotNil(t, rc.Nested)
	assert.Equal(t, "AuditEvent", rc.Nested.ReferencingType)
	assert.Equal(t, []string{"1234"}, rc.Nested.Values)
}

func TestParseSortDescending(t *testing.T) {
	req, err := Parse([][2]string{{"_sort", "-birthdate,name"}})
	require.NoError(t, err)
	require.Len(t, req.Control.Sort, 2)
	assert.Equal(t, "birthdate", req.Control.Sort[0].Code)
	assert.True(t, req.Control.Sort[0].Descending)
	assert.Equal(t, "name", req.Control.Sort[1].Code)
	assert.False(t, req.Control.Sort[1].Descending)
}

func TestParseRepeatedSortRejected(t *testing.T) {
	_, err := Parse([][2]string{{"_sort", "name"}, {"_sort", "-birthdate"}})
	assert.Error(t, err)
}

func TestParseUnknownResultKeyRejected(t *testing.T) {
	_, err := Parse([][2]string{{"_bogus", "x"}})
	assert.Error(t, err)
}

func TestParseIncludeWithIterateModifier(t *testing.T) {
	req, err := Parse([][2]string{{"_include:iterate", "Observation:patient"}})
	require.NoError(t, err)
	require.Len(t, req.Control.Include, 1)
	assert.True(t, req.Control.Include[0].Iterate)
	assert.Equal(t, "Observation", req.Control.Include[0].SourceType)
	assert.Equal(t, "patient", req.Control.Include[0].ParamCode)
}

func TestParseMembershipChainNotModifier(t *testing.T) {
	req, err := Parse([][2]string{{"patient._in:not", "Group/123"}})
	require.NoError(t, err)
	require.Len(t, req.Params, 1)
	assert.True(t, req.Params[0].Not)
}
