package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleTest(t *testing.T) {
	n, err := Parse("name eq Smith")
	require.NoError(t, err)
	test, ok := n.(Test)
	require.True(t, ok)
	assert.Equal(t, OpEq, test.Op)
	assert.Equal(t, "Smith", test.Value)
	assert.Equal(t, "name", test.Path[0].Name)
}

func TestParseAndOr(t *testing.T) {
	n, err := Parse("name eq Smith and active eq true")
	require.NoError(t, err)
	and, ok := n.(And)
	require.True(t, ok)
	assert.Len(t, and.Terms, 2)
}

func TestParseMixedAndOrRequiresParens(t *testing.T) {
	_, err := Parse("a eq 1 and b eq 2 or c eq 3")
	assert.Error(t, err)
}

func TestParseParenthesizedMixedLevels(t *testing.T) {
	n, err := Parse("(a eq 1 and b eq 2) or c eq 3")
	require.NoError(t, err)
	or, ok := n.(Or)
	require.True(t, ok)
	assert.Len(t, or.Terms, 2)
}

func TestParseNot(t *testing.T) {
	n, err := Parse("not(active eq true)")
	require.NoError(t, err)
	not, ok := n.(Not)
	require.True(t, ok)
	_, isTest := not.Term.(Test)
	assert.True(t, isTest)
}

func TestParseHasTest(t *testing.T) {
	n, err := Parse("_has:Observation:patient:code eq 1234")
	require.NoError(t, err)
	has, ok := n.(HasTest)
	require.True(t, ok)
	assert.Equal(t, "Observation", has.ReferencingType)
	assert.Equal(t, "patient", has.ReferenceParam)
	assert.Equal(t, "code", has.FilterParam)
}

func TestParseElementScopedPath(t *testing.T) {
	n, err := Parse("name[given eq John].family eq Smith")
	require.NoError(t, err)
	test, ok := n.(Test)
	require.True(t, ok)
	require.Len(t, test.Path, 2)
	require.NotNil(t, test.Path[0].Filter)
}

func TestParseQuotedValueWithSpaces(t *testing.T) {
	n, err := Parse(`name eq "John Smith"`)
	require.NoError(t, err)
	test := n.(Test)
	assert.Equal(t, "John Smith", test.Value)
}

func TestParseCommaNeverSplitsFilter(t *testing.T) {
	n, err := Parse(`name eq "Smith,John"`)
	require.NoError(t, err)
	test := n.(Test)
	assert.Equal(t, "Smith,John", test.Value)
}

func TestParseTrailingGarbageRejected(t *testing.T) {
	_, err := Parse("name eq Smith )")
	assert.Error(t, err)
}
