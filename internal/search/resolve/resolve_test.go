package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertoaraneda/gofhir/internal/search/params"
)

func testCache() *Cache {
	return NewCache([]Def{
		{ResourceType: "Patient", Code: "name", Type: TypeString, MultipleOr: true, MultipleAnd: true},
		{ResourceType: "Patient", Code: "general-practitioner", Type: TypeReference, Targets: []string{"Practitioner", "Organization"}},
		{ResourceType: "Practitioner", Code: "name", Type: TypeString},
		{ResourceType: "Observation", Code: "subject", Type: TypeReference, Targets: []string{"Patient"}},
		{ResourceType: "Observation", Code: "code", Type: TypeToken},
		{ResourceType: "Observation", Code: "value-quantity", Type: TypeQuantity},
	})
}

func TestResolveBuiltinID(t *testing.T) {
	cache := testCache()
	resolved, unknown, err := Resolve(cache, "Patient", []params.ResourceParam{{Code: "_id", Values: []string{"123"}}})
	require.NoError(t, err)
	assert.Empty(t, unknown)
	require.Len(t, resolved, 1)
	assert.Equal(t, TypeSpecial, resolved[0].Def.Type)
}

func TestResolveUnknownAccumulates(t *testing.T) {
	cache := testCache()
	resolved, unknown, err := Resolve(cache, "Patient", []params.ResourceParam{{Code: "bogus", Values: []string{"x"}}})
	require.NoError(t, err)
	assert.Empty(t, resolved)
	require.Len(t, unknown, 1)
}

func TestResolveIllegalModifierRejected(t *testing.T) {
	cache := testCache()
	_, _, err := Resolve(cache, "Observation", []params.ResourceParam{{Code: "code", Modifier: "contains", Values: []string{"x"}}})
	assert.Error(t, err)
}

func TestResolveChainedParam(t *testing.T) {
	cache := testCache()
	chain, err := params.Parse([][2]string{{"general-practitioner.name", "Smith"}})
	require.NoError(t, err)
	resolved, unknownParams, err := Resolve(cache, "Patient", chain.Params)
	require.NoError(t, err)
	assert.Empty(t, unknownParams)
	require.Len(t, resolved, 1)
	require.NotNil(t, resolved[0].Chain)
	assert.ElementsMatch(t, []string{"Practitioner", "Organization"}, resolved[0].Chain.TargetTypes)
	assert.Equal(t, TypeString, resolved[0].Chain.ParamType)
}

func TestResolveChainThroughNonReferenceRejected(t *testing.T) {
	cache := testCache()
	req, err := params.Parse([][2]string{{"code.name", "x"}})
	require.NoError(t, err)
	_, _, err = Resolve(cache, "Observation", req.Params)
	assert.Error(t, err)
}

func TestResolveReverseChainValid(t *testing.T) {
	cache := testCache()
	err := ResolveReverseChain(cache, params.ReverseChainSpec{
		ReferencingType: "Observation", ReferenceParam: "subject", FilterParam: "code",
	})
	assert.NoError(t, err)
}

func TestResolveReverseChainInvalidReferenceParam(t *testing.T) {
	cache := testCache()
	err := ResolveReverseChain(cache, params.ReverseChainSpec{
		ReferencingType: "Observation", ReferenceParam: "code", FilterParam: "code",
	})
	assert.Error(t, err)
}

func TestResolveCardinalityAndViolation(t *testing.T) {
	cache := testCache()
	_, unknown, err := Resolve(cache, "Observation", []params.ResourceParam{
		{Code: "code", Values: []string{"a"}},
		{Code: "code", Values: []string{"b"}},
	})
	require.NoError(t, err)
	assert.Len(t, unknown, 2)
}
