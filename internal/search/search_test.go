package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
	"github.com/robertoaraneda/gofhir/internal/search/params"
	"github.com/robertoaraneda/gofhir/internal/search/resolve"
)

func TestQueryPairsDecodesAndPreservesOrder(t *testing.T) {
	pairs := queryPairs("name=Smith&birthdate=1990-01-01&name=John")
	assert.Equal(t, [][2]string{
		{"name", "Smith"},
		{"birthdate", "1990-01-01"},
		{"name", "John"},
	}, pairs)
}

func TestQueryPairsPercentDecodes(t *testing.T) {
	pairs := queryPairs("name=Smith%20Jr&code=a%2Cb")
	assert.Equal(t, [][2]string{
		{"name", "Smith Jr"},
		{"code", "a,b"},
	}, pairs)
}

func TestQueryPairsEmpty(t *testing.T) {
	assert.Nil(t, queryPairs(""))
	assert.Nil(t, queryPairs("?"))
}

func TestQueryPairsStripsLeadingQuestionMark(t *testing.T) {
	pairs := queryPairs("?name=Smith")
	assert.Equal(t, [][2]string{{"name", "Smith"}}, pairs)
}

// testCache builds a small resolve.Cache covering everything the
// compileChain/compileReverseChain/resolveSortKeys tests below need: a
// Patient.name string parameter, a Patient.birthdate date parameter, and
// Observation's subject (reference -> Patient) and code (token) parameters.
func testCache() *resolve.Cache {
	return resolve.NewCache([]resolve.Def{
		{ResourceType: "Patient", Code: "name", Type: resolve.TypeString, MultipleOr: true},
		{ResourceType: "Patient", Code: "birthdate", Type: resolve.TypeDate},
		{ResourceType: "Observation", Code: "subject", Type: resolve.TypeReference, Targets: []string{"Patient"}},
		{ResourceType: "Observation", Code: "code", Type: resolve.TypeToken, MultipleOr: true},
	})
}

// These tests exercise the chain/_has compilation helpers directly against
// a resolve.Cache, without a live store: compileChain/compileReverseChain/
// resolveSortKeys never touch s.store, s.expander, or s.probe for the
// string/token/date parameter types used here, so a Service built with
// those fields left nil is enough to drive the same code Execute calls.
func newTestService(cache *resolve.Cache) *Service {
	return New(cache, nil, nil, nil, nil, 10, 100)
}

func TestCompileChainBuildsReferenceScopedPredicate(t *testing.T) {
	svc := newTestService(testCache())
	resolved, unknown, err := resolve.Resolve(svc.cache, "Observation", []params.ResourceParam{
		{
			Code:   "subject",
			Chain:  &params.Chain{Segments: []params.ChainSegment{{RefParam: "subject"}, {RefParam: "name"}}},
			Values: []string{"Eve"},
		},
	})
	require.NoError(t, err)
	require.Empty(t, unknown)
	require.Len(t, resolved, 1)
	require.NotNil(t, resolved[0].Chain)

	cp, err := svc.compileChain(context.Background(), resolved[0])
	require.NoError(t, err)
	assert.Equal(t, "subject", cp.BaseCode)
	assert.Equal(t, []string{"Patient"}, cp.TargetTypes)
	assert.Equal(t, "name", cp.ChainDef.Code)
	assert.Equal(t, resolve.TypeString, cp.ChainDef.Type)
	require.Len(t, cp.Values, 1)
	assert.Equal(t, "Eve", cp.Values[0].Raw)
}

func TestCompileChainRejectsMultiHop(t *testing.T) {
	svc := newTestService(testCache())
	rp := resolve.ResolvedParam{
		Raw: params.ResourceParam{
			Code: "subject",
			Chain: &params.Chain{Segments: []params.ChainSegment{
				{RefParam: "subject"}, {RefParam: "general-practitioner"}, {RefParam: "name"},
			}},
			Values: []string{"Eve"},
		},
		Def: resolve.Def{ResourceType: "Observation", Code: "subject", Type: resolve.TypeReference, Targets: []string{"Patient"}},
		Chain: &resolve.ChainMetadata{
			TargetTypes: []string{"Patient"},
			ParamCode:   "general-practitioner",
			ParamType:   resolve.TypeReference,
		},
	}

	_, err := svc.compileChain(context.Background(), rp)
	require.Error(t, err)
	var ferr *fhirerr.Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, fhirerr.KindNotImplemented, ferr.Kind)
}

func TestCompileChainRejectsMembershipPseudoChain(t *testing.T) {
	svc := newTestService(testCache())
	rp := resolve.ResolvedParam{
		Raw: params.ResourceParam{
			Code:   "subject",
			Chain:  &params.Chain{Segments: []params.ChainSegment{{RefParam: "subject"}, {RefParam: "_list", Membership: true}}},
			Values: []string{"List/123"},
		},
		Def: resolve.Def{ResourceType: "Observation", Code: "subject", Type: resolve.TypeReference, Targets: []string{"Patient"}},
		Chain: &resolve.ChainMetadata{
			TargetTypes: []string{"Patient"},
			ParamCode:   "_list",
			ParamType:   resolve.TypeSpecial,
		},
	}

	_, err := svc.compileChain(context.Background(), rp)
	require.Error(t, err)
	var ferr *fhirerr.Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, fhirerr.KindNotImplemented, ferr.Kind)
}

func TestCompileReverseChainBuildsHasPredicate(t *testing.T) {
	svc := newTestService(testCache())
	spec := params.ReverseChainSpec{
		ReferencingType: "Observation",
		ReferenceParam:  "subject",
		FilterParam:     "code",
		Values:          []string{"1234-5"},
	}

	rc, err := svc.compileReverseChain(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "Observation", rc.ReferencingType)
	assert.Equal(t, "subject", rc.ReferenceParam)
	assert.Equal(t, "code", rc.FilterDef.Code)
	assert.Equal(t, resolve.TypeToken, rc.FilterDef.Type)
	require.Len(t, rc.Values, 1)
	assert.Equal(t, "1234-5", rc.Values[0].Raw)
	assert.Nil(t, rc.Nested)
}

func TestCompileReverseChainRejectsNonReferenceParam(t *testing.T) {
	svc := newTestService(testCache())
	spec := params.ReverseChainSpec{
		ReferencingType: "Observation",
		ReferenceParam:  "code", // token, not reference
		FilterParam:     "code",
		Values:          []string{"x"},
	}

	_, err := svc.compileReverseChain(context.Background(), spec)
	require.Error(t, err)
	var ferr *fhirerr.Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, fhirerr.KindValidation, ferr.Kind)
}

func TestCompileReverseChainRecursesIntoNested(t *testing.T) {
	cache := resolve.NewCache([]resolve.Def{
		{ResourceType: "Patient", Code: "birthdate", Type: resolve.TypeDate},
		{ResourceType: "Observation", Code: "subject", Type: resolve.TypeReference, Targets: []string{"Patient"}},
		{ResourceType: "Observation", Code: "code", Type: resolve.TypeToken},
		{ResourceType: "Encounter", Code: "subject", Type: resolve.TypeReference, Targets: []string{"Patient"}},
		{ResourceType: "Encounter", Code: "reason-code", Type: resolve.TypeToken},
	})
	svc := newTestService(cache)

	spec := params.ReverseChainSpec{
		ReferencingType: "Encounter",
		ReferenceParam:  "subject",
		Nested: &params.ReverseChainSpec{
			ReferencingType: "Observation",
			ReferenceParam:  "subject",
			FilterParam:     "code",
			Values:          []string{"1234-5"},
		},
	}

	rc, err := svc.compileReverseChain(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "Encounter", rc.ReferencingType)
	require.NotNil(t, rc.Nested)
	assert.Equal(t, "Observation", rc.Nested.ReferencingType)
	assert.Equal(t, "code", rc.Nested.FilterDef.Code)
	require.Len(t, rc.Nested.Values, 1)
	assert.Equal(t, "1234-5", rc.Nested.Values[0].Raw)
}

func TestResolveSortKeysRoutesToParameterType(t *testing.T) {
	svc := newTestService(testCache())

	keys, err := svc.resolveSortKeys("Patient", []params.SortKey{
		{Code: "_lastUpdated"},
		{Code: "birthdate", Descending: true},
	})
	require.NoError(t, err)
	require.Len(t, keys, 2)

	assert.Equal(t, "_lastUpdated", keys[0].Code)
	assert.Equal(t, resolve.ParamType(""), keys[0].Type)

	assert.Equal(t, "birthdate", keys[1].Code)
	assert.True(t, keys[1].Descending)
	assert.Equal(t, resolve.TypeDate, keys[1].Type)
}

func TestResolveSortKeysRejectsUnknownCode(t *testing.T) {
	svc := newTestService(testCache())

	_, err := svc.resolveSortKeys("Patient", []params.SortKey{{Code: "not-a-real-parameter"}})
	require.Error(t, err)
	var ferr *fhirerr.Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, fhirerr.KindValidation, ferr.Kind)
}
