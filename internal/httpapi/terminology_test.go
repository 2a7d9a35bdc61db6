package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadParametersDecodesNamedValues(t *testing.T) {
	body := `{
		"resourceType": "Parameters",
		"parameter": [
			{"name": "system", "valueUri": "http://loinc.org"},
			{"name": "code", "valueCode": "1234-5"},
			{"name": "count", "valueInteger": 10},
			{"name": "activeOnly", "valueBoolean": true}
		]
	}`
	r := httptest.NewRequest(http.MethodPost, "/CodeSystem/$lookup", strings.NewReader(body))
	r.ContentLength = int64(len(body))

	params, err := readParameters(r)
	require.NoError(t, err)

	system, ok := params.string("system")
	assert.True(t, ok)
	assert.Equal(t, "http://loinc.org", system)

	code, ok := params.string("code")
	assert.True(t, ok)
	assert.Equal(t, "1234-5", code)

	assert.Equal(t, 10, params.int("count", 0))
	assert.True(t, params.bool("activeOnly", false))
}

func TestReadParametersEmptyBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/CodeSystem/$lookup", nil)
	params, err := readParameters(r)
	require.NoError(t, err)
	_, ok := params.string("system")
	assert.False(t, ok)
}

func TestParametersConceptsExtractsParts(t *testing.T) {
	body := `{
		"resourceType": "Parameters",
		"parameter": [
			{"name": "concept", "part": [
				{"name": "system", "valueUri": "http://loinc.org"},
				{"name": "code", "valueCode": "1234-5"},
				{"name": "display", "valueString": "Example"}
			]}
		]
	}`
	r := httptest.NewRequest(http.MethodPost, "/CodeSystem/$closure", strings.NewReader(body))
	r.ContentLength = int64(len(body))

	params, err := readParameters(r)
	require.NoError(t, err)

	concepts := params.concepts("concept")
	require.Len(t, concepts, 1)
	assert.Equal(t, "http://loinc.org", concepts[0].System)
	assert.Equal(t, "1234-5", concepts[0].Code)
	assert.Equal(t, "Example", concepts[0].Display)
}

func TestParametersFromMapRoundTrips(t *testing.T) {
	out := parametersFromMap(map[string]interface{}{"outcome": "subsumes"})
	assert.Equal(t, "Parameters", out["resourceType"])
	params, ok := out["parameter"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, params, 1)
	assert.Equal(t, "outcome", params[0]["name"])
}
