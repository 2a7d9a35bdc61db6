package normalize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertoaraneda/gofhir/internal/search/resolve"
)

func TestReferenceTypeSlashID(t *testing.T) {
	ref, err := Reference(context.Background(), nil, resolve.Def{}, "", "Patient/123")
	require.NoError(t, err)
	assert.Equal(t, "Patient", ref.Type)
	assert.Equal(t, "123", ref.ID)
}

func TestReferenceVersioned(t *testing.T) {
	ref, err := Reference(context.Background(), nil, resolve.Def{}, "", "Patient/123/_history/4")
	require.NoError(t, err)
	require.NotNil(t, ref.VersionID)
	assert.Equal(t, int64(4), *ref.VersionID)
}

func TestReferenceAbsoluteRejected(t *testing.T) {
	_, err := Reference(context.Background(), nil, resolve.Def{}, "", "https://example.org/fhir/Patient/1")
	assert.Error(t, err)
}

func TestReferenceBareIDSingleTarget(t *testing.T) {
	def := resolve.Def{Targets: []string{"Patient"}}
	ref, err := Reference(context.Background(), nil, def, "", "123")
	require.NoError(t, err)
	assert.Equal(t, "Patient", ref.Type)
}

func TestReferenceAboveRequiresExplicitType(t *testing.T) {
	_, err := Reference(context.Background(), nil, resolve.Def{}, "above", "123")
	assert.Error(t, err)
}

func TestReferenceContainsOnlyOnHierarchy(t *testing.T) {
	def := resolve.Def{ResourceType: "Patient", Code: "link"}
	_, err := Reference(context.Background(), nil, def, "contains", "Patient/1")
	assert.Error(t, err)

	def2 := resolve.Def{ResourceType: "Location", Code: "partOf"}
	_, err = Reference(context.Background(), nil, def2, "contains", "Location/1")
	assert.NoError(t, err)
}

func TestMembershipValueValidType(t *testing.T) {
	typ, id, err := MembershipValue("Group/123")
	require.NoError(t, err)
	assert.Equal(t, "Group", typ)
	assert.Equal(t, "123", id)
}

func TestMembershipValueInvalidType(t *testing.T) {
	_, _, err := MembershipValue("Patient/123")
	assert.Error(t, err)
}

type fakeExpander struct {
	pairs []TokenPair
}

func (f fakeExpander) Expand(ctx context.Context, ref string) ([]TokenPair, error) {
	return f.pairs, nil
}

func TestExpandTokenSetRewritesNotIn(t *testing.T) {
	exp := fakeExpander{pairs: []TokenPair{{System: "http://loinc.org", Code: "1234-5"}}}
	pairs, modifier, err := ExpandTokenSet(context.Background(), exp, "ValueSet/x", "not-in")
	require.NoError(t, err)
	assert.Equal(t, "not", modifier)
	assert.Len(t, pairs, 1)
}

func TestExpandTokenSetEmptyIsError(t *testing.T) {
	_, _, err := ExpandTokenSet(context.Background(), fakeExpander{}, "ValueSet/x", "in")
	assert.Error(t, err)
}
