package compartment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveDefMarker(t *testing.T) {
	reg := DefaultRegistry()
	c := reg.Resolve("Patient", "123", "Patient")
	assert.True(t, c.IsDefMarker)
}

func TestResolveMembershipParams(t *testing.T) {
	reg := DefaultRegistry()
	c := reg.Resolve("Patient", "123", "Observation")
	assert.False(t, c.IsDefMarker)
	assert.Contains(t, c.ParameterNames, "subject")
}

func TestResolveUnknownCompartmentTypeYieldsEmptyMembership(t *testing.T) {
	reg := DefaultRegistry()
	c := reg.Resolve("Group", "1", "Patient")
	assert.Empty(t, c.ParameterNames)
	assert.False(t, c.IsDefMarker)
}
