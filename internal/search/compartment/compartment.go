// Package compartment maps a compartment request (e.g. "Patient/123's
// compartment") to the querybuilder.Compartment predicate inputs: whether
// the searched resource type IS the compartment resource (the `{def}`
// marker) or which of its reference parameters qualify membership (§4.5).
// Definitions are grounded on the FHIR R4 CompartmentDefinition resources
// published at hl7.org/fhir/compartmentdefinition-patient.html and similar.
package compartment

import (
	"github.com/robertoaraneda/gofhir/internal/search/querybuilder"
)

// Definition is one compartment type's membership rules across resource
// types: for each resource type, the list of reference parameter codes
// whose target may be the compartment resource.
type Definition struct {
	CompartmentType string
	Membership      map[string][]string // resourceType -> parameter codes
}

// Registry holds the known compartment definitions, keyed by compartment
// type ("Patient", "Encounter", "RelatedPerson", "Practitioner", "Device").
type Registry struct {
	defs map[string]Definition
}

// NewRegistry builds a registry from a definition list.
func NewRegistry(defs []Definition) *Registry {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		r.defs[d.CompartmentType] = d
	}
	return r
}

// Resolve builds the querybuilder.Compartment predicate inputs for a search
// scoped to (compartmentType, compartmentID) against resourceType.
func (r *Registry) Resolve(compartmentType, compartmentID, resourceType string) *querybuilder.Compartment {
	c := &querybuilder.Compartment{Type: compartmentType, ID: compartmentID}
	if resourceType == compartmentType {
		c.IsDefMarker = true
		return c
	}
	def, ok := r.defs[compartmentType]
	if !ok {
		return c // no membership rules known: yields the unscoped-never "1=0" branch
	}
	c.ParameterNames = def.Membership[resourceType]
	return c
}

// DefaultRegistry returns the compartment definitions bundled with the
// server: the five FHIR R4 compartment types over the resource types this
// module's search parameter cache (internal/search/resolve) knows about.
func DefaultRegistry() *Registry {
	return NewRegistry([]Definition{
		{
			CompartmentType: "Patient",
			Membership: map[string][]string{
				"Observation":       {"subject", "patient"},
				"Condition":         {"subject", "patient"},
				"Encounter":         {"subject", "patient"},
				"MedicationRequest": {"subject", "patient"},
				"Procedure":         {"subject", "patient"},
				"DiagnosticReport":  {"subject", "patient"},
				"AllergyIntolerance": {"patient"},
				"CarePlan":          {"subject", "patient"},
				"Immunization":      {"patient"},
			},
		},
		{
			CompartmentType: "Encounter",
			Membership: map[string][]string{
				"Observation":      {"encounter"},
				"Condition":        {"encounter"},
				"Procedure":        {"encounter"},
				"DiagnosticReport": {"encounter"},
			},
		},
		{
			CompartmentType: "Practitioner",
			Membership: map[string][]string{
				"Encounter":         {"participant"},
				"Observation":       {"performer"},
				"MedicationRequest": {"requester"},
			},
		},
		{
			CompartmentType: "RelatedPerson",
			Membership: map[string][]string{
				"Observation": {"performer"},
			},
		},
		{
			CompartmentType: "Device",
			Membership: map[string][]string{
				"Observation": {"device"},
			},
		},
	})
}
