package resolve

// DefaultDefs returns the search parameter definitions for the resource
// types a development/test deployment exercises out of the box: the
// common Resource/DomainResource parameters plus a representative subset
// of each named resource type's own registry. This mirrors a hand-picked
// slice of the full FHIR SearchParameter conformance resources (~1400
// across R4/R4B/R5) rather than the complete registry. cmd/gofhir serve
// builds its cache from this slice alone; it loads no other
// SearchParameter definitions.
func DefaultDefs() []Def {
	var defs []Def
	defs = append(defs, domainResourceDefs()...)
	defs = append(defs, patientDefs()...)
	defs = append(defs, practitionerDefs()...)
	defs = append(defs, organizationDefs()...)
	defs = append(defs, observationDefs()...)
	defs = append(defs, conditionDefs()...)
	defs = append(defs, encounterDefs()...)
	return defs
}

func domainResourceDefs() []Def {
	return []Def{
		{ResourceType: "DomainResource", Code: "_tag", Type: TypeToken, Expression: "meta.tag"},
		{ResourceType: "DomainResource", Code: "_profile", Type: TypeURI, Expression: "meta.profile"},
	}
}

func patientDefs() []Def {
	return []Def{
		{ResourceType: "Patient", Code: "identifier", Type: TypeToken, MultipleOr: true, Expression: "Patient.identifier"},
		{ResourceType: "Patient", Code: "name", Type: TypeString, MultipleOr: true, Expression: "Patient.name.family | Patient.name.given"},
		{ResourceType: "Patient", Code: "family", Type: TypeString, MultipleOr: true, Expression: "Patient.name.family"},
		{ResourceType: "Patient", Code: "given", Type: TypeString, MultipleOr: true, Expression: "Patient.name.given"},
		{ResourceType: "Patient", Code: "gender", Type: TypeToken, Expression: "Patient.gender"},
		{ResourceType: "Patient", Code: "birthdate", Type: TypeDate, Expression: "Patient.birthDate"},
		{ResourceType: "Patient", Code: "deceased", Type: TypeToken, Expression: "Patient.deceased"},
		{ResourceType: "Patient", Code: "address", Type: TypeString, MultipleOr: true, Expression: "Patient.address.line | Patient.address.city | Patient.address.state | Patient.address.postalCode"},
		{ResourceType: "Patient", Code: "telecom", Type: TypeToken, MultipleOr: true, Expression: "Patient.telecom"},
		{ResourceType: "Patient", Code: "general-practitioner", Type: TypeReference, Targets: []string{"Practitioner", "Organization", "PractitionerRole"}, Expression: "Patient.generalPractitioner"},
		{ResourceType: "Patient", Code: "organization", Type: TypeReference, Targets: []string{"Organization"}, Expression: "Patient.managingOrganization"},
		{ResourceType: "Patient", Code: "active", Type: TypeToken, Expression: "Patient.active"},
	}
}

func practitionerDefs() []Def {
	return []Def{
		{ResourceType: "Practitioner", Code: "identifier", Type: TypeToken, MultipleOr: true, Expression: "Practitioner.identifier"},
		{ResourceType: "Practitioner", Code: "name", Type: TypeString, MultipleOr: true, Expression: "Practitioner.name.family | Practitioner.name.given"},
		{ResourceType: "Practitioner", Code: "family", Type: TypeString, MultipleOr: true, Expression: "Practitioner.name.family"},
		{ResourceType: "Practitioner", Code: "active", Type: TypeToken, Expression: "Practitioner.active"},
	}
}

func organizationDefs() []Def {
	return []Def{
		{ResourceType: "Organization", Code: "identifier", Type: TypeToken, MultipleOr: true, Expression: "Organization.identifier"},
		{ResourceType: "Organization", Code: "name", Type: TypeString, MultipleOr: true, Expression: "Organization.name"},
		{ResourceType: "Organization", Code: "partof", Type: TypeReference, Targets: []string{"Organization"}, Expression: "Organization.partOf"},
		{ResourceType: "Organization", Code: "active", Type: TypeToken, Expression: "Organization.active"},
	}
}

func observationDefs() []Def {
	return []Def{
		{ResourceType: "Observation", Code: "identifier", Type: TypeToken, MultipleOr: true, Expression: "Observation.identifier"},
		{ResourceType: "Observation", Code: "status", Type: TypeToken, Expression: "Observation.status"},
		{ResourceType: "Observation", Code: "code", Type: TypeToken, MultipleOr: true, Expression: "Observation.code.coding"},
		{ResourceType: "Observation", Code: "category", Type: TypeToken, MultipleOr: true, Expression: "Observation.category.coding"},
		{ResourceType: "Observation", Code: "subject", Type: TypeReference, Targets: []string{"Patient", "Group", "Device", "Location"}, Expression: "Observation.subject"},
		{ResourceType: "Observation", Code: "patient", Type: TypeReference, Targets: []string{"Patient"}, Expression: "Observation.subject"},
		{ResourceType: "Observation", Code: "encounter", Type: TypeReference, Targets: []string{"Encounter"}, Expression: "Observation.encounter"},
		{ResourceType: "Observation", Code: "date", Type: TypeDate, Expression: "Observation.effective"},
		{ResourceType: "Observation", Code: "value-quantity", Type: TypeQuantity, Expression: "Observation.value"},
		{ResourceType: "Observation", Code: "value-string", Type: TypeString, Expression: "Observation.value"},
		{ResourceType: "Observation", Code: "performer", Type: TypeReference, MultipleOr: true, Targets: []string{"Practitioner", "Organization", "Patient", "PractitionerRole"}, Expression: "Observation.performer"},
		{ResourceType: "Observation", Code: "code-value-quantity", Type: TypeComposite, Components: []CompositeComponent{{Code: "code", Type: TypeToken}, {Code: "value-quantity", Type: TypeQuantity}}},
	}
}

func conditionDefs() []Def {
	return []Def{
		{ResourceType: "Condition", Code: "identifier", Type: TypeToken, MultipleOr: true, Expression: "Condition.identifier"},
		{ResourceType: "Condition", Code: "clinical-status", Type: TypeToken, Expression: "Condition.clinicalStatus.coding"},
		{ResourceType: "Condition", Code: "code", Type: TypeToken, MultipleOr: true, Expression: "Condition.code.coding"},
		{ResourceType: "Condition", Code: "subject", Type: TypeReference, Targets: []string{"Patient", "Group"}, Expression: "Condition.subject"},
		{ResourceType: "Condition", Code: "patient", Type: TypeReference, Targets: []string{"Patient"}, Expression: "Condition.subject"},
		{ResourceType: "Condition", Code: "onset-date", Type: TypeDate, Expression: "Condition.onset"},
		{ResourceType: "Condition", Code: "encounter", Type: TypeReference, Targets: []string{"Encounter"}, Expression: "Condition.encounter"},
	}
}

func encounterDefs() []Def {
	return []Def{
		{ResourceType: "Encounter", Code: "identifier", Type: TypeToken, MultipleOr: true, Expression: "Encounter.identifier"},
		{ResourceType: "Encounter", Code: "status", Type: TypeToken, Expression: "Encounter.status"},
		{ResourceType: "Encounter", Code: "class", Type: TypeToken, Expression: "Encounter.class"},
		{ResourceType: "Encounter", Code: "subject", Type: TypeReference, Targets: []string{"Patient", "Group"}, Expression: "Encounter.subject"},
		{ResourceType: "Encounter", Code: "patient", Type: TypeReference, Targets: []string{"Patient"}, Expression: "Encounter.subject"},
		{ResourceType: "Encounter", Code: "date", Type: TypeDate, Expression: "Encounter.period"},
		{ResourceType: "Encounter", Code: "participant", Type: TypeReference, MultipleOr: true, Targets: []string{"Practitioner", "PractitionerRole", "RelatedPerson"}, Expression: "Encounter.participant.individual"},
	}
}
