package registry

// seedBase loads the built-in base R4 profiles and the common search
// parameters so the engine works without external conformance packages.
// External definitions can be registered on top before Freeze.
func seedBase(r *Registry) {
	for _, p := range baseProfiles {
		cp := p
		_ = r.RegisterProfile(&cp)
	}
	for _, sp := range baseSearchParameters {
		s := sp
		_ = r.RegisterSearchParameter(&s)
	}
}

var baseProfiles = []CanonicalProfile{
	{Type: "Resource", Kind: "resource", Abstract: true},
	{Type: "DomainResource", Kind: "resource", Abstract: true},

	{Type: "HumanName", Kind: "complex-type"},
	{Type: "Address", Kind: "complex-type"},
	{Type: "ContactPoint", Kind: "complex-type"},
	{Type: "Identifier", Kind: "complex-type"},
	{Type: "CodeableConcept", Kind: "complex-type"},
	{Type: "Reference", Kind: "complex-type"},
	{Type: "Quantity", Kind: "complex-type"},

	{Type: "Patient", Kind: "resource"},
	{Type: "Practitioner", Kind: "resource"},
	{Type: "PractitionerRole", Kind: "resource"},
	{Type: "RelatedPerson", Kind: "resource"},
	{Type: "Organization", Kind: "resource"},
	{Type: "Location", Kind: "resource"},
	{Type: "Encounter", Kind: "resource"},
	{Type: "Observation", Kind: "resource"},
	{Type: "Condition", Kind: "resource"},
	{Type: "Procedure", Kind: "resource"},
	{Type: "ServiceRequest", Kind: "resource"},
	{Type: "DiagnosticReport", Kind: "resource"},
	{Type: "MedicationRequest", Kind: "resource"},
	{Type: "Medication", Kind: "resource"},
	{Type: "AllergyIntolerance", Kind: "resource"},
	{Type: "Immunization", Kind: "resource"},
	{Type: "CarePlan", Kind: "resource"},
	{Type: "CareTeam", Kind: "resource"},
	{Type: "Device", Kind: "resource"},
	{Type: "DocumentReference", Kind: "resource"},
	{Type: "Binary", Kind: "resource"},
	{Type: "Bundle", Kind: "resource"},
	{Type: "OperationOutcome", Kind: "resource"},
}

var baseSearchParameters = []SearchParameter{
	// Patient
	{Code: "identifier", Type: "token", Expression: "Patient.identifier", Base: []string{"Patient", "Practitioner", "RelatedPerson", "Organization", "Encounter", "Observation", "Condition", "Procedure", "ServiceRequest", "DiagnosticReport", "MedicationRequest", "AllergyIntolerance", "Immunization", "CarePlan", "Device", "DocumentReference", "Location"}},
	{Code: "name", Type: "string", Expression: "Patient.name", Base: []string{"Patient", "Practitioner", "RelatedPerson"}},
	{Code: "family", Type: "string", Expression: "Patient.name.family", Base: []string{"Patient", "Practitioner"}},
	{Code: "given", Type: "string", Expression: "Patient.name.given", Base: []string{"Patient", "Practitioner"}},
	{Code: "address", Type: "string", Expression: "Patient.address", Base: []string{"Patient", "Practitioner", "RelatedPerson", "Organization", "Location"}},
	{Code: "telecom", Type: "token", Expression: "Patient.telecom", Base: []string{"Patient", "Practitioner", "RelatedPerson"}},
	{Code: "gender", Type: "token", Expression: "Patient.gender", Base: []string{"Patient", "Practitioner", "RelatedPerson"}},
	{Code: "birthdate", Type: "date", Expression: "Patient.birthDate", Base: []string{"Patient", "RelatedPerson"}},
	{Code: "active", Type: "token", Expression: "Patient.active", Base: []string{"Patient", "Practitioner", "Organization"}},
	{Code: "general-practitioner", Type: "reference", Expression: "Patient.generalPractitioner", Base: []string{"Patient"}, Target: []string{"Practitioner", "Organization", "PractitionerRole"}},
	{Code: "organization", Type: "reference", Expression: "Patient.managingOrganization", Base: []string{"Patient"}, Target: []string{"Organization"}},

	// Organization / Location: name is a plain string element.
	{Code: "name", Type: "string", Expression: "Organization.name", Base: []string{"Organization"}},
	{Code: "name", Type: "string", Expression: "Location.name", Base: []string{"Location"}},
	{Code: "type", Type: "token", Expression: "Organization.type", Base: []string{"Organization", "Encounter", "Location"}},
	{Code: "partof", Type: "reference", Expression: "Organization.partOf", Base: []string{"Organization", "Location"}, Target: []string{"Organization", "Location"}},

	// Encounter
	{Code: "status", Type: "token", Expression: "Encounter.status", Base: []string{"Encounter", "Observation", "Condition", "Procedure", "ServiceRequest", "DiagnosticReport", "MedicationRequest", "CarePlan", "CareTeam", "DocumentReference", "Immunization", "Location"}},
	{Code: "class", Type: "token", Expression: "Encounter.class", Base: []string{"Encounter"}},
	{Code: "subject", Type: "reference", Expression: "Encounter.subject", Base: []string{"Encounter", "Observation", "Condition", "Procedure", "ServiceRequest", "DiagnosticReport", "MedicationRequest", "CarePlan", "CareTeam", "DocumentReference"}, Target: []string{"Patient", "Group"}},
	{Code: "patient", Type: "reference", Expression: "Encounter.subject", Base: []string{"Encounter", "Observation", "Condition", "Procedure", "ServiceRequest", "DiagnosticReport", "MedicationRequest", "CarePlan", "CareTeam", "DocumentReference"}, Target: []string{"Patient"}},
	{Code: "patient", Type: "reference", Expression: "AllergyIntolerance.patient", Base: []string{"AllergyIntolerance", "Immunization", "RelatedPerson"}, Target: []string{"Patient"}},
	{Code: "date", Type: "date", Expression: "Encounter.period.start | CarePlan.period.start | Immunization.occurrenceDateTime | Procedure.performedDateTime", Base: []string{"Encounter", "CarePlan", "Immunization", "Procedure"}},
	{Code: "service-provider", Type: "reference", Expression: "Encounter.serviceProvider", Base: []string{"Encounter"}, Target: []string{"Organization"}},
	{Code: "participant", Type: "reference", Expression: "Encounter.participant.individual", Base: []string{"Encounter"}, Target: []string{"Practitioner", "PractitionerRole", "RelatedPerson"}},

	// Observation
	{Code: "code", Type: "token", Expression: "Observation.code", Base: []string{"Observation", "Condition", "Procedure", "ServiceRequest", "DiagnosticReport", "MedicationRequest", "AllergyIntolerance", "Medication"}},
	{Code: "category", Type: "token", Expression: "Observation.category", Base: []string{"Observation", "Condition", "ServiceRequest", "DiagnosticReport", "CarePlan", "DocumentReference"}},
	{Code: "encounter", Type: "reference", Expression: "Observation.encounter", Base: []string{"Observation", "Condition", "Procedure", "ServiceRequest", "DiagnosticReport", "MedicationRequest", "DocumentReference"}, Target: []string{"Encounter"}},
	{Code: "value-quantity", Type: "quantity", Expression: "Observation.valueQuantity.value", Base: []string{"Observation"}},
	{Code: "value-string", Type: "string", Expression: "Observation.valueString", Base: []string{"Observation"}},
	{Code: "effective-date", Type: "date", Expression: "Observation.effectiveDateTime", Base: []string{"Observation"}},
	{Code: "performer", Type: "reference", Expression: "Observation.performer", Base: []string{"Observation", "DiagnosticReport", "Procedure"}, Target: []string{"Practitioner", "PractitionerRole", "Organization", "Patient"}},

	// Condition
	{Code: "clinical-status", Type: "token", Expression: "Condition.clinicalStatus", Base: []string{"Condition", "AllergyIntolerance"}},
	{Code: "verification-status", Type: "token", Expression: "Condition.verificationStatus", Base: []string{"Condition", "AllergyIntolerance"}},
	{Code: "onset-date", Type: "date", Expression: "Condition.onsetDateTime", Base: []string{"Condition"}},
	{Code: "recorded-date", Type: "date", Expression: "Condition.recordedDate", Base: []string{"Condition"}},

	// ServiceRequest / MedicationRequest
	{Code: "intent", Type: "token", Expression: "ServiceRequest.intent", Base: []string{"ServiceRequest", "MedicationRequest", "CarePlan"}},
	{Code: "requester", Type: "reference", Expression: "ServiceRequest.requester", Base: []string{"ServiceRequest", "MedicationRequest"}, Target: []string{"Practitioner", "PractitionerRole", "Organization", "Patient"}},
	{Code: "authored", Type: "date", Expression: "ServiceRequest.authoredOn", Base: []string{"ServiceRequest"}},
	{Code: "authoredon", Type: "date", Expression: "MedicationRequest.authoredOn", Base: []string{"MedicationRequest"}},
	{Code: "medication", Type: "reference", Expression: "MedicationRequest.medicationReference", Base: []string{"MedicationRequest"}, Target: []string{"Medication"}},

	// DiagnosticReport
	{Code: "issued", Type: "date", Expression: "DiagnosticReport.issued", Base: []string{"DiagnosticReport"}},
	{Code: "result", Type: "reference", Expression: "DiagnosticReport.result", Base: []string{"DiagnosticReport"}, Target: []string{"Observation"}},

	// Immunization / AllergyIntolerance
	{Code: "vaccine-code", Type: "token", Expression: "Immunization.vaccineCode", Base: []string{"Immunization"}},
	{Code: "criticality", Type: "token", Expression: "AllergyIntolerance.criticality", Base: []string{"AllergyIntolerance"}},

	// Device / DocumentReference
	{Code: "device-name", Type: "string", Expression: "Device.deviceName.name", Base: []string{"Device"}},
	{Code: "url", Type: "uri", Expression: "Device.url", Base: []string{"Device"}},
	{Code: "location", Type: "reference", Expression: "Encounter.location.location", Base: []string{"Encounter"}, Target: []string{"Location"}},
	{Code: "custodian", Type: "reference", Expression: "DocumentReference.custodian", Base: []string{"DocumentReference"}, Target: []string{"Organization"}},

	// PractitionerRole
	{Code: "practitioner", Type: "reference", Expression: "PractitionerRole.practitioner", Base: []string{"PractitionerRole"}, Target: []string{"Practitioner"}},
	{Code: "role-organization", Type: "reference", Expression: "PractitionerRole.organization", Base: []string{"PractitionerRole"}, Target: []string{"Organization"}},
}
