package masking

import "github.com/GrupoUS/neonpro-sub010/internal/consent/models"

// DefaultRules covers the sensitive fields of clinic payloads. Doctors and
// admins see contact data unmasked; everyone else gets the shape-preserving
// partial forms. Identifiers that must stay joinable across reports are
// hashed; free-text clinical notes are tokenized so only privileged callers
// can recover them.
func DefaultRules() *RuleSet {
	return NewRuleSet(
		Rule{Field: "cpf", Category: models.CategoryPersonal, Technique: TechniquePartial, Format: FormatCPF},
		Rule{Field: "phone", Category: models.CategoryContact, Technique: TechniquePartial, Format: FormatPhone, PlainRoles: []string{"admin", "doctor"}},
		Rule{Field: "clientPhone", Category: models.CategoryContact, Technique: TechniquePartial, Format: FormatPhone, PlainRoles: []string{"admin", "doctor"}},
		Rule{Field: "email", Category: models.CategoryContact, Technique: TechniquePartial, Format: FormatEmail, PlainRoles: []string{"admin", "doctor"}},
		Rule{Field: "patientId", Category: models.CategoryPersonal, Technique: TechniqueHash},
		Rule{Field: "medicalRecordNumber", Category: models.CategoryMedical, Technique: TechniqueHash},
		Rule{Field: "diagnosis", Category: models.CategoryMedical, Technique: TechniqueTokenize, PlainRoles: []string{"doctor"}},
		Rule{Field: "clinicalNotes", Category: models.CategoryMedical, Technique: TechniqueTokenize, PlainRoles: []string{"doctor"}},
		Rule{Field: "prescription", Category: models.CategoryMedical, Technique: TechniqueTokenize, PlainRoles: []string{"doctor"}},
		Rule{Field: "cardNumber", Category: models.CategoryFinancial, Technique: TechniqueRedact},
		Rule{Field: "bankAccount", Category: models.CategoryFinancial, Technique: TechniqueRedact},
		Rule{Field: "biometricTemplate", Category: models.CategoryBiometric, Technique: TechniqueRedact},
		Rule{Field: "address", Category: models.CategoryPersonal, Technique: TechniquePartial, Format: FormatGeneric, Views: []ViewContext{ViewResearch, ViewExport}},
	)
}
