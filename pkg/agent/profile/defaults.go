package profile

// Template names, one per agent role.
const (
	Identifier          = "identifier"
	Estimator           = "estimator"
	ComplianceExport    = "compliance_export"
	ComplianceLocal     = "compliance_local"
	ProcurementResearch = "procurement_research"
	ProcurementAnalyst  = "procurement_analyst"
)

// Names lists every embedded template.
func Names() []string {
	return []string{
		Identifier,
		Estimator,
		ComplianceExport,
		ComplianceLocal,
		ProcurementResearch,
		ProcurementAnalyst,
	}
}
