package models

// Category is a classifier-assigned label grouping correspondence by
// business purpose.
type Category string

const (
	CategoryInvoice          Category = "invoice"
	CategoryDocRequest       Category = "document_request"
	CategoryComplianceNotice Category = "compliance_notice"
	CategoryFiling           Category = "filing"
	CategoryAppointment      Category = "appointment"
	CategoryGeneral          Category = "general"
)

// Categories lists all known categories.
var Categories = []Category{
	CategoryInvoice,
	CategoryDocRequest,
	CategoryComplianceNotice,
	CategoryFiling,
	CategoryAppointment,
	CategoryGeneral,
}
