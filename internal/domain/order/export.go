package order

import (
	"fmt"
	"strings"
)

const exportDivider = "========================================"

const exportDateLayout = "2006-01-02 15:04"

// CarePlanExport is a rendered plain-text care plan attachment.
type CarePlanExport struct {
	Filename string
	Content  string
}

func ExportFilename(id int64) string {
	return fmt.Sprintf("care_plan_order_%d.txt", id)
}

// RenderCarePlanText renders the header block followed by the raw plan.
// Dates are rendered in UTC.
func RenderCarePlanText(o *Order) string {
	var patientName, mrn, providerName string
	if o.Patient != nil {
		patientName = o.Patient.DisplayName()
		mrn = o.Patient.MRN
	}
	if o.Provider != nil {
		providerName = o.Provider.DisplayName()
	}

	var b strings.Builder
	b.WriteString("CARE PLAN\n")
	b.WriteString(exportDivider + "\n")
	fmt.Fprintf(&b, "Patient: %s\n", patientName)
	fmt.Fprintf(&b, "MRN: %s\n", mrn)
	fmt.Fprintf(&b, "Provider: %s\n", providerName)
	fmt.Fprintf(&b, "Medication: %s\n", o.Medication)
	fmt.Fprintf(&b, "Date: %s\n", o.CreatedAt.UTC().Format(exportDateLayout))
	b.WriteString(exportDivider + "\n\n")
	b.WriteString(o.CarePlan)
	b.WriteString("\n")
	return b.String()
}
