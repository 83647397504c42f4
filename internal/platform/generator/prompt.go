package generator

import (
	"fmt"
	"strings"
)

// Request carries the clinical context a care plan is generated from.
type Request struct {
	PatientFirstName  string
	PatientLastName   string
	MRN               string
	Diagnosis         string
	MedicalHistory    string
	Medication        string
	ProviderFirstName string
	ProviderLastName  string
	NPI               string
}

const promptPreamble = "You are a clinical pharmacist. Generate a care plan for this patient.\n\n"

const promptInstructions = "Please generate a care plan that includes:\n" +
	"1. Medication review\n" +
	"2. Monitoring parameters\n" +
	"3. Patient education points\n" +
	"4. Follow-up recommendations"

// BuildPrompt renders the request into the fixed prompt template. The
// output depends only on the request fields.
func BuildPrompt(r Request) string {
	var b strings.Builder
	b.WriteString(promptPreamble)
	fmt.Fprintf(&b, "Patient: %s %s\n", r.PatientFirstName, r.PatientLastName)
	fmt.Fprintf(&b, "MRN: %s\n", r.MRN)
	fmt.Fprintf(&b, "Diagnosis: %s\n", r.Diagnosis)
	fmt.Fprintf(&b, "Medical History: %s\n", r.MedicalHistory)
	fmt.Fprintf(&b, "Medication: %s\n", r.Medication)
	fmt.Fprintf(&b, "Provider: Dr. %s %s (NPI: %s)\n\n", r.ProviderFirstName, r.ProviderLastName, r.NPI)
	b.WriteString(promptInstructions)
	return b.String()
}
