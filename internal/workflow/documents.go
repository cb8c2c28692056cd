package workflow

import "strings"

type DocumentStatus struct {
	Label string `json:"label"`
}

type DocumentReport struct {
	Manquants []DocumentStatus `json:"manquants"`
	Presents  []DocumentStatus `json:"presents"`
}

// DocumentResolver reports which documents a step still waits for.
type DocumentResolver interface {
	Resolve(stepCode string, acquereur, vendeur *Party) DocumentReport
}

type DocumentRequirements struct {
	Acquereur []string
	Vendeur   []string
}

// ChecklistResolver checks party document flags against a per-step checklist.
type ChecklistResolver struct {
	Checklist map[string]DocumentRequirements
}

func NewChecklistResolver(checklist map[string]DocumentRequirements) *ChecklistResolver {
	return &ChecklistResolver{Checklist: checklist}
}

func (r *ChecklistResolver) Resolve(stepCode string, acquereur, vendeur *Party) DocumentReport {
	report := DocumentReport{Manquants: []DocumentStatus{}, Presents: []DocumentStatus{}}
	req, ok := r.Checklist[stepCode]
	if !ok {
		return report
	}
	check := func(party *Party, labels []string) {
		for _, label := range labels {
			if party != nil && party.Documents[label] {
				report.Presents = append(report.Presents, DocumentStatus{Label: label})
			} else {
				report.Manquants = append(report.Manquants, DocumentStatus{Label: label})
			}
		}
	}
	check(acquereur, req.Acquereur)
	check(vendeur, req.Vendeur)
	return report
}

// MissingDocumentsText renders missing documents as a bullet list.
func MissingDocumentsText(report DocumentReport) string {
	lines := make([]string, 0, len(report.Manquants))
	for _, doc := range report.Manquants {
		lines = append(lines, "- "+doc.Label)
	}
	return strings.Join(lines, "\n")
}
