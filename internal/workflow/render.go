package workflow

import (
	"regexp"
	"time"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// TemplateVars holds the values substituted into step email templates.
type TemplateVars map[string]string

// Render replaces {{name}} tokens. Tokens with no value render as empty text.
func Render(tpl string, vars TemplateVars) string {
	return placeholderPattern.ReplaceAllStringFunc(tpl, func(token string) string {
		name := placeholderPattern.FindStringSubmatch(token)[1]
		return vars[name]
	})
}

type templateContext struct {
	lot       Lot
	residence *Residence
	acquereur *Party
	vendeur   *Party
	partner   *Partner
	step      StepDefinition
	documents string
	now       time.Time
}

func buildTemplateVars(tc templateContext) TemplateVars {
	vars := TemplateVars{
		"lot_reference":       tc.lot.Reference,
		"acquereur_nom":       tc.acquereur.FullName(),
		"vendeur_nom":         tc.vendeur.FullName(),
		"date":                formatDateFR(tc.now),
		"step_label":          tc.step.Label,
		"notes":               "",
		"documents_manquants": tc.documents,
	}
	if tc.residence != nil {
		vars["residence_nom"] = tc.residence.Nom
	}
	if tc.partner != nil {
		vars["partenaire_nom"] = tc.partner.Nom
	}
	return vars
}

func formatDateFR(t time.Time) string {
	return t.Format("02/01/2006")
}
