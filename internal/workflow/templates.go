package workflow

// BuiltinSteps is the catalog used when no catalog file is configured.
var BuiltinSteps = []StepDefinition{
	{
		Code:            "reservation",
		Label:           "Réservation du lot",
		OrderIndex:      10,
		WorkflowType:    WorkflowAcquereur,
		SendEmail:       true,
		EmailSubject:    "Réservation du lot {{lot_reference}} - {{residence_nom}}",
		EmailBody:       "Bonjour {{acquereur_nom}},\n\nNous confirmons la réservation du lot {{lot_reference}} de la résidence {{residence_nom}} le {{date}}.\n\nVotre conseiller {{partenaire_nom}} reste à votre disposition.",
		EmailRecipients: []Role{RoleAcquereur, RoleBackOffice},
	},
	{
		Code:            "documents_acquereur",
		Label:           "Collecte des pièces acquéreur",
		OrderIndex:      20,
		WorkflowType:    WorkflowAcquereur,
		SendEmail:       true,
		EmailSubject:    "Pièces manquantes - lot {{lot_reference}}",
		EmailBody:       "Bonjour {{acquereur_nom}},\n\nPour poursuivre votre dossier, merci de nous transmettre :\n{{documents_manquants}}",
		EmailRecipients: []Role{RoleAcquereur},
		DelayDays:       7,
	},
	{
		Code:            "verification_dossier",
		Label:           "Vérification du dossier",
		OrderIndex:      30,
		WorkflowType:    WorkflowAcquereur,
		IsAutomatic:     true,
		EmailRecipients: []Role{RoleBackOffice},
	},
	{
		Code:            "envoi_contrat",
		Label:           "Envoi du contrat de réservation",
		OrderIndex:      40,
		WorkflowType:    WorkflowAcquereur,
		SendEmail:       true,
		EmailSubject:    "Contrat de réservation - {{lot_reference}}",
		EmailBody:       "Bonjour {{acquereur_nom}},\n\nVeuillez trouver votre contrat de réservation pour le lot {{lot_reference}} ({{residence_nom}}).\n\nÉtape : {{step_label}}",
		EmailRecipients: []Role{RoleAcquereur, RoleBackOffice},
		DelayDays:       10,
	},
	{
		Code:         "financement",
		Label:        "Obtention du financement",
		OrderIndex:   50,
		WorkflowType: WorkflowAcquereur,
	},
	{
		Code:            "acte_authentique",
		Label:           "Signature de l'acte authentique",
		OrderIndex:      60,
		WorkflowType:    WorkflowAcquereur,
		SendEmail:       true,
		EmailSubject:    "Signature de l'acte - {{lot_reference}}",
		EmailBody:       "Bonjour,\n\nL'acte authentique du lot {{lot_reference}} entre {{acquereur_nom}} et {{vendeur_nom}} a été signé le {{date}}.",
		EmailRecipients: []Role{RoleAcquereur, RoleVendeur, RoleBackOffice},
	},
	{
		Code:            "mandat_vente",
		Label:           "Signature du mandat de vente",
		OrderIndex:      10,
		WorkflowType:    WorkflowVendeur,
		SendEmail:       true,
		EmailSubject:    "Mandat de vente - lot {{lot_reference}}",
		EmailBody:       "Bonjour {{vendeur_nom}},\n\nVotre mandat de vente pour le lot {{lot_reference}} ({{residence_nom}}) est enregistré.",
		EmailRecipients: []Role{RoleVendeur},
	},
	{
		Code:            "documents_vendeur",
		Label:           "Collecte des pièces vendeur",
		OrderIndex:      20,
		WorkflowType:    WorkflowVendeur,
		SendEmail:       true,
		EmailSubject:    "Pièces manquantes - lot {{lot_reference}}",
		EmailBody:       "Bonjour {{vendeur_nom}},\n\nMerci de nous transmettre les pièces suivantes :\n{{documents_manquants}}",
		EmailRecipients: []Role{RoleVendeur},
		DelayDays:       7,
	},
	{
		Code:            "diagnostics",
		Label:           "Réception des diagnostics",
		OrderIndex:      30,
		WorkflowType:    WorkflowVendeur,
		IsAutomatic:     true,
		EmailRecipients: []Role{RoleBackOffice},
	},
	{
		Code:            "compromis",
		Label:           "Signature du compromis",
		OrderIndex:      40,
		WorkflowType:    WorkflowVendeur,
		SendEmail:       true,
		EmailSubject:    "Compromis signé - {{lot_reference}}",
		EmailBody:       "Bonjour,\n\nLe compromis du lot {{lot_reference}} a été signé le {{date}}.",
		EmailRecipients: []Role{RoleVendeur, RoleBackOffice},
	},
}

// DefaultDocumentChecklist lists the documents each collection step waits for.
var DefaultDocumentChecklist = map[string]DocumentRequirements{
	"documents_acquereur": {
		Acquereur: []string{"Pièce d'identité", "Justificatif de domicile", "Avis d'imposition", "RIB"},
	},
	"envoi_contrat": {
		Acquereur: []string{"Pièce d'identité", "RIB"},
	},
	"documents_vendeur": {
		Vendeur: []string{"Pièce d'identité", "Titre de propriété", "Bail commercial", "RIB"},
	},
	"compromis": {
		Vendeur: []string{"Titre de propriété", "Diagnostics techniques"},
	},
}
