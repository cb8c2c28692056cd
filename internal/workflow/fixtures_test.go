package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu       sync.Mutex
	requests []SendRequest
	err      error
}

func (f *fakeSender) Send(_ context.Context, req SendRequest) (SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return SendResponse{}, f.err
	}
	f.requests = append(f.requests, req)
	return SendResponse{Recipients: req.Recipients}, nil
}

func (f *fakeSender) calls() []SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SendRequest(nil), f.requests...)
}

// scenarioSteps is a three step acquirer flow with an automatic step in the
// middle, plus a single vendor step.
func scenarioSteps() []StepDefinition {
	return []StepDefinition{
		{Code: "S1", Label: "Premier contact", OrderIndex: 1, WorkflowType: WorkflowAcquereur},
		{Code: "S2", Label: "Contrôle du dossier", OrderIndex: 2, WorkflowType: WorkflowAcquereur, IsAutomatic: true},
		{
			Code:            "S3",
			Label:           "Envoi du contrat",
			OrderIndex:      3,
			WorkflowType:    WorkflowAcquereur,
			SendEmail:       true,
			EmailSubject:    "Contrat {{lot_reference}}",
			EmailBody:       "Bonjour {{acquereur_nom}}, dossier {{lot_reference}}",
			EmailRecipients: []Role{RoleAcquereur},
			DelayDays:       5,
		},
		{Code: "V1", Label: "Mandat", OrderIndex: 1, WorkflowType: WorkflowVendeur},
	}
}

type fixture struct {
	store      *MemoryStore
	sender     *fakeSender
	dispatcher *Dispatcher
	engine     *Engine
}

func newFixture(t *testing.T, steps []StepDefinition) *fixture {
	t.Helper()
	catalog, err := NewStaticCatalog(steps)
	require.NoError(t, err)

	store := NewMemoryStore()
	store.PutResidence(Residence{ID: "R1", Nom: "Les Terrasses"})
	store.PutAcquereur(Party{ID: "A1", Prenom: "Jean", Nom: "Dupont", Email: "jean@example.fr"})
	store.PutVendeur(Party{ID: "V1", Prenom: "Marie", Nom: "Curie", Email: "marie@example.fr"})
	store.PutLot(Lot{ID: "L1", Reference: "LMNP-42", ResidenceID: "R1", AcquereurID: "A1", VendeurID: "V1"})

	sender := &fakeSender{}
	dispatcher := NewDispatcher(store, store, NewChecklistResolver(DefaultDocumentChecklist), sender, nil)
	dispatcher.SetClock(func() time.Time { return fixedNow })

	engine := NewEngine(store, catalog, dispatcher, nil)
	engine.SetClock(func() time.Time { return fixedNow })

	return &fixture{store: store, sender: sender, dispatcher: dispatcher, engine: engine}
}
