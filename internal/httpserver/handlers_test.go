package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ronappleton/lmnp-workflow/internal/config"
	"github.com/ronappleton/lmnp-workflow/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSender struct {
	requests []workflow.SendRequest
}

func (s *recordingSender) Send(_ context.Context, req workflow.SendRequest) (workflow.SendResponse, error) {
	s.requests = append(s.requests, req)
	return workflow.SendResponse{Recipients: req.Recipients}, nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type testServer struct {
	handler http.Handler
	sender  *recordingSender
	store   *workflow.MemoryStore
}

func setupTestServer(t *testing.T, cfg config.Config, pinger workflow.Pinger) *testServer {
	t.Helper()
	catalog, err := workflow.NewStaticCatalog(workflow.BuiltinSteps)
	require.NoError(t, err)

	store := workflow.NewMemoryStore()
	store.PutResidence(workflow.Residence{ID: "R1", Nom: "Les Terrasses"})
	store.PutAcquereur(workflow.Party{ID: "A1", Prenom: "Jean", Nom: "Dupont", Email: "jean@example.fr"})
	store.PutLot(workflow.Lot{ID: "L1", Reference: "LMNP-42", ResidenceID: "R1", AcquereurID: "A1"})
	store.SetNotificationEmail("gestion@lmnp.fr", true)

	sender := &recordingSender{}
	logger := zap.NewNop()
	dispatcher := workflow.NewDispatcher(store, store, workflow.NewChecklistResolver(workflow.DefaultDocumentChecklist), sender, logger)
	engine := workflow.NewEngine(store, catalog, dispatcher, logger)
	if pinger == nil {
		pinger = store
	}
	srv := NewServer(cfg, logger, engine, pinger)
	return &testServer{handler: srv.Handler(), sender: sender, store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t, config.Default(), nil)
	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	down := setupTestServer(t, config.Default(), stubPinger{err: errors.New("db down")})
	rec = down.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListSteps(t *testing.T) {
	ts := setupTestServer(t, config.Default(), nil)

	rec := ts.do(t, http.MethodGet, "/v1/steps?workflow_type=vendeur", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Items []workflow.StepDefinition `json:"items"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Items, 4)
	assert.Equal(t, "mandat_vente", body.Items[0].Code)

	rec = ts.do(t, http.MethodGet, "/v1/steps?workflow_type=notaire", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInitializeWorkflow(t *testing.T) {
	ts := setupTestServer(t, config.Default(), nil)

	rec := ts.do(t, http.MethodPost, "/v1/lots/L1/workflow", map[string]string{"workflow_type": "acquereur"})
	require.Equal(t, http.StatusOK, rec.Code)
	var res workflow.InitResult
	decodeBody(t, rec, &res)
	assert.Equal(t, 6, res.Created)

	rec = ts.do(t, http.MethodPost, "/v1/lots/L1/workflow", map[string]string{"workflow_type": "acquereur"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &res)
	assert.Equal(t, 0, res.Created)

	rec = ts.do(t, http.MethodPost, "/v1/lots/L1/workflow", map[string]string{"workflow_type": "notaire"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStepActions(t *testing.T) {
	ts := setupTestServer(t, config.Default(), nil)
	rec := ts.do(t, http.MethodPost, "/v1/lots/L1/workflow", map[string]string{"workflow_type": "acquereur"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/lots/L1/steps/reservation/complete", map[string]string{"notes": "signée"}, "X-Actor", "conseiller-3")
	require.Equal(t, http.StatusOK, rec.Code)
	var progress workflow.ProgressRecord
	decodeBody(t, rec, &progress)
	assert.Equal(t, workflow.StatusCompleted, progress.Status)
	assert.Equal(t, "conseiller-3", progress.CompletedBy)
	assert.True(t, progress.EmailSent)
	require.Len(t, ts.sender.requests, 1)
	assert.Equal(t, []string{"jean@example.fr", "gestion@lmnp.fr"}, ts.sender.requests[0].Recipients)

	rec = ts.do(t, http.MethodPost, "/v1/lots/L1/steps/verification_dossier/complete", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/lots/L1/steps/verification_dossier/automatic", map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/lots/L1/steps/documents_acquereur/skip", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/lots/L1/steps/envoi_contrat/complete", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/lots/L1/steps/verification_dossier/automatic", map[string]string{"status": "pending"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/lots/L1/steps/verification_dossier/automatic", map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &progress)
	assert.Equal(t, workflow.SystemActor, progress.CompletedBy)

	rec = ts.do(t, http.MethodGet, "/v1/lots/L1/workflow/current?workflow_type=acquereur", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var current struct {
		Current workflow.CurrentStep `json:"current"`
	}
	decodeBody(t, rec, &current)
	assert.Equal(t, "envoi_contrat", current.Current.Code)
	assert.Equal(t, workflow.StatusPending, current.Current.Status)

	rec = ts.do(t, http.MethodPost, "/v1/lots/L1/steps/reservation/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var reset workflow.ProgressRecord
	decodeBody(t, rec, &reset)
	assert.Equal(t, workflow.StatusPending, reset.Status)
	assert.Empty(t, reset.CompletedBy)
	assert.Nil(t, reset.CompletedAt)

	rec = ts.do(t, http.MethodGet, "/v1/lots/L1/workflow/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary workflow.Summary
	decodeBody(t, rec, &summary)
	assert.Equal(t, workflow.Summary{Total: 6, Completed: 1, Pending: 4, Skipped: 1, Percentage: 17}, summary)
}

func TestStepActionErrors(t *testing.T) {
	ts := setupTestServer(t, config.Default(), nil)

	rec := ts.do(t, http.MethodPost, "/v1/lots/L9/steps/reservation/complete", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/lots/L1/steps/reservation/complete", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/lots/L1/steps/financement/resend", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var errBody map[string]string
	decodeBody(t, rec, &errBody)
	assert.Contains(t, errBody["error"], "financement")

	rec = ts.do(t, http.MethodGet, "/v1/lots/L1/workflow/timeline", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/lots/L1/workflow/followups?workflow_type=acquereur&at=demain", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResendTimelineAndReset(t *testing.T) {
	ts := setupTestServer(t, config.Default(), nil)
	rec := ts.do(t, http.MethodPost, "/v1/lots/L1/workflow", map[string]string{"workflow_type": "acquereur"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/lots/L1/steps/reservation/resend", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resend struct {
		Success    bool     `json:"success"`
		Outcome    string   `json:"outcome"`
		Recipients []string `json:"recipients"`
	}
	decodeBody(t, rec, &resend)
	assert.True(t, resend.Success)
	assert.Equal(t, "sent", resend.Outcome)
	assert.Len(t, resend.Recipients, 2)

	rec = ts.do(t, http.MethodGet, "/v1/lots/L1/workflow/timeline?workflow_type=acquereur", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var timeline struct {
		Items []workflow.TimelineEntry `json:"items"`
	}
	decodeBody(t, rec, &timeline)
	require.Len(t, timeline.Items, 6)
	assert.True(t, timeline.Items[0].CanAdvance)

	rec = ts.do(t, http.MethodGet, "/v1/lots/L1/workflow/followups?workflow_type=acquereur&at=2099-01-01T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var followups struct {
		Items []workflow.FollowUp `json:"items"`
	}
	decodeBody(t, rec, &followups)
	require.Len(t, followups.Items, 2)
	assert.True(t, followups.Items[0].Overdue)

	rec = ts.do(t, http.MethodDelete, "/v1/lots/L1/workflow", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/lots/L1/workflow/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary workflow.Summary
	decodeBody(t, rec, &summary)
	assert.Equal(t, 0, summary.Total)
}

func TestCompleteReportsCommittedRecordWhenEmailFails(t *testing.T) {
	ts := setupTestServer(t, config.Default(), nil)
	// L9 has progress records but no lot in the directory
	rec := ts.do(t, http.MethodPost, "/v1/lots/L9/workflow", map[string]string{"workflow_type": "acquereur"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/lots/L9/steps/reservation/complete", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	var body struct {
		Error  string                  `json:"error"`
		Record workflow.ProgressRecord `json:"record"`
	}
	decodeBody(t, rec, &body)
	assert.NotEmpty(t, body.Error)
	assert.Equal(t, "reservation", body.Record.StepCode)
	assert.Equal(t, workflow.StatusCompleted, body.Record.Status)
	assert.Empty(t, ts.sender.requests)

	stored, err := ts.store.GetProgress(context.Background(), "L9", "reservation")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, stored.Status)
	assert.False(t, stored.EmailSent)
}

func TestResendWithoutWorkflowIsNotFound(t *testing.T) {
	ts := setupTestServer(t, config.Default(), nil)
	rec := ts.do(t, http.MethodPost, "/v1/lots/L1/steps/reservation/resend", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, ts.sender.requests)
}
