package workflow

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupPGStore connects to DATABASE_URL and migrates the schema. The test is
// skipped in short mode or when no database is reachable.
func setupPGStore(t *testing.T) *PGStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := NewPGStore(ctx, dsn, true)
	if err != nil {
		t.Skipf("Skipping integration test: failed to connect to DB: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPGStoreProgressLifecycle(t *testing.T) {
	store := setupPGStore(t)
	ctx := context.Background()
	lotID := "lot-" + uuid.NewString()
	t.Cleanup(func() { _ = store.DeleteProgress(ctx, lotID) })

	records := []ProgressRecord{
		{LotID: lotID, StepCode: "a", Status: StatusPending, CreatedAt: fixedNow},
		{LotID: lotID, StepCode: "b", Status: StatusPending, CreatedAt: fixedNow},
	}
	n, err := store.InsertProgress(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = store.InsertProgress(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	rec, err := store.GetProgress(ctx, lotID, "a")
	require.NoError(t, err)
	done := fixedNow.Add(time.Hour)
	rec.Status = StatusCompleted
	rec.CompletedAt = &done
	rec.CompletedBy = "user-1"
	rec.Notes = "ok"
	require.NoError(t, store.UpdateProgress(ctx, rec))
	require.NoError(t, store.MarkEmailSent(ctx, lotID, "a", done))

	got, err := store.GetProgress(ctx, lotID, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "user-1", got.CompletedBy)
	assert.True(t, got.EmailSent)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, done.Equal(*got.CompletedAt))

	list, err := store.ListProgress(ctx, lotID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = store.GetProgress(ctx, lotID, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(store.UpdateProgress(ctx, ProgressRecord{LotID: lotID, StepCode: "missing"}), ErrNotFound))

	require.NoError(t, store.DeleteProgress(ctx, lotID))
	list, err = store.ListProgress(ctx, lotID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPGStoreSeedAndListSteps(t *testing.T) {
	store := setupPGStore(t)
	ctx := context.Background()
	require.NoError(t, store.SeedSteps(ctx, BuiltinSteps))

	wt := WorkflowVendeur
	steps, err := store.ListSteps(ctx, &wt)
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	for i := 1; i < len(steps); i++ {
		assert.LessOrEqual(t, steps[i-1].OrderIndex, steps[i].OrderIndex)
	}

	step, err := store.GetStep(ctx, "diagnostics")
	require.NoError(t, err)
	assert.True(t, step.IsAutomatic)
	assert.Equal(t, []Role{RoleBackOffice}, step.EmailRecipients)

	_, err = store.GetStep(ctx, "step-"+uuid.NewString())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPGStoreDirectory(t *testing.T) {
	store := setupPGStore(t)
	ctx := context.Background()
	suffix := uuid.NewString()
	lotID, acqID := "lot-"+suffix, "acq-"+suffix

	_, err := store.db.ExecContext(ctx, `insert into acquereurs (id, prenom, nom, email, documents) values ($1,'Jean','Dupont','jean@example.fr','{"RIB":true}')`, acqID)
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `insert into lots (id, reference, acquereur_id) values ($1,'LMNP-42',$2)`, lotID, acqID)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = store.db.ExecContext(ctx, `delete from lots where id=$1`, lotID)
		_, _ = store.db.ExecContext(ctx, `delete from acquereurs where id=$1`, acqID)
	})

	lot, err := store.GetLot(ctx, lotID)
	require.NoError(t, err)
	assert.Equal(t, "LMNP-42", lot.Reference)
	assert.Empty(t, lot.VendeurID)

	acq, err := store.GetAcquereur(ctx, acqID)
	require.NoError(t, err)
	assert.Equal(t, "Jean Dupont", acq.FullName())
	assert.True(t, acq.Documents["RIB"])

	_, err = store.GetVendeur(ctx, "vend-"+suffix)
	assert.True(t, errors.Is(err, ErrNotFound))
}
