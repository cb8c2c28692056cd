package workflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/ronappleton/lmnp-workflow/workflow"

// StepDispatcher sends the notification attached to a step.
type StepDispatcher interface {
	Dispatch(ctx context.Context, lotID, stepCode string, step StepDefinition) (DispatchResult, error)
}

// Engine is stateless; every call reads the catalog and the progress store.
type Engine struct {
	store       Store
	catalog     Catalog
	dispatcher  StepDispatcher
	logger      *zap.Logger
	now         func() time.Time
	transitions metric.Int64Counter
}

func NewEngine(store Store, catalog Catalog, dispatcher StepDispatcher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	transitions, _ := otel.Meter(meterName).Int64Counter("workflow.steps.transitions")
	return &Engine{
		store:       store,
		catalog:     catalog,
		dispatcher:  dispatcher,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		transitions: transitions,
	}
}

func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) ListSteps(ctx context.Context, workflowType *WorkflowType) ([]StepDefinition, error) {
	return e.catalog.ListSteps(ctx, workflowType)
}

// InitializeWorkflow inserts a pending record for every catalog step of the
// workflow type the lot does not have yet.
func (e *Engine) InitializeWorkflow(ctx context.Context, lotID string, workflowType WorkflowType) (InitResult, error) {
	steps, err := e.catalog.ListSteps(ctx, &workflowType)
	if err != nil {
		return InitResult{}, err
	}
	now := e.now()
	records := make([]ProgressRecord, 0, len(steps))
	for _, step := range steps {
		records = append(records, ProgressRecord{
			LotID:     lotID,
			StepCode:  step.Code,
			Status:    StatusPending,
			CreatedAt: now,
		})
	}
	created, err := e.store.InsertProgress(ctx, records)
	if err != nil {
		return InitResult{}, err
	}
	e.logger.Info("workflow initialized",
		zap.String("lot_id", lotID),
		zap.String("workflow_type", string(workflowType)),
		zap.Int("created", created),
	)
	return InitResult{Created: created}, nil
}

// CompleteStep marks a manual step completed and sends its notification when
// the step has one. A failed dispatch is returned alongside the committed
// record; the completion is not rolled back.
func (e *Engine) CompleteStep(ctx context.Context, lotID, stepCode, notes string) (ProgressRecord, error) {
	step, rec, err := e.loadForAction(ctx, lotID, stepCode)
	if err != nil {
		return ProgressRecord{}, err
	}
	if step.IsAutomatic {
		return ProgressRecord{}, ErrAutomaticStep
	}
	return e.complete(ctx, step, rec, notes, ActorFromContext(ctx))
}

func (e *Engine) SkipStep(ctx context.Context, lotID, stepCode, notes string) (ProgressRecord, error) {
	step, rec, err := e.loadForAction(ctx, lotID, stepCode)
	if err != nil {
		return ProgressRecord{}, err
	}
	if step.IsAutomatic {
		return ProgressRecord{}, ErrAutomaticStep
	}
	return e.skip(ctx, step, rec, notes)
}

// ResolveAutomaticStep is called by the process that governs automatic steps.
func (e *Engine) ResolveAutomaticStep(ctx context.Context, lotID, stepCode string, status Status, notes string) (ProgressRecord, error) {
	step, rec, err := e.loadForAction(ctx, lotID, stepCode)
	if err != nil {
		return ProgressRecord{}, err
	}
	if !step.IsAutomatic {
		return ProgressRecord{}, &ValidationError{Code: "not_automatic", Message: fmt.Sprintf("L'étape %s n'est pas automatique", stepCode)}
	}
	actor := ActorFromContext(ctx)
	if actor == "" {
		actor = SystemActor
	}
	switch status {
	case StatusCompleted:
		return e.complete(ctx, step, rec, notes, actor)
	case StatusSkipped:
		return e.skip(ctx, step, rec, notes)
	default:
		return ProgressRecord{}, &ValidationError{Code: "invalid_status", Message: fmt.Sprintf("Statut invalide : %q", status)}
	}
}

// ResetStep puts the step back to pending. The email send history is kept.
func (e *Engine) ResetStep(ctx context.Context, lotID, stepCode string) (ProgressRecord, error) {
	rec, err := e.getProgress(ctx, lotID, stepCode)
	if err != nil {
		return ProgressRecord{}, err
	}
	rec.Status = StatusPending
	rec.CompletedAt = nil
	rec.CompletedBy = ""
	rec.Notes = ""
	if err := e.store.UpdateProgress(ctx, rec); err != nil {
		return ProgressRecord{}, err
	}
	e.recordTransition(ctx, rec)
	return rec, nil
}

func (e *Engine) ResetWorkflow(ctx context.Context, lotID string) error {
	if err := e.store.DeleteProgress(ctx, lotID); err != nil {
		return err
	}
	e.logger.Info("workflow reset", zap.String("lot_id", lotID))
	return nil
}

// GetCurrentStep returns the first unresolved step of the workflow type, or the
// last step annotated completed once every step is resolved. It returns nil
// only when the catalog has no step of that type.
func (e *Engine) GetCurrentStep(ctx context.Context, lotID string, workflowType WorkflowType) (*CurrentStep, error) {
	return e.currentStep(ctx, lotID, &workflowType)
}

// GetCurrentStepAllTypes scans the whole catalog regardless of workflow type.
//
// Deprecated: acquirer and vendor sequences are mixed together; use GetCurrentStep.
func (e *Engine) GetCurrentStepAllTypes(ctx context.Context, lotID string) (*CurrentStep, error) {
	return e.currentStep(ctx, lotID, nil)
}

func (e *Engine) currentStep(ctx context.Context, lotID string, workflowType *WorkflowType) (*CurrentStep, error) {
	annotated, _, err := e.annotate(ctx, lotID, workflowType)
	if err != nil {
		return nil, err
	}
	if len(annotated) == 0 {
		return nil, nil
	}
	for _, step := range annotated {
		if step.Status == StatusPending {
			cur := step
			return &cur, nil
		}
	}
	last := annotated[len(annotated)-1]
	last.Status = StatusCompleted
	return &last, nil
}

// GetSummary counts existing progress records only; steps never initialized
// for the lot are not part of the total.
func (e *Engine) GetSummary(ctx context.Context, lotID string) (Summary, error) {
	records, err := e.store.ListProgress(ctx, lotID)
	if err != nil {
		return Summary{}, err
	}
	var s Summary
	s.Total = len(records)
	for _, rec := range records {
		switch rec.Status {
		case StatusCompleted:
			s.Completed++
		case StatusSkipped:
			s.Skipped++
		default:
			s.Pending++
		}
	}
	if s.Total > 0 {
		s.Percentage = int(math.Round(float64(s.Completed) / float64(s.Total) * 100))
	}
	return s, nil
}

func (e *Engine) Timeline(ctx context.Context, lotID string, workflowType WorkflowType) ([]TimelineEntry, error) {
	annotated, records, err := e.annotate(ctx, lotID, &workflowType)
	if err != nil {
		return nil, err
	}
	out := make([]TimelineEntry, 0, len(annotated))
	for i, step := range annotated {
		entry := TimelineEntry{
			Step:       step.StepDefinition,
			Status:     step.Status,
			CanAdvance: step.Status == StatusPending && CanAdvance(i, annotated),
		}
		if rec, ok := records[step.Code]; ok {
			r := rec
			entry.Record = &r
			if step.DelayDays > 0 {
				due := dueAt(r, step.StepDefinition)
				entry.DueAt = &due
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// FollowUps projects the follow-up due date of every emailing step with a
// delay. Nothing is scheduled; callers decide what to do with overdue entries.
func (e *Engine) FollowUps(ctx context.Context, lotID string, workflowType WorkflowType, now time.Time) ([]FollowUp, error) {
	annotated, records, err := e.annotate(ctx, lotID, &workflowType)
	if err != nil {
		return nil, err
	}
	var out []FollowUp
	for _, step := range annotated {
		rec, ok := records[step.Code]
		if !ok || step.DelayDays <= 0 || !step.SendEmail {
			continue
		}
		due := dueAt(rec, step.StepDefinition)
		out = append(out, FollowUp{
			LotID:    lotID,
			StepCode: step.Code,
			Label:    step.Label,
			Status:   step.Status,
			DueAt:    due,
			Overdue:  step.Status == StatusPending && !now.Before(due),
		})
	}
	return out, nil
}

// Resend dispatches the step notification again whatever the step status. The
// lot must have a progress record for the step.
func (e *Engine) Resend(ctx context.Context, lotID, stepCode string) (DispatchResult, error) {
	step, err := e.getStep(ctx, stepCode)
	if err != nil {
		return DispatchResult{}, err
	}
	if !step.SendEmail {
		return DispatchResult{}, errEmailDisabled(stepCode)
	}
	if !step.HasTemplate() {
		return DispatchResult{}, errNoTemplate(stepCode)
	}
	if e.dispatcher == nil {
		return DispatchResult{}, fmt.Errorf("no notification dispatcher configured")
	}
	// the send is recorded on the progress record, so it must exist before anything goes out
	if _, err := e.getProgress(ctx, lotID, stepCode); err != nil {
		return DispatchResult{}, err
	}
	return e.dispatcher.Dispatch(ctx, lotID, stepCode, step)
}

func (e *Engine) complete(ctx context.Context, step StepDefinition, rec ProgressRecord, notes, actor string) (ProgressRecord, error) {
	if rec.Status == StatusPending {
		if err := e.checkGate(ctx, rec.LotID, step); err != nil {
			return ProgressRecord{}, err
		}
	}
	now := e.now()
	rec.Status = StatusCompleted
	rec.CompletedAt = &now
	rec.CompletedBy = actor
	rec.Notes = notes
	if err := e.store.UpdateProgress(ctx, rec); err != nil {
		return ProgressRecord{}, err
	}
	e.recordTransition(ctx, rec)

	if !step.SendEmail || e.dispatcher == nil {
		return rec, nil
	}
	if _, err := e.dispatcher.Dispatch(ctx, rec.LotID, step.Code, step); err != nil {
		e.logger.Error("step completed but email dispatch failed",
			zap.String("lot_id", rec.LotID),
			zap.String("step_code", step.Code),
			zap.Error(err),
		)
		return rec, &DispatchError{Record: rec, Err: err}
	}
	return e.getProgress(ctx, rec.LotID, step.Code)
}

func (e *Engine) skip(ctx context.Context, step StepDefinition, rec ProgressRecord, notes string) (ProgressRecord, error) {
	if rec.Status == StatusPending {
		if err := e.checkGate(ctx, rec.LotID, step); err != nil {
			return ProgressRecord{}, err
		}
	}
	rec.Status = StatusSkipped
	rec.CompletedAt = nil
	rec.CompletedBy = ""
	rec.Notes = notes
	if err := e.store.UpdateProgress(ctx, rec); err != nil {
		return ProgressRecord{}, err
	}
	e.recordTransition(ctx, rec)
	return rec, nil
}

func (e *Engine) checkGate(ctx context.Context, lotID string, step StepDefinition) error {
	wt := step.WorkflowType
	annotated, _, err := e.annotate(ctx, lotID, &wt)
	if err != nil {
		return err
	}
	for i, s := range annotated {
		if s.Code == step.Code {
			if !CanAdvance(i, annotated) {
				return fmt.Errorf("step %s on lot %s: %w", step.Code, lotID, ErrStepBlocked)
			}
			return nil
		}
	}
	return errStepUnknown(step.Code)
}

// annotate pairs catalog steps with the lot's statuses. Steps without a
// record resolve to pending.
func (e *Engine) annotate(ctx context.Context, lotID string, workflowType *WorkflowType) ([]CurrentStep, map[string]ProgressRecord, error) {
	steps, err := e.catalog.ListSteps(ctx, workflowType)
	if err != nil {
		return nil, nil, err
	}
	records, err := e.store.ListProgress(ctx, lotID)
	if err != nil {
		return nil, nil, err
	}
	byCode := make(map[string]ProgressRecord, len(records))
	for _, rec := range records {
		byCode[rec.StepCode] = rec
	}
	out := make([]CurrentStep, 0, len(steps))
	for _, step := range steps {
		status := StatusPending
		if rec, ok := byCode[step.Code]; ok {
			status = rec.Status
		}
		out = append(out, CurrentStep{StepDefinition: step, Status: status})
	}
	return out, byCode, nil
}

func (e *Engine) loadForAction(ctx context.Context, lotID, stepCode string) (StepDefinition, ProgressRecord, error) {
	rec, err := e.getProgress(ctx, lotID, stepCode)
	if err != nil {
		return StepDefinition{}, ProgressRecord{}, err
	}
	step, err := e.getStep(ctx, stepCode)
	if err != nil {
		return StepDefinition{}, ProgressRecord{}, err
	}
	return step, rec, nil
}

func (e *Engine) getProgress(ctx context.Context, lotID, stepCode string) (ProgressRecord, error) {
	rec, err := e.store.GetProgress(ctx, lotID, stepCode)
	if errors.Is(err, ErrNotFound) {
		return ProgressRecord{}, errProgressMissing(lotID, stepCode)
	}
	return rec, err
}

func (e *Engine) getStep(ctx context.Context, stepCode string) (StepDefinition, error) {
	step, err := e.catalog.GetStep(ctx, stepCode)
	if errors.Is(err, ErrNotFound) {
		return StepDefinition{}, errStepUnknown(stepCode)
	}
	return step, err
}

func (e *Engine) recordTransition(ctx context.Context, rec ProgressRecord) {
	e.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step_code", rec.StepCode),
		attribute.String("status", string(rec.Status)),
	))
	e.logger.Info("step transitioned",
		zap.String("lot_id", rec.LotID),
		zap.String("step_code", rec.StepCode),
		zap.String("status", string(rec.Status)),
		zap.String("completed_by", rec.CompletedBy),
	)
}

func dueAt(rec ProgressRecord, step StepDefinition) time.Time {
	return rec.CreatedAt.AddDate(0, 0, step.DelayDays)
}
