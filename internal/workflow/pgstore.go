package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PGStore reads and writes the CRM database. It serves the progress store, the
// step catalog and the directory lookups.
type PGStore struct {
	db    *sql.DB
	types *pgtype.Map
}

func NewPGStore(ctx context.Context, dsn string, migrate bool) (*PGStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &PGStore{db: db, types: pgtype.NewMap()}
	if migrate {
		if err := s.migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return s, nil
}

func (s *PGStore) Close() error {
	return s.db.Close()
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PGStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
create table if not exists workflow_steps (
  code text primary key,
  label text not null,
  order_index int not null,
  workflow_type text not null,
  is_automatic boolean not null default false,
  send_email boolean not null default false,
  email_subject text,
  email_body text,
  email_recipients text[],
  delay_days int not null default 0
);
create table if not exists lot_workflow_progress (
  id uuid primary key,
  lot_id text not null,
  step_code text not null,
  status text not null default 'pending',
  completed_at timestamptz,
  completed_by text,
  notes text,
  email_sent boolean not null default false,
  email_sent_at timestamptz,
  created_at timestamptz not null default now(),
  unique (lot_id, step_code)
);
create table if not exists residences (
  id text primary key,
  nom text not null
);
create table if not exists acquereurs (
  id text primary key,
  prenom text,
  nom text,
  email text,
  documents jsonb
);
create table if not exists vendeurs (
  id text primary key,
  prenom text,
  nom text,
  email text,
  documents jsonb
);
create table if not exists partenaires (
  id text primary key,
  nom text not null
);
create table if not exists lots (
  id text primary key,
  reference text not null,
  residence_id text,
  acquereur_id text,
  vendeur_id text,
  partenaire_id text
);
create table if not exists notification_emails (
  email text primary key,
  is_active boolean not null default true
);
`)
	return err
}

const progressColumns = `id, lot_id, step_code, status, completed_at, completed_by, notes, email_sent, email_sent_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgress(row rowScanner) (ProgressRecord, error) {
	var (
		rec         ProgressRecord
		status      string
		completedAt sql.NullTime
		completedBy sql.NullString
		notes       sql.NullString
		emailSentAt sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.LotID, &rec.StepCode, &status, &completedAt, &completedBy, &notes, &rec.EmailSent, &emailSentAt, &rec.CreatedAt); err != nil {
		return ProgressRecord{}, err
	}
	rec.Status = Status(status)
	rec.CompletedBy = completedBy.String
	rec.Notes = notes.String
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	if emailSentAt.Valid {
		t := emailSentAt.Time
		rec.EmailSentAt = &t
	}
	return rec, nil
}

func (s *PGStore) ListProgress(ctx context.Context, lotID string) ([]ProgressRecord, error) {
	rows, err := s.db.QueryContext(ctx, `select `+progressColumns+` from lot_workflow_progress where lot_id=$1 order by created_at asc, step_code asc`, lotID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()
	out := make([]ProgressRecord, 0)
	for rows.Next() {
		rec, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PGStore) GetProgress(ctx context.Context, lotID, stepCode string) (ProgressRecord, error) {
	row := s.db.QueryRowContext(ctx, `select `+progressColumns+` from lot_workflow_progress where lot_id=$1 and step_code=$2`, lotID, stepCode)
	rec, err := scanProgress(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProgressRecord{}, ErrNotFound
		}
		return ProgressRecord{}, fmt.Errorf("get progress: %w", err)
	}
	return rec, nil
}

func (s *PGStore) InsertProgress(ctx context.Context, records []ProgressRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	created := 0
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		res, err := tx.ExecContext(ctx, `insert into lot_workflow_progress (id, lot_id, step_code, status, created_at)
values ($1,$2,$3,$4,$5)
on conflict (lot_id, step_code) do nothing`,
			rec.ID, rec.LotID, rec.StepCode, string(rec.Status), rec.CreatedAt)
		if err != nil {
			return 0, fmt.Errorf("insert progress %s: %w", rec.StepCode, err)
		}
		n, _ := res.RowsAffected()
		created += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return created, nil
}

func (s *PGStore) UpdateProgress(ctx context.Context, rec ProgressRecord) error {
	res, err := s.db.ExecContext(ctx, `update lot_workflow_progress
set status=$3, completed_at=$4, completed_by=$5, notes=$6, email_sent=$7, email_sent_at=$8
where lot_id=$1 and step_code=$2`,
		rec.LotID, rec.StepCode, string(rec.Status), rec.CompletedAt, nullString(rec.CompletedBy), nullString(rec.Notes), rec.EmailSent, rec.EmailSentAt)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return expectRow(res)
}

func (s *PGStore) MarkEmailSent(ctx context.Context, lotID, stepCode string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update lot_workflow_progress set email_sent=true, email_sent_at=$3 where lot_id=$1 and step_code=$2`,
		lotID, stepCode, at)
	if err != nil {
		return fmt.Errorf("mark email sent: %w", err)
	}
	return expectRow(res)
}

func (s *PGStore) DeleteProgress(ctx context.Context, lotID string) error {
	if _, err := s.db.ExecContext(ctx, `delete from lot_workflow_progress where lot_id=$1`, lotID); err != nil {
		return fmt.Errorf("delete progress: %w", err)
	}
	return nil
}

const stepColumns = `code, label, order_index, workflow_type, is_automatic, send_email, email_subject, email_body, email_recipients, delay_days`

func (s *PGStore) scanStep(row rowScanner) (StepDefinition, error) {
	var (
		step       StepDefinition
		wt         string
		subject    sql.NullString
		body       sql.NullString
		recipients []string
	)
	if err := row.Scan(&step.Code, &step.Label, &step.OrderIndex, &wt, &step.IsAutomatic, &step.SendEmail,
		&subject, &body, s.types.SQLScanner(&recipients), &step.DelayDays); err != nil {
		return StepDefinition{}, err
	}
	step.WorkflowType = WorkflowType(wt)
	step.EmailSubject = subject.String
	step.EmailBody = body.String
	if recipients != nil {
		step.EmailRecipients = make([]Role, 0, len(recipients))
		for _, r := range recipients {
			step.EmailRecipients = append(step.EmailRecipients, Role(r))
		}
	}
	step.applyDefaults()
	return step, nil
}

func (s *PGStore) ListSteps(ctx context.Context, workflowType *WorkflowType) ([]StepDefinition, error) {
	query := `select ` + stepColumns + ` from workflow_steps`
	args := []any{}
	if workflowType != nil {
		query += ` where workflow_type=$1`
		args = append(args, string(*workflowType))
	}
	query += ` order by order_index asc, workflow_type asc`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()
	out := make([]StepDefinition, 0)
	for rows.Next() {
		step, err := s.scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

func (s *PGStore) GetStep(ctx context.Context, code string) (StepDefinition, error) {
	step, err := s.scanStep(s.db.QueryRowContext(ctx, `select `+stepColumns+` from workflow_steps where code=$1`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StepDefinition{}, ErrNotFound
		}
		return StepDefinition{}, fmt.Errorf("get step: %w", err)
	}
	return step, nil
}

// SeedSteps upserts catalog definitions, used to load the builtin or file
// catalog into an empty database.
func (s *PGStore) SeedSteps(ctx context.Context, steps []StepDefinition) error {
	for _, step := range steps {
		recipients := make([]string, 0, len(step.EmailRecipients))
		for _, r := range step.EmailRecipients {
			recipients = append(recipients, string(r))
		}
		_, err := s.db.ExecContext(ctx, `insert into workflow_steps (`+stepColumns+`)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
on conflict (code) do update set label=excluded.label, order_index=excluded.order_index, workflow_type=excluded.workflow_type,
  is_automatic=excluded.is_automatic, send_email=excluded.send_email, email_subject=excluded.email_subject,
  email_body=excluded.email_body, email_recipients=excluded.email_recipients, delay_days=excluded.delay_days`,
			step.Code, step.Label, step.OrderIndex, string(step.WorkflowType), step.IsAutomatic, step.SendEmail,
			nullString(step.EmailSubject), nullString(step.EmailBody), recipients, step.DelayDays)
		if err != nil {
			return fmt.Errorf("seed step %s: %w", step.Code, err)
		}
	}
	return nil
}

func (s *PGStore) GetLot(ctx context.Context, id string) (Lot, error) {
	var l Lot
	var residence, acquereur, vendeur, partner sql.NullString
	err := s.db.QueryRowContext(ctx, `select id, reference, residence_id, acquereur_id, vendeur_id, partenaire_id from lots where id=$1`, id).
		Scan(&l.ID, &l.Reference, &residence, &acquereur, &vendeur, &partner)
	if err != nil {
		return Lot{}, notFound(err, "lot")
	}
	l.ResidenceID = residence.String
	l.AcquereurID = acquereur.String
	l.VendeurID = vendeur.String
	l.PartenaireID = partner.String
	return l, nil
}

func (s *PGStore) GetResidence(ctx context.Context, id string) (Residence, error) {
	var r Residence
	if err := s.db.QueryRowContext(ctx, `select id, nom from residences where id=$1`, id).Scan(&r.ID, &r.Nom); err != nil {
		return Residence{}, notFound(err, "residence")
	}
	return r, nil
}

func (s *PGStore) GetAcquereur(ctx context.Context, id string) (Party, error) {
	return s.getParty(ctx, "acquereurs", id)
}

func (s *PGStore) GetVendeur(ctx context.Context, id string) (Party, error) {
	return s.getParty(ctx, "vendeurs", id)
}

func (s *PGStore) getParty(ctx context.Context, table, id string) (Party, error) {
	var (
		p                  Party
		prenom, nom, email sql.NullString
		documents          []byte
	)
	err := s.db.QueryRowContext(ctx, `select id, prenom, nom, email, documents from `+table+` where id=$1`, id).
		Scan(&p.ID, &prenom, &nom, &email, &documents)
	if err != nil {
		return Party{}, notFound(err, table)
	}
	p.Prenom = prenom.String
	p.Nom = nom.String
	p.Email = email.String
	if len(documents) > 0 {
		if err := json.Unmarshal(documents, &p.Documents); err != nil {
			return Party{}, fmt.Errorf("decode %s documents: %w", table, err)
		}
	}
	return p, nil
}

func (s *PGStore) GetPartner(ctx context.Context, id string) (Partner, error) {
	var p Partner
	if err := s.db.QueryRowContext(ctx, `select id, nom from partenaires where id=$1`, id).Scan(&p.ID, &p.Nom); err != nil {
		return Partner{}, notFound(err, "partenaire")
	}
	return p, nil
}

func (s *PGStore) ListNotificationEmails(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `select email from notification_emails where is_active order by email asc`)
	if err != nil {
		return nil, fmt.Errorf("list notification emails: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("get %s: %w", what, err)
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
