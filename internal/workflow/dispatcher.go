package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type DispatchOutcome string

const (
	DispatchSent         DispatchOutcome = "sent"
	DispatchNoTemplate   DispatchOutcome = "no_template"
	DispatchNoRecipients DispatchOutcome = "no_recipients"
)

type DispatchResult struct {
	Outcome    DispatchOutcome `json:"outcome"`
	Recipients []string        `json:"recipients,omitempty"`
}

func (r DispatchResult) Sent() bool {
	return r.Outcome == DispatchSent
}

type Dispatcher struct {
	store  Store
	dir    Directory
	docs   DocumentResolver
	sender Sender
	logger *zap.Logger
	now    func() time.Time
	loc    *time.Location
	sent   metric.Int64Counter
}

func NewDispatcher(store Store, dir Directory, docs DocumentResolver, sender Sender, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	sent, _ := otel.Meter(meterName).Int64Counter("workflow.emails.sent")
	return &Dispatcher{
		store:  store,
		dir:    dir,
		docs:   docs,
		sender: sender,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		loc:    time.UTC,
		sent:   sent,
	}
}

func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// SetLocation sets the zone the {{date}} placeholder is rendered in.
func (d *Dispatcher) SetLocation(loc *time.Location) {
	if loc != nil {
		d.loc = loc
	}
}

type parties struct {
	residence *Residence
	acquereur *Party
	vendeur   *Party
	partner   *Partner
	boEmails  []string
}

// Dispatch renders the step templates for the lot, resolves recipients and
// calls the send endpoint. A missing template or an empty recipient list ends
// the dispatch early without error.
func (d *Dispatcher) Dispatch(ctx context.Context, lotID, stepCode string, step StepDefinition) (DispatchResult, error) {
	log := d.logger.With(zap.String("lot_id", lotID), zap.String("step_code", stepCode))
	if !step.HasTemplate() {
		log.Warn("no email template configured for step")
		return DispatchResult{Outcome: DispatchNoTemplate}, nil
	}

	lot, err := d.dir.GetLot(ctx, lotID)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("load lot %s: %w", lotID, err)
	}
	p, err := d.resolveParties(ctx, lot, step.EmailRecipients)
	if err != nil {
		return DispatchResult{}, err
	}

	now := d.now()
	documents := ""
	if d.docs != nil {
		documents = MissingDocumentsText(d.docs.Resolve(stepCode, p.acquereur, p.vendeur))
	}
	vars := buildTemplateVars(templateContext{
		lot:       lot,
		residence: p.residence,
		acquereur: p.acquereur,
		vendeur:   p.vendeur,
		partner:   p.partner,
		step:      step,
		documents: documents,
		now:       now.In(d.loc),
	})

	recipients := d.resolveRecipients(log, step.EmailRecipients, p)
	if len(recipients) == 0 {
		log.Warn("no recipients resolved for step email")
		return DispatchResult{Outcome: DispatchNoRecipients}, nil
	}

	req := SendRequest{
		LotID:        lotID,
		StepCode:     stepCode,
		Subject:      Render(step.EmailSubject, vars),
		Body:         Render(step.EmailBody, vars),
		Recipients:   recipients,
		LotReference: lot.Reference,
		ResidenceNom: vars["residence_nom"],
	}
	resp, err := d.sender.Send(ctx, req)
	if err != nil {
		return DispatchResult{}, err
	}
	if err := d.store.MarkEmailSent(ctx, lotID, stepCode, now); err != nil {
		return DispatchResult{}, fmt.Errorf("mark email sent: %w", err)
	}
	d.sent.Add(ctx, 1, metric.WithAttributes(attribute.String("step_code", stepCode)))

	delivered := resp.Recipients
	if len(delivered) == 0 {
		delivered = recipients
	}
	log.Info("step email sent", zap.Strings("recipients", delivered))
	return DispatchResult{Outcome: DispatchSent, Recipients: delivered}, nil
}

// resolveParties loads the lot's related records. Acquirer and vendor are read
// from their own tables so the current email address is used.
func (d *Dispatcher) resolveParties(ctx context.Context, lot Lot, roles []Role) (parties, error) {
	var p parties
	g, gctx := errgroup.WithContext(ctx)

	if lot.ResidenceID != "" {
		g.Go(func() error {
			r, err := d.dir.GetResidence(gctx, lot.ResidenceID)
			if err != nil {
				return optional(err, "residence")
			}
			p.residence = &r
			return nil
		})
	}
	if lot.AcquereurID != "" {
		g.Go(func() error {
			a, err := d.dir.GetAcquereur(gctx, lot.AcquereurID)
			if err != nil {
				return optional(err, "acquereur")
			}
			p.acquereur = &a
			return nil
		})
	}
	if lot.VendeurID != "" {
		g.Go(func() error {
			v, err := d.dir.GetVendeur(gctx, lot.VendeurID)
			if err != nil {
				return optional(err, "vendeur")
			}
			p.vendeur = &v
			return nil
		})
	}
	if lot.PartenaireID != "" {
		g.Go(func() error {
			pt, err := d.dir.GetPartner(gctx, lot.PartenaireID)
			if err != nil {
				return optional(err, "partenaire")
			}
			p.partner = &pt
			return nil
		})
	}
	if hasRole(roles, RoleBackOffice) {
		g.Go(func() error {
			emails, err := d.dir.ListNotificationEmails(gctx)
			if err != nil {
				return fmt.Errorf("load notification emails: %w", err)
			}
			p.boEmails = emails
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return parties{}, err
	}
	return p, nil
}

func (d *Dispatcher) resolveRecipients(log *zap.Logger, roles []Role, p parties) []string {
	seen := map[string]bool{}
	var out []string
	add := func(email string) {
		email = strings.TrimSpace(email)
		key := strings.ToLower(email)
		if email == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, email)
	}

	for _, role := range roles {
		switch role {
		case RoleAcquereur:
			if p.acquereur == nil || strings.TrimSpace(p.acquereur.Email) == "" {
				log.Warn("acquereur recipient requested but no email on file")
				continue
			}
			add(p.acquereur.Email)
		case RoleVendeur:
			if p.vendeur == nil || strings.TrimSpace(p.vendeur.Email) == "" {
				log.Warn("vendeur recipient requested but no email on file")
				continue
			}
			add(p.vendeur.Email)
		case RoleBackOffice:
			if len(p.boEmails) == 0 {
				log.Warn("back-office recipient requested but no active notification email")
				continue
			}
			for _, email := range p.boEmails {
				add(email)
			}
		default:
			log.Warn("unknown recipient role", zap.String("role", string(role)))
		}
	}
	return out
}

func hasRole(roles []Role, want Role) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

// optional treats a missing related record as absent.
func optional(err error, what string) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return fmt.Errorf("load %s: %w", what, err)
}
