package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

type WorkflowType string

const (
	WorkflowAcquereur WorkflowType = "acquereur"
	WorkflowVendeur   WorkflowType = "vendeur"
)

func (t WorkflowType) Valid() bool {
	return t == WorkflowAcquereur || t == WorkflowVendeur
}

func ParseWorkflowType(raw string) (WorkflowType, error) {
	t := WorkflowType(raw)
	if !t.Valid() {
		return "", &ValidationError{Code: "invalid_workflow_type", Message: fmt.Sprintf("Type de workflow inconnu : %q", raw)}
	}
	return t, nil
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
)

// Resolved reports whether the status unlocks the steps gated on it.
func (s Status) Resolved() bool {
	return s == StatusCompleted || s == StatusSkipped
}

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusCompleted || s == StatusSkipped
}

type Role string

const (
	RoleAcquereur  Role = "acquereur"
	RoleVendeur    Role = "vendeur"
	RoleBackOffice Role = "bo"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAcquereur, RoleVendeur, RoleBackOffice:
		return true
	default:
		return false
	}
}

// DefaultRecipients applies to steps whose catalog entry leaves email_recipients unset.
var DefaultRecipients = []Role{RoleAcquereur, RoleVendeur}

type StepDefinition struct {
	Code            string       `json:"code" yaml:"code"`
	Label           string       `json:"label" yaml:"label"`
	OrderIndex      int          `json:"order_index" yaml:"order_index"`
	WorkflowType    WorkflowType `json:"workflow_type" yaml:"workflow_type"`
	IsAutomatic     bool         `json:"is_automatic" yaml:"is_automatic"`
	SendEmail       bool         `json:"send_email" yaml:"send_email"`
	EmailSubject    string       `json:"email_subject,omitempty" yaml:"email_subject,omitempty"`
	EmailBody       string       `json:"email_body,omitempty" yaml:"email_body,omitempty"`
	EmailRecipients []Role       `json:"email_recipients" yaml:"email_recipients"`
	DelayDays       int          `json:"delay_days,omitempty" yaml:"delay_days,omitempty"`
}

// HasTemplate reports whether both subject and body templates are configured.
func (s StepDefinition) HasTemplate() bool {
	return s.EmailSubject != "" && s.EmailBody != ""
}

func (s *StepDefinition) applyDefaults() {
	if s.EmailRecipients == nil {
		s.EmailRecipients = append([]Role(nil), DefaultRecipients...)
	}
}

func (s *StepDefinition) UnmarshalJSON(data []byte) error {
	type plain StepDefinition
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = StepDefinition(p)
	s.applyDefaults()
	return nil
}

func (s *StepDefinition) UnmarshalYAML(node *yaml.Node) error {
	type plain StepDefinition
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = StepDefinition(p)
	s.applyDefaults()
	return nil
}

type ProgressRecord struct {
	ID          string     `json:"id"`
	LotID       string     `json:"lot_id"`
	StepCode    string     `json:"step_code"`
	Status      Status     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CompletedBy string     `json:"completed_by,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	EmailSent   bool       `json:"email_sent"`
	EmailSentAt *time.Time `json:"email_sent_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CurrentStep is a catalog step annotated with its resolved status for a lot.
type CurrentStep struct {
	StepDefinition
	Status Status `json:"status"`
}

// UnmarshalJSON shadows the promoted StepDefinition decoder, which would drop Status.
func (c *CurrentStep) UnmarshalJSON(data []byte) error {
	var step StepDefinition
	if err := json.Unmarshal(data, &step); err != nil {
		return err
	}
	var annotation struct {
		Status Status `json:"status"`
	}
	if err := json.Unmarshal(data, &annotation); err != nil {
		return err
	}
	c.StepDefinition = step
	c.Status = annotation.Status
	return nil
}

type Summary struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Pending    int `json:"pending"`
	Skipped    int `json:"skipped"`
	Percentage int `json:"percentage"`
}

type InitResult struct {
	Created int `json:"created"`
}

// TimelineEntry is the presenter-facing view of one step for one lot.
type TimelineEntry struct {
	Step       StepDefinition  `json:"step"`
	Status     Status          `json:"status"`
	CanAdvance bool            `json:"can_advance"`
	Record     *ProgressRecord `json:"record,omitempty"`
	DueAt      *time.Time      `json:"due_at,omitempty"`
}

type FollowUp struct {
	LotID    string    `json:"lot_id"`
	StepCode string    `json:"step_code"`
	Label    string    `json:"label"`
	Status   Status    `json:"status"`
	DueAt    time.Time `json:"due_at"`
	Overdue  bool      `json:"overdue"`
}

// Directory records. The CRM owns these tables; the engine only reads them.

type Lot struct {
	ID           string `json:"id"`
	Reference    string `json:"reference"`
	ResidenceID  string `json:"residence_id,omitempty"`
	AcquereurID  string `json:"acquereur_id,omitempty"`
	VendeurID    string `json:"vendeur_id,omitempty"`
	PartenaireID string `json:"partenaire_id,omitempty"`
}

type Residence struct {
	ID  string `json:"id"`
	Nom string `json:"nom"`
}

// Party is an acquirer or a vendor.
type Party struct {
	ID        string          `json:"id"`
	Prenom    string          `json:"prenom"`
	Nom       string          `json:"nom"`
	Email     string          `json:"email,omitempty"`
	Documents map[string]bool `json:"documents,omitempty"`
}

func (p *Party) FullName() string {
	if p == nil {
		return ""
	}
	switch {
	case p.Prenom == "":
		return p.Nom
	case p.Nom == "":
		return p.Prenom
	default:
		return p.Prenom + " " + p.Nom
	}
}

type Partner struct {
	ID  string `json:"id"`
	Nom string `json:"nom"`
}
