package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Catalog serves the ordered step definitions. The engine never writes to it.
type Catalog interface {
	ListSteps(ctx context.Context, workflowType *WorkflowType) ([]StepDefinition, error)
	GetStep(ctx context.Context, code string) (StepDefinition, error)
}

type StaticCatalog struct {
	steps  []StepDefinition
	byCode map[string]StepDefinition
}

func NewStaticCatalog(steps []StepDefinition) (*StaticCatalog, error) {
	c := &StaticCatalog{
		steps:  make([]StepDefinition, 0, len(steps)),
		byCode: make(map[string]StepDefinition, len(steps)),
	}
	for _, step := range steps {
		if step.Code == "" {
			return nil, fmt.Errorf("catalog step with empty code")
		}
		if _, dup := c.byCode[step.Code]; dup {
			return nil, fmt.Errorf("duplicate step code %q", step.Code)
		}
		if !step.WorkflowType.Valid() {
			return nil, fmt.Errorf("step %q: invalid workflow type %q", step.Code, step.WorkflowType)
		}
		for _, role := range step.EmailRecipients {
			if !role.Valid() {
				return nil, fmt.Errorf("step %q: invalid recipient role %q", step.Code, role)
			}
		}
		step.applyDefaults()
		c.byCode[step.Code] = step
		c.steps = append(c.steps, step)
	}
	sortSteps(c.steps)
	return c, nil
}

func (c *StaticCatalog) ListSteps(_ context.Context, workflowType *WorkflowType) ([]StepDefinition, error) {
	out := make([]StepDefinition, 0, len(c.steps))
	for _, step := range c.steps {
		if workflowType != nil && step.WorkflowType != *workflowType {
			continue
		}
		out = append(out, step)
	}
	return out, nil
}

func (c *StaticCatalog) GetStep(_ context.Context, code string) (StepDefinition, error) {
	step, ok := c.byCode[code]
	if !ok {
		return StepDefinition{}, ErrNotFound
	}
	return step, nil
}

type catalogFile struct {
	Steps []StepDefinition `yaml:"steps"`
}

// LoadCatalogFile reads a YAML catalog, validates it against the catalog schema
// and builds a StaticCatalog from it.
func LoadCatalogFile(path string) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := ValidateCatalog(raw); err != nil {
		return nil, err
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return NewStaticCatalog(file.Steps)
}

// sortSteps orders by order index; ties across workflow types fall back to the
// type name so listings are deterministic.
func sortSteps(steps []StepDefinition) {
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].OrderIndex != steps[j].OrderIndex {
			return steps[i].OrderIndex < steps[j].OrderIndex
		}
		return steps[i].WorkflowType < steps[j].WorkflowType
	})
}

// toJSONValue normalizes a YAML-decoded document into the shapes encoding/json produces.
func toJSONValue(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
