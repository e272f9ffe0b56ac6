package planner

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/tripgraph/tripgraph/runtime/constraints"
	"github.com/tripgraph/tripgraph/runtime/itinerary"
	"github.com/tripgraph/tripgraph/runtime/model"
	"github.com/tripgraph/tripgraph/runtime/plan"
	"github.com/tripgraph/tripgraph/runtime/schema"
)

var (
	//go:embed schemas/constraints.json
	constraintsDoc []byte
	//go:embed schemas/plan.json
	planDoc []byte
	//go:embed schemas/synthesis.json
	synthesisDoc []byte

	// ConstraintsSchema is the output schema of Extract and Refine.
	ConstraintsSchema = schema.MustCompile("constraints", constraintsDoc)
	// PlanSchema is the output schema of Plan and Repair.
	PlanSchema = schema.MustCompile("plan", planDoc)
	// SynthesisSchema is the output schema of Synthesize.
	SynthesisSchema = schema.MustCompile("synthesis", synthesisDoc)
)

const defaultMaxTokens = 4096

type (
	// LLM implements Capabilities over a structured-output model client.
	LLM struct {
		client      model.Client
		model       string
		maxTokens   int
		temperature float64
	}

	// LLMOption configures an LLM.
	LLMOption func(*LLM)
)

// WithModel overrides the model identifier sent with every request.
func WithModel(id string) LLMOption {
	return func(l *LLM) { l.model = id }
}

// WithMaxTokens sets the completion token cap.
func WithMaxTokens(n int) LLMOption {
	return func(l *LLM) {
		if n > 0 {
			l.maxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) LLMOption {
	return func(l *LLM) { l.temperature = t }
}

// NewLLM returns the model-backed implementation of every capability.
func NewLLM(client model.Client, opts ...LLMOption) *LLM {
	l := &LLM{client: client, maxTokens: defaultMaxTokens}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Extract implements Extractor.
func (l *LLM) Extract(ctx context.Context, in ExtractInput) (constraints.Set, error) {
	set, err := l.constraints(ctx, extractSystem, extractPrompt(in))
	if err != nil {
		return constraints.Set{}, fmt.Errorf("extract constraints: %w", err)
	}
	return set, nil
}

// Refine implements Extractor.
func (l *LLM) Refine(ctx context.Context, in ExtractInput) (constraints.Set, error) {
	set, err := l.constraints(ctx, refineSystem, refinePrompt(in))
	if err != nil {
		return constraints.Set{}, fmt.Errorf("refine constraints: %w", err)
	}
	return set, nil
}

func (l *LLM) constraints(ctx context.Context, system, prompt string) (constraints.Set, error) {
	var set constraints.Set
	raw, err := l.invoke(ctx, ConstraintsSchema, system, prompt, &set)
	if err != nil {
		return constraints.Set{}, err
	}
	set = set.Normalize()
	if err := set.Validate(); err != nil {
		return constraints.Set{}, model.NewSchemaValidationError(ConstraintsSchema.Name(), raw, err)
	}
	return set, nil
}

// Plan implements Planner.
func (l *LLM) Plan(ctx context.Context, in PlanInput) (plan.Plan, error) {
	p, err := l.plan(ctx, planSystem, planPrompt(in))
	if err != nil {
		return plan.Plan{}, fmt.Errorf("plan: %w", err)
	}
	return p, nil
}

// Repair implements Repairer.
func (l *LLM) Repair(ctx context.Context, in RepairInput) (plan.Plan, error) {
	p, err := l.plan(ctx, repairSystem, repairPrompt(in))
	if err != nil {
		return plan.Plan{}, fmt.Errorf("repair: %w", err)
	}
	return p, nil
}

func (l *LLM) plan(ctx context.Context, system, prompt string) (plan.Plan, error) {
	var p plan.Plan
	if _, err := l.invoke(ctx, PlanSchema, system, prompt, &p); err != nil {
		return plan.Plan{}, err
	}
	for i := range p.Steps {
		if len(bytes.TrimSpace(p.Steps[i].Args)) == 0 {
			p.Steps[i].Args = json.RawMessage(`{}`)
		}
	}
	return p, nil
}

// Synthesize implements Synthesizer.
func (l *LLM) Synthesize(ctx context.Context, in SynthesisInput) (itinerary.Synthesis, error) {
	var out itinerary.Synthesis
	if _, err := l.invoke(ctx, SynthesisSchema, synthesisSystem, synthesisPrompt(in), &out); err != nil {
		return itinerary.Synthesis{}, fmt.Errorf("synthesize: %w", err)
	}
	if out.Itinerary.Currency == "" {
		out.Itinerary.Currency = "USD"
	}
	return out, nil
}

// invoke sends one request, validates the output against s and decodes it
// into dst. It returns the raw output for error reporting.
func (l *LLM) invoke(ctx context.Context, s *schema.Schema, system, prompt string, dst any) (json.RawMessage, error) {
	req := model.Request{
		Model:       l.model,
		System:      system,
		Messages:    []model.Message{model.UserMessage(prompt)},
		Schema:      s,
		MaxTokens:   l.maxTokens,
		Temperature: l.temperature,
	}
	raw, err := l.client.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := model.Conform(req, raw); err != nil {
		return raw, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return raw, model.NewSchemaValidationError(s.Name(), raw, err)
	}
	return raw, nil
}
