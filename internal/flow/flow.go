package flow

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"path"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-flowevals/internal/domain"
	"github.com/ahrav/go-flowevals/internal/llm/providers"
	"github.com/ahrav/go-flowevals/internal/llm/transport"
)

// Reserved llm node inputs that configure the call instead of the template.
const (
	InputDeploymentName = "deployment_name"
	InputTemperature    = "temperature"
	InputMaxTokens      = "max_tokens"
	InputTopP           = "top_p"
)

// Flow is a loaded, validated DAG ready to be invoked.
// A Flow is immutable; WithConnections returns a modified copy.
type Flow struct {
	name        string
	def         Definition
	templates   map[string]string
	renderers   map[string]renderFunc
	connections map[string]domain.ModelConfig
	handler     transport.Handler
	tools       *Registry
	logger      *slog.Logger
}

// Option configures Load.
type Option func(*Flow)

// WithHandler sets the LLM pipeline used by llm nodes.
func WithHandler(h transport.Handler) Option {
	return func(f *Flow) { f.handler = h }
}

// WithTools sets the registry tool nodes resolve against.
func WithTools(r *Registry) Option {
	return func(f *Flow) { f.tools = r }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Flow) { f.logger = l }
}

// Load reads dir/flow.dag.yaml from fsys, compiles every llm node template
// and checks that node references respect declaration order.
func Load(fsys fs.FS, dir string, opts ...Option) (*Flow, error) {
	f := &Flow{
		name:        path.Base(dir),
		templates:   make(map[string]string),
		renderers:   make(map[string]renderFunc),
		connections: make(map[string]domain.ModelConfig),
		tools:       NewRegistry(),
		logger:      slog.Default().With("component", "flow"),
	}
	for _, opt := range opts {
		opt(f)
	}

	raw, err := fs.ReadFile(fsys, path.Join(dir, DefinitionFile))
	if err != nil {
		return nil, fmt.Errorf("read flow %s: %w", dir, err)
	}
	if err := yaml.Unmarshal(raw, &f.def); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrInvalidDefinition, DefinitionFile, err)
	}
	if err := f.def.validate(f.tools); err != nil {
		return nil, err
	}

	for _, n := range f.def.Nodes {
		if n.Type != NodeLLM {
			continue
		}
		src, err := fs.ReadFile(fsys, path.Join(dir, n.Source.Path))
		if err != nil {
			return nil, fmt.Errorf("read template for node %s: %w", n.Name, err)
		}
		render, err := compileTemplate(string(src))
		if err != nil {
			return nil, fmt.Errorf("%w: node %s: %w", ErrInvalidDefinition, n.Name, err)
		}
		f.templates[n.Name] = string(src)
		f.renderers[n.Name] = render
	}

	return f, nil
}

// Name returns the flow directory name.
func (f *Flow) Name() string { return f.name }

// Definition returns a copy of the parsed DAG.
func (f *Flow) Definition() Definition { return f.def }

// WithConnections returns a copy of the flow whose llm nodes use the given
// connections, keyed by node name.
func (f *Flow) WithConnections(conns map[string]domain.ModelConfig) *Flow {
	cp := *f
	cp.connections = maps.Clone(f.connections)
	for node, conn := range conns {
		cp.connections[node] = conn.WithDefaults()
	}
	return &cp
}

// Invoke runs the flow with inputs and returns its outputs. The RunInfo is
// returned even on failure and holds every node that ran.
func (f *Flow) Invoke(ctx context.Context, inputs map[string]any) (map[string]any, *RunInfo, error) {
	run := &RunInfo{
		RunID:     uuid.New().String(),
		Flow:      f.name,
		Status:    StatusRunning,
		StartTime: time.Now().UTC(),
	}

	resolved, err := f.resolveInputs(inputs)
	if err != nil {
		run.fail(err)
		return nil, run, err
	}
	run.Inputs = resolved

	nodeOutputs := make(map[string]any, len(f.def.Nodes))
	for _, n := range f.def.Nodes {
		if err := ctx.Err(); err != nil {
			run.fail(err)
			return nil, run, err
		}

		info := f.runNode(ctx, n, resolved, nodeOutputs)
		run.Nodes = append(run.Nodes, info.NodeRunInfo)
		if info.err != nil {
			err := fmt.Errorf("node %s: %w", n.Name, info.err)
			run.fail(err)
			f.logger.Debug("flow node failed", "flow", f.name, "node", n.Name, "error", info.err)
			return nil, run, err
		}
		nodeOutputs[n.Name] = info.Output
	}

	outputs := make(map[string]any, len(f.def.Outputs))
	for name, out := range f.def.Outputs {
		ref, _ := parseReference(out.Reference)
		outputs[name] = lookup(ref, resolved, nodeOutputs)
	}

	run.Outputs = outputs
	run.Status = StatusCompleted
	run.EndTime = time.Now().UTC()
	return outputs, run, nil
}

func (f *Flow) resolveInputs(inputs map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(f.def.Inputs))
	for name, spec := range f.def.Inputs {
		if v, ok := inputs[name]; ok && v != nil {
			resolved[name] = v
			continue
		}
		if spec.Default != nil {
			resolved[name] = spec.Default
			continue
		}
		return nil, fmt.Errorf("%w: %s", ErrMissingInput, name)
	}
	return resolved, nil
}

type nodeResult struct {
	NodeRunInfo
	err error
}

func (f *Flow) runNode(ctx context.Context, n NodeSpec, flowInputs, nodeOutputs map[string]any) nodeResult {
	res := nodeResult{NodeRunInfo: NodeRunInfo{
		Node:      n.Name,
		RunID:     uuid.New().String(),
		Status:    StatusRunning,
		StartTime: time.Now().UTC(),
	}}

	nodeInputs := make(map[string]any, len(n.Inputs))
	for key, v := range n.Inputs {
		if ref, ok := parseReference(v); ok {
			nodeInputs[key] = lookup(ref, flowInputs, nodeOutputs)
			continue
		}
		nodeInputs[key] = v
	}
	res.Inputs = nodeInputs

	var (
		out  any
		call APICall
		err  error
	)
	switch n.Type {
	case NodeLLM:
		out, call, err = f.runLLM(ctx, n, nodeInputs)
	case NodeTool:
		out, call, err = f.runTool(ctx, n, nodeInputs)
	}
	res.APICalls = []APICall{call}
	res.EndTime = time.Now().UTC()
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		res.err = err
		return res
	}
	res.Status = StatusCompleted
	res.Output = out
	return res
}

func (f *Flow) runLLM(ctx context.Context, n NodeSpec, inputs map[string]any) (any, APICall, error) {
	call := APICall{
		Name:      "AzureOpenAI." + apiName(n.API),
		Type:      CallTypeLLM,
		StartTime: time.Now().UTC(),
		Inputs:    maps.Clone(inputs),
	}
	call.Inputs["prompt"] = f.templates[n.Name]

	finish := func(out any, err error) (any, APICall, error) {
		call.EndTime = time.Now().UTC()
		call.Output = out
		if err != nil {
			call.Error = err.Error()
		}
		return out, call, err
	}

	if f.handler == nil {
		return finish(nil, fmt.Errorf("%w: no LLM handler configured", ErrMissingConnection))
	}
	conn, ok := f.connections[n.Name]
	if !ok || conn.IsZero() {
		return finish(nil, fmt.Errorf("%w: %s", ErrMissingConnection, n.Name))
	}
	deployment, _ := inputs[InputDeploymentName].(string)
	if deployment == "" {
		return finish(nil, ErrMissingDeployment)
	}

	vars := templateVars(inputs)
	rendered, err := f.renderers[n.Name](vars)
	if err != nil {
		return finish(nil, err)
	}

	req := &transport.Request{
		Operation:      operation(n.API),
		Provider:       providers.ProviderAzureOpenAI,
		Deployment:     deployment,
		Connection:     conn,
		TenantID:       transport.ExtractTenantID(ctx),
		TraceID:        transport.ExtractTraceID(ctx),
		Messages:       ParseChat(rendered),
		PromptTemplate: f.templates[n.Name],
		TemplateInputs: vars,
		Metadata:       map[string]string{"flow": f.name, "node": n.Name},
	}
	if v, ok := toFloat(inputs[InputTemperature]); ok {
		req.Temperature = v
	}
	if v, ok := toFloat(inputs[InputMaxTokens]); ok {
		req.MaxTokens = int64(v)
	}
	if v, ok := toFloat(inputs[InputTopP]); ok {
		req.TopP = &v
	}

	resp, err := f.handler.Handle(ctx, req)
	if err != nil {
		return finish(nil, err)
	}
	return finish(resp.Content, nil)
}

func (f *Flow) runTool(ctx context.Context, n NodeSpec, inputs map[string]any) (any, APICall, error) {
	call := APICall{
		Name:      n.Source.Tool,
		Type:      CallTypeTool,
		StartTime: time.Now().UTC(),
		Inputs:    maps.Clone(inputs),
	}
	tool, _ := f.tools.Lookup(n.Source.Tool)
	out, err := tool(ctx, inputs)
	call.EndTime = time.Now().UTC()
	call.Output = out
	if err != nil {
		call.Error = err.Error()
	}
	return out, call, err
}

// templateVars drops the reserved call parameters from node inputs.
func templateVars(inputs map[string]any) map[string]any {
	vars := maps.Clone(inputs)
	for _, k := range []string{InputDeploymentName, InputTemperature, InputMaxTokens, InputTopP} {
		delete(vars, k)
	}
	return vars
}

func lookup(ref reference, flowInputs, nodeOutputs map[string]any) any {
	if ref.isFlowInput() {
		return flowInputs[ref.field]
	}
	return nodeOutputs[ref.source]
}

func apiName(api string) string {
	if api == "" {
		return string(transport.OpChat)
	}
	return api
}

func operation(api string) transport.OperationType {
	if api == string(transport.OpCompletion) {
		return transport.OpCompletion
	}
	return transport.OpChat
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
