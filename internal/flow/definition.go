// Package flow loads and runs promptflow-style DAG flows: a flow.dag.yaml
// describing inputs, outputs and a list of llm or tool nodes, with jinja2
// prompt templates rendered through gonja.
package flow

import (
	"errors"
	"fmt"
	"regexp"
)

// DefinitionFile is the name of the DAG file inside a flow directory.
const DefinitionFile = "flow.dag.yaml"

// NodeType selects how a node is executed.
type NodeType string

const (
	// NodeLLM renders a jinja2 template and sends it to a chat deployment.
	NodeLLM NodeType = "llm"

	// NodeTool calls a Go function registered under source.tool.
	NodeTool NodeType = "tool"
)

// Flow definition errors.
var (
	ErrInvalidDefinition = errors.New("invalid flow definition")
	ErrMissingInput      = errors.New("missing flow input")
	ErrUnknownTool       = errors.New("unknown tool")
	ErrMissingConnection = errors.New("no connection configured for node")
	ErrMissingDeployment = errors.New("deployment_name is required for llm nodes")
)

// Definition mirrors flow.dag.yaml.
type Definition struct {
	Inputs  map[string]InputSpec  `yaml:"inputs"`
	Outputs map[string]OutputSpec `yaml:"outputs"`
	Nodes   []NodeSpec            `yaml:"nodes"`
}

// InputSpec declares a flow input. Inputs without a default are required.
type InputSpec struct {
	Type    string `yaml:"type"`
	Default any    `yaml:"default"`
}

// OutputSpec maps a flow output to a node output or flow input.
type OutputSpec struct {
	Type      string `yaml:"type"`
	Reference string `yaml:"reference"`
}

// NodeSpec is a single step of the DAG.
type NodeSpec struct {
	Name       string         `yaml:"name"`
	Type       NodeType       `yaml:"type"`
	Source     SourceSpec     `yaml:"source"`
	Connection string         `yaml:"connection"`
	API        string         `yaml:"api"`
	Inputs     map[string]any `yaml:"inputs"`
}

// SourceSpec points at a template file (llm nodes) or a registered tool.
type SourceSpec struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
	Tool string `yaml:"tool"`
}

// reference is a parsed ${inputs.x} or ${node.output} expression.
type reference struct {
	source string
	field  string
}

func (r reference) isFlowInput() bool { return r.source == "inputs" }

var referencePattern = regexp.MustCompile(`^\$\{\s*([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)\s*\}$`)

// parseReference recognizes a reference expression. Any other value is a literal.
func parseReference(v any) (reference, bool) {
	s, ok := v.(string)
	if !ok {
		return reference{}, false
	}
	m := referencePattern.FindStringSubmatch(s)
	if m == nil {
		return reference{}, false
	}
	return reference{source: m[1], field: m[2]}, true
}

// validate checks node names, types and that every reference points at a flow
// input or at a node declared earlier in the list.
func (d *Definition) validate(tools *Registry) error {
	if len(d.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrInvalidDefinition)
	}

	seen := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.Name == "" {
			return fmt.Errorf("%w: node without name", ErrInvalidDefinition)
		}
		if n.Name == "inputs" {
			return fmt.Errorf("%w: node name %q is reserved", ErrInvalidDefinition, n.Name)
		}
		if seen[n.Name] {
			return fmt.Errorf("%w: duplicate node %q", ErrInvalidDefinition, n.Name)
		}

		switch n.Type {
		case NodeLLM:
			if n.Source.Path == "" {
				return fmt.Errorf("%w: llm node %q has no source.path", ErrInvalidDefinition, n.Name)
			}
		case NodeTool:
			if _, ok := tools.Lookup(n.Source.Tool); !ok {
				return fmt.Errorf("%w: node %q uses %q", ErrUnknownTool, n.Name, n.Source.Tool)
			}
		default:
			return fmt.Errorf("%w: node %q has unsupported type %q", ErrInvalidDefinition, n.Name, n.Type)
		}

		for key, v := range n.Inputs {
			ref, ok := parseReference(v)
			if !ok {
				continue
			}
			if err := d.checkReference(ref, seen); err != nil {
				return fmt.Errorf("%w: node %q input %q: %w", ErrInvalidDefinition, n.Name, key, err)
			}
		}
		seen[n.Name] = true
	}

	for name, out := range d.Outputs {
		ref, ok := parseReference(out.Reference)
		if !ok {
			return fmt.Errorf("%w: output %q has invalid reference %q", ErrInvalidDefinition, name, out.Reference)
		}
		if err := d.checkReference(ref, seen); err != nil {
			return fmt.Errorf("%w: output %q: %w", ErrInvalidDefinition, name, err)
		}
	}
	return nil
}

func (d *Definition) checkReference(ref reference, nodes map[string]bool) error {
	if ref.isFlowInput() {
		if _, ok := d.Inputs[ref.field]; !ok {
			return fmt.Errorf("undeclared flow input %q", ref.field)
		}
		return nil
	}
	if ref.field != "output" {
		return fmt.Errorf("unsupported node field %q", ref.field)
	}
	if !nodes[ref.source] {
		return fmt.Errorf("node %q is not declared before its use", ref.source)
	}
	return nil
}
