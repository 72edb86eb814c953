package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ahrav/go-flowevals/internal/flow"
)

// llmCallPrefix marks api calls whose outputs are recorded.
const llmCallPrefix = "AzureOpenAI"

// HashInputs builds the map hashed for a record lookup: the values of the
// template's variables that are present in kwargs, plus the template under "prompt".
func HashInputs(promptTemplate string, kwargs map[string]any) map[string]any {
	dict := make(map[string]any)
	for _, name := range flow.TemplateVariables(promptTemplate) {
		if v, ok := kwargs[name]; ok {
			dict[name] = v
		}
	}
	dict["prompt"] = promptTemplate
	return dict
}

// Player answers completions from recorded outputs.
type Player struct {
	storage *Storage
}

// NewPlayer returns a Player reading from storage.
func NewPlayer(storage *Storage) *Player {
	return &Player{storage: storage}
}

// Completion returns the recorded output for a template rendered with kwargs.
func (p *Player) Completion(ctx context.Context, promptTemplate string, kwargs map[string]any, file string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.storage.Get(file, HashInputs(promptTemplate, kwargs))
}

// Tool adapts the player into a flow tool. The node passes the template under
// "prompt" and the template variables as the remaining inputs.
func (p *Player) Tool(file string) flow.Tool {
	return func(ctx context.Context, inputs map[string]any) (any, error) {
		tpl, _ := inputs["prompt"].(string)
		return p.Completion(ctx, tpl, inputs, file)
	}
}

// RecordNodeRun stores the output of every Azure OpenAI call the node made.
func RecordNodeRun(storage *Storage, run flow.NodeRunInfo, file string) error {
	for _, call := range run.APICalls {
		if !strings.HasPrefix(call.Name, llmCallPrefix) {
			continue
		}
		tpl, _ := call.Inputs["prompt"].(string)
		out, err := outputString(run.Output)
		if err != nil {
			return err
		}
		if err := storage.Set(file, HashInputs(tpl, call.Inputs), out); err != nil {
			return fmt.Errorf("record node %s: %w", run.Node, err)
		}
		slog.Default().With("component", "recording").Debug("recorded node run",
			"node", run.Node, "call", call.Name)
	}
	return nil
}

// RecordRun records every node of a completed flow run.
func RecordRun(storage *Storage, run *flow.RunInfo, file string) error {
	for _, n := range run.Nodes {
		if err := RecordNodeRun(storage, n, file); err != nil {
			return err
		}
	}
	return nil
}

func outputString(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode node output: %w", err)
	}
	return string(raw), nil
}
