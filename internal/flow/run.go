package flow

import "time"

// Status of a flow or node run.
type Status string

const (
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Call types recorded on APICall.
const (
	CallTypeLLM  = "LLM"
	CallTypeTool = "Tool"
)

// RunInfo describes one invocation of a flow.
type RunInfo struct {
	RunID     string         `json:"run_id"`
	Flow      string         `json:"flow"`
	Status    Status         `json:"status"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	Nodes     []NodeRunInfo  `json:"nodes,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
}

func (r *RunInfo) fail(err error) {
	r.Status = StatusFailed
	r.Error = err.Error()
	r.EndTime = time.Now().UTC()
}

// Node returns the run info of the named node, if it ran.
func (r *RunInfo) Node(name string) (NodeRunInfo, bool) {
	for _, n := range r.Nodes {
		if n.Node == name {
			return n, true
		}
	}
	return NodeRunInfo{}, false
}

// NodeRunInfo describes the execution of one node.
type NodeRunInfo struct {
	Node      string         `json:"node"`
	RunID     string         `json:"run_id"`
	Status    Status         `json:"status"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Output    any            `json:"output,omitempty"`
	APICalls  []APICall      `json:"api_calls,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
}

// APICall is a single LLM or tool call made by a node. For llm nodes the
// inputs carry the unrendered template under "prompt".
type APICall struct {
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Output    any            `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
}
