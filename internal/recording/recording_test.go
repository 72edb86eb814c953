package recording

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-flowevals/internal/domain"
	"github.com/ahrav/go-flowevals/internal/flow"
	"github.com/ahrav/go-flowevals/internal/llm/transport"
)

const similarityPrompt = "system:\nrate 1-5\nuser:\n{{question}} | {{answer}} | {{ground_truth}}"

func recordFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "node_recordings", "similarity", "flow", "storage_record.json")
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModeOff},
		{in: "record", want: ModeRecord},
		{in: " Replay ", want: ModeReplay},
		{in: "live", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModeFromEnv(t *testing.T) {
	t.Setenv(EnvMode, "replay")
	assert.True(t, IsReplaying())
	assert.False(t, IsRecording())
	assert.True(t, RecordingOrReplaying())

	t.Setenv(EnvMode, "record")
	assert.True(t, IsRecording())

	t.Setenv(EnvMode, "bogus")
	assert.Equal(t, ModeOff, ModeFromEnv())
	assert.False(t, RecordingOrReplaying())
}

func TestPathHashUsesLastFourSegments(t *testing.T) {
	a := PathHash("/home/alice/repo/tests/node_recordings/similarity/flow/storage_record.json")
	b := PathHash("/ci/work/node_recordings/similarity/flow/storage_record.json")
	c := PathHash("/ci/work/node_recordings/fluency/flow/storage_record.json")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 40)
}

func TestInputHashIsOrderIndependent(t *testing.T) {
	h1, err := InputHash(map[string]any{"question": "q", "answer": "a", "prompt": "p"})
	require.NoError(t, err)
	h2, err := InputHash(map[string]any{"prompt": "p", "answer": "a", "question": "q"})
	require.NoError(t, err)
	h3, err := InputHash(map[string]any{"prompt": "p", "answer": "b", "question": "q"})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestHashInputs(t *testing.T) {
	got := HashInputs(similarityPrompt, map[string]any{
		"question":        "q",
		"answer":          "a",
		"deployment_name": "gpt-4",
	})
	assert.Equal(t, map[string]any{
		"question": "q",
		"answer":   "a",
		"prompt":   similarityPrompt,
	}, got)
}

func TestStorageGetSet(t *testing.T) {
	file := recordFile(t)
	inputs := HashInputs(similarityPrompt, map[string]any{"question": "q", "answer": "a", "ground_truth": "g"})

	s := NewStorage()
	_, err := s.Get(file, inputs)
	var fileErr *RecordFileMissingError
	require.ErrorAs(t, err, &fileErr)
	assert.ErrorIs(t, err, ErrRecordFileMissing)

	require.NoError(t, s.Set(file, inputs, "5"))

	got, err := s.Get(file, inputs)
	require.NoError(t, err)
	assert.Equal(t, "5", got)

	other := HashInputs(similarityPrompt, map[string]any{"question": "other"})
	_, err = s.Get(file, other)
	var itemErr *RecordItemMissingError
	require.ErrorAs(t, err, &itemErr)
	assert.ErrorIs(t, err, ErrRecordItemMissing)
	assert.Equal(t, file, itemErr.File)

	// The file holds base64 values keyed by input hash.
	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	var onDisk map[string]string
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	hash, err := InputHash(inputs)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("5")), onDisk[hash])

	// A fresh storage loads the file lazily.
	fresh := NewStorage()
	got, err = fresh.Get(file, inputs)
	require.NoError(t, err)
	assert.Equal(t, "5", got)
}

func TestStorageSetSkipsUnchangedValue(t *testing.T) {
	file := recordFile(t)
	inputs := map[string]any{"prompt": "p"}
	s := NewStorage()
	require.NoError(t, s.Set(file, inputs, "same"))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(file, old, old))

	require.NoError(t, s.Set(file, inputs, "same"))
	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old), "unchanged value must not rewrite the file")

	require.NoError(t, s.Set(file, inputs, "changed"))
	info, err = os.Stat(file)
	require.NoError(t, err)
	assert.False(t, info.ModTime().Equal(old))
}

func TestStorageWriteFileWithoutEntries(t *testing.T) {
	file := recordFile(t)
	require.NoError(t, NewStorage().WriteFile(file))
	_, err := os.Stat(file)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestStorageLoadCorruptFile(t *testing.T) {
	file := recordFile(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o755))
	require.NoError(t, os.WriteFile(file, []byte("{not json"), 0o644))
	assert.Error(t, NewStorage().LoadFile(file))
}

func TestRecordNodeRunAndPlayer(t *testing.T) {
	file := recordFile(t)
	s := NewStorage()

	run := flow.NodeRunInfo{
		Node:   "query_llm",
		Output: "4",
		APICalls: []flow.APICall{
			{
				Name: "AzureOpenAI.chat",
				Inputs: map[string]any{
					"prompt":          similarityPrompt,
					"question":        "q",
					"answer":          "a",
					"ground_truth":    "g",
					"deployment_name": "gpt-4",
				},
			},
			{Name: "parse_score", Inputs: map[string]any{"text": "4"}},
		},
	}
	require.NoError(t, RecordNodeRun(s, run, file))

	p := NewPlayer(s)
	got, err := p.Completion(context.Background(), similarityPrompt,
		map[string]any{"question": "q", "answer": "a", "ground_truth": "g"}, file)
	require.NoError(t, err)
	assert.Equal(t, "4", got)

	out, err := p.Tool(file)(context.Background(), map[string]any{
		"prompt": similarityPrompt, "question": "q", "answer": "a", "ground_truth": "g",
	})
	require.NoError(t, err)
	assert.Equal(t, "4", out)
}

func TestRecordNodeRunEncodesNonStringOutput(t *testing.T) {
	file := recordFile(t)
	s := NewStorage()
	run := flow.NodeRunInfo{
		Node:     "query_llm",
		Output:   map[string]any{"score": 5},
		APICalls: []flow.APICall{{Name: "AzureOpenAI.chat", Inputs: map[string]any{"prompt": "p"}}},
	}
	require.NoError(t, RecordNodeRun(s, run, file))

	got, err := s.Get(file, map[string]any{"prompt": "p"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":5}`, got)
}

type countingHandler struct {
	calls int
}

func (c *countingHandler) Handle(context.Context, *transport.Request) (*transport.Response, error) {
	c.calls++
	return &transport.Response{Content: "3", FinishReason: domain.FinishStop}, nil
}

func TestMiddlewareRecordThenReplay(t *testing.T) {
	file := recordFile(t)
	s := NewStorage()
	req := &transport.Request{
		Deployment:     "gpt-4",
		PromptTemplate: similarityPrompt,
		TemplateInputs: map[string]any{"question": "q", "answer": "a", "ground_truth": "g"},
	}

	live := &countingHandler{}
	rec := transport.Chain(live, NewMiddleware(s, ModeRecord, file))
	resp, err := rec.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "3", resp.Content)
	assert.False(t, resp.Replayed)
	assert.Equal(t, 1, live.calls)

	replay := transport.Chain(live, NewMiddleware(NewStorage(), ModeReplay, file))
	resp, err = replay.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "3", resp.Content)
	assert.True(t, resp.Replayed)
	assert.Equal(t, 1, live.calls, "replay must not call the live handler")

	missing := *req
	missing.TemplateInputs = map[string]any{"question": "unseen"}
	_, err = replay.Handle(context.Background(), &missing)
	assert.ErrorIs(t, err, ErrRecordItemMissing)
	assert.Equal(t, 1, live.calls)
}

func TestMiddlewareOffIsSkipped(t *testing.T) {
	assert.Nil(t, NewMiddleware(NewStorage(), ModeOff, "unused"))

	live := &countingHandler{}
	h := transport.Chain(live, NewMiddleware(NewStorage(), ModeOff, "unused"))
	_, err := h.Handle(context.Background(), &transport.Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, live.calls)
}
