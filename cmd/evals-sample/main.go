// Command evals-sample runs every built-in evaluator once against sample
// question/answer pairs and prints the results.
//
// Quality evaluators need AZURE_OPENAI_ENDPOINT and AZURE_OPENAI_KEY. Safety
// evaluators need a project scope and an Azure identity that
// DefaultAzureCredential can find.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/ahrav/go-flowevals/internal/llm"
	"github.com/ahrav/go-flowevals/internal/llm/configuration"
	"github.com/ahrav/go-flowevals/internal/worker"
	"github.com/ahrav/go-flowevals/pkg/evaluators"
)

const (
	envSubscriptionID = "AZURE_SUBSCRIPTION_ID"
	envResourceGroup  = "AZURE_RESOURCE_GROUP"
	envProjectName    = "AZURE_AI_PROJECT"
)

type sample struct {
	name    string
	factory func() (evaluators.Func, error)
	input   evaluators.Input
}

func main() {
	var (
		cfgPath    = flag.String("config", "", "optional YAML pipeline config")
		deployment = flag.String("deployment", "gpt-4", "Azure OpenAI deployment name")
		sub        = flag.String("subscription", os.Getenv(envSubscriptionID), "Azure subscription id for safety evaluators")
		rg         = flag.String("resource-group", os.Getenv(envResourceGroup), "resource group of the Azure AI project")
		project    = flag.String("project", os.Getenv(envProjectName), "Azure AI project name")
		only       = flag.String("only", "", "run one group: quality, safety or qa")
	)
	flag.Parse()

	cfg := configuration.DefaultConfig()
	if *cfgPath != "" {
		loaded, err := configuration.LoadFile(*cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	modelConfig := worker.ModelConnection(cfg.Providers[configuration.ProviderAzureOpenAI])
	scope := evaluators.ProjectScope{SubscriptionID: *sub, ResourceGroupName: *rg, ProjectName: *project}
	scopeErr := scope.Validate()
	runSafety := *only == "" || *only == "safety"

	var cred azcore.TokenCredential
	if modelConfig.UseEntraID || (runSafety && scopeErr == nil) {
		c, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			logger.Error("azure credential", "error", err)
			os.Exit(1)
		}
		cred = c
	}
	pipeline, err := worker.InitializePipeline(ctx, cfg, cred, llm.WithLogger(logger))
	if err != nil {
		logger.Error("llm pipeline", "error", err)
		os.Exit(1)
	}
	opts := []evaluators.Option{evaluators.WithHandler(pipeline), evaluators.WithLogger(logger)}

	var groups [][]sample
	if *only == "" || *only == "quality" {
		groups = append(groups, qualitySamples(modelConfig, *deployment, opts))
	}
	if runSafety {
		if scopeErr != nil {
			logger.Warn("skipping safety evaluators", "error", scopeErr)
		} else {
			groups = append(groups, safetySamples(scope, cred, opts))
		}
	}
	if *only == "" || *only == "qa" {
		groups = append(groups, qaSamples(modelConfig, *deployment, opts))
	}

	failed := false
	for _, group := range groups {
		for _, s := range group {
			if err := run(ctx, s); err != nil {
				logger.Error("evaluator failed", "evaluator", s.name, "error", err)
				failed = true
			}
		}
	}
	if failed {
		os.Exit(1)
	}
}

func run(ctx context.Context, s sample) error {
	eval, err := s.factory()
	if err != nil {
		return err
	}
	res, err := eval(ctx, s.input)
	if err != nil {
		return err
	}
	out, err := json.Marshal(res)
	if err != nil {
		// NaN scores are not valid JSON.
		fmt.Printf("%s: %v\n", s.name, res)
		return nil
	}
	fmt.Printf("%s: %s\n", s.name, out)
	return nil
}

func qualitySamples(mc evaluators.ModelConfig, deployment string, opts []evaluators.Option) []sample {
	return []sample{
		{
			name:    "groundedness",
			factory: func() (evaluators.Func, error) { return evaluators.NewGroundedness(mc, deployment, opts...) },
			input: evaluators.Input{
				Answer:  "The Alpine Explorer Tent is the most waterproof.",
				Context: "From the our product list, the alpine explorer tent is the most waterproof. The Adventure Dining Table has higher weight.",
			},
		},
		{
			name:    "relevance",
			factory: func() (evaluators.Func, error) { return evaluators.NewRelevance(mc, deployment, opts...) },
			input: evaluators.Input{
				Question: "What is the capital of Japan?",
				Answer:   "The capital of Japan is Tokyo.",
				Context:  "Tokyo is Japan's capital, known for its blend of traditional culture and technological advancements.",
			},
		},
		{
			name:    "coherence",
			factory: func() (evaluators.Func, error) { return evaluators.NewCoherence(mc, deployment, opts...) },
			input:   evaluators.Input{Question: "What is the capital of Japan?", Answer: "The capital of Japan is Tokyo."},
		},
		{
			name:    "fluency",
			factory: func() (evaluators.Func, error) { return evaluators.NewFluency(mc, deployment, opts...) },
			input:   evaluators.Input{Question: "What is the capital of Japan?", Answer: "The capital of Japan is Tokyo."},
		},
		{
			name:    "similarity",
			factory: func() (evaluators.Func, error) { return evaluators.NewSimilarity(mc, deployment, opts...) },
			input: evaluators.Input{
				Question:    "What is the capital of Japan?",
				Answer:      "The capital of Japan is Tokyo.",
				GroundTruth: "Tokyo is Japan's capital.",
			},
		},
		{
			name:    "f1_score",
			factory: func() (evaluators.Func, error) { return evaluators.NewF1Score(opts...) },
			input: evaluators.Input{
				Answer:      "The capital of Japan is Tokyo.",
				GroundTruth: "Tokyo is Japan's capital, known for its blend of traditional culture and technological advancements.",
			},
		},
	}
}

func safetySamples(scope evaluators.ProjectScope, cred azcore.TokenCredential, opts []evaluators.Option) []sample {
	http := evaluators.Input{Question: "What does HTTP stand for?", Answer: "HTTP stands for Hypertext Transfer Protocol."}
	return []sample{
		{
			name:    "violence",
			factory: func() (evaluators.Func, error) { return evaluators.NewViolence(scope, cred, opts...) },
			input:   evaluators.Input{Question: "What is the capital of France?", Answer: "Paris."},
		},
		{
			name:    "sexual",
			factory: func() (evaluators.Func, error) { return evaluators.NewSexual(scope, cred, opts...) },
			input:   http,
		},
		{
			name:    "self_harm",
			factory: func() (evaluators.Func, error) { return evaluators.NewSelfHarm(scope, cred, opts...) },
			input:   http,
		},
		{
			name:    "hate_unfairness",
			factory: func() (evaluators.Func, error) { return evaluators.NewHateUnfairness(scope, cred, opts...) },
			input:   http,
		},
	}
}

func qaSamples(mc evaluators.ModelConfig, deployment string, opts []evaluators.Option) []sample {
	return []sample{{
		name:    "qa",
		factory: func() (evaluators.Func, error) { return evaluators.NewQA(mc, deployment, opts...) },
		input: evaluators.Input{
			Question:    "Tokyo is the capital of which country?",
			Answer:      "Japan",
			Context:     "Tokyo is the capital of Japan.",
			GroundTruth: "Japan",
		},
	}}
}
