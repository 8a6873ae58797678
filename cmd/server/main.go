// main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	dirigent "github.com/kestrelworks/dirigent"
	"github.com/kestrelworks/dirigent/internal/adapters"
	"github.com/kestrelworks/dirigent/internal/eventbus"
	"github.com/kestrelworks/dirigent/internal/feedback"
	"github.com/kestrelworks/dirigent/internal/handlers"
	"github.com/kestrelworks/dirigent/internal/instructionfile"
	"github.com/kestrelworks/dirigent/internal/intent"
	"github.com/kestrelworks/dirigent/internal/prompt"
	"github.com/kestrelworks/dirigent/internal/registry"
	"github.com/kestrelworks/dirigent/internal/statestore"
	"github.com/kestrelworks/dirigent/internal/synthesis"
	"github.com/kestrelworks/dirigent/internal/workflow"
)

func main() {
	ctx := context.Background()

	// Ensure GEMINI_API_KEY environment variable is set
	if os.Getenv("GEMINI_API_KEY") == "" {
		log.Fatal("GEMINI_API_KEY environment variable not set.")
	}

	g, err := genkit.Init(ctx,
		genkit.WithPlugins(&googlegenai.GoogleAI{}),
		genkit.WithDefaultModel("googleai/gemini-1.5-flash"),
	)
	if err != nil {
		log.Fatal("Genkit initialization failed:", err)
	}

	config := dirigent.DefaultConfig()

	// One bus is shared by the orchestrator and the service registry so a
	// single subscription observes the whole system.
	bus := eventbus.NewChannelBus(
		eventbus.WithBufferSize(config.EventBusBufferSize),
		eventbus.WithWorkerCount(config.EventBusWorkerCount),
	)

	// --- Registries ---
	// The feedback loop scores providers, so the service registry consults it
	// when selecting among services advertising the same capability.
	loop := feedback.NewLoop()
	serviceRegistry := registry.NewServiceRegistry(nil,
		registry.WithEventBus(bus),
		registry.WithProbeInterval(config.ProbeInterval),
		registry.WithScorer(loop),
	)
	handlerRegistry := registry.NewHandlerRegistry(registry.WithServiceRegistry(serviceRegistry))
	if err := handlers.RegisterBuiltins(handlerRegistry); err != nil {
		log.Fatal("Failed to register builtin handlers:", err)
	}

	// --- Planner Flow ---
	plannerFlow := genkit.DefineFlow(g, "plannerFlow",
		func(ctx context.Context, input *dirigent.PlannerInput) (*adapters.PlanDocument, error) {
			catalogJSON, _ := json.MarshalIndent(input.Catalog, "", "  ")
			promptText := fmt.Sprintf(
				`Produce a plan of instructions satisfying this intent: %q

Available capabilities:
%s

Output the plan as a JSON object:
{
  "instructions": [
    {"type": "direct", "id": "step1", "handler": "<capability name>", "params": {...}}
  ],
  "rationale": "why these steps"
}

Steps may reference earlier outputs with "$stepID.field". Only use listed
capability names.

Intent: %q
JSON plan:`,
				input.Intent, catalogJSON, input.Intent)

			resp, err := genkit.Generate(ctx, g, ai.WithPrompt(promptText))
			if err != nil {
				return nil, fmt.Errorf("planner generation failed: %w", err)
			}

			var plan adapters.PlanDocument
			if err := json.Unmarshal([]byte(resp.Text()), &plan); err != nil {
				return nil, fmt.Errorf("failed to parse plan from model output: %w", err)
			}
			return &plan, nil
		},
	)

	// --- Collaborator adapters ---
	plannerAdapter := adapters.NewGenkitPlannerAdapter(plannerFlow)
	resolver := intent.NewResolver(plannerAdapter, handlerRegistry)

	promptRegistry, err := prompt.NewRegistry(g)
	if err != nil {
		log.Fatal("Prompt registry initialization failed:", err)
	}
	generator := adapters.NewPromptGeneratorAdapter(promptRegistry)
	gateway := synthesis.NewGateway(generator, handlerRegistry)

	// --- Orchestrator ---
	engine := workflow.NewEngine(workflow.WithMaxWorkers(config.MaxConcurrentSteps))
	store := statestore.NewRingStore(config.MaxHistory)

	orchestrator, err := dirigent.New(ctx,
		dirigent.WithConfig(config),
		dirigent.WithHandlerRegistry(handlerRegistry),
		dirigent.WithWorkflowEngine(engine),
		dirigent.WithIntentResolver(resolver),
		dirigent.WithSynthesisGateway(gateway),
		dirigent.WithStateStore(store),
		dirigent.WithFeedbackLoop(loop),
		dirigent.WithEventBus(bus),
	)
	if err != nil {
		log.Fatal("Orchestrator initialization failed:", err)
	}
	defer orchestrator.Close()

	serviceRegistry.StartProbing(ctx)
	defer serviceRegistry.StopProbing()

	// An instruction file argument is executed immediately; otherwise a
	// short demo workflow verifies the wiring.
	if len(os.Args) > 1 {
		instr, err := instructionfile.Load(os.Args[1], "yaml")
		if err != nil {
			log.Fatal("Failed to load instruction file:", err)
		}
		result := orchestrator.Submit(ctx, instr)
		printResult(result)
		return
	}

	result := orchestrator.Submit(ctx, &dirigent.Instruction{
		Type: dirigent.InstructionWorkflow,
		Steps: []dirigent.Instruction{
			{Type: dirigent.InstructionDirect, ID: "calc", Handler: "calculate",
				Params: map[string]interface{}{"expression": "6 * 7"}},
			{Type: dirigent.InstructionDirect, ID: "announce", Handler: "echo",
				Params: map[string]interface{}{"message": "$calc.result"}},
		},
	})
	printResult(result)

	log.Println("Orchestrator running. Submit intents via genkit flows.")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

func printResult(result *dirigent.ExecutionResult) {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Printf("Execution finished (status: %s)", result.Status)
		return
	}
	log.Printf("Execution finished:\n%s", out)
}
