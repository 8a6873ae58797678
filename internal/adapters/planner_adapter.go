package adapters

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/firebase/genkit/go/core"

	dirigent "github.com/kestrelworks/dirigent"
)

// PlanDocument is the serializable output of the planner flow: the ordered
// instructions satisfying an intent.
type PlanDocument struct {
	Instructions []dirigent.Instruction `json:"instructions"`
	Rationale    string                 `json:"rationale,omitempty"`
}

// GenkitPlannerAdapter uses a Genkit Flow to implement the Planner interface.
type GenkitPlannerAdapter struct {
	plannerFlow *core.Flow[*dirigent.PlannerInput, *PlanDocument, struct{}]

	mu        sync.RWMutex
	planCache map[string]*PlanDocument
}

// NewGenkitPlannerAdapter creates a new adapter for the planner flow.
func NewGenkitPlannerAdapter(plannerFlow *core.Flow[*dirigent.PlannerInput, *PlanDocument, struct{}]) *GenkitPlannerAdapter {
	return &GenkitPlannerAdapter{
		plannerFlow: plannerFlow,
		planCache:   make(map[string]*PlanDocument),
	}
}

// Plan implements the dirigent.Planner interface. Identical intents against
// an unchanged catalog reuse the cached plan instead of re-running the flow.
func (a *GenkitPlannerAdapter) Plan(ctx context.Context, input dirigent.PlannerInput) ([]dirigent.Instruction, error) {
	cacheKey := a.cacheKey(input)

	a.mu.RLock()
	cached, found := a.planCache[cacheKey]
	a.mu.RUnlock()
	if found {
		log.Printf("Planner cache hit (intent: %q)", input.Intent)
		return cached.Instructions, nil
	}

	plan, err := a.plannerFlow.Run(ctx, &input)
	if err != nil {
		return nil, fmt.Errorf("planner flow execution failed: %w", err)
	}
	if plan == nil || len(plan.Instructions) == 0 {
		return nil, fmt.Errorf("planner flow returned an empty or nil plan")
	}

	a.mu.Lock()
	a.planCache[cacheKey] = plan
	a.mu.Unlock()

	return plan.Instructions, nil
}

// cacheKey creates a stable key from the intent and the catalog the plan
// was built against. A catalog change invalidates prior plans naturally.
func (a *GenkitPlannerAdapter) cacheKey(input dirigent.PlannerInput) string {
	cacheableInput := struct {
		Intent  string                            `json:"intent"`
		Catalog map[string]map[string]interface{} `json:"catalog"`
	}{
		Intent:  input.Intent,
		Catalog: input.Catalog,
	}

	inputBytes, err := json.Marshal(cacheableInput)
	if err != nil {
		log.Printf("Failed to marshal planner input for cache key: %v", err)
		// Fallback to a simpler key if marshalling fails
		return "planner:" + input.Intent
	}

	hasher := sha1.New()
	hasher.Write(inputBytes)
	return "planner:" + hex.EncodeToString(hasher.Sum(nil))
}
