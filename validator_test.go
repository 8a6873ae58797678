package dirigent

import (
	"encoding/json"
	"testing"
)

func TestValidator_Validate(t *testing.T) {
	v := NewValidator()

	truth := true
	cases := []struct {
		name    string
		instr   *Instruction
		wantErr bool
	}{
		{
			name:  "valid direct",
			instr: &Instruction{Type: InstructionDirect, Handler: "echo"},
		},
		{
			name:    "direct missing handler",
			instr:   &Instruction{Type: InstructionDirect},
			wantErr: true,
		},
		{
			name: "direct with foreign steps",
			instr: &Instruction{Type: InstructionDirect, Handler: "echo",
				Steps: []Instruction{{Type: InstructionDirect, Handler: "x"}}},
			wantErr: true,
		},
		{
			name: "valid workflow",
			instr: &Instruction{Type: InstructionWorkflow, Steps: []Instruction{
				{Type: InstructionDirect, Handler: "echo"},
			}},
		},
		{
			name:    "workflow with empty steps",
			instr:   &Instruction{Type: InstructionWorkflow},
			wantErr: true,
		},
		{
			name: "workflow with invalid nested step",
			instr: &Instruction{Type: InstructionWorkflow, Steps: []Instruction{
				{Type: InstructionDirect}, // missing handler
			}},
			wantErr: true,
		},
		{
			name: "workflow with foreign intent",
			instr: &Instruction{Type: InstructionWorkflow, Intent: "goal",
				Steps: []Instruction{{Type: InstructionDirect, Handler: "echo"}}},
			wantErr: true,
		},
		{
			name:  "valid intent",
			instr: &Instruction{Type: InstructionIntent, Intent: "summarize the report"},
		},
		{
			name:    "intent missing intent string",
			instr:   &Instruction{Type: InstructionIntent},
			wantErr: true,
		},
		{
			name:    "intent with foreign handler",
			instr:   &Instruction{Type: InstructionIntent, Intent: "goal", Handler: "echo"},
			wantErr: true,
		},
		{
			name:  "valid tool request",
			instr: &Instruction{Type: InstructionToolRequest, Description: "make a summarizer", Name: "summarize", Integrate: true},
		},
		{
			name:    "tool request missing description",
			instr:   &Instruction{Type: InstructionToolRequest, Name: "x"},
			wantErr: true,
		},
		{
			name:    "tool request with foreign intent",
			instr:   &Instruction{Type: InstructionToolRequest, Description: "d", Intent: "goal"},
			wantErr: true,
		},
		{
			name:    "missing type",
			instr:   &Instruction{Handler: "echo"},
			wantErr: true,
		},
		{
			name:    "unknown type",
			instr:   &Instruction{Type: "bogus"},
			wantErr: true,
		},
		{
			name:    "nil instruction",
			instr:   nil,
			wantErr: true,
		},
		{
			name: "workflow flags allowed",
			instr: &Instruction{Type: InstructionWorkflow, Parallel: true, FailFast: &truth,
				OptimizeWorkflow: true,
				Steps:            []Instruction{{Type: InstructionDirect, Handler: "echo"}}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(tc.instr)
			if tc.wantErr && err == nil {
				t.Errorf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tc.wantErr && err != nil && !IsCode(err, ErrCodeValidation) {
				t.Errorf("expected validation code, got %v", err)
			}
		})
	}
}

// Instructions travel as JSON (instruction files, genkit flow inputs), so a
// decoded instruction must carry the same validation verdict as the value it
// was encoded from.
func TestValidator_JSONRoundTrip(t *testing.T) {
	v := NewValidator()
	off := false

	cases := []struct {
		name    string
		instr   *Instruction
		wantErr bool
	}{
		{
			name: "workflow with flags and params",
			instr: &Instruction{Type: InstructionWorkflow, Parallel: true, FailFast: &off,
				Steps: []Instruction{
					{Type: InstructionDirect, ID: "calc", Handler: "calculate",
						Params: map[string]interface{}{"expression": "6 * 7"}},
					{Type: InstructionDirect, ID: "announce", Handler: "echo",
						Params: map[string]interface{}{"message": "$calc.result"}},
				}},
		},
		{
			name:  "intent with context",
			instr: &Instruction{Type: InstructionIntent, Intent: "summarize", Context: map[string]interface{}{"lang": "en"}},
		},
		{
			name:  "tool request",
			instr: &Instruction{Type: InstructionToolRequest, Description: "make a summarizer", Name: "summarize", Integrate: true},
		},
		{
			name:    "direct missing handler",
			instr:   &Instruction{Type: InstructionDirect, Params: map[string]interface{}{"k": "v"}},
			wantErr: true,
		},
		{
			name: "workflow with invalid nested step",
			instr: &Instruction{Type: InstructionWorkflow, Steps: []Instruction{
				{Type: InstructionDirect},
			}},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := json.Marshal(tc.instr)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			var decoded Instruction
			if err := json.Unmarshal(encoded, &decoded); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}

			err = v.Validate(&decoded)
			if tc.wantErr && err == nil {
				t.Errorf("expected validation error after round trip")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("round trip broke a valid instruction: %v", err)
			}
		})
	}

	// Round-tripping must not flip optional flags: an explicit fail_fast
	// false survives encoding.
	encoded, _ := json.Marshal(&Instruction{Type: InstructionWorkflow, FailFast: &off,
		Steps: []Instruction{{Type: InstructionDirect, Handler: "echo"}}})
	var decoded Instruction
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.FailFastEnabled() {
		t.Errorf("explicit fail_fast=false lost in round trip")
	}
}

func TestFailFastEnabled(t *testing.T) {
	wf := &Instruction{Type: InstructionWorkflow}
	if !wf.FailFastEnabled() {
		t.Errorf("fail-fast must default to true")
	}

	off := false
	wf.FailFast = &off
	if wf.FailFastEnabled() {
		t.Errorf("explicit false must disable fail-fast")
	}
}
