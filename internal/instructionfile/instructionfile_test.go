package instructionfile

import (
	"os"
	"path/filepath"
	"testing"

	dirigent "github.com/kestrelworks/dirigent"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "instruction.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoad_ValidWorkflow(t *testing.T) {
	path := writeTemp(t, `
name: demo
description: a two-step workflow
instruction:
  type: workflow
  steps:
    - type: direct
      id: first
      handler: echo
      params:
        message: hello
    - type: direct
      id: second
      handler: echo
      params:
        message: $first.message
`)
	instr, err := Load(path, "yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if instr.Type != dirigent.InstructionWorkflow {
		t.Errorf("expected workflow, got %s", instr.Type)
	}
	if len(instr.Steps) != 2 {
		t.Errorf("expected 2 steps, got %d", len(instr.Steps))
	}
	if instr.Steps[1].Params["message"] != "$first.message" {
		t.Errorf("reference should survive loading, got %v", instr.Steps[1].Params["message"])
	}
}

func TestLoad_DuplicateStepIDsRejected(t *testing.T) {
	path := writeTemp(t, `
instruction:
  type: workflow
  steps:
    - type: direct
      id: dup
      handler: echo
    - type: direct
      id: dup
      handler: echo
`)
	if _, err := Load(path, "yaml"); err == nil {
		t.Errorf("expected duplicate step ID error")
	}
}

func TestLoad_InvalidInstructionRejected(t *testing.T) {
	path := writeTemp(t, `
instruction:
  type: workflow
  steps: []
`)
	if _, err := Load(path, "yaml"); err == nil {
		t.Errorf("expected validation error for empty steps")
	}
}

func TestLoad_UnknownFormat(t *testing.T) {
	if _, err := Load("whatever.toml", "toml"); err == nil {
		t.Errorf("expected error for unregistered format")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeTemp(t, "instruction: [unclosed")
	if _, err := Load(path, "yaml"); err == nil {
		t.Errorf("expected parse error")
	}
}
