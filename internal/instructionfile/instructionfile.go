// Package instructionfile loads instructions from files so workflows can be
// authored declaratively and submitted to the orchestrator.
package instructionfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	dirigent "github.com/kestrelworks/dirigent"
)

// File is the on-disk shape of an instruction document.
type File struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Instruction dirigent.Instruction `yaml:"instruction"`
}

// Loader defines an interface for loading an instruction File from a source.
type Loader interface {
	Load(source string) (*File, error)
	Format() string // e.g. "yaml", "json"
}

// loaderRegistry holds registered Loaders by format name.
var loaderRegistry = make(map[string]Loader)

// RegisterLoader registers a new Loader for a given format.
func RegisterLoader(loader Loader) {
	loaderRegistry[loader.Format()] = loader
}

// GetLoader retrieves a loader by format name (e.g. "yaml").
func GetLoader(format string) (Loader, bool) {
	loader, ok := loaderRegistry[format]
	return loader, ok
}

// YAMLLoader implements Loader for YAML files.
type YAMLLoader struct{}

func (YAMLLoader) Load(path string) (*File, error) {
	return loadYAML(path)
}

func (YAMLLoader) Format() string { return "yaml" }

func init() {
	RegisterLoader(YAMLLoader{})
}

func loadYAML(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open instruction file: %w", err)
	}
	defer f.Close()
	var doc File
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse instruction YAML: %w", err)
	}
	return &doc, nil
}

// Validate applies structural checks beyond what the dispatcher's validator
// covers: step IDs must be unique within a workflow so parameter references
// are unambiguous, and any expression parameters must parse.
func (f *File) Validate() error {
	v := dirigent.NewValidator()
	if err := v.Validate(&f.Instruction); err != nil {
		return err
	}
	return checkStepIDs(&f.Instruction)
}

func checkStepIDs(instr *dirigent.Instruction) error {
	if instr.Type != dirigent.InstructionWorkflow {
		return nil
	}
	idSet := make(map[string]struct{}, len(instr.Steps))
	for i := range instr.Steps {
		step := &instr.Steps[i]
		if step.ID != "" {
			if _, exists := idSet[step.ID]; exists {
				return fmt.Errorf("duplicate step ID found: %s", step.ID)
			}
			idSet[step.ID] = struct{}{}
		}
		if err := checkStepIDs(step); err != nil {
			return err
		}
	}
	return nil
}

// Load loads an instruction file using the loader registered for format,
// validates it, and returns the instruction ready to submit.
func Load(path, format string) (*dirigent.Instruction, error) {
	loader, ok := GetLoader(format)
	if !ok {
		return nil, fmt.Errorf("no %s instruction loader registered", format)
	}

	doc, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc.Instruction, nil
}
