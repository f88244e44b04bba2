package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidDefinition = errors.New("config: invalid definition")
	ErrUnknownPipeline   = errors.New("config: unknown pipeline")
)

// Unit names understood by the command.
const (
	UnitAdder   = "adder"
	UnitPrinter = "printer"
	UnitSleeper = "sleeper"
	UnitIndexer = "indexer"
	UnitNop     = "nop"
	UnitNested  = "nested"
)

var knownUnits = map[string]bool{
	UnitAdder: true, UnitPrinter: true, UnitSleeper: true,
	UnitIndexer: true, UnitNop: true, UnitNested: true,
}

// PipelineDef describes a pipeline to build.
type PipelineDef struct {
	Name    string     `yaml:"name"`
	Buffers int        `yaml:"buffers,omitempty"` // overrides Config.Buffers when set
	Dynamic bool       `yaml:"dynamic,omitempty"`
	Stages  []StageDef `yaml:"stages"`
}

// StageDef describes one stage. Format and Args are handed to
// stages.ParseArgs.
type StageDef struct {
	Unit      string `yaml:"unit"`
	Instances int    `yaml:"instances,omitempty"` // default 1
	Format    string `yaml:"format,omitempty"`
	Args      []any  `yaml:"args,omitempty"`

	// Inner and InnerInstances configure the nested pipeline of a "nested" unit.
	Inner          string `yaml:"inner,omitempty"`
	InnerInstances int    `yaml:"inner_instances,omitempty"`
}

// Values returns Args converted to the Go types the format letters expect.
// YAML decodes every integer as int and every scalar text as string, so a
// non-negative int becomes uint64 for "u" and a one-character string becomes
// a rune for "c". Other values are returned unchanged.
func (s StageDef) Values() []any {
	letters := []rune(s.Format)
	out := make([]any, len(s.Args))
	for i, v := range s.Args {
		out[i] = v
		if i >= len(letters) {
			continue
		}
		switch letters[i] {
		case 'u':
			if n, ok := v.(int); ok && n >= 0 {
				out[i] = uint64(n)
			}
		case 'c':
			if str, ok := v.(string); ok {
				if r := []rune(str); len(r) == 1 {
					out[i] = r[0]
				}
			}
		}
	}
	return out
}

// LoadPipeline reads and validates a YAML pipeline definition.
func LoadPipeline(path string) (*PipelineDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline definition: %w", err)
	}
	return ParsePipeline(data)
}

// ParsePipeline decodes and validates a YAML pipeline definition.
func ParsePipeline(data []byte) (*PipelineDef, error) {
	var def PipelineDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the definition and fills in defaults.
func (d *PipelineDef) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if d.Buffers < 0 {
		return fmt.Errorf("%w: buffers must be >= 0, got %d", ErrInvalidDefinition, d.Buffers)
	}
	if len(d.Stages) == 0 {
		return fmt.Errorf("%w: pipeline %q has no stages", ErrInvalidDefinition, d.Name)
	}
	for i := range d.Stages {
		s := &d.Stages[i]
		if !knownUnits[s.Unit] {
			return fmt.Errorf("%w: stage %d: unknown unit %q", ErrInvalidDefinition, i, s.Unit)
		}
		if s.Instances < 0 {
			return fmt.Errorf("%w: stage %d: instances must be >= 0", ErrInvalidDefinition, i)
		}
		if s.Instances == 0 {
			s.Instances = 1
		}
		if len([]rune(s.Format)) != len(s.Args) {
			return fmt.Errorf("%w: stage %d: format %q does not match %d args", ErrInvalidDefinition, i, s.Format, len(s.Args))
		}
		if s.Unit == UnitNested {
			if s.Inner == "" || s.Inner == UnitNested || !knownUnits[s.Inner] {
				return fmt.Errorf("%w: stage %d: nested unit needs a plain inner unit, got %q", ErrInvalidDefinition, i, s.Inner)
			}
			if s.InnerInstances == 0 {
				s.InnerInstances = 1
			}
		}
	}
	return nil
}

var prebuilt = map[string]PipelineDef{
	"increment": {
		Name:   "increment",
		Stages: []StageDef{{Unit: UnitAdder}},
	},
	"roundtrip": {
		Name: "roundtrip",
		Stages: []StageDef{
			{Unit: UnitAdder},
			{Unit: UnitAdder, Format: "d", Args: []any{-1}},
			{Unit: UnitPrinter},
		},
	},
	"sleepers": {
		Name: "sleepers",
		Stages: []StageDef{
			{Unit: UnitSleeper, Instances: 4, Format: "s", Args: []any{"20ms"}},
			{Unit: UnitAdder},
			{Unit: UnitSleeper, Instances: 2, Format: "d", Args: []any{10}},
			{Unit: UnitPrinter},
		},
	},
	"nested": {
		Name: "nested",
		Stages: []StageDef{
			{Unit: UnitNested, Instances: 2, Inner: UnitAdder, InnerInstances: 1},
			{Unit: UnitAdder},
			{Unit: UnitPrinter},
		},
	},
}

// Prebuilt returns a copy of the named built-in pipeline.
func Prebuilt(name string) (*PipelineDef, error) {
	def, ok := prebuilt[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownPipeline, name, PrebuiltNames())
	}
	def.Stages = append([]StageDef(nil), def.Stages...)
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// PrebuiltNames lists the built-in pipelines in name order.
func PrebuiltNames() []string {
	names := make([]string, 0, len(prebuilt))
	for n := range prebuilt {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
