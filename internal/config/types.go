package config

import "time"

// PipelineConfig is the top-level configuration structure parsed from pipeline YAML.
type PipelineConfig struct {
	Pipeline Pipeline `yaml:"pipeline"`

	// Path is the file the config was loaded from; relative roots resolve
	// against its directory.
	Path string `yaml:"-"`
}

// Step types.
const (
	StepCommand  = "command"
	StepEstimate = "estimate"
)

// Cutoff policies accepted in cutoff_policy.
const (
	PolicyBeforeDrop = "before_drop"
	PolicyDrop       = "drop"
)

// Pipeline defines the run: where data lives, how truncation is estimated,
// and the ordered steps.
type Pipeline struct {
	Name       string `yaml:"name"`
	InputRoot  string `yaml:"input_root"`
	OutputRoot string `yaml:"output_root"`
	// Ledger is the run history database; "" keeps it under output_root.
	Ledger string `yaml:"ledger"`

	ReportFormat   string  `yaml:"report_format"`
	Threshold      float64 `yaml:"threshold"`
	SkewThreshold  int     `yaml:"skew_threshold"`
	CutoffPolicy   string  `yaml:"cutoff_policy"`
	ForwardPattern string  `yaml:"forward_pattern"`
	ReversePattern string  `yaml:"reverse_pattern"`

	// Strict also reruns steps whose artifacts changed since they were produced.
	Strict bool `yaml:"strict"`

	Defaults StepDefaults      `yaml:"defaults"`
	Vars     map[string]string `yaml:"vars"`
	Steps    []Step            `yaml:"steps"`
}

// StepDefaults holds values applied to steps that don't specify their own.
type StepDefaults struct {
	Timeout string `yaml:"timeout"`
	Threads int    `yaml:"threads"`
}

// Step is one pipeline step. Command, Artifacts, Input and Workdir are
// templates.
type Step struct {
	ID        string   `yaml:"id"`
	Type      string   `yaml:"type"`
	Command   string   `yaml:"command"`
	Artifacts []string `yaml:"artifacts"`
	// Required defaults to true; a failed optional step does not stop the run.
	Required    *bool  `yaml:"required,omitempty"`
	NeedsParams bool   `yaml:"needs_params"`
	Timeout     string `yaml:"timeout"`
	Workdir     string `yaml:"workdir"`
	// Input is the report directory an estimate step reads; defaults to
	// input_root.
	Input string `yaml:"input"`
}

// IsRequired reports whether the step's failure aborts the run.
func (s Step) IsRequired() bool {
	return s.Required == nil || *s.Required
}

// TimeoutDuration parses the step timeout. Load guarantees it is set.
func (s Step) TimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(s.Timeout)
}
