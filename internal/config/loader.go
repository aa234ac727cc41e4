package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/ampliflow/internal/quality"
	"github.com/lucasnoah/ampliflow/internal/truncation"
)

// Defaults applied by Load.
const (
	DefaultTimeout = "2h"
	DefaultThreads = 1
)

// Load reads and parses a pipeline configuration from the given YAML file path.
// After parsing it applies defaults and resolves relative roots against the
// file's directory.
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	resolveRoots(cfg, filepath.Dir(path))
	return cfg, nil
}

// Parse decodes YAML without touching the filesystem.
func Parse(data []byte) (*PipelineConfig, error) {
	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// SearchPaths lists where LoadDefault looks, in order.
func SearchPaths() []string {
	candidates := []string{"pipeline.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".ampliflow", "config.yaml"))
	}
	return candidates
}

// LoadDefault searches for a pipeline config in standard locations and loads the
// first one found. Search order: ./pipeline.yaml, ~/.ampliflow/config.yaml
func LoadDefault() (*PipelineConfig, error) {
	candidates := SearchPaths()
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return nil, fmt.Errorf("no pipeline config found (searched: %v)", candidates)
}

// applyDefaults fills pipeline-level settings and merges step defaults into
// steps that don't set their own values.
func applyDefaults(cfg *PipelineConfig) {
	p := &cfg.Pipeline

	if p.ReportFormat == "" {
		p.ReportFormat = quality.FormatFastQC
	}
	if p.Threshold == 0 {
		p.Threshold = truncation.DefaultThreshold
	}
	if p.SkewThreshold == 0 {
		p.SkewThreshold = truncation.DefaultSkewThreshold
	}
	if p.CutoffPolicy == "" {
		p.CutoffPolicy = PolicyBeforeDrop
	}
	if p.Defaults.Timeout == "" {
		p.Defaults.Timeout = DefaultTimeout
	}
	if p.Defaults.Threads == 0 {
		p.Defaults.Threads = DefaultThreads
	}

	for i := range p.Steps {
		s := &p.Steps[i]
		if s.Type == "" {
			s.Type = StepCommand
		}
		if s.Timeout == "" {
			s.Timeout = p.Defaults.Timeout
		}
		if s.Type == StepEstimate {
			if s.Input == "" {
				s.Input = "{{input_root}}"
			}
			if len(s.Artifacts) == 0 {
				s.Artifacts = []string{
					"{{output_root}}/" + truncation.ParamsFile,
					"{{output_root}}/" + truncation.HistogramFile,
				}
			}
		}
	}
}

func resolveRoots(cfg *PipelineConfig, base string) {
	p := &cfg.Pipeline
	for _, root := range []*string{&p.InputRoot, &p.OutputRoot, &p.Ledger} {
		if *root != "" && !filepath.IsAbs(*root) {
			*root = filepath.Join(base, *root)
		}
	}
}
