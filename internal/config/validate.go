package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lucasnoah/ampliflow/internal/quality"
	"github.com/lucasnoah/ampliflow/internal/render"
	"github.com/lucasnoah/ampliflow/internal/truncation"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Template variables every step may reference.
var builtinVars = map[string]bool{
	"input_root":  true,
	"output_root": true,
	"threads":     true,
	"threshold":   true,
	"step_id":     true,
}

// Template variables only NeedsParams steps may reference.
var paramVars = map[string]bool{
	truncation.KeyForwardTruncLen: true,
	truncation.KeyReverseTruncLen: true,
}

var stepIDRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Validate checks a PipelineConfig for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *PipelineConfig) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
	p := cfg.Pipeline

	if p.Name == "" {
		add("pipeline.name", "is required")
	}
	if p.InputRoot == "" {
		add("pipeline.input_root", "is required")
	}
	if p.OutputRoot == "" {
		add("pipeline.output_root", "is required")
	}
	if _, err := quality.NewParser(p.ReportFormat); err != nil {
		add("pipeline.report_format", "unrecognized format %q", p.ReportFormat)
	}
	if p.Threshold <= 0 {
		add("pipeline.threshold", "must be positive")
	}
	if p.SkewThreshold < 0 {
		add("pipeline.skew_threshold", "must not be negative")
	}
	if _, err := truncation.ParsePolicy(p.CutoffPolicy); err != nil {
		add("pipeline.cutoff_policy", "must be %s or %s", PolicyBeforeDrop, PolicyDrop)
	}
	if _, err := quality.NewNamer(p.ForwardPattern, p.ReversePattern); err != nil {
		add("pipeline.forward_pattern", "%v", err)
	}
	if _, err := time.ParseDuration(p.Defaults.Timeout); err != nil {
		add("pipeline.defaults.timeout", "invalid duration %q", p.Defaults.Timeout)
	}
	if p.Defaults.Threads < 1 {
		add("pipeline.defaults.threads", "must be at least 1")
	}
	for name := range p.Vars {
		if builtinVars[name] || paramVars[name] {
			add("pipeline.vars."+name, "shadows a built-in variable")
		}
	}
	if len(p.Steps) == 0 {
		add("pipeline.steps", "at least one step is required")
	}

	stepIDs := make(map[string]bool)
	estimateSeen := false
	for i, s := range p.Steps {
		prefix := fmt.Sprintf("pipeline.steps[%d]", i)

		switch {
		case s.ID == "":
			add(prefix+".id", "is required")
		case !stepIDRe.MatchString(s.ID):
			add(prefix+".id", "%q must be letters, digits, '-' or '_'", s.ID)
		case stepIDs[s.ID]:
			add(prefix+".id", "duplicate step ID %q", s.ID)
		}
		stepIDs[s.ID] = true

		switch s.Type {
		case StepCommand:
			if s.Command == "" {
				add(prefix+".command", "is required for command steps")
			}
		case StepEstimate:
			if estimateSeen {
				add(prefix+".type", "only one estimate step is allowed")
			}
			estimateSeen = true
			if s.NeedsParams {
				add(prefix+".needs_params", "an estimate step produces the parameters")
			}
		default:
			add(prefix+".type", "unrecognized step type %q", s.Type)
		}

		if s.NeedsParams && !estimateSeen {
			add(prefix+".needs_params", "no estimate step runs before this step")
		}
		// A step without artifacts could never be skipped.
		if len(s.Artifacts) == 0 {
			add(prefix+".artifacts", "at least one artifact is required")
		}
		if _, err := s.TimeoutDuration(); err != nil {
			add(prefix+".timeout", "invalid duration %q", s.Timeout)
		}

		templates := []struct{ field, tmpl string }{
			{"command", s.Command}, {"workdir", s.Workdir}, {"input", s.Input},
		}
		for j, a := range s.Artifacts {
			templates = append(templates, struct{ field, tmpl string }{fmt.Sprintf("artifacts[%d]", j), a})
		}
		for _, t := range templates {
			field := t.field
			for _, name := range render.References(t.tmpl) {
				_, userVar := p.Vars[name]
				switch {
				case builtinVars[name], userVar:
				case paramVars[name]:
					if strings.HasPrefix(field, "artifacts") {
						add(prefix+"."+field, "artifact paths cannot depend on %s", name)
					} else if !s.NeedsParams {
						add(prefix+"."+field, "%s is only available to needs_params steps", name)
					}
				default:
					add(prefix+"."+field, "references undefined variable %q", name)
				}
			}
		}
	}

	return errs
}
