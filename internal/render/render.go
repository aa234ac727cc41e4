// Package render expands the command and artifact templates of pipeline steps.
package render

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	varRe     = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe  = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	ifCloseRe = "{{/if}}"
)

// Vars maps template variable names to their values.
type Vars map[string]string

// Merge returns a copy of v overlaid with other.
func (v Vars) Merge(other Vars) Vars {
	out := make(Vars, len(v)+len(other))
	for k, val := range v {
		out[k] = val
	}
	for k, val := range other {
		out[k] = val
	}
	return out
}

// Render expands {{name}} references and {{#if name}}...{{/if}} blocks.
// A block is kept only when its variable is set, non-empty and not "0", so a
// zero truncation length reads as false. Every referenced variable left after
// the blocks are resolved must be present in vars.
func Render(tmpl string, vars Vars) (string, error) {
	body, err := resolveBlocks(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	out := varRe.ReplaceAllStringFunc(body, func(match string) string {
		name := varRe.FindStringSubmatch(match)[1]
		if val, ok := vars[name]; ok {
			return val
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// References lists the distinct variable names tmpl mentions, sorted.
func References(tmpl string) []string {
	seen := make(map[string]bool)
	for _, m := range varRe.FindAllStringSubmatch(tmpl, -1) {
		seen[m[1]] = true
	}
	for _, m := range ifOpenRe.FindAllStringSubmatch(tmpl, -1) {
		seen[m[1]] = true
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// resolveBlocks evaluates conditional blocks innermost first: for each
// {{/if}} the nearest preceding {{#if}} is its opener.
func resolveBlocks(tmpl string, vars Vars) (string, error) {
	out := tmpl
	for {
		closeIdx := strings.Index(out, ifCloseRe)
		if closeIdx == -1 {
			break
		}
		opens := ifOpenRe.FindAllStringSubmatchIndex(out[:closeIdx], -1)
		if opens == nil {
			return "", fmt.Errorf("{{/if}} without matching {{#if}}")
		}
		open := opens[len(opens)-1]
		name := out[open[2]:open[3]]

		var kept string
		if truthy(vars[name]) {
			kept = out[open[1]:closeIdx]
		}
		out = out[:open[0]] + kept + out[closeIdx+len(ifCloseRe):]
	}

	if loc := ifOpenRe.FindString(out); loc != "" {
		return "", fmt.Errorf("unclosed conditional block: %s", loc)
	}
	return out, nil
}

func truthy(v string) bool {
	return v != "" && v != "0" && v != "false"
}
