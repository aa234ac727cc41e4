package quality

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Default read-direction markers. R1/R2 delimited by separators, or a bare
// _1/_2 directly before the file suffix.
const (
	DefaultForwardPattern = `(?i)(?:^|[._-])R1(?:[._-]|$)|_1(?:_fastqc|\.f(?:ast)?q|$)`
	DefaultReversePattern = `(?i)(?:^|[._-])R2(?:[._-]|$)|_2(?:_fastqc|\.f(?:ast)?q|$)`
)

// reportSuffixes are stripped before a name is matched, longest first.
var reportSuffixes = []string{
	"_fastqc.zip",
	"_fastqc",
	".fastq.gz",
	".fq.gz",
	".fastq",
	".fq",
}

// Namer derives sample identity and read direction from report names.
type Namer struct {
	forward *regexp.Regexp
	reverse *regexp.Regexp
}

// NewNamer compiles the direction patterns. Empty patterns use the defaults.
func NewNamer(forwardPattern, reversePattern string) (*Namer, error) {
	if forwardPattern == "" {
		forwardPattern = DefaultForwardPattern
	}
	if reversePattern == "" {
		reversePattern = DefaultReversePattern
	}
	fwd, err := regexp.Compile(forwardPattern)
	if err != nil {
		return nil, fmt.Errorf("compile forward pattern: %w", err)
	}
	rev, err := regexp.Compile(reversePattern)
	if err != nil {
		return nil, fmt.Errorf("compile reverse pattern: %w", err)
	}
	return &Namer{forward: fwd, reverse: rev}, nil
}

// DefaultNamer returns a Namer using the default patterns.
func DefaultNamer() *Namer {
	n, _ := NewNamer("", "")
	return n
}

// IdentityName returns the name that carries the sample identity for path.
// Extracted FastQC data files are named after their parent directory.
func IdentityName(path string) string {
	base := filepath.Base(path)
	if base == fastqcDataFile || base == fastqcDataFile+".gz" {
		base = filepath.Base(filepath.Dir(path))
	}
	return base
}

// Direction infers the read direction of name. A name matching both markers,
// or neither, is Unknown.
func (n *Namer) Direction(name string) Direction {
	f := n.forward.MatchString(name)
	r := n.reverse.MatchString(name)
	switch {
	case f && !r:
		return Forward
	case r && !f:
		return Reverse
	default:
		return Unknown
	}
}

// SampleID returns the part of name before the direction marker, or the
// name without report suffixes when no direction is recognised.
func (n *Namer) SampleID(name string) string {
	var loc []int
	switch n.Direction(name) {
	case Forward:
		loc = n.forward.FindStringIndex(name)
	case Reverse:
		loc = n.reverse.FindStringIndex(name)
	}
	stem := stripReportSuffix(name)
	if loc == nil || loc[0] == 0 {
		return stem
	}
	if id := strings.TrimRight(name[:loc[0]], "._-"); id != "" {
		return id
	}
	return stem
}

// Report builds a Report for path.
func (n *Namer) Report(path string) Report {
	name := IdentityName(path)
	return Report{
		Path:      path,
		Name:      name,
		SampleID:  n.SampleID(name),
		Direction: n.Direction(name),
	}
}

func stripReportSuffix(name string) string {
	lower := strings.ToLower(name)
	for _, s := range reportSuffixes {
		if strings.HasSuffix(lower, s) {
			return name[:len(name)-len(s)]
		}
	}
	return name
}
