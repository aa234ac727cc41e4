package quality

import (
	"fmt"
	"sort"
)

// Parser turns one quality report into a Profile. It is the only place that
// knows a report format; swapping report schemas means adding a Parser.
type Parser interface {
	// Parse reads the report at rep.Path. Failures are returned as *ParseError.
	Parse(rep Report) (Profile, error)
	// Accepts reports whether a file name is a report this parser reads.
	Accepts(name string) bool
}

// Format names accepted by NewParser.
const (
	FormatFastQC = "fastqc"
	FormatFastq  = "fastq"
)

var parsers = map[string]func() Parser{
	FormatFastQC: func() Parser { return &FastQCParser{} },
	FormatFastq:  func() Parser { return &FastqProfiler{} },
}

// NewParser returns the parser registered for format.
func NewParser(format string) (Parser, error) {
	ctor, ok := parsers[format]
	if !ok {
		return nil, fmt.Errorf("unknown report format %q (known: %v)", format, Formats())
	}
	return ctor(), nil
}

// Formats lists the registered report formats.
func Formats() []string {
	names := make([]string, 0, len(parsers))
	for name := range parsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
