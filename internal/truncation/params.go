package truncation

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/lucasnoah/ampliflow/internal/pipeline"
)

// Keys of the parameter record.
const (
	KeyForwardTruncLen = "forwardTruncLen"
	KeyReverseTruncLen = "reverseTruncLen"
)

// WriteParams overwrites path with the KEY=VALUE parameter record.
func WriteParams(path string, p pipeline.Params) error {
	var b strings.Builder
	b.WriteString("# truncation lengths estimated by ampliflow; 0 means no usable data\n")
	fmt.Fprintf(&b, "%s=%d\n", KeyForwardTruncLen, p.ForwardTruncLen)
	fmt.Fprintf(&b, "%s=%d\n", KeyReverseTruncLen, p.ReverseTruncLen)
	return pipeline.WriteAtomic(path, []byte(b.String()))
}

// ReadParams parses a parameter record. Blank lines, "#" comments and an
// "export " prefix are tolerated; unknown keys are ignored and a missing key
// reads as 0.
func ReadParams(path string) (pipeline.Params, error) {
	f, err := os.Open(path)
	if err != nil {
		return pipeline.Params{}, err
	}
	defer f.Close()

	var p pipeline.Params
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		var dst *int
		switch key {
		case KeyForwardTruncLen:
			dst = &p.ForwardTruncLen
		case KeyReverseTruncLen:
			dst = &p.ReverseTruncLen
		default:
			continue
		}
		n, err := strconv.Atoi(strings.Trim(strings.TrimSpace(value), `"'`))
		if err != nil {
			return pipeline.Params{}, fmt.Errorf("%s line %d: %s: %w", path, lineNo, key, err)
		}
		*dst = n
	}
	if err := scanner.Err(); err != nil {
		return pipeline.Params{}, fmt.Errorf("read %s: %w", path, err)
	}
	return p, nil
}

// ParamFile loads the parameter record from a fixed path for the executor.
type ParamFile struct {
	Path string
}

func (f ParamFile) LoadParams() (pipeline.Params, error) {
	return ReadParams(f.Path)
}
