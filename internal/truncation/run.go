package truncation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lucasnoah/ampliflow/internal/pipeline"
	"github.com/lucasnoah/ampliflow/internal/quality"
)

// Files written by an estimation run, relative to the output directory.
const (
	ParamsFile    = "trunc_params.txt"
	HistogramFile = "trunc_histogram.txt"
	RecordsFile   = "trunc_records.tsv"
	StatsFile     = "trunc_stats.json"
)

// Options configures an estimation run.
type Options struct {
	InputRoot     string
	OutputRoot    string
	Threshold     float64
	SkewThreshold int
	Policy        Policy
}

// Result is everything an estimation run derives.
type Result struct {
	Records []Record        `json:"records"`
	Forward Stats           `json:"forward"`
	Reverse Stats           `json:"reverse"`
	Params  pipeline.Params `json:"params"`
	// Threshold, SkewThreshold and Policy echo the options used.
	Threshold     float64 `json:"threshold"`
	SkewThreshold int     `json:"skew_threshold"`
	Policy        string  `json:"policy"`
	// ParseFailures lists reports that could not be parsed.
	ParseFailures []string `json:"parse_failures,omitempty"`
	// UnknownDirection lists reports whose read direction was not recognised.
	UnknownDirection []string `json:"unknown_direction,omitempty"`
}

// Estimator turns a directory of quality reports into truncation parameters.
type Estimator struct {
	opts   Options
	parser quality.Parser
	namer  *quality.Namer
	logger *slog.Logger
}

// NewEstimator creates an Estimator. A nil namer uses the default direction
// patterns.
func NewEstimator(opts Options, parser quality.Parser, namer *quality.Namer, logger *slog.Logger) *Estimator {
	if namer == nil {
		namer = quality.DefaultNamer()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Estimator{
		opts:   opts,
		parser: parser,
		namer:  namer,
		logger: logger.With("component", "estimator"),
	}
}

// Run discovers the reports under InputRoot, estimates every cutoff,
// aggregates per direction and persists the results under OutputRoot.
func (e *Estimator) Run(ctx context.Context) (*Result, error) {
	reports, err := quality.Discover(e.opts.InputRoot, e.parser, e.namer)
	if err != nil {
		return nil, err
	}
	e.logger.Info("quality reports discovered", "root", e.opts.InputRoot, "reports", len(reports))

	res, err := e.Estimate(ctx, reports)
	if err != nil {
		return nil, err
	}
	if err := Persist(e.opts.OutputRoot, res); err != nil {
		return nil, err
	}
	e.logger.Info("truncation parameters written",
		"forwardTruncLen", res.Params.ForwardTruncLen,
		"reverseTruncLen", res.Params.ReverseTruncLen,
		"path", filepath.Join(e.opts.OutputRoot, ParamsFile))
	return res, nil
}

// Estimate parses each report and aggregates the cutoffs. A report that fails
// to parse is logged and skipped; it never aborts the run.
func (e *Estimator) Estimate(ctx context.Context, reports []quality.Report) (*Result, error) {
	res := &Result{
		Threshold:     e.opts.Threshold,
		SkewThreshold: e.opts.SkewThreshold,
		Policy:        e.opts.Policy.String(),
	}
	directions := make(map[string][]quality.Direction)

	for _, rep := range reports {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log := e.logger.With("report", rep.Path, "sample", rep.SampleID)
		if rep.Direction == quality.Unknown {
			log.Warn("read direction not recognised, report excluded")
			res.UnknownDirection = append(res.UnknownDirection, rep.Path)
			continue
		}

		prof, err := e.parser.Parse(rep)
		if err != nil {
			var perr *quality.ParseError
			if !errors.As(err, &perr) {
				return nil, err
			}
			log.Warn("quality report skipped", "error", err)
			res.ParseFailures = append(res.ParseFailures, rep.Path)
			continue
		}

		cut := EstimateCutoff(prof, e.opts.Threshold, e.opts.Policy)
		log.Debug("cutoff estimated", "direction", rep.Direction, "cutoff", cut, "positions", prof.MaxPosition())
		res.Records = append(res.Records, Record{
			SampleID:  rep.SampleID,
			Direction: rep.Direction,
			Cutoff:    cut,
			Source:    rep.Path,
		})
		directions[rep.SampleID] = append(directions[rep.SampleID], rep.Direction)
	}

	for sample, dirs := range directions {
		if len(dirs) != 2 || dirs[0] == dirs[1] {
			e.logger.Warn("sample does not have exactly one forward and one reverse report", "sample", sample, "reports", len(dirs))
		}
	}

	res.Forward = Aggregate(quality.Forward, res.Records, e.opts.SkewThreshold)
	res.Reverse = Aggregate(quality.Reverse, res.Records, e.opts.SkewThreshold)
	for _, st := range []Stats{res.Forward, res.Reverse} {
		if st.Count == 0 {
			e.logger.Warn("no usable cutoffs, parameter set to 0", "direction", st.Direction, "observed", st.Total)
			continue
		}
		e.logger.Info("direction aggregated", "direction", st.Direction,
			"count", st.Count, "mean", st.Mean, "median", st.Median,
			"chosen", st.Chosen, "method", st.Method)
	}
	res.Params = pipeline.Params{
		ForwardTruncLen: res.Forward.Chosen,
		ReverseTruncLen: res.Reverse.Chosen,
	}
	return res, nil
}

// Persist writes the parameter record, histogram, per-sample table and
// statistics under dir, replacing any previous run's files.
func Persist(dir string, res *Result) error {
	if err := WriteParams(filepath.Join(dir, ParamsFile), res.Params); err != nil {
		return fmt.Errorf("write parameter record: %w", err)
	}

	var hist strings.Builder
	if err := RenderHistogram(&hist, res.Forward, res.Reverse); err != nil {
		return err
	}
	if err := pipeline.WriteAtomic(filepath.Join(dir, HistogramFile), []byte(hist.String())); err != nil {
		return fmt.Errorf("write histogram: %w", err)
	}

	if err := pipeline.WriteAtomic(filepath.Join(dir, RecordsFile), recordsTSV(res.Records)); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	if err := pipeline.WriteJSON(filepath.Join(dir, StatsFile), res); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	return nil
}

func recordsTSV(records []Record) []byte {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].SampleID != sorted[j].SampleID {
			return sorted[i].SampleID < sorted[j].SampleID
		}
		return sorted[i].Direction < sorted[j].Direction
	})

	var b strings.Builder
	b.WriteString("sample\tdirection\tcutoff\n")
	for _, r := range sorted {
		fmt.Fprintf(&b, "%s\t%s\t%s\n", r.SampleID, r.Direction, r.Cutoff)
	}
	return []byte(b.String())
}
