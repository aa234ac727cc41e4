package quality

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"
)

// phredOffset is the Sanger / Illumina 1.8+ quality encoding offset.
const phredOffset = 33

// FastqProfiler computes a profile straight from a FASTQ file (plain or
// gzipped) when no FastQC report is available. The mean at each position is
// taken over the reads long enough to reach it.
type FastqProfiler struct{}

func (p *FastqProfiler) Accepts(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range []string{".fastq", ".fq", ".fastq.gz", ".fq.gz"} {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

func (p *FastqProfiler) Parse(rep Report) (Profile, error) {
	prof := Profile{SampleID: rep.SampleID, Direction: rep.Direction}
	points, err := profileFastq(rep.Path)
	if err != nil {
		return prof, &ParseError{Path: rep.Path, Err: err}
	}
	prof.Points = points
	return prof, nil
}

func profileFastq(path string) ([]Point, error) {
	reader, err := fastx.NewReader(seq.DNAredundant, path, fastx.DefaultIDRegexp)
	if err != nil {
		return nil, fmt.Errorf("open fastq: %w", err)
	}
	defer reader.Close()

	var (
		sums   []float64
		counts []int
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		qual := record.Seq.Qual
		if len(qual) == 0 && len(record.Seq.Seq) > 0 {
			return nil, fmt.Errorf("record %s has no quality string", record.ID)
		}
		for len(sums) < len(qual) {
			sums = append(sums, 0)
			counts = append(counts, 0)
		}
		for i, q := range qual {
			sums[i] += float64(int(q) - phredOffset)
			counts[i]++
		}
	}

	points := make([]Point, len(sums))
	for i := range sums {
		points[i] = Point{Position: i + 1, Mean: sums[i] / float64(counts[i])}
	}
	return points, nil
}
