package quality

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/pgzip"
)

const (
	fastqcDataFile = "fastqc_data.txt"
	moduleStart    = ">>Per base sequence quality"
	moduleEnd      = ">>END_MODULE"
)

// FastQCParser reads the "Per base sequence quality" module of a FastQC
// report. It accepts the *_fastqc.zip archive FastQC writes, an extracted
// fastqc_data.txt, or a gzip-compressed fastqc_data.txt.gz.
type FastQCParser struct {
	// TempDir is where archives are extracted; "" uses os.TempDir.
	TempDir string
}

func (p *FastQCParser) Accepts(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, "_fastqc.zip") ||
		lower == fastqcDataFile ||
		lower == fastqcDataFile+".gz"
}

func (p *FastQCParser) Parse(rep Report) (Profile, error) {
	prof := Profile{SampleID: rep.SampleID, Direction: rep.Direction}

	var (
		points []Point
		err    error
	)
	switch {
	case strings.HasSuffix(strings.ToLower(rep.Path), ".zip"):
		points, err = p.parseArchive(rep.Path)
	case strings.HasSuffix(strings.ToLower(rep.Path), ".gz"):
		points, err = parseGzipFile(rep.Path)
	default:
		points, err = parseTextFile(rep.Path)
	}
	if err != nil {
		return prof, &ParseError{Path: rep.Path, Err: err}
	}
	prof.Points = points
	return prof, nil
}

// parseArchive extracts fastqc_data.txt into a scratch directory and parses
// it. The scratch directory is removed on every return path.
func (p *FastQCParser) parseArchive(archive string) ([]Point, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	var entry *zip.File
	for _, f := range zr.File {
		if path.Base(f.Name) == fastqcDataFile {
			entry = f
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("%s not in archive: %w", fastqcDataFile, ErrModuleNotFound)
	}

	scratch, err := os.MkdirTemp(p.TempDir, "ampliflow-fastqc-*")
	if err != nil {
		return nil, fmt.Errorf("create extraction dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	extracted := filepath.Join(scratch, fastqcDataFile)
	if err := extractEntry(entry, extracted); err != nil {
		return nil, err
	}
	return parseTextFile(extracted)
}

func extractEntry(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}

func parseTextFile(path string) ([]Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseFastQCData(f)
}

func parseGzipFile(path string) ([]Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gr, err := pgzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer gr.Close()
	return ParseFastQCData(gr)
}

// ParseFastQCData extracts the per-base mean quality rows from FastQC
// fastqc_data.txt content. Grouped rows such as "10-14" are expanded so every
// position in the group carries the group's mean.
func ParseFastQCData(r io.Reader) ([]Point, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		points   []Point
		inModule bool
		closed   bool
		next     = 1
		lineNo   int
	)
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if !inModule {
			if strings.HasPrefix(line, moduleStart) {
				inModule = true
			}
			continue
		}
		if strings.HasPrefix(line, moduleEnd) {
			closed = true
			break
		}
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: expected position and mean columns, got %q", lineNo, line)
		}
		lo, hi, err := parseBase(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if lo != next {
			return nil, fmt.Errorf("line %d: position %d out of sequence (expected %d)", lineNo, lo, next)
		}
		mean, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: mean quality %q: %w", lineNo, fields[1], err)
		}
		for pos := lo; pos <= hi; pos++ {
			points = append(points, Point{Position: pos, Mean: mean})
		}
		next = hi + 1
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	if !inModule {
		return nil, ErrModuleNotFound
	}
	if !closed {
		return nil, ErrModuleUnterminated
	}
	return points, nil
}

// parseBase parses a FastQC base column: "7" or "10-14".
func parseBase(s string) (int, int, error) {
	loStr, hiStr, grouped := strings.Cut(s, "-")
	lo, err := strconv.Atoi(loStr)
	if err != nil {
		return 0, 0, fmt.Errorf("position %q: %w", s, err)
	}
	hi := lo
	if grouped {
		hi, err = strconv.Atoi(hiStr)
		if err != nil {
			return 0, 0, fmt.Errorf("position %q: %w", s, err)
		}
	}
	if lo < 1 || hi < lo {
		return 0, 0, fmt.Errorf("position %q: invalid range", s)
	}
	return lo, hi, nil
}
