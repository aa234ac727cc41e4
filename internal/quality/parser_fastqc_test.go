package quality

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleData = `##FastQC	0.11.9
>>Basic Statistics	pass
#Measure	Value
Filename	S1_L001_R1_001.fastq.gz
>>END_MODULE
>>Per base sequence quality	warn
#Base	Mean	Median	Lower Quartile	Upper Quartile	10th Percentile	90th Percentile
1	32.5	33.0	31.0	34.0	30.0	34.0
2	33.1	34.0	32.0	34.0	30.0	34.0
3	34.0	34.0	33.0	34.0	31.0	34.0
4-5	30.2	32.0	28.0	34.0	22.0	34.0
6-8	18.7	20.0	12.0	26.0	2.0	30.0
>>END_MODULE
>>Per sequence quality scores	pass
#Quality	Count
30	100
>>END_MODULE
`

func TestParseFastQCData_ExpandsGroups(t *testing.T) {
	points, err := ParseFastQCData(strings.NewReader(sampleData))
	require.NoError(t, err)
	require.Len(t, points, 8)

	for i, p := range points {
		assert.Equal(t, i+1, p.Position, "positions must be contiguous from 1")
	}
	assert.InDelta(t, 32.5, points[0].Mean, 1e-9)
	assert.InDelta(t, 30.2, points[3].Mean, 1e-9)
	assert.InDelta(t, 30.2, points[4].Mean, 1e-9)
	assert.InDelta(t, 18.7, points[7].Mean, 1e-9)
}

func TestParseFastQCData_ModuleMissing(t *testing.T) {
	data := ">>Basic Statistics\tpass\n>>END_MODULE\n"
	_, err := ParseFastQCData(strings.NewReader(data))
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func TestParseFastQCData_Unterminated(t *testing.T) {
	data := ">>Per base sequence quality\tpass\n#Base\tMean\n1\t30.0\n"
	_, err := ParseFastQCData(strings.NewReader(data))
	assert.ErrorIs(t, err, ErrModuleUnterminated)
}

func TestParseFastQCData_Gap(t *testing.T) {
	data := ">>Per base sequence quality\tpass\n#Base\tMean\n1\t30.0\n3\t30.0\n>>END_MODULE\n"
	_, err := ParseFastQCData(strings.NewReader(data))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of sequence")
}

func TestParseFastQCData_BadMean(t *testing.T) {
	data := ">>Per base sequence quality\tpass\n#Base\tMean\n1\tNaNish\n>>END_MODULE\n"
	_, err := ParseFastQCData(strings.NewReader(data))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mean quality")
}

func TestParseFastQCData_EmptyModule(t *testing.T) {
	data := ">>Per base sequence quality\tpass\n#Base\tMean\n>>END_MODULE\n"
	points, err := ParseFastQCData(strings.NewReader(data))
	require.NoError(t, err)
	assert.Empty(t, points)
}

func writeZip(t *testing.T, path, entry, content string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(entry)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestFastQCParser_Archive(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "S1_L001_R1_001_fastqc.zip")
	writeZip(t, archive, "S1_L001_R1_001_fastqc/fastqc_data.txt", sampleData)

	scratch := t.TempDir()
	p := &FastQCParser{TempDir: scratch}
	prof, err := p.Parse(DefaultNamer().Report(archive))
	require.NoError(t, err)

	assert.Equal(t, "S1_L001", prof.SampleID)
	assert.Equal(t, Forward, prof.Direction)
	assert.Equal(t, 8, prof.MaxPosition())

	leftovers, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, leftovers, "extraction workspace must be removed")
}

func TestFastQCParser_ArchiveCleanupOnFailure(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "S2_R2_fastqc.zip")
	writeZip(t, archive, "S2_R2_fastqc/fastqc_data.txt", ">>Basic Statistics\tpass\n>>END_MODULE\n")

	scratch := t.TempDir()
	p := &FastQCParser{TempDir: scratch}
	_, err := p.Parse(DefaultNamer().Report(archive))
	require.Error(t, err)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, archive, perr.Path)
	assert.ErrorIs(t, err, ErrModuleNotFound)

	leftovers, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, leftovers, "extraction workspace must be removed on failure")
}

func TestFastQCParser_ArchiveWithoutData(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "S3_R1_fastqc.zip")
	writeZip(t, archive, "S3_R1_fastqc/summary.txt", "PASS\tBasic Statistics\n")

	_, err := (&FastQCParser{}).Parse(DefaultNamer().Report(archive))
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func TestFastQCParser_MissingFile(t *testing.T) {
	_, err := (&FastQCParser{}).Parse(Report{Path: "/nonexistent/S1_R1_fastqc.zip"})
	var perr *ParseError
	assert.True(t, errors.As(err, &perr))
}

func TestFastQCParser_GzipData(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "S4_R2_fastqc")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "fastqc_data.txt.gz")

	var buf bytes.Buffer
	gw := pgzip.NewWriter(&buf)
	_, err := gw.Write([]byte(sampleData))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	prof, err := (&FastQCParser{}).Parse(DefaultNamer().Report(path))
	require.NoError(t, err)
	assert.Equal(t, "S4", prof.SampleID)
	assert.Equal(t, Reverse, prof.Direction)
	assert.Len(t, prof.Points, 8)
}

func TestFastQCParser_Accepts(t *testing.T) {
	p := &FastQCParser{}
	assert.True(t, p.Accepts("S1_R1_fastqc.zip"))
	assert.True(t, p.Accepts("fastqc_data.txt"))
	assert.True(t, p.Accepts("fastqc_data.txt.gz"))
	assert.False(t, p.Accepts("S1_R1_fastqc.html"))
	assert.False(t, p.Accepts("S1_R1.fastq.gz"))
}
