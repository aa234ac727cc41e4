package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Builtin is a paired-end 16S rRNA pipeline driven through QIIME 2, with
// FastQC reports feeding the truncation estimate that parameterises DADA2.
const Builtin = `pipeline:
  name: 16s-paired-end
  input_root: reads
  output_root: results
  report_format: fastqc
  threshold: 20
  skew_threshold: 10
  cutoff_policy: before_drop
  strict: false
  defaults:
    timeout: 2h
    threads: 4
  vars:
    primer_f: GTGYCAGCMGCCGCGGTAA
    primer_r: GGACTACNVGGGTWTCTAAT
    classifier: classifiers/silva-138-99-515-806-nb-classifier.qza
    metadata: metadata.tsv
    sampling_depth: "1000"
  steps:
    - id: import
      command: >-
        qiime tools import
        --type 'SampleData[PairedEndSequencesWithQuality]'
        --input-path {{input_root}}/manifest.tsv
        --input-format PairedEndFastqManifestPhred33V2
        --output-path {{output_root}}/demux.qza
      artifacts:
        - "{{output_root}}/demux.qza"

    - id: trim
      command: >-
        qiime cutadapt trim-paired
        --i-demultiplexed-sequences {{output_root}}/demux.qza
        --p-front-f {{primer_f}}
        --p-front-r {{primer_r}}
        --p-cores {{threads}}
        --o-trimmed-sequences {{output_root}}/trimmed.qza
      artifacts:
        - "{{output_root}}/trimmed.qza"

    - id: quality
      command: >-
        mkdir -p {{output_root}}/fastqc &&
        fastqc --quiet --threads {{threads}} --outdir {{output_root}}/fastqc {{input_root}}/*.fastq.gz
      artifacts:
        - "{{output_root}}/fastqc"

    - id: estimate
      type: estimate
      input: "{{output_root}}/fastqc"

    - id: denoise
      needs_params: true
      timeout: 6h
      command: >-
        qiime dada2 denoise-paired
        --i-demultiplexed-seqs {{output_root}}/trimmed.qza
        --p-trunc-len-f {{forwardTruncLen}}
        --p-trunc-len-r {{reverseTruncLen}}
        --p-n-threads {{threads}}
        --o-table {{output_root}}/table.qza
        --o-representative-sequences {{output_root}}/rep-seqs.qza
        --o-denoising-stats {{output_root}}/denoising-stats.qza
      artifacts:
        - "{{output_root}}/table.qza"
        - "{{output_root}}/rep-seqs.qza"
        - "{{output_root}}/denoising-stats.qza"

    - id: taxonomy
      command: >-
        qiime feature-classifier classify-sklearn
        --i-classifier {{classifier}}
        --i-reads {{output_root}}/rep-seqs.qza
        --p-n-jobs {{threads}}
        --o-classification {{output_root}}/taxonomy.qza
      artifacts:
        - "{{output_root}}/taxonomy.qza"

    - id: phylogeny
      required: false
      command: >-
        qiime phylogeny align-to-tree-mafft-fasttree
        --i-sequences {{output_root}}/rep-seqs.qza
        --p-n-threads {{threads}}
        --o-alignment {{output_root}}/aligned-rep-seqs.qza
        --o-masked-alignment {{output_root}}/masked-aligned-rep-seqs.qza
        --o-tree {{output_root}}/unrooted-tree.qza
        --o-rooted-tree {{output_root}}/rooted-tree.qza
      artifacts:
        - "{{output_root}}/rooted-tree.qza"

    - id: diversity
      required: false
      command: >-
        qiime diversity core-metrics-phylogenetic
        --i-phylogeny {{output_root}}/rooted-tree.qza
        --i-table {{output_root}}/table.qza
        --p-sampling-depth {{sampling_depth}}
        --m-metadata-file {{metadata}}
        --output-dir {{output_root}}/core-metrics
      artifacts:
        - "{{output_root}}/core-metrics"
`

// ErrExists is returned by WriteBuiltin when the target exists and force is off.
var ErrExists = errors.New("config file already exists")

// WriteBuiltin writes the built-in pipeline to path. An existing file is
// only replaced when force is set.
func WriteBuiltin(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s: %w", path, ErrExists)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(Builtin), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
