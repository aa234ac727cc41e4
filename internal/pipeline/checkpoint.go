package pipeline

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Checkpoints decides whether a step needs to run. By default a step is done
// when every artifact it declares exists; nothing about the content is
// checked, so a stale or truncated artifact counts as done. In strict mode
// the fingerprint recorded after the step's last success must also match.
type Checkpoints struct {
	dir    string // fingerprint records, usually <output_root>/.checkpoints
	strict bool
}

// NewCheckpoints creates a checkpoint store keeping fingerprints under dir.
func NewCheckpoints(dir string, strict bool) *Checkpoints {
	return &Checkpoints{dir: dir, strict: strict}
}

// Strict reports whether fingerprints are enforced.
func (c *Checkpoints) Strict() bool {
	return c.strict
}

// ArtifactPrint is the recorded shape of one artifact. Directories aggregate
// the size and latest modification time of the files below them.
type ArtifactPrint struct {
	Path    string `json:"path"`
	Dir     bool   `json:"dir"`
	Size    int64  `json:"size"`
	Files   int    `json:"files"`
	ModTime int64  `json:"mod_time_unix_nano"`
}

type stepPrint struct {
	Step       string          `json:"step"`
	RecordedAt string          `json:"recorded_at"`
	Artifacts  []ArtifactPrint `json:"artifacts"`
}

// Missing returns the declared artifacts that do not exist.
func (c *Checkpoints) Missing(step Step) []string {
	var missing []string
	for _, a := range step.Artifacts {
		if !Exists(a) {
			missing = append(missing, a)
		}
	}
	return missing
}

// ShouldRun reports whether step must run, with a short reason. A step that
// declares no artifacts cannot be checkpointed and always runs.
func (c *Checkpoints) ShouldRun(step Step) (bool, string) {
	if len(step.Artifacts) == 0 {
		return true, "no artifacts declared"
	}
	if missing := c.Missing(step); len(missing) > 0 {
		return true, "missing " + missing[0]
	}
	if !c.strict {
		return false, "artifacts present"
	}

	var recorded stepPrint
	if err := ReadJSON(c.recordPath(step.ID), &recorded); err != nil {
		return true, "no fingerprint recorded"
	}
	byPath := make(map[string]ArtifactPrint, len(recorded.Artifacts))
	for _, ap := range recorded.Artifacts {
		byPath[ap.Path] = ap
	}
	for _, a := range step.Artifacts {
		want, ok := byPath[a]
		if !ok {
			return true, "no fingerprint for " + a
		}
		got, err := Fingerprint(a)
		if err != nil || got != want {
			return true, "artifact changed: " + a
		}
	}
	return false, "fingerprint matches"
}

// Record stores the current fingerprint of every artifact of step.
func (c *Checkpoints) Record(step Step) error {
	rec := stepPrint{
		Step:       step.ID,
		RecordedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for _, a := range step.Artifacts {
		fp, err := Fingerprint(a)
		if err != nil {
			return fmt.Errorf("fingerprint %s: %w", a, err)
		}
		rec.Artifacts = append(rec.Artifacts, fp)
	}
	return WriteJSON(c.recordPath(step.ID), rec)
}

// Forget removes the fingerprint of step.
func (c *Checkpoints) Forget(stepID string) error {
	err := os.Remove(c.recordPath(stepID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (c *Checkpoints) recordPath(stepID string) string {
	return filepath.Join(c.dir, stepID+".json")
}

// Fingerprint measures path as it is now.
func Fingerprint(path string) (ArtifactPrint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ArtifactPrint{}, err
	}
	fp := ArtifactPrint{Path: path}
	if !info.IsDir() {
		fp.Size = info.Size()
		fp.Files = 1
		fp.ModTime = info.ModTime().UnixNano()
		return fp, nil
	}

	fp.Dir = true
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		fp.Size += fi.Size()
		fp.Files++
		if mt := fi.ModTime().UnixNano(); mt > fp.ModTime {
			fp.ModTime = mt
		}
		return nil
	})
	if err != nil {
		return ArtifactPrint{}, err
	}
	return fp, nil
}

// ArtifactState describes one artifact for status displays.
type ArtifactState struct {
	Path    string
	Exists  bool
	Dir     bool
	Size    int64
	ModTime time.Time
}

// StepState summarises the checkpoint view of a step.
type StepState struct {
	Step      string
	Required  bool
	Pending   bool
	Reason    string
	Artifacts []ArtifactState
}

// Inspect returns the checkpoint view of step without changing anything.
func (c *Checkpoints) Inspect(step Step) StepState {
	pending, reason := c.ShouldRun(step)
	st := StepState{Step: step.ID, Required: step.Required, Pending: pending, Reason: reason}
	for _, a := range step.Artifacts {
		as := ArtifactState{Path: a}
		if fp, err := Fingerprint(a); err == nil {
			as.Exists = true
			as.Dir = fp.Dir
			as.Size = fp.Size
			as.ModTime = time.Unix(0, fp.ModTime)
		}
		st.Artifacts = append(st.Artifacts, as)
	}
	return st
}
