package truncation

import (
	"encoding/json"
	"fmt"

	"github.com/lucasnoah/ampliflow/internal/quality"
)

// DefaultThreshold is the mean Phred quality below which reads are truncated.
const DefaultThreshold = 20.0

// Policy chooses which position is reported when quality first drops.
type Policy int

const (
	// BeforeDrop reports the last position still at or above the threshold.
	BeforeDrop Policy = iota
	// DropPosition reports the first position below the threshold.
	DropPosition
)

func (p Policy) String() string {
	if p == DropPosition {
		return "drop"
	}
	return "before_drop"
}

// ParsePolicy accepts "before_drop" (or "") and "drop".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "before_drop":
		return BeforeDrop, nil
	case "drop":
		return DropPosition, nil
	}
	return BeforeDrop, fmt.Errorf("unknown cutoff policy %q (want before_drop or drop)", s)
}

// Cutoff is a per-sample truncation length. Available is false when the
// profile had no positions.
type Cutoff struct {
	Length    int
	Available bool
}

func (c Cutoff) String() string {
	if !c.Available {
		return "NA"
	}
	return fmt.Sprint(c.Length)
}

// MarshalJSON encodes an unavailable cutoff as null.
func (c Cutoff) MarshalJSON() ([]byte, error) {
	if !c.Available {
		return []byte("null"), nil
	}
	return json.Marshal(c.Length)
}

func (c *Cutoff) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = Cutoff{}
		return nil
	}
	if err := json.Unmarshal(b, &c.Length); err != nil {
		return err
	}
	c.Available = true
	return nil
}

// EstimateCutoff scans p in position order and returns the cutoff implied by
// the first position whose mean quality is below threshold. When no position
// drops the whole read is kept. The result is never below 1.
func EstimateCutoff(p quality.Profile, threshold float64, policy Policy) Cutoff {
	if len(p.Points) == 0 {
		return Cutoff{}
	}

	length := p.MaxPosition()
	for _, pt := range p.Points {
		if pt.Mean < threshold {
			length = pt.Position
			if policy == BeforeDrop {
				length--
			}
			break
		}
	}
	if length < 1 {
		length = 1
	}
	return Cutoff{Length: length, Available: true}
}
